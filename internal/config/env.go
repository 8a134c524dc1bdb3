package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv reads KEY=value pairs from the given files (".env" when none)
// into the process environment without overriding variables already set.
// Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}

// ApplyEnv overrides settings from MARQUEE_* environment variables.
func (c *Config) ApplyEnv() {
	c.Logging.Level = envOr("MARQUEE_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = envOr("MARQUEE_LOG_FORMAT", c.Logging.Format)
	c.Logging.File = envOr("MARQUEE_LOG_FILE", c.Logging.File)
	c.Cache.Path = envOr("MARQUEE_CACHE_PATH", c.Cache.Path)
	c.Cache.Enabled = envBool("MARQUEE_CACHE", c.Cache.Enabled)
	c.Decoder.PreferHardware = envBool("MARQUEE_PREFER_HARDWARE", c.Decoder.PreferHardware)
	c.Network.HTTP3 = envBool("MARQUEE_HTTP3", c.Network.HTTP3)
	c.Network.StallTimeout = envDuration("MARQUEE_STALL_TIMEOUT", c.Network.StallTimeout)
	c.Network.UserAgent = envOr("MARQUEE_USER_AGENT", c.Network.UserAgent)
	c.Network.CAFile = envOr("MARQUEE_CA_FILE", c.Network.CAFile)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return fallback
}

func envDuration(key string, fallback Duration) Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return Duration(d)
	}
	return fallback
}
