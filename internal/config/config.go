// Package config holds the process-wide library configuration: engine
// tunables, decoder and network defaults, the seek-index cache location and
// logging. The CLI loads it from a TOML file and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration written as a Go duration string in TOML.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Behavior values for what happens after open and at the end of media.
const (
	BehaviorPlay  = "play"
	BehaviorPause = "pause"
)

// Engine contains playback tunables.
type Engine struct {
	// Buffering starts when the master component has less than LowWater
	// of decoded media ahead of the clock and ends at HighWater.
	LowWater  Duration `toml:"low_water"`
	HighWater Duration `toml:"high_water"`
	// PrimeThreshold is how much master media must be decoded after open
	// or seek before rendering resumes.
	PrimeThreshold Duration `toml:"prime_threshold"`

	VideoBufferCapacity    Duration `toml:"video_buffer_capacity"`
	AudioBufferCapacity    Duration `toml:"audio_buffer_capacity"`
	SubtitleBufferCapacity Duration `toml:"subtitle_buffer_capacity"`
	VideoReorderDepth      int      `toml:"video_reorder_depth"`
	MaxConsecutiveErrors   int      `toml:"max_consecutive_errors"`

	StallRetryInitial Duration `toml:"stall_retry_initial"`
	StallRetryMax     Duration `toml:"stall_retry_max"`
	MaxReadRetries    int      `toml:"max_read_retries"`

	RenderInterval    Duration `toml:"render_interval"`
	PositionInterval  Duration `toml:"position_interval"`
	AudioDriftSamples int      `toml:"audio_drift_samples"`

	LoadedBehavior   string `toml:"loaded_behavior"`
	LoopingBehavior  string `toml:"looping_behavior"`
	ScrubbingEnabled bool   `toml:"scrubbing_enabled"`
}

// Decoder contains decoder selection defaults.
type Decoder struct {
	PreferHardware bool     `toml:"prefer_hardware"`
	CaptionChannel int      `toml:"caption_channel"`
	CueDuration    Duration `toml:"cue_duration"`
}

// Network contains defaults for network sources.
type Network struct {
	Timeout      Duration `toml:"timeout"`
	StallTimeout Duration `toml:"stall_timeout"`
	HTTP3        bool     `toml:"http3"`
	UserAgent    string   `toml:"user_agent"`
	SRTLatency   Duration `toml:"srt_latency"`
	// CAFile is a PEM bundle trusted in addition to the system roots.
	CAFile string `toml:"ca_file"`
}

// Cache contains seek-index persistence settings.
type Cache struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Logging contains log output settings.
type Logging struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Config is the complete library configuration.
type Config struct {
	Engine  Engine  `toml:"engine"`
	Decoder Decoder `toml:"decoder"`
	Network Network `toml:"network"`
	Cache   Cache   `toml:"cache"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/marquee/config.toml")
}

// Load reads the configuration at path over the defaults, applies
// environment overrides and validates the result. A missing file is not an
// error; exists reports whether one was read. An empty path uses
// DefaultConfigPath.
func Load(path string) (cfg *Config, resolved string, exists bool, err error) {
	c := Default()
	if path == "" {
		if path, err = DefaultConfigPath(); err != nil {
			return nil, "", false, err
		}
	}
	if resolved, err = expandPath(path); err != nil {
		return nil, "", false, err
	}

	f, err := os.Open(resolved)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, "", false, fmt.Errorf("open config: %w", err)
	default:
		defer f.Close()
		exists = true
		if err := toml.NewDecoder(f).DisallowUnknownFields().Decode(&c); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	}

	c.ApplyEnv()
	if err := c.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := c.Validate(); err != nil {
		return nil, "", false, err
	}
	return &c, resolved, exists, nil
}

// Encode renders c as TOML.
func (c Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile writes the default configuration to path unless a file exists.
func WriteFile(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config already exists at %s", expanded)
	}
	data, err := Default().Encode()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(expanded, data, 0o644)
}

func (c *Config) normalize() error {
	c.Engine.LoadedBehavior = strings.ToLower(strings.TrimSpace(c.Engine.LoadedBehavior))
	c.Engine.LoopingBehavior = strings.ToLower(strings.TrimSpace(c.Engine.LoopingBehavior))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))

	var err error
	if c.Cache.Path, err = expandPath(c.Cache.Path); err != nil {
		return err
	}
	if c.Logging.File, err = expandPath(c.Logging.File); err != nil {
		return err
	}
	if c.Network.CAFile, err = expandPath(c.Network.CAFile); err != nil {
		return err
	}
	return nil
}

// ExpandPath resolves a leading ~ and makes p absolute. Empty stays empty.
func ExpandPath(p string) (string, error) { return expandPath(p) }

func expandPath(p string) (string, error) {
	if p == "" {
		return p, nil
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if p == "~" {
			p = home
		} else if len(p) > 1 && (p[1] == '/' || p[1] == '\\') {
			p = filepath.Join(home, p[2:])
		}
	}
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", p, err)
	}
	return abs, nil
}
