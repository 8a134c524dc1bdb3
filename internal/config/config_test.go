package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLibrary() {
	libMu.Lock()
	libCfg = nil
	libFrozen = false
	libMu.Unlock()
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.normalize())
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")
	cfg, resolved, exists, err := Load(path)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, path, resolved)
	assert.Equal(t, Default().Engine, cfg.Engine)
}

func TestLoadOverridesAndDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[engine]
low_water = "250ms"
high_water = "1s"
loaded_behavior = "Play"

[decoder]
caption_channel = 7

[logging]
level = "debug"
`), 0o644))

	cfg, _, exists, err := Load(path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.LowWater.D())
	assert.Equal(t, time.Second, cfg.Engine.HighWater.D())
	assert.Equal(t, BehaviorPlay, cfg.Engine.LoadedBehavior)
	assert.Equal(t, 7, cfg.Decoder.CaptionChannel)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, filepath.IsAbs(cfg.Cache.Path))
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[engine]\nlow_watr = \"1s\"\n"), 0o644))
	_, _, _, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"high below low", func(c *Config) { c.Engine.HighWater = Duration(100 * time.Millisecond) }, "high_water"},
		{"bad behavior", func(c *Config) { c.Engine.LoopingBehavior = "rewind" }, "looping_behavior"},
		{"bad caption channel", func(c *Config) { c.Decoder.CaptionChannel = 5 }, "caption_channel"},
		{"zero errors", func(c *Config) { c.Engine.MaxConsecutiveErrors = 0 }, "max_consecutive_errors"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"small buffer", func(c *Config) { c.Engine.AudioBufferCapacity = Duration(time.Second) }, "capacities"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	data, err := Default().Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), "low_water")
	assert.Contains(t, string(data), "500ms")

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	cfg, _, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Engine, cfg.Engine)
}

func TestWriteFileRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	require.NoError(t, WriteFile(path))
	err := WriteFile(path)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "already exists"))
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("MARQUEE_LOG_LEVEL", "warn")
	t.Setenv("MARQUEE_HTTP3", "true")
	t.Setenv("MARQUEE_STALL_TIMEOUT", "750ms")
	t.Setenv("MARQUEE_CACHE", "not-a-bool")

	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Network.HTTP3)
	assert.Equal(t, 750*time.Millisecond, cfg.Network.StallTimeout.D())
	assert.True(t, cfg.Cache.Enabled, "unparsable values keep the default")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("MARQUEE_TEST_DOTENV=from-file\nMARQUEE_TEST_KEEP=file\n"), 0o644))
	t.Setenv("MARQUEE_TEST_KEEP", "process")
	t.Setenv("MARQUEE_TEST_DOTENV", "")
	os.Unsetenv("MARQUEE_TEST_DOTENV")

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("MARQUEE_TEST_DOTENV"))
	assert.Equal(t, "process", os.Getenv("MARQUEE_TEST_KEEP"))
}

func TestLibraryInitOnce(t *testing.T) {
	resetLibrary()
	t.Cleanup(resetLibrary)

	cfg := Default()
	cfg.Engine.ScrubbingEnabled = true
	require.NoError(t, Init(cfg))
	assert.ErrorIs(t, Init(Default()), ErrAlreadyInitialized)
	assert.True(t, Library().Engine.ScrubbingEnabled)
}

func TestLibraryFreezesDefaults(t *testing.T) {
	resetLibrary()
	t.Cleanup(resetLibrary)

	assert.Equal(t, Default(), Library())
	assert.ErrorIs(t, Init(Default()), ErrAlreadyInitialized)
}
