package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/marquee/internal/config"
)

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]string{"debug": "DEBUG", "info": "INFO", "warn": "WARN", "error": "ERROR"} {
		l, err := ParseLevel(name)
		require.NoError(t, err)
		assert.Equal(t, want, l.String())
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestAutoFormatIsJSONOffTerminal(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := New(config.Logging{Level: "info", Format: "auto"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	log.Info("opened", "source", "a.ts")
	log.Debug("hidden")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "opened", rec["msg"])
	assert.Equal(t, "a.ts", rec["source"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := New(config.Logging{Level: "debug", Format: "text"}, &buf)
	require.NoError(t, err)
	log.With("component", "engine").Debug("tick")
	assert.Contains(t, buf.String(), "component=engine")
	assert.Contains(t, buf.String(), "msg=tick")
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "marquee.log")
	var console bytes.Buffer
	log, closer, err := New(config.Logging{Level: "info", Format: "text", File: path, MaxSizeMB: 1}, &console)
	require.NoError(t, err)

	log.Warn("stalled", "retry", 2)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"msg":"stalled"`))
	assert.Contains(t, console.String(), "msg=stalled")
}
