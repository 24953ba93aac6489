package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Second, cfg.Capture.Interval)
	assert.Equal(t, "skip", cfg.Capture.Policy)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proctor.yaml")
	yaml := []byte(`
server:
  base_url: "http://exam.local:5000"
capture:
  source: snapshot
  snapshot_url: "http://cam.local/snapshot.jpg"
  interval: 2s
  policy: overlap
session:
  duration: 45m
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o644))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "http://exam.local:5000", cfg.Server.BaseURL)
	assert.Equal(t, "snapshot", cfg.Capture.Source)
	assert.Equal(t, 2*time.Second, cfg.Capture.Interval)
	assert.Equal(t, "overlap", cfg.Capture.Policy)
	assert.Equal(t, 45*time.Minute, cfg.Session.Duration)
	// untouched keys keep their defaults
	assert.Equal(t, 640, cfg.Capture.AnalysisWidth)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PROCTOR_SERVER_BASE_URL", "http://env.local")
	t.Chdir(t.TempDir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "http://env.local", cfg.Server.BaseURL)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no base url", func(c *Config) { c.Server.BaseURL = "" }},
		{"zero interval", func(c *Config) { c.Capture.Interval = 0 }},
		{"bad policy", func(c *Config) { c.Capture.Policy = "queue" }},
		{"bad source", func(c *Config) { c.Capture.Source = "usb" }},
		{"snapshot without url", func(c *Config) { c.Capture.Source = "snapshot" }},
		{"negative duration", func(c *Config) { c.Session.Duration = -time.Second }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
