package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the runtime configuration for the proctoring client.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Session  SessionConfig  `mapstructure:"session"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Evidence EvidenceConfig `mapstructure:"evidence"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig points at the exam backend.
type ServerConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AuthConfig controls where the bearer token is persisted.
type AuthConfig struct {
	TokenFile string `mapstructure:"token_file"`
}

// CaptureConfig selects the frame source and the tick period.
type CaptureConfig struct {
	Source         string        `mapstructure:"source"` // "dir" or "snapshot"
	Dir            string        `mapstructure:"dir"`
	SnapshotURL    string        `mapstructure:"snapshot_url"`
	Interval       time.Duration `mapstructure:"interval"`
	Policy         string        `mapstructure:"policy"` // "skip" or "overlap"
	AnalysisWidth  int           `mapstructure:"analysis_width"`
	AnalysisHeight int           `mapstructure:"analysis_height"`
}

// SessionConfig bounds a test session.
type SessionConfig struct {
	Duration time.Duration `mapstructure:"duration"` // 0 runs until ended
}

// MonitorConfig configures the local status server. Empty Addr disables it.
type MonitorConfig struct {
	Addr           string        `mapstructure:"addr"`
	StatusInterval time.Duration `mapstructure:"status_interval"`
}

// JournalConfig configures the local SQLite journal. Empty Path disables it.
type JournalConfig struct {
	Path string `mapstructure:"path"`
}

// EvidenceConfig configures where suspicious frames are kept. Empty Dir disables it.
type EvidenceConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoggingConfig holds settings for the logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Color      bool   `mapstructure:"color"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a config aligned with the reference web client behavior.
func Default() Config {
	return Config{
		Server: ServerConfig{
			BaseURL: "http://localhost:5000",
			Timeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			TokenFile: defaultTokenFile(),
		},
		Capture: CaptureConfig{
			Source:         "dir",
			Dir:            "./frames",
			Interval:       5 * time.Second,
			Policy:         "skip",
			AnalysisWidth:  640,
			AnalysisHeight: 480,
		},
		Monitor: MonitorConfig{
			StatusInterval: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Color:      true,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
	}
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "proctor", "token.json")
}

// SetDefaults registers Default() on v so env vars and files only override.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.base_url", d.Server.BaseURL)
	v.SetDefault("server.timeout", d.Server.Timeout)
	v.SetDefault("auth.token_file", d.Auth.TokenFile)
	v.SetDefault("capture.source", d.Capture.Source)
	v.SetDefault("capture.dir", d.Capture.Dir)
	v.SetDefault("capture.snapshot_url", d.Capture.SnapshotURL)
	v.SetDefault("capture.interval", d.Capture.Interval)
	v.SetDefault("capture.policy", d.Capture.Policy)
	v.SetDefault("capture.analysis_width", d.Capture.AnalysisWidth)
	v.SetDefault("capture.analysis_height", d.Capture.AnalysisHeight)
	v.SetDefault("session.duration", d.Session.Duration)
	v.SetDefault("monitor.addr", d.Monitor.Addr)
	v.SetDefault("monitor.status_interval", d.Monitor.StatusInterval)
	v.SetDefault("journal.path", d.Journal.Path)
	v.SetDefault("evidence.dir", d.Evidence.Dir)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.color", d.Logging.Color)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)
}

// Load reads configuration into a Config. When file is empty a "proctor.yaml" is
// looked up in the working directory; a missing file is not an error.
func Load(v *viper.Viper, file string) (Config, error) {
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("proctor")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("PROCTOR") // e.g., PROCTOR_SERVER_BASE_URL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields the session engine cannot run without.
func (c Config) Validate() error {
	if c.Server.BaseURL == "" {
		return errors.New("server.base_url is required")
	}
	if c.Capture.Interval <= 0 {
		return fmt.Errorf("capture.interval must be positive, got %s", c.Capture.Interval)
	}
	switch c.Capture.Policy {
	case "skip", "overlap":
	default:
		return fmt.Errorf("capture.policy must be skip or overlap, got %q", c.Capture.Policy)
	}
	switch c.Capture.Source {
	case "dir":
		if c.Capture.Dir == "" {
			return errors.New("capture.dir is required for the dir source")
		}
	case "snapshot":
		if c.Capture.SnapshotURL == "" {
			return errors.New("capture.snapshot_url is required for the snapshot source")
		}
	default:
		return fmt.Errorf("capture.source must be dir or snapshot, got %q", c.Capture.Source)
	}
	if c.Capture.AnalysisWidth <= 0 || c.Capture.AnalysisHeight <= 0 {
		return errors.New("capture.analysis_width and capture.analysis_height must be positive")
	}
	if c.Session.Duration < 0 {
		return errors.New("session.duration must not be negative")
	}
	return nil
}
