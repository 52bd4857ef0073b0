package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/artpar/octahe/internal/engine"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Run     RunConfig     `mapstructure:"run"`
	SSH     SSHConfig     `mapstructure:"ssh"`
	Serial  SerialConfig  `mapstructure:"serial"`
	From    FromConfig    `mapstructure:"from"`
	History HistoryConfig `mapstructure:"history"`
	WorkDir string        `mapstructure:"work_dir"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RunConfig holds the settings of a deploy or undeploy run.
type RunConfig struct {
	ConnectionQuota  int    `mapstructure:"connection_quota"`
	DryRun           bool   `mapstructure:"dry_run"`
	Escalate         string `mapstructure:"escalate"`
	EscalatePassword string `mapstructure:"escalate_password"`
	ConnectionKey    string `mapstructure:"connection_key"`
	Output           string `mapstructure:"output"`
}

// SSHConfig holds SSH transport timeouts.
type SSHConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

// SerialConfig holds serial console settings.
type SerialConfig struct {
	BaudRate int `mapstructure:"baud_rate"`
}

// FromConfig controls base image expansion for FROM.
type FromConfig struct {
	// Enabled resolves FROM images through the Docker daemon, pulling
	// images that are not present locally. When false, or when the daemon
	// is unreachable, FROM directives only contribute their name.
	Enabled    bool   `mapstructure:"enabled"`
	DockerHost string `mapstructure:"docker_host"`
}

// HistoryConfig holds run history persistence.
type HistoryConfig struct {
	// DSN of the SQLite database. Empty disables history.
	DSN string `mapstructure:"dsn"`

	// Keep is the number of runs retained. Zero keeps everything.
	Keep int `mapstructure:"keep"`
}

var (
	ErrInvalidQuota  = errors.New("connection quota must be at least 1")
	ErrInvalidOutput = errors.New("output must be text, json or yaml")
)

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Run.ConnectionQuota < 1 {
		return ErrInvalidQuota
	}
	switch c.Run.Output {
	case engine.FormatText, engine.FormatJSON, engine.FormatYAML:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOutput, c.Run.Output)
	}
	return nil
}

// =============================================================================
// Config Loading
// =============================================================================

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"connection-quota": "run.connection_quota",
	"dry-run":          "run.dry_run",
	"escalate":         "run.escalate",
	"escalate-pw":      "run.escalate_password",
	"connection-key":   "run.connection_key",
	"output":           "run.output",
	"work-dir":         "work_dir",
}

// LoadConfig loads configuration from file, environment and flags.
// flags may be nil.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("run.connection_quota", 1)
	v.SetDefault("run.dry_run", false)
	v.SetDefault("run.escalate", "")
	v.SetDefault("run.escalate_password", "")
	v.SetDefault("run.connection_key", "")
	v.SetDefault("run.output", engine.FormatText)
	v.SetDefault("ssh.connect_timeout", "10s")
	v.SetDefault("ssh.command_timeout", "0s")
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("from.enabled", true)
	v.SetDefault("from.docker_host", "")
	v.SetDefault("history.dsn", "")
	v.SetDefault("history.keep", 100)
	v.SetDefault("work_dir", filepath.Join(os.TempDir(), "octahe"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("OCTAHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Run.Output = strings.ToLower(strings.TrimSpace(cfg.Run.Output))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
// Logs go to w so that stdout carries only progress and reports.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
