package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OCTAHE_LOG_LEVEL", "OCTAHE_LOG_FORMAT", "OCTAHE_RUN_CONNECTION_QUOTA",
		"OCTAHE_RUN_DRY_RUN", "OCTAHE_RUN_OUTPUT", "OCTAHE_HISTORY_DSN", "OCTAHE_WORK_DIR",
		"OCTAHE_FROM_ENABLED", "OCTAHE_FROM_DOCKER_HOST", "OCTAHE_SSH_CONNECT_TIMEOUT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 1, cfg.Run.ConnectionQuota)
	assert.False(t, cfg.Run.DryRun)
	assert.Equal(t, "text", cfg.Run.Output)
	assert.Equal(t, 10*time.Second, cfg.SSH.ConnectTimeout)
	assert.Zero(t, cfg.SSH.CommandTimeout)
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.True(t, cfg.From.Enabled)
	assert.Empty(t, cfg.History.DSN)
	assert.Equal(t, 100, cfg.History.Keep)
	assert.Equal(t, filepath.Join(os.TempDir(), "octahe"), cfg.WorkDir)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
log:
  level: "debug"
  format: "json"
run:
  connection_quota: 4
  escalate: "sudo"
  output: "yaml"
ssh:
  connect_timeout: 3s
  command_timeout: 5m
from:
  enabled: false
history:
  dsn: "/tmp/octahe-history.db"
  keep: 10
`
	tmpFile := filepath.Join(t.TempDir(), "octahe.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile, nil)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 4, cfg.Run.ConnectionQuota)
	assert.Equal(t, "sudo", cfg.Run.Escalate)
	assert.Equal(t, "yaml", cfg.Run.Output)
	assert.Equal(t, 3*time.Second, cfg.SSH.ConnectTimeout)
	assert.Equal(t, 5*time.Minute, cfg.SSH.CommandTimeout)
	assert.False(t, cfg.From.Enabled)
	assert.Equal(t, "/tmp/octahe-history.db", cfg.History.DSN)
	assert.Equal(t, 10, cfg.History.Keep)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	clearEnv(t)

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("OCTAHE_LOG_LEVEL", "warn")
	t.Setenv("OCTAHE_RUN_CONNECTION_QUOTA", "8")
	t.Setenv("OCTAHE_RUN_DRY_RUN", "true")
	t.Setenv("OCTAHE_HISTORY_DSN", "/var/lib/octahe/history.db")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 8, cfg.Run.ConnectionQuota)
	assert.True(t, cfg.Run.DryRun)
	assert.Equal(t, "/var/lib/octahe/history.db", cfg.History.DSN)
}

func TestLoadConfig_FlagsOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("OCTAHE_RUN_CONNECTION_QUOTA", "8")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.IntP("connection-quota", "c", 1, "")
	flags.String("output", "text", "")
	require.NoError(t, flags.Parse([]string{"-c", "3", "--output", "JSON"}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Run.ConnectionQuota)
	assert.Equal(t, "json", cfg.Run.Output)
}

func TestLoadConfig_Invalid(t *testing.T) {
	clearEnv(t)

	t.Run("quota", func(t *testing.T) {
		t.Setenv("OCTAHE_RUN_CONNECTION_QUOTA", "0")
		_, err := LoadConfig("", nil)
		assert.ErrorIs(t, err, ErrInvalidQuota)
	})

	t.Run("output", func(t *testing.T) {
		t.Setenv("OCTAHE_RUN_OUTPUT", "xml")
		_, err := LoadConfig("", nil)
		assert.ErrorIs(t, err, ErrInvalidOutput)
	})
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := SetupLogger(&Config{Log: LogConfig{Level: "warn", Format: "json"}}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"key":"value"`)

	buf.Reset()
	logger = SetupLogger(&Config{Log: LogConfig{Level: "debug", Format: "text"}}, &buf)
	logger.Debug("detail")
	assert.Contains(t, buf.String(), "msg=detail")
}
