package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "flywheel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "database:\n  url: postgres://localhost/flywheel\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, DefaultEventBus, cfg.Events.Bus)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultSweepBatch, cfg.Sweep.Batch)
	assert.Equal(t, "log", cfg.Mailer.Provider)
	assert.Equal(t, "postgres://localhost/flywheel", cfg.Database.URL)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 3000\nlog_level: warn\n")

	t.Setenv("PORT", "4000")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadKafkaRequiresBrokers(t *testing.T) {
	path := writeConfig(t, "events:\n  bus: kafka\n")

	t.Setenv("KAFKA_BROKERS", "")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka_brokers")
}

func TestLoadUnknownMailerProvider(t *testing.T) {
	path := writeConfig(t, "mailer:\n  provider: carrier-pigeon\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mailer provider")
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, DefaultEventBus, cfg.Events.Bus)
}
