package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.Server.Database.Driver)
	assert.Equal(t, 8080, cfg.Server.HTTP.Port)
	assert.Equal(t, DefaultBaudRates, cfg.Agent.Scanner.BaudRates)
	assert.True(t, cfg.Agent.AutoHangup.Enabled)
	assert.Equal(t, 200, cfg.Agent.AutoHangup.HangupDelayMs)
	assert.Equal(t, 5000, cfg.Agent.AutoHangup.CooldownMs)
}

func TestLoadConfigFillsZeroValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  database:
    dsn: "./x.db"
agent:
  server_url: "ws://example:9000/hub/agent"
  device_id: "D1"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.Server.Database.Driver)
	assert.Equal(t, 60, cfg.Server.JWT.ExpireMinutes)
	assert.Equal(t, "badger", cfg.Server.TokenStore.Backend)
	assert.Equal(t, "D1", cfg.Agent.DeviceID)
	assert.Equal(t, DefaultBaudRates, cfg.Agent.Scanner.BaudRates)
	assert.Equal(t, "info", cfg.ServerLogging.Level)
	assert.True(t, cfg.ServerLogging.Console)
}

func TestLoadConfigRejectsBadDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  database:
    driver: "oracle"
    dsn: "x"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "database.driver")
}

func TestLoadConfigRejectsRedisWithoutAddr(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  database:
    dsn: "x"
  token_store:
    backend: "redis"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "token_store.addr")
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		Server:        DefaultServerConfig(),
		Agent:         DefaultAgentConfig(),
		ServerLogging: DefaultLoggingConfig(),
		AgentLogging:  DefaultLoggingConfig(),
	}
	cfg.Agent.AutoHangup.Whitelist = []string{"555", "800"}

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	got, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Agent.AutoHangup.Whitelist, got.Agent.AutoHangup.Whitelist)
	assert.Equal(t, cfg.Server.Database.DSN, got.Server.Database.DSN)
}

func TestCreateExampleConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, CreateExampleConfig(dir))
	if _, err := os.Stat(filepath.Join(dir, "config.example.yaml")); err != nil {
		t.Fatalf("example config not written: %v", err)
	}
}
