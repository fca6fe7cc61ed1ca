package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keva.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":6379", cfg.Server.Addr)
	assert.Equal(t, 10000, cfg.Server.MaxClients)
	assert.Equal(t, 60*time.Second, cfg.Store.SweepInterval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Web.Enabled)
	assert.Equal(t, ":8080", cfg.Web.Addr)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  addr: ":7000"
store:
  sweep_interval: 5s
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Store.SweepInterval)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Fields absent from the file keep their defaults.
	assert.Equal(t, 10000, cfg.Server.MaxClients)
	assert.True(t, cfg.Web.Enabled)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  addr: ":7000"
`)
	t.Setenv("KEVA_SERVER_ADDR", ":9000")
	t.Setenv("KEVA_SERVER_MAX_CLIENTS", "42")
	t.Setenv("KEVA_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 42, cfg.Server.MaxClients)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeConfigFile(t, "server: [not a mapping")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("APP_SERVER_ADDR", ":5555")
	t.Setenv("KEVA_SERVER_ADDR", ":6666")

	cfg := Default()
	err := NewLoader(WithFile(""), WithEnvPrefix("APP_")).Load(cfg)
	require.NoError(t, err)

	assert.Equal(t, ":5555", cfg.Server.Addr)
}

func TestLoader_NoLayers(t *testing.T) {
	cfg := Default()
	err := NewLoader(WithFile(""), WithEnvPrefix("")).Load(cfg)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
