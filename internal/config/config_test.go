package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `{"tcp_port": 9000}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint16(9000), cfg.TcpPort)
	assert.Equal(t, 256, cfg.TcpBufferSize)
	assert.Equal(t, 64*1024, cfg.TcpBatchMaxBytes)
	assert.Equal(t, 20*60, cfg.CacheTTLSeconds)
	assert.Equal(t, "sqlite", cfg.FilterStoreDriver)
}

func TestLoadRejectsZeroPort(t *testing.T) {
	path := writeConfigFile(t, `{}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownFilterStoreDriver(t *testing.T) {
	path := writeConfigFile(t, `{"tcp_port": 9000, "filter_store_driver": "mongo"}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestEnvOverridesPort(t *testing.T) {
	path := writeConfigFile(t, `{"tcp_port": 9000}`)
	t.Setenv("GEYSER_TCP_PORT", "9100")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint16(9100), cfg.TcpPort)
}
