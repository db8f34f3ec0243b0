package teleop

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionConfigFile_Missing(t *testing.T) {
	f := NewConnectionConfigFile(filepath.Join(t.TempDir(), "server-config.json"))

	cfg, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, ConnectionConfig{}, cfg)
	assert.Equal(t, "ws://fallback", f.BridgeAddress("ws://fallback"))
}

func TestConnectionConfigFile_SaveReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server-config.json")
	f := NewConnectionConfigFile(path)

	require.NoError(t, f.Save(ConnectionConfig{IP: "ws://10.0.0.5:8080"}))
	require.NoError(t, f.Save(ConnectionConfig{IP: "ws://10.0.0.6:8080"}))

	cfg, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, "ws://10.0.0.6:8080", cfg.IP)
	assert.Equal(t, "ws://10.0.0.6:8080", f.BridgeAddress("ws://fallback"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ip":"ws://10.0.0.6:8080"}`, string(data))
}

func TestConnectionConfigFile_EmptyAndCorrupt(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0644))
	cfg, err := NewConnectionConfigFile(empty).Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.IP)

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{ip:"), 0644))
	f := NewConnectionConfigFile(corrupt)
	cfg, err = f.Load()
	assert.Error(t, err)
	assert.Empty(t, cfg.IP)
	assert.Equal(t, "ws://fallback", f.BridgeAddress("ws://fallback"))
}

func TestConnectionConfigFile_DefaultPath(t *testing.T) {
	assert.Equal(t, DefaultConnectionConfigPath, NewConnectionConfigFile("").Path())
}

func TestOpenConnectionConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ip.json")
	file, ok := OpenConnectionConfig(path).(*ConnectionConfigFile)
	require.True(t, ok)
	assert.Equal(t, path, file.Path())

	remote, ok := OpenConnectionConfig("http://console.local:8080/api/ipconfig").(*RemoteConnectionConfig)
	require.True(t, ok)
	assert.Equal(t, "http://console.local:8080/api/ipconfig", remote.URL())

	_, ok = OpenConnectionConfig("https://console.local/api/ipconfig").(*RemoteConnectionConfig)
	assert.True(t, ok)
}

func TestStoredBridgeAddress_NilStore(t *testing.T) {
	assert.Equal(t, "ws://fallback", StoredBridgeAddress(nil, "ws://fallback"))
}
