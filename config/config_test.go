package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/host"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("test", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	assert.Equal(t, 5242880, cfg.Capacity)
	assert.Equal(t, 30*time.Second, cfg.BridgeTimeout)
	assert.Equal(t, 10*time.Second, cfg.StoreOpTimeout)
	assert.Equal(t, "127.0.0.1:9650", cfg.Listen)
	assert.Equal(t, host.AbsentEmpty, cfg.Absent)
	assert.Zero(t, cfg.MemoryLimitPages)
}

func TestLoad_Flags(t *testing.T) {
	cfg, err := Load("test", []string{
		"--store-backend=memory",
		"--capacity=1024",
		"--bridge-timeout=2s",
		"--absent=error",
		"--memory-limit-pages=32",
		"--listen=:8080",
	})
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 1024, cfg.Capacity)
	assert.Equal(t, 2*time.Second, cfg.BridgeTimeout)
	assert.Equal(t, host.AbsentError, cfg.Absent)
	assert.Equal(t, uint32(32), cfg.MemoryLimitPages)
	assert.Equal(t, ":8080", cfg.Listen)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("BRIDGE_STORE_PATH", "/var/lib/bridge")
	t.Setenv("BRIDGE_CONCURRENCY", "4")

	cfg, err := Load("test", nil)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/bridge", cfg.StorePath)
	assert.Equal(t, 4, cfg.Concurrency)

	cfg, err = Load("test", []string{"--concurrency=8"})
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Concurrency, "flags win over the environment")
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store-backend: memory\ncapacity: 4096\nrpc-timeout: 5s\n"), 0o600))

	cfg, err := Load("test", []string{"--config", path, "--capacity=2048"})
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 2048, cfg.Capacity)
	assert.Equal(t, 5*time.Second, cfg.RPCTimeout)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load("test", []string{"--config", filepath.Join(t.TempDir(), "nope.yaml")})
	require.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown backend", []string{"--store-backend=redis"}},
		{"empty leveldb path", []string{"--store-path="}},
		{"tiny capacity", []string{"--capacity=4"}},
		{"zero concurrency", []string{"--concurrency=0"}},
		{"zero store timeout", []string{"--store-op-timeout=0s"}},
		{"negative rpc timeout", []string{"--rpc-timeout=-1s"}},
		{"bad absent policy", []string{"--absent=maybe"}},
		{"unknown flag", []string{"--bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load("test", tt.args)
			require.Error(t, err)
		})
	}
}

func TestConfig_HostConfig(t *testing.T) {
	cfg := Default()
	cfg.Absent = host.AbsentError
	hc := cfg.HostConfig([]byte{1})

	assert.Equal(t, []byte{1}, hc.Verifier)
	assert.Equal(t, cfg.Capacity, hc.Capacity)
	assert.Equal(t, cfg.BridgeTimeout, hc.BridgeTimeout)
	assert.Equal(t, host.AbsentError, hc.Absent)
	assert.Len(t, cfg.CoordinatorOptions(), 2)
}
