package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-bridge/config"
	"github.com/wippyai/wasm-bridge/store"
)

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("warn")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	l, err = NewLogger("debug")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	_, err = NewLogger("loud")
	require.Error(t, err)
}

func TestSetLoggers(t *testing.T) {
	SetLoggers(zap.NewNop())
	assert.NotNil(t, store.Logger())
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	cfg := config.Default()
	cfg.StoreBackend = config.BackendMemory
	s, err := OpenStore(cfg)
	require.NoError(t, err)
	assert.IsType(t, &store.Memory{}, s)
	require.NoError(t, s.Close())

	cfg.StoreBackend = config.BackendLevelDB
	cfg.StorePath = filepath.Join(t.TempDir(), "db")
	s, err = OpenStore(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	require.NoError(t, s.Close())

	cfg.StoreBackend = "redis"
	_, err = OpenStore(cfg)
	require.Error(t, err)
}

func TestReadVerifier(t *testing.T) {
	b, err := ReadVerifier("")
	require.NoError(t, err)
	assert.Nil(t, b)

	path := filepath.Join(t.TempDir(), "verifier.wasm")
	require.NoError(t, os.WriteFile(path, []byte{0, 'a', 's', 'm'}, 0o600))
	b, err = ReadVerifier(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 'a', 's', 'm'}, b)

	_, err = ReadVerifier(filepath.Join(t.TempDir(), "missing.wasm"))
	require.Error(t, err)
}
