// Package app holds the wiring shared by the bridge binaries.
package app

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-bridge/config"
	"github.com/wippyai/wasm-bridge/controller"
	"github.com/wippyai/wasm-bridge/coordinator"
	"github.com/wippyai/wasm-bridge/host"
	"github.com/wippyai/wasm-bridge/relay"
	"github.com/wippyai/wasm-bridge/rpcapi"
	"github.com/wippyai/wasm-bridge/sandbox"
	"github.com/wippyai/wasm-bridge/store"
)

// NewLogger builds a production logger at level; "debug" switches to the
// development encoder.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// SetLoggers installs l in every package that logs.
func SetLoggers(l *zap.Logger) {
	store.SetLogger(l.Named("store"))
	coordinator.SetLogger(l.Named("coordinator"))
	sandbox.SetLogger(l.Named("sandbox"))
	host.SetLogger(l.Named("host"))
	relay.SetLogger(l.Named("relay"))
	controller.SetLogger(l.Named("controller"))
	rpcapi.SetLogger(l.Named("rpcapi"))
}

// OpenStore opens the backend named in cfg.
func OpenStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return store.NewMemory(), nil
	case config.BackendLevelDB:
		db, err := store.OpenLevelDB(cfg.StorePath)
		if err != nil {
			return nil, fmt.Errorf("open leveldb %s: %w", cfg.StorePath, err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// ReadVerifier loads the verifier binary, or returns nil when path is empty.
func ReadVerifier(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read verifier: %w", err)
	}
	return data, nil
}
