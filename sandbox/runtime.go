package sandbox

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/errors"
)

// Config holds configuration for runtime creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32
}

// Runtime owns a wazero runtime and the host functions its modules import.
// Host functions must be registered before the first module is initialized.
type Runtime struct {
	runtime wazero.Runtime
	hosts   *HostRegistry
	bindMu  sync.Mutex
	bound   bool
}

func New(ctx context.Context) (*Runtime, error) {
	return NewWithConfig(ctx, nil)
}

// NewWithConfig creates a runtime with custom configuration.
func NewWithConfig(ctx context.Context, cfg *Config) (*Runtime, error) {
	if ctx == nil {
		return nil, errors.InvalidInput(errors.PhaseLoad, "nil context")
	}

	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	return &Runtime{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		hosts:   NewHostRegistry(),
	}, nil
}

// Close releases all runtime resources, including every module instance.
func (r *Runtime) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}

// RegisterFunc adds a host function under namespace#name.
func (r *Runtime) RegisterFunc(namespace, name string, fn HostFunc) error {
	r.bindMu.Lock()
	defer r.bindMu.Unlock()

	if r.bound {
		return errors.Registration(namespace, name,
			errors.InvalidInput(errors.PhaseHost, "host modules already instantiated"))
	}
	return r.hosts.RegisterFunc(namespace, name, fn)
}

func (r *Runtime) Hosts() *HostRegistry {
	return r.hosts
}

// NewModule wraps binary in an uninitialized Module.
func (r *Runtime) NewModule(binary []byte) *Module {
	return &Module{runtime: r, binary: binary}
}

// bind instantiates the registered host modules once.
func (r *Runtime) bind(ctx context.Context) error {
	r.bindMu.Lock()
	defer r.bindMu.Unlock()

	if r.bound {
		return nil
	}
	if err := r.hosts.Instantiate(ctx, r.runtime); err != nil {
		return err
	}
	r.bound = true
	Logger().Debug("host modules instantiated", zap.Strings("namespaces", r.hosts.Namespaces()))
	return nil
}
