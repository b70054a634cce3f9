package host

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/channel"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/sandbox"
)

// VerifyExport is the verifier module's entry point:
// verify(bytes_ptr, bytes_len, inputs_ptr, inputs_len) -> i32.
const VerifyExport = "verify"

// ImportSet installs additional host functions into a runtime.
type ImportSet func(rt *sandbox.Runtime) error

// Config holds configuration for host creation
type Config struct {
	// Verifier is the verifier module binary. Without it verify fails.
	Verifier []byte

	// Imports are installed after the env state functions.
	Imports []ImportSet

	// Capacity is the shared channel size in bytes. 0 means
	// channel.DefaultCapacity.
	Capacity int

	// BridgeTimeout bounds each state round trip. 0 means
	// DefaultBridgeTimeout; negative waits until the call context is done.
	BridgeTimeout time.Duration

	// MemoryLimitPages caps guest memory; 0 means the wazero default.
	MemoryLimitPages uint32

	Absent AbsentPolicy
}

// Host runs guest modules on its own sandbox runtime and services their
// state imports through a Bridge.
type Host struct {
	rt       *sandbox.Runtime
	bridge   *Bridge
	verifier *sandbox.Module
	modules  map[string]*sandbox.Module
	mu       sync.Mutex
}

// New creates a host whose guests reach state through coord.
func New(ctx context.Context, coord Submitter, cfg *Config) (*Host, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if coord == nil {
		return nil, errors.InvalidInput(errors.PhaseHost, "nil coordinator")
	}

	capacity := cfg.Capacity
	if capacity == 0 {
		capacity = channel.DefaultCapacity
	}
	ch, err := channel.New(capacity)
	if err != nil {
		return nil, err
	}

	timeout := cfg.BridgeTimeout
	switch {
	case timeout == 0:
		timeout = DefaultBridgeTimeout
	case timeout < 0:
		timeout = 0
	}

	rt, err := sandbox.NewWithConfig(ctx, &sandbox.Config{MemoryLimitPages: cfg.MemoryLimitPages})
	if err != nil {
		return nil, err
	}

	h := &Host{
		rt:      rt,
		bridge:  NewBridge(coord, ch, timeout),
		modules: make(map[string]*sandbox.Module),
	}

	if err := RegisterImports(rt, h.bridge, cfg.Absent); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	for _, register := range cfg.Imports {
		if err := register(rt); err != nil {
			_ = rt.Close(ctx)
			return nil, err
		}
	}

	if len(cfg.Verifier) > 0 {
		h.verifier = rt.NewModule(cfg.Verifier)
		if err := h.verifier.Init(ctx); err != nil {
			_ = rt.Close(ctx)
			return nil, err
		}
	}

	Logger().Debug("host ready",
		zap.Int("capacity", capacity),
		zap.Duration("bridge_timeout", timeout),
		zap.Stringer("absent", cfg.Absent),
		zap.Bool("verifier", h.verifier != nil))
	return h, nil
}

func (h *Host) Bridge() *Bridge {
	return h.bridge
}

func (h *Host) Runtime() *sandbox.Runtime {
	return h.rt
}

// Close releases every module and the runtime.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	h.modules = make(map[string]*sandbox.Module)
	h.mu.Unlock()
	return h.rt.Close(ctx)
}

// Verify runs the verifier module over a proof.
func (h *Host) Verify(ctx context.Context, proof sandbox.Proof) (bool, error) {
	if h.verifier == nil {
		return false, errors.NotInitialized(errors.PhaseDispatch, "verifier")
	}
	return h.verifier.CallBool(ctx, VerifyExport, proof.Bytes, proof.Inputs)
}

// InitModule loads binary into a new module and returns its handle.
func (h *Host) InitModule(ctx context.Context, binary []byte) (string, error) {
	m := h.rt.NewModule(binary)
	if err := m.Init(ctx); err != nil {
		return "", err
	}

	handle := uuid.NewString()
	h.mu.Lock()
	h.modules[handle] = m
	h.mu.Unlock()
	return handle, nil
}

// InvokeExport calls name on the module behind handle.
func (h *Host) InvokeExport(ctx context.Context, handle, name string, args [][]byte) (*sandbox.Result, error) {
	m, err := h.module(handle)
	if err != nil {
		return nil, err
	}
	return m.InvokeExport(ctx, name, args...)
}

// CloseModule releases the module behind handle.
func (h *Host) CloseModule(ctx context.Context, handle string) error {
	h.mu.Lock()
	m, ok := h.modules[handle]
	delete(h.modules, handle)
	h.mu.Unlock()

	if !ok {
		return errors.NotFound(errors.PhaseDispatch, "module handle", handle)
	}
	return m.Close(ctx)
}

// Modules returns the number of live module handles.
func (h *Host) Modules() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.modules)
}

func (h *Host) module(handle string) (*sandbox.Module, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.modules[handle]
	if !ok {
		return nil, errors.NotFound(errors.PhaseDispatch, "module handle", handle)
	}
	return m, nil
}
