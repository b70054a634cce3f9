package relay

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/framing"
	"github.com/wippyai/wasm-bridge/sandbox"
)

// Wrapper calls functions of one source through the relay module.
type Wrapper struct {
	mod    *sandbox.Module
	source string
	mu     sync.Mutex
}

// New returns an uninitialized wrapper for source.
func New(source string) *Wrapper {
	return &Wrapper{source: source}
}

// Init loads the relay module into rt. The host exec must already be
// registered in rt.
func (w *Wrapper) Init(ctx context.Context, rt *sandbox.Runtime) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.mod != nil {
		return errors.DoubleInit("relay wrapper")
	}
	mod := rt.NewModule(Binary())
	if err := mod.Init(ctx); err != nil {
		return err
	}
	w.mod = mod
	return nil
}

// Call frames args and invokes function through exec, returning the
// function's output. The relay heap is reset after every call, so a
// wrapper's memory stays bounded by its largest single call.
func (w *Wrapper) Call(ctx context.Context, function string, args ...[]byte) ([]byte, error) {
	w.mu.Lock()
	mod := w.mod
	w.mu.Unlock()

	if mod == nil {
		return nil, errors.NotInitialized(errors.PhaseInvoke, "relay wrapper")
	}

	res, err := mod.InvokeExport(ctx, ExecExport, []byte(w.source), []byte(function), framing.Encode(args))
	if rerr := mod.Reset(context.WithoutCancel(ctx)); rerr != nil {
		Logger().Warn("reset relay heap", zap.String("source", w.source), zap.Error(rerr))
		if err == nil {
			err = rerr
		}
	}
	if err != nil {
		return nil, err
	}
	return res.Result, nil
}

// Close releases the relay module.
func (w *Wrapper) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.mod == nil {
		return nil
	}
	return w.mod.Close(ctx)
}
