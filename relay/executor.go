package relay

import (
	"bytes"
	"context"
	"sync"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/sandbox"
)

// Func is one function callable through the relay.
type Func func(ctx context.Context, args [][]byte) ([]byte, error)

// Funcs is an Executor over Go functions keyed by "source/function".
type Funcs map[string]Func

func (f Funcs) Execute(ctx context.Context, source, function string, args [][]byte) ([]byte, error) {
	fn, ok := f[source+"/"+function]
	if !ok {
		return nil, errors.NotFound(errors.PhaseInvoke, "function", source+"/"+function)
	}
	return fn(ctx, args)
}

// Modules is an Executor that runs function as an export of the module
// registered under source.
type Modules struct {
	mods map[string]*sandbox.Module
	mu   sync.RWMutex
}

func NewModules() *Modules {
	return &Modules{mods: make(map[string]*sandbox.Module)}
}

// Add registers an initialized module under source. The relay module itself
// is refused: exec into it would wait on the call already running there.
func (m *Modules) Add(source string, mod *sandbox.Module) error {
	if mod == nil {
		return errors.InvalidInput(errors.PhaseHost, "nil module")
	}
	if bytes.Equal(mod.Binary(), Binary()) {
		return errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Value(source).
			Detail("the relay module cannot be an exec target").
			Build()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.mods[source] = mod
	return nil
}

func (m *Modules) Execute(ctx context.Context, source, function string, args [][]byte) ([]byte, error) {
	m.mu.RLock()
	mod, ok := m.mods[source]
	m.mu.RUnlock()

	if !ok {
		return nil, errors.NotFound(errors.PhaseInvoke, "source", source)
	}
	res, err := mod.InvokeExport(ctx, function, args...)
	if err != nil {
		return nil, err
	}
	return res.Result, nil
}
