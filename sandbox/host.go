package sandbox

import (
	"context"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-bridge/errors"
)

// HostFunc is a host function with a core wasm signature. Fn reads its
// arguments from and writes its results to the stack; a panic with an
// *errors.Error aborts the guest call and surfaces with its kind intact.
type HostFunc struct {
	Fn      api.GoModuleFunc
	Params  []api.ValueType
	Results []api.ValueType
}

type HostRegistry struct {
	funcs map[string]map[string]HostFunc
	mu    sync.RWMutex
}

func NewHostRegistry() *HostRegistry {
	return &HostRegistry{
		funcs: make(map[string]map[string]HostFunc),
	}
}

func (r *HostRegistry) RegisterFunc(namespace, name string, fn HostFunc) error {
	if namespace == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}
	if name == "" {
		return errors.InvalidInput(errors.PhaseHost, "function name cannot be empty")
	}
	if fn.Fn == nil {
		return errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			Path(namespace, name).
			Detail("handler must not be nil").
			Build()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.funcs[namespace] == nil {
		r.funcs[namespace] = make(map[string]HostFunc)
	}
	r.funcs[namespace][name] = fn
	return nil
}

// Has reports whether namespace#name is registered.
func (r *HostRegistry) Has(namespace, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[namespace][name]
	return ok
}

// Namespaces returns the registered namespaces in sorted order.
func (r *HostRegistry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.funcs))
	for ns := range r.funcs {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Instantiate builds one wazero host module per namespace.
func (r *HostRegistry) Instantiate(ctx context.Context, rt wazero.Runtime) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for namespace, funcs := range r.funcs {
		builder := rt.NewHostModuleBuilder(namespace)
		for name, hf := range funcs {
			builder.NewFunctionBuilder().
				WithGoModuleFunction(hf.Fn, hf.Params, hf.Results).
				WithName(name).
				Export(name)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return errors.Registration(namespace, "*", err)
		}
	}
	return nil
}

// Missing returns "module#name" for every function import of compiled that
// is not registered.
func (r *HostRegistry) Missing(compiled wazero.CompiledModule) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		if _, ok := r.funcs[module][name]; !ok {
			missing = append(missing, module+"#"+name)
		}
	}
	return missing
}
