package sandbox

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/framing"
)

var (
	wasmMagic       = []byte{0x00, 0x61, 0x73, 0x6d}
	coreWasmVersion = []byte{0x01, 0x00, 0x00, 0x00}
)

// Proof is the optional proof part of an invocation result.
type Proof struct {
	Bytes  []byte `json:"bytes"`
	Inputs []byte `json:"inputs"`
}

// Result is the outcome of InvokeExport.
type Result struct {
	Proof  *Proof `json:"proof,omitempty"`
	Result []byte `json:"result"`
}

// Module is a guest binary and, once initialized, its sandbox instance.
// Calls on one Module are serialized.
type Module struct {
	runtime  *Runtime
	compiled wazero.CompiledModule
	inst     api.Module
	binary   []byte
	mu       sync.Mutex
	closed   bool
}

// Init loads the binary into a fresh sandbox instance.
func (m *Module) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.InvalidInput(errors.PhaseLoad, "module is closed")
	}
	if m.inst != nil {
		return errors.DoubleInit("module")
	}
	if err := validateBinary(m.binary); err != nil {
		return err
	}
	if err := m.runtime.bind(ctx); err != nil {
		return err
	}

	compiled, err := m.runtime.runtime.CompileModule(ctx, m.binary)
	if err != nil {
		return errors.Load("compile module", err)
	}

	if missing := m.runtime.hosts.Missing(compiled); len(missing) > 0 {
		_ = compiled.Close(ctx)
		return errors.NewMissingImportsError(missing)
	}

	inst, err := m.runtime.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		_ = compiled.Close(ctx)
		return errors.Instantiation(err)
	}

	m.compiled = compiled
	m.inst = inst

	Logger().Debug("module initialized",
		zap.Int("size", len(m.binary)),
		zap.Int("exports", len(compiled.ExportedFunctions())))
	return nil
}

// Initialized reports whether Init succeeded.
func (m *Module) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inst != nil
}

// Binary returns the module's binary. Callers must not modify it.
func (m *Module) Binary() []byte {
	return m.binary
}

// Exports lists the exported function names in sorted order.
func (m *Module) Exports() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.compiled == nil {
		return nil
	}
	defs := m.compiled.ExportedFunctions()
	out := make([]string, 0, len(defs))
	for name := range defs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// InvokeExport copies args into guest memory, calls the named export with
// one (ptr, len) pair per argument, and decodes its framed result block.
// Argument buffers and the result block are released through the guest's
// free export once decoded.
func (m *Module) InvokeExport(ctx context.Context, name string, args ...[]byte) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var packed bool
	res, spans, err := m.call(ctx, name, args, func(results []api.ValueType) error {
		switch {
		case len(results) == 0:
			return nil
		case len(results) == 1 && results[0] == api.ValueTypeI64:
			packed = true
			return nil
		default:
			return errors.TypeError(errors.PhaseInvoke, []string{name}, "",
				"export must return nothing or a packed i64 result block")
		}
	})
	if err != nil {
		return nil, err
	}
	if !packed {
		m.release(ctx, spans)
		return &Result{}, nil
	}

	out, err := m.decodeResult(res[0])
	block := span{ptr: uint32(res[0] >> 32), size: uint32(res[0])}
	if !block.aliases(spans) {
		spans = append(spans, block)
	}
	m.release(ctx, spans)
	return out, err
}

// CallBool calls an export returning a single i32 and reports whether it is
// nonzero.
func (m *Module) CallBool(ctx context.Context, name string, args ...[]byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, spans, err := m.call(ctx, name, args, func(results []api.ValueType) error {
		if len(results) != 1 || results[0] != api.ValueTypeI32 {
			return errors.TypeError(errors.PhaseInvoke, []string{name}, "",
				"export must return a single i32")
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	m.release(ctx, spans)
	return uint32(res[0]) != 0, nil
}

// Reset calls the guest's reset export, discarding every heap block. It is
// a no-op for guests without one.
func (m *Module) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inst == nil {
		return errors.NotInitialized(errors.PhaseInvoke, "module")
	}
	fn := m.inst.ExportedFunction(ResetExport)
	if fn == nil {
		return nil
	}
	if len(fn.Definition().ParamTypes()) != 0 {
		return errors.TypeError(errors.PhaseInvoke, []string{ResetExport}, "",
			"reset export must take no parameters")
	}
	if _, err := fn.Call(ctx); err != nil {
		return callError(ResetExport, err)
	}
	return nil
}

// Close releases the instance. A closed module cannot be initialized again.
func (m *Module) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var err error
	if m.inst != nil {
		err = m.inst.Close(ctx)
		m.inst = nil
	}
	if m.compiled != nil {
		_ = m.compiled.Close(ctx)
		m.compiled = nil
	}
	return err
}

// span is a guest buffer the host allocated for a call.
type span struct {
	ptr, size uint32
}

func (s span) aliases(spans []span) bool {
	for _, o := range spans {
		if o.ptr == s.ptr {
			return true
		}
	}
	return false
}

// release frees spans newest first. A failed free is logged and the guest
// keeps the block.
func (m *Module) release(ctx context.Context, spans []span) {
	if len(spans) == 0 || m.inst == nil {
		return
	}
	guest, err := Guest(m.inst)
	if err != nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for i := len(spans) - 1; i >= 0; i-- {
		if err := guest.Free(ctx, spans[i].ptr, spans[i].size); err != nil {
			Logger().Warn("free guest buffer",
				zap.Uint32("ptr", spans[i].ptr),
				zap.Uint32("size", spans[i].size),
				zap.Error(err))
			return
		}
	}
}

// call checks the export's signature, copies args into guest memory and
// runs the export. On success it returns the argument spans for the caller
// to release; on failure they are already released.
func (m *Module) call(ctx context.Context, name string, args [][]byte, checkResults func([]api.ValueType) error) ([]uint64, []span, error) {
	if m.inst == nil {
		if m.closed {
			return nil, nil, errors.InvalidInput(errors.PhaseInvoke, "module is closed")
		}
		return nil, nil, errors.NotInitialized(errors.PhaseInvoke, "module")
	}

	fn := m.inst.ExportedFunction(name)
	if fn == nil {
		return nil, nil, errors.NotFound(errors.PhaseInvoke, "export", name)
	}
	def := fn.Definition()

	params := def.ParamTypes()
	if len(params) != 2*len(args) {
		return nil, nil, errors.TypeError(errors.PhaseInvoke, []string{name}, "",
			fmt.Sprintf("export takes %d parameters, %d arguments need %d", len(params), len(args), 2*len(args)))
	}
	for _, p := range params {
		if p != api.ValueTypeI32 {
			return nil, nil, errors.TypeError(errors.PhaseInvoke, []string{name}, api.ValueTypeName(p),
				"export parameters must be i32 (ptr, len) pairs")
		}
	}
	if err := checkResults(def.ResultTypes()); err != nil {
		return nil, nil, err
	}

	stack := make([]uint64, 0, len(params))
	spans := make([]span, 0, len(args))
	if len(args) > 0 {
		guest, err := Guest(m.inst)
		if err != nil {
			return nil, nil, err
		}
		for _, arg := range args {
			ptr, err := guest.WriteBytes(ctx, arg)
			if err != nil {
				m.release(ctx, spans)
				return nil, nil, err
			}
			stack = append(stack, uint64(ptr), uint64(len(arg)))
			spans = append(spans, span{ptr: ptr, size: uint32(len(arg))})
		}
	}

	res, err := fn.Call(ctx, stack...)
	if err != nil {
		m.release(ctx, spans)
		return nil, nil, callError(name, err)
	}
	return res, spans, nil
}

func (m *Module) decodeResult(packed uint64) (*Result, error) {
	ptr, size := uint32(packed>>32), uint32(packed)

	guest, err := Guest(m.inst)
	if err != nil {
		return nil, err
	}
	block, err := guest.Read(ptr, size)
	if err != nil {
		return nil, err
	}
	records, err := framing.Decode(block)
	if err != nil {
		return nil, err
	}

	switch len(records) {
	case 1:
		return &Result{Result: records[0]}, nil
	case 3:
		return &Result{
			Proof:  &Proof{Bytes: records[0], Inputs: records[1]},
			Result: records[2],
		}, nil
	default:
		return nil, errors.New(errors.PhaseFraming, errors.KindFraming).
			Value(len(records)).
			Detail("result block has %d records, want 1 or 3", len(records)).
			Build()
	}
}

func validateBinary(binary []byte) error {
	if len(binary) == 0 {
		return errors.TypeError(errors.PhaseLoad, nil, "[]byte", "empty module binary")
	}
	if len(binary) < 8 || !bytes.Equal(binary[:4], wasmMagic) {
		return errors.TypeError(errors.PhaseLoad, nil, "[]byte", "not a WebAssembly binary")
	}
	if !bytes.Equal(binary[4:8], coreWasmVersion) {
		return errors.TypeError(errors.PhaseLoad, nil, "[]byte", "not a core WebAssembly module")
	}
	return nil
}

// callError classifies an error returned from guest execution. Structured
// errors raised by host functions keep their kind.
func callError(name string, err error) error {
	var structured *errors.Error
	if stderrors.As(err, &structured) {
		return structured
	}

	var exit *sys.ExitError
	if stderrors.As(err, &exit) {
		switch exit.ExitCode() {
		case sys.ExitCodeContextCanceled, sys.ExitCodeDeadlineExceeded:
			return errors.Timeout(errors.PhaseInvoke, "call "+name, err)
		}
	}

	return errors.SandboxFault(err.Error(), err)
}
