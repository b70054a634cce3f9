package host

import (
	"context"
	stderrors "errors"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/sandbox"
)

// Namespace is the import module guests use for host functions.
const Namespace = "env"

// AbsentPolicy decides what a guest's state_get sees for a missing key.
type AbsentPolicy int

const (
	// AbsentEmpty returns an empty value.
	AbsentEmpty AbsentPolicy = iota
	// AbsentError aborts the guest call with the absent error.
	AbsentError
)

func (p AbsentPolicy) String() string {
	if p == AbsentError {
		return "error"
	}
	return "empty"
}

// ParseAbsentPolicy accepts "empty" and "error".
func ParseAbsentPolicy(s string) (AbsentPolicy, error) {
	switch s {
	case "", "empty":
		return AbsentEmpty, nil
	case "error":
		return AbsentError, nil
	default:
		return AbsentEmpty, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Value(s).
			Detail("absent policy must be \"empty\" or \"error\"").
			Build()
	}
}

const i32 = api.ValueTypeI32

// RegisterImports installs state_get, state_set, throw and log into rt.
func RegisterImports(rt *sandbox.Runtime, b *Bridge, policy AbsentPolicy) error {
	funcs := map[string]sandbox.HostFunc{
		"state_get": {Fn: stateGet(b, policy), Params: []api.ValueType{i32, i32, i32}},
		"state_set": {Fn: stateSet(b), Params: []api.ValueType{i32, i32, i32, i32}},
		"throw":     {Fn: throw, Params: []api.ValueType{i32, i32}},
		"log":       {Fn: guestLog, Params: []api.ValueType{i32, i32}},
	}
	for name, fn := range funcs {
		if err := rt.RegisterFunc(Namespace, name, fn); err != nil {
			return err
		}
	}
	return nil
}

// must aborts the running guest call with err.
func must(err error) {
	if err != nil {
		panic(err)
	}
}

func guestMemory(mod api.Module) *sandbox.GuestMemory {
	g, err := sandbox.Guest(mod)
	must(err)
	return g
}

// state_get(ret_ptr, key_ptr, key_len) writes (value_ptr, value_len) at ret_ptr.
// The value buffer comes from the guest's alloc and is the guest's to free.
func stateGet(b *Bridge, policy AbsentPolicy) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		g := guestMemory(mod)
		ret, keyPtr, keyLen := uint32(stack[0]), uint32(stack[1]), uint32(stack[2])

		key, err := g.ReadString(keyPtr, keyLen)
		must(err)

		value, err := b.Get(ctx, key)
		if stderrors.Is(err, errors.ErrAbsent) && policy == AbsentEmpty {
			value, err = nil, nil
		}
		must(err)

		ptr, err := g.WriteBytes(ctx, value)
		must(err)
		if err := writePair(g, ret, ptr, uint32(len(value))); err != nil {
			_ = g.Free(ctx, ptr, uint32(len(value)))
			panic(err)
		}
	}
}

func writePair(g *sandbox.GuestMemory, at, ptr, size uint32) error {
	if err := g.WriteU32(at, ptr); err != nil {
		return err
	}
	return g.WriteU32(at+4, size)
}

// state_set(key_ptr, key_len, val_ptr, val_len)
func stateSet(b *Bridge) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		g := guestMemory(mod)

		key, err := g.ReadString(uint32(stack[0]), uint32(stack[1]))
		must(err)
		value, err := g.Read(uint32(stack[2]), uint32(stack[3]))
		must(err)

		must(b.Set(ctx, key, value))
	}
}

func throw(_ context.Context, mod api.Module, stack []uint64) {
	msg, err := guestMemory(mod).ReadString(uint32(stack[0]), uint32(stack[1]))
	must(err)
	panic(errors.SandboxFault(msg, nil))
}

func guestLog(_ context.Context, mod api.Module, stack []uint64) {
	msg, err := guestMemory(mod).ReadString(uint32(stack[0]), uint32(stack[1]))
	must(err)
	Logger().Info("guest", zap.String("message", msg))
}
