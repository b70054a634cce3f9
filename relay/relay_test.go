package relay

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/framing"
	"github.com/wippyai/wasm-bridge/internal/testguest"
	"github.com/wippyai/wasm-bridge/sandbox"
)

type recorder struct {
	source   string
	function string
	args     [][]byte
	calls    int
}

func (r *recorder) Execute(_ context.Context, source, function string, args [][]byte) ([]byte, error) {
	r.calls++
	r.source, r.function = source, function
	r.args = make([][]byte, len(args))
	for i, a := range args {
		r.args[i] = append([]byte(nil), a...)
	}
	return bytes.Join(args, []byte("|")), nil
}

func newRuntime(t *testing.T, exec Executor) *sandbox.Runtime {
	t.Helper()
	ctx := context.Background()
	rt, err := sandbox.New(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(ctx) })
	require.NoError(t, Register(rt, exec))
	return rt
}

func newLimitedRuntime(t *testing.T, exec Executor, pages uint32) *sandbox.Runtime {
	t.Helper()
	ctx := context.Background()
	rt, err := sandbox.NewWithConfig(ctx, &sandbox.Config{MemoryLimitPages: pages})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(ctx) })
	require.NoError(t, Register(rt, exec))
	return rt
}

func newWrapper(t *testing.T, rt *sandbox.Runtime, source string) *Wrapper {
	t.Helper()
	w := New(source)
	require.NoError(t, w.Init(context.Background(), rt))
	return w
}

func TestBinary_Exports(t *testing.T) {
	rt, err := sandbox.New(context.Background())
	require.NoError(t, err)
	defer rt.Close(context.Background())
	require.NoError(t, Register(rt, Funcs{}))

	mod := rt.NewModule(Binary())
	require.NoError(t, mod.Init(context.Background()))
	assert.Equal(t, []string{"alloc", "exec", "free", "reset"}, mod.Exports())
	assert.Equal(t, Binary(), Binary())
}

func TestWrapper_Call(t *testing.T) {
	rec := &recorder{}
	rt := newRuntime(t, rec)
	w := newWrapper(t, rt, "prover.wasm")

	out, err := w.Call(context.Background(), "prove", []byte("a"), []byte{}, []byte("ccc"))
	require.NoError(t, err)
	assert.Equal(t, []byte("a||ccc"), out)

	assert.Equal(t, "prover.wasm", rec.source)
	assert.Equal(t, "prove", rec.function)
	require.Len(t, rec.args, 3)
	assert.Equal(t, []byte("a"), rec.args[0])
	assert.Empty(t, rec.args[1])
	assert.Equal(t, []byte("ccc"), rec.args[2])
}

func TestWrapper_CallNoArgs(t *testing.T) {
	rec := &recorder{}
	rt := newRuntime(t, rec)
	w := newWrapper(t, rt, "src")

	out, err := w.Call(context.Background(), "noop")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, rec.args)
	assert.Equal(t, 1, rec.calls)
}

func TestWrapper_CallLargeArgs(t *testing.T) {
	rec := &recorder{}
	rt := newRuntime(t, rec)
	w := newWrapper(t, rt, "src")

	big := bytes.Repeat([]byte{7}, 3<<20)
	_, err := w.Call(context.Background(), "fn", big, []byte("tail"))
	require.NoError(t, err)
	require.Len(t, rec.args, 2)
	assert.True(t, bytes.Equal(big, rec.args[0]))
	assert.Equal(t, []byte("tail"), rec.args[1])
}

func TestWrapper_Lifecycle(t *testing.T) {
	rt := newRuntime(t, Funcs{})
	w := New("src")

	_, err := w.Call(context.Background(), "fn")
	require.ErrorIs(t, err, errors.ErrNotInitialized)

	require.NoError(t, w.Init(context.Background(), rt))
	require.ErrorIs(t, w.Init(context.Background(), rt), errors.ErrDoubleInit)
	require.NoError(t, w.Close(context.Background()))
}

func TestHostExec_MalformedBlock(t *testing.T) {
	rec := &recorder{}
	rt := newRuntime(t, rec)

	mod := rt.NewModule(Binary())
	require.NoError(t, mod.Init(context.Background()))

	_, err := mod.InvokeExport(context.Background(), ExecExport,
		[]byte("src"), []byte("fn"), []byte{5, 0, 0, 0, 'a', 'b'})
	require.ErrorIs(t, err, errors.ErrFraming)
	assert.Equal(t, 0, rec.calls)

	_, err = mod.InvokeExport(context.Background(), ExecExport,
		[]byte("src"), []byte("fn"), []byte{1, 0})
	require.ErrorIs(t, err, errors.ErrFraming)
	assert.Equal(t, 0, rec.calls)
}

func TestWrapper_CallExecutorErrors(t *testing.T) {
	rt := newRuntime(t, Funcs{
		"src/boom": func(context.Context, [][]byte) ([]byte, error) {
			return nil, stderrors.New("boom")
		},
	})
	w := newWrapper(t, rt, "src")

	_, err := w.Call(context.Background(), "boom")
	require.ErrorIs(t, err, errors.ErrSandboxFault)
	assert.Contains(t, err.Error(), "boom")

	_, err = w.Call(context.Background(), "unknown")
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestFuncs_Execute(t *testing.T) {
	f := Funcs{
		"math/count": func(_ context.Context, args [][]byte) ([]byte, error) {
			return []byte{byte(len(args))}, nil
		},
	}
	out, err := f.Execute(context.Background(), "math", "count", [][]byte{{1}, {2}})
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, out)

	_, err = f.Execute(context.Background(), "math", "sum", nil)
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestModules_Execute(t *testing.T) {
	mods := NewModules()
	rt := newRuntime(t, mods)
	ctx := context.Background()

	target := rt.NewModule(testguest.Plain())
	require.NoError(t, target.Init(ctx))
	require.NoError(t, mods.Add("plain", target))

	w := newWrapper(t, rt, "plain")
	out, err := w.Call(ctx, "echo", []byte("through the relay"))
	require.NoError(t, err)
	assert.Equal(t, []byte("through the relay"), out)

	missing := newWrapper(t, rt, "absent")
	_, err = missing.Call(ctx, "echo", []byte("x"))
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestRegister_NilExecutor(t *testing.T) {
	rt, err := sandbox.New(context.Background())
	require.NoError(t, err)
	defer rt.Close(context.Background())
	require.ErrorIs(t, Register(rt, nil), errors.ErrInvalidInput)
}

func TestWrapper_CallFramedArgs(t *testing.T) {
	rec := &recorder{}
	rt := newRuntime(t, rec)
	w := newWrapper(t, rt, "s")

	args := [][]byte{[]byte("x"), []byte("yy")}
	_, err := w.Call(context.Background(), "f", args...)
	require.NoError(t, err)

	decoded, err := framing.Decode(framing.Encode(args))
	require.NoError(t, err)
	assert.Equal(t, decoded, rec.args)
}

func TestWrapper_CallBoundedMemory(t *testing.T) {
	var calls int
	rt := newLimitedRuntime(t, Funcs{
		"src/f": func(_ context.Context, args [][]byte) ([]byte, error) {
			calls++
			return args[0], nil
		},
	}, 16)
	w := newWrapper(t, rt, "src")

	arg := bytes.Repeat([]byte{0xab}, 4096)
	for i := 0; i < 5000; i++ {
		out, err := w.Call(context.Background(), "f", arg)
		require.NoError(t, err, "call %d", i)
		require.Len(t, out, len(arg))
	}
	assert.Equal(t, 5000, calls)
}

func TestWrapper_CallRecoversAfterFailure(t *testing.T) {
	rt := newLimitedRuntime(t, Funcs{
		"src/boom": func(context.Context, [][]byte) ([]byte, error) {
			return nil, stderrors.New("boom")
		},
		"src/ok": func(context.Context, [][]byte) ([]byte, error) {
			return []byte("ok"), nil
		},
	}, 16)
	w := newWrapper(t, rt, "src")

	arg := make([]byte, 4096)
	for i := 0; i < 1000; i++ {
		_, err := w.Call(context.Background(), "boom", arg)
		require.ErrorIs(t, err, errors.ErrSandboxFault)
	}
	out, err := w.Call(context.Background(), "ok", arg)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), out)
}

func TestModules_ExecuteBoundedMemory(t *testing.T) {
	mods := NewModules()
	rt := newLimitedRuntime(t, mods, 16)
	ctx := context.Background()

	target := rt.NewModule(testguest.Plain())
	require.NoError(t, target.Init(ctx))
	require.NoError(t, mods.Add("plain", target))
	w := newWrapper(t, rt, "plain")

	arg := bytes.Repeat([]byte{1}, 4096)
	for i := 0; i < 3000; i++ {
		out, err := w.Call(ctx, "echo", arg)
		require.NoError(t, err, "call %d", i)
		require.Equal(t, arg, out)
	}
}

func TestModules_AddRejectsRelay(t *testing.T) {
	mods := NewModules()
	rt := newRuntime(t, mods)
	ctx := context.Background()

	self := rt.NewModule(Binary())
	require.NoError(t, self.Init(ctx))

	err := mods.Add("relay", self)
	require.ErrorIs(t, err, errors.ErrInvalidInput)

	w := newWrapper(t, rt, "relay")
	_, err = w.Call(ctx, "exec")
	require.ErrorIs(t, err, errors.ErrNotFound)

	require.ErrorIs(t, mods.Add("nil", nil), errors.ErrInvalidInput)
}
