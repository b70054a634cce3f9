// Package relay calls functions that take any number of byte-array
// arguments through a fixed three-buffer export. Arguments are packed into a
// framed block on the way in; the host side unpacks them before dispatch.
package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/framing"
	"github.com/wippyai/wasm-bridge/internal/wasmgen"
	"github.com/wippyai/wasm-bridge/sandbox"
)

const (
	// Namespace is the import module of the host exec function.
	Namespace = "env"
	// ExecExport is exec(src_ptr, src_len, fn_ptr, fn_len, args_ptr, args_len) -> i64.
	ExecExport = "exec"

	heapStart = 1024
)

// Executor runs function from source with decoded arguments.
type Executor interface {
	Execute(ctx context.Context, source, function string, args [][]byte) ([]byte, error)
}

var (
	binaryOnce sync.Once
	binary     []byte
)

// Binary returns the relay module. It defines and exports memory with an
// arena allocator (alloc, free and reset), and exports exec, which forwards its six arguments unchanged to the
// imported env.exec.
func Binary() []byte {
	binaryOnce.Do(func() {
		i32 := api.ValueTypeI32
		params := []api.ValueType{i32, i32, i32, i32, i32, i32}
		results := []api.ValueType{api.ValueTypeI64}

		b := wasmgen.New()
		hostExec := b.ImportFunc(Namespace, ExecExport, params, results)
		b.Memory(1, sandbox.MemoryExport)
		wasmgen.BumpAlloc(b, heapStart)

		body := wasmgen.Code(nil)
		for i := range params {
			body = body.LocalGet(uint32(i))
		}
		b.Func(ExecExport, params, results, nil, body.Call(hostExec))

		binary = b.Build()
	})
	return binary
}

// Imports returns a function installing the host exec backed by exec. It
// fits host.Config.Imports.
func Imports(exec Executor) func(*sandbox.Runtime) error {
	return func(rt *sandbox.Runtime) error {
		return Register(rt, exec)
	}
}

// Register installs the host exec function into rt.
func Register(rt *sandbox.Runtime, exec Executor) error {
	if exec == nil {
		return errors.InvalidInput(errors.PhaseHost, "nil executor")
	}
	i32 := api.ValueTypeI32
	return rt.RegisterFunc(Namespace, ExecExport, sandbox.HostFunc{
		Fn:      hostExec(exec),
		Params:  []api.ValueType{i32, i32, i32, i32, i32, i32},
		Results: []api.ValueType{api.ValueTypeI64},
	})
}

func hostExec(exec Executor) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		g, err := sandbox.Guest(mod)
		if err != nil {
			panic(err)
		}

		source, err := g.ReadString(uint32(stack[0]), uint32(stack[1]))
		if err != nil {
			panic(err)
		}
		function, err := g.ReadString(uint32(stack[2]), uint32(stack[3]))
		if err != nil {
			panic(err)
		}
		block, err := g.Read(uint32(stack[4]), uint32(stack[5]))
		if err != nil {
			panic(err)
		}

		args, err := framing.Decode(block)
		if err != nil {
			panic(err)
		}

		Logger().Debug("exec",
			zap.String("source", source),
			zap.String("function", function),
			zap.Int("args", len(args)))

		out, err := exec.Execute(ctx, source, function, args)
		if err != nil {
			if _, ok := err.(*errors.Error); !ok {
				err = errors.Wrap(errors.PhaseInvoke, errors.KindSandboxFault, err,
					fmt.Sprintf("execute %s/%s", source, function))
			}
			panic(err)
		}

		result := framing.Encode([][]byte{out})
		ptr, err := g.WriteBytes(ctx, result)
		if err != nil {
			panic(err)
		}
		stack[0] = uint64(ptr)<<32 | uint64(len(result))
	}
}
