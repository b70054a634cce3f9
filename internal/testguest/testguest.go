// Package testguest builds the fixture guest modules used across package
// tests. Every guest exports memory and an allocator, and follows the
// (ptr, len) argument convention.
package testguest

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-bridge/internal/wasmgen"
)

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

// scratch holds the (ptr, len) pair written by state_get.
const scratch = 16

// State returns a guest exporting:
//
//	echo(p, l) -> i64            one-record block holding the argument
//	passthrough(p, l) -> i64     the argument itself, read as a framed block
//	get(kp, kl) -> i64           one-record block holding state_get(key)
//	set(kp, kl, vp, vl)          state_set(key, value)
//	copy(skp, skl, dkp, dkl)     state_set(dst, state_get(src))
//	second(ap, al, bp, bl) -> i64  one-record block holding the second argument
//	fail(p, l)                   throw(message)
//	trap()                       unreachable
//	log(p, l)                    log(message)
//	verify(bp, bl, ip, il) -> i32  1 when both lengths match
func State() []byte {
	b := wasmgen.New()
	stateGet := b.ImportFunc("env", "state_get", []api.ValueType{i32, i32, i32}, nil)
	stateSet := b.ImportFunc("env", "state_set", []api.ValueType{i32, i32, i32, i32}, nil)
	throw := b.ImportFunc("env", "throw", []api.ValueType{i32, i32}, nil)
	logFn := b.ImportFunc("env", "log", []api.ValueType{i32, i32}, nil)

	b.Memory(2, "memory")
	heap := wasmgen.BumpAlloc(b, 1024)
	alloc := heap.Alloc

	pair := []api.ValueType{i32, i32}
	quad := []api.ValueType{i32, i32, i32, i32}
	packed := []api.ValueType{i64}

	// echo: locals 2=tmp 3=tot
	b.Func("echo", pair, packed, []api.ValueType{i32, i32},
		frameOne(nil, alloc, 0, 1, 2, 3))

	b.Func("passthrough", pair, packed, nil,
		wasmgen.Code(nil).PackPtrLen(0, 1))

	// get: locals 2=vp 3=vl 4=tmp 5=tot
	getBody := wasmgen.Code(nil).
		I32Const(scratch).LocalGet(0).LocalGet(1).Call(stateGet).
		I32Const(scratch).I32Load(0).LocalSet(2).
		I32Const(scratch).I32Load(4).LocalSet(3)
	b.Func("get", pair, packed, []api.ValueType{i32, i32, i32, i32},
		frameOne(getBody, alloc, 2, 3, 4, 5).
			LocalGet(2).LocalGet(3).Call(heap.Free))

	b.Func("set", quad, nil, nil, wasmgen.Code(nil).
		LocalGet(0).LocalGet(1).LocalGet(2).LocalGet(3).Call(stateSet))

	b.Func("copy", quad, nil, nil, wasmgen.Code(nil).
		I32Const(scratch).LocalGet(0).LocalGet(1).Call(stateGet).
		LocalGet(2).LocalGet(3).
		I32Const(scratch).I32Load(0).
		I32Const(scratch).I32Load(4).
		Call(stateSet).
		I32Const(scratch).I32Load(0).
		I32Const(scratch).I32Load(4).
		Call(heap.Free))

	// second: locals 4=tmp 5=tot
	b.Func("second", quad, packed, []api.ValueType{i32, i32},
		frameOne(nil, alloc, 2, 3, 4, 5))

	b.Func("fail", pair, nil, nil, wasmgen.Code(nil).
		LocalGet(0).LocalGet(1).Call(throw))

	b.Func("trap", nil, nil, nil, wasmgen.Code(nil).Unreachable())

	b.Func("log", pair, nil, nil, wasmgen.Code(nil).
		LocalGet(0).LocalGet(1).Call(logFn))

	b.Func("verify", quad, []api.ValueType{i32}, nil, wasmgen.Code(nil).
		LocalGet(1).LocalGet(3).I32Eq())

	return b.Build()
}

// Plain returns a guest with no imports exporting memory, alloc, free,
// reset and echo(p, l) -> i64.
func Plain() []byte {
	b := wasmgen.New()
	b.Memory(1, "memory")
	heap := wasmgen.BumpAlloc(b, 1024)
	b.Func("echo", []api.ValueType{i32, i32}, []api.ValueType{i64}, []api.ValueType{i32, i32},
		frameOne(nil, heap.Alloc, 0, 1, 2, 3))
	return b.Build()
}

// Counting returns a guest exporting memory, an alloc that never reuses
// memory, dealloc(ptr), and echo(p, l) -> i64. Each dealloc call increments
// the exported i32 global "deallocs".
func Counting() []byte {
	b := wasmgen.New()
	b.Memory(4, "memory")
	top := b.Global(i32, true, 1024, "")
	count := b.Global(i32, true, 0, "deallocs")

	// alloc: local 1=old
	alloc := b.Func("alloc", []api.ValueType{i32}, []api.ValueType{i32}, []api.ValueType{i32}, wasmgen.Code(nil).
		GlobalGet(top).LocalSet(1).
		GlobalGet(top).
		LocalGet(0).I32Const(7).I32Add().I32Const(-8).I32And().
		I32Add().GlobalSet(top).
		LocalGet(1))
	b.Func("dealloc", []api.ValueType{i32}, nil, nil, wasmgen.Code(nil).
		GlobalGet(count).I32Const(1).I32Add().GlobalSet(count))
	b.Func("echo", []api.ValueType{i32, i32}, []api.ValueType{i64}, []api.ValueType{i32, i32},
		frameOne(nil, alloc, 0, 1, 2, 3))
	return b.Build()
}

// Unresolvable returns a guest importing a function no host provides.
func Unresolvable() []byte {
	b := wasmgen.New()
	b.ImportFunc("env", "missing_fn", nil, nil)
	b.Memory(1, "memory")
	return b.Build()
}

// frameOne appends code that copies [ptr, ptr+n) into a fresh one-record
// framed block and leaves the packed (block<<32 | size) on the stack.
func frameOne(c wasmgen.Code, alloc, ptr, n, tmp, tot uint32) wasmgen.Code {
	return c.
		LocalGet(n).I32Const(4).I32Add().LocalTee(tot).
		Call(alloc).LocalSet(tmp).
		LocalGet(tmp).LocalGet(n).I32Store(0).
		LocalGet(tmp).I32Const(4).I32Add().LocalGet(ptr).LocalGet(n).MemoryCopy().
		PackPtrLen(tmp, tot)
}
