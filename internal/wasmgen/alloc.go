package wasmgen

import (
	"github.com/tetratelabs/wazero/api"
)

const i32 = api.ValueTypeI32

// Export names of the functions defined by BumpAlloc.
const (
	AllocExport = "alloc"
	FreeExport  = "free"
	ResetExport = "reset"
)

// Heap holds the function indices defined by BumpAlloc.
type Heap struct {
	Alloc uint32
	Free  uint32
	Reset uint32
}

// BumpAlloc defines an arena allocator over memory starting at heapStart and
// exports it as:
//
//	alloc(size) -> ptr   8-byte aligned block; grows memory, traps when it cannot
//	free(ptr, size)      releases a block; the newest block is reclaimed at once,
//	                     and the arena rewinds to heapStart when none are live
//	reset()              rewinds the arena and forgets every live block
func BumpAlloc(b *Builder, heapStart int32) Heap {
	heap := b.Global(i32, true, int64(heapStart), "")
	live := b.Global(i32, true, 0, "")

	const (
		size = 0
		old  = 1
		end  = 2
	)
	alloc := Code(nil).
		GlobalGet(live).I32Const(1).I32Add().GlobalSet(live).
		GlobalGet(heap).LocalSet(old).
		// end = old + ((size + 7) & -8)
		LocalGet(old).
		LocalGet(size).I32Const(7).I32Add().I32Const(-8).I32And().
		I32Add().LocalTee(end).GlobalSet(heap).
		Block().
		LocalGet(end).MemorySize().I32Const(16).I32Shl().I32LeU().BrIf(0).
		// grow by ceil((end - memsize) / 64KiB) pages
		LocalGet(end).MemorySize().I32Const(16).I32Shl().I32Sub().
		I32Const(0xffff).I32Add().I32Const(16).I32ShrU().
		MemoryGrow().I32Const(-1).I32Ne().BrIf(0).
		Unreachable().
		End().
		LocalGet(old)

	const ptr = 0
	free := Code(nil).
		Block().
		// a free with nothing live is ignored
		GlobalGet(live).I32Eqz().BrIf(0).
		GlobalGet(live).I32Const(1).I32Sub().GlobalSet(live).
		Block().
		GlobalGet(live).BrIf(0).
		I32Const(heapStart).GlobalSet(heap).
		Br(1).
		End().
		// newest block: ptr + ((size + 7) & -8) == heap
		LocalGet(ptr).
		LocalGet(size+1).I32Const(7).I32Add().I32Const(-8).I32And().
		I32Add().GlobalGet(heap).I32Ne().BrIf(0).
		LocalGet(ptr).GlobalSet(heap).
		End()

	reset := Code(nil).
		I32Const(heapStart).GlobalSet(heap).
		I32Const(0).GlobalSet(live)

	return Heap{
		Alloc: b.Func(AllocExport, []api.ValueType{i32}, []api.ValueType{i32}, []api.ValueType{i32, i32}, alloc),
		Free:  b.Func(FreeExport, []api.ValueType{i32, i32}, nil, nil, free),
		Reset: b.Func(ResetExport, nil, nil, nil, reset),
	}
}
