package wasmgen

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

func TestEncodeULEB128(t *testing.T) {
	tests := []struct {
		expected []byte
		input    uint32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x01}, 1},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
	}

	for _, tt := range tests {
		result := EncodeULEB128(tt.input)
		if string(result) != string(tt.expected) {
			t.Errorf("EncodeULEB128(%d): expected % x, got % x", tt.input, tt.expected, result)
		}
	}
}

func TestEncodeSLEB128(t *testing.T) {
	tests := []struct {
		expected []byte
		input    int64
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, -1},
		{[]byte{0x3f}, 63},
		{[]byte{0xc0, 0x00}, 64},
		{[]byte{0x40}, -64},
		{[]byte{0x80, 0x08}, 1024},
	}

	for _, tt := range tests {
		result := EncodeSLEB128(tt.input)
		if string(result) != string(tt.expected) {
			t.Errorf("EncodeSLEB128(%d): expected % x, got % x", tt.input, tt.expected, result)
		}
	}
}

func TestBuilder_Header(t *testing.T) {
	wasm := New().Build()
	want := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	if string(wasm[:8]) != string(want) {
		t.Fatalf("bad header: % x", wasm[:8])
	}
}

func TestBuilder_TypeDedup(t *testing.T) {
	b := New()
	p := []api.ValueType{api.ValueTypeI32}
	b.ImportFunc("env", "a", p, nil)
	b.ImportFunc("env", "b", p, nil)
	b.ImportFunc("env", "c", nil, p)
	if len(b.types) != 2 {
		t.Errorf("expected 2 distinct types, got %d", len(b.types))
	}
}

func TestBuilder_ImportAfterFuncPanics(t *testing.T) {
	b := New()
	b.Func("f", nil, nil, nil, nil)

	defer func() {
		if recover() == nil {
			t.Error("expected panic for late import")
		}
	}()
	b.ImportFunc("env", "late", nil, nil)
}

func TestBuilder_FuncIndices(t *testing.T) {
	b := New()
	imp := b.ImportFunc("env", "h", nil, nil)
	if imp != 0 {
		t.Errorf("expected import index 0, got %d", imp)
	}
	if next := b.NextFunc(); next != 1 {
		t.Errorf("expected next index 1, got %d", next)
	}
	f := b.Func("f", nil, nil, nil, Code(nil).Call(imp))
	if f != 1 {
		t.Errorf("expected func index 1, got %d", f)
	}
}

func TestBuilder_Compiles(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	b := New()
	b.ImportFunc("env", "h", []api.ValueType{api.ValueTypeI32}, nil)
	b.Memory(1, "memory")
	BumpAlloc(b, 64)
	b.Global(api.ValueTypeI64, false, -5, "g")
	b.Func("", nil, nil, []api.ValueType{api.ValueTypeI64, api.ValueTypeI32, api.ValueTypeI32}, nil)

	compiled, err := r.CompileModule(ctx, b.Build())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer compiled.Close(ctx)

	imports := compiled.ImportedFunctions()
	if len(imports) != 1 {
		t.Fatalf("expected 1 import, got %d", len(imports))
	}
	mod, name, _ := imports[0].Import()
	if mod != "env" || name != "h" {
		t.Errorf("unexpected import %s#%s", mod, name)
	}

	exports := compiled.ExportedFunctions()
	for _, name := range []string{AllocExport, FreeExport, ResetExport} {
		if _, ok := exports[name]; !ok {
			t.Errorf("expected %s export", name)
		}
	}
	if len(exports) != 3 {
		t.Errorf("expected only the allocator exported, got %d functions", len(exports))
	}
	if _, ok := compiled.ExportedMemories()["memory"]; !ok {
		t.Error("expected memory export")
	}
}

func instantiate(t *testing.T, b *Builder) api.Module {
	t.Helper()
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	t.Cleanup(func() { r.Close(ctx) })

	mod, err := r.Instantiate(ctx, b.Build())
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	return mod
}

func TestBumpAlloc(t *testing.T) {
	b := New()
	b.Memory(1, "memory")
	BumpAlloc(b, 1024)
	mod := instantiate(t, b)

	ctx := context.Background()
	alloc := mod.ExportedFunction("alloc")

	res, err := alloc.Call(ctx, 3)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if res[0] != 1024 {
		t.Errorf("expected first block at 1024, got %d", res[0])
	}

	res, err = alloc.Call(ctx, 10)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if res[0] != 1032 {
		t.Errorf("expected 8-byte aligned block at 1032, got %d", res[0])
	}

	res, err = alloc.Call(ctx, 0)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if res[0] != 1048 {
		t.Errorf("expected zero-size block at 1048, got %d", res[0])
	}
}

func TestBumpAlloc_Grows(t *testing.T) {
	b := New()
	b.Memory(1, "memory")
	BumpAlloc(b, 1024)
	mod := instantiate(t, b)

	ctx := context.Background()
	res, err := mod.ExportedFunction("alloc").Call(ctx, 200_000)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	ptr := uint32(res[0])

	if size := mod.Memory().Size(); size < ptr+200_000 {
		t.Fatalf("memory not grown: size %d, need %d", size, ptr+200_000)
	}
	if !mod.Memory().Write(ptr+199_999, []byte{1}) {
		t.Error("expected last byte of block to be writable")
	}
}

func TestBumpAlloc_FreeNewest(t *testing.T) {
	b := New()
	b.Memory(1, "memory")
	BumpAlloc(b, 1024)
	mod := instantiate(t, b)

	ctx := context.Background()
	alloc := mod.ExportedFunction(AllocExport)
	free := mod.ExportedFunction(FreeExport)

	first, err := alloc.Call(ctx, 16)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	second, err := alloc.Call(ctx, 5)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if second[0] != 1040 {
		t.Fatalf("expected second block at 1040, got %d", second[0])
	}

	if _, err := free.Call(ctx, second[0], 5); err != nil {
		t.Fatalf("free: %v", err)
	}
	res, err := alloc.Call(ctx, 8)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if res[0] != 1040 {
		t.Errorf("expected newest block reclaimed at 1040, got %d", res[0])
	}

	// freeing an older block only drops the live count
	if _, err := free.Call(ctx, first[0], 16); err != nil {
		t.Fatalf("free: %v", err)
	}
	res, err = alloc.Call(ctx, 8)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if res[0] != 1048 {
		t.Errorf("expected block at 1048 while one is live, got %d", res[0])
	}
}

func TestBumpAlloc_FreeAllRewinds(t *testing.T) {
	b := New()
	b.Memory(1, "memory")
	BumpAlloc(b, 1024)
	mod := instantiate(t, b)

	ctx := context.Background()
	alloc := mod.ExportedFunction(AllocExport)
	free := mod.ExportedFunction(FreeExport)

	var ptrs []uint64
	for _, size := range []uint64{8, 24, 100} {
		res, err := alloc.Call(ctx, size)
		if err != nil {
			t.Fatalf("alloc: %v", err)
		}
		ptrs = append(ptrs, res[0])
	}
	// out of order: the arena rewinds once nothing is live
	for _, i := range []int{0, 2, 1} {
		if _, err := free.Call(ctx, ptrs[i], 8); err != nil {
			t.Fatalf("free: %v", err)
		}
	}
	// extra frees are ignored
	if _, err := free.Call(ctx, 2048, 8); err != nil {
		t.Fatalf("free: %v", err)
	}

	res, err := alloc.Call(ctx, 4)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if res[0] != 1024 {
		t.Errorf("expected arena rewound to 1024, got %d", res[0])
	}
}

func TestBumpAlloc_Reset(t *testing.T) {
	b := New()
	b.Memory(1, "memory")
	BumpAlloc(b, 1024)
	mod := instantiate(t, b)

	ctx := context.Background()
	alloc := mod.ExportedFunction(AllocExport)

	// 16 pages worth of 4 KiB blocks, many times over, fit when reset between rounds
	for round := 0; round < 50; round++ {
		for i := 0; i < 200; i++ {
			if _, err := alloc.Call(ctx, 4096); err != nil {
				t.Fatalf("round %d alloc %d: %v", round, i, err)
			}
		}
		if _, err := mod.ExportedFunction(ResetExport).Call(ctx); err != nil {
			t.Fatalf("reset: %v", err)
		}
	}

	res, err := alloc.Call(ctx, 1)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if res[0] != 1024 {
		t.Errorf("expected arena rewound to 1024, got %d", res[0])
	}
	if pages := mod.Memory().Size() / 65536; pages > 14 {
		t.Errorf("expected memory to stay near one round of blocks, got %d pages", pages)
	}
}

func TestData(t *testing.T) {
	b := New()
	b.Memory(1, "memory")
	b.Data(100, []byte("hello"))
	mod := instantiate(t, b)

	got, ok := mod.Memory().Read(100, 5)
	if !ok || string(got) != "hello" {
		t.Errorf("expected data segment, got %q", got)
	}
}

func TestCode_PackPtrLen(t *testing.T) {
	b := New()
	b.Func("pack", []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI64}, nil,
		Code(nil).PackPtrLen(0, 1))
	mod := instantiate(t, b)

	res, err := mod.ExportedFunction("pack").Call(context.Background(), 0x1234, 0xffff_fff0)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res[0] != 0x1234_ffff_fff0 {
		t.Errorf("expected 0x1234fffffff0, got %#x", res[0])
	}
}

func TestCode_MemoryCopy(t *testing.T) {
	b := New()
	b.Memory(1, "memory")
	b.Data(0, []byte("abcdef"))
	b.Func("cp", nil, nil, nil, Code(nil).I32Const(10).I32Const(2).I32Const(3).MemoryCopy())
	mod := instantiate(t, b)

	if _, err := mod.ExportedFunction("cp").Call(context.Background()); err != nil {
		t.Fatalf("call: %v", err)
	}
	got, _ := mod.Memory().Read(10, 3)
	if string(got) != "cde" {
		t.Errorf("expected cde, got %q", got)
	}
}
