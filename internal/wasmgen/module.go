// Package wasmgen assembles small core WebAssembly modules in code: the relay
// module that forwards framed arguments to the host, and fixture guests.
//
// Function imports must be declared before local functions so that function
// indices are stable once returned.
package wasmgen

import (
	"bytes"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// Section ids.
const (
	secType   = 0x01
	secImport = 0x02
	secFunc   = 0x03
	secMemory = 0x05
	secGlobal = 0x06
	secExport = 0x07
	secCode   = 0x0a
	secData   = 0x0b
)

// Export kinds.
const (
	kindFunc   = 0x00
	kindMemory = 0x02
	kindGlobal = 0x03
)

type funcType struct {
	params  []api.ValueType
	results []api.ValueType
}

func (t funcType) encode() []byte {
	out := []byte{0x60}
	out = append(out, EncodeULEB128(uint32(len(t.params)))...)
	for _, p := range t.params {
		out = append(out, valType(p))
	}
	out = append(out, EncodeULEB128(uint32(len(t.results)))...)
	for _, r := range t.results {
		out = append(out, valType(r))
	}
	return out
}

type importFunc struct {
	module  string
	name    string
	typeIdx uint32
}

type localFunc struct {
	export  string
	locals  []api.ValueType
	body    Code
	typeIdx uint32
}

type global struct {
	export  string
	valType api.ValueType
	init    int64
	mutable bool
}

type dataSegment struct {
	bytes  []byte
	offset uint32
}

// Builder accumulates module contents.
type Builder struct {
	memoryExport string
	types        []funcType
	imports      []importFunc
	funcs        []localFunc
	globals      []global
	data         []dataSegment
	memoryPages  uint32
	hasMemory    bool
}

func New() *Builder {
	return &Builder{}
}

func (b *Builder) typeIndex(params, results []api.ValueType) uint32 {
	want := funcType{params: params, results: results}.encode()
	for i, t := range b.types {
		if bytes.Equal(t.encode(), want) {
			return uint32(i)
		}
	}
	b.types = append(b.types, funcType{params: params, results: results})
	return uint32(len(b.types) - 1)
}

// ImportFunc declares a function import and returns its function index.
func (b *Builder) ImportFunc(module, name string, params, results []api.ValueType) uint32 {
	if len(b.funcs) > 0 {
		panic(fmt.Sprintf("wasmgen: import %s#%s declared after local functions", module, name))
	}
	b.imports = append(b.imports, importFunc{
		module:  module,
		name:    name,
		typeIdx: b.typeIndex(params, results),
	})
	return uint32(len(b.imports) - 1)
}

// Memory defines the module's linear memory with minPages initial pages,
// exported under export when it is not empty.
func (b *Builder) Memory(minPages uint32, export string) {
	b.hasMemory = true
	b.memoryPages = minPages
	b.memoryExport = export
}

// Global defines a global and returns its index.
func (b *Builder) Global(t api.ValueType, mutable bool, init int64, export string) uint32 {
	b.globals = append(b.globals, global{
		export:  export,
		valType: t,
		init:    init,
		mutable: mutable,
	})
	return uint32(len(b.globals) - 1)
}

// Func defines a function and returns its index. Parameters occupy the first
// local indices, followed by locals. The trailing end opcode is added by
// Build.
func (b *Builder) Func(export string, params, results, locals []api.ValueType, body Code) uint32 {
	b.funcs = append(b.funcs, localFunc{
		export:  export,
		locals:  locals,
		body:    body,
		typeIdx: b.typeIndex(params, results),
	})
	return uint32(len(b.imports) + len(b.funcs) - 1)
}

// NextFunc returns the index the next Func call will be assigned.
func (b *Builder) NextFunc() uint32 {
	return uint32(len(b.imports) + len(b.funcs))
}

// Data places bytes at a fixed memory offset on instantiation.
func (b *Builder) Data(offset uint32, data []byte) {
	b.data = append(b.data, dataSegment{bytes: data, offset: offset})
}

// Build generates the module binary.
func (b *Builder) Build() []byte {
	wasm := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(b.types) > 0 {
		sec := EncodeULEB128(uint32(len(b.types)))
		for _, t := range b.types {
			sec = append(sec, t.encode()...)
		}
		wasm = appendSection(wasm, secType, sec)
	}

	if len(b.imports) > 0 {
		sec := EncodeULEB128(uint32(len(b.imports)))
		for _, im := range b.imports {
			sec = appendName(sec, im.module)
			sec = appendName(sec, im.name)
			sec = append(sec, kindFunc)
			sec = append(sec, EncodeULEB128(im.typeIdx)...)
		}
		wasm = appendSection(wasm, secImport, sec)
	}

	if len(b.funcs) > 0 {
		sec := EncodeULEB128(uint32(len(b.funcs)))
		for _, f := range b.funcs {
			sec = append(sec, EncodeULEB128(f.typeIdx)...)
		}
		wasm = appendSection(wasm, secFunc, sec)
	}

	if b.hasMemory {
		sec := []byte{0x01, 0x00}
		sec = append(sec, EncodeULEB128(b.memoryPages)...)
		wasm = appendSection(wasm, secMemory, sec)
	}

	if len(b.globals) > 0 {
		sec := EncodeULEB128(uint32(len(b.globals)))
		for _, g := range b.globals {
			sec = append(sec, valType(g.valType))
			if g.mutable {
				sec = append(sec, 0x01)
			} else {
				sec = append(sec, 0x00)
			}
			if g.valType == api.ValueTypeI64 {
				sec = append(sec, opI64Const)
				sec = append(sec, EncodeSLEB128(g.init)...)
			} else {
				sec = append(sec, opI32Const)
				sec = append(sec, EncodeSLEB128(int32(g.init))...)
			}
			sec = append(sec, opEnd)
		}
		wasm = appendSection(wasm, secGlobal, sec)
	}

	wasm = appendSection(wasm, secExport, b.buildExportSection())

	if len(b.funcs) > 0 {
		sec := EncodeULEB128(uint32(len(b.funcs)))
		for _, f := range b.funcs {
			body := encodeLocals(f.locals)
			body = append(body, f.body...)
			body = append(body, opEnd)
			sec = append(sec, EncodeULEB128(uint32(len(body)))...)
			sec = append(sec, body...)
		}
		wasm = appendSection(wasm, secCode, sec)
	}

	if len(b.data) > 0 {
		sec := EncodeULEB128(uint32(len(b.data)))
		for _, d := range b.data {
			sec = append(sec, 0x00, opI32Const)
			sec = append(sec, EncodeSLEB128(int32(d.offset))...)
			sec = append(sec, opEnd)
			sec = append(sec, EncodeULEB128(uint32(len(d.bytes)))...)
			sec = append(sec, d.bytes...)
		}
		wasm = appendSection(wasm, secData, sec)
	}

	return wasm
}

func (b *Builder) buildExportSection() []byte {
	var entries []byte
	n := 0

	if b.hasMemory && b.memoryExport != "" {
		entries = appendName(entries, b.memoryExport)
		entries = append(entries, kindMemory, 0x00)
		n++
	}
	for i, g := range b.globals {
		if g.export == "" {
			continue
		}
		entries = appendName(entries, g.export)
		entries = append(entries, kindGlobal)
		entries = append(entries, EncodeULEB128(uint32(i))...)
		n++
	}
	for i, f := range b.funcs {
		if f.export == "" {
			continue
		}
		entries = appendName(entries, f.export)
		entries = append(entries, kindFunc)
		entries = append(entries, EncodeULEB128(uint32(len(b.imports)+i))...)
		n++
	}

	return append(EncodeULEB128(uint32(n)), entries...)
}

// encodeLocals run-length groups local declarations.
func encodeLocals(locals []api.ValueType) []byte {
	type group struct {
		t api.ValueType
		n uint32
	}
	var groups []group
	for _, l := range locals {
		if len(groups) > 0 && groups[len(groups)-1].t == l {
			groups[len(groups)-1].n++
			continue
		}
		groups = append(groups, group{t: l, n: 1})
	}

	out := EncodeULEB128(uint32(len(groups)))
	for _, g := range groups {
		out = append(out, EncodeULEB128(g.n)...)
		out = append(out, valType(g.t))
	}
	return out
}
