package sandbox

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/errors"
)

// Guest export names every module must provide to exchange byte buffers.
const (
	MemoryExport = "memory"
	AllocExport  = "alloc"
)

// Optional guest exports. When present, the host releases the buffers it
// allocated once a call is done with them, and resets the heap on request.
const (
	FreeExport    = "free"
	DeallocExport = "dealloc"
	ResetExport   = "reset"
)

// GuestMemory reads and writes a guest's linear memory and allocates through
// its alloc export.
type GuestMemory struct {
	mod api.Module
	mem api.Memory
}

var (
	_ wasmbridge.Memory    = (*GuestMemory)(nil)
	_ wasmbridge.Allocator = (*GuestMemory)(nil)
)

// Guest returns the memory view of mod. It fails when mod has no exported
// memory.
func Guest(mod api.Module) (*GuestMemory, error) {
	mem := mod.ExportedMemory(MemoryExport)
	if mem == nil {
		mem = mod.Memory()
	}
	if mem == nil {
		return nil, errors.NotFound(errors.PhaseInvoke, "memory export", MemoryExport)
	}
	return &GuestMemory{mod: mod, mem: mem}, nil
}

// Read copies length bytes starting at offset.
func (g *GuestMemory) Read(offset, length uint32) ([]byte, error) {
	buf, ok := g.mem.Read(offset, length)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseInvoke, offset, length)
	}
	out := make([]byte, length)
	copy(out, buf)
	return out, nil
}

// ReadString decodes length bytes at offset as a string.
func (g *GuestMemory) ReadString(offset, length uint32) (string, error) {
	buf, ok := g.mem.Read(offset, length)
	if !ok {
		return "", errors.OutOfBounds(errors.PhaseInvoke, offset, length)
	}
	return string(buf), nil
}

func (g *GuestMemory) Write(offset uint32, data []byte) error {
	if !g.mem.Write(offset, data) {
		return errors.OutOfBounds(errors.PhaseInvoke, offset, uint32(len(data)))
	}
	return nil
}

func (g *GuestMemory) ReadU32(offset uint32) (uint32, error) {
	v, ok := g.mem.ReadUint32Le(offset)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseInvoke, offset, 4)
	}
	return v, nil
}

func (g *GuestMemory) WriteU32(offset, value uint32) error {
	if !g.mem.WriteUint32Le(offset, value) {
		return errors.OutOfBounds(errors.PhaseInvoke, offset, 4)
	}
	return nil
}

func (g *GuestMemory) Size() uint32 {
	return g.mem.Size()
}

// Alloc reserves size bytes through the guest's alloc export.
func (g *GuestMemory) Alloc(ctx context.Context, size uint32) (uint32, error) {
	fn := g.mod.ExportedFunction(AllocExport)
	if fn == nil {
		return 0, errors.NotFound(errors.PhaseInvoke, "allocator export", AllocExport)
	}
	res, err := fn.Call(ctx, uint64(size))
	if err != nil {
		return 0, callError(AllocExport, err)
	}
	if len(res) != 1 {
		return 0, errors.TypeError(errors.PhaseInvoke, []string{AllocExport}, "",
			"allocator must return a single pointer")
	}
	return uint32(res[0]), nil
}

// WriteBytes copies data into a fresh guest allocation and returns its
// address. The block belongs to the caller until freed.
func (g *GuestMemory) WriteBytes(ctx context.Context, data []byte) (uint32, error) {
	ptr, err := g.Alloc(ctx, uint32(len(data)))
	if err != nil {
		return 0, err
	}
	if err := g.Write(ptr, data); err != nil {
		_ = g.Free(ctx, ptr, uint32(len(data)))
		return 0, err
	}
	return ptr, nil
}

// Free releases a block obtained from Alloc through the guest's free or
// dealloc export. The export may take (ptr) or (ptr, size). Guests without
// either export keep the block; Free is then a no-op.
func (g *GuestMemory) Free(ctx context.Context, ptr, size uint32) error {
	name := FreeExport
	fn := g.mod.ExportedFunction(name)
	if fn == nil {
		name = DeallocExport
		fn = g.mod.ExportedFunction(name)
	}
	if fn == nil {
		return nil
	}

	def := fn.Definition()
	if len(def.ResultTypes()) != 0 {
		return errors.TypeError(errors.PhaseInvoke, []string{name}, "",
			"free export must not return a value")
	}
	var err error
	switch len(def.ParamTypes()) {
	case 1:
		_, err = fn.Call(ctx, uint64(ptr))
	case 2:
		_, err = fn.Call(ctx, uint64(ptr), uint64(size))
	default:
		return errors.TypeError(errors.PhaseInvoke, []string{name}, "",
			"free export must take (ptr) or (ptr, size)")
	}
	if err != nil {
		return callError(name, err)
	}
	return nil
}
