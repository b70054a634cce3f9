package wasmbridge

import "context"

// Memory represents guest linear memory
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU32(offset uint32) (uint32, error)
	WriteU32(offset uint32, value uint32) error
	Size() uint32
}

// Allocator allocates and frees guest linear memory through the guest's own
// allocator exports. Free is a no-op for guests that cannot free.
type Allocator interface {
	Alloc(ctx context.Context, size uint32) (uint32, error)
	Free(ctx context.Context, ptr, size uint32) error
}
