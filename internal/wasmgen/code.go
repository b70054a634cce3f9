package wasmgen

// Opcodes used by the generated modules.
const (
	opUnreachable   = 0x00
	opBlock         = 0x02
	blockEmpty      = 0x40
	opBr            = 0x0c
	opBrIf          = 0x0d
	opEnd           = 0x0b
	opReturn        = 0x0f
	opCall          = 0x10
	opDrop          = 0x1a
	opLocalGet      = 0x20
	opLocalSet      = 0x21
	opLocalTee      = 0x22
	opGlobalGet     = 0x23
	opGlobalSet     = 0x24
	opI32Load       = 0x28
	opI32Store      = 0x36
	opMemorySize    = 0x3f
	opMemoryGrow    = 0x40
	opI32Const      = 0x41
	opI64Const      = 0x42
	opI32Eqz        = 0x45
	opI32Eq         = 0x46
	opI32Ne         = 0x47
	opI32LeU        = 0x4d
	opI32Add        = 0x6a
	opI32Sub        = 0x6b
	opI32And        = 0x71
	opI32Shl        = 0x74
	opI32ShrU       = 0x76
	opI64Or         = 0x84
	opI64Shl        = 0x86
	opI64ExtendI32U = 0xad
	opPrefixFC      = 0xfc
	opMemoryCopy    = 0x0a
)

// Code is a function body under construction. Methods append one
// instruction and return the extended body.
type Code []byte

func (c Code) Unreachable() Code { return append(c, opUnreachable) }
func (c Code) Return() Code      { return append(c, opReturn) }
func (c Code) Drop() Code        { return append(c, opDrop) }
func (c Code) I32Add() Code      { return append(c, opI32Add) }
func (c Code) I32Eqz() Code      { return append(c, opI32Eqz) }
func (c Code) I32Eq() Code       { return append(c, opI32Eq) }
func (c Code) I32Ne() Code       { return append(c, opI32Ne) }
func (c Code) I32LeU() Code      { return append(c, opI32LeU) }
func (c Code) I32Sub() Code      { return append(c, opI32Sub) }
func (c Code) I32And() Code      { return append(c, opI32And) }
func (c Code) I32Shl() Code      { return append(c, opI32Shl) }
func (c Code) I32ShrU() Code     { return append(c, opI32ShrU) }
func (c Code) I64Or() Code       { return append(c, opI64Or) }
func (c Code) I64Shl() Code      { return append(c, opI64Shl) }
func (c Code) MemorySize() Code  { return append(c, opMemorySize, 0x00) }
func (c Code) MemoryGrow() Code  { return append(c, opMemoryGrow, 0x00) }
func (c Code) Block() Code       { return append(c, opBlock, blockEmpty) }
func (c Code) End() Code         { return append(c, opEnd) }

// I64ExtendI32U zero-extends the i32 on top of the stack.
func (c Code) I64ExtendI32U() Code { return append(c, opI64ExtendI32U) }

func (c Code) LocalGet(i uint32) Code  { return append(append(c, opLocalGet), EncodeULEB128(i)...) }
func (c Code) LocalSet(i uint32) Code  { return append(append(c, opLocalSet), EncodeULEB128(i)...) }
func (c Code) LocalTee(i uint32) Code  { return append(append(c, opLocalTee), EncodeULEB128(i)...) }
func (c Code) GlobalGet(i uint32) Code { return append(append(c, opGlobalGet), EncodeULEB128(i)...) }
func (c Code) GlobalSet(i uint32) Code { return append(append(c, opGlobalSet), EncodeULEB128(i)...) }
func (c Code) Call(fn uint32) Code     { return append(append(c, opCall), EncodeULEB128(fn)...) }
func (c Code) Br(depth uint32) Code    { return append(append(c, opBr), EncodeULEB128(depth)...) }
func (c Code) BrIf(depth uint32) Code  { return append(append(c, opBrIf), EncodeULEB128(depth)...) }

func (c Code) I32Const(v int32) Code { return append(append(c, opI32Const), EncodeSLEB128(v)...) }
func (c Code) I64Const(v int64) Code { return append(append(c, opI64Const), EncodeSLEB128(v)...) }

// I32Load loads a 4-byte aligned word at address+offset.
func (c Code) I32Load(offset uint32) Code {
	c = append(c, opI32Load, 0x02)
	return append(c, EncodeULEB128(offset)...)
}

// I32Store stores a 4-byte aligned word at address+offset.
func (c Code) I32Store(offset uint32) Code {
	c = append(c, opI32Store, 0x02)
	return append(c, EncodeULEB128(offset)...)
}

// MemoryCopy copies [src, src+n) to dst; operands are dst, src, n.
func (c Code) MemoryCopy() Code {
	return append(c, opPrefixFC, opMemoryCopy, 0x00, 0x00)
}

// PackPtrLen combines the i32 locals ptr and n into ptr<<32 | n.
func (c Code) PackPtrLen(ptr, n uint32) Code {
	return c.LocalGet(ptr).I64ExtendI32U().I64Const(32).I64Shl().
		LocalGet(n).I64ExtendI32U().I64Or()
}
