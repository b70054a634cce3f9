package wasmgen

import (
	"github.com/tetratelabs/wazero/api"
)

// EncodeULEB128 encodes an unsigned value in LEB128 format.
func EncodeULEB128(v uint32) []byte {
	var result []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		result = append(result, b)
		if v == 0 {
			break
		}
	}
	return result
}

// EncodeSLEB128 encodes a signed value in LEB128 format.
func EncodeSLEB128[T int32 | int64](v T) []byte {
	var result []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			result = append(result, b)
			break
		}
		result = append(result, b|0x80)
	}
	return result
}

func valType(t api.ValueType) byte {
	switch t {
	case api.ValueTypeI64:
		return 0x7e
	case api.ValueTypeF32:
		return 0x7d
	case api.ValueTypeF64:
		return 0x7c
	default:
		return 0x7f
	}
}

func appendName(dst []byte, name string) []byte {
	dst = append(dst, EncodeULEB128(uint32(len(name)))...)
	return append(dst, name...)
}

func appendSection(dst []byte, id byte, body []byte) []byte {
	dst = append(dst, id)
	dst = append(dst, EncodeULEB128(uint32(len(body)))...)
	return append(dst, body...)
}
