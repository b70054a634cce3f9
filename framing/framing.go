// Package framing packs an ordered list of byte arrays into a single buffer
// and back.
//
// A framed block is a concatenation of records
//
//	u32 length (little-endian) | length bytes of payload
//
// with no padding and no terminator. A block is well formed only when its
// records partition it exactly.
package framing

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/wippyai/wasm-bridge/errors"
)

// PrefixSize is the size of each record's length prefix.
const PrefixSize = 4

// MaxRecord is the largest payload a single record can describe.
const MaxRecord = math.MaxUint32

// Size returns the encoded size of args.
func Size(args [][]byte) int {
	n := len(args) * PrefixSize
	for _, a := range args {
		n += len(a)
	}
	return n
}

// Encode frames args into a new block.
func Encode(args [][]byte) []byte {
	block := make([]byte, 0, Size(args))
	for _, a := range args {
		block = Append(block, a)
	}
	return block
}

// Append appends one record to block and returns the extended slice.
func Append(block, arg []byte) []byte {
	block = binary.LittleEndian.AppendUint32(block, uint32(len(arg)))
	return append(block, arg...)
}

// Decode splits block into its records. The returned slices alias block.
func Decode(block []byte) ([][]byte, error) {
	var args [][]byte
	off := 0
	for off < len(block) {
		if len(block)-off < PrefixSize {
			return nil, errors.New(errors.PhaseFraming, errors.KindFraming).
				Path("record", strconv.Itoa(len(args))).
				Value(off).
				Detail("at offset %d: %d trailing bytes cannot hold a length prefix", off, len(block)-off).
				Build()
		}
		n := binary.LittleEndian.Uint32(block[off:])
		off += PrefixSize
		if uint64(n) > uint64(len(block)-off) {
			return nil, errors.New(errors.PhaseFraming, errors.KindFraming).
				Path("record", strconv.Itoa(len(args))).
				Value(off).
				Detail("at offset %d: record length %d overruns block of %d bytes", off-PrefixSize, n, len(block)).
				Build()
		}
		args = append(args, block[off:off+int(n)])
		off += int(n)
	}
	return args, nil
}

// DecodeN decodes block and requires exactly n records.
func DecodeN(block []byte, n int) ([][]byte, error) {
	args, err := Decode(block)
	if err != nil {
		return nil, err
	}
	if len(args) != n {
		return nil, errors.Framing(len(block), "expected "+strconv.Itoa(n)+" records, found "+strconv.Itoa(len(args)))
	}
	return args, nil
}
