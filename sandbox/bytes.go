package sandbox

import (
	"fmt"
	"reflect"

	"github.com/wippyai/wasm-bridge/errors"
)

// ToBytes converts a byte-like argument to a byte slice. Accepted: []byte,
// string, byte arrays, and values with a Bytes() []byte method.
func ToBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	case interface{ Bytes() []byte }:
		return b.Bytes(), nil
	case nil:
		return nil, errors.TypeError(errors.PhaseInvoke, nil, "nil", "expected a byte buffer")
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
		out := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(out), rv)
		return out, nil
	}
	return nil, errors.TypeError(errors.PhaseInvoke, nil, fmt.Sprintf("%T", v), "expected a byte buffer")
}

// ToBytesList converts every element with ToBytes, recording the failing
// index in the error path.
func ToBytesList(vs []any) ([][]byte, error) {
	out := make([][]byte, len(vs))
	for i, v := range vs {
		b, err := ToBytes(v)
		if err != nil {
			if e, ok := err.(*errors.Error); ok {
				e.Path = []string{fmt.Sprintf("args[%d]", i)}
			}
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}
