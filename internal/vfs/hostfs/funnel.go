package hostfs

import (
	"fmt"
	"math"

	"github.com/quirelabs/quire/internal/vfs"
)

// Result funnels. Every value coming back from a callback passes through
// exactly one of these, so an unexpected host shape fails here with a typed
// error instead of surfacing somewhere deep in an engine.

func asString(op, path string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", shapeErr(op, path, "string", v)
	}
	return s, nil
}

func asBool(op, path string, v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, shapeErr(op, path, "bool", v)
	}
	return b, nil
}

func asStrings(op, path string, v any) ([]string, error) {
	switch vv := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return vv, nil
	case []any:
		out := make([]string, len(vv))
		for i, e := range vv {
			s, ok := e.(string)
			if !ok {
				return nil, shapeErr(op, path, "string element", e)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, shapeErr(op, path, "string list", v)
	}
}

// asBytes accepts the two byte-buffer representations hosts use: a typed
// byte slice, or a generic list of small integers.
func asBytes(op, path string, v any) ([]byte, error) {
	switch vv := v.(type) {
	case []byte:
		return vv, nil
	case []any:
		out := make([]byte, len(vv))
		for i, e := range vv {
			b, err := asByte(e)
			if err != nil {
				return nil, &vfs.OpError{Op: op, Path: path, Err: fmt.Errorf("byte %d: %w", i, err)}
			}
			out[i] = b
		}
		return out, nil
	case []int64:
		out := make([]byte, len(vv))
		for i, e := range vv {
			b, err := asByte(e)
			if err != nil {
				return nil, &vfs.OpError{Op: op, Path: path, Err: fmt.Errorf("byte %d: %w", i, err)}
			}
			out[i] = b
		}
		return out, nil
	case []float64:
		out := make([]byte, len(vv))
		for i, e := range vv {
			b, err := asByte(e)
			if err != nil {
				return nil, &vfs.OpError{Op: op, Path: path, Err: fmt.Errorf("byte %d: %w", i, err)}
			}
			out[i] = b
		}
		return out, nil
	default:
		return nil, shapeErr(op, path, "byte buffer", v)
	}
}

func asByte(e any) (byte, error) {
	switch n := e.(type) {
	case int64:
		if n < 0 || n > 255 {
			return 0, fmt.Errorf("value %d outside 0..255", n)
		}
		return byte(n), nil
	case int:
		if n < 0 || n > 255 {
			return 0, fmt.Errorf("value %d outside 0..255", n)
		}
		return byte(n), nil
	case float64:
		if n != math.Trunc(n) || n < 0 || n > 255 {
			return 0, fmt.Errorf("value %v is not a byte", n)
		}
		return byte(n), nil
	default:
		return 0, fmt.Errorf("unexpected element type %T", e)
	}
}

func shapeErr(op, path, want string, got any) error {
	return &vfs.OpError{Op: op, Path: path, Err: fmt.Errorf("callback returned %T, want %s", got, want)}
}
