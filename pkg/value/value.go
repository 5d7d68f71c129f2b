package value

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/deedb/deedb/pkg/convert"
)

// Kind tags which variant a Value currently holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
)

// String renders a Kind for error messages and logging.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindBool:
		return "Bool"
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindString:
		return "String"
	case KindBytes:
		return "Bytes"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value is a tagged property value: exactly one of {Null, Bool, Int64,
// Float64, String, Bytes} per spec's data model. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	by   []byte
}

// Null is the Null value.
var Null = Value{kind: KindNull}

// Bool wraps a bool.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an int64.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a float64.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Bytes wraps a byte slice. The slice is not copied; callers must treat it
// as immutable once wrapped.
func Bytes(b []byte) Value { return Value{kind: KindBytes, by: b} }

// Kind returns which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the Null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the wrapped bool and whether v was a Bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the wrapped int64 and whether v was an Int.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the wrapped float64 and whether v was a Float.
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

// AsString returns the wrapped string and whether v was a String.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsBytes returns the wrapped byte slice and whether v was Bytes.
func (v Value) AsBytes() ([]byte, bool) { return v.by, v.kind == KindBytes }

// AsNumber returns v widened to float64 for arithmetic, treating Int and
// Float uniformly. The second return is false for any other kind.
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// Equal implements value equality: strict by tag except Int/Float, which
// compare numerically across tags.
func (v Value) Equal(o Value) bool {
	if v.kind == KindInt && o.kind == KindFloat {
		return float64(v.i) == o.f
	}
	if v.kind == KindFloat && o.kind == KindInt {
		return v.f == float64(o.i)
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindBytes:
		return string(v.by) == string(o.by)
	default:
		return false
	}
}

// Comparable reports whether v and o can be ordered against each other:
// same tag, or both numeric. Cross-tag comparisons (e.g. String vs Bool)
// are not defined and callers that need a total order (sorting) should
// treat an incomparable pair as equal rather than erroring, per spec §3.
func (v Value) Comparable(o Value) bool {
	if v.kind == o.kind {
		return true
	}
	return v.isNumeric() && o.isNumeric()
}

func (v Value) isNumeric() bool { return v.kind == KindInt || v.kind == KindFloat }

// Compare returns -1, 0, or 1 for v versus o. Callers must check
// Comparable first; an incomparable pair returns 0 (treated as equal for
// sort stability).
func (v Value) Compare(o Value) int {
	if !v.Comparable(o) {
		return 0
	}
	if v.isNumeric() && o.isNumeric() {
		a, _ := v.AsNumber()
		b, _ := o.AsNumber()
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}
	switch v.kind {
	case KindNull:
		return 0
	case KindBool:
		if v.b == o.b {
			return 0
		}
		if !v.b && o.b {
			return -1
		}
		return 1
	case KindString:
		switch {
		case v.s < o.s:
			return -1
		case v.s > o.s:
			return 1
		default:
			return 0
		}
	case KindBytes:
		switch {
		case string(v.by) < string(o.by):
			return -1
		case string(v.by) > string(o.by):
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

// String renders v for logging and result-set printing. Not used for
// index keys or equality — see Compare/Equal for those.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return v.s
	case KindBytes:
		return fmt.Sprintf("0x%x", v.by)
	default:
		return ""
	}
}

// Interface returns v as a plain Go value, for callers that want an `any`
// rather than the tagged type.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		return v.by
	default:
		return nil
	}
}

// FromInterface widens a plain Go value into a Value, for callers
// accepting literals from the lexer or external callers. Unrecognized
// types are rejected rather than silently turned into Null.
func FromInterface(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null, nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case int32:
		return Int(int64(t)), nil
	case float64:
		return Float(t), nil
	case float32:
		return Float(float64(t)), nil
	case string:
		return String(t), nil
	case []byte:
		return Bytes(t), nil
	case uint, uint32, uint64:
		if i, ok := convert.ToInt64(t); ok {
			return Int(i), nil
		}
		return Null, fmt.Errorf("value: %v out of int64 range", t)
	default:
		return Null, fmt.Errorf("value: unsupported Go type %T", raw)
	}
}

// Encode appends v's compact binary representation to dst and returns the
// extended slice. Layout: 1-byte kind tag, then a kind-specific payload
// (bool: 1 byte; int/float: 8 bytes LE; string/bytes: 4-byte length LE +
// raw bytes). This is the representation used by the WAL (§4.F) and by
// backup payloads (§4.L).
func Encode(dst []byte, v Value) []byte {
	dst = append(dst, byte(v.kind))
	switch v.kind {
	case KindNull:
	case KindBool:
		if v.b {
			dst = append(dst, 1)
		} else {
			dst = append(dst, 0)
		}
	case KindInt:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(v.i))
		dst = append(dst, buf[:]...)
	case KindFloat:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v.f))
		dst = append(dst, buf[:]...)
	case KindString:
		dst = appendLenPrefixed(dst, []byte(v.s))
	case KindBytes:
		dst = appendLenPrefixed(dst, v.by)
	}
	return dst
}

func appendLenPrefixed(dst []byte, payload []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, payload...)
	return dst
}

// Decode reads one Value from the front of src and returns it along with
// the number of bytes consumed. An error is returned for a truncated or
// malformed encoding; callers in the WAL recovery path treat this as a
// crash-point truncation boundary, not necessarily a hard failure.
func Decode(src []byte) (Value, int, error) {
	if len(src) < 1 {
		return Null, 0, fmt.Errorf("value: empty input")
	}
	kind := Kind(src[0])
	rest := src[1:]
	switch kind {
	case KindNull:
		return Null, 1, nil
	case KindBool:
		if len(rest) < 1 {
			return Null, 0, fmt.Errorf("value: truncated bool")
		}
		return Bool(rest[0] != 0), 2, nil
	case KindInt:
		if len(rest) < 8 {
			return Null, 0, fmt.Errorf("value: truncated int")
		}
		return Int(int64(binary.LittleEndian.Uint64(rest[:8]))), 9, nil
	case KindFloat:
		if len(rest) < 8 {
			return Null, 0, fmt.Errorf("value: truncated float")
		}
		return Float(math.Float64frombits(binary.LittleEndian.Uint64(rest[:8]))), 9, nil
	case KindString:
		payload, n, err := readLenPrefixed(rest)
		if err != nil {
			return Null, 0, err
		}
		return String(string(payload)), 1 + n, nil
	case KindBytes:
		payload, n, err := readLenPrefixed(rest)
		if err != nil {
			return Null, 0, err
		}
		return Bytes(payload), 1 + n, nil
	default:
		return Null, 0, fmt.Errorf("value: unknown kind tag %d", kind)
	}
}

func readLenPrefixed(src []byte) ([]byte, int, error) {
	if len(src) < 4 {
		return nil, 0, fmt.Errorf("value: truncated length prefix")
	}
	length := binary.LittleEndian.Uint32(src[:4])
	if uint32(len(src)-4) < length {
		return nil, 0, fmt.Errorf("value: truncated payload (want %d, have %d)", length, len(src)-4)
	}
	payload := make([]byte, length)
	copy(payload, src[4:4+length])
	return payload, 4 + int(length), nil
}
