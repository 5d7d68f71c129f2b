// Package index implements the secondary index manager: ordered,
// B-tree-backed indexes over (collection, field) pairs with an optional
// uniqueness constraint.
//
// The original Rust source (btree.rs) hand-rolls a B-tree rather than
// reaching for a library; no ordered-map or B-tree package appears
// anywhere in the Go example pack either, so this package does the same —
// see DESIGN.md for why that's a justified stdlib-only component.
package index

import (
	"fmt"
	"math"

	"github.com/deedb/deedb/pkg/value"
)

// Key is a total-ordering wrapper over the property value types legal in
// a secondary index: Null, Bool, Int, Float, String. Floats compare by
// real numeric value (see floatOrderKey), which also gives NaN a single
// well-defined place in the order instead of comparing unequal to
// everything including itself.
type Key struct {
	kind value.Kind
	bits uint64 // Int/Float payload, bit pattern for Float
	b    bool
	s    string
}

// NewKey builds an index Key from a property Value. Values outside the
// legal set (Bytes) return an error: bytes have no defined total order in
// this index and must not be indexed.
func NewKey(v value.Value) (Key, error) {
	switch v.Kind() {
	case value.KindNull:
		return Key{kind: value.KindNull}, nil
	case value.KindBool:
		b, _ := v.AsBool()
		return Key{kind: value.KindBool, b: b}, nil
	case value.KindInt:
		i, _ := v.AsInt()
		return Key{kind: value.KindInt, bits: uint64(i)}, nil
	case value.KindFloat:
		f, _ := v.AsFloat()
		return Key{kind: value.KindFloat, bits: math.Float64bits(f)}, nil
	case value.KindString:
		s, _ := v.AsString()
		return Key{kind: value.KindString, s: s}, nil
	default:
		return Key{}, fmt.Errorf("index: value kind %s is not indexable", v.Kind())
	}
}

// kindRank fixes a total order across kinds so that Null < Bool < Int/
// Float < String; Int and Float interleave by numeric value within the
// shared numeric tier.
func kindRank(k value.Kind) int {
	switch k {
	case value.KindNull:
		return 0
	case value.KindBool:
		return 1
	case value.KindInt, value.KindFloat:
		return 2
	case value.KindString:
		return 3
	default:
		return 4
	}
}

// Less defines the total order index ranges and traversals rely on.
func (k Key) Less(o Key) bool {
	rk, ro := kindRank(k.kind), kindRank(o.kind)
	if rk != ro {
		return rk < ro
	}
	switch k.kind {
	case value.KindNull:
		return false
	case value.KindBool:
		return !k.b && o.b
	case value.KindInt:
		if o.kind == value.KindInt {
			return int64(k.bits) < int64(o.bits)
		}
		return float64(int64(k.bits)) < math.Float64frombits(o.bits)
	case value.KindFloat:
		if o.kind == value.KindFloat {
			return floatOrderKey(k.bits) < floatOrderKey(o.bits)
		}
		return math.Float64frombits(k.bits) < float64(int64(o.bits))
	case value.KindString:
		return k.s < o.s
	default:
		return false
	}
}

// floatOrderKey maps an IEEE 754 bit pattern to an unsigned integer that
// sorts in the same order as the real numeric value: flip every bit for
// negatives (so more-negative magnitudes, which have larger raw bit
// patterns, end up smaller), or just set the sign bit for non-negatives.
// NaN still lands at a fixed, well-defined position under this transform;
// it simply isn't interleaved with the finite values.
func floatOrderKey(bits uint64) uint64 {
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}

// Equal reports bitwise/value equality within the same total order Less
// uses — two NaN float64s with the same bit pattern are Equal here even
// though IEEE754 equality says otherwise.
func (k Key) Equal(o Key) bool {
	return !k.Less(o) && !o.Less(k)
}
