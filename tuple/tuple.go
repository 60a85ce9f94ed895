// Package tuple implements the order-preserving, self-delimiting tuple
// key codec described by the core engine's data model: heterogeneous
// tuples of primitive values (null, signed integer, boolean, byte string,
// text string, UUID) encode to byte strings whose memcmp order matches
// the abstract tuple order.
package tuple

import (
	"bytes"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"centidb.dev/centidb/varint"
)

// Kind identifies the primitive type of a tuple element.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindBool
	KindBytes
	KindString
	KindUUID
)

// Tag bytes, per the wire format. Values are chosen so the tag's high
// bit is always clear, keeping tags distinguishable from the escaped
// continuation bytes of a byte/text string element, and so that plain
// byte comparison of tags reproduces the class ordering in the data
// model: null < negative int < non-negative int < bool < bytes <
// string < UUID.
const (
	tagNull   byte = 0x0F
	tagNegInt byte = 0x14
	tagPosInt byte = 0x15
	tagBool   byte = 0x1E
	tagBytes  byte = 0x28
	tagString byte = 0x32
	tagUUID   byte = 0x5A
	tagSep    byte = 0x66 // separator between tuples in a multi-tuple encoding
)

// ErrCorruptKey is returned when a tag byte outside the known set is
// encountered while decoding.
var ErrCorruptKey = errors.New("tuple: corrupt key")

// ErrDecode is returned when an element is truncated mid-encoding.
var ErrDecode = errors.New("tuple: truncated element")

// ErrUnsupportedType names the unsupported-primitive failure. The encode
// functions in this package do not return it: Elem can only be built
// for the six Kinds above, and AppendElem writes nothing for an Elem
// whose Kind is outside them.
var ErrUnsupportedType = errors.New("tuple: unsupported primitive type")

// Elem is one element of a Tuple: a closed tagged variant over the
// primitive domain. The zero value is Null.
type Elem struct {
	Kind Kind

	// Int: Neg/Mag hold the sign and magnitude separately so the full
	// contract range of ±(2^64-1) is representable, not just int64.
	Neg bool
	Mag uint64

	Bool bool

	// Bytes holds the raw (unescaped) payload for KindBytes and KindString.
	Bytes []byte

	UUID uuid.UUID
}

// Null returns the null element.
func Null() Elem { return Elem{Kind: KindNull} }

// Int returns the integer element for v, representable by any int64.
func Int(v int64) Elem {
	if v < 0 {
		return Elem{Kind: KindInt, Neg: true, Mag: uint64(-v)}
	}
	return Elem{Kind: KindInt, Mag: uint64(v)}
}

// IntMag returns the integer element with explicit sign and magnitude,
// supporting the full ±(2^64-1) contract range that int64 alone cannot
// express (e.g. neg=true, mag=2^64-1).
func IntMag(neg bool, mag uint64) Elem {
	return Elem{Kind: KindInt, Neg: neg, Mag: mag}
}

// Uint returns the non-negative integer element for v.
func Uint(v uint64) Elem { return Elem{Kind: KindInt, Mag: v} }

// Bool returns the boolean element for v.
func Bool(v bool) Elem { return Elem{Kind: KindBool, Bool: v} }

// Bytes returns the byte-string element for b. The slice is not retained
// unescaped; callers may reuse b after the call.
func Bytes(b []byte) Elem {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Elem{Kind: KindBytes, Bytes: cp}
}

// String returns the text-string element for s, encoded as UTF-8.
func String(s string) Elem {
	return Elem{Kind: KindString, Bytes: []byte(s)}
}

// UUIDElem returns the UUID element for id.
func UUIDElem(id uuid.UUID) Elem {
	return Elem{Kind: KindUUID, UUID: id}
}

// IsNull reports whether e is the null element.
func (e Elem) IsNull() bool { return e.Kind == KindNull }

// Int64 returns e's value as an int64. ok is false if e is not an
// integer or its magnitude overflows int64.
func (e Elem) Int64() (v int64, ok bool) {
	if e.Kind != KindInt || e.Mag > 1<<63 {
		return 0, false
	}
	if e.Neg {
		return -int64(e.Mag), true
	}
	if e.Mag == 1<<63 {
		return 0, false
	}
	return int64(e.Mag), true
}

// Str returns e's value as a string. ok is false unless e is KindString.
func (e Elem) Str() (string, bool) {
	if e.Kind != KindString {
		return "", false
	}
	return string(e.Bytes), true
}

// Tuple is an ordered sequence of primitive elements.
type Tuple []Elem

// Of is a convenience constructor: tuple.Of(tuple.Int(1), tuple.String("a")).
func Of(elems ...Elem) Tuple { return Tuple(elems) }

// classRank returns the element's position in the fixed tag-class
// ordering: null < negative int < non-negative int < false < true <
// byte string < text string < UUID.
func classRank(e Elem) int {
	switch e.Kind {
	case KindNull:
		return 0
	case KindInt:
		if e.Neg {
			return 1
		}
		return 2
	case KindBool:
		if !e.Bool {
			return 3
		}
		return 4
	case KindBytes:
		return 5
	case KindString:
		return 6
	case KindUUID:
		return 7
	default:
		return -1
	}
}

// CompareElem returns -1, 0, or 1 as a compares less than, equal to, or
// greater than b, matching the abstract ordering encode/decode must
// preserve byte-for-byte.
func CompareElem(a, b Elem) int {
	ra, rb := classRank(a), classRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch a.Kind {
	case KindNull:
		return 0
	case KindInt:
		if a.Neg {
			// Larger magnitude is a more negative (smaller) value.
			return -cmpUint(a.Mag, b.Mag)
		}
		return cmpUint(a.Mag, b.Mag)
	case KindBool:
		return 0 // rank already separates false/true
	case KindBytes, KindString:
		return bytes.Compare(a.Bytes, b.Bytes)
	case KindUUID:
		return bytes.Compare(a.UUID[:], b.UUID[:])
	default:
		return 0
	}
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Compare returns -1, 0, or 1 comparing tuples a and b element-wise; a
// tuple that is a strict prefix of the other sorts first.
func Compare(a, b Tuple) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := CompareElem(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
