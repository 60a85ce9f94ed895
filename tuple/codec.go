package tuple

import (
	"github.com/google/uuid"

	"centidb.dev/centidb/varint"
)

// negComplement maps a negative integer's magnitude to an encoding that
// sorts in the opposite direction from the plain varint of the magnitude:
// a more negative value (larger magnitude) must produce smaller encoded
// bytes than a less negative value (smaller magnitude), since it is
// numerically smaller. Two's-complement negation within the uint64 space
// achieves this for the full magnitude range 1..2^64-1.
func negComplement(mag uint64) uint64 {
	return 0 - mag
}

// AppendElem appends the wire encoding of e to dst. If open is true and e
// is a byte-string or text-string element, the terminator byte is
// omitted; open encoding is used to build inclusive range-scan prefixes
// (see AppendTuple). open has no effect on fixed-width element kinds.
func AppendElem(dst []byte, e Elem, open bool) []byte {
	switch e.Kind {
	case KindNull:
		return append(dst, tagNull)
	case KindInt:
		if e.Neg {
			dst = append(dst, tagNegInt)
			return varint.Encode(dst, negComplement(e.Mag))
		}
		dst = append(dst, tagPosInt)
		return varint.Encode(dst, e.Mag)
	case KindBool:
		dst = append(dst, tagBool)
		if e.Bool {
			return append(dst, 0x01)
		}
		return append(dst, 0x00)
	case KindBytes:
		return appendEscaped(append(dst, tagBytes), e.Bytes, open)
	case KindString:
		return appendEscaped(append(dst, tagString), e.Bytes, open)
	case KindUUID:
		return append(dst, append([]byte{tagUUID}, e.UUID[:]...)...)
	default:
		return dst
	}
}

// appendEscaped escapes 0x00 -> 0x01 0x01 and 0x01 -> 0x01 0x02 within b,
// then (unless open) appends the literal 0x00 terminator.
func appendEscaped(dst []byte, b []byte, open bool) []byte {
	for _, c := range b {
		switch c {
		case 0x00:
			dst = append(dst, 0x01, 0x01)
		case 0x01:
			dst = append(dst, 0x01, 0x02)
		default:
			dst = append(dst, c)
		}
	}
	if !open {
		dst = append(dst, 0x00)
	}
	return dst
}

// AppendTuple appends the encoding of t to dst. If open is true, the
// final element is emitted open (see AppendElem); every other element in
// t is always closed, since only the terminator of a final open element
// may be omitted.
func AppendTuple(dst []byte, t Tuple, open bool) []byte {
	for i, e := range t {
		dst = AppendElem(dst, e, open && i == len(t)-1)
	}
	return dst
}

// Encode is a convenience wrapper around AppendTuple.
func Encode(t Tuple, open bool) []byte {
	return AppendTuple(nil, t, open)
}

// AppendSeq appends the multi-tuple encoding of seq to dst: each tuple is
// closed except possibly the final element of the final tuple, which is
// open iff open is true. Tuples are separated by the 0x66 separator tag.
// This is used for index entries ([index_tuple, record_key]) and batch
// record keys.
func AppendSeq(dst []byte, seq []Tuple, open bool) []byte {
	for i, t := range seq {
		last := i == len(seq)-1
		dst = AppendTuple(dst, t, open && last)
		if !last {
			dst = append(dst, tagSep)
		}
	}
	return dst
}

// EncodeSeq is a convenience wrapper around AppendSeq.
func EncodeSeq(seq []Tuple, open bool) []byte {
	return AppendSeq(nil, seq, open)
}

// DecodeElem decodes one element from the front of src, returning the
// element and the number of bytes consumed.
func DecodeElem(src []byte) (Elem, int, error) {
	if len(src) == 0 {
		return Elem{}, 0, ErrDecode
	}
	tag := src[0]
	switch tag {
	case tagNull:
		return Null(), 1, nil
	case tagNegInt:
		mag, n, err := varint.Decode(src[1:])
		if err != nil {
			return Elem{}, 0, ErrDecode
		}
		return IntMag(true, negComplement(mag)), 1 + n, nil
	case tagPosInt:
		mag, n, err := varint.Decode(src[1:])
		if err != nil {
			return Elem{}, 0, ErrDecode
		}
		return Uint(mag), 1 + n, nil
	case tagBool:
		if len(src) < 2 {
			return Elem{}, 0, ErrDecode
		}
		switch src[1] {
		case 0x00:
			return Bool(false), 2, nil
		case 0x01:
			return Bool(true), 2, nil
		default:
			return Elem{}, 0, ErrCorruptKey
		}
	case tagBytes, tagString:
		b, n, err := decodeEscaped(src[1:])
		if err != nil {
			return Elem{}, 0, err
		}
		e := Elem{Kind: KindBytes, Bytes: b}
		if tag == tagString {
			e.Kind = KindString
		}
		return e, 1 + n, nil
	case tagUUID:
		if len(src) < 17 {
			return Elem{}, 0, ErrDecode
		}
		var id uuid.UUID
		copy(id[:], src[1:17])
		return UUIDElem(id), 17, nil
	default:
		return Elem{}, 0, ErrCorruptKey
	}
}

// decodeEscaped reads an escaped, NUL-terminated byte string from the
// front of src (src does not include the element's tag byte). It returns
// the unescaped payload and the number of bytes consumed, including the
// terminator.
func decodeEscaped(src []byte) ([]byte, int, error) {
	var out []byte
	i := 0
	for {
		if i >= len(src) {
			return nil, 0, ErrDecode
		}
		c := src[i]
		switch c {
		case 0x00:
			return out, i + 1, nil
		case 0x01:
			if i+1 >= len(src) {
				return nil, 0, ErrDecode
			}
			switch src[i+1] {
			case 0x01:
				out = append(out, 0x00)
			case 0x02:
				out = append(out, 0x01)
			default:
				return nil, 0, ErrCorruptKey
			}
			i += 2
		default:
			out = append(out, c)
			i++
		}
	}
}

// DecodeTuple decodes elements from the front of src until src is
// exhausted or a tuple separator (0x66) is encountered; the separator
// itself is not consumed. It returns the tuple and the number of bytes
// consumed.
func DecodeTuple(src []byte) (Tuple, int, error) {
	var t Tuple
	pos := 0
	for pos < len(src) {
		if src[pos] == tagSep {
			break
		}
		e, n, err := DecodeElem(src[pos:])
		if err != nil {
			return nil, 0, err
		}
		t = append(t, e)
		pos += n
	}
	return t, pos, nil
}

// Decode decodes a single tuple occupying the whole of src.
func Decode(src []byte) (Tuple, error) {
	t, n, err := DecodeTuple(src)
	if err != nil {
		return nil, err
	}
	if n != len(src) {
		return nil, ErrCorruptKey
	}
	return t, nil
}

// DecodeSeq decodes a multi-tuple encoding (as produced by AppendSeq/
// EncodeSeq) occupying the whole of src.
func DecodeSeq(src []byte) ([]Tuple, error) {
	var seq []Tuple
	pos := 0
	for {
		t, n, err := DecodeTuple(src[pos:])
		if err != nil {
			return nil, err
		}
		seq = append(seq, t)
		pos += n
		if pos >= len(src) {
			break
		}
		if src[pos] != tagSep {
			return nil, ErrCorruptKey
		}
		pos++
	}
	return seq, nil
}

// Successor returns the smallest byte string that is strictly greater
// than every byte string having b as a prefix ("" if no such bound
// exists, i.e. b is all 0xFF bytes or empty with no successor needed by
// the caller). It is used to turn an open-encoded prefix into a
// half-open range's exclusive upper bound.
func Successor(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return nil // b is all 0xFF; no finite successor
}
