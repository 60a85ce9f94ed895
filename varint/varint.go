// Package varint implements the order-preserving variable-length encoding
// of unsigned 64-bit integers used throughout centidb's tuple key codec.
//
// The encoding is designed so that memcmp on two encoded values agrees
// with the numeric comparison of the values they represent: the leading
// byte alone determines the encoded length, and longer encodings always
// sort after shorter ones.
package varint

import "github.com/pkg/errors"

// ErrTruncated is returned by Decode when the input does not contain
// enough bytes for the length implied by its leading byte.
var ErrTruncated = errors.New("varint: truncated input")

// MaxLen is the largest number of bytes Encode can produce.
const MaxLen = 9

// Encode appends the order-preserving encoding of v to dst and returns
// the extended slice.
func Encode(dst []byte, v uint64) []byte {
	switch {
	case v <= 240:
		return append(dst, byte(v))
	case v <= 2287:
		v -= 240
		return append(dst, byte(241+v/256), byte(v%256))
	case v <= 67823:
		v -= 2288
		return append(dst, 249, byte(v/256), byte(v%256))
	case v <= 1<<24-1:
		return append(dst, 250, byte(v>>16), byte(v>>8), byte(v))
	case v <= 1<<32-1:
		return append(dst, 251, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	case v <= 1<<40-1:
		return append(dst, 252, byte(v>>32), byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	case v <= 1<<48-1:
		return append(dst, 253, byte(v>>40), byte(v>>32), byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	case v <= 1<<56-1:
		return append(dst, 254, byte(v>>48), byte(v>>40), byte(v>>32), byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	default:
		return append(dst, 255,
			byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
			byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
}

// Len returns the number of bytes Encode(nil, v) would produce.
func Len(v uint64) int {
	switch {
	case v <= 240:
		return 1
	case v <= 2287:
		return 2
	case v <= 67823:
		return 3
	case v <= 1<<24-1:
		return 4
	case v <= 1<<32-1:
		return 5
	case v <= 1<<40-1:
		return 6
	case v <= 1<<48-1:
		return 7
	case v <= 1<<56-1:
		return 8
	default:
		return 9
	}
}

// lenForLeadByte returns the total encoded length (including the leading
// byte) implied by b0, the first byte of an encoding.
func lenForLeadByte(b0 byte) int {
	switch {
	case b0 <= 240:
		return 1
	case b0 <= 248:
		return 2
	case b0 == 249:
		return 3
	case b0 == 250:
		return 4
	case b0 == 251:
		return 5
	case b0 == 252:
		return 6
	case b0 == 253:
		return 7
	case b0 == 254:
		return 8
	default: // 255
		return 9
	}
}

// Decode reads one encoded integer from the front of src, returning the
// value and the number of bytes consumed. It returns ErrTruncated if src
// is shorter than the length implied by its leading byte.
func Decode(src []byte) (v uint64, n int, err error) {
	if len(src) == 0 {
		return 0, 0, ErrTruncated
	}
	b0 := src[0]
	n = lenForLeadByte(b0)
	if len(src) < n {
		return 0, 0, ErrTruncated
	}
	switch {
	case b0 <= 240:
		return uint64(b0), 1, nil
	case b0 <= 248:
		return 240 + 256*uint64(b0-241) + uint64(src[1]), 2, nil
	case b0 == 249:
		return 2288 + 256*uint64(src[1]) + uint64(src[2]), 3, nil
	default:
		v = 0
		for _, b := range src[1:n] {
			v = v<<8 | uint64(b)
		}
		return v, n, nil
	}
}
