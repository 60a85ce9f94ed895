// Package valuecodec implements the value-encoder side of the built-in
// encoder ids used by record values and batch members (§4.D, §4.E):
// "key" packs a tuple.Tuple using the tuple codec, "pickle" packs an
// arbitrary Go value as JSON, "plain" requires an already-[]byte value,
// and "zlib" layers compressor.Zlib's deflate transform on top of
// "plain". Custom encoders wrap a compressor.Compressor the same way
// "zlib" does, so a catalog-registered compressor (snappy, lz4, ...)
// immediately doubles as a usable value encoder.
package valuecodec

import (
	"encoding/json"

	"github.com/pkg/errors"

	"centidb.dev/centidb/compressor"
	"centidb.dev/centidb/tuple"
)

// Encoder packs an arbitrary record value to bytes and back. Name is the
// stable string a Catalog maps to/from a numeric encoder id.
type Encoder interface {
	Name() string
	Pack(v any) ([]byte, error)
	Unpack(b []byte) (any, error)
}

// ErrNotByteSlice is returned by encoders that require an already-[]byte
// value (plain and anything built on a byte-transform compressor).
var ErrNotByteSlice = errors.New("valuecodec: value is not a []byte")

// ErrNotTuple is returned by the key encoder for a non-tuple.Tuple value.
var ErrNotTuple = errors.New("valuecodec: value is not a tuple.Tuple")

type keyEncoder struct{}

func (keyEncoder) Name() string { return "key" }
func (keyEncoder) Pack(v any) ([]byte, error) {
	t, ok := v.(tuple.Tuple)
	if !ok {
		return nil, ErrNotTuple
	}
	return tuple.Encode(t, false), nil
}
func (keyEncoder) Unpack(b []byte) (any, error) {
	t, err := tuple.Decode(b)
	if err != nil {
		return nil, errors.Wrap(err, "valuecodec/key: decode")
	}
	return t, nil
}

// Key is the built-in encoder (id 1) for tuple-shaped values.
var Key Encoder = keyEncoder{}

type pickleEncoder struct{}

func (pickleEncoder) Name() string { return "pickle" }
func (pickleEncoder) Pack(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	return b, errors.Wrap(err, "valuecodec/pickle: marshal")
}
func (pickleEncoder) Unpack(b []byte) (any, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, errors.Wrap(err, "valuecodec/pickle: unmarshal")
	}
	return v, nil
}

// Pickle is the built-in generic-object encoder (id 2), standing in for
// the reference implementation's language-native pickle format. No
// third-party generic object codec in this module's dependency set
// targets "arbitrary Go value -> bytes" the way pickle does for Python
// objects, so this one built-in falls back to encoding/json. Unpack
// returns what encoding/json decodes into an interface value: numbers
// come back as float64, objects as map[string]any, arrays as []any.
var Pickle Encoder = pickleEncoder{}

type plainEncoder struct{}

func (plainEncoder) Name() string { return "plain" }
func (plainEncoder) Pack(v any) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, ErrNotByteSlice
	}
	return b, nil
}
func (plainEncoder) Unpack(b []byte) (any, error) { return b, nil }

// Plain is the built-in identity encoder (id 3) for already-[]byte values.
var Plain Encoder = plainEncoder{}

// compressorEncoder adapts a compressor.Compressor (a byte<->byte
// transform) into the broader Encoder contract used for record values,
// requiring the input value to already be []byte.
type compressorEncoder struct {
	c compressor.Compressor
}

func (e compressorEncoder) Name() string { return e.c.Name() }
func (e compressorEncoder) Pack(v any) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, ErrNotByteSlice
	}
	return e.c.Pack(b)
}
func (e compressorEncoder) Unpack(b []byte) (any, error) {
	out, err := e.c.Unpack(b)
	return out, err
}

// FromCompressor wraps any compressor.Compressor as an Encoder.
func FromCompressor(c compressor.Compressor) Encoder { return compressorEncoder{c: c} }

// Zlib is the built-in compressed encoder (id 4).
var Zlib Encoder = FromCompressor(compressor.Zlib)

// Builtins returns the four fixed built-in encoders keyed by name,
// matching catalog.EncoderKey..catalog.EncoderZlib.
func Builtins() map[string]Encoder {
	return map[string]Encoder{
		"key":    Key,
		"pickle": Pickle,
		"plain":  Plain,
		"zlib":   Zlib,
	}
}
