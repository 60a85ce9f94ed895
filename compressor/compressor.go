// Package compressor implements the built-in and pluggable per-record
// compressors used by collections (§4.E) and the batch layer (§4.G).
// Built-in ids 1-4 are reserved for the core value-encoder contract
// (key, pickle-equivalent, plain, zlib); this package owns ids 3 and 4
// (plain, zlib) directly and lets callers register additional
// compressors (snappy, lz4, ...) that acquire an id from the catalog at
// runtime, mirroring the encoder registry pattern in catalog.Catalog.
package compressor

import (
	"bytes"
	"compress/zlib"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/flate"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// Compressor packs/unpacks a value's encoded bytes. Name is a stable
// identifier persisted in the catalog the first time a compressor is
// registered under it.
type Compressor interface {
	Name() string
	Pack(src []byte) ([]byte, error)
	Unpack(src []byte) ([]byte, error)
}

// Built-in compressor names, occupying fixed encoder ids 3 and 4 (see
// catalog.EncoderPlain and catalog.EncoderZlib).
const (
	NamePlain = "plain"
	NameZlib  = "zlib"

	// Runtime-registrable compressors, grounded on the retrieved pack's
	// own choice of codecs (arloliu-mebo depends directly on both for
	// columnar blob compression).
	NameSnappy = "snappy"
	NameLZ4    = "lz4"
)

type plainCompressor struct{}

func (plainCompressor) Name() string                    { return NamePlain }
func (plainCompressor) Pack(src []byte) ([]byte, error) { return src, nil }
func (plainCompressor) Unpack(src []byte) ([]byte, error) { return src, nil }

// Plain is the identity compressor (built-in encoder id 3).
var Plain Compressor = plainCompressor{}

type zlibCompressor struct{ level int }

func (zlibCompressor) Name() string { return NameZlib }

func (z zlibCompressor) Pack(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	level := z.level
	if level == 0 {
		level = flate.DefaultCompression
	}
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, errors.Wrap(err, "compressor/zlib: new writer")
	}
	if _, err := w.Write(src); err != nil {
		return nil, errors.Wrap(err, "compressor/zlib: write")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "compressor/zlib: close")
	}
	return buf.Bytes(), nil
}

func (zlibCompressor) Unpack(src []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, errors.Wrap(err, "compressor/zlib: new reader")
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "compressor/zlib: read")
	}
	return out, nil
}

// Zlib is the built-in generic-deflate compressor (built-in encoder id 4),
// implemented with the standard library's compress/zlib; only the
// default level constant comes from klauspost/compress/flate.
var Zlib Compressor = zlibCompressor{}

type snappyCompressor struct{}

func (snappyCompressor) Name() string { return NameSnappy }
func (snappyCompressor) Pack(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}
func (snappyCompressor) Unpack(src []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, src)
	return out, errors.Wrap(err, "compressor/snappy: decode")
}

// Snappy is a runtime-registrable compressor trading ratio for speed.
var Snappy Compressor = snappyCompressor{}

type lz4Compressor struct{}

func (lz4Compressor) Name() string { return NameLZ4 }

func (lz4Compressor) Pack(src []byte) ([]byte, error) {
	buf := make([]byte, lz4.CompressBlockBound(len(src)))
	var c lz4.Compressor
	n, err := c.CompressBlock(src, buf)
	if err != nil {
		return nil, errors.Wrap(err, "compressor/lz4: compress")
	}
	if n == 0 && len(src) > 0 {
		// Incompressible input: lz4 signals this with n == 0.
		return append([]byte{0}, src...), nil
	}
	return append([]byte{1}, buf[:n]...), nil
}

func (lz4Compressor) Unpack(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, nil
	}
	if src[0] == 0 {
		return src[1:], nil
	}
	// The decompressed size isn't stored in the block format used here;
	// grow the destination buffer until it's large enough.
	for size := len(src) * 4; ; size *= 2 {
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(src[1:], dst)
		if err == nil {
			return dst[:n], nil
		}
		if size > 1<<30 {
			return nil, errors.Wrap(err, "compressor/lz4: uncompress")
		}
	}
}

// LZ4 is a runtime-registrable compressor favoring very fast decode.
var LZ4 Compressor = lz4Compressor{}
