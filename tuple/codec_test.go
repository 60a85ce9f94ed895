package tuple_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"centidb.dev/centidb/tuple"
)

func TestRoundTrip(t *testing.T) {
	samples := []tuple.Tuple{
		tuple.Of(tuple.Null()),
		tuple.Of(tuple.Int(0)),
		tuple.Of(tuple.Int(-1)),
		tuple.Of(tuple.Int(1)),
		tuple.Of(tuple.IntMag(true, 1<<63)),
		tuple.Of(tuple.Bool(true), tuple.Bool(false)),
		tuple.Of(tuple.Bytes([]byte{0x00, 0x01, 0x02, 0xff})),
		tuple.Of(tuple.String("hello, \x00 world \x01")),
		tuple.Of(tuple.UUIDElem(uuid.New())),
		tuple.Of(tuple.Int(7), tuple.String("a"), tuple.Null(), tuple.Bool(true)),
	}
	for _, s := range samples {
		enc := tuple.Encode(s, false)
		got, err := tuple.Decode(enc)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestOrderPreservation(t *testing.T) {
	gens := []func() tuple.Elem{
		func() tuple.Elem { return tuple.Null() },
		func() tuple.Elem { return tuple.Int(int64(rand.Intn(2000) - 1000)) },
		func() tuple.Elem { return tuple.Bool(rand.Intn(2) == 0) },
		func() tuple.Elem { return tuple.Bytes([]byte{byte(rand.Intn(256)), byte(rand.Intn(256))}) },
		func() tuple.Elem { return tuple.String(string(rune(rand.Intn(26) + 'a'))) },
		func() tuple.Elem { return tuple.UUIDElem(uuid.New()) },
	}
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		a := tuple.Of(gens[r.Intn(len(gens))](), gens[r.Intn(len(gens))]())
		b := tuple.Of(gens[r.Intn(len(gens))](), gens[r.Intn(len(gens))]())
		abstractSign := sign(tuple.Compare(a, b))
		wireSign := sign(bytes.Compare(tuple.Encode(a, false), tuple.Encode(b, false)))
		assert.Equal(t, abstractSign, wireSign, "a=%+v b=%+v", a, b)
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

func TestPrefixMatch(t *testing.T) {
	base := tuple.Of(tuple.Int(5), tuple.String("ab"))
	prefix := tuple.Encode(base, true) // open
	upper := tuple.Successor(prefix)

	extended := tuple.Of(tuple.Int(5), tuple.String("ab"), tuple.Bool(true))
	encExtended := tuple.Encode(extended, false)
	assert.True(t, bytes.HasPrefix(encExtended, prefix))
	assert.True(t, bytes.Compare(encExtended, prefix) >= 0)
	assert.True(t, bytes.Compare(encExtended, upper) < 0)

	notPrefixed := tuple.Of(tuple.Int(5), tuple.String("ac"))
	encNot := tuple.Encode(notPrefixed, false)
	assert.False(t, bytes.Compare(encNot, prefix) >= 0 && bytes.Compare(encNot, upper) < 0)
}

func TestEscapeOrdering(t *testing.T) {
	e0 := tuple.Encode(tuple.Of(tuple.Bytes([]byte{0x00})), false)
	e1 := tuple.Encode(tuple.Of(tuple.Bytes([]byte{0x01})), false)
	ea := tuple.Encode(tuple.Of(tuple.Bytes([]byte("a"))), false)

	assert.Equal(t, []byte{0x28, 0x01, 0x01, 0x00}, e0)
	assert.Equal(t, []byte{0x28, 0x01, 0x02, 0x00}, e1)
	assert.Equal(t, []byte{0x28, 0x61, 0x00}, ea)
	assert.True(t, bytes.Compare(e0, e1) < 0)
	assert.True(t, bytes.Compare(e1, ea) < 0)
}

func TestKeyOrderingScenario(t *testing.T) {
	// S1: keys (1,), ("a",), (None,), (-1,), (True,) sort as
	// (None,), (-1,), (1,), (True,), ("a",)
	type named struct {
		name string
		t    tuple.Tuple
	}
	items := []named{
		{"int1", tuple.Of(tuple.Int(1))},
		{"stra", tuple.Of(tuple.String("a"))},
		{"null", tuple.Of(tuple.Null())},
		{"negone", tuple.Of(tuple.Int(-1))},
		{"true", tuple.Of(tuple.Bool(true))},
	}
	encs := make([]struct {
		name string
		b    []byte
	}, len(items))
	for i, it := range items {
		encs[i].name = it.name
		encs[i].b = tuple.Encode(it.t, false)
	}
	// sort by bytes
	for i := 0; i < len(encs); i++ {
		for j := i + 1; j < len(encs); j++ {
			if bytes.Compare(encs[j].b, encs[i].b) < 0 {
				encs[i], encs[j] = encs[j], encs[i]
			}
		}
	}
	want := []string{"null", "negone", "int1", "true", "stra"}
	got := make([]string, len(encs))
	for i, e := range encs {
		got[i] = e.name
	}
	assert.Equal(t, want, got)
}

func TestSeqRoundTrip(t *testing.T) {
	seq := []tuple.Tuple{
		tuple.Of(tuple.Int(1), tuple.String("idx")),
		tuple.Of(tuple.Int(99)),
	}
	enc := tuple.EncodeSeq(seq, false)
	got, err := tuple.DecodeSeq(enc)
	require.NoError(t, err)
	assert.Equal(t, seq, got)
}

func TestCorruptTag(t *testing.T) {
	_, err := tuple.Decode([]byte{0x02})
	require.Error(t, err)
}

func TestNegativeIntOrdering(t *testing.T) {
	values := []int64{-1000, -100, -1, 0, 1, 100, 1000}
	var prev []byte
	for _, v := range values {
		enc := tuple.Encode(tuple.Of(tuple.Int(v)), false)
		if prev != nil {
			assert.True(t, bytes.Compare(prev, enc) < 0, "at v=%d", v)
		}
		prev = enc
	}
}
