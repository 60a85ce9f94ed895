package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"centidb.dev/centidb/catalog"
	"centidb.dev/centidb/enginekv"
)

func TestAddCollectionIdempotent(t *testing.T) {
	eng := enginekv.NewMemory()
	cat, err := catalog.Open(eng, []byte{0x50}, nil)
	require.NoError(t, err)

	d1, err := cat.AddCollection("widgets", "", "", "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, d1.Idx, uint64(10))

	d2, err := cat.AddCollection("widgets", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	d3, err := cat.AddCollection("gadgets", "", "", "")
	require.NoError(t, err)
	assert.NotEqual(t, d1.Idx, d3.Idx)
}

func TestCatalogReload(t *testing.T) {
	eng := enginekv.NewMemory()
	cat1, err := catalog.Open(eng, []byte{0x50}, nil)
	require.NoError(t, err)
	d, err := cat1.AddCollection("widgets", "kf", "vs", "ps")
	require.NoError(t, err)

	cat2, err := catalog.Open(eng, []byte{0x50}, nil)
	require.NoError(t, err)
	reloaded, ok := cat2.Collection("widgets")
	require.True(t, ok)
	assert.Equal(t, d, reloaded)
}

func TestBuiltinEncoders(t *testing.T) {
	eng := enginekv.NewMemory()
	cat, err := catalog.Open(eng, []byte{0x50}, nil)
	require.NoError(t, err)

	id, err := cat.AddEncoder("plain")
	require.NoError(t, err)
	assert.EqualValues(t, catalog.EncoderPlain, id)

	name, err := cat.EncoderName(catalog.EncoderZlib)
	require.NoError(t, err)
	assert.Equal(t, "zlib", name)
}

func TestCustomEncoderAllocatesAndPersists(t *testing.T) {
	eng := enginekv.NewMemory()
	cat, err := catalog.Open(eng, []byte{0x50}, nil)
	require.NoError(t, err)

	id, err := cat.AddEncoder("snappy")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, id, uint64(5))

	again, err := cat.AddEncoder("snappy")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	name, err := cat.EncoderName(id)
	require.NoError(t, err)
	assert.Equal(t, "snappy", name)
}

func TestUnknownEncoder(t *testing.T) {
	eng := enginekv.NewMemory()
	cat, err := catalog.Open(eng, []byte{0x50}, nil)
	require.NoError(t, err)

	_, err = cat.EncoderName(999)
	assert.ErrorIs(t, err, catalog.ErrUnknownEncoder)
}

func TestListingAccessors(t *testing.T) {
	eng := enginekv.NewMemory()
	cat, err := catalog.Open(eng, []byte{0x50}, nil)
	require.NoError(t, err)

	_, err = cat.AddCollection("widgets", "", "", "")
	require.NoError(t, err)
	_, err = cat.AddIndex("widgets", "widgets.by_color", "")
	require.NoError(t, err)
	_, err = cat.AddEncoder("snappy")
	require.NoError(t, err)
	_, err = cat.Count("hits", 0, 1)
	require.NoError(t, err)

	collections := cat.Collections()
	require.Len(t, collections, 2)
	var sawParent bool
	for _, d := range collections {
		if d.HasParent {
			sawParent = true
			assert.Equal(t, "widgets", d.ParentName)
		}
	}
	assert.True(t, sawParent)

	assert.Len(t, cat.Counters(), 1)
	assert.Len(t, cat.CustomEncoders(), 1)
}

func TestCount(t *testing.T) {
	eng := enginekv.NewMemory()
	cat, err := catalog.Open(eng, []byte{0x50}, nil)
	require.NoError(t, err)

	v, err := cat.Count("hits", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	v, err = cat.Count("hits", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = cat.Count("hits", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}
