package centidb_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	centidb "centidb.dev/centidb"
	"centidb.dev/centidb/collection"
	"centidb.dev/centidb/compressor"
	"centidb.dev/centidb/enginekv"
	"centidb.dev/centidb/index"
	"centidb.dev/centidb/tuple"
)

func openStore(t *testing.T) *centidb.Store {
	t.Helper()
	s, err := centidb.Open(centidb.Config{Engine: enginekv.NewMemory(), Prefix: []byte{0x50}})
	require.NoError(t, err)
	return s
}

func TestStorePutGetAutoIncrement(t *testing.T) {
	s := openStore(t)
	col, err := s.Collection(centidb.CollectionConfig{Name: "widgets", DefaultEncoder: "pickle"})
	require.NoError(t, err)

	key, err := col.Put(map[string]any{"color": "red"}, collection.PutOptions{})
	require.NoError(t, err)
	require.Len(t, key, 1)

	v, found, err := col.Get(key, false)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "red", v.(map[string]any)["color"])
}

func TestStoreCollectionIsSingleton(t *testing.T) {
	s := openStore(t)
	a, err := s.Collection(centidb.CollectionConfig{Name: "c"})
	require.NoError(t, err)
	b, err := s.Collection(centidb.CollectionConfig{Name: "c"})
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestStoreIndexMaintained(t *testing.T) {
	s := openStore(t)
	people, err := s.Collection(centidb.CollectionConfig{Name: "people", DefaultEncoder: "pickle"})
	require.NoError(t, err)

	byName, err := s.Index(centidb.IndexConfig{
		Name:   "people.by_name",
		Parent: "people",
		KeyFunc: index.KeyFunc(func(v any) ([]tuple.Tuple, error) {
			m := v.(map[string]any)
			return []tuple.Tuple{tuple.Of(tuple.String(m["name"].(string)))}, nil
		}),
	})
	require.NoError(t, err)

	key, err := people.Put(map[string]any{"name": "ada"}, collection.PutOptions{})
	require.NoError(t, err)

	gotKey, gotVal, err := byName.Get(tuple.Of(tuple.String("ada")))
	require.NoError(t, err)
	assert.Equal(t, 0, tuple.Compare(key, gotKey))
	assert.Equal(t, "ada", gotVal.(map[string]any)["name"])
}

func TestStoreBatchedCollectionTransparent(t *testing.T) {
	s := openStore(t)
	nums, err := s.Collection(centidb.CollectionConfig{Name: "nums", DefaultEncoder: "plain", Batched: true})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := nums.Put([]byte{byte('a' + i)}, collection.PutOptions{
			Key: tuple.Of(tuple.Int(int64(i))), HasKey: true,
		})
		require.NoError(t, err)
	}

	cur, err := nums.Items(collection.RangeOptions{})
	require.NoError(t, err)
	var got []string
	for cur.Next() {
		got = append(got, string(cur.Value().([]byte)))
	}
	require.NoError(t, cur.Err())
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestStoreRegisterCompressorUsableAsEncoder(t *testing.T) {
	s := openStore(t)
	s.RegisterCompressor("snappy", compressor.Snappy)
	col, err := s.Collection(centidb.CollectionConfig{Name: "blobs", DefaultEncoder: "snappy"})
	require.NoError(t, err)

	_, err = col.Put([]byte("hello hello hello"), collection.PutOptions{
		Key: tuple.Of(tuple.Int(0)), HasKey: true,
	})
	require.NoError(t, err)

	v, found, err := col.Get(tuple.Of(tuple.Int(0)), false)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("hello hello hello"), v.([]byte))
}
