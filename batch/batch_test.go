package batch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"centidb.dev/centidb/batch"
	"centidb.dev/centidb/compressor"
	"centidb.dev/centidb/enginekv"
	"centidb.dev/centidb/tuple"
)

type fixedCompressors struct{}

func (fixedCompressors) Resolve(name string) (uint64, compressor.Compressor, error) {
	switch name {
	case "plain":
		return 3, compressor.Plain, nil
	case "zlib":
		return 4, compressor.Zlib, nil
	default:
		return 0, nil, assertUnknown(name)
	}
}

func (fixedCompressors) ByID(id uint64) (compressor.Compressor, error) {
	switch id {
	case 3:
		return compressor.Plain, nil
	case 4:
		return compressor.Zlib, nil
	default:
		return nil, assertUnknown("id")
	}
}

func assertUnknown(what string) error { return errUnknown{what} }

type errUnknown struct{ what string }

func (e errUnknown) Error() string { return "unknown compressor: " + e.what }

func seedSingletons(t *testing.T, store *batch.Store, n int) []tuple.Tuple {
	t.Helper()
	var keys []tuple.Tuple
	for i := 0; i < n; i++ {
		k := tuple.Of(tuple.Int(int64(i)))
		keys = append(keys, k)
		key := append([]byte{0x10}, tuple.Encode(k, false)...)
		require.NoError(t, store.Put(key, []byte("value-"+string(rune('a'+i)))))
	}
	return keys
}

func TestBatchCreateAndGet(t *testing.T) {
	eng := enginekv.NewMemory()
	store := batch.New(eng, []byte{0x10}, fixedCompressors{})
	seedSingletons(t, store, 5)

	created, err := store.Batch(nil, false, nil, false, 0, 0, nil, "plain")
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	for i := 0; i < 5; i++ {
		k := tuple.Of(tuple.Int(int64(i)))
		key := append([]byte{0x10}, tuple.Encode(k, false)...)
		v, err := store.Get(key)
		require.NoError(t, err)
		assert.Equal(t, "value-"+string(rune('a'+i)), string(v))
	}
}

func TestBatchSplitOnWrite(t *testing.T) {
	eng := enginekv.NewMemory()
	store := batch.New(eng, []byte{0x10}, fixedCompressors{})
	seedSingletons(t, store, 4)

	_, err := store.Batch(nil, false, nil, false, 0, 0, nil, "zlib")
	require.NoError(t, err)

	k2 := tuple.Of(tuple.Int(int64(2)))
	key2 := append([]byte{0x10}, tuple.Encode(k2, false)...)
	require.NoError(t, store.Put(key2, []byte("updated")))

	v, err := store.Get(key2)
	require.NoError(t, err)
	assert.Equal(t, "updated", string(v))

	k0 := tuple.Of(tuple.Int(int64(0)))
	key0 := append([]byte{0x10}, tuple.Encode(k0, false)...)
	v0, err := store.Get(key0)
	require.NoError(t, err)
	assert.Equal(t, "value-a", string(v0))
}

func TestBatchIterationTransparent(t *testing.T) {
	eng := enginekv.NewMemory()
	store := batch.New(eng, []byte{0x10}, fixedCompressors{})
	seedSingletons(t, store, 5)
	_, err := store.Batch(nil, false, nil, false, 3, 0, nil, "plain")
	require.NoError(t, err)

	it := store.Range([]byte{0x10}, false)
	defer it.Close()
	var got []string
	for it.Next() {
		got = append(got, string(it.Value()))
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"value-a", "value-b", "value-c", "value-d", "value-e"}, got)
}

func TestBatchMinimumTwoMembers(t *testing.T) {
	eng := enginekv.NewMemory()
	store := batch.New(eng, []byte{0x10}, fixedCompressors{})
	seedSingletons(t, store, 1)

	created, err := store.Batch(nil, false, nil, false, 0, 0, nil, "plain")
	require.NoError(t, err)
	assert.Equal(t, 0, created)
}
