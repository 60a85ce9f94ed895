package index_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"centidb.dev/centidb/enginekv"
	"centidb.dev/centidb/index"
	"centidb.dev/centidb/tuple"
)

type record struct {
	key   tuple.Tuple
	value any
}

func newFixture(t *testing.T) (*index.Index, map[string]record) {
	t.Helper()
	store := make(map[string]record)
	eng := enginekv.NewMemory()
	keyFunc := func(v any) ([]tuple.Tuple, error) {
		m := v.(map[string]any)
		var out []tuple.Tuple
		for _, tag := range m["tags"].([]string) {
			out = append(out, tuple.Of(tuple.String(tag)))
		}
		return out, nil
	}
	fetch := func(recKey tuple.Tuple) (any, bool, error) {
		r, ok := store[string(tuple.Encode(recKey, false))]
		if !ok {
			return nil, false, nil
		}
		return r.value, true, nil
	}
	idx, err := index.New(eng, []byte{0x01}, keyFunc, fetch, index.Config{})
	require.NoError(t, err)
	return idx, store
}

func put(t *testing.T, idx *index.Index, store map[string]record, key tuple.Tuple, v any) {
	t.Helper()
	old, existed := store[string(tuple.Encode(key, false))]
	var oldVal any
	if existed {
		oldVal = old.value
	}
	require.NoError(t, idx.Update(oldVal, v, key))
	store[string(tuple.Encode(key, false))] = record{key: key, value: v}
}

func TestIndexUpdateAndGet(t *testing.T) {
	idx, store := newFixture(t)
	k1 := tuple.Of(tuple.String("rec1"))
	put(t, idx, store, k1, map[string]any{"tags": []string{"go", "db"}})

	recKey, val, err := idx.Get(tuple.Of(tuple.String("go")))
	require.NoError(t, err)
	assert.Equal(t, 0, tuple.Compare(k1, recKey))
	assert.Equal(t, []string{"go", "db"}, val.(map[string]any)["tags"])

	_, _, err = idx.Get(tuple.Of(tuple.String("rust")))
	assert.ErrorIs(t, err, index.ErrNotFound)
}

func TestIndexUpdateRemovesStaleEntries(t *testing.T) {
	idx, store := newFixture(t)
	k1 := tuple.Of(tuple.String("rec1"))
	put(t, idx, store, k1, map[string]any{"tags": []string{"go"}})
	put(t, idx, store, k1, map[string]any{"tags": []string{"rust"}})

	_, _, err := idx.Get(tuple.Of(tuple.String("go")))
	assert.ErrorIs(t, err, index.ErrNotFound)

	recKey, _, err := idx.Get(tuple.Of(tuple.String("rust")))
	require.NoError(t, err)
	assert.Equal(t, 0, tuple.Compare(k1, recKey))
}

func TestIndexDeletedOnRemoval(t *testing.T) {
	idx, store := newFixture(t)
	k1 := tuple.Of(tuple.String("rec1"))
	put(t, idx, store, k1, map[string]any{"tags": []string{"go"}})

	require.NoError(t, idx.Update(map[string]any{"tags": []string{"go"}}, nil, k1))
	delete(store, string(tuple.Encode(k1, false)))

	_, _, err := idx.Get(tuple.Of(tuple.String("go")))
	assert.ErrorIs(t, err, index.ErrNotFound)
}

func TestIndexIterOrder(t *testing.T) {
	idx, store := newFixture(t)
	put(t, idx, store, tuple.Of(tuple.String("r1")), map[string]any{"tags": []string{"a"}})
	put(t, idx, store, tuple.Of(tuple.String("r2")), map[string]any{"tags": []string{"b"}})
	put(t, idx, store, tuple.Of(tuple.String("r3")), map[string]any{"tags": []string{"c"}})

	var entries []string
	err := idx.Iter(false, func(entry, recordKey tuple.Tuple, value any) bool {
		s, _ := entry[0].Str()
		entries = append(entries, s)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, entries)
}

func TestIndexDedupDuplicateEntries(t *testing.T) {
	idx, store := newFixture(t)
	k1 := tuple.Of(tuple.String("rec1"))
	put(t, idx, store, k1, map[string]any{"tags": []string{"go", "go", "go"}})

	count := 0
	err := idx.Iter(false, func(entry, recordKey tuple.Tuple, value any) bool {
		count++
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
