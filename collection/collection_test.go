package collection_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"centidb.dev/centidb/catalog"
	"centidb.dev/centidb/collection"
	"centidb.dev/centidb/enginekv"
	"centidb.dev/centidb/index"
	"centidb.dev/centidb/tuple"
	"centidb.dev/centidb/valuecodec"
)

// testRegistry is a minimal collection.EncoderRegistry wiring the four
// built-ins onto their fixed catalog ids, enough to exercise Collection
// without a full Store.
type testRegistry struct{}

func (testRegistry) Resolve(name string) (uint64, collection.Encoder, error) {
	switch name {
	case "key":
		return catalog.EncoderKey, valuecodec.Key, nil
	case "pickle":
		return catalog.EncoderPickle, valuecodec.Pickle, nil
	case "plain":
		return catalog.EncoderPlain, valuecodec.Plain, nil
	case "zlib":
		return catalog.EncoderZlib, valuecodec.Zlib, nil
	default:
		return 0, nil, collection.ErrUnknownEncoder
	}
}

func (testRegistry) ByID(id uint64) (collection.Encoder, error) {
	switch id {
	case catalog.EncoderKey:
		return valuecodec.Key, nil
	case catalog.EncoderPickle:
		return valuecodec.Pickle, nil
	case catalog.EncoderPlain:
		return valuecodec.Plain, nil
	case catalog.EncoderZlib:
		return valuecodec.Zlib, nil
	default:
		return nil, collection.ErrUnknownEncoder
	}
}

func newTestCollection(t *testing.T, cfg collection.Config) (*collection.Collection, *catalog.Catalog) {
	t.Helper()
	eng := enginekv.NewMemory()
	cat, err := catalog.Open(eng, []byte{0x50}, nil)
	require.NoError(t, err)
	d, err := cat.AddCollection(cfg.Name, "", "", "")
	require.NoError(t, err)
	cfg.Idx = d.Idx
	if cfg.Encoders == nil {
		cfg.Encoders = testRegistry{}
	}
	if cfg.DefaultEncoder == "" {
		cfg.DefaultEncoder = "pickle"
	}
	return collection.New(eng, cat, cfg), cat
}

func TestPutGetAutoIncrement(t *testing.T) {
	col, _ := newTestCollection(t, collection.Config{Name: "widgets"})

	key, err := col.Put(map[string]any{"color": "red"}, collection.PutOptions{})
	require.NoError(t, err)
	require.Len(t, key, 1)

	v, found, err := col.Get(key, false)
	require.NoError(t, err)
	require.True(t, found)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "red", m["color"])

	key2, err := col.Put(map[string]any{"color": "blue"}, collection.PutOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, key, key2)
}

func TestPutExplicitKeyAndDelete(t *testing.T) {
	col, _ := newTestCollection(t, collection.Config{Name: "widgets"})

	key := tuple.Of(tuple.String("w1"))
	_, err := col.Put("hello", collection.PutOptions{Key: key, HasKey: true})
	require.NoError(t, err)

	v, found, err := col.Get(key, false)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "hello", v)

	require.NoError(t, col.Delete(key))
	_, found, err = col.Get(key, false)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestKeyFuncMismatch(t *testing.T) {
	col, _ := newTestCollection(t, collection.Config{
		Name: "people",
		KeyFunc: func(v any) (tuple.Tuple, error) {
			m := v.(map[string]any)
			return tuple.Of(tuple.String(m["id"].(string))), nil
		},
	})

	wrongKey := tuple.Of(tuple.String("wrong"))
	_, err := col.Put(map[string]any{"id": "right"}, collection.PutOptions{Key: wrongKey, HasKey: true})
	assert.ErrorIs(t, err, collection.ErrKeyMismatch)
}

func TestItemsRangeForwardAndReverse(t *testing.T) {
	col, _ := newTestCollection(t, collection.Config{Name: "nums"})
	for i := 0; i < 5; i++ {
		_, err := col.Put(i, collection.PutOptions{
			Key: tuple.Of(tuple.Int(int64(i))), HasKey: true,
		})
		require.NoError(t, err)
	}

	cur, err := col.Items(collection.RangeOptions{})
	require.NoError(t, err)
	var got []int
	for cur.Next() {
		got = append(got, cur.Value().(int))
	}
	require.NoError(t, cur.Err())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)

	cur2, err := col.Items(collection.RangeOptions{Reverse: true})
	require.NoError(t, err)
	got = nil
	for cur2.Next() {
		got = append(got, cur2.Value().(int))
	}
	require.NoError(t, cur2.Err())
	assert.Equal(t, []int{4, 3, 2, 1, 0}, got)
}

func TestItemsMaxLimit(t *testing.T) {
	col, _ := newTestCollection(t, collection.Config{Name: "nums"})
	for i := 0; i < 5; i++ {
		_, err := col.Put(i, collection.PutOptions{Key: tuple.Of(tuple.Int(int64(i))), HasKey: true})
		require.NoError(t, err)
	}
	cur, err := col.Items(collection.RangeOptions{Max: 2})
	require.NoError(t, err)
	var got []int
	for cur.Next() {
		got = append(got, cur.Value().(int))
	}
	assert.Equal(t, []int{0, 1}, got)
}

func TestFindNotFound(t *testing.T) {
	col, _ := newTestCollection(t, collection.Config{Name: "empty"})
	_, _, err := col.Find(collection.RangeOptions{})
	assert.ErrorIs(t, err, collection.ErrNotFound)
}

func TestCollectionCount(t *testing.T) {
	col, _ := newTestCollection(t, collection.Config{Name: "c"})
	v, err := col.Count("hits", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
	v, err = col.Count("hits", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestAttachedIndexMaintained(t *testing.T) {
	col, cat := newTestCollection(t, collection.Config{Name: "people"})
	d, err := cat.AddIndex("people", "people.by_name", "")
	require.NoError(t, err)

	var fetch index.Fetch = func(recordKey tuple.Tuple) (any, bool, error) {
		return col.Get(recordKey, false)
	}
	byName, err := index.New(enginekv.NewMemory(), []byte{byte(d.Idx)}, func(v any) ([]tuple.Tuple, error) {
		m := v.(map[string]any)
		return []tuple.Tuple{tuple.Of(tuple.String(m["name"].(string)))}, nil
	}, fetch, index.Config{})
	require.NoError(t, err)
	col.AttachIndex("by_name", byName)

	key, err := col.Put(map[string]any{"name": "ada"}, collection.PutOptions{})
	require.NoError(t, err)

	gotKey, gotVal, err := byName.Get(tuple.Of(tuple.String("ada")))
	require.NoError(t, err)
	assert.Equal(t, 0, tuple.Compare(key, gotKey))
	assert.Equal(t, "ada", gotVal.(map[string]any)["name"])
}
