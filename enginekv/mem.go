package enginekv

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"centidb.dev/centidb/jsonconfig"
)

func init() {
	Register("memory", func(cfg jsonconfig.Obj) (KV, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return NewMemory(), nil
	})
}

type memItem struct {
	key, val []byte
}

func (a memItem) Less(than btree.Item) bool {
	return bytes.Compare(a.key, than.(memItem).key) < 0
}

// memKV is an in-memory ordered-map engine backed by a B-tree, for tests
// and development. It is not durable.
type memKV struct {
	mu sync.RWMutex
	bt *btree.BTree
}

// NewMemory returns a KV implementation backed only by memory.
func NewMemory() KV {
	return &memKV{bt: btree.New(32)}
}

func (m *memKV) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it := m.bt.Get(memItem{key: key})
	if it == nil {
		return nil, ErrNotFound
	}
	return it.(memItem).val, nil
}

func (m *memKV) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	m.bt.ReplaceOrInsert(memItem{key: k, val: v})
	return nil
}

func (m *memKV) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bt.Delete(memItem{key: key})
	return nil
}

func (m *memKV) TxnID() any { return nil }

func (m *memKV) Close() error { return nil }

func (m *memKV) Range(start []byte, reverse bool) Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var items []memItem
	collect := func(it btree.Item) bool {
		items = append(items, it.(memItem))
		return true
	}
	if !reverse {
		if len(start) == 0 {
			m.bt.Ascend(collect)
		} else {
			m.bt.AscendGreaterOrEqual(memItem{key: start}, collect)
		}
	} else {
		if len(start) == 0 {
			m.bt.Descend(collect)
		} else {
			m.bt.DescendLessOrEqual(memItem{key: start}, collect)
		}
	}
	return &memIter{items: items, idx: -1}
}

type memIter struct {
	items []memItem
	idx   int
}

func (it *memIter) Next() bool {
	it.idx++
	return it.idx < len(it.items)
}

func (it *memIter) Key() []byte   { return it.items[it.idx].key }
func (it *memIter) Value() []byte { return it.items[it.idx].val }
func (it *memIter) Err() error    { return nil }
func (it *memIter) Close() error {
	it.items = nil
	return nil
}
