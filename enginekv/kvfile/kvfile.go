// Package kvfile implements enginekv.KV on top of a single mutable
// database file on disk using modernc.org/kv, a pure-Go B+tree store.
// It is adapted from the teacher's pkg/sorted/kvfile (itself built on
// the predecessor github.com/cznic/kv) for environments that cannot use
// cgo-based goleveldb.
package kvfile

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"modernc.org/kv"

	"centidb.dev/centidb/enginekv"
	"centidb.dev/centidb/jsonconfig"
)

func init() {
	enginekv.Register("kvfile", newFromConfig)
}

// NewStorage opens (creating if absent) a modernc.org/kv-backed store at file.
func NewStorage(file string) (enginekv.KV, error) {
	return newFromConfig(jsonconfig.Obj{"file": file})
}

func newFromConfig(cfg jsonconfig.Obj) (enginekv.KV, error) {
	file := cfg.RequiredString("file")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := &kv.Options{}
	open := kv.Open
	if _, err := os.Stat(file); os.IsNotExist(err) {
		open = kv.Create
	}
	db, err := open(file, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "kvfile: open %s", file)
	}
	return &store{db: db, path: file}, nil
}

type store struct {
	db   *kv.DB
	path string
}

func (s *store) Get(key []byte) ([]byte, error) {
	v, err := s.db.Get(nil, key)
	if err != nil {
		return nil, errors.Wrap(err, "kvfile: get")
	}
	if v == nil {
		return nil, enginekv.ErrNotFound
	}
	return v, nil
}

func (s *store) Put(key, value []byte) error {
	return errors.Wrap(s.db.Set(key, value), "kvfile: put")
}

func (s *store) Delete(key []byte) error {
	return errors.Wrap(s.db.Delete(key), "kvfile: delete")
}

func (s *store) TxnID() any   { return nil }
func (s *store) Close() error { return s.db.Close() }

// Range returns a lazy forward iterator driven directly by a
// modernc.org/kv Enumerator. Reverse scans materialize their result set
// up front: the Enumerator type only walks forward (Next) or requires a
// second Seek+Prev dance whose exact boundary semantics are engine-
// version-specific, so for the reverse direction we collect into memory
// once rather than risk an off-by-one at the scan boundary.
func (s *store) Range(start []byte, reverse bool) enginekv.Iterator {
	var enum *kv.Enumerator
	var err error
	if len(start) == 0 {
		enum, err = s.db.SeekFirst()
	} else {
		enum, _, err = s.db.Seek(start)
	}
	if !reverse {
		return &forwardIter{enum: enum, err: err}
	}

	// Reverse: collect every key <= start (all keys if start is empty)
	// in ascending order from the first key, then flip the result.
	var items []kvPair
	if enum, err = s.db.SeekFirst(); err == nil {
		for {
			k, v, nerr := enum.Next()
			if nerr != nil || (len(start) > 0 && bytes.Compare(k, start) > 0) {
				break
			}
			items = append(items, kvPair{k, v})
		}
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return &materializedIter{items: items, idx: -1}
}

type kvPair struct{ key, val []byte }

type forwardIter struct {
	enum     *kv.Enumerator
	err      error
	key, val []byte
}

func (it *forwardIter) Next() bool {
	if it.err != nil {
		return false
	}
	k, v, err := it.enum.Next()
	if err != nil {
		it.err = err
		return false
	}
	it.key, it.val = k, v
	return true
}

func (it *forwardIter) Key() []byte   { return it.key }
func (it *forwardIter) Value() []byte { return it.val }
func (it *forwardIter) Err() error {
	if it.err == io.EOF {
		return nil
	}
	return it.err
}
func (it *forwardIter) Close() error { return nil }

type materializedIter struct {
	items []kvPair
	idx   int
}

func (it *materializedIter) Next() bool {
	it.idx++
	return it.idx < len(it.items)
}
func (it *materializedIter) Key() []byte   { return it.items[it.idx].key }
func (it *materializedIter) Value() []byte { return it.items[it.idx].val }
func (it *materializedIter) Err() error    { return nil }
func (it *materializedIter) Close() error  { it.items = nil; return nil }
