// Package enginekv defines the ordered-map engine adapter contract the
// core data engine delegates all physical storage to, plus a registry of
// named constructors so a store can be opened from configuration without
// the caller importing a concrete backend package directly.
package enginekv

import (
	"fmt"

	"github.com/pkg/errors"

	"centidb.dev/centidb/jsonconfig"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("enginekv: key not found")

// KV is the thin facade the core engine requires of any third-party
// sorted key/value collaborator: get/put/delete/range in lexicographic
// key order. All key and value byte strings are NUL-safe; an
// implementation must not interpret their contents.
type KV interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(key []byte) ([]byte, error)

	Put(key, value []byte) error
	Delete(key []byte) error

	// Range returns a lazy iterator over (key, value) pairs in ascending
	// order starting at the first key >= start (or, if reverse is true,
	// in descending order starting at the first key <= start). If start
	// is empty and reverse is true, iteration begins at the greatest key
	// in the store.
	Range(start []byte, reverse bool) Iterator

	// TxnID identifies the currently active transaction, for callers that
	// want to invalidate their own caches across transaction boundaries.
	// It returns nil for engines with no transaction concept.
	TxnID() any

	Close() error
}

// Iterator iterates over an engine's key/value pairs in the order
// requested by Range. An iterator must be closed after use; Close
// releases the underlying cursor. Not every backend releases it earlier:
// the leveldb backend holds its cursor after exhaustion until Close.
type Iterator interface {
	// Next advances the iterator and reports whether a pair is available.
	Next() bool
	Key() []byte
	Value() []byte
	// Close releases the iterator's cursor. Safe to call multiple times.
	Close() error
	// Err returns any error encountered during iteration.
	Err() error
}

// Compactor is implemented by engines that expose an explicit space-
// reclamation operation (e.g. leveldb's CompactRange); most backends
// have no equivalent and simply don't implement it.
type Compactor interface {
	Compact() error
}

// Txn is implemented by engines that expose caller-driven transactions;
// collection/catalog/batch operations run inside one Txn for the
// duration of an operation so index and data writes commit atomically.
type Txn interface {
	KV
	Commit() error
	Rollback() error
}

// TxnOpener opens a new transaction scoped to a single operation. It
// corresponds to the txn_func configuration option from the engine
// adapter contract.
type TxnOpener func() (Txn, error)

var ctors = make(map[string]func(jsonconfig.Obj) (KV, error))

// Register installs a named constructor for a KV backend. It panics on
// an empty name or a duplicate registration, matching the registry
// discipline used for encoders and compressors elsewhere in this module.
func Register(name string, fn func(jsonconfig.Obj) (KV, error)) {
	if name == "" || fn == nil {
		panic("enginekv: empty name or nil constructor")
	}
	if _, dup := ctors[name]; dup {
		panic("enginekv: duplicate registration of " + name)
	}
	ctors[name] = fn
}

// Open constructs a KV from configuration of the form {"type": "<name>", ...}.
func Open(cfg jsonconfig.Obj) (KV, error) {
	// The backend constructor consults its own keys and then runs the
	// single Validate call over the whole object, "type" included.
	typ := cfg.RequiredString("type")
	ctor, ok := ctors[typ]
	if !ok {
		return nil, fmt.Errorf("enginekv: unknown engine type %q", typ)
	}
	return ctor(cfg)
}
