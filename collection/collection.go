// Package collection implements record CRUD, key-function application,
// and bounded iteration over a collection's physical key range (§4.E).
// It is grounded on the teacher's pkg/sorted iteration helpers (forward/
// reverse bounded scans over a sorted.KeyValue) generalized from string
// keys to this engine's tuple-keyed, per-collection-prefixed physical
// key space, and on pkg/index for the "derive then diff" index
// maintenance pattern now delegated to the index package.
package collection

import (
	"bytes"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"centidb.dev/centidb/catalog"
	"centidb.dev/centidb/enginekv"
	"centidb.dev/centidb/index"
	"centidb.dev/centidb/tuple"
	"centidb.dev/centidb/varint"
)

// ErrNotFound is returned by Find and Delete when no record matches; Get
// reports a missing record with found == false instead.
var ErrNotFound = errors.New("collection: not found")

// ErrUnknownEncoder mirrors catalog.ErrUnknownEncoder for a record whose
// stored encoder id has no registered meaning.
var ErrUnknownEncoder = catalog.ErrUnknownEncoder

// ErrKeyMismatch is returned by Put when a caller-supplied key disagrees
// with the collection's key function and the collection is not in
// derived-keys mode (§4.E's key-mismatch failure mode; see SPEC_FULL's
// resolution of the corresponding open question).
var ErrKeyMismatch = errors.New("collection: supplied key does not match key function")

// ErrCorruptValue is returned when a stored value's encoder-id header is
// truncated or otherwise unreadable.
var ErrCorruptValue = errors.New("collection: corrupt value")

// KeyFunc derives a record's logical key from its value. A collection
// with no KeyFunc falls back to an auto-increment counter.
type KeyFunc func(value any) (tuple.Tuple, error)

// Encoder packs/unpacks a record value to/from bytes; see valuecodec.Encoder.
type Encoder interface {
	Name() string
	Pack(v any) ([]byte, error)
	Unpack(b []byte) (any, error)
}

// EncoderRegistry resolves a collection's configured encoder name to an
// id (allocating one via the catalog on first use) and vice versa.
type EncoderRegistry interface {
	Resolve(name string) (id uint64, enc Encoder, err error)
	ByID(id uint64) (Encoder, error)
}

// Config describes one collection's identity and behavior, resolved
// once at Open time from catalog.Descriptor plus caller-supplied
// functions that cannot be persisted (key/encoder implementations).
type Config struct {
	Name            string
	Idx             uint64
	KeyFunc         KeyFunc // nil => auto-increment
	DerivedKeys     bool
	DefaultEncoder  string // "" => "plain"
	Encoders        EncoderRegistry
	Log             *zap.Logger
}

// Collection is a named logical namespace of tuple-keyed records.
type Collection struct {
	engine  enginekv.KV
	cat     *catalog.Catalog
	name    string
	prefix  []byte
	keyFunc KeyFunc
	derived bool
	encName string
	encs    EncoderRegistry
	indices map[string]*index.Index
	log     *zap.Logger
}

// New constructs a Collection bound to engine and cat, using cfg for its
// behavior. engine is expected to already provide batch-layer
// transparency (see package batch) when the store enables batching.
func New(engine enginekv.KV, cat *catalog.Catalog, cfg Config) *Collection {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	enc := cfg.DefaultEncoder
	if enc == "" {
		enc = "plain"
	}
	return &Collection{
		engine:  engine,
		cat:     cat,
		name:    cfg.Name,
		prefix:  varint.Encode(nil, cfg.Idx),
		keyFunc: cfg.KeyFunc,
		derived: cfg.DerivedKeys,
		encName: enc,
		encs:    cfg.Encoders,
		indices: make(map[string]*index.Index),
		log:     log,
	}
}

// AttachIndex registers idx (already opened against its own catalog
// prefix) to be maintained by this collection's Put/Delete.
func (c *Collection) AttachIndex(name string, idx *index.Index) {
	c.indices[name] = idx
}

// Index returns a previously attached index by name.
func (c *Collection) Index(name string) (*index.Index, bool) {
	idx, ok := c.indices[name]
	return idx, ok
}

func (c *Collection) physicalKey(key tuple.Tuple) []byte {
	return append(append([]byte{}, c.prefix...), tuple.Encode(key, false)...)
}

// PutOptions customizes a single Put call; the zero value requests
// auto/derived key assignment, the collection's default encoder, and
// full index maintenance.
type PutOptions struct {
	Key      tuple.Tuple
	HasKey   bool
	Encoder  string // "" uses the collection default
	Blind    bool   // skip reading/diffing the prior record for index maintenance
}

// Put stores value, returning the key it was assigned (§4.E).
func (c *Collection) Put(value any, opts PutOptions) (tuple.Tuple, error) {
	var funcKey tuple.Tuple
	var hasFuncKey bool
	if c.keyFunc != nil {
		k, err := c.keyFunc(value)
		if err != nil {
			return nil, errors.Wrap(err, "collection: key function")
		}
		funcKey, hasFuncKey = k, true
	}

	key := opts.Key
	switch {
	case opts.HasKey && hasFuncKey && !c.derived:
		if tuple.Compare(opts.Key, funcKey) != 0 {
			return nil, ErrKeyMismatch
		}
		key = opts.Key
	case opts.HasKey:
		key = opts.Key
	case hasFuncKey:
		key = funcKey
	default:
		v, err := c.cat.Count("key:"+c.name, 0, 1)
		if err != nil {
			return nil, errors.Wrap(err, "collection: auto-increment")
		}
		key = tuple.Of(tuple.Int(v))
	}

	encName := opts.Encoder
	if encName == "" {
		encName = c.encName
	}
	id, enc, err := c.encs.Resolve(encName)
	if err != nil {
		return nil, err
	}
	packed, err := enc.Pack(value)
	if err != nil {
		return nil, errors.Wrap(err, "collection: encode value")
	}
	raw := varint.Encode(make([]byte, 0, varint.MaxLen+len(packed)), id)
	raw = append(raw, packed...)

	// Relocation: a derived-keys collection whose caller supplied the
	// record's prior location moves the record if its freshly derived
	// key differs.
	if c.derived && opts.HasKey && hasFuncKey && tuple.Compare(opts.Key, funcKey) != 0 {
		if err := c.deleteAt(opts.Key); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		key = funcKey
	}

	var oldValue any
	var hadOld bool
	if !opts.Blind && !c.derived {
		if v, found, err := c.getDecoded(key); err != nil {
			return nil, err
		} else if found {
			oldValue, hadOld = v, true
		}
	}

	if err := c.engine.Put(c.physicalKey(key), raw); err != nil {
		return nil, errors.Wrap(err, "collection: put")
	}

	for name, idx := range c.indices {
		var old any
		if hadOld {
			old = oldValue
		}
		if err := idx.Update(old, value, key); err != nil {
			return nil, errors.Wrapf(err, "collection: index %s", name)
		}
	}
	return key, nil
}

func (c *Collection) decodeRaw(raw []byte) (any, error) {
	id, n, err := varint.Decode(raw)
	if err != nil {
		return nil, errors.Wrap(ErrCorruptValue, "header")
	}
	enc, err := c.encs.ByID(id)
	if err != nil {
		return nil, err
	}
	v, err := enc.Unpack(raw[n:])
	if err != nil {
		return nil, errors.Wrap(err, "collection: decode value")
	}
	return v, nil
}

func (c *Collection) getDecoded(key tuple.Tuple) (any, bool, error) {
	raw, err := c.engine.Get(c.physicalKey(key))
	if errors.Is(err, enginekv.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "collection: get")
	}
	v, err := c.decodeRaw(raw)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Get returns the decoded value at key. If raw is true, the decompressed
// but still encoder-packed bytes are returned instead (skipping Unpack).
func (c *Collection) Get(key tuple.Tuple, raw bool) (any, bool, error) {
	rawBytes, err := c.engine.Get(c.physicalKey(key))
	if errors.Is(err, enginekv.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "collection: get")
	}
	if raw {
		id, n, err := varint.Decode(rawBytes)
		if err != nil {
			return nil, false, errors.Wrap(ErrCorruptValue, "header")
		}
		_ = id
		return rawBytes[n:], true, nil
	}
	v, err := c.decodeRaw(rawBytes)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (c *Collection) deleteAt(key tuple.Tuple) error {
	oldValue, found, err := c.getDecoded(key)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	if err := c.engine.Delete(c.physicalKey(key)); err != nil {
		return errors.Wrap(err, "collection: delete")
	}
	for name, idx := range c.indices {
		if err := idx.Update(oldValue, nil, key); err != nil {
			return errors.Wrapf(err, "collection: index %s", name)
		}
	}
	return nil
}

// Delete removes the record at key and all its index entries (§4.E).
func (c *Collection) Delete(key tuple.Tuple) error {
	return c.deleteAt(key)
}

// Find returns the first element matching opts, or ErrNotFound.
func (c *Collection) Find(opts RangeOptions) (tuple.Tuple, any, error) {
	opts.Max = 1
	cur, err := c.Items(opts)
	if err != nil {
		return nil, nil, err
	}
	defer cur.Close()
	if !cur.Next() {
		if err := cur.Err(); err != nil {
			return nil, nil, err
		}
		return nil, nil, ErrNotFound
	}
	return cur.Key(), cur.Value(), nil
}

// Count performs an atomic read-modify-write of a catalog-stored
// counter (§4.E), returning the value prior to the step.
func (c *Collection) Count(name string, init, step int64) (int64, error) {
	return c.cat.Count(c.name+":"+name, init, step)
}

// RangeOptions bounds a Keys/Values/Items scan (§4.E).
type RangeOptions struct {
	Lo, Hi       tuple.Tuple
	HasLo, HasHi bool
	Reverse      bool
	Include      bool // hi is inclusive
	Max          int  // 0 = unlimited
	Prefix       tuple.Tuple
	HasPrefix    bool
}

// Cursor is a lazy, finite, non-restartable sequence over a collection's
// key range. Bounds are tracked as a direction-independent (stopKey,
// stopInclusive) pair: the key beyond which iteration must not pass,
// whichever direction it scans in.
type Cursor struct {
	col          *Collection
	it           enginekv.Iterator
	stopKey      []byte
	stopInclusive bool
	max          int
	seen         int
	reverse      bool
	key          tuple.Tuple
	val          any
	err          error
	done         bool
}

// Items opens a Cursor per opts.
func (c *Collection) Items(opts RangeOptions) (*Cursor, error) {
	var startBytes, stopKey []byte
	stopInclusive := opts.Include

	switch {
	case opts.HasPrefix:
		open := append(append([]byte{}, c.prefix...), tuple.Encode(opts.Prefix, true)...)
		closedSucc := tuple.Successor(open)
		if !opts.Reverse {
			startBytes = open
			stopKey = closedSucc // exclusive
			stopInclusive = false
		} else {
			if closedSucc != nil {
				startBytes = closedSucc
			}
			stopKey = open // inclusive: the prefix's own open encoding is its first member
			stopInclusive = true
		}
	case opts.Reverse:
		if opts.HasLo {
			startBytes = c.physicalKey(opts.Lo)
		} else if succ := tuple.Successor(c.prefix); succ != nil {
			startBytes = succ
		}
		if opts.HasHi {
			stopKey = c.physicalKey(opts.Hi)
		} else {
			stopKey = append([]byte{}, c.prefix...)
			stopInclusive = true
		}
	default:
		if opts.HasLo {
			startBytes = c.physicalKey(opts.Lo)
		} else {
			startBytes = append([]byte{}, c.prefix...)
		}
		if opts.HasHi {
			stopKey = c.physicalKey(opts.Hi)
		}
	}

	it := c.engine.Range(startBytes, opts.Reverse)
	return &Cursor{
		col: c, it: it, stopKey: stopKey, stopInclusive: stopInclusive,
		max: opts.Max, reverse: opts.Reverse,
	}, nil
}

// Next advances the cursor, returning false at end-of-range or on error
// (distinguish via Err).
func (cur *Cursor) Next() bool {
	if cur.done || cur.err != nil {
		return false
	}
	if cur.max > 0 && cur.seen >= cur.max {
		cur.done = true
		return false
	}
	for cur.it.Next() {
		k := cur.it.Key()
		if !bytes.HasPrefix(k, cur.col.prefix) {
			cur.done = true
			return false
		}
		if cur.stopKey != nil {
			cmp := bytes.Compare(k, cur.stopKey)
			past := cmp > 0
			if cur.reverse {
				past = cmp < 0
			}
			atBoundary := cmp == 0
			if past || (atBoundary && !cur.stopInclusive) {
				cur.done = true
				return false
			}
		}
		keyTuple, err := tuple.Decode(k[len(cur.col.prefix):])
		if err != nil {
			cur.err = errors.Wrap(err, "collection: corrupt key")
			return false
		}
		val, err := cur.col.decodeRaw(cur.it.Value())
		if err != nil {
			cur.err = err
			return false
		}
		cur.key, cur.val = keyTuple, val
		cur.seen++
		return true
	}
	if err := cur.it.Err(); err != nil {
		cur.err = err
	}
	cur.done = true
	return false
}

func (cur *Cursor) Key() tuple.Tuple { return cur.key }
func (cur *Cursor) Value() any       { return cur.val }
func (cur *Cursor) Err() error       { return cur.err }
func (cur *Cursor) Close() error     { return cur.it.Close() }
