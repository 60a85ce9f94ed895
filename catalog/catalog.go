// Package catalog implements the core engine's metadata layer: the
// collection/counter/encoder descriptors bootstrapped at well-known
// prefixes under the store's configured root prefix (§4.D), and the
// in-memory index loaded from them on open. It is grounded on the
// teacher's approach to metadata rows in pkg/sorted (small
// tuple/record-shaped values keyed by a fixed prefix plus name), adapted
// from perkeep's blob-ref indexing idiom to this engine's tuple codec.
package catalog

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"centidb.dev/centidb/enginekv"
	"centidb.dev/centidb/tuple"
)

// Namespace bytes within the root prefix P, per §4.D.
const (
	nsCollection byte = 0x00
	nsCounter    byte = 0x01
	nsEncoder    byte = 0x02
)

// Built-in encoder ids, fixed and never physically written.
const (
	EncoderKey    uint64 = 1
	EncoderPickle uint64 = 2
	EncoderPlain  uint64 = 3
	EncoderZlib   uint64 = 4

	firstAllocatableEncoderID uint64 = 5
)

var builtinEncoderNames = map[string]uint64{
	"key":    EncoderKey,
	"pickle": EncoderPickle,
	"plain":  EncoderPlain,
	"zlib":   EncoderZlib,
}

// Kind distinguishes the three descriptor namespaces.
type Kind int

const (
	KindCollection Kind = iota
	KindCounter
	KindEncoder
)

func (k Kind) namespace() byte {
	switch k {
	case KindCollection:
		return nsCollection
	case KindEncoder:
		return nsEncoder
	default:
		return nsCounter
	}
}

// Descriptor is one catalog record: (name, idx, parent_name_or_null,
// key_scheme_or_null, value_scheme_or_null, packer_scheme_or_null), per
// §4.D. Counter descriptors repurpose Idx as the counter's current
// value; the other scheme fields are unused for counters.
type Descriptor struct {
	Name         string
	Idx          uint64
	ParentName   string // "" means null
	HasParent    bool
	KeyScheme    string
	HasKeyScheme bool
	ValueScheme  string
	HasValScheme bool
	PackerScheme string
	HasPackerScheme bool
}

func nullableStr(s string, has bool) tuple.Elem {
	if !has {
		return tuple.Null()
	}
	return tuple.String(s)
}

func (d Descriptor) encode() []byte {
	t := tuple.Of(
		tuple.String(d.Name),
		tuple.Uint(d.Idx),
		nullableStr(d.ParentName, d.HasParent),
		nullableStr(d.KeyScheme, d.HasKeyScheme),
		nullableStr(d.ValueScheme, d.HasValScheme),
		nullableStr(d.PackerScheme, d.HasPackerScheme),
	)
	return tuple.Encode(t, false)
}

func decodeDescriptor(b []byte) (Descriptor, error) {
	t, err := tuple.Decode(b)
	if err != nil {
		return Descriptor{}, errors.Wrap(err, "catalog: corrupt descriptor")
	}
	if len(t) != 6 || t[0].Kind != tuple.KindString {
		return Descriptor{}, errors.New("catalog: malformed descriptor shape")
	}
	name, _ := t[0].Str()
	idx, ok := t[1].Int64()
	if !ok || idx < 0 {
		return Descriptor{}, errors.New("catalog: malformed descriptor idx")
	}
	d := Descriptor{Name: name, Idx: uint64(idx)}
	if !t[2].IsNull() {
		d.ParentName, _ = t[2].Str()
		d.HasParent = true
	}
	if !t[3].IsNull() {
		d.KeyScheme, _ = t[3].Str()
		d.HasKeyScheme = true
	}
	if !t[4].IsNull() {
		d.ValueScheme, _ = t[4].Str()
		d.HasValScheme = true
	}
	if !t[5].IsNull() {
		d.PackerScheme, _ = t[5].Str()
		d.HasPackerScheme = true
	}
	return d, nil
}

func descriptorKey(prefix []byte, ns byte, name string) []byte {
	key := append(append([]byte{}, prefix...), ns)
	return tuple.AppendTuple(key, tuple.Of(tuple.String(name)), false)
}

// ErrUnknownEncoder is returned when a record references an encoder id
// with no catalog entry and no built-in meaning.
var ErrUnknownEncoder = errors.New("catalog: unknown encoder")

// nameIndex is a by-name descriptor lookup bucketed on xxhash.Sum64String
// rather than Go's built-in map string hash, so repeated put/get
// resolution of the same hot collection/encoder names on the catalog's
// lookup path doesn't pay Go's FNV-based map hash on every call. Bucket
// collisions (rare at this table's size) are resolved by a short linear
// scan.
type nameIndex struct {
	buckets map[uint64][]Descriptor
}

func newNameIndex() *nameIndex { return &nameIndex{buckets: make(map[uint64][]Descriptor)} }

func (n *nameIndex) get(name string) (Descriptor, bool) {
	for _, d := range n.buckets[xxhash.Sum64String(name)] {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

func (n *nameIndex) set(d Descriptor) {
	h := xxhash.Sum64String(d.Name)
	bucket := n.buckets[h]
	for i, e := range bucket {
		if e.Name == d.Name {
			bucket[i] = d
			return
		}
	}
	n.buckets[h] = append(bucket, d)
}

func (n *nameIndex) len() int {
	total := 0
	for _, b := range n.buckets {
		total += len(b)
	}
	return total
}

func (n *nameIndex) all() []Descriptor {
	out := make([]Descriptor, 0, n.len())
	for _, b := range n.buckets {
		out = append(out, b...)
	}
	return out
}

// Catalog owns the three metadata namespaces under a store's root
// prefix. It is safe for concurrent use.
type Catalog struct {
	mu     sync.RWMutex
	engine enginekv.KV
	prefix []byte
	log    *zap.Logger

	collections *nameIndex
	counters    *nameIndex
	encoders    *nameIndex
	encoderByID map[uint64]string // reverse lookup for EncoderName
}

// Open loads every descriptor under prefix from engine into memory. A
// missing encoder referenced by a collection/index is tolerated here
// (per §4.D's open question): it only surfaces as ErrUnknownEncoder when
// a caller actually resolves that id via Encoder.
func Open(engine enginekv.KV, prefix []byte, log *zap.Logger) (*Catalog, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Catalog{
		engine:      engine,
		prefix:      append([]byte{}, prefix...),
		log:         log,
		collections: newNameIndex(),
		counters:    newNameIndex(),
		encoders:    newNameIndex(),
		encoderByID: make(map[uint64]string),
	}
	for _, ns := range []byte{nsCollection, nsCounter, nsEncoder} {
		if err := c.loadNamespace(ns); err != nil {
			return nil, err
		}
	}
	c.log.Debug("catalog opened",
		zap.Int("collections", c.collections.len()),
		zap.Int("counters", c.counters.len()),
		zap.Int("encoders", c.encoders.len()))
	return c, nil
}

func (c *Catalog) loadNamespace(ns byte) error {
	start := append(append([]byte{}, c.prefix...), ns)
	end := tuple.Successor(start)
	it := c.engine.Range(start, false)
	defer it.Close()
	for it.Next() {
		if end != nil && bytesGTE(it.Key(), end) {
			break
		}
		d, err := decodeDescriptor(it.Value())
		if err != nil {
			return err
		}
		switch ns {
		case nsCollection:
			c.collections.set(d)
		case nsCounter:
			c.counters.set(d)
		case nsEncoder:
			c.encoders.set(d)
			c.encoderByID[d.Idx] = d.Name
		}
	}
	return it.Err()
}

func bytesGTE(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return len(a) >= len(b)
}

func (c *Catalog) put(ns byte, d Descriptor) error {
	key := descriptorKey(c.prefix, ns, d.Name)
	return errors.Wrap(c.engine.Put(key, d.encode()), "catalog: write descriptor")
}

// nextIdx allocates the next collection or encoding index via the
// reserved counters "\x00collections_idx"/"\x00encodings_idx", per §4.D.
func (c *Catalog) nextIdx(counterName string, floor uint64) (uint64, error) {
	d, ok := c.counters.get(counterName)
	if !ok {
		d = Descriptor{Name: counterName, Idx: floor}
	}
	v := d.Idx
	if v < floor {
		v = floor
	}
	next := Descriptor{Name: counterName, Idx: v + 1}
	if err := c.put(nsCounter, next); err != nil {
		return 0, err
	}
	c.counters.set(next)
	return v, nil
}

// AddCollection idempotently registers a collection by name, allocating
// a fresh idx (>= 10, per §3) on first use. Repeated calls with the same
// name return the existing descriptor unchanged.
func (c *Catalog) AddCollection(name, keyScheme, valueScheme, packerScheme string) (Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.collections.get(name); ok {
		return d, nil
	}
	idx, err := c.nextIdx("\x00collections_idx", 10)
	if err != nil {
		return Descriptor{}, err
	}
	d := Descriptor{
		Name: name, Idx: idx,
		KeyScheme: keyScheme, HasKeyScheme: keyScheme != "",
		ValueScheme: valueScheme, HasValScheme: valueScheme != "",
		PackerScheme: packerScheme, HasPackerScheme: packerScheme != "",
	}
	if err := c.put(nsCollection, d); err != nil {
		return Descriptor{}, err
	}
	c.collections.set(d)
	c.log.Info("collection registered", zap.String("name", name), zap.Uint64("idx", idx))
	return d, nil
}

// AddIndex idempotently registers an index as a child of parent.
func (c *Catalog) AddIndex(parent, name, keyScheme string) (Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.collections.get(name); ok {
		return d, nil
	}
	idx, err := c.nextIdx("\x00collections_idx", 10)
	if err != nil {
		return Descriptor{}, err
	}
	d := Descriptor{
		Name: name, Idx: idx,
		ParentName: parent, HasParent: true,
		KeyScheme: keyScheme, HasKeyScheme: keyScheme != "",
	}
	if err := c.put(nsCollection, d); err != nil {
		return Descriptor{}, err
	}
	c.collections.set(d)
	return d, nil
}

// Collection returns the descriptor registered under name.
func (c *Catalog) Collection(name string) (Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collections.get(name)
}

// AddEncoder idempotently registers a non-built-in encoder/compressor
// name, allocating an id from firstAllocatableEncoderID upward. Built-in
// names resolve without a catalog write.
func (c *Catalog) AddEncoder(name string) (uint64, error) {
	if id, ok := builtinEncoderNames[name]; ok {
		return id, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.encoders.get(name); ok {
		return d.Idx, nil
	}
	id, err := c.nextIdx("\x00encodings_idx", firstAllocatableEncoderID)
	if err != nil {
		return 0, err
	}
	d := Descriptor{Name: name, Idx: id}
	if err := c.put(nsEncoder, d); err != nil {
		return 0, err
	}
	c.encoders.set(d)
	c.encoderByID[id] = name
	return id, nil
}

// EncoderName resolves an encoder id to its registered name, surfacing
// ErrUnknownEncoder for any id with neither a built-in meaning nor a
// catalog entry -- deferred to access time per §4.D.
func (c *Catalog) EncoderName(id uint64) (string, error) {
	for name, bid := range builtinEncoderNames {
		if bid == id {
			return name, nil
		}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.encoderByID[id]
	if !ok {
		return "", ErrUnknownEncoder
	}
	return name, nil
}

// Collections returns every registered collection/index descriptor, for
// inspection tooling.
func (c *Catalog) Collections() []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collections.all()
}

// Counters returns every registered counter descriptor except the
// reserved id-allocation counters (names beginning with "\x00"), for
// inspection tooling.
func (c *Catalog) Counters() []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Descriptor
	for _, d := range c.counters.all() {
		if len(d.Name) > 0 && d.Name[0] == 0x00 {
			continue
		}
		out = append(out, d)
	}
	return out
}

// CustomEncoders returns every non-built-in registered encoder/
// compressor descriptor, for inspection tooling.
func (c *Catalog) CustomEncoders() []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.encoders.all()
}

// Count performs the atomic read-modify-write behind Collection.Count
// and collection auto-increment keys: read(name) -> v; write(name, v+step);
// return v. Counter values are carried in Descriptor.Idx (per §4.D's
// single tuple shape for all three descriptor kinds); both init and step
// are taken as signed but counters in this engine's own use (auto-
// increment, prefix allocation) only ever walk upward from a
// non-negative value. Callers are responsible for wrapping the
// surrounding mutation in the same engine transaction; this Catalog
// does not itself manage transactions (see enginekv.Txn).
func (c *Catalog) Count(name string, init, step int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.counters.get(name)
	cur := init
	if ok {
		cur = int64(d.Idx)
	}
	next := cur + step
	nd := Descriptor{Name: name, Idx: uint64(next)}
	if err := c.put(nsCounter, nd); err != nil {
		return 0, err
	}
	c.counters.set(nd)
	return cur, nil
}
