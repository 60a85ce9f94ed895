// Package batch implements the batch layer (§4.G): grouping of
// contiguous singleton records into one compressed physical record, and
// a transparent decorator over an enginekv.KV that splits a batch back
// into singletons whenever a write targets one of its members, and that
// decomposes batch records into their member (key, value) pairs on
// iteration. It is grounded on the teacher's pkg/sorted/buffer package,
// whose job of presenting a merged, re-sorted view of underlying
// key/value pairs over a raw KeyValue is adapted here to presenting a
// *decompressed* view of compressed multi-record physical entries.
package batch

import (
	"bytes"
	"reflect"

	"github.com/pkg/errors"

	"centidb.dev/centidb/compressor"
	"centidb.dev/centidb/enginekv"
	"centidb.dev/centidb/tuple"
	"centidb.dev/centidb/varint"
)

// CompressorRegistry resolves a batch compressor by name (allocating a
// catalog id on first use) or by id, mirroring collection.EncoderRegistry.
type CompressorRegistry interface {
	Resolve(name string) (id uint64, c compressor.Compressor, err error)
	ByID(id uint64) (compressor.Compressor, error)
}

// Store decorates an underlying enginekv.KV with batch-record awareness
// for a single collection's physical key prefix. It itself implements
// enginekv.KV, so collection.Collection can use it as a drop-in
// replacement for the raw engine wherever batching should be
// transparent.
type Store struct {
	engine enginekv.KV
	prefix []byte
	comp   CompressorRegistry
}

// New returns a Store scoped to prefix (a collection's physical key
// prefix) backed by engine.
func New(engine enginekv.KV, prefix []byte, comp CompressorRegistry) *Store {
	return &Store{engine: engine, prefix: append([]byte{}, prefix...), comp: comp}
}

func (s *Store) physicalKey(k tuple.Tuple) []byte {
	return append(append([]byte{}, s.prefix...), tuple.Encode(k, false)...)
}

func (s *Store) decodeKeyTuple(physKey []byte) (tuple.Tuple, error) {
	if !bytes.HasPrefix(physKey, s.prefix) {
		return nil, errors.New("batch: key outside store prefix")
	}
	return tuple.Decode(physKey[len(s.prefix):])
}

// locateBatch finds the batch record (if any) whose member range covers
// k, by forward-scanning from encode([k]) and inspecting the first
// candidate key without decoding its value (§4.G).
func (s *Store) locateBatch(k tuple.Tuple) (physKey []byte, members []tuple.Tuple, found bool, err error) {
	it := s.engine.Range(s.physicalKey(k), false)
	defer it.Close()
	if !it.Next() {
		return nil, nil, false, it.Err()
	}
	key := append([]byte{}, it.Key()...)
	if !bytes.HasPrefix(key, s.prefix) {
		return nil, nil, false, nil
	}
	seq, err := tuple.DecodeSeq(key[len(s.prefix):])
	if err != nil {
		return nil, nil, false, errors.Wrap(err, "batch: corrupt key")
	}
	if len(seq) < 2 {
		return nil, nil, false, nil // singleton, not a batch
	}
	members = make([]tuple.Tuple, len(seq))
	for i, t := range seq {
		members[len(seq)-1-i] = t // stored reversed: undo it
	}
	min, max := members[0], members[len(members)-1]
	if tuple.Compare(k, min) < 0 || tuple.Compare(k, max) > 0 {
		return nil, nil, false, nil
	}
	for _, m := range members {
		if tuple.Compare(m, k) == 0 {
			return key, members, true, nil
		}
	}
	return nil, nil, false, nil
}

func (s *Store) decodeBatchValue(raw []byte) ([][]byte, error) {
	n, pos, err := varint.Decode(raw)
	if err != nil {
		return nil, errors.Wrap(err, "batch: decode count")
	}
	lens := make([]uint64, n)
	for i := range lens {
		l, used, err := varint.Decode(raw[pos:])
		if err != nil {
			return nil, errors.Wrap(err, "batch: decode length table")
		}
		lens[i] = l
		pos += used
	}
	compID, used, err := varint.Decode(raw[pos:])
	if err != nil {
		return nil, errors.Wrap(err, "batch: decode compressor id")
	}
	pos += used
	c, err := s.comp.ByID(compID)
	if err != nil {
		return nil, err
	}
	data, err := c.Unpack(raw[pos:])
	if err != nil {
		return nil, errors.Wrap(err, "batch: decompress")
	}
	out := make([][]byte, n)
	off := 0
	for i, l := range lens {
		out[i] = data[off : off+int(l)]
		off += int(l)
	}
	return out, nil
}

func (s *Store) encodeBatchValue(payloads [][]byte, compressorName string) ([]byte, error) {
	id, c, err := s.comp.Resolve(compressorName)
	if err != nil {
		return nil, err
	}
	buf := varint.Encode(nil, uint64(len(payloads)))
	total := 0
	for _, p := range payloads {
		buf = varint.Encode(buf, uint64(len(p)))
		total += len(p)
	}
	buf = varint.Encode(buf, id)
	concat := make([]byte, 0, total)
	for _, p := range payloads {
		concat = append(concat, p...)
	}
	packed, err := c.Pack(concat)
	if err != nil {
		return nil, errors.Wrap(err, "batch: compress")
	}
	return append(buf, packed...), nil
}

// split reads and decompresses the batch at physKey/members, deletes the
// batch record, and reinserts every member as a singleton (§4.G "on
// write into a batch range").
func (s *Store) split(physKey []byte, members []tuple.Tuple) error {
	raw, err := s.engine.Get(physKey)
	if err != nil {
		return errors.Wrap(err, "batch: read for split")
	}
	payloads, err := s.decodeBatchValue(raw)
	if err != nil {
		return err
	}
	if err := s.engine.Delete(physKey); err != nil {
		return errors.Wrap(err, "batch: delete during split")
	}
	for i, m := range members {
		if err := s.engine.Put(s.physicalKey(m), payloads[i]); err != nil {
			return errors.Wrap(err, "batch: reinsert member")
		}
	}
	return nil
}

// Get implements enginekv.KV: probe for a singleton, falling back to
// locating and decoding a covering batch record (§4.G "on read").
func (s *Store) Get(key []byte) ([]byte, error) {
	v, err := s.engine.Get(key)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, enginekv.ErrNotFound) {
		return nil, err
	}
	k, derr := s.decodeKeyTuple(key)
	if derr != nil {
		return nil, derr
	}
	physKey, members, found, err := s.locateBatch(k)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, enginekv.ErrNotFound
	}
	raw, err := s.engine.Get(physKey)
	if err != nil {
		return nil, err
	}
	payloads, err := s.decodeBatchValue(raw)
	if err != nil {
		return nil, err
	}
	for i, m := range members {
		if tuple.Compare(m, k) == 0 {
			return payloads[i], nil
		}
	}
	return nil, enginekv.ErrNotFound
}

// Put implements enginekv.KV, splitting any batch record covering key
// before writing the singleton (§4.G).
func (s *Store) Put(key, value []byte) error {
	if err := s.splitIfCovered(key); err != nil {
		return err
	}
	return s.engine.Put(key, value)
}

// Delete implements enginekv.KV, splitting any batch record covering key
// before deleting the singleton.
func (s *Store) Delete(key []byte) error {
	if err := s.splitIfCovered(key); err != nil {
		return err
	}
	return s.engine.Delete(key)
}

func (s *Store) splitIfCovered(key []byte) error {
	if _, err := s.engine.Get(key); err == nil {
		return nil // already a singleton; no batch involved
	} else if !errors.Is(err, enginekv.ErrNotFound) {
		return err
	}
	k, err := s.decodeKeyTuple(key)
	if err != nil {
		return err
	}
	physKey, members, found, err := s.locateBatch(k)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	return s.split(physKey, members)
}

func (s *Store) TxnID() any   { return s.engine.TxnID() }
func (s *Store) Close() error { return s.engine.Close() }

type kvPair struct {
	key []byte
	val []byte
}

// Range implements enginekv.KV, transparently decomposing batch records
// encountered into their member (key, value) pairs, interleaved with
// singletons in scan order (§4.G "on iteration").
func (s *Store) Range(start []byte, reverse bool) enginekv.Iterator {
	return &iter{store: s, under: s.engine.Range(start, reverse), reverse: reverse}
}

type iter struct {
	store   *Store
	under   enginekv.Iterator
	reverse bool
	queue   []kvPair
	cur     kvPair
	err     error
}

func (it *iter) Next() bool {
	if len(it.queue) > 0 {
		it.cur, it.queue = it.queue[0], it.queue[1:]
		return true
	}
	if it.err != nil || !it.under.Next() {
		if it.err == nil {
			it.err = it.under.Err()
		}
		return false
	}
	k, v := it.under.Key(), it.under.Value()
	if !bytes.HasPrefix(k, it.store.prefix) {
		it.cur = kvPair{k, v}
		return true
	}
	seq, err := tuple.DecodeSeq(k[len(it.store.prefix):])
	if err != nil {
		it.err = errors.Wrap(err, "batch: corrupt key during iteration")
		return false
	}
	if len(seq) < 2 {
		it.cur = kvPair{k, v}
		return true
	}
	members := make([]tuple.Tuple, len(seq))
	for i, t := range seq {
		members[len(seq)-1-i] = t
	}
	payloads, err := it.store.decodeBatchValue(v)
	if err != nil {
		it.err = err
		return false
	}
	items := make([]kvPair, len(members))
	for i, m := range members {
		items[i] = kvPair{it.store.physicalKey(m), payloads[i]}
	}
	if it.reverse {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}
	it.cur, it.queue = items[0], items[1:]
	return true
}

func (it *iter) Key() []byte   { return it.cur.key }
func (it *iter) Value() []byte { return it.cur.val }
func (it *iter) Err() error    { return it.err }
func (it *iter) Close() error  { return it.under.Close() }

// Grouper decides whether consecutive raw record values belong to the
// same batch run, for Batch's run-length grouping mode. A return of
// (group, false) disables grouping for that record (every record starts
// a fresh potential run boundary only based on size limits).
type Grouper func(rawValue []byte) (group any, ok bool)

// Batch scans the range of non-batch (singleton) records starting at lo
// (or the whole prefix if !hasLo) up to hi (or unbounded if !hasHi),
// grouping contiguous runs into new batch records per maxRecs, maxBytes,
// and grouper, per §4.G. It returns the number of batch records created.
// Existing batch records are left untouched and end the current run.
func (s *Store) Batch(lo tuple.Tuple, hasLo bool, hi tuple.Tuple, hasHi bool, maxRecs, maxBytes int, grouper Grouper, compressorName string) (int, error) {
	start := append([]byte{}, s.prefix...)
	if hasLo {
		start = s.physicalKey(lo)
	}
	hiBytes := s.physicalKey(hi)

	it := s.engine.Range(start, false)
	defer it.Close()

	created := 0
	var pendingKeys []tuple.Tuple
	var pendingVals [][]byte
	var pendingBytes int
	var lastGroup any
	var hasGroup bool

	flush := func() error {
		defer func() {
			pendingKeys, pendingVals, pendingBytes, hasGroup = nil, nil, 0, false
		}()
		if len(pendingKeys) < 2 {
			return nil
		}
		reversed := make([]tuple.Tuple, len(pendingKeys))
		for i, k := range pendingKeys {
			reversed[len(pendingKeys)-1-i] = k
		}
		physKey := append(append([]byte{}, s.prefix...), tuple.EncodeSeq(reversed, false)...)
		val, err := s.encodeBatchValue(pendingVals, compressorName)
		if err != nil {
			return err
		}
		if err := s.engine.Put(physKey, val); err != nil {
			return errors.Wrap(err, "batch: write batch record")
		}
		for _, k := range pendingKeys {
			if err := s.engine.Delete(s.physicalKey(k)); err != nil {
				return errors.Wrap(err, "batch: delete grouped singleton")
			}
		}
		created++
		return nil
	}

	for it.Next() {
		k := it.Key()
		if !bytes.HasPrefix(k, s.prefix) {
			break
		}
		if hasHi && bytes.Compare(k, hiBytes) > 0 {
			break
		}
		seq, err := tuple.DecodeSeq(k[len(s.prefix):])
		if err != nil {
			return created, errors.Wrap(err, "batch: corrupt key")
		}
		if len(seq) != 1 {
			if err := flush(); err != nil {
				return created, err
			}
			continue
		}
		val := append([]byte{}, it.Value()...)
		var group any = true
		hasG := false
		if grouper != nil {
			group, hasG = grouper(val)
		}
		newRun := hasGroup && hasG && !reflect.DeepEqual(lastGroup, group)
		full := (maxRecs > 0 && len(pendingKeys) >= maxRecs) ||
			(maxBytes > 0 && pendingBytes+len(val) > maxBytes)
		if len(pendingKeys) > 0 && (newRun || full) {
			if err := flush(); err != nil {
				return created, err
			}
		}
		pendingKeys = append(pendingKeys, seq[0])
		pendingVals = append(pendingVals, val)
		pendingBytes += len(val)
		lastGroup, hasGroup = group, hasG
	}
	if err := flush(); err != nil {
		return created, err
	}
	return created, it.Err()
}
