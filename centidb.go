// Package centidb is the top-level orchestration point of the core data
// engine: it owns the catalog, opens collections and indices against it,
// and combines the catalog's encoder/compressor id allocation with the
// built-in and caller-registered codecs into the EncoderRegistry and
// CompressorRegistry collections and batches resolve against. It plays
// the role perkeep.org/pkg/index/index.go's Index struct plays for that
// package: gluing the engine, catalog and mutation pipeline together
// behind one open call.
package centidb

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"centidb.dev/centidb/batch"
	"centidb.dev/centidb/catalog"
	"centidb.dev/centidb/collection"
	"centidb.dev/centidb/compressor"
	"centidb.dev/centidb/enginekv"
	"centidb.dev/centidb/index"
	"centidb.dev/centidb/metrics"
	"centidb.dev/centidb/tuple"
	"centidb.dev/centidb/valuecodec"
	"centidb.dev/centidb/varint"

	"github.com/prometheus/client_golang/prometheus"
)

// Config describes how to open a Store (§4.D, §6).
type Config struct {
	// Engine is the underlying ordered-map collaborator. Required.
	Engine enginekv.KV
	// Prefix is the catalog's root prefix P, scoping every descriptor
	// this store writes so several stores (or store generations) can
	// share one physical keyspace.
	Prefix []byte
	// TxnFunc opens a transaction for a single operation; nil means the
	// engine's own Put/Delete calls are individually atomic and no
	// explicit transaction wrapping is performed (§6).
	TxnFunc enginekv.TxnOpener
	Log     *zap.Logger
	// Registerer, if non-nil, creates and registers the operation
	// counters and latency histograms exposed via Store.Metrics. Store
	// operations do not record into them; only calls to Metrics.Observe
	// and Metrics.BatchSplit do. A nil Registerer (the default) leaves
	// Store.Metrics nil.
	Registerer prometheus.Registerer
}

// Store is the opened core engine: one catalog plus every collection and
// index opened against it, and the combined encoder/compressor registry
// backing them.
type Store struct {
	engine  enginekv.KV
	cat     *catalog.Catalog
	txnFunc enginekv.TxnOpener
	log     *zap.Logger
	metrics *metrics.Metrics

	encodersByName    map[string]valuecodec.Encoder
	compressorsByName map[string]compressor.Compressor

	collections map[string]*collection.Collection
	indices     map[string]*index.Index
	batchStores map[string]*batch.Store
}

// Open bootstraps a Store: loads the catalog under cfg.Prefix and
// registers the four built-in value encoders (key, pickle, plain, zlib)
// and the two built-in compressors (plain, zlib) at their fixed ids.
func Open(cfg Config) (*Store, error) {
	if cfg.Engine == nil {
		return nil, errors.New("centidb: Config.Engine is required")
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	cat, err := catalog.Open(cfg.Engine, cfg.Prefix, log)
	if err != nil {
		return nil, errors.Wrap(err, "centidb: open catalog")
	}
	s := &Store{
		engine:  cfg.Engine,
		cat:     cat,
		txnFunc: cfg.TxnFunc,
		log:     log,
		metrics: metrics.New(cfg.Registerer),

		encodersByName:    make(map[string]valuecodec.Encoder),
		compressorsByName: make(map[string]compressor.Compressor),

		collections: make(map[string]*collection.Collection),
		indices:     make(map[string]*index.Index),
		batchStores: make(map[string]*batch.Store),
	}
	for name, enc := range valuecodec.Builtins() {
		s.encodersByName[name] = enc
	}
	s.compressorsByName[compressor.NamePlain] = compressor.Plain
	s.compressorsByName[compressor.NameZlib] = compressor.Zlib
	return s, nil
}

// RegisterEncoder installs a custom value encoder under name, for use as
// a collection's DefaultEncoder or a per-Put PutOptions.Encoder. The
// catalog allocates its id lazily, on first Resolve.
func (s *Store) RegisterEncoder(name string, enc valuecodec.Encoder) {
	s.encodersByName[name] = enc
}

// RegisterCompressor installs a custom byte compressor under name (e.g.
// "snappy", "lz4"), for use by the batch layer's Batch(compressor=...)
// and, via FromCompressor, as a value encoder of the same name.
func (s *Store) RegisterCompressor(name string, c compressor.Compressor) {
	s.compressorsByName[name] = c
	s.encodersByName[name] = valuecodec.FromCompressor(c)
}

// Encoders returns the collection.EncoderRegistry this store backs every
// opened Collection with.
func (s *Store) Encoders() collection.EncoderRegistry { return encoderAdapter{s} }

// Compressors returns the batch.CompressorRegistry this store backs
// every batched Collection with.
func (s *Store) Compressors() batch.CompressorRegistry { return compressorAdapter{s} }

// Catalog exposes the store's underlying catalog, for callers that need
// direct descriptor access (e.g. the inspection CLI).
func (s *Store) Catalog() *catalog.Catalog { return s.cat }

// Metrics exposes the store's prometheus instrumentation, or nil if the
// store was opened with no Registerer.
func (s *Store) Metrics() *metrics.Metrics { return s.metrics }

// Close releases the underlying engine.
func (s *Store) Close() error { return s.engine.Close() }

// Txn runs fn against a freshly opened engine transaction when the store
// was configured with a TxnFunc, committing on a nil return and rolling
// back otherwise; with no TxnFunc configured, fn runs directly against
// the store's own engine (§6).
func (s *Store) Txn(fn func(*Store) error) error {
	if s.txnFunc == nil {
		return fn(s)
	}
	txn, err := s.txnFunc()
	if err != nil {
		return errors.Wrap(err, "centidb: open transaction")
	}
	scoped := *s
	scoped.engine = txn
	// Collections/indices opened against the parent store were bound to
	// its own (non-transactional) engine handle at construction time;
	// give the scoped store empty registries so anything fn opens is
	// built fresh against txn instead of reusing those cached instances.
	scoped.collections = make(map[string]*collection.Collection)
	scoped.indices = make(map[string]*index.Index)
	scoped.batchStores = make(map[string]*batch.Store)
	if err := fn(&scoped); err != nil {
		if rerr := txn.Rollback(); rerr != nil {
			return errors.Wrap(rerr, "centidb: rollback after error")
		}
		return err
	}
	return errors.Wrap(txn.Commit(), "centidb: commit transaction")
}

type encoderAdapter struct{ s *Store }

func (a encoderAdapter) Resolve(name string) (uint64, collection.Encoder, error) {
	enc, ok := a.s.encodersByName[name]
	if !ok {
		return 0, nil, collection.ErrUnknownEncoder
	}
	id, err := a.s.cat.AddEncoder(name)
	if err != nil {
		return 0, nil, err
	}
	return id, enc, nil
}

func (a encoderAdapter) ByID(id uint64) (collection.Encoder, error) {
	name, err := a.s.cat.EncoderName(id)
	if err != nil {
		return nil, err
	}
	enc, ok := a.s.encodersByName[name]
	if !ok {
		return nil, collection.ErrUnknownEncoder
	}
	return enc, nil
}

type compressorAdapter struct{ s *Store }

func (a compressorAdapter) Resolve(name string) (uint64, compressor.Compressor, error) {
	c, ok := a.s.compressorsByName[name]
	if !ok {
		return 0, nil, catalog.ErrUnknownEncoder
	}
	id, err := a.s.cat.AddEncoder(name)
	if err != nil {
		return 0, nil, err
	}
	return id, c, nil
}

func (a compressorAdapter) ByID(id uint64) (compressor.Compressor, error) {
	name, err := a.s.cat.EncoderName(id)
	if err != nil {
		return nil, err
	}
	c, ok := a.s.compressorsByName[name]
	if !ok {
		return nil, catalog.ErrUnknownEncoder
	}
	return c, nil
}

// CollectionConfig describes one collection to open (§4.E).
type CollectionConfig struct {
	Name           string
	KeyFunc        collection.KeyFunc // nil => auto-increment
	DerivedKeys    bool
	DefaultEncoder string // "" => "plain"
	// Batched wraps the collection's physical key range in a
	// batch.Store, making Collection.Put/Get/Delete/Items transparently
	// aware of any batch records created by Store.Batch (§4.G).
	Batched bool
}

// Collection idempotently opens (registering on first use) a named
// collection. Repeated calls with the same name return the same
// *collection.Collection instance.
func (s *Store) Collection(cfg CollectionConfig) (*collection.Collection, error) {
	if col, ok := s.collections[cfg.Name]; ok {
		return col, nil
	}
	d, err := s.cat.AddCollection(cfg.Name, "", cfg.DefaultEncoder, "")
	if err != nil {
		return nil, errors.Wrapf(err, "centidb: register collection %q", cfg.Name)
	}

	var engine enginekv.KV = s.engine
	if cfg.Batched {
		bs := batch.New(s.engine, varint.Encode(nil, d.Idx), s.Compressors())
		s.batchStores[cfg.Name] = bs
		engine = bs
	}

	col := collection.New(engine, s.cat, collection.Config{
		Name:           cfg.Name,
		Idx:            d.Idx,
		KeyFunc:        cfg.KeyFunc,
		DerivedKeys:    cfg.DerivedKeys,
		DefaultEncoder: cfg.DefaultEncoder,
		Encoders:       s.Encoders(),
		Log:            s.log,
	})
	s.collections[cfg.Name] = col
	return col, nil
}

// IndexConfig describes one secondary index to open against an already
// opened parent collection (§4.F).
type IndexConfig struct {
	Name      string
	Parent    string
	KeyScheme string
	KeyFunc   index.KeyFunc
	CacheSize int
}

// Index idempotently opens (registering on first use) a named index
// over an already-opened parent collection, attaching it so the parent's
// Put/Delete keep it in sync.
func (s *Store) Index(cfg IndexConfig) (*index.Index, error) {
	if idx, ok := s.indices[cfg.Name]; ok {
		return idx, nil
	}
	parent, ok := s.collections[cfg.Parent]
	if !ok {
		return nil, errors.Errorf("centidb: unknown parent collection %q for index %q", cfg.Parent, cfg.Name)
	}
	d, err := s.cat.AddIndex(cfg.Parent, cfg.Name, cfg.KeyScheme)
	if err != nil {
		return nil, errors.Wrapf(err, "centidb: register index %q", cfg.Name)
	}
	var fetch index.Fetch = func(recordKey tuple.Tuple) (any, bool, error) {
		return parent.Get(recordKey, false)
	}
	idx, err := index.New(s.engine, varint.Encode(nil, d.Idx), cfg.KeyFunc, fetch, index.Config{
		CacheSize: cfg.CacheSize,
		Log:       s.log,
	})
	if err != nil {
		return nil, err
	}
	parent.AttachIndex(cfg.Name, idx)
	s.indices[cfg.Name] = idx
	return idx, nil
}

// Batch groups contiguous singleton records of a batched collection into
// compressed multi-record physical entries (§4.G). name must refer to a
// collection opened with CollectionConfig.Batched set. See
// batch.Store.Batch for the grouping parameters.
func (s *Store) Batch(name string, lo tuple.Tuple, hasLo bool, hi tuple.Tuple, hasHi bool, maxRecs, maxBytes int, grouper batch.Grouper, compressorName string) (int, error) {
	bs, ok := s.batchStores[name]
	if !ok {
		return 0, errors.Errorf("centidb: collection %q was not opened with Batched=true", name)
	}
	return bs.Batch(lo, hasLo, hi, hasHi, maxRecs, maxBytes, grouper, compressorName)
}
