package docdb

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hupe1980/docdb/codec"
	"github.com/hupe1980/docdb/durability"
	"github.com/hupe1980/docdb/internal/checksum"
	"github.com/hupe1980/docdb/internal/docstore"
	"github.com/hupe1980/docdb/internal/engine"
	"github.com/hupe1980/docdb/internal/fs"
	"github.com/hupe1980/docdb/internal/resource"
	"github.com/hupe1980/docdb/internal/txn"
)

// Document is a schemaless record. The "_id" field is reserved for
// the document identifier and assigned on insert when absent.
type Document map[string]any

// Stats aggregates the observable state of one database handle.
type Stats struct {
	WALSize            int64
	SnapshotCount      int
	LastSync           time.Time
	ActiveTransactions int
	Collections        int
	Documents          int
}

// TransactionInfo is a read-only view of a transaction.
type TransactionInfo struct {
	ID         string
	Status     string
	StartTime  time.Time
	Isolation  string
	Timeout    time.Duration
	Operations int
}

// DB is one database handle. All state is scoped to it: two handles
// opened on different directories share nothing, not even id
// counters.
type DB struct {
	dir    string
	engine *engine.Engine
	logger *Logger

	closed atomic.Bool
}

// Open creates or opens the database rooted at dir. Recovery runs
// first: the newest readable snapshot is restored, the WAL tail
// behind it is replayed with per-record checksum validation, and only
// then do the background loops start and writes get accepted.
func Open(dir string, opts ...Option) (*DB, error) {
	o := &options{
		logger:   NoopLogger(),
		metrics:  NoopMetricsCollector{},
		codec:    codec.Default,
		fsys:     fs.Default,
		provider: checksum.Default,
	}

	for _, opt := range opts {
		opt(o)
	}

	controller := resource.NewController(resource.Config{
		MaxConcurrentTransactions: o.maxConcurrentTxns,
		MaxBackgroundWorkers:      2,
		IOLimitBytesPerSec:        o.ioLimit,
	})

	durOpts := durability.DefaultOptions()
	for _, mutate := range o.durability {
		mutate(&durOpts)
	}

	store := docstore.NewStore(o.maxCollections)

	coordOpts := []durability.Option{
		durability.WithOptions(durOpts),
		durability.WithFileSystem(o.fsys),
		durability.WithCodec(o.codec),
		durability.WithChecksum(o.provider),
		durability.WithLogger(o.logger.Logger),
		durability.WithMetrics(o.metrics),
		durability.WithExporter(store),
		durability.WithController(controller),
	}

	if o.archiveStore != nil {
		coordOpts = append(coordOpts, durability.WithArchive(o.archiveStore, o.archiveCatalog))
	}

	coord, err := durability.New(dir, coordOpts...)
	if err != nil {
		return nil, translateError(err)
	}

	txns := txn.NewManager(
		txn.WithController(controller),
		txn.WithDefaultTimeout(o.txnTimeout),
		txn.WithSweepInterval(o.sweepInterval),
		txn.WithLogger(o.logger.Logger),
		txn.WithMetrics(o.metrics),
	)

	eng := engine.New(engine.Config{
		Store:       store,
		Coordinator: coord,
		Txns:        txns,
		Codec:       o.codec,
		Logger:      o.logger.Logger,
		Metrics:     o.metrics,
	})

	if err := eng.Recover(); err != nil {
		eng.Close()

		return nil, translateError(err)
	}

	coord.Start()

	o.logger.Info("database opened", "dir", dir, "level", coord.Options().Level.String())

	return &DB{
		dir:    dir,
		engine: eng,
		logger: o.logger,
	}, nil
}

// Collection returns a handle for the named collection. The
// collection itself is created lazily on first insert; use
// CreateCollection to create it eagerly.
func (db *DB) Collection(name string) *Collection {
	return &Collection{db: db, name: name}
}

// CreateCollection creates a collection eagerly. Creating an existing
// collection is a no-op; the collection bound yields
// ErrResourceLimit.
func (db *DB) CreateCollection(name string) error {
	if db.closed.Load() {
		return ErrClosed
	}

	return translateError(db.engine.CreateCollection(name))
}

// DropCollection removes a collection and all its documents, logged
// as a system-level WAL operation.
func (db *DB) DropCollection(name string) error {
	if db.closed.Load() {
		return ErrClosed
	}

	return translateError(db.engine.DropCollection(name))
}

// Collections returns the collection names in sorted order.
func (db *DB) Collections() []string {
	return db.engine.Collections()
}

// Begin starts a transaction and returns its handle. Once the
// concurrent-transaction bound is reached it fails with
// ErrResourceLimit instead of queueing.
func (db *DB) Begin(opts ...TxnOption) (*Txn, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}

	var o TxnOptions
	for _, opt := range opts {
		opt(&o)
	}

	id, err := db.engine.Begin(txn.Options{
		Isolation: o.Isolation,
		Timeout:   o.Timeout,
	})
	if err != nil {
		return nil, translateError(err)
	}

	return &Txn{db: db, id: id}, nil
}

// TransactionInfo returns a transaction's current view. Recently
// terminated transactions stay visible for introspection.
func (db *DB) TransactionInfo(id string) (TransactionInfo, error) {
	info, err := db.engine.Transaction(id)
	if err != nil {
		return TransactionInfo{}, translateError(err)
	}

	return TransactionInfo{
		ID:         info.ID,
		Status:     string(info.Status),
		StartTime:  info.StartTime,
		Isolation:  info.Isolation,
		Timeout:    info.Timeout,
		Operations: info.Operations,
	}, nil
}

// CreateSnapshot checkpoints current state on demand and returns the
// snapshot id. At most 10 snapshots are retained, oldest first out.
func (db *DB) CreateSnapshot() (string, error) {
	if db.closed.Load() {
		return "", ErrClosed
	}

	id, err := db.engine.CreateSnapshot()

	return id, translateError(err)
}

// ConfigureDurability applies a validated durability reconfiguration
// and restarts the periodic loops at the new cadence.
func (db *DB) ConfigureDurability(mutate func(*durability.Options)) error {
	if db.closed.Load() {
		return ErrClosed
	}

	return translateError(db.engine.ConfigureDurability(mutate))
}

// SyncArchive uploads retained snapshots and sealed WAL segments
// missing from the configured archive store and commits the newest
// snapshot as the latest durable point.
func (db *DB) SyncArchive(ctx context.Context) error {
	if db.closed.Load() {
		return ErrClosed
	}

	return translateError(db.engine.SyncArchive(ctx))
}

// Stats reports current database statistics. It never fails; missing
// directories report zeros.
func (db *DB) Stats() Stats {
	s := db.engine.Stats()

	return Stats{
		WALSize:            s.Durability.WALSize,
		SnapshotCount:      s.Durability.SnapshotCount,
		LastSync:           s.Durability.LastSync,
		ActiveTransactions: s.Transactions.Active,
		Collections:        s.Collections,
		Documents:          s.Documents,
	}
}

// Close stops the background loops, performs a final WAL sync and
// releases the log file handle. It is idempotent.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := db.engine.Close()

	db.logger.Info("database closed", "dir", db.dir)

	return translateError(err)
}
