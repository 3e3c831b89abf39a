package docdb

import (
	"time"

	"github.com/hupe1980/docdb/blobstore"
	"github.com/hupe1980/docdb/codec"
	"github.com/hupe1980/docdb/durability"
	"github.com/hupe1980/docdb/internal/checksum"
	"github.com/hupe1980/docdb/internal/fs"
)

type options struct {
	logger   *Logger
	metrics  MetricsCollector
	codec    codec.Codec
	fsys     fs.FileSystem
	provider checksum.Provider

	durability []func(*durability.Options)

	maxCollections    int
	maxConcurrentTxns int64
	txnTimeout        time.Duration
	sweepInterval     time.Duration
	ioLimit           int64

	archiveStore   blobstore.Store
	archiveCatalog blobstore.Catalog
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the structured logger. Nil restores the silent
// default.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}

		o.logger = l
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(o *options) {
		if m == nil {
			m = NoopMetricsCollector{}
		}

		o.metrics = m
	}
}

// WithCodec sets the codec for WAL records and snapshot state. The
// codec name is persisted, so existing files keep decoding with the
// codec that produced them.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}

		o.codec = c
	}
}

// WithFileSystem injects the file system, mainly for fault testing.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys != nil {
			o.fsys = fsys
		}
	}
}

// WithChecksum selects the checksum provider. Never change it on a
// populated data directory: recovery validates with the provider that
// wrote the records.
func WithChecksum(p checksum.Provider) Option {
	return func(o *options) {
		if p != nil {
			o.provider = p
		}
	}
}

// WithDurability mutates the durability options.
//
//	docdb.Open(path, docdb.WithDurability(func(o *durability.Options) {
//	    o.Level = durability.LevelMaximum
//	    o.MaxWALSize = 4 << 20
//	}))
func WithDurability(mutate func(*durability.Options)) Option {
	return func(o *options) {
		if mutate != nil {
			o.durability = append(o.durability, mutate)
		}
	}
}

// WithMaxCollections bounds the number of collections.
func WithMaxCollections(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxCollections = n
		}
	}
}

// WithMaxConcurrentTransactions bounds transaction admission.
func WithMaxConcurrentTransactions(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentTxns = n
		}
	}
}

// WithTransactionTimeout sets the default transaction timeout, used
// when Begin carries no override.
func WithTransactionTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.txnTimeout = d
		}
	}
}

// WithSweepInterval sets the cadence of the transaction expiry sweep.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.sweepInterval = d
		}
	}
}

// WithIOLimit caps background archive IO at bytesPerSec.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		if bytesPerSec > 0 {
			o.ioLimit = bytesPerSec
		}
	}
}

// WithArchive enables offsite archiving of snapshots and sealed WAL
// segments to a blob store. The catalog is optional and records the
// latest durable snapshot; see DB.SyncArchive.
func WithArchive(store blobstore.Store, catalog blobstore.Catalog) Option {
	return func(o *options) {
		o.archiveStore = store
		o.archiveCatalog = catalog
	}
}

// TxnOptions configure one transaction.
type TxnOptions struct {
	// Isolation is a descriptive label, default "read-committed".
	Isolation string

	// Timeout overrides the database's default transaction timeout.
	Timeout time.Duration
}

// TxnOption configures Begin.
type TxnOption func(*TxnOptions)

// WithIsolation sets the transaction's isolation label.
func WithIsolation(label string) TxnOption {
	return func(o *TxnOptions) { o.Isolation = label }
}

// WithTimeout overrides the default transaction timeout.
func WithTimeout(d time.Duration) TxnOption {
	return func(o *TxnOptions) {
		if d > 0 {
			o.Timeout = d
		}
	}
}
