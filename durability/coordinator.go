// Package durability implements the write-ahead log, checkpoint and
// recovery machinery of a database handle. One Coordinator owns the
// active WAL file, its rotated archive segments and the snapshot
// directory; nothing else in the process touches them.
package durability

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/docdb/blobstore"
	"github.com/hupe1980/docdb/codec"
	"github.com/hupe1980/docdb/internal/checksum"
	"github.com/hupe1980/docdb/internal/fs"
	"github.com/hupe1980/docdb/internal/id"
	"github.com/hupe1980/docdb/internal/resource"
	"github.com/hupe1980/docdb/internal/worker"
)

const (
	walDirName      = "wal"
	snapshotDirName = "snapshots"
)

// StateExporter is the contract the collection layer fulfills so the
// Coordinator can checkpoint it. The returned value must be a stable,
// codec-encodable view of current state.
type StateExporter interface {
	ExportState() (any, error)
}

// Metrics receives durability counters. The root package's collectors
// satisfy it.
type Metrics interface {
	RecordWALAppend(bytes int, synced bool)
	RecordWALRotation()
	RecordSnapshot(size int64)
	RecordRecovery(recovered, skipped int)
}

type noopMetrics struct{}

func (noopMetrics) RecordWALAppend(int, bool) {}
func (noopMetrics) RecordWALRotation()        {}
func (noopMetrics) RecordSnapshot(int64)      {}
func (noopMetrics) RecordRecovery(int, int)   {}

// Stats is the Coordinator's observable state. Missing directories
// report zeros rather than errors.
type Stats struct {
	WALSize       int64
	SnapshotCount int
	LastSync      time.Time
}

type config struct {
	options    Options
	fsys       fs.FileSystem
	codec      codec.Codec
	provider   checksum.Provider
	logger     *slog.Logger
	metrics    Metrics
	exporter   StateExporter
	controller *resource.Controller
	store      blobstore.Store
	catalog    blobstore.Catalog
}

// Option configures a Coordinator at construction time.
type Option func(*config)

// WithOptions sets the initial durability options.
func WithOptions(o Options) Option {
	return func(c *config) { c.options = o }
}

// WithFileSystem injects the file system, mainly for fault testing.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(c *config) {
		if fsys != nil {
			c.fsys = fsys
		}
	}
}

// WithCodec sets the codec used for WAL records and snapshot state.
func WithCodec(cd codec.Codec) Option {
	return func(c *config) {
		if cd != nil {
			c.codec = cd
		}
	}
}

// WithChecksum sets the checksum provider. The choice is recorded in
// everything written and must not change once a log is populated.
func WithChecksum(p checksum.Provider) Option {
	return func(c *config) {
		if p != nil {
			c.provider = p
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithExporter sets the state exporter snapshots are taken from.
func WithExporter(e StateExporter) Option {
	return func(c *config) { c.exporter = e }
}

// WithController attaches the resource controller used to throttle
// background archive IO.
func WithController(rc *resource.Controller) Option {
	return func(c *config) { c.controller = rc }
}

// WithArchive enables offsite archiving of snapshots and sealed WAL
// segments. The catalog is optional; without one SyncArchive uploads
// but records no latest pointer.
func WithArchive(store blobstore.Store, catalog blobstore.Catalog) Option {
	return func(c *config) {
		c.store = store
		c.catalog = catalog
	}
}

// Coordinator owns the durability state of one database handle: the
// active WAL file with its size counter, the snapshot set and the
// periodic sync and snapshot loops. All mutation goes through its
// mutex, so appends never race a rotation.
type Coordinator struct {
	fsys       fs.FileSystem
	codec      codec.Codec
	provider   checksum.Provider
	logger     *slog.Logger
	metrics    Metrics
	ids        *id.Generator
	exporter   StateExporter
	controller *resource.Controller

	dir string

	mu        sync.Mutex
	opts      Options
	wal       *walWriter
	snapshots *snapshotStore
	archive   *archiver
	lastSync  time.Time

	loopMu sync.Mutex
	stopCh chan struct{}
	loopWG sync.WaitGroup

	closed atomic.Bool
}

// New creates a Coordinator rooted at dir, validates its options,
// ensures the log and snapshot directories exist and starts the
// periodic loops the configured level calls for.
func New(dir string, opts ...Option) (*Coordinator, error) {
	cfg := &config{
		options:  DefaultOptions(),
		fsys:     fs.Default,
		codec:    codec.Default,
		provider: checksum.Default,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:  noopMetrics{},
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.options.Validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		fsys:       cfg.fsys,
		codec:      cfg.codec,
		provider:   cfg.provider,
		logger:     cfg.logger,
		metrics:    cfg.metrics,
		ids:        id.NewGenerator("wal"),
		exporter:   cfg.exporter,
		controller: cfg.controller,
		dir:        dir,
		opts:       cfg.options,
	}

	w, err := openWAL(cfg.fsys, filepath.Join(dir, walDirName), cfg.options.MaxWALSize, cfg.logger)
	if err != nil {
		return nil, err
	}

	c.wal = w

	s, err := newSnapshotStore(cfg.fsys, filepath.Join(dir, snapshotDirName), cfg.codec, cfg.provider, cfg.logger)
	if err != nil {
		w.close()

		return nil, err
	}

	c.snapshots = s

	if cfg.store != nil {
		c.archive = newArchiver(cfg.store, cfg.catalog, cfg.fsys, cfg.controller, cfg.logger)
	}

	return c, nil
}

// Start launches the periodic sync and snapshot loops. It is called
// once recovery has finished, so a checkpoint can never capture
// pre-recovery state. Reconfiguration restarts the loops on its own.
func (c *Coordinator) Start() {
	if c.closed.Load() {
		return
	}

	c.startLoops()
}

// Configure applies a reconfiguration. The mutator receives a copy of
// the current options; the result is validated as a whole before it
// takes effect, so a rejected change leaves everything untouched.
// Dependent timers are restarted at the new cadence.
func (c *Coordinator) Configure(mutate func(*Options)) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.mu.Lock()

	next := c.opts
	if mutate != nil {
		mutate(&next)
	}

	if err := next.Validate(); err != nil {
		c.mu.Unlock()

		return err
	}

	if err := c.fsys.MkdirAll(filepath.Join(c.dir, walDirName), 0o755); err != nil {
		c.mu.Unlock()

		return &IOError{Op: "create wal dir", Err: err}
	}

	if err := c.fsys.MkdirAll(filepath.Join(c.dir, snapshotDirName), 0o755); err != nil {
		c.mu.Unlock()

		return &IOError{Op: "create snapshot dir", Err: err}
	}

	c.opts = next
	c.wal.maxSize = next.MaxWALSize
	c.mu.Unlock()

	c.logger.Info("durability reconfigured",
		"level", next.Level.String(),
		"sync_interval", next.SyncInterval,
		"snapshot_interval", next.SnapshotInterval,
	)

	c.startLoops()

	return nil
}

// Options returns the current durability options.
func (c *Coordinator) Options() Options {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.opts
}

// Append writes one operation record to the WAL. At level none it is a
// no-op. The record is rotated into an archive segment first when it
// would push the active file past MaxWALSize, and followed by a forced
// sync when the level's flush policy demands it for this operation
// kind. Append and flush failures always propagate.
func (c *Coordinator) Append(op Op, collection string, payload any) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opts.Level == LevelNone {
		return nil
	}

	entry := Entry{
		ID:         c.ids.Next(),
		Timestamp:  time.Now(),
		Op:         op,
		Collection: collection,
	}

	if payload != nil {
		data, err := c.codec.Marshal(payload)
		if err != nil {
			return &IOError{Op: "encode wal payload", Err: err}
		}

		entry.Data = data
	}

	entry.Seal(c.provider)

	record, err := c.codec.Marshal(&entry)
	if err != nil {
		return &IOError{Op: "encode wal record", Err: err}
	}

	record = append(record, '\n')

	archived, err := c.wal.append(record)
	if archived != "" {
		c.metrics.RecordWALRotation()

		if c.archive != nil {
			c.archive.uploadAsync(walDirName+"/"+archived, filepath.Join(c.wal.dir, archived))
		}
	}

	if err != nil {
		return err
	}

	forced := c.opts.Level.syncOnAppend(op)
	if forced {
		if err := c.wal.sync(); err != nil {
			return err
		}

		c.lastSync = time.Now()
	}

	c.metrics.RecordWALAppend(len(record), forced)

	return nil
}

// Sync forces a flush of the active WAL file.
func (c *Coordinator) Sync() error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.wal.sync(); err != nil {
		return err
	}

	c.lastSync = time.Now()

	return nil
}

// CreateSnapshot checkpoints the exporter's current state and returns
// the new snapshot's id. The snapshot records the current WAL size so
// replay after a restore can start where the checkpoint left off.
// Write failures propagate; retention pruning happens afterwards.
func (c *Coordinator) CreateSnapshot() (string, error) {
	if c.closed.Load() {
		return "", ErrClosed
	}

	if c.exporter == nil {
		return "", ErrNoExporter
	}

	state, err := c.exporter.ExportState()
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := c.snapshots.create(state, c.wal.position(), c.opts.compression(), c.opts.Encryption)
	if err != nil {
		return "", err
	}

	c.metrics.RecordSnapshot(snap.Size)

	c.logger.Info("snapshot created",
		"snapshot", snap.ID,
		"wal_position", snap.WALPosition,
		"size", snap.Size,
	)

	if c.archive != nil {
		c.archive.uploadAsync(snapshotDirName+"/"+filepath.Base(snap.Path), snap.Path)
	}

	return snap.ID, nil
}

// RestoreLatest decodes the newest readable snapshot into v, skipping
// corrupt ones. Returns (nil, nil) when no readable snapshot exists.
func (c *Coordinator) RestoreLatest(v any) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshots.loadNewest(v)
}

// Snapshots lists the retained snapshots, newest first.
func (c *Coordinator) Snapshots() ([]*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshots.list()
}

// Recover scans the active WAL, validates every record's checksum and
// returns the valid entries in append order. Corrupt or unparseable
// records are counted and skipped; they never abort the pass. A
// missing WAL file yields an empty result.
func (c *Coordinator) Recover() (*RecoveryResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result, err := scanWAL(c.fsys, c.wal.path(), c.codec, c.provider, c.logger)
	if err != nil {
		return nil, err
	}

	c.metrics.RecordRecovery(result.Recovered, result.Skipped)

	c.logger.Info("wal recovery complete",
		"recovered", result.Recovered,
		"skipped", result.Skipped,
	)

	return result, nil
}

// Stats reports the Coordinator's current state. It never fails:
// missing directories simply report zeros.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{LastSync: c.lastSync}

	if c.wal != nil {
		stats.WALSize = c.wal.position()
	}

	if snaps, err := c.snapshots.list(); err == nil {
		stats.SnapshotCount = len(snaps)
	}

	return stats
}

// SyncArchive uploads every retained snapshot and sealed WAL segment
// missing from the archive store, then commits the newest snapshot as
// the latest durable point. It blocks until done or ctx is cancelled.
func (c *Coordinator) SyncArchive(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.mu.Lock()
	archive := c.archive

	if archive == nil {
		c.mu.Unlock()

		return ErrNoArchive
	}

	snaps, err := c.snapshots.list()
	if err != nil {
		c.mu.Unlock()

		return err
	}

	segments, err := c.wal.archives()
	if err != nil {
		c.mu.Unlock()

		return err
	}

	snapDir := c.snapshots.dir
	walDir := c.wal.dir
	c.mu.Unlock()

	return archive.sync(ctx, snaps, snapDir, segments, walDir)
}

// startLoops restarts the periodic sync and snapshot loops for the
// current level: none runs no loops, maximum skips the sync loop
// because every append already flushes inline.
func (c *Coordinator) startLoops() {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	c.stopLoopsLocked()

	opts := c.Options()
	if opts.Level == LevelNone {
		return
	}

	c.stopCh = make(chan struct{})
	stopCh := c.stopCh

	if opts.Level != LevelMaximum {
		worker.GoSafe(&c.loopWG, c.logger, "wal-sync", func() {
			c.runSyncLoop(stopCh, opts.SyncInterval)
		})
	}

	worker.GoSafe(&c.loopWG, c.logger, "snapshot", func() {
		c.runSnapshotLoop(stopCh, opts.SnapshotInterval)
	})
}

func (c *Coordinator) stopLoopsLocked() {
	if c.stopCh == nil {
		return
	}

	close(c.stopCh)
	c.stopCh = nil
	c.loopWG.Wait()
}

func (c *Coordinator) runSyncLoop(stopCh chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if err := c.Sync(); err != nil {
				c.logger.Warn("periodic wal sync failed", "error", err)
			}
		}
	}
}

func (c *Coordinator) runSnapshotLoop(stopCh chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if c.exporter == nil {
				continue
			}

			if _, err := c.CreateSnapshot(); err != nil {
				c.logger.Warn("periodic snapshot failed", "error", err)
			}
		}
	}
}

// Close stops the periodic loops, performs a final sync and releases
// the WAL file handle. It is idempotent.
func (c *Coordinator) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.loopMu.Lock()
	c.stopLoopsLocked()
	c.loopMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.archive != nil {
		c.archive.close()
	}

	return c.wal.close()
}
