package durability

import (
	"errors"
	"fmt"
	"time"
)

// Level selects how aggressively the write-ahead log is flushed to
// stable storage. Higher levels trade write latency for a smaller loss
// window on crash.
type Level int

const (
	// LevelNone disables write-ahead logging entirely.
	LevelNone Level = iota
	// LevelLow appends to the log but never forces a sync; only the
	// periodic sync loop flushes.
	LevelLow
	// LevelMedium additionally syncs after collection drops.
	LevelMedium
	// LevelHigh additionally syncs after removes and updates.
	LevelHigh
	// LevelMaximum syncs after every append.
	LevelMaximum
)

var levelNames = map[Level]string{
	LevelNone:    "none",
	LevelLow:     "low",
	LevelMedium:  "medium",
	LevelHigh:    "high",
	LevelMaximum: "maximum",
}

// String returns the level's config name.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}

	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel converts a config name into a Level.
func ParseLevel(s string) (Level, error) {
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}

	return 0, fmt.Errorf("%w: unknown durability level %q", ErrInvalidOptions, s)
}

func (l Level) valid() bool {
	_, ok := levelNames[l]

	return ok
}

// syncOnAppend reports whether an append of op must be followed by a
// forced sync at this level. Destructive operations are synced earlier
// than inserts because they cannot be reconstructed from client
// retries.
func (l Level) syncOnAppend(op Op) bool {
	switch l {
	case LevelMaximum:
		return true
	case LevelHigh:
		return op == OpDrop || op == OpRemove || op == OpUpdate
	case LevelMedium:
		return op == OpDrop
	default:
		return false
	}
}

// Compression algorithm names accepted in Options.
const (
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
)

const (
	// DefaultSyncInterval is the periodic flush cadence.
	DefaultSyncInterval = time.Second
	// DefaultSnapshotInterval is the periodic checkpoint cadence.
	DefaultSnapshotInterval = time.Minute
	// DefaultMaxWALSize is the rotation threshold for the active log.
	DefaultMaxWALSize = 16 << 20

	// MinSyncInterval is the lowest accepted sync cadence.
	MinSyncInterval = 100 * time.Millisecond
	// MinSnapshotInterval is the lowest accepted snapshot cadence.
	MinSnapshotInterval = time.Second

	// maxSnapshots is the snapshot retention count. The oldest
	// snapshot is evicted once the count is exceeded.
	maxSnapshots = 10
	// maxWALArchives is the retention count for rotated log segments.
	maxWALArchives = 10
)

// ErrInvalidOptions is wrapped by all option validation failures.
var ErrInvalidOptions = errors.New("durability: invalid options")

// Options are the reconfigurable durability settings. They are
// validated as a whole before taking effect; a rejected reconfiguration
// leaves the previous settings untouched.
type Options struct {
	// Level is the flush aggressiveness, see the Level constants.
	Level Level

	// SyncInterval is the cadence of the periodic flush loop. Minimum
	// 100ms.
	SyncInterval time.Duration

	// SnapshotInterval is the cadence of the periodic checkpoint loop.
	// Minimum 1s.
	SnapshotInterval time.Duration

	// MaxWALSize is the size in bytes at which the active log is
	// rotated into an archive segment.
	MaxWALSize int64

	// Compression enables snapshot compression.
	Compression bool

	// CompressionAlgorithm selects the snapshot compression algorithm,
	// "zstd" (default) or "lz4". Ignored unless Compression is set.
	CompressionAlgorithm string

	// Encryption marks snapshots as encrypted by an external envelope.
	// The flag is recorded in snapshot headers; the cipher itself is
	// outside this package.
	Encryption bool
}

// DefaultOptions returns the defaults applied by New.
func DefaultOptions() Options {
	return Options{
		Level:                LevelMedium,
		SyncInterval:         DefaultSyncInterval,
		SnapshotInterval:     DefaultSnapshotInterval,
		MaxWALSize:           DefaultMaxWALSize,
		CompressionAlgorithm: CompressionZstd,
	}
}

// Validate checks the options, wrapping every failure in
// ErrInvalidOptions.
func (o *Options) Validate() error {
	if !o.Level.valid() {
		return fmt.Errorf("%w: unknown durability level %d", ErrInvalidOptions, int(o.Level))
	}

	if o.SyncInterval < MinSyncInterval {
		return fmt.Errorf("%w: sync interval %s below minimum %s", ErrInvalidOptions, o.SyncInterval, MinSyncInterval)
	}

	if o.SnapshotInterval < MinSnapshotInterval {
		return fmt.Errorf("%w: snapshot interval %s below minimum %s", ErrInvalidOptions, o.SnapshotInterval, MinSnapshotInterval)
	}

	if o.MaxWALSize <= 0 {
		return fmt.Errorf("%w: max WAL size must be positive, got %d", ErrInvalidOptions, o.MaxWALSize)
	}

	switch o.CompressionAlgorithm {
	case "", CompressionZstd, CompressionLZ4:
	default:
		return fmt.Errorf("%w: unknown compression algorithm %q", ErrInvalidOptions, o.CompressionAlgorithm)
	}

	return nil
}

// compression returns the effective snapshot compression name, empty
// when compression is off.
func (o *Options) compression() string {
	if !o.Compression {
		return ""
	}

	if o.CompressionAlgorithm == "" {
		return CompressionZstd
	}

	return o.CompressionAlgorithm
}
