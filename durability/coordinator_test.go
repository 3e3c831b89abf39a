package durability

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docdb/internal/fs"
)

type stubExporter struct {
	state any
	err   error
}

func (s *stubExporter) ExportState() (any, error) {
	return s.state, s.err
}

func newTestCoordinator(t *testing.T, opts ...Option) (*Coordinator, string) {
	t.Helper()

	dir := t.TempDir()

	c, err := New(dir, opts...)
	require.NoError(t, err)

	t.Cleanup(func() { c.Close() })

	return c, dir
}

func TestCoordinatorAppendAndRecover(t *testing.T) {
	c, _ := newTestCoordinator(t)

	require.NoError(t, c.Append(OpInsert, "users", map[string]any{"name": "ada"}))
	require.NoError(t, c.Append(OpUpdate, "users", map[string]any{"admin": true}))
	require.NoError(t, c.Append(OpDrop, "legacy", nil))

	result, err := c.Recover()
	require.NoError(t, err)
	require.Equal(t, 3, result.Recovered)
	require.Equal(t, 0, result.Skipped)
	require.Len(t, result.Entries, 3)

	require.Equal(t, OpInsert, result.Entries[0].Entry.Op)
	require.Equal(t, "users", result.Entries[0].Entry.Collection)
	require.Equal(t, OpDrop, result.Entries[2].Entry.Op)

	// Offsets must be strictly increasing append positions.
	require.Equal(t, int64(0), result.Entries[0].Offset)
	require.Greater(t, result.Entries[1].Offset, result.Entries[0].Offset)
	require.Greater(t, result.Entries[2].Offset, result.Entries[1].Offset)
}

func TestCoordinatorLevelNone(t *testing.T) {
	opts := DefaultOptions()
	opts.Level = LevelNone

	c, _ := newTestCoordinator(t, WithOptions(opts))

	require.NoError(t, c.Append(OpInsert, "users", map[string]any{"name": "ada"}))

	require.Zero(t, c.Stats().WALSize)

	result, err := c.Recover()
	require.NoError(t, err)
	require.Zero(t, result.Recovered)
}

func TestCoordinatorRotation(t *testing.T) {
	opts := DefaultOptions()
	opts.Level = LevelLow
	opts.MaxWALSize = 1024

	c, dir := newTestCoordinator(t, WithOptions(opts))

	payload := map[string]any{"fill": strings.Repeat("x", 80)}
	for i := 0; i < 20; i++ {
		require.NoError(t, c.Append(OpInsert, "users", payload))
	}

	stats := c.Stats()
	require.Less(t, stats.WALSize, int64(1024))

	entries, err := os.ReadDir(filepath.Join(dir, walDirName))
	require.NoError(t, err)

	archives := 0

	for _, e := range entries {
		if strings.HasPrefix(e.Name(), walArchivePrefix) {
			archives++
		}
	}

	require.GreaterOrEqual(t, archives, 1)
	require.LessOrEqual(t, archives, maxWALArchives)
}

func TestCoordinatorArchivePruning(t *testing.T) {
	opts := DefaultOptions()
	opts.Level = LevelLow
	opts.MaxWALSize = 256

	c, dir := newTestCoordinator(t, WithOptions(opts))

	payload := map[string]any{"fill": strings.Repeat("y", 120)}
	for i := 0; i < 60; i++ {
		require.NoError(t, c.Append(OpInsert, "users", payload))
	}

	entries, err := os.ReadDir(filepath.Join(dir, walDirName))
	require.NoError(t, err)

	archives := 0

	for _, e := range entries {
		if strings.HasPrefix(e.Name(), walArchivePrefix) {
			archives++
		}
	}

	require.LessOrEqual(t, archives, maxWALArchives)
}

func TestCoordinatorTieredFlush(t *testing.T) {
	tests := []struct {
		level     Level
		op        Op
		wantSyncs int64
	}{
		{LevelMaximum, OpInsert, 1},
		{LevelHigh, OpUpdate, 1},
		{LevelHigh, OpRemove, 1},
		{LevelHigh, OpInsert, 0},
		{LevelMedium, OpDrop, 1},
		{LevelMedium, OpUpdate, 0},
		{LevelLow, OpDrop, 0},
	}

	for _, tt := range tests {
		t.Run(tt.level.String()+"/"+string(tt.op), func(t *testing.T) {
			ffs := fs.NewFaultyFS(nil)

			opts := DefaultOptions()
			opts.Level = tt.level

			c, _ := newTestCoordinator(t, WithOptions(opts), WithFileSystem(ffs))

			require.NoError(t, c.Append(tt.op, "users", map[string]any{"k": "v"}))
			require.Equal(t, tt.wantSyncs, ffs.SyncCalls.Load())
		})
	}
}

func TestCoordinatorAppendFailurePropagates(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule(walFileName, fs.Fault{FailAfterBytes: 16})

	c, _ := newTestCoordinator(t, WithFileSystem(ffs))

	err := c.Append(OpInsert, "users", map[string]any{"name": "ada"})
	require.Error(t, err)

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
}

func TestCoordinatorSyncFailurePropagates(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule(walFileName, fs.Fault{FailOnSync: true})

	opts := DefaultOptions()
	opts.Level = LevelMaximum

	c, _ := newTestCoordinator(t, WithOptions(opts), WithFileSystem(ffs))

	err := c.Append(OpInsert, "users", map[string]any{"name": "ada"})

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
}

func TestCoordinatorStats(t *testing.T) {
	c, _ := newTestCoordinator(t)

	stats := c.Stats()
	require.Zero(t, stats.WALSize)
	require.Zero(t, stats.SnapshotCount)
	require.True(t, stats.LastSync.IsZero())

	require.NoError(t, c.Append(OpInsert, "users", map[string]any{"name": "ada"}))

	stats = c.Stats()
	require.Greater(t, stats.WALSize, int64(0))
}

func TestCoordinatorPeriodicSync(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)

	opts := DefaultOptions()
	opts.Level = LevelLow
	opts.SyncInterval = MinSyncInterval

	c, _ := newTestCoordinator(t, WithOptions(opts), WithFileSystem(ffs))
	require.NoError(t, c.Append(OpInsert, "users", map[string]any{"name": "ada"}))

	c.Start()

	require.Eventually(t, func() bool {
		return ffs.SyncCalls.Load() > 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestCoordinatorConfigure(t *testing.T) {
	c, _ := newTestCoordinator(t)

	err := c.Configure(func(o *Options) {
		o.SyncInterval = 10 * time.Millisecond
	})
	require.ErrorIs(t, err, ErrInvalidOptions)

	// The rejected change must leave the previous options untouched.
	require.Equal(t, DefaultSyncInterval, c.Options().SyncInterval)

	require.NoError(t, c.Configure(func(o *Options) {
		o.Level = LevelHigh
		o.MaxWALSize = 2048
	}))
	require.Equal(t, LevelHigh, c.Options().Level)
	require.Equal(t, int64(2048), c.Options().MaxWALSize)
}

func TestCoordinatorClose(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.Start()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	require.ErrorIs(t, c.Append(OpInsert, "users", nil), ErrClosed)
	_, err := c.CreateSnapshot()
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, c.Configure(nil), ErrClosed)
}

func TestCoordinatorInvalidInitialOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.Level = Level(42)

	_, err := New(t.TempDir(), WithOptions(opts))
	require.ErrorIs(t, err, ErrInvalidOptions)
	require.False(t, errors.Is(err, ErrClosed))
}
