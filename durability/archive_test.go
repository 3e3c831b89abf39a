package durability

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docdb/blobstore"
)

func TestArchiveUploadsSnapshotsAsync(t *testing.T) {
	store := blobstore.NewMemoryStore()
	exporter := &stubExporter{state: map[string]string{"k": "v"}}

	c, _ := newTestCoordinator(t, WithExporter(exporter), WithArchive(store, store))

	_, err := c.CreateSnapshot()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		names, err := store.List(context.Background(), snapshotDirName+"/")

		return err == nil && len(names) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestArchiveUploadsRotatedSegments(t *testing.T) {
	store := blobstore.NewMemoryStore()

	opts := DefaultOptions()
	opts.Level = LevelLow
	opts.MaxWALSize = 256

	c, _ := newTestCoordinator(t, WithOptions(opts), WithArchive(store, nil))

	payload := map[string]any{"fill": strings.Repeat("z", 120)}
	for i := 0; i < 10; i++ {
		require.NoError(t, c.Append(OpInsert, "users", payload))
	}

	require.Eventually(t, func() bool {
		names, err := store.List(context.Background(), walDirName+"/")

		return err == nil && len(names) >= 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSyncArchive(t *testing.T) {
	store := blobstore.NewMemoryStore()
	exporter := &stubExporter{state: map[string]int{"gen": 0}}

	// No archive wired at creation time for the first snapshots; they
	// must be caught up by SyncArchive.
	c, dir := newTestCoordinator(t, WithExporter(exporter))

	for i := 1; i <= 3; i++ {
		exporter.state = map[string]int{"gen": i}

		_, err := c.CreateSnapshot()
		require.NoError(t, err)
	}

	require.NoError(t, c.Close())

	c2, err := New(dir, WithExporter(exporter), WithArchive(store, store))
	require.NoError(t, err)
	defer c2.Close()

	require.NoError(t, c2.SyncArchive(context.Background()))

	names, err := store.List(context.Background(), snapshotDirName+"/")
	require.NoError(t, err)
	require.Len(t, names, 3)

	latest, err := store.Latest(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, latest)
	require.Equal(t, names[len(names)-1], latest)

	snaps, err := c2.Snapshots()
	require.NoError(t, err)
	require.Contains(t, latest, snaps[0].ID)
}

func TestSyncArchiveWithoutArchive(t *testing.T) {
	c, _ := newTestCoordinator(t)

	require.ErrorIs(t, c.SyncArchive(context.Background()), ErrNoArchive)
}
