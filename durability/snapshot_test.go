package durability

import (
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docdb/internal/fs"
)

func TestSnapshotRoundTrip(t *testing.T) {
	exporter := &stubExporter{state: map[string]string{"users": "ada"}}

	c, _ := newTestCoordinator(t, WithExporter(exporter))

	require.NoError(t, c.Append(OpInsert, "users", map[string]any{"name": "ada"}))
	walSize := c.Stats().WALSize

	id, err := c.CreateSnapshot()
	require.NoError(t, err)
	require.NotEmpty(t, id)

	var state map[string]string

	snap, err := c.RestoreLatest(&state)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, id, snap.ID)
	require.Equal(t, walSize, snap.WALPosition)
	require.Equal(t, map[string]string{"users": "ada"}, state)
}

func TestSnapshotRetention(t *testing.T) {
	exporter := &stubExporter{}

	c, _ := newTestCoordinator(t, WithExporter(exporter))

	var ids []string

	for i := 0; i < 15; i++ {
		exporter.state = map[string]int{"seq": i}

		id, err := c.CreateSnapshot()
		require.NoError(t, err)

		ids = append(ids, id)
	}

	snaps, err := c.Snapshots()
	require.NoError(t, err)
	require.Len(t, snaps, maxSnapshots)

	// Newest first, and exactly the 10 most recent survive.
	retained := make(map[string]bool, len(snaps))
	for _, snap := range snaps {
		retained[snap.ID] = true
	}

	for _, id := range ids[:5] {
		require.False(t, retained[id], "snapshot %s should have been evicted", id)
	}

	for _, id := range ids[5:] {
		require.True(t, retained[id], "snapshot %s should have been retained", id)
	}

	require.Equal(t, ids[14], snaps[0].ID)
}

func TestSnapshotCompression(t *testing.T) {
	for _, algo := range []string{CompressionZstd, CompressionLZ4} {
		t.Run(algo, func(t *testing.T) {
			opts := DefaultOptions()
			opts.Compression = true
			opts.CompressionAlgorithm = algo

			exporter := &stubExporter{state: map[string]string{"blob": "payload"}}

			c, _ := newTestCoordinator(t, WithOptions(opts), WithExporter(exporter))

			_, err := c.CreateSnapshot()
			require.NoError(t, err)

			var state map[string]string

			snap, err := c.RestoreLatest(&state)
			require.NoError(t, err)
			require.NotNil(t, snap)
			require.Equal(t, "payload", state["blob"])
		})
	}
}

func TestSnapshotCorruptFallsBack(t *testing.T) {
	exporter := &stubExporter{state: map[string]int{"gen": 1}}

	c, _ := newTestCoordinator(t, WithExporter(exporter))

	_, err := c.CreateSnapshot()
	require.NoError(t, err)

	exporter.state = map[string]int{"gen": 2}

	_, err = c.CreateSnapshot()
	require.NoError(t, err)

	snaps, err := c.Snapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	// Corrupt the newest file's payload; restore must fall back to the
	// older generation instead of failing.
	raw, err := os.ReadFile(snaps[0].Path)
	require.NoError(t, err)

	raw[len(raw)-2] ^= 0xff
	require.NoError(t, os.WriteFile(snaps[0].Path, raw, 0o644))

	var state map[string]int

	snap, err := c.RestoreLatest(&state)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, 1, state["gen"])
}

func TestSnapshotNoExporter(t *testing.T) {
	c, _ := newTestCoordinator(t)

	_, err := c.CreateSnapshot()
	require.ErrorIs(t, err, ErrNoExporter)
}

func TestSnapshotWriteFailurePropagates(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule(snapshotSuffix, fs.Fault{FailAfterBytes: 8})

	exporter := &stubExporter{state: map[string]string{"k": "v"}}

	c, _ := newTestCoordinator(t, WithFileSystem(ffs), WithExporter(exporter))

	_, err := c.CreateSnapshot()

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
}

func TestSnapshotRestoreEmpty(t *testing.T) {
	c, _ := newTestCoordinator(t)

	var state map[string]string

	snap, err := c.RestoreLatest(&state)
	require.NoError(t, err)
	require.Nil(t, snap)
}

func TestSnapshotIDsAreOrdered(t *testing.T) {
	exporter := &stubExporter{state: "s"}

	c, _ := newTestCoordinator(t, WithExporter(exporter))

	for i := 0; i < 3; i++ {
		_, err := c.CreateSnapshot()
		require.NoError(t, err)
	}

	snaps, err := c.Snapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 3)

	for i := 1; i < len(snaps); i++ {
		newer, err := strconv.ParseInt(snaps[i-1].ID, 10, 64)
		require.NoError(t, err)

		older, err := strconv.ParseInt(snaps[i].ID, 10, 64)
		require.NoError(t, err)

		require.Greater(t, newer, older)
	}
}
