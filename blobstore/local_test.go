package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStorePutGet(t *testing.T) {
	ctx := context.Background()

	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "wal/wal-1.log", []byte("hello")))

	data, err := store.Get(ctx, "wal/wal-1.log")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)

	// Overwrite replaces the previous content.
	require.NoError(t, store.Put(ctx, "wal/wal-1.log", []byte("world")))

	data, err = store.Get(ctx, "wal/wal-1.log")
	require.NoError(t, err)
	require.Equal(t, []byte("world"), data)
}

func TestLocalStoreGetMissing(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreList(t *testing.T) {
	ctx := context.Background()

	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "wal/wal-2.log", []byte("b")))
	require.NoError(t, store.Put(ctx, "wal/wal-1.log", []byte("a")))
	require.NoError(t, store.Put(ctx, "snap/snapshot-1.snap", []byte("s")))
	require.NoError(t, store.Commit(ctx, "snap/snapshot-1.snap"))

	names, err := store.List(ctx, "wal/")
	require.NoError(t, err)
	require.Equal(t, []string{"wal/wal-1.log", "wal/wal-2.log"}, names)

	// The CURRENT pointer never shows up as a blob.
	names, err = store.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"snap/snapshot-1.snap", "wal/wal-1.log", "wal/wal-2.log"}, names)
}

func TestLocalStoreDelete(t *testing.T) {
	ctx := context.Background()

	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "x", []byte("x")))
	require.NoError(t, store.Delete(ctx, "x"))

	_, err = store.Get(ctx, "x")
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing blob is fine.
	require.NoError(t, store.Delete(ctx, "x"))
}

func TestLocalStoreCatalog(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewLocalStore(dir)
	require.NoError(t, err)

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	require.Empty(t, latest)

	require.NoError(t, store.Commit(ctx, "snap/snapshot-7.snap"))

	latest, err = store.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, "snap/snapshot-7.snap", latest)

	// The pointer survives reopening the store.
	reopened, err := NewLocalStore(dir)
	require.NoError(t, err)

	latest, err = reopened.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, "snap/snapshot-7.snap", latest)
}

func TestLocalStorePutLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewLocalStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "a", []byte("a")))
	require.NoError(t, store.Put(ctx, "b", []byte("b")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	for _, e := range entries {
		require.NotEqual(t, ".tmp", filepath.Ext(e.Name()))
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "a", []byte("1")))
	require.NoError(t, store.Put(ctx, "b", []byte("2")))
	require.Equal(t, 2, store.Len())

	data, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, []byte("1"), data)

	// Mutating the returned slice must not affect the stored blob.
	data[0] = 'X'

	data, err = store.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, []byte("1"), data)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, names)

	require.NoError(t, store.Delete(ctx, "a"))

	_, err = store.Get(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Commit(ctx, "b"))

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, "b", latest)
}
