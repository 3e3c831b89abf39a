package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	tmp := t.TempDir()
	lfs := LocalFS{}

	dir := filepath.Join(tmp, "subdir")
	assert.NoError(t, lfs.MkdirAll(dir, 0o755))

	fpath := filepath.Join(dir, "test.txt")
	f, err := lfs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	_, err = f.Write([]byte("hello"))
	assert.NoError(t, err)

	assert.NoError(t, f.Sync())
	assert.NoError(t, f.Datasync())

	info, err := f.Stat()
	assert.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())

	assert.NoError(t, f.Close())

	info2, err := lfs.Stat(fpath)
	assert.NoError(t, err)
	assert.Equal(t, int64(5), info2.Size())

	entries, err := lfs.ReadDir(dir)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)

	newPath := filepath.Join(dir, "renamed.txt")
	assert.NoError(t, lfs.Rename(fpath, newPath))

	assert.NoError(t, lfs.Remove(newPath))
	_, err = lfs.Stat(newPath)
	assert.True(t, os.IsNotExist(err))
}

func TestFaultyFSWriteLimit(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(LocalFS{})
	ffs.AddRule("faulty", Fault{FailAfterBytes: 5})

	fpath := filepath.Join(tmp, "faulty.txt")
	f, err := ffs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()

	n, err := f.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = f.Write([]byte("!"))
	assert.Error(t, err)
	assert.Equal(t, 0, n)
}

func TestFaultyFSSyncFault(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(nil)
	ffs.AddRule("bad", Fault{FailOnSync: true})

	bad, err := ffs.OpenFile(filepath.Join(tmp, "bad.log"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer bad.Close()
	assert.Error(t, bad.Sync())
	assert.Error(t, bad.Datasync())

	ok, err := ffs.OpenFile(filepath.Join(tmp, "ok.log"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer ok.Close()
	assert.NoError(t, ok.Sync())

	// Both the failing and the succeeding calls count.
	assert.Equal(t, int64(3), ffs.SyncCalls.Load())
}

func TestFaultyFSDelegation(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(LocalFS{})

	dir := filepath.Join(tmp, "subdir")
	assert.NoError(t, ffs.MkdirAll(dir, 0o755))

	fpath := filepath.Join(dir, "test.txt")
	f, err := ffs.OpenFile(fpath, os.O_CREATE, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.NoError(t, ffs.Rename(fpath, fpath+".renamed"))
	_, err = ffs.Stat(fpath + ".renamed")
	assert.NoError(t, err)

	entries, err := ffs.ReadDir(dir)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)

	assert.NoError(t, ffs.Remove(fpath+".renamed"))
}
