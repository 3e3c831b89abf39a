package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docdb/durability"
	"github.com/hupe1980/docdb/internal/docstore"
	"github.com/hupe1980/docdb/internal/resource"
	"github.com/hupe1980/docdb/internal/txn"
)

func newTestEngineAt(t *testing.T, dir string) *Engine {
	t.Helper()

	opts := durability.DefaultOptions()
	opts.Level = durability.LevelLow

	store := docstore.NewStore(0)

	coord, err := durability.New(dir,
		durability.WithOptions(opts),
		durability.WithExporter(store),
	)
	require.NoError(t, err)

	controller := resource.NewController(resource.Config{MaxConcurrentTransactions: 10})

	txns := txn.NewManager(txn.WithController(controller))

	e := New(Config{
		Store:       store,
		Coordinator: coord,
		Txns:        txns,
	})

	t.Cleanup(func() { e.Close() })

	return e
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	return newTestEngineAt(t, t.TempDir())
}

func TestDirectInsert(t *testing.T) {
	e := newTestEngine(t)

	inserted, err := e.Insert("users", docstore.Document{"name": "ada"})
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	require.NotEmpty(t, inserted[0].ID())

	// The collection was created on demand and the insert WAL-logged.
	require.Equal(t, []string{"users"}, e.Collections())

	result, err := e.coord.Recover()
	require.NoError(t, err)
	require.Equal(t, 1, result.Recovered)
	require.Equal(t, durability.OpInsert, result.Entries[0].Entry.Op)
}

func TestDirectUpdateZeroEffectIsNotError(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Insert("users", docstore.Document{"name": "ada"})
	require.NoError(t, err)

	affected, err := e.Update("users", docstore.Document{"name": "nobody"}, docstore.Document{"x": 1})
	require.NoError(t, err)
	require.Zero(t, affected)

	// Zero-effect mutations are not WAL-logged.
	result, err := e.coord.Recover()
	require.NoError(t, err)
	require.Equal(t, 1, result.Recovered)
}

func TestDirectRemove(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Insert("users",
		docstore.Document{"name": "ada", "retired": true},
		docstore.Document{"name": "grace", "retired": false},
	)
	require.NoError(t, err)

	affected, err := e.Remove("users", docstore.Document{"retired": true})
	require.NoError(t, err)
	require.Equal(t, 1, affected)

	n, err := e.Count("users")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestUpdateUnknownCollection(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Update("ghosts", docstore.Document{}, docstore.Document{"x": 1})
	require.ErrorIs(t, err, docstore.ErrUnknownCollection)
}

func TestDropCollection(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.CreateCollection("users"))
	require.NoError(t, e.DropCollection("users"))
	require.ErrorIs(t, e.DropCollection("users"), docstore.ErrUnknownCollection)

	result, err := e.coord.Recover()
	require.NoError(t, err)
	require.Equal(t, 2, result.Recovered)
	require.Equal(t, durability.OpCreate, result.Entries[0].Entry.Op)
	require.Equal(t, durability.OpDrop, result.Entries[1].Entry.Op)
	require.Equal(t, "users", result.Entries[1].Entry.Collection)
}

func TestEngineStats(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Insert("users", docstore.Document{"name": "ada"})
	require.NoError(t, err)

	id, err := e.Begin(txn.Options{})
	require.NoError(t, err)

	stats := e.Stats()
	require.Equal(t, 1, stats.Collections)
	require.Equal(t, 1, stats.Documents)
	require.Equal(t, 1, stats.Transactions.Active)
	require.Greater(t, stats.Durability.WALSize, int64(0))

	require.NoError(t, e.Rollback(id))
	require.Zero(t, e.Stats().Transactions.Active)
}

func TestEngineClose(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err := e.Insert("users", docstore.Document{"name": "ada"})
	require.ErrorIs(t, err, ErrClosed)

	_, err = e.Begin(txn.Options{})
	require.ErrorIs(t, err, ErrClosed)

	require.ErrorIs(t, e.Commit("txn-x"), ErrClosed)
}
