package docdb

import (
	"github.com/hupe1980/docdb/internal/docstore"
	"github.com/hupe1980/docdb/internal/txn"
)

// Txn is a handle on one transaction. Operations are buffered, never
// applied before Commit; a transaction discovered past its deadline
// fails on the next touch or sweep, not at the deadline itself.
type Txn struct {
	db *DB
	id string
}

// ID returns the transaction id.
func (t *Txn) ID() string { return t.id }

// Insert buffers an insert of the given documents.
func (t *Txn) Insert(collection string, docs ...Document) error {
	if t.db.closed.Load() {
		return ErrClosed
	}

	return translateError(t.db.engine.AddOperation(t.id, txn.Operation{
		Kind:       txn.KindInsert,
		Collection: collection,
		Docs:       toInternal(docs),
	}))
}

// Update buffers an update. At commit time a zero-effect update is a
// hard failure that aborts the transaction.
func (t *Txn) Update(collection string, query, changes Document) error {
	if t.db.closed.Load() {
		return ErrClosed
	}

	return translateError(t.db.engine.AddOperation(t.id, txn.Operation{
		Kind:       txn.KindUpdate,
		Collection: collection,
		Query:      docstore.Document(query),
		Changes:    docstore.Document(changes),
	}))
}

// Remove buffers a remove. At commit time a zero-effect remove is a
// hard failure that aborts the transaction.
func (t *Txn) Remove(collection string, query Document) error {
	if t.db.closed.Load() {
		return ErrClosed
	}

	return translateError(t.db.engine.AddOperation(t.id, txn.Operation{
		Kind:       txn.KindRemove,
		Collection: collection,
		Query:      docstore.Document(query),
	}))
}

// Commit applies the buffered operations in order. On any failure the
// already-applied prefix is rolled back in reverse order, best
// effort, and the triggering error is returned. Inserts are undone by
// the ids they produced; updates and removes stay applied.
func (t *Txn) Commit() error {
	if t.db.closed.Load() {
		return ErrClosed
	}

	return translateError(t.db.engine.Commit(t.id))
}

// Rollback aborts the transaction, discarding its buffer. Nothing has
// been applied yet by definition.
func (t *Txn) Rollback() error {
	if t.db.closed.Load() {
		return ErrClosed
	}

	return translateError(t.db.engine.Rollback(t.id))
}

// Info returns the transaction's current view.
func (t *Txn) Info() (TransactionInfo, error) {
	return t.db.TransactionInfo(t.id)
}
