package engine

import (
	"fmt"

	"github.com/hupe1980/docdb/durability"
	"github.com/hupe1980/docdb/internal/docstore"
	"github.com/hupe1980/docdb/internal/txn"
)

// appliedOp records one successfully applied operation so a failing
// commit can be unwound. Only inserts carry undo information; the ids
// they produced are enough to reverse them exactly.
type appliedOp struct {
	kind        txn.Kind
	collection  string
	insertedIDs []string
}

// Commit takes the transaction's buffered operations from the manager
// and applies them in buffered order. On any failure the already
// applied prefix is rolled back in reverse order, best effort, and the
// triggering error is returned.
func (e *Engine) Commit(txnID string) error {
	if e.closed.Load() {
		return ErrClosed
	}

	ops, err := e.txns.Commit(txnID)
	if err != nil {
		e.metrics.RecordTxnCommit(0, err)

		return err
	}

	err = e.apply(txnID, ops)
	e.metrics.RecordTxnCommit(len(ops), err)

	return err
}

func (e *Engine) apply(txnID string, ops []txn.Operation) error {
	applied := make([]appliedOp, 0, len(ops))

	for i, op := range ops {
		record, err := e.applyOne(op)
		if err != nil {
			e.logger.Error("commit failed, rolling back",
				"txn", txnID,
				"operation", i,
				"kind", string(op.Kind),
				"collection", op.Collection,
				"error", err,
			)

			e.rollbackApplied(txnID, applied)

			return err
		}

		applied = append(applied, record)
	}

	e.logger.Debug("transaction committed", "txn", txnID, "operations", len(ops))

	return nil
}

// applyOne executes one buffered operation against its collection and
// write-ahead logs it. A zero-effect update or remove is a hard
// failure here: inside a transaction it signals a logic error.
func (e *Engine) applyOne(op txn.Operation) (appliedOp, error) {
	record := appliedOp{kind: op.Kind, collection: op.Collection}

	switch op.Kind {
	case txn.KindInsert:
		col, err := e.resolve(op.Collection, true)
		if err != nil {
			return record, err
		}

		inserted, err := col.Insert(op.Docs...)
		if err != nil {
			return record, err
		}

		for _, doc := range inserted {
			record.insertedIDs = append(record.insertedIDs, doc.ID())
		}

		if err := e.coord.Append(durability.OpInsert, op.Collection, &insertPayload{Docs: inserted}); err != nil {
			return record, err
		}

	case txn.KindUpdate:
		col, err := e.resolve(op.Collection, false)
		if err != nil {
			return record, err
		}

		affected, err := col.Update(op.Query, op.Changes)
		if err != nil {
			return record, err
		}

		if affected == 0 {
			return record, &ZeroEffectError{Kind: "update", Collection: op.Collection}
		}

		if err := e.coord.Append(durability.OpUpdate, op.Collection, &updatePayload{Query: op.Query, Changes: op.Changes}); err != nil {
			return record, err
		}

	case txn.KindRemove:
		col, err := e.resolve(op.Collection, false)
		if err != nil {
			return record, err
		}

		affected, err := col.Remove(op.Query)
		if err != nil {
			return record, err
		}

		if affected == 0 {
			return record, &ZeroEffectError{Kind: "remove", Collection: op.Collection}
		}

		if err := e.coord.Append(durability.OpRemove, op.Collection, &removePayload{Query: op.Query}); err != nil {
			return record, err
		}

	default:
		return record, fmt.Errorf("engine: unknown operation kind %q", op.Kind)
	}

	return record, nil
}

// rollbackApplied unwinds the applied prefix in reverse order. Inserts
// are reversed by the ids they produced, with compensating removes
// logged best effort. Updates and removes are not reversed: that would
// require a before-image of every mutated document, which this engine
// does not keep. The limitation is logged and rollback continues; no
// error ever escapes from here.
func (e *Engine) rollbackApplied(txnID string, applied []appliedOp) {
	undone := 0

	for i := len(applied) - 1; i >= 0; i-- {
		record := applied[i]

		switch record.kind {
		case txn.KindInsert:
			col, err := e.store.Get(record.collection)
			if err != nil {
				e.logger.Warn("rollback skipped, collection gone",
					"txn", txnID,
					"collection", record.collection,
				)

				continue
			}

			for j := len(record.insertedIDs) - 1; j >= 0; j-- {
				docID := record.insertedIDs[j]
				if !col.RemoveByID(docID) {
					continue
				}

				undone++

				query := docstore.Document{docstore.IDKey: docID}
				if err := e.coord.Append(durability.OpRemove, record.collection, &removePayload{Query: query}); err != nil {
					e.logger.Warn("compensating remove not logged",
						"txn", txnID,
						"collection", record.collection,
						"doc", docID,
						"error", err,
					)
				}
			}

		case txn.KindUpdate, txn.KindRemove:
			e.logger.Warn("operation cannot be rolled back without a before-image, effect remains applied",
				"txn", txnID,
				"kind", string(record.kind),
				"collection", record.collection,
			)
		}
	}

	e.metrics.RecordRollbackOps(undone)

	e.logger.Info("rollback complete", "txn", txnID, "inserts_undone", undone)
}
