package engine

import (
	"errors"
	"fmt"

	"github.com/hupe1980/docdb/durability"
	"github.com/hupe1980/docdb/internal/docstore"
)

// Recover rebuilds state from the newest readable snapshot plus the
// WAL tail behind it. It runs once, before the handle accepts writes.
// Corrupt snapshot files fall back to the next older one; corrupt WAL
// records were already skipped by the coordinator's scan. Replay
// errors on individual entries are logged and skipped so one bad entry
// cannot take the whole database down.
func (e *Engine) Recover() error {
	var state docstore.State

	snap, err := e.coord.RestoreLatest(&state)
	if err != nil {
		return err
	}

	var replayFrom int64

	if snap != nil {
		if err := e.store.ImportState(&state); err != nil {
			return err
		}

		replayFrom = snap.WALPosition

		e.logger.Info("snapshot restored",
			"snapshot", snap.ID,
			"wal_position", snap.WALPosition,
		)
	}

	result, err := e.coord.Recover()
	if err != nil {
		return err
	}

	replayed := 0

	for _, recovered := range result.Entries {
		if snap != nil && recovered.Offset < replayFrom {
			continue
		}

		if err := e.replay(&recovered.Entry); err != nil {
			e.logger.Warn("wal entry not replayable, skipped",
				"entry", recovered.Entry.ID,
				"op", string(recovered.Entry.Op),
				"collection", recovered.Entry.Collection,
				"error", err,
			)

			continue
		}

		replayed++
	}

	e.logger.Info("recovery complete",
		"recovered", result.Recovered,
		"skipped", result.Skipped,
		"replayed", replayed,
	)

	return nil
}

// replay applies one validated WAL entry to the document layer.
// Inserts that collide with a document already present from the
// snapshot are treated as already applied.
func (e *Engine) replay(entry *durability.Entry) error {
	switch entry.Op {
	case durability.OpCreate:
		_, err := e.store.Create(entry.Collection)

		return err

	case durability.OpDrop:
		e.store.Drop(entry.Collection)

		return nil

	case durability.OpInsert:
		var payload insertPayload
		if err := e.codec.Unmarshal(entry.Data, &payload); err != nil {
			return err
		}

		col, err := e.resolve(entry.Collection, true)
		if err != nil {
			return err
		}

		for _, doc := range payload.Docs {
			if _, err := col.Insert(doc); err != nil {
				if errors.Is(err, docstore.ErrDuplicateID) {
					continue
				}

				return err
			}
		}

		return nil

	case durability.OpUpdate:
		var payload updatePayload
		if err := e.codec.Unmarshal(entry.Data, &payload); err != nil {
			return err
		}

		col, err := e.resolve(entry.Collection, true)
		if err != nil {
			return err
		}

		_, err = col.Update(payload.Query, payload.Changes)

		return err

	case durability.OpRemove:
		var payload removePayload
		if err := e.codec.Unmarshal(entry.Data, &payload); err != nil {
			return err
		}

		col, err := e.resolve(entry.Collection, true)
		if err != nil {
			return err
		}

		_, err = col.Remove(payload.Query)

		return err

	default:
		return fmt.Errorf("unknown wal op %q", entry.Op)
	}
}
