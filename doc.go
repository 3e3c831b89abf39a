// Package docdb is an embedded, in-process document database with a
// transactional durability core.
//
// Every durable mutation is written to a checksummed write-ahead log
// before the database acknowledges it, periodic snapshots bound replay
// length, and recovery on open validates every record, skipping
// corrupt ones instead of failing. Multi-operation writes run through
// admission-controlled, timeout-bounded transactions that commit
// atomically against the in-memory store with best-effort rollback.
//
// # Quick start
//
//	db, err := docdb.Open("./data")
//	if err != nil {
//	    panic(err)
//	}
//	defer db.Close()
//
//	users := db.Collection("users")
//	docs, err := users.Insert(docdb.Document{"name": "ada"})
//
// Transactions buffer operations until commit:
//
//	tx, err := db.Begin()
//	if err != nil {
//	    panic(err)
//	}
//	tx.Insert("users", docdb.Document{"name": "grace"})
//	tx.Update("users", docdb.Document{"name": "ada"}, docdb.Document{"admin": true})
//	if err := tx.Commit(); err != nil {
//	    // already-applied inserts were rolled back
//	}
//
// # Durability levels
//
// The durability level tunes how aggressively appends are flushed:
// none disables logging, low and medium rely mostly on the periodic
// sync loop, high forces a flush after destructive operations and
// maximum after every append. See the durability package for the
// exact policy.
//
// # Rollback limitation
//
// A failing commit rolls back already-applied inserts by the ids they
// produced. Updates and removes are not rolled back: reversing them
// would require a before-image of every mutated document, which the
// engine does not keep. The limitation is logged during rollback and
// the original commit error is returned.
package docdb
