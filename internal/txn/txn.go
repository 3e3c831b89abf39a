// Package txn owns the transaction lifecycle of one database handle:
// admission-controlled begin, operation buffering, timeout-bounded
// expiry and the commit/rollback hand-off. It never touches the
// document layer; buffered operations are executed by the commit
// orchestrator after Commit returns them.
package txn

import (
	"time"

	"github.com/hupe1980/docdb/internal/docstore"
)

// Status is a transaction's lifecycle state. Active is the only
// non-terminal state; every transition out of it is final.
type Status string

const (
	// StatusActive accepts operations.
	StatusActive Status = "active"
	// StatusCommitted means the operation list was handed off.
	StatusCommitted Status = "committed"
	// StatusRolledBack means the transaction was explicitly aborted.
	StatusRolledBack Status = "rolled-back"
	// StatusFailed means the transaction timed out before terminating.
	StatusFailed Status = "failed"
)

// Kind identifies a buffered operation.
type Kind string

const (
	// KindInsert buffers documents to insert.
	KindInsert Kind = "insert"
	// KindUpdate buffers a query plus changes.
	KindUpdate Kind = "update"
	// KindRemove buffers a query.
	KindRemove Kind = "remove"
)

// Operation is one buffered mutation. The payload fields used depend
// on Kind: Docs for insert, Query and Changes for update, Query for
// remove.
type Operation struct {
	Kind       Kind
	Collection string
	Docs       []docstore.Document
	Query      docstore.Document
	Changes    docstore.Document
	Timestamp  time.Time
}

// Options configure one transaction.
type Options struct {
	// Isolation is a descriptive label; the engine provides
	// read-committed visibility and records nothing stronger.
	Isolation string

	// Timeout bounds the transaction's lifetime. Zero means the
	// manager default.
	Timeout time.Duration
}

// Info is a read-only view of a transaction for introspection.
type Info struct {
	ID         string
	Status     Status
	StartTime  time.Time
	Isolation  string
	Timeout    time.Duration
	Operations int
}

type transaction struct {
	id        string
	status    Status
	startTime time.Time
	isolation string
	timeout   time.Duration
	ops       []Operation
}

func (t *transaction) expired(now time.Time) bool {
	return now.Sub(t.startTime) > t.timeout
}

func (t *transaction) info() Info {
	return Info{
		ID:         t.id,
		Status:     t.status,
		StartTime:  t.startTime,
		Isolation:  t.isolation,
		Timeout:    t.timeout,
		Operations: len(t.ops),
	}
}
