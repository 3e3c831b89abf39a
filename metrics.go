package docdb

import "sync/atomic"

// MetricsCollector receives operational counters from every layer of
// the database. Implement it to integrate with a monitoring system;
// the durability, transaction and commit layers each consume the
// subset of methods they need.
type MetricsCollector interface {
	// RecordWALAppend is called after each WAL append. synced reports
	// whether the level's flush policy forced a sync for this record.
	RecordWALAppend(bytes int, synced bool)

	// RecordWALRotation is called when the active log is sealed into
	// an archive segment.
	RecordWALRotation()

	// RecordSnapshot is called after each successful checkpoint.
	RecordSnapshot(size int64)

	// RecordRecovery is called once per recovery pass with the valid
	// and skipped record counts.
	RecordRecovery(recovered, skipped int)

	// RecordTxnBegin is called when a transaction is admitted.
	RecordTxnBegin()

	// RecordTxnCommit is called after each commit attempt, successful
	// or not, with the number of buffered operations.
	RecordTxnCommit(ops int, err error)

	// RecordTxnRollback is called on explicit rollback.
	RecordTxnRollback()

	// RecordTxnExpired is called when transactions are discovered past
	// their deadline, by touch or by the sweep.
	RecordTxnExpired(count int)

	// RecordRollbackOps is called after a failing commit with the
	// number of inserts that were undone.
	RecordRollbackOps(count int)
}

// NoopMetricsCollector discards all metrics. The default.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordWALAppend(int, bool)  {}
func (NoopMetricsCollector) RecordWALRotation()         {}
func (NoopMetricsCollector) RecordSnapshot(int64)       {}
func (NoopMetricsCollector) RecordRecovery(int, int)    {}
func (NoopMetricsCollector) RecordTxnBegin()            {}
func (NoopMetricsCollector) RecordTxnCommit(int, error) {}
func (NoopMetricsCollector) RecordTxnRollback()         {}
func (NoopMetricsCollector) RecordTxnExpired(int)       {}
func (NoopMetricsCollector) RecordRollbackOps(int)      {}

// BasicMetricsCollector keeps in-memory counters. Useful for tests
// and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	WALAppends     atomic.Int64
	WALBytes       atomic.Int64
	WALForcedSyncs atomic.Int64
	WALRotations   atomic.Int64

	SnapshotsCreated atomic.Int64
	SnapshotBytes    atomic.Int64

	RecoveredRecords atomic.Int64
	SkippedRecords   atomic.Int64

	TxnsBegun      atomic.Int64
	TxnsCommitted  atomic.Int64
	CommitFailures atomic.Int64
	TxnsRolledBack atomic.Int64
	TxnsExpired    atomic.Int64
	RollbackOps    atomic.Int64
}

func (m *BasicMetricsCollector) RecordWALAppend(bytes int, synced bool) {
	m.WALAppends.Add(1)
	m.WALBytes.Add(int64(bytes))

	if synced {
		m.WALForcedSyncs.Add(1)
	}
}

func (m *BasicMetricsCollector) RecordWALRotation() {
	m.WALRotations.Add(1)
}

func (m *BasicMetricsCollector) RecordSnapshot(size int64) {
	m.SnapshotsCreated.Add(1)
	m.SnapshotBytes.Add(size)
}

func (m *BasicMetricsCollector) RecordRecovery(recovered, skipped int) {
	m.RecoveredRecords.Add(int64(recovered))
	m.SkippedRecords.Add(int64(skipped))
}

func (m *BasicMetricsCollector) RecordTxnBegin() {
	m.TxnsBegun.Add(1)
}

func (m *BasicMetricsCollector) RecordTxnCommit(_ int, err error) {
	if err != nil {
		m.CommitFailures.Add(1)

		return
	}

	m.TxnsCommitted.Add(1)
}

func (m *BasicMetricsCollector) RecordTxnRollback() {
	m.TxnsRolledBack.Add(1)
}

func (m *BasicMetricsCollector) RecordTxnExpired(count int) {
	m.TxnsExpired.Add(int64(count))
}

func (m *BasicMetricsCollector) RecordRollbackOps(count int) {
	m.RollbackOps.Add(int64(count))
}

// MetricsSnapshot is a point-in-time copy of a BasicMetricsCollector.
type MetricsSnapshot struct {
	WALAppends       int64
	WALBytes         int64
	WALForcedSyncs   int64
	WALRotations     int64
	SnapshotsCreated int64
	SnapshotBytes    int64
	RecoveredRecords int64
	SkippedRecords   int64
	TxnsBegun        int64
	TxnsCommitted    int64
	CommitFailures   int64
	TxnsRolledBack   int64
	TxnsExpired      int64
	RollbackOps      int64
}

// Snapshot returns a consistent-enough copy of the counters.
func (m *BasicMetricsCollector) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		WALAppends:       m.WALAppends.Load(),
		WALBytes:         m.WALBytes.Load(),
		WALForcedSyncs:   m.WALForcedSyncs.Load(),
		WALRotations:     m.WALRotations.Load(),
		SnapshotsCreated: m.SnapshotsCreated.Load(),
		SnapshotBytes:    m.SnapshotBytes.Load(),
		RecoveredRecords: m.RecoveredRecords.Load(),
		SkippedRecords:   m.SkippedRecords.Load(),
		TxnsBegun:        m.TxnsBegun.Load(),
		TxnsCommitted:    m.TxnsCommitted.Load(),
		CommitFailures:   m.CommitFailures.Load(),
		TxnsRolledBack:   m.TxnsRolledBack.Load(),
		TxnsExpired:      m.TxnsExpired.Load(),
		RollbackOps:      m.RollbackOps.Load(),
	}
}
