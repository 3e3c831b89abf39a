package txn

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/docdb/internal/id"
	"github.com/hupe1980/docdb/internal/resource"
	"github.com/hupe1980/docdb/internal/worker"
)

const (
	// DefaultTimeout bounds a transaction's lifetime unless overridden
	// per transaction.
	DefaultTimeout = 30 * time.Second

	// DefaultSweepInterval is the cadence of the expiry sweep.
	DefaultSweepInterval = 5 * time.Second

	// DefaultIsolation is the isolation label recorded on new
	// transactions.
	DefaultIsolation = "read-committed"

	// terminatedHistory bounds how many terminated transactions remain
	// visible to Get for introspection.
	terminatedHistory = 256
)

var (
	// ErrNotFound is returned for an unknown transaction id.
	ErrNotFound = errors.New("txn: transaction not found")

	// ErrNotActive is returned when a terminated transaction is used.
	ErrNotActive = errors.New("txn: transaction not active")

	// ErrClosed is returned by operations on a closed Manager.
	ErrClosed = errors.New("txn: manager closed")
)

// TimeoutError reports a transaction discovered past its deadline.
// Expiry is lazy: the deadline is only checked when the transaction is
// touched or by the periodic sweep, never preemptively.
type TimeoutError struct {
	ID      string
	Timeout time.Duration
	Elapsed time.Duration
}

// Error implements error.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("txn: transaction %s timed out after %s (timeout %s)", e.ID, e.Elapsed, e.Timeout)
}

// Metrics receives transaction counters. The root package's collectors
// satisfy it.
type Metrics interface {
	RecordTxnBegin()
	RecordTxnRollback()
	RecordTxnExpired(count int)
}

type noopMetrics struct{}

func (noopMetrics) RecordTxnBegin()      {}
func (noopMetrics) RecordTxnRollback()   {}
func (noopMetrics) RecordTxnExpired(int) {}

// Stats is the Manager's observable state. Only the current active
// count is tracked; historical totals are intentionally not.
type Stats struct {
	Active int
}

type config struct {
	defaultTimeout time.Duration
	sweepInterval  time.Duration
	controller     *resource.Controller
	logger         *slog.Logger
	metrics        Metrics
}

// Option configures a Manager.
type Option func(*config)

// WithDefaultTimeout sets the timeout applied when a transaction's
// options carry none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// WithSweepInterval sets the expiry sweep cadence.
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.sweepInterval = d
		}
	}
}

// WithController attaches the admission controller. Without one,
// admission is unbounded.
func WithController(rc *resource.Controller) Option {
	return func(c *config) { c.controller = rc }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// Manager owns the active-transaction table. All lifecycle transitions
// happen under its mutex; a terminated transaction leaves the table
// and cannot be reused.
type Manager struct {
	defaultTimeout time.Duration
	controller     *resource.Controller
	logger         *slog.Logger
	metrics        Metrics
	ids            *id.Generator

	mu         sync.Mutex
	active     map[string]*transaction
	terminated map[string]Info
	history    []string

	stopCh chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewManager creates a Manager and starts its expiry sweep.
func NewManager(opts ...Option) *Manager {
	cfg := &config{
		defaultTimeout: DefaultTimeout,
		sweepInterval:  DefaultSweepInterval,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:        noopMetrics{},
	}

	for _, opt := range opts {
		opt(cfg)
	}

	m := &Manager{
		defaultTimeout: cfg.defaultTimeout,
		controller:     cfg.controller,
		logger:         cfg.logger,
		metrics:        cfg.metrics,
		ids:            id.NewGenerator("txn"),
		active:         make(map[string]*transaction),
		terminated:     make(map[string]Info),
		stopCh:         make(chan struct{}),
	}

	worker.GoSafe(&m.wg, m.logger, "txn-sweep", func() {
		m.runSweep(cfg.sweepInterval)
	})

	return m
}

// Begin admits a new transaction and returns its id. Once the
// concurrent-transaction bound is reached it fails with the
// controller's limit error instead of queueing.
func (m *Manager) Begin(opts Options) (string, error) {
	if m.closed.Load() {
		return "", ErrClosed
	}

	if err := m.controller.AcquireTransaction(); err != nil {
		return "", err
	}

	t := &transaction{
		id:        m.ids.Next(),
		status:    StatusActive,
		startTime: time.Now(),
		isolation: opts.Isolation,
		timeout:   opts.Timeout,
	}

	if t.isolation == "" {
		t.isolation = DefaultIsolation
	}

	if t.timeout <= 0 {
		t.timeout = m.defaultTimeout
	}

	m.mu.Lock()
	m.active[t.id] = t
	m.mu.Unlock()

	m.metrics.RecordTxnBegin()

	m.logger.Debug("transaction begun", "txn", t.id, "timeout", t.timeout, "isolation", t.isolation)

	return t.id, nil
}

// AddOperation appends op to the transaction's buffer. The document
// layer is never touched here. A transaction found past its deadline
// transitions to failed and the call reports the timeout.
func (m *Manager) AddOperation(txnID string, op Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.active[txnID]
	if !ok {
		if _, terminated := m.terminated[txnID]; terminated {
			return fmt.Errorf("%w: %s", ErrNotActive, txnID)
		}

		return fmt.Errorf("%w: %s", ErrNotFound, txnID)
	}

	now := time.Now()
	if t.expired(now) {
		m.expireLocked(t, now)
		m.metrics.RecordTxnExpired(1)

		return &TimeoutError{ID: txnID, Timeout: t.timeout, Elapsed: now.Sub(t.startTime)}
	}

	op.Timestamp = now
	t.ops = append(t.ops, op)

	return nil
}

// Commit terminates the transaction and hands its buffered operations
// to the caller in buffered order. Execution is the orchestrator's
// job, not the Manager's.
func (m *Manager) Commit(txnID string) ([]Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.active[txnID]
	if !ok {
		if _, terminated := m.terminated[txnID]; terminated {
			return nil, fmt.Errorf("%w: %s", ErrNotActive, txnID)
		}

		return nil, fmt.Errorf("%w: %s", ErrNotFound, txnID)
	}

	now := time.Now()
	if t.expired(now) {
		m.expireLocked(t, now)
		m.metrics.RecordTxnExpired(1)

		return nil, &TimeoutError{ID: txnID, Timeout: t.timeout, Elapsed: now.Sub(t.startTime)}
	}

	m.terminateLocked(t, StatusCommitted)

	return t.ops, nil
}

// Rollback aborts the transaction. No operations have been applied by
// definition, so this only discards the buffer.
func (m *Manager) Rollback(txnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.active[txnID]
	if !ok {
		if _, terminated := m.terminated[txnID]; terminated {
			return fmt.Errorf("%w: %s", ErrNotActive, txnID)
		}

		return fmt.Errorf("%w: %s", ErrNotFound, txnID)
	}

	m.terminateLocked(t, StatusRolledBack)
	m.metrics.RecordTxnRollback()

	m.logger.Debug("transaction rolled back", "txn", txnID, "ops_discarded", len(t.ops))

	return nil
}

// Get returns a transaction's current view. Recently terminated
// transactions remain visible for introspection.
func (m *Manager) Get(txnID string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.active[txnID]; ok {
		return t.info(), nil
	}

	if info, ok := m.terminated[txnID]; ok {
		return info, nil
	}

	return Info{}, fmt.Errorf("%w: %s", ErrNotFound, txnID)
}

// Stats reports the current active-transaction count.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{Active: len(m.active)}
}

// terminateLocked moves t out of the active table into the bounded
// terminated history and releases its admission slot.
func (m *Manager) terminateLocked(t *transaction, status Status) {
	t.status = status
	delete(m.active, t.id)

	m.terminated[t.id] = t.info()
	m.history = append(m.history, t.id)

	for len(m.history) > terminatedHistory {
		delete(m.terminated, m.history[0])
		m.history = m.history[1:]
	}

	m.controller.ReleaseTransaction()
}

func (m *Manager) expireLocked(t *transaction, now time.Time) {
	m.terminateLocked(t, StatusFailed)

	m.logger.Warn("transaction expired",
		"txn", t.id,
		"elapsed", now.Sub(t.startTime),
		"timeout", t.timeout,
		"ops_discarded", len(t.ops),
	)
}

// runSweep periodically fails every active transaction past its
// deadline. This bounds transaction lifetime even when a caller never
// commits or rolls back.
func (m *Manager) runSweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	now := time.Now()

	m.mu.Lock()

	var expired []*transaction

	for _, t := range m.active {
		if t.expired(now) {
			expired = append(expired, t)
		}
	}

	for _, t := range expired {
		m.expireLocked(t, now)
	}

	m.mu.Unlock()

	if len(expired) > 0 {
		m.metrics.RecordTxnExpired(len(expired))
	}
}

// Close stops the sweep loop. In-flight transactions stay in the
// table; a closed Manager only rejects new Begins.
func (m *Manager) Close() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}

	close(m.stopCh)
	m.wg.Wait()
}
