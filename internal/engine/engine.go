// Package engine glues the document layer, the transaction manager and
// the durability coordinator together. It owns no durable state of its
// own: collections belong to the docstore, the WAL and snapshots to
// the coordinator, the active-transaction table to the txn manager.
package engine

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/hupe1980/docdb/codec"
	"github.com/hupe1980/docdb/durability"
	"github.com/hupe1980/docdb/internal/docstore"
	"github.com/hupe1980/docdb/internal/txn"
)

// Metrics receives commit counters. The root package's collectors
// satisfy it.
type Metrics interface {
	RecordTxnCommit(ops int, err error)
	RecordRollbackOps(count int)
}

type noopMetrics struct{}

func (noopMetrics) RecordTxnCommit(int, error) {}
func (noopMetrics) RecordRollbackOps(int)      {}

// Config carries the Engine's collaborators, assembled by the facade.
type Config struct {
	Store       *docstore.Store
	Coordinator *durability.Coordinator
	Txns        *txn.Manager
	Codec       codec.Codec
	Logger      *slog.Logger
	Metrics     Metrics
}

// Stats aggregates the observable state of one database handle.
type Stats struct {
	Durability   durability.Stats
	Transactions txn.Stats
	Collections  int
	Documents    int
}

// Engine executes direct operations and transactional commits against
// the document layer, write-ahead logging every durable mutation.
type Engine struct {
	store   *docstore.Store
	coord   *durability.Coordinator
	txns    *txn.Manager
	codec   codec.Codec
	logger  *slog.Logger
	metrics Metrics

	closed atomic.Bool
}

// New assembles an Engine from its collaborators.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}

	if cfg.Codec == nil {
		cfg.Codec = codec.Default
	}

	return &Engine{
		store:   cfg.Store,
		coord:   cfg.Coordinator,
		txns:    cfg.Txns,
		codec:   cfg.Codec,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// WAL payloads. Insert entries carry the concrete documents with their
// assigned ids, so replay is deterministic regardless of how the ids
// were produced.
type insertPayload struct {
	Docs []docstore.Document `json:"docs"`
}

type updatePayload struct {
	Query   docstore.Document `json:"query"`
	Changes docstore.Document `json:"changes"`
}

type removePayload struct {
	Query docstore.Document `json:"query"`
}

// CreateCollection creates a collection and logs it as a system-level
// WAL operation.
func (e *Engine) CreateCollection(name string) error {
	if e.closed.Load() {
		return ErrClosed
	}

	if _, err := e.store.Create(name); err != nil {
		return err
	}

	return e.coord.Append(durability.OpCreate, name, nil)
}

// DropCollection removes a collection and its documents.
func (e *Engine) DropCollection(name string) error {
	if e.closed.Load() {
		return ErrClosed
	}

	if !e.store.Drop(name) {
		return docstore.ErrUnknownCollection
	}

	return e.coord.Append(durability.OpDrop, name, nil)
}

// Collections returns the collection names in sorted order.
func (e *Engine) Collections() []string {
	return e.store.Names()
}

// Insert applies an auto-committed insert: the collection is created
// on demand, the concrete inserted documents are returned and logged.
func (e *Engine) Insert(collection string, docs ...docstore.Document) ([]docstore.Document, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	col, err := e.resolve(collection, true)
	if err != nil {
		return nil, err
	}

	inserted, err := col.Insert(docs...)
	if err != nil {
		return nil, err
	}

	if err := e.coord.Append(durability.OpInsert, collection, &insertPayload{Docs: inserted}); err != nil {
		return nil, err
	}

	return inserted, nil
}

// Update applies an auto-committed update and returns the affected
// count. Zero affected is not an error outside a transaction.
func (e *Engine) Update(collection string, query, changes docstore.Document) (int, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}

	col, err := e.resolve(collection, false)
	if err != nil {
		return 0, err
	}

	affected, err := col.Update(query, changes)
	if err != nil || affected == 0 {
		return affected, err
	}

	if err := e.coord.Append(durability.OpUpdate, collection, &updatePayload{Query: query, Changes: changes}); err != nil {
		return affected, err
	}

	return affected, nil
}

// Remove applies an auto-committed remove and returns the affected
// count.
func (e *Engine) Remove(collection string, query docstore.Document) (int, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}

	col, err := e.resolve(collection, false)
	if err != nil {
		return 0, err
	}

	affected, err := col.Remove(query)
	if err != nil || affected == 0 {
		return affected, err
	}

	if err := e.coord.Append(durability.OpRemove, collection, &removePayload{Query: query}); err != nil {
		return affected, err
	}

	return affected, nil
}

// Find returns copies of every document matching query.
func (e *Engine) Find(collection string, query docstore.Document) ([]docstore.Document, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	col, err := e.resolve(collection, false)
	if err != nil {
		return nil, err
	}

	return col.Find(query), nil
}

// FindOne returns a copy of the first document matching query.
func (e *Engine) FindOne(collection string, query docstore.Document) (docstore.Document, bool, error) {
	if e.closed.Load() {
		return nil, false, ErrClosed
	}

	col, err := e.resolve(collection, false)
	if err != nil {
		return nil, false, err
	}

	doc, ok := col.FindOne(query)

	return doc, ok, nil
}

// Count returns the number of documents in a collection.
func (e *Engine) Count(collection string) (int, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}

	col, err := e.resolve(collection, false)
	if err != nil {
		return 0, err
	}

	return col.Count(), nil
}

// Begin starts a transaction.
func (e *Engine) Begin(opts txn.Options) (string, error) {
	if e.closed.Load() {
		return "", ErrClosed
	}

	return e.txns.Begin(opts)
}

// AddOperation buffers an operation into a transaction.
func (e *Engine) AddOperation(txnID string, op txn.Operation) error {
	if e.closed.Load() {
		return ErrClosed
	}

	return e.txns.AddOperation(txnID, op)
}

// Rollback aborts a transaction.
func (e *Engine) Rollback(txnID string) error {
	if e.closed.Load() {
		return ErrClosed
	}

	return e.txns.Rollback(txnID)
}

// Transaction returns a transaction's current view.
func (e *Engine) Transaction(txnID string) (txn.Info, error) {
	return e.txns.Get(txnID)
}

// CreateSnapshot checkpoints current state.
func (e *Engine) CreateSnapshot() (string, error) {
	if e.closed.Load() {
		return "", ErrClosed
	}

	return e.coord.CreateSnapshot()
}

// ConfigureDurability applies a durability reconfiguration.
func (e *Engine) ConfigureDurability(mutate func(*durability.Options)) error {
	if e.closed.Load() {
		return ErrClosed
	}

	return e.coord.Configure(mutate)
}

// SyncArchive uploads un-archived snapshots and WAL segments to the
// configured archive store.
func (e *Engine) SyncArchive(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}

	return e.coord.SyncArchive(ctx)
}

// Stats aggregates durability, transaction and store statistics.
func (e *Engine) Stats() Stats {
	collections, documents := e.store.Stats()

	return Stats{
		Durability:   e.coord.Stats(),
		Transactions: e.txns.Stats(),
		Collections:  collections,
		Documents:    documents,
	}
}

// resolve looks up a collection, creating it on demand for inserts.
func (e *Engine) resolve(name string, create bool) (*docstore.Collection, error) {
	col, err := e.store.Get(name)
	if err == nil {
		return col, nil
	}

	if !create {
		return nil, err
	}

	return e.store.Create(name)
}

// Close stops the transaction sweep and the durability loops. It is
// idempotent; the first call wins.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.txns.Close()

	return e.coord.Close()
}
