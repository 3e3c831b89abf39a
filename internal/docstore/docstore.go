// Package docstore is the in-memory document layer the durability core
// commits against. One Store holds named collections of schemaless
// documents keyed by a unique "_id" string.
package docstore

import (
	"errors"
	"sort"
	"sync"

	"github.com/hupe1980/docdb/internal/id"
)

// IDKey is the reserved document identifier field.
const IDKey = "_id"

// DefaultMaxCollections bounds the number of collections per Store.
const DefaultMaxCollections = 64

var (
	// ErrCollectionLimit is returned by Create once the collection
	// bound is reached.
	ErrCollectionLimit = errors.New("docstore: collection limit reached")

	// ErrUnknownCollection is returned for operations on a collection
	// that does not exist.
	ErrUnknownCollection = errors.New("docstore: unknown collection")

	// ErrDuplicateID is returned by Insert when a document's "_id" is
	// already present in the collection.
	ErrDuplicateID = errors.New("docstore: duplicate document id")

	// ErrInvalidID is returned when a document carries a non-string
	// "_id".
	ErrInvalidID = errors.New("docstore: document id must be a string")
)

// Document is a schemaless record. The "_id" field is reserved and
// assigned on insert when absent.
type Document map[string]any

// ID returns the document's identifier, empty when unset or malformed.
func (d Document) ID() string {
	s, _ := d[IDKey].(string)

	return s
}

// Clone returns a shallow copy so callers cannot mutate stored state
// through a returned document.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}

	return out
}

// Store holds the collections of one database handle.
type Store struct {
	mu             sync.RWMutex
	collections    map[string]*Collection
	maxCollections int
	ids            *id.Generator
}

// NewStore creates an empty Store. A non-positive limit falls back to
// DefaultMaxCollections.
func NewStore(maxCollections int) *Store {
	if maxCollections <= 0 {
		maxCollections = DefaultMaxCollections
	}

	return &Store{
		collections:    make(map[string]*Collection),
		maxCollections: maxCollections,
		ids:            id.NewGenerator("doc"),
	}
}

// Create adds a collection. Creating an existing collection returns
// it unchanged; the limit applies only to genuinely new ones.
func (s *Store) Create(name string) (*Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[name]; ok {
		return c, nil
	}

	if len(s.collections) >= s.maxCollections {
		return nil, ErrCollectionLimit
	}

	c := newCollection(name, s.ids)
	s.collections[name] = c

	return c, nil
}

// Get returns the named collection.
func (s *Store) Get(name string) (*Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return nil, ErrUnknownCollection
	}

	return c, nil
}

// Drop removes a collection and all its documents. Dropping an unknown
// collection reports false.
func (s *Store) Drop(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[name]; !ok {
		return false
	}

	delete(s.collections, name)

	return true
}

// Names returns the collection names in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Stats reports collection and document counts.
func (s *Store) Stats() (collections, documents int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.collections {
		documents += c.Count()
	}

	return len(s.collections), documents
}
