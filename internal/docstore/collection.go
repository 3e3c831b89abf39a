package docstore

import (
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/docdb/internal/id"
)

// Collection is a named set of documents with "_id" uniqueness. Rows
// are tracked in a roaring bitmap of internal row numbers, which keeps
// iteration in insertion order and makes counts and snapshot export
// deterministic.
type Collection struct {
	name string
	ids  *id.Generator

	mu      sync.RWMutex
	docs    map[string]Document
	rowByID map[string]uint32
	idByRow map[uint32]string
	live    *roaring.Bitmap
	nextRow uint32
}

func newCollection(name string, ids *id.Generator) *Collection {
	return &Collection{
		name:    name,
		ids:     ids,
		docs:    make(map[string]Document),
		rowByID: make(map[string]uint32),
		idByRow: make(map[uint32]string),
		live:    roaring.New(),
	}
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Insert stores the given documents and returns them with concrete
// "_id"s assigned. The whole call is atomic: a duplicate or malformed
// id anywhere rejects every document.
func (c *Collection) Insert(docs ...Document) ([]Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inserted := make([]Document, 0, len(docs))
	seen := make(map[string]struct{}, len(docs))

	for _, doc := range docs {
		stored := doc.Clone()

		if raw, ok := stored[IDKey]; ok {
			if _, ok := raw.(string); !ok {
				return nil, fmt.Errorf("%w: %T", ErrInvalidID, raw)
			}
		} else {
			stored[IDKey] = c.ids.Next()
		}

		docID := stored.ID()
		if _, dup := c.docs[docID]; dup {
			return nil, fmt.Errorf("%w: %q in collection %q", ErrDuplicateID, docID, c.name)
		}

		if _, dup := seen[docID]; dup {
			return nil, fmt.Errorf("%w: %q in collection %q", ErrDuplicateID, docID, c.name)
		}

		seen[docID] = struct{}{}
		inserted = append(inserted, stored)
	}

	for _, stored := range inserted {
		docID := stored.ID()
		row := c.nextRow
		c.nextRow++

		c.docs[docID] = stored
		c.rowByID[docID] = row
		c.idByRow[row] = docID
		c.live.Add(row)
	}

	out := make([]Document, len(inserted))
	for i, stored := range inserted {
		out[i] = stored.Clone()
	}

	return out, nil
}

// Update merges changes into every document matching query and returns
// the affected count. A "$set" wrapper is unwrapped; the "_id" field
// is immutable and silently skipped.
func (c *Collection) Update(query, changes Document) (int, error) {
	if set, ok := changes["$set"].(map[string]any); ok {
		changes = Document(set)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	affected := 0

	it := c.live.Iterator()
	for it.HasNext() {
		docID := c.idByRow[it.Next()]

		doc := c.docs[docID]
		if !matches(doc, query) {
			continue
		}

		for k, v := range changes {
			if k == IDKey {
				continue
			}

			doc[k] = v
		}

		affected++
	}

	return affected, nil
}

// Remove deletes every document matching query and returns the
// affected count.
func (c *Collection) Remove(query Document) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var victims []string

	it := c.live.Iterator()
	for it.HasNext() {
		docID := c.idByRow[it.Next()]
		if matches(c.docs[docID], query) {
			victims = append(victims, docID)
		}
	}

	for _, docID := range victims {
		c.deleteLocked(docID)
	}

	return len(victims), nil
}

// RemoveByID deletes one document by its identifier. Used by commit
// rollback to undo a produced insert.
func (c *Collection) RemoveByID(docID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.docs[docID]; !ok {
		return false
	}

	c.deleteLocked(docID)

	return true
}

func (c *Collection) deleteLocked(docID string) {
	row := c.rowByID[docID]
	c.live.Remove(row)
	delete(c.idByRow, row)
	delete(c.rowByID, docID)
	delete(c.docs, docID)
}

// Find returns copies of every document matching query, in insertion
// order. An empty query matches all documents.
func (c *Collection) Find(query Document) []Document {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Document

	it := c.live.Iterator()
	for it.HasNext() {
		doc := c.docs[c.idByRow[it.Next()]]
		if matches(doc, query) {
			out = append(out, doc.Clone())
		}
	}

	return out
}

// FindOne returns a copy of the first document matching query.
func (c *Collection) FindOne(query Document) (Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it := c.live.Iterator()
	for it.HasNext() {
		doc := c.docs[c.idByRow[it.Next()]]
		if matches(doc, query) {
			return doc.Clone(), true
		}
	}

	return nil, false
}

// Count returns the number of live documents.
func (c *Collection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return int(c.live.GetCardinality())
}

// matches reports whether doc satisfies every top-level equality in
// query. Numeric values compare across int/float encodings because
// replayed documents come back from JSON as float64.
func matches(doc, query Document) bool {
	for k, want := range query {
		got, ok := doc[k]
		if !ok || !looseEqual(got, want) {
			return false
		}
	}

	return true
}

func looseEqual(a, b any) bool {
	if a == b {
		return true
	}

	af, aok := asFloat(a)
	bf, bok := asFloat(b)

	return aok && bok && af == bf
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
