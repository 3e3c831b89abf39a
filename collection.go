package docdb

import "github.com/hupe1980/docdb/internal/docstore"

// Collection is a handle on one named collection. Operations through
// it are auto-committed: applied immediately and write-ahead logged.
// For multi-operation atomicity use DB.Begin.
type Collection struct {
	db   *DB
	name string
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Insert stores the given documents, creating the collection on
// demand, and returns them with concrete "_id"s assigned. A duplicate
// id anywhere rejects the whole call.
func (c *Collection) Insert(docs ...Document) ([]Document, error) {
	if c.db.closed.Load() {
		return nil, ErrClosed
	}

	inserted, err := c.db.engine.Insert(c.name, toInternal(docs)...)
	if err != nil {
		return nil, translateError(err)
	}

	return fromInternal(inserted), nil
}

// Update merges changes into every document matching query and
// returns the affected count. Zero affected is not an error outside a
// transaction.
func (c *Collection) Update(query, changes Document) (int, error) {
	if c.db.closed.Load() {
		return 0, ErrClosed
	}

	affected, err := c.db.engine.Update(c.name, docstore.Document(query), docstore.Document(changes))

	return affected, translateError(err)
}

// Remove deletes every document matching query and returns the
// affected count.
func (c *Collection) Remove(query Document) (int, error) {
	if c.db.closed.Load() {
		return 0, ErrClosed
	}

	affected, err := c.db.engine.Remove(c.name, docstore.Document(query))

	return affected, translateError(err)
}

// Find returns copies of every document matching query, in insertion
// order. An empty or nil query matches all documents.
func (c *Collection) Find(query Document) ([]Document, error) {
	if c.db.closed.Load() {
		return nil, ErrClosed
	}

	docs, err := c.db.engine.Find(c.name, docstore.Document(query))
	if err != nil {
		return nil, translateError(err)
	}

	return fromInternal(docs), nil
}

// FindOne returns a copy of the first document matching query, or
// ErrNotFound when nothing matches.
func (c *Collection) FindOne(query Document) (Document, error) {
	if c.db.closed.Load() {
		return nil, ErrClosed
	}

	doc, ok, err := c.db.engine.FindOne(c.name, docstore.Document(query))
	if err != nil {
		return nil, translateError(err)
	}

	if !ok {
		return nil, ErrNotFound
	}

	return Document(doc), nil
}

// Count returns the number of documents in the collection.
func (c *Collection) Count() (int, error) {
	if c.db.closed.Load() {
		return 0, ErrClosed
	}

	n, err := c.db.engine.Count(c.name)

	return n, translateError(err)
}

func toInternal(docs []Document) []docstore.Document {
	out := make([]docstore.Document, len(docs))
	for i, doc := range docs {
		out[i] = docstore.Document(doc)
	}

	return out
}

func fromInternal(docs []docstore.Document) []Document {
	out := make([]Document, len(docs))
	for i, doc := range docs {
		out[i] = Document(doc)
	}

	return out
}
