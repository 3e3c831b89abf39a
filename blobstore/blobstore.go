package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a named blob does not exist in the store.
var ErrNotFound = errors.New("blobstore: blob not found")

// Store is a minimal interface for durable blob storage. It is used to
// archive write-ahead log segments and snapshots to a location that
// survives loss of the local data directory.
//
// Names are flat, slash-separated keys. Put must be atomic: a reader
// either sees the complete blob or none of it, never a partial write.
type Store interface {
	// Put stores data under name, replacing any existing blob.
	Put(ctx context.Context, name string, data []byte) error

	// Get retrieves the blob stored under name. It returns ErrNotFound
	// if no such blob exists.
	Get(ctx context.Context, name string) ([]byte, error)

	// List returns the names of all blobs whose name starts with prefix,
	// in lexicographic order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the blob stored under name. Deleting a blob that
	// does not exist is not an error.
	Delete(ctx context.Context, name string) error
}

// Catalog records which archived blob is the latest durable point. It
// is separate from Store so that the pointer can live in a system with
// stronger consistency than the blob payloads, for example DynamoDB in
// front of S3.
type Catalog interface {
	// Latest returns the name recorded by the most recent Commit, or
	// the empty string if nothing has been committed yet.
	Latest(ctx context.Context) (string, error)

	// Commit records name as the latest durable blob. Commits are
	// conditional where the backend allows it, so two writers racing on
	// the same catalog cannot silently overwrite each other.
	Commit(ctx context.Context, name string) error
}
