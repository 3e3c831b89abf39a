package durability

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed Coordinator.
	ErrClosed = errors.New("durability: coordinator closed")

	// ErrNoExporter is returned by CreateSnapshot when no state
	// exporter was configured.
	ErrNoExporter = errors.New("durability: no state exporter configured")

	// ErrNoArchive is returned by SyncArchive when no archive store was
	// configured.
	ErrNoArchive = errors.New("durability: no archive configured")
)

// IOError wraps a filesystem failure in the WAL or snapshot path.
// These always propagate to the caller; they are never swallowed.
type IOError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *IOError) Error() string {
	return fmt.Sprintf("durability: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying failure.
func (e *IOError) Unwrap() error {
	return e.Err
}
