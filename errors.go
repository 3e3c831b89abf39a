package docdb

import (
	"errors"
	"fmt"

	"github.com/hupe1980/docdb/durability"
	"github.com/hupe1980/docdb/internal/docstore"
	"github.com/hupe1980/docdb/internal/engine"
	"github.com/hupe1980/docdb/internal/resource"
	"github.com/hupe1980/docdb/internal/txn"
)

var (
	// ErrClosed is returned by operations on a closed database.
	ErrClosed = errors.New("docdb: database closed")

	// ErrNotFound unifies unknown transactions, collections and
	// documents.
	ErrNotFound = errors.New("docdb: not found")

	// ErrValidation covers bad configuration values, operations on
	// non-active transactions, transaction timeouts, duplicate ids and
	// zero-effect updates or removes inside a transaction.
	ErrValidation = errors.New("docdb: validation failed")

	// ErrResourceLimit is returned when the concurrent-transaction or
	// collection bound is reached. Retry later or shed load.
	ErrResourceLimit = errors.New("docdb: resource limit reached")

	// ErrCorruption marks a checksum mismatch. During recovery corrupt
	// records are skipped and counted rather than surfaced, so this is
	// only seen when every retained snapshot fails validation.
	ErrCorruption = errors.New("docdb: corruption detected")

	// ErrDurabilityIO marks a WAL append or snapshot write failure.
	// These always propagate; durability cannot fail silently.
	ErrDurabilityIO = errors.New("docdb: durability io failure")
)

// translateError maps internal errors to the public kinds. The
// original error stays reachable through errors.Unwrap.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, engine.ErrClosed),
		errors.Is(err, durability.ErrClosed),
		errors.Is(err, txn.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)

	case errors.Is(err, resource.ErrTransactionLimit),
		errors.Is(err, docstore.ErrCollectionLimit):
		return fmt.Errorf("%w: %w", ErrResourceLimit, err)

	case errors.Is(err, txn.ErrNotFound),
		errors.Is(err, docstore.ErrUnknownCollection):
		return fmt.Errorf("%w: %w", ErrNotFound, err)

	case errors.Is(err, txn.ErrNotActive),
		errors.Is(err, durability.ErrInvalidOptions),
		errors.Is(err, docstore.ErrDuplicateID),
		errors.Is(err, docstore.ErrInvalidID):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	var timeout *txn.TimeoutError
	if errors.As(err, &timeout) {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	var zero *engine.ZeroEffectError
	if errors.As(err, &zero) {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	var ioErr *durability.IOError
	if errors.As(err, &ioErr) {
		return fmt.Errorf("%w: %w", ErrDurabilityIO, err)
	}

	return err
}
