package engine

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a closed Engine.
var ErrClosed = errors.New("engine: closed")

// ZeroEffectError reports an update or remove inside a transaction
// that matched no documents. Inside a transaction this is a logic
// error and aborts the commit; outside one it is an ordinary zero
// count.
type ZeroEffectError struct {
	Kind       string
	Collection string
}

// Error implements error.
func (e *ZeroEffectError) Error() string {
	return fmt.Sprintf("engine: %s in transaction affected no documents in collection %q", e.Kind, e.Collection)
}
