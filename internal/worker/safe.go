package worker

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// GoSafe runs fn in a new goroutine and recovers from panics, logging
// the panic and stack trace instead of crashing the process. The
// WaitGroup is incremented before the goroutine starts so callers can
// wait for completion without racing the launch.
func GoSafe(wg *sync.WaitGroup, logger *slog.Logger, name string, fn func()) {
	wg.Add(1)

	go func() {
		defer wg.Done()

		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered in background task",
					"task", name,
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()

		fn()
	}()
}
