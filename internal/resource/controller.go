// Package resource enforces the process-wide limits of one database handle:
// concurrent transaction admission, background worker slots, and background
// IO throughput.
package resource

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrTransactionLimit is returned when no transaction slot is available.
var ErrTransactionLimit = errors.New("transaction limit reached")

// Config holds resource limits.
type Config struct {
	// MaxConcurrentTransactions is the hard admission bound for active
	// transactions. If 0, defaults to 10.
	MaxConcurrentTransactions int64

	// MaxBackgroundWorkers is the maximum number of concurrent background
	// jobs (snapshot writes, archive uploads). If 0, defaults to 1.
	MaxBackgroundWorkers int64

	// IOLimitBytesPerSec is the maximum IO throughput for background tasks.
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller manages admission and throughput for one database handle.
type Controller struct {
	cfg Config

	txnSem    *semaphore.Weighted
	txnActive atomic.Int64

	bgSem *semaphore.Weighted

	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxConcurrentTransactions <= 0 {
		cfg.MaxConcurrentTransactions = 10
	}
	if cfg.MaxBackgroundWorkers <= 0 {
		cfg.MaxBackgroundWorkers = 1
	}

	c := &Controller{
		cfg:    cfg,
		txnSem: semaphore.NewWeighted(cfg.MaxConcurrentTransactions),
		bgSem:  semaphore.NewWeighted(cfg.MaxBackgroundWorkers),
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// AcquireTransaction attempts to reserve a transaction slot.
// Non-blocking: admission control rejects excess load instead of queueing it.
func (c *Controller) AcquireTransaction() error {
	if c == nil {
		return nil
	}
	if !c.txnSem.TryAcquire(1) {
		return ErrTransactionLimit
	}
	c.txnActive.Add(1)
	return nil
}

// ReleaseTransaction releases a reserved transaction slot.
func (c *Controller) ReleaseTransaction() {
	if c == nil {
		return
	}
	c.txnSem.Release(1)
	c.txnActive.Add(-1)
}

// ActiveTransactions returns the number of reserved transaction slots.
func (c *Controller) ActiveTransactions() int64 {
	if c == nil {
		return 0
	}
	return c.txnActive.Load()
}

// TransactionLimit returns the configured admission bound.
func (c *Controller) TransactionLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MaxConcurrentTransactions
}

// AcquireBackground reserves a background worker slot, blocking until one
// frees up or ctx is done.
func (c *Controller) AcquireBackground(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.bgSem.Acquire(ctx, 1)
}

// ReleaseBackground releases a background worker slot.
func (c *Controller) ReleaseBackground() {
	if c == nil {
		return
	}
	c.bgSem.Release(1)
}

// WaitIO waits until the IO limit allows the specified number of bytes.
// Requests larger than the limiter burst are consumed in chunks.
func (c *Controller) WaitIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil || bytes <= 0 {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := bytes
		if n > burst {
			n = burst
		}
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}
