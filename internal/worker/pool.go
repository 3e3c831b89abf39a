// Package worker provides a fixed-size worker pool and a panic-safe
// goroutine launcher for background tasks.
package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is returned by Submit after the pool has been closed.
var ErrPoolClosed = errors.New("worker: pool closed")

// Pool manages a fixed set of goroutines executing submitted closures.
// A fixed pool keeps background uploads and maintenance from spawning
// an unbounded number of goroutines under load.
type Pool struct {
	numWorkers int
	workCh     chan func()
	stopCh     chan struct{}
	wg         sync.WaitGroup
	closed     atomic.Bool
	submitMu   sync.RWMutex
}

// NewPool creates a pool with numWorkers goroutines. A non-positive
// numWorkers defaults to GOMAXPROCS.
func NewPool(numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}

	p := &Pool{
		numWorkers: numWorkers,
		workCh:     make(chan func(), numWorkers*2),
		stopCh:     make(chan struct{}),
	}

	p.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			// Drain remaining work before exiting.
			for {
				select {
				case task, ok := <-p.workCh:
					if !ok {
						return
					}

					task()
				default:
					return
				}
			}
		case task, ok := <-p.workCh:
			if !ok {
				return
			}

			task()
		}
	}
}

// Submit enqueues task and returns once it is accepted. When the queue
// is full Submit blocks until a worker frees a slot, the pool closes or
// ctx is cancelled.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if p.closed.Load() {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- task:
		return nil
	case <-p.stopCh:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts the pool down, runs any queued tasks and waits for the
// workers to exit. It is idempotent.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}

	p.submitMu.Lock()
	close(p.stopCh)
	close(p.workCh)
	p.submitMu.Unlock()

	p.wg.Wait()
}
