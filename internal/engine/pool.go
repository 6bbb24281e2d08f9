package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool is a bounded worker pool: submission blocks until a slot is free,
// mirroring the golang.org/x/sync/semaphore-gated fan-out distri's batch
// builder uses for concurrent package builds. Unlike a fixed goroutine group,
// the weight can be resized at runtime, which is how the manager's
// memory-pressure sampler scales pools per the concurrency model.
type Pool struct {
	name string

	mu     sync.RWMutex
	sem    *semaphore.Weighted
	size   int64
	closed bool

	wg sync.WaitGroup
}

// NewPool creates a pool allowing up to size concurrent in-flight tasks.
func NewPool(name string, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{name: name, sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

// Go blocks until a slot is available, then runs fn on its own goroutine and
// returns without waiting for fn; the caller observes completion through
// whatever Future fn itself resolves. If ctx is done before a slot frees up,
// fn is not run and Go returns ErrTimeout.
func (p *Pool) Go(ctx context.Context, fn func()) error {
	p.mu.RLock()
	closed := p.closed
	sem := p.sem
	p.mu.RUnlock()
	if closed {
		return ErrShuttingDown
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return ErrTimeout
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer sem.Release(1)
		fn()
	}()
	return nil
}

// Resize changes the pool's effective concurrency limit. Shrinking does not
// preempt in-flight tasks; it only throttles new acquisitions, matching the
// "recompute on sustained pressure changes, not per-task" guidance.
func (p *Pool) Resize(size int) {
	if size < 1 {
		size = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if int64(size) == p.size {
		return
	}
	p.size = int64(size)
	p.sem = semaphore.NewWeighted(int64(size))
}

// Size returns the pool's current configured concurrency limit.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return int(p.size)
}

// Shutdown waits for outstanding tasks to finish, up to ctx's deadline. On
// timeout it returns ctx.Err() without forcibly killing goroutines — Go has
// no preemptive goroutine cancellation, so "interrupt outstanding tasks"
// means the caller should also cancel any context those tasks watch.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
