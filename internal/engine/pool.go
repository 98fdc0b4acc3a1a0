package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many saga engine runs execute at once. Launches beyond the
// limit queue on the semaphore instead of piling onto the scheduler, which
// keeps a recovery burst of incomplete sagas from overwhelming downstreams.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewPool constructs a pool allowing up to limit concurrent runs.
func NewPool(limit int64) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(limit)}
}

// Go schedules fn asynchronously. fn runs once a slot frees up, or never if
// ctx ends first.
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		fn(ctx)
	}()
}

// Drain waits for all scheduled runs to finish or ctx to end.
func (p *Pool) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
