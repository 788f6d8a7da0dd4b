package jobs

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

var ErrPoolClosed = errors.New("worker pool closed")

type Stats struct {
	Workers        int
	SubmittedTotal uint64
	CompletedTotal uint64
	FailedTotal    uint64
	Waiting        int64
	Running        int64
}

// Pool runs submitted functions on at most Workers goroutines at a time.
// Submit never blocks: work beyond the limit waits on the semaphore in its
// own goroutine.
type Pool struct {
	workers int
	sem     *semaphore.Weighted
	logger  *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	submittedTotal atomic.Uint64
	completedTotal atomic.Uint64
	failedTotal    atomic.Uint64
	waiting        atomic.Int64
	running        atomic.Int64
}

func NewPool(workers int, logger *log.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers: workers,
		sem:     semaphore.NewWeighted(int64(workers)),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit schedules fn and returns its handle.
func Submit[T any](p *Pool, fn func() (T, error)) *Job[T] {
	j := newJob[T]()
	if p == nil {
		var zero T
		j.finish(zero, ErrPoolClosed)
		return j
	}
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		var zero T
		j.finish(zero, ErrPoolClosed)
		return j
	}
	p.submittedTotal.Add(1)
	p.waiting.Add(1)
	p.wg.Add(1)
	p.mu.RUnlock()
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			p.waiting.Add(-1)
			p.failedTotal.Add(1)
			var zero T
			j.finish(zero, ErrPoolClosed)
			return
		}
		p.waiting.Add(-1)
		p.running.Add(1)
		v, err := run(fn)
		p.running.Add(-1)
		p.sem.Release(1)
		if err != nil {
			p.failedTotal.Add(1)
			var pe *PanicError
			if errors.As(err, &pe) {
				p.printf("job %s panicked: %v", j.id, pe.Value)
			}
		} else {
			p.completedTotal.Add(1)
		}
		j.finish(v, err)
	}()
	return j
}

func run[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn()
}

// Close stops accepting work and waits for running jobs. Jobs still waiting
// for a worker finish with ErrPoolClosed.
func (p *Pool) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}

func (p *Pool) Stats() Stats {
	if p == nil {
		return Stats{}
	}
	return Stats{
		Workers:        p.workers,
		SubmittedTotal: p.submittedTotal.Load(),
		CompletedTotal: p.completedTotal.Load(),
		FailedTotal:    p.failedTotal.Load(),
		Waiting:        p.waiting.Load(),
		Running:        p.running.Load(),
	}
}

func (p *Pool) printf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}
