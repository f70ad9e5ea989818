package executor

import (
	"errors"
	"sync"
)

var (
	// ErrStopped is returned by Submit after the pool has been stopped.
	ErrStopped = errors.New("executor: pool is stopped")

	// ErrSaturated is returned by Submit when the work queue is full.
	ErrSaturated = errors.New("executor: work queue is full")
)

const (
	defaultWorkers   = 2
	defaultQueueSize = 128
)

// Pool is a fixed set of goroutines dedicated to bootstrap-phase I/O. Every
// send issued during cluster formation runs here so that nothing depends on
// the runtime's cooperative scheduler, which does not exist yet while
// bootstrap is in progress.
type Pool struct {
	work chan func()
	wg   sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewPool creates a pool with the given number of workers. Sizes below one
// fall back to the default.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = defaultWorkers
	}

	p := &Pool{
		work: make(chan func(), defaultQueueSize),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for fn := range p.work {
		fn()
	}
}

// Submit enqueues fn for execution on one of the pool's workers. It never
// blocks: a full queue fails with ErrSaturated and a stopped pool with
// ErrStopped.
func (p *Pool) Submit(fn func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrStopped
	}

	select {
	case p.work <- fn:
		return nil
	default:
		return ErrSaturated
	}
}

// Stop drains queued work and waits for the workers to exit. Subsequent
// Submit calls fail with ErrStopped.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.work)
	p.mu.Unlock()

	p.wg.Wait()
}
