package executor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRunsWork(t *testing.T) {
	p := NewPool(2)
	defer p.Stop()

	var ran atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func() {
			ran.Add(1)
			wg.Done()
		}))
	}

	wg.Wait()
	assert.Equal(t, int32(10), ran.Load())
}

func TestStopDrainsQueuedWork(t *testing.T) {
	p := NewPool(1)

	var ran atomic.Int32
	gate := make(chan struct{})

	// Occupy the single worker so the rest queues up.
	require.NoError(t, p.Submit(func() { <-gate; ran.Add(1) }))
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(func() { ran.Add(1) }))
	}

	close(gate)
	p.Stop()

	assert.Equal(t, int32(6), ran.Load())
}

func TestSubmitAfterStop(t *testing.T) {
	p := NewPool(1)
	p.Stop()

	err := p.Submit(func() {})
	assert.ErrorIs(t, err, ErrStopped)

	// Stop is idempotent
	p.Stop()
}

func TestSubmitNeverBlocksWhenSaturated(t *testing.T) {
	p := NewPool(1)
	defer p.Stop()

	gate := make(chan struct{})
	defer close(gate)

	// Block the worker, then fill the queue.
	require.NoError(t, p.Submit(func() { <-gate }))

	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < defaultQueueSize+1; i++ {
			if err = p.Submit(func() {}); err != nil {
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Submit blocked on a saturated queue")
	}
	assert.ErrorIs(t, err, ErrSaturated)
}

func TestDefaultSizing(t *testing.T) {
	p := NewPool(0)
	defer p.Stop()

	done := make(chan struct{})
	require.NoError(t, p.Submit(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("default-sized pool did not run work")
	}
}
