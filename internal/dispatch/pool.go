package dispatch

import (
	"context"
	"sync"
)

// Pool manages a fixed number of job slots
type Pool struct {
	maxJobs        int
	available      int
	mu             sync.Mutex
	freed          chan struct{}
	onSlotsChanged func(available int) // Callback when slots change
}

// NewPool creates a pool with the given capacity. Capacity below one is
// raised to one.
func NewPool(maxJobs int) *Pool {
	if maxJobs < 1 {
		maxJobs = 1
	}
	return &Pool{
		maxJobs:   maxJobs,
		available: maxJobs,
		freed:     make(chan struct{}, 1),
	}
}

// SetOnSlotsChanged sets a callback to be invoked when slot availability changes
func (p *Pool) SetOnSlotsChanged(callback func(available int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSlotsChanged = callback
}

// Acquire tries to claim a job slot. Returns true if successful.
func (p *Pool) Acquire() bool {
	p.mu.Lock()
	if p.available <= 0 {
		p.mu.Unlock()
		return false
	}
	p.available--
	callback := p.onSlotsChanged
	available := p.available
	p.mu.Unlock()

	// Notify outside of lock to avoid deadlock
	if callback != nil {
		callback(available)
	}
	return true
}

// Wait blocks until a slot is claimed or ctx is done. It expects a single
// waiter; the dispatcher loop is the only caller.
func (p *Pool) Wait(ctx context.Context) error {
	for {
		if p.Acquire() {
			return nil
		}
		select {
		case <-p.freed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Release returns a job slot to the pool.
func (p *Pool) Release() {
	p.mu.Lock()
	if p.available < p.maxJobs {
		p.available++
	}
	callback := p.onSlotsChanged
	available := p.available
	p.mu.Unlock()

	select {
	case p.freed <- struct{}{}:
	default:
	}

	// Notify outside of lock to avoid deadlock
	if callback != nil {
		callback(available)
	}
}

// Available returns the number of free slots.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

// MaxJobs returns the pool capacity.
func (p *Pool) MaxJobs() int {
	return p.maxJobs
}
