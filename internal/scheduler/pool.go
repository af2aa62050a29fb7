package scheduler

import "sync"

// Pool caps how many commits execute at once
type Pool struct {
	capacity       int
	available      int
	mu             sync.Mutex
	onSlotsChanged func(available int)
}

// NewPool creates a pool with the given capacity (minimum 1)
func NewPool(capacity int) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	return &Pool{
		capacity:  capacity,
		available: capacity,
	}
}

// SetOnSlotsChanged sets a callback invoked after every acquire or release
func (p *Pool) SetOnSlotsChanged(callback func(available int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSlotsChanged = callback
}

// Acquire tries to claim a slot. Returns true if successful.
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

	// Outside the lock so the callback may query the pool
	if callback != nil {
		callback(available)
	}
	return true
}

// Release returns a slot to the pool
func (p *Pool) Release() {
	p.mu.Lock()
	if p.available < p.capacity {
		p.available++
	}
	callback := p.onSlotsChanged
	available := p.available
	p.mu.Unlock()

	if callback != nil {
		callback(available)
	}
}

// Available returns the number of free slots
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

// Capacity returns the pool size
func (p *Pool) Capacity() int {
	return p.capacity
}
