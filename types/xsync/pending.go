package xsync

import (
	"sync"

	"github.com/pkg/errors"
)

// Pending counts in-flight operations and lets one wait until there are none left.
//
// Unlike sync.WaitGroup, new operations can be added while someone is waiting: Wait returns
// the first time the count drops to zero.
type Pending struct {
	mu    sync.Mutex
	cond  *sync.Cond
	count int64
}

// NewPending creates a new Pending counter.
func NewPending() *Pending {
	p := &Pending{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Add changes the counter by delta. It panics if the counter would become negative.
func (p *Pending) Add(delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count += int64(delta)
	if p.count < 0 {
		panic(errors.Errorf("xsync.Pending: negative counter"))
	}
	if p.count == 0 {
		p.cond.Broadcast()
	}
}

// Done decrements the counter by one.
func (p *Pending) Done() {
	p.Add(-1)
}

// Count returns the current number of in-flight operations.
func (p *Pending) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.count)
}

// Wait blocks until the counter is zero.
func (p *Pending) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.count > 0 {
		p.cond.Wait()
	}
}
