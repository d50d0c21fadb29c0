// Package xsync implements some extra synchronization tools used by the kernel executor and its backends.
package xsync

import "sync"

// LatchWithValue publishes the result of a one-time computation (a program build, a command completion)
// to any number of waiters.
//
// It starts un-triggered, and once triggered it never changes state: only the first value is kept.
type LatchWithValue[T any] struct {
	once  sync.Once
	ready chan struct{}
	value T
}

// NewLatchWithValue returns an un-triggered latch.
func NewLatchWithValue[T any]() *LatchWithValue[T] {
	return &LatchWithValue[T]{ready: make(chan struct{})}
}

// Trigger sets the value and releases the waiters. Later triggers are discarded.
func (l *LatchWithValue[T]) Trigger(value T) {
	l.once.Do(func() {
		l.value = value
		close(l.ready)
	})
}

// Wait blocks until the latch is triggered and returns its value.
func (l *LatchWithValue[T]) Wait() T {
	<-l.ready
	return l.value
}

// Test reports whether the latch has been triggered, without blocking.
func (l *LatchWithValue[T]) Test() bool {
	select {
	case <-l.ready:
		return true
	default:
		return false
	}
}
