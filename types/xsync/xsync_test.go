package xsync

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatchWithValue(t *testing.T) {
	l := NewLatchWithValue[int]()
	require.False(t, l.Test())

	var got atomic.Int32
	done := NewLatchWithValue[bool]()
	go func() {
		got.Store(int32(l.Wait()))
		done.Trigger(true)
	}()
	l.Trigger(7)
	l.Trigger(11) // Discarded.
	require.True(t, done.Wait())
	assert.Equal(t, int32(7), got.Load())
	assert.Equal(t, 7, l.Wait())
	assert.True(t, l.Test())
}

func TestPending(t *testing.T) {
	p := NewPending()
	p.Wait() // Nothing pending, returns immediately.

	p.Add(2)
	finished := NewLatchWithValue[bool]()
	go func() {
		p.Wait()
		finished.Trigger(true)
	}()
	p.Done()
	time.Sleep(10 * time.Millisecond)
	require.False(t, finished.Test(), "Pending.Wait() returned with 1 operation still pending")
	p.Done()
	finished.Wait()
	assert.Equal(t, 0, p.Count())
	require.Panics(t, func() { p.Done() })
}

func TestSyncMap(t *testing.T) {
	var m SyncMap[string, int]
	_, found := m.Load("a")
	require.False(t, found)
	m.Store("a", 1)
	v, found := m.Load("a")
	require.True(t, found)
	assert.Equal(t, 1, v)
	m.Store("a", 2)
	v, _ = m.Load("a")
	assert.Equal(t, 2, v)
}
