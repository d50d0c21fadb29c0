package kernels

import (
	"fmt"
	"testing"

	"github.com/gomlx/kernelcl/backends"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvent struct {
	name string
	done bool
	err  error
}

func (e *fakeEvent) Wait() error    { return e.err }
func (e *fakeEvent) Done() bool     { return e.done }
func (e *fakeEvent) String() string { return e.name }

type fakeBuffer struct{ name string }

func newFakeEvents(names ...string) []*fakeEvent {
	events := make([]*fakeEvent, len(names))
	for ii, name := range names {
		events[ii] = &fakeEvent{name: name}
	}
	return events
}

func TestEventRegistry_AssignAndSelect(t *testing.T) {
	r := NewEventRegistry()
	a, b := &fakeBuffer{"a"}, &fakeBuffer{"b"}
	ev := newFakeEvents("w0", "r1", "r2", "w3")

	// Unknown buffers contribute nothing.
	assert.Empty(t, r.SelectEvents([]BufferAccess{{a, RoleRead}, {b, RoleWrite}}))

	r.AssignEvent(ev[0], a, RoleWrite)
	r.AssignEvent(ev[1], a, RoleRead)
	r.AssignEvent(ev[2], a, RoleRead)
	assert.Equal(t, BufferEvents{Write: ev[0], Reads: []backends.Event{ev[1], ev[2]}}, r.Events(a))

	// Reads only wait on the last write.
	assert.Equal(t, []backends.Event{ev[0]}, r.SelectEvents([]BufferAccess{{a, RoleRead}}))

	// Writes wait on the last write and on every read since.
	assert.Equal(t, []backends.Event{ev[0], ev[1], ev[2]}, r.SelectEvents([]BufferAccess{{a, RoleWrite}}))
	assert.Equal(t, []backends.Event{ev[0], ev[1], ev[2]}, r.SelectEvents([]BufferAccess{{a, RoleReadWrite}}))

	// A write replaces everything tracked.
	r.AssignEvent(ev[3], a, RoleWrite)
	assert.Equal(t, BufferEvents{Write: ev[3]}, r.Events(a))
	assert.Equal(t, []backends.Event{ev[3]}, r.SelectEvents([]BufferAccess{{a, RoleWrite}}))
	assert.Equal(t, 1, r.Len())
}

func TestEventRegistry_ReadBeforeAnyWrite(t *testing.T) {
	r := NewEventRegistry()
	a := &fakeBuffer{"a"}
	ev := newFakeEvents("r0", "w1")
	r.AssignEvent(ev[0], a, RoleRead)

	assert.Empty(t, r.SelectEvents([]BufferAccess{{a, RoleRead}}))
	assert.Equal(t, []backends.Event{ev[0]}, r.SelectEvents([]BufferAccess{{a, RoleWrite}}))

	// The same event assigned twice as a read is tracked once.
	r.AssignEvent(ev[0], a, RoleRead)
	assert.Len(t, r.Events(a).Reads, 1)
}

func TestEventRegistry_MergedAccesses(t *testing.T) {
	r := NewEventRegistry()
	a, b := &fakeBuffer{"a"}, &fakeBuffer{"b"}
	ev := newFakeEvents("wa", "wb", "rb", "k")
	r.AssignEvent(ev[0], a, RoleWrite)
	r.AssignEvent(ev[1], b, RoleWrite)
	r.AssignEvent(ev[2], b, RoleRead)

	// a passed both as input and output, the result has no duplicates and keeps first-seen order.
	accesses := []BufferAccess{{a, RoleRead}, {b, RoleRead}, {a, RoleWrite}}
	assert.Equal(t, []backends.Event{ev[0], ev[1]}, r.SelectEvents(accesses))

	// After the launch, a is tracked as written by it, b as read.
	r.AssignEvents(ev[3], accesses)
	assert.Equal(t, BufferEvents{Write: ev[3]}, r.Events(a))
	assert.Equal(t, BufferEvents{Write: ev[1], Reads: []backends.Event{ev[2], ev[3]}}, r.Events(b))
	assert.ElementsMatch(t, []backends.Event{ev[3], ev[1], ev[2]}, r.AllEvents())
}

func TestEventRegistry_Prune(t *testing.T) {
	r := NewEventRegistry()
	a, b := &fakeBuffer{"a"}, &fakeBuffer{"b"}
	ev := newFakeEvents("wa", "ra", "wb")
	r.AssignEvent(ev[0], a, RoleWrite)
	r.AssignEvent(ev[1], a, RoleRead)
	r.AssignEvent(ev[2], b, RoleWrite)

	ev[0].done = true
	ev[2].done = true
	r.Prune()
	assert.Equal(t, BufferEvents{Reads: []backends.Event{ev[1]}}, r.Events(a))
	assert.Equal(t, 1, r.Len())

	ev[1].done = true
	r.Prune()
	assert.Equal(t, 0, r.Len())

	r.AssignEvent(ev[0], a, RoleWrite)
	r.Forget(a)
	assert.Equal(t, BufferEvents{}, r.Events(a))
}

func TestEventRegistry_CompletedReadsAreDropped(t *testing.T) {
	r := NewEventRegistry()
	a := &fakeBuffer{"a"}
	const numReads = 1000
	var last *fakeEvent
	for ii := range numReads {
		if last != nil && ii < numReads-1 {
			last.done = true
		}
		last = &fakeEvent{name: fmt.Sprintf("r%d", ii)}
		r.AssignEvent(last, a, RoleRead)
	}
	// Only the reads still pending when the last one was assigned are kept.
	reads := r.Events(a).Reads
	assert.Len(t, reads, 2)
	for _, read := range reads {
		assert.False(t, read.Done())
	}
	assert.Equal(t, reads, r.SelectEvents([]BufferAccess{{a, RoleWrite}}))
}

func TestEventRegistry_FailedWrites(t *testing.T) {
	r := NewEventRegistry()
	a := &fakeBuffer{"a"}
	failed := &fakeEvent{name: "w0", done: true, err: errors.New("device lost")}
	read := &fakeEvent{name: "r1", done: true, err: errors.New("dependency failed")}
	r.AssignEvent(failed, a, RoleWrite)
	r.AssignEvent(read, a, RoleRead)

	// Prune keeps the failed write, so later readers wait on it and fail with it.
	r.Prune()
	assert.Equal(t, BufferEvents{Write: failed}, r.Events(a))
	assert.Equal(t, []backends.Event{failed}, r.SelectEvents([]BufferAccess{{a, RoleRead}}))
	assert.Equal(t, []backends.Event{failed}, r.SelectEvents([]BufferAccess{{a, RoleReadWrite}}))

	// An overwrite doesn't depend on the failed contents.
	assert.Empty(t, r.SelectEvents([]BufferAccess{{a, RoleWrite}}))
	overwrite := &fakeEvent{name: "w2", done: true}
	r.AssignEvent(overwrite, a, RoleWrite)
	r.Prune()
	assert.Equal(t, 0, r.Len())
}

func TestEventRegistry_Panics(t *testing.T) {
	r := NewEventRegistry()
	a := &fakeBuffer{"a"}
	require.Panics(t, func() { r.AssignEvent(nil, a, RoleWrite) })
	require.Panics(t, func() { r.AssignEvent(&fakeEvent{name: "x"}, nil, RoleWrite) })
	require.Panics(t, func() { r.AssignEvent(&fakeEvent{name: "x"}, a, RoleNone) })
	require.Panics(t, func() { r.SelectEvents([]BufferAccess{{a, RoleNone}}) })
	assert.Equal(t, 0, r.Len())
}
