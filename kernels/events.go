package kernels

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/kernelcl/backends"
)

// BufferEvents are the events tracked for one buffer: the last command that wrote it, and the
// commands that read it since.
type BufferEvents struct {
	// Write is the event of the last write to the buffer, or nil if it completed and was pruned,
	// or if it was never written through the registry.
	Write backends.Event

	// Reads are the events of the reads issued after Write.
	Reads []backends.Event
}

// All returns the write event (if any) followed by the read events.
func (be BufferEvents) All() []backends.Event {
	all := make([]backends.Event, 0, len(be.Reads)+1)
	if be.Write != nil {
		all = append(all, be.Write)
	}
	return append(all, be.Reads...)
}

// EventRegistry tracks, for each buffer, the events a new command touching the buffer must wait on.
//
// Reads only wait on the last write, so concurrent readers are not serialized among themselves.
// Writes wait on the last write and on every read issued since, and then become the only event tracked
// for the buffer.
//
// A write that failed stays tracked until the buffer is written again or forgotten, so later readers of
// the buffer fail with it instead of reading whatever the failed command left behind.
//
// EventRegistry is not safe for concurrent use: Executor serializes the selection of events, the launch
// and the assignment of the new event with a lock, so that no dependency is missed.
type EventRegistry struct {
	buffers map[backends.Buffer]*BufferEvents
}

// NewEventRegistry returns an empty EventRegistry.
func NewEventRegistry() *EventRegistry {
	return &EventRegistry{buffers: make(map[backends.Buffer]*BufferEvents)}
}

// AssignEvent records event as the completion of a command that accesses buffer with the given role.
//
// A read is added to the buffer's reads, and reads already completed are dropped. A write (or read-write)
// replaces everything tracked for the buffer by the new event: the command waited on all of them, so
// waiting on it is enough.
func (r *EventRegistry) AssignEvent(event backends.Event, buffer backends.Buffer, role Role) {
	if event == nil {
		exceptions.Panicf("kernels.EventRegistry: assigning nil event to buffer %v", buffer)
	}
	if buffer == nil {
		exceptions.Panicf("kernels.EventRegistry: assigning %s to nil buffer", event)
	}
	switch {
	case role.Writes():
		r.buffers[buffer] = &BufferEvents{Write: event}
	case role.Reads():
		entry, found := r.buffers[buffer]
		if !found {
			entry = &BufferEvents{}
			r.buffers[buffer] = entry
		}
		entry.Reads = slices.DeleteFunc(entry.Reads, backends.Event.Done)
		if !slices.Contains(entry.Reads, event) {
			entry.Reads = append(entry.Reads, event)
		}
	default:
		exceptions.Panicf("kernels.EventRegistry: assigning %s to buffer %v with role %s", event, buffer, role)
	}
}

// mergeAccesses combines accesses to the same buffer (role union), preserving the order of first access.
func mergeAccesses(accesses []BufferAccess) []BufferAccess {
	merged := make([]BufferAccess, 0, len(accesses))
	for _, access := range accesses {
		idx := slices.IndexFunc(merged, func(m BufferAccess) bool { return m.Buffer == access.Buffer })
		if idx == -1 {
			merged = append(merged, access)
		} else {
			merged[idx].Role |= access.Role
		}
	}
	return merged
}

// AssignEvents records event for every access of one command.
//
// If a buffer is accessed more than once by the command, the roles are merged: a buffer read and
// written by the command is tracked as written.
func (r *EventRegistry) AssignEvents(event backends.Event, accesses []BufferAccess) {
	for _, access := range mergeAccesses(accesses) {
		r.AssignEvent(event, access.Buffer, access.Role)
	}
}

// SelectEvents returns the events a new command with the given accesses must wait on.
//
// A read waits on the last write of the buffer. A write waits on the last write and all reads since.
// An access that only writes skips events already completed: it overwrites the buffer, so a failure of
// the previous contents doesn't concern it.
// Buffers never seen contribute nothing. The result has no duplicates, in the order found.
func (r *EventRegistry) SelectEvents(accesses []BufferAccess) []backends.Event {
	var events []backends.Event
	add := func(event backends.Event) {
		if event != nil && !slices.Contains(events, event) {
			events = append(events, event)
		}
	}
	for _, access := range mergeAccesses(accesses) {
		if access.Role == RoleNone {
			exceptions.Panicf("kernels.EventRegistry: selecting events for buffer %v with role %s", access.Buffer, access.Role)
		}
		entry, found := r.buffers[access.Buffer]
		if !found {
			continue
		}
		overwrite := !access.Role.Reads()
		if entry.Write != nil && !(overwrite && entry.Write.Done()) {
			add(entry.Write)
		}
		if access.Role.Writes() {
			for _, read := range entry.Reads {
				if !(overwrite && read.Done()) {
					add(read)
				}
			}
		}
	}
	return events
}

// Events returns a snapshot of the events tracked for buffer.
func (r *EventRegistry) Events(buffer backends.Buffer) BufferEvents {
	entry, found := r.buffers[buffer]
	if !found {
		return BufferEvents{}
	}
	snapshot := BufferEvents{Write: entry.Write}
	if len(entry.Reads) > 0 {
		snapshot.Reads = slices.Clone(entry.Reads)
	}
	return snapshot
}

// AllEvents returns every tracked event, without duplicates.
func (r *EventRegistry) AllEvents() []backends.Event {
	var events []backends.Event
	seen := make(map[backends.Event]bool)
	for _, entry := range r.buffers {
		for _, event := range entry.All() {
			if !seen[event] {
				seen[event] = true
				events = append(events, event)
			}
		}
	}
	return events
}

// Prune drops completed events, except writes that failed. Buffers left without events are forgotten.
// Pending events are never dropped.
func (r *EventRegistry) Prune() {
	for buffer, entry := range r.buffers {
		if entry.Write != nil && entry.Write.Done() && entry.Write.Wait() == nil {
			entry.Write = nil
		}
		entry.Reads = slices.DeleteFunc(entry.Reads, backends.Event.Done)
		if entry.Write == nil && len(entry.Reads) == 0 {
			delete(r.buffers, buffer)
		}
	}
}

// Forget drops everything tracked for buffer. It should only be used once the buffer's events completed,
// typically when the buffer is released.
func (r *EventRegistry) Forget(buffer backends.Buffer) {
	delete(r.buffers, buffer)
}

// Len returns the number of buffers with tracked events.
func (r *EventRegistry) Len() int {
	return len(r.buffers)
}
