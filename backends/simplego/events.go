package simplego

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/kernelcl/backends"
	"github.com/gomlx/kernelcl/types/xsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Event marks the completion of a command of the SimpleGo backend.
type Event struct {
	id      int64
	command string
	user    bool
	done    *xsync.LatchWithValue[error]
}

var _ backends.Event = (*Event)(nil)

func (b *Backend) newEvent(command string) *Event {
	return &Event{
		id:      b.nextEventID.Add(1),
		command: command,
		done:    xsync.NewLatchWithValue[error](),
	}
}

// Wait implements backends.Event.
func (e *Event) Wait() error {
	return e.done.Wait()
}

// Done implements backends.Event.
func (e *Event) Done() bool {
	return e.done.Test()
}

// String implements fmt.Stringer.
func (e *Event) String() string {
	return fmt.Sprintf("event#%d(%s)", e.id, e.command)
}

// NewUserEvent creates an event that is completed by the host, with UserEvent.Complete.
//
// It can be used in wait-lists to hold back commands until the host says so.
func (b *Backend) NewUserEvent(name string) *Event {
	e := b.newEvent("user " + name)
	e.user = true
	return e
}

// Complete a user event created with Backend.NewUserEvent, with the given error (or nil for success).
// Completing an event twice is a no-op.
func (e *Event) Complete(err error) {
	if !e.user {
		exceptions.Panicf("%s is not a user event, it cannot be completed by the host", e)
	}
	e.done.Trigger(err)
}

// submit a command: it returns an event immediately, and runs the command in a goroutine once
// every event in waitList has completed.
//
// If a dependency fails, the command is not run and its event carries the dependency's error.
// A panic in run is converted to an error.
func (b *Backend) submit(command string, waitList []backends.Event, run func() error) *Event {
	event := b.newEvent(command)
	waits := slices.Clone(waitList)
	b.numCommands.Add(1)
	b.pending.Add(1)
	if klog.V(2).Enabled() {
		klog.Infof("simplego: enqueued %s waiting on %v", event, waits)
	}
	go func() {
		defer b.pending.Done()
		if err := backends.WaitAll(waits); err != nil {
			event.done.Trigger(errors.WithMessagef(err, "%s not executed, a dependency failed", event))
			return
		}
		var err error
		exception := exceptions.Try(func() { err = run() })
		if exception != nil {
			if e, ok := exception.(error); ok {
				err = errors.WithMessagef(e, "%s panicked", event)
			} else {
				err = errors.Errorf("%s panicked: %v", event, exception)
			}
		}
		if err != nil {
			klog.V(1).Infof("simplego: %s failed: %v", event, err)
		}
		event.done.Trigger(err)
	}()
	return event
}
