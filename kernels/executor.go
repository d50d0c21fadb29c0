package kernels

import (
	"reflect"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kernelcl/backends"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Executor is the execution context of kernels: the backend (device and its command queue), the
// ProgramCache used to compile kernels, and the EventRegistry that orders the commands touching the
// same buffers.
//
// Every command that touches buffers tracked by an Executor (kernel launches and host transfers) should
// go through it, otherwise its dependencies are not tracked. It is safe for concurrent use: selecting the
// events to wait on, enqueueing the command and recording its event happen atomically.
type Executor struct {
	backend backends.Backend
	cache   *ProgramCache

	mu       sync.Mutex
	registry *EventRegistry
}

// NewExecutor creates an Executor for the backend.
//
// cache can be shared among executors of the same backend. If nil, a new ProgramCache is created.
func NewExecutor(backend backends.Backend, cache *ProgramCache) *Executor {
	if cache == nil {
		cache = NewProgramCache(backend)
	} else if cache.backend != backend {
		exceptions.Panicf("kernels.NewExecutor: ProgramCache is for backend %q, executor for backend %q",
			cache.backend.Name(), backend.Name())
	}
	return &Executor{
		backend:  backend,
		cache:    cache,
		registry: NewEventRegistry(),
	}
}

// Backend used by the executor.
func (e *Executor) Backend() backends.Backend { return e.backend }

// Cache returns the ProgramCache used to compile kernels.
func (e *Executor) Cache() *ProgramCache { return e.cache }

// enqueue runs enqueueFn with the wait-list selected for accesses, and records the returned event.
// If enqueueFn fails, the registry is left untouched.
func (e *Executor) enqueue(accesses []BufferAccess, enqueueFn func(waitList []backends.Event) (backends.Event, error)) (backends.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	waitList := e.registry.SelectEvents(accesses)
	event, err := enqueueFn(waitList)
	if err != nil {
		return nil, err
	}
	if event == nil {
		exceptions.Panicf("kernels.Executor: backend %q returned a nil event and no error", e.backend.Name())
	}
	e.registry.AssignEvents(event, accesses)
	return event, nil
}

// enqueueKernel launches a compiled kernel. Errors from the device are returned as *EnqueueError.
func (e *Executor) enqueueKernel(ck *CompiledKernel, workSize backends.WorkSize, deviceArgs []any, accesses []BufferAccess) (backends.Event, error) {
	return e.enqueue(accesses, func(waitList []backends.Event) (backends.Event, error) {
		event, err := e.backend.EnqueueKernel(ck.Kernel, workSize, deviceArgs, waitList)
		if err != nil {
			return nil, &EnqueueError{Kernel: ck.Name, Err: err}
		}
		if klog.V(2).Enabled() {
			klog.Infof("kernels: enqueued %s %s as %s, waiting on %v", ck.Name, workSize, event, waitList)
		}
		return event, nil
	})
}

// NewBuffer allocates a buffer on the device. Its contents are undefined until written.
func (e *Executor) NewBuffer(dtype dtypes.DType, length int) (backends.Buffer, error) {
	buffer, err := e.backend.NewBuffer(dtype, length)
	if err != nil {
		return nil, errors.WithMessagef(err, "kernels: failed to allocate buffer of %d x %s", length, dtype)
	}
	return buffer, nil
}

// BufferFromFlat allocates a buffer with the dtype and length of flat (a slice of a supported Go type),
// and enqueues the copy of flat to it.
//
// flat must not be modified until the copy completes: wait for it with WaitFor, or simply let later
// commands on the buffer wait on it.
func (e *Executor) BufferFromFlat(flat any) (backends.Buffer, error) {
	flatV := reflect.ValueOf(flat)
	if flatV.Kind() != reflect.Slice {
		return nil, errors.Errorf("kernels.BufferFromFlat: flat must be a slice, got %T", flat)
	}
	dtype := dtypes.FromGoType(flatV.Type().Elem())
	if dtype == dtypes.InvalidDType {
		return nil, errors.Errorf("kernels.BufferFromFlat: unsupported element type for %T", flat)
	}
	buffer, err := e.NewBuffer(dtype, flatV.Len())
	if err != nil {
		return nil, err
	}
	if _, err = e.Write(buffer, flat); err != nil {
		if finalizeErr := e.backend.BufferFinalize(buffer); finalizeErr != nil {
			klog.Warningf("kernels: failed to finalize buffer after failed write: %+v", finalizeErr)
		}
		return nil, err
	}
	return buffer, nil
}

// Write enqueues the copy of flat (host) to buffer (device). Later commands touching buffer wait for it.
//
// flat must not be modified until the returned event completes.
func (e *Executor) Write(buffer any, flat any) (backends.Event, error) {
	handle, err := convertBuffer(buffer)
	if err != nil {
		return nil, errors.WithMessage(err, "kernels.Write")
	}
	return e.enqueue([]BufferAccess{{Buffer: handle, Role: RoleWrite}}, func(waitList []backends.Event) (backends.Event, error) {
		event, err := e.backend.EnqueueWriteBuffer(handle, flat, waitList)
		if err != nil {
			return nil, errors.WithMessagef(err, "kernels: failed to enqueue write of buffer %v", handle)
		}
		return event, nil
	})
}

// Read enqueues the copy of buffer (device) to flat (host), after the last command writing the buffer.
//
// flat is only valid once the returned event completes.
func (e *Executor) Read(buffer any, flat any) (backends.Event, error) {
	handle, err := convertBuffer(buffer)
	if err != nil {
		return nil, errors.WithMessage(err, "kernels.Read")
	}
	return e.enqueue([]BufferAccess{{Buffer: handle, Role: RoleRead}}, func(waitList []backends.Event) (backends.Event, error) {
		event, err := e.backend.EnqueueReadBuffer(handle, flat, waitList)
		if err != nil {
			return nil, errors.WithMessagef(err, "kernels: failed to enqueue read of buffer %v", handle)
		}
		return event, nil
	})
}

// ReadSync copies buffer to flat and waits for the copy to complete.
func (e *Executor) ReadSync(buffer any, flat any) error {
	event, err := e.Read(buffer, flat)
	if err != nil {
		return err
	}
	return event.Wait()
}

// trackedEvents returns the events tracked for the buffers.
func (e *Executor) trackedEvents(buffers []any) ([]backends.Event, []backends.Buffer, error) {
	handles := make([]backends.Buffer, 0, len(buffers))
	for ii, buffer := range buffers {
		handle, err := convertBuffer(buffer)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "buffer #%d", ii)
		}
		handles = append(handles, handle)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var events []backends.Event
	for _, handle := range handles {
		events = append(events, e.registry.Events(handle).All()...)
	}
	return events, handles, nil
}

// WaitFor blocks until every command enqueued so far touching the buffers has completed.
//
// It returns the first error of the commands waited on.
func (e *Executor) WaitFor(buffers ...any) error {
	events, _, err := e.trackedEvents(buffers)
	if err != nil {
		return errors.WithMessage(err, "kernels.WaitFor")
	}
	return backends.WaitAll(events)
}

// Release waits for the commands touching buffer to complete, stops tracking it, and finalizes it.
//
// The buffer must not be used afterwards. It returns the first error of the commands waited on, or the
// error finalizing the buffer.
func (e *Executor) Release(buffer any) error {
	events, handles, err := e.trackedEvents([]any{buffer})
	if err != nil {
		return errors.WithMessage(err, "kernels.Release")
	}
	waitErr := backends.WaitAll(events)
	e.mu.Lock()
	e.registry.Forget(handles[0])
	e.mu.Unlock()
	if err := e.backend.BufferFinalize(handles[0]); err != nil {
		klog.Warningf("kernels: failed to finalize buffer %v: %+v", handles[0], err)
		return errors.WithMessage(err, "kernels.Release")
	}
	return waitErr
}

// Finish blocks until every tracked command has completed, and drops the completed events from the
// registry. It returns the first error of the commands waited on.
//
// Failed writes are kept tracked (and reported again by later calls) until their buffer is overwritten or
// released, so readers of the buffer fail too.
func (e *Executor) Finish() error {
	e.mu.Lock()
	events := e.registry.AllEvents()
	e.mu.Unlock()
	err := backends.WaitAll(events)
	e.mu.Lock()
	e.registry.Prune()
	e.mu.Unlock()
	return err
}

// Events returns a snapshot of the events tracked for buffer, a buffer handle or a BufferHolder.
func (e *Executor) Events(buffer any) (BufferEvents, error) {
	handle, err := convertBuffer(buffer)
	if err != nil {
		return BufferEvents{}, errors.WithMessage(err, "kernels.Events")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Events(handle), nil
}

// NumTrackedBuffers returns the number of buffers with events tracked.
func (e *Executor) NumTrackedBuffers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Len()
}
