package simplego

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/kernelcl/backends"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Launch holds the information of one kernel launch, given to a KernelFn to prepare its execution.
type Launch struct {
	// Name of the kernel entry point.
	Name string

	// WorkSize of the launch. Local is always set: if not given by the caller, the backend chose it.
	WorkSize backends.WorkSize

	// Args given to the kernel: *Buffer for buffer arguments, Go numbers for scalars.
	Args []any

	// Defines are the macros defined in the program source.
	Defines map[string]string
}

// WorkItem identifies one work-item of a launch. Unused dimensions are 0.
type WorkItem struct {
	Global, Local, Group [backends.MaxWorkDimensions]int
}

// WorkItemFn executes the kernel body for one work-item.
//
// Work-items of the same launch may run concurrently: they must only write to disjoint locations.
type WorkItemFn func(item WorkItem)

// KernelFn is the Go implementation of a kernel entry point.
//
// It is called once per launch, when the command starts executing, and returns the function run for each
// work-item. Returning an error fails the command.
type KernelFn func(launch *Launch) (WorkItemFn, error)

type kernelImpl struct {
	numArgs int
	fn      KernelFn
}

var (
	muKernelImpls sync.Mutex
	kernelImpls   = make(map[string]*kernelImpl)
)

// RegisterKernel registers the Go implementation of the kernel entry point name, taking numArgs arguments.
//
// Programs built after the registration can declare a `__kernel void name(...)` with numArgs parameters.
// Registering the same name again replaces the implementation for future builds.
func RegisterKernel(name string, numArgs int, fn KernelFn) {
	muKernelImpls.Lock()
	defer muKernelImpls.Unlock()
	kernelImpls[name] = &kernelImpl{numArgs: numArgs, fn: fn}
}

func lookupKernel(name string) (*kernelImpl, bool) {
	muKernelImpls.Lock()
	defer muKernelImpls.Unlock()
	impl, found := kernelImpls[name]
	return impl, found
}

// EnqueueKernel implements backends.Backend.
//
// The launch is validated immediately (arguments and work size), and rejected with an error
// without enqueueing anything if invalid.
func (b *Backend) EnqueueKernel(backendKernel backends.Kernel, workSize backends.WorkSize, args []any, waitList []backends.Event) (backends.Event, error) {
	if err := b.checkOk(); err != nil {
		return nil, err
	}
	kernel, ok := backendKernel.(*Kernel)
	if !ok || kernel == nil {
		return nil, errors.Errorf("invalid kernel %v (%T), it was not created by the %q backend", backendKernel, backendKernel, BackendName)
	}
	if kernel.program.backend != b {
		return nil, errors.Errorf("invalid kernel %s: it belongs to a different %q backend instance", kernel, BackendName)
	}
	if kernel.program.finalized.Load() {
		return nil, errors.Errorf("invalid kernel %s: its program has been finalized", kernel)
	}
	if len(args) != kernel.NumArgs() {
		return nil, errors.Errorf("invalid kernel args: %s takes %d arguments, %d given", kernel, kernel.NumArgs(), len(args))
	}
	for ii, arg := range args {
		if err := b.checkKernelArg(arg); err != nil {
			return nil, errors.WithMessagef(err, "invalid argument #%d for kernel %s", ii, kernel)
		}
	}
	if err := workSize.Validate(b.maxWorkGroupSize); err != nil {
		return nil, errors.WithMessagef(err, "invalid launch of kernel %s", kernel)
	}
	if workSize.Local == nil {
		workSize.Local = b.chooseLocalWorkSize(workSize.Global)
	}
	launch := &Launch{
		Name:     kernel.name,
		WorkSize: backends.WorkSize{Global: slices.Clone(workSize.Global), Local: workSize.Local},
		Args:     slices.Clone(args),
		Defines:  kernel.program.defines,
	}
	command := fmt.Sprintf("kernel %s %s", kernel.name, launch.WorkSize)
	return b.submit(command, waitList, func() error { return b.runKernel(kernel, launch) }), nil
}

// checkKernelArg accepts this backend's valid buffers and Go scalars of fixed size.
func (b *Backend) checkKernelArg(arg any) error {
	if _, isBuffer := arg.(*Buffer); isBuffer {
		_, err := b.castBuffer(arg)
		return err
	}
	switch reflect.ValueOf(arg).Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return nil
	default:
		return errors.Errorf("type %T cannot be passed to a kernel", arg)
	}
}

// chooseLocalWorkSize picks the largest divisor of the first global dimension that fits the device
// work-group limit, and 1 for the other dimensions.
func (b *Backend) chooseLocalWorkSize(global []int) []int {
	local := make([]int, len(global))
	for axis := range local {
		local[axis] = 1
	}
	limit := min(global[0], b.maxWorkGroupSize)
	for size := limit; size >= 1; size-- {
		if global[0]%size == 0 {
			local[0] = size
			break
		}
	}
	return local
}

// runKernel executes all work-groups of the launch, distributing them among the workers pool.
func (b *Backend) runKernel(kernel *Kernel, launch *Launch) error {
	itemFn, err := kernel.impl.fn(launch)
	if err != nil {
		return errors.WithMessagef(err, "kernel %s failed", kernel)
	}
	dims := launch.WorkSize.Dims()
	var global, local, numGroups [backends.MaxWorkDimensions]int
	totalGroups := 1
	for axis := range backends.MaxWorkDimensions {
		global[axis], local[axis] = 1, 1
		if axis < dims {
			global[axis], local[axis] = launch.WorkSize.Global[axis], launch.WorkSize.Local[axis]
		}
		numGroups[axis] = global[axis] / local[axis]
		totalGroups *= numGroups[axis]
	}
	if klog.V(2).Enabled() {
		klog.Infof("simplego: running %s with %d work-groups", kernel, totalGroups)
	}

	var muFirstPanic sync.Mutex
	var firstPanic any
	b.pool.RunAll(totalGroups, func(groupIdx int) {
		exception := exceptions.Try(func() {
			var item WorkItem
			rest := groupIdx
			for axis := range backends.MaxWorkDimensions {
				item.Group[axis] = rest % numGroups[axis]
				rest /= numGroups[axis]
			}
			for l2 := range local[2] {
				for l1 := range local[1] {
					for l0 := range local[0] {
						item.Local = [backends.MaxWorkDimensions]int{l0, l1, l2}
						for axis := range backends.MaxWorkDimensions {
							item.Global[axis] = item.Group[axis]*local[axis] + item.Local[axis]
						}
						itemFn(item)
					}
				}
			}
		})
		if exception != nil {
			muFirstPanic.Lock()
			if firstPanic == nil {
				firstPanic = exception
			}
			muFirstPanic.Unlock()
		}
	})
	if firstPanic != nil {
		if err, ok := firstPanic.(error); ok {
			return errors.WithMessagef(err, "kernel %s failed", kernel)
		}
		return errors.Errorf("kernel %s failed: %v", kernel, firstPanic)
	}
	return nil
}

// DefineInt parses the macro name of the launch as an integer.
func (l *Launch) DefineInt(name string) (int, error) {
	value, found := l.Defines[name]
	if !found {
		return 0, errors.Errorf("kernel %q requires macro %q to be defined", l.Name, name)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "kernel %q macro %q=%q is not an integer", l.Name, name, value)
	}
	return v, nil
}

// DefineFloat parses the macro name of the launch as a float64.
func (l *Launch) DefineFloat(name string) (float64, error) {
	value, found := l.Defines[name]
	if !found {
		return 0, errors.Errorf("kernel %q requires macro %q to be defined", l.Name, name)
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "kernel %q macro %q=%q is not a number", l.Name, name, value)
	}
	return v, nil
}

// FlatArg returns the storage of the buffer argument at position idx as a []T.
func FlatArg[T any](l *Launch, idx int) ([]T, error) {
	buf, ok := l.Args[idx].(*Buffer)
	if !ok {
		return nil, errors.Errorf("kernel %q argument #%d must be a buffer, got %T", l.Name, idx, l.Args[idx])
	}
	flat, ok := buf.flat.([]T)
	if !ok {
		var t T
		return nil, errors.Errorf("kernel %q argument #%d must be a buffer of %T, got %s", l.Name, idx, t, buf)
	}
	return flat, nil
}

// ScalarArg returns the scalar argument at position idx as a T.
func ScalarArg[T any](l *Launch, idx int) (T, error) {
	v, ok := l.Args[idx].(T)
	if !ok {
		var t T
		return t, errors.Errorf("kernel %q argument #%d must be a %T, got %T", l.Name, idx, t, l.Args[idx])
	}
	return v, nil
}
