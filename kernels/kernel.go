package kernels

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/kernelcl/backends"
	"github.com/gomlx/kernelcl/types/xsync"
)

// KernelCL is a named kernel: its sources, its default compilation options, and the declared parameters
// (see InBuffer, OutBuffer, InOutBuffer and Scalar).
//
// Creating a KernelCL doesn't compile anything. The program is compiled (through the Executor's
// ProgramCache) on the first call, or explicitly with Warmup. It's safe for concurrent use.
//
// Example:
//
//	var scalarMultiply = kernels.New("scalar_multiply", []string{scalarMultiplySource}, nil,
//		kernels.InBuffer{}, kernels.OutBuffer{}, kernels.Scalar[float64]{}, kernels.Scalar[int32]{})
//
//	event, err := scalarMultiply.Call(exec, []int{n}, a, b, 2.0, n)
type KernelCL struct {
	name    string
	sources []string
	options Options
	params  []Param

	// compiled holds the kernel compiled with the default options, per ProgramCache.
	compiled xsync.SyncMap[*ProgramCache, *CompiledKernel]
}

// New creates a kernel named name: it is the entry point looked up in the program built from sources.
//
// The defaultOptions are emitted as `#define` macros before the sources, and can be overridden per call
// with CallWithOptions. params declare the kernel parameters, in order.
func New(name string, sources []string, defaultOptions Options, params ...Param) *KernelCL {
	return &KernelCL{
		name:    name,
		sources: slices.Clone(sources),
		options: defaultOptions.Clone(),
		params:  slices.Clone(params),
	}
}

// Name of the kernel entry point.
func (k *KernelCL) Name() string { return k.name }

// Option returns the default value of the compilation option name, and whether it is defined.
func (k *KernelCL) Option(name string) (value string, found bool) {
	value, found = k.options[name]
	return
}

// Options returns a copy of the default compilation options.
func (k *KernelCL) Options() Options { return k.options.Clone() }

// Params returns the declared parameters of the kernel.
func (k *KernelCL) Params() []Param { return slices.Clone(k.params) }

// String implements fmt.Stringer, it renders the kernel signature.
func (k *KernelCL) String() string {
	parts := make([]string, len(k.params))
	for ii, param := range k.params {
		parts[ii] = param.String()
	}
	return fmt.Sprintf("%s(%s)", k.name, strings.Join(parts, ", "))
}

// compile returns the kernel compiled for the cache with the default options merged with overrides.
func (k *KernelCL) compile(cache *ProgramCache, overrides Options) (*CompiledKernel, error) {
	if len(overrides) == 0 {
		if ck, found := k.compiled.Load(cache); found && cache.isCurrent(ck) {
			return ck, nil
		}
	}
	ck, err := cache.CompileKernel(k.name, k.sources, k.options.Merge(overrides))
	if err != nil {
		return nil, err
	}
	if len(overrides) == 0 {
		k.compiled.Store(cache, ck)
	}
	return ck, nil
}

// Warmup compiles the kernel with its default options for the executor, without launching it.
func (k *KernelCL) Warmup(exec *Executor) error {
	_, err := k.compile(exec.cache, nil)
	return err
}

// WarmupWithOptions compiles the kernel with the default options overridden by overrides, without
// launching it.
func (k *KernelCL) WarmupWithOptions(exec *Executor, overrides Options) error {
	_, err := k.compile(exec.cache, overrides)
	return err
}

// Call launches the kernel on global work-items, letting the device choose the local work size.
//
// The launch waits on the events of the earlier commands that touch the buffers given, according to the
// declared parameter roles, and the returned event is recorded for them. Call doesn't block on the launch.
func (k *KernelCL) Call(exec *Executor, global []int, args ...any) (backends.Event, error) {
	return k.CallWithOptions(exec, nil, global, nil, args...)
}

// CallWithLocal is like Call, but with an explicit local work size (work-group size).
func (k *KernelCL) CallWithLocal(exec *Executor, global, local []int, args ...any) (backends.Event, error) {
	return k.CallWithOptions(exec, nil, global, local, args...)
}

// CallWithOptions is like CallWithLocal, with the compilation options overridden by overrides for this
// launch. A nil local lets the device choose the local work size.
//
// Each distinct set of options compiles (and caches) its own program.
func (k *KernelCL) CallWithOptions(exec *Executor, overrides Options, global, local []int, args ...any) (backends.Event, error) {
	deviceArgs, accesses, err := getKernelArgs(k.name, k.params, args)
	if err != nil {
		return nil, err
	}
	return k.launch(exec, overrides, global, local, deviceArgs, accesses)
}

func (k *KernelCL) launch(exec *Executor, overrides Options, global, local []int, deviceArgs []any, accesses []BufferAccess) (backends.Event, error) {
	ck, err := k.compile(exec.cache, overrides)
	if err != nil {
		return nil, err
	}
	workSize := backends.WorkSize{Global: global, Local: local}
	return exec.enqueueKernel(ck, workSize, deviceArgs, accesses)
}

// Bind checks and binds the leading arguments of the kernel, returning a BoundKernel that takes the
// remaining ones. It is used when some arguments (e.g. fixed buffers) are known before the others
// (e.g. dimensions that vary per call).
//
// It returns an *ArgumentTypeError if an argument doesn't match its parameter.
func (k *KernelCL) Bind(args ...any) (*BoundKernel, error) {
	staged, err := stageArgs(k.name, k.params, 0, args)
	if err != nil {
		return nil, err
	}
	return &BoundKernel{kernel: k, staged: staged}, nil
}

// BoundKernel is a KernelCL with its leading arguments bound, see KernelCL.Bind.
type BoundKernel struct {
	kernel *KernelCL
	staged []any
}

// NumBound returns the number of arguments already bound.
func (b *BoundKernel) NumBound() int { return len(b.staged) }

// Bind binds more arguments, following the ones already bound. The receiver is not modified.
func (b *BoundKernel) Bind(args ...any) (*BoundKernel, error) {
	staged, err := stageArgs(b.kernel.name, b.kernel.params, len(b.staged), args)
	if err != nil {
		return nil, err
	}
	return &BoundKernel{kernel: b.kernel, staged: slices.Concat(b.staged, staged)}, nil
}

// Call launches the kernel with the bound arguments followed by rest. See KernelCL.Call.
func (b *BoundKernel) Call(exec *Executor, global []int, rest ...any) (backends.Event, error) {
	return b.CallWithLocal(exec, global, nil, rest...)
}

// CallWithLocal launches the kernel with the bound arguments followed by rest, with an explicit local
// work size. See KernelCL.CallWithLocal.
func (b *BoundKernel) CallWithLocal(exec *Executor, global, local []int, rest ...any) (backends.Event, error) {
	k := b.kernel
	staged, err := stageArgs(k.name, k.params, len(b.staged), rest)
	if err != nil {
		return nil, err
	}
	deviceArgs, accesses, err := finalizeArgs(k.name, k.params, slices.Concat(b.staged, staged))
	if err != nil {
		return nil, err
	}
	return k.launch(exec, nil, global, local, deviceArgs, accesses)
}
