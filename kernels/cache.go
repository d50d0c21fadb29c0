package kernels

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/kernelcl/backends"
	"github.com/gomlx/kernelcl/types/xsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// CompiledKernel is a kernel entry point extracted from a program built by a ProgramCache.
type CompiledKernel struct {
	// Name of the kernel entry point.
	Name string

	// Program the kernel was extracted from. Kernels compiled from the same sources and options share it.
	Program backends.Program

	// Kernel is the device kernel, ready to be enqueued.
	Kernel backends.Kernel

	// Source is the full program source: the options preamble followed by the sources. It is the cache key.
	Source string

	generation int64
}

// ProgramCache compiles kernel programs once per distinct (sources, options) and keeps them.
//
// There should be one ProgramCache per backend (device). It is safe for concurrent use: concurrent
// requests for a program not yet built wait for one single build.
type ProgramCache struct {
	backend backends.Backend

	mu         sync.Mutex
	programs   map[string]*programEntry
	generation atomic.Int64
	numBuilds  atomic.Int64
}

type buildResult struct {
	program backends.Program
	err     error
}

type programEntry struct {
	built *xsync.LatchWithValue[buildResult]

	muKernels sync.Mutex
	kernels   map[string]backends.Kernel
}

// NewProgramCache creates an empty cache of programs for the backend.
func NewProgramCache(backend backends.Backend) *ProgramCache {
	return &ProgramCache{
		backend:  backend,
		programs: make(map[string]*programEntry),
	}
}

// Backend returns the backend programs are built on.
func (c *ProgramCache) Backend() backends.Backend {
	return c.backend
}

// ProgramSource returns the full source compiled for the given sources and options: the options
// `#define` preamble followed by the sources concatenated in order.
func ProgramSource(sources []string, options Options) string {
	var sb strings.Builder
	sb.WriteString(options.Preamble())
	for _, source := range sources {
		sb.WriteString(source)
		if !strings.HasSuffix(source, "\n") {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// CompileKernel returns the kernel entry point name of the program built from sources and options.
//
// The program is built only the first time a (sources, options) pair is requested, later requests
// (including with another entry-point name) reuse it. If the build fails a *CompilationError with the
// device build log is returned, and the failure is not cached: a later request builds again.
func (c *ProgramCache) CompileKernel(name string, sources []string, options Options) (*CompiledKernel, error) {
	source := ProgramSource(sources, options)
	generation := c.generation.Load()

	c.mu.Lock()
	entry, found := c.programs[source]
	if !found {
		entry = &programEntry{
			built:   xsync.NewLatchWithValue[buildResult](),
			kernels: make(map[string]backends.Kernel),
		}
		c.programs[source] = entry
	}
	c.mu.Unlock()
	if !found {
		c.build(name, source, entry)
	}

	result := entry.built.Wait()
	if result.err != nil {
		compileErr := &CompilationError{Kernel: name, Err: result.err}
		var buildErr *backends.BuildError
		if errors.As(result.err, &buildErr) {
			compileErr.Log = buildErr.Log
		}
		return nil, compileErr
	}
	kernel, err := entry.kernel(result.program, name)
	if err != nil {
		return nil, &CompilationError{Kernel: name, Err: err}
	}
	return &CompiledKernel{
		Name:       name,
		Program:    result.program,
		Kernel:     kernel,
		Source:     source,
		generation: generation,
	}, nil
}

// build the program for entry, and publishes the result to anyone waiting on it.
// Failed builds are removed from the cache.
func (c *ProgramCache) build(name, source string, entry *programEntry) {
	start := time.Now()
	c.numBuilds.Add(1)
	var result buildResult
	exception := exceptions.Try(func() {
		result.program, result.err = c.backend.BuildProgram(source)
	})
	if exception != nil {
		if err, ok := exception.(error); ok {
			result.err = errors.WithMessage(err, "device compiler panicked")
		} else {
			result.err = errors.Errorf("device compiler panicked: %v", exception)
		}
	}
	if result.err != nil {
		klog.Warningf("kernels: failed to build program for kernel %q: %v", name, result.err)
		c.mu.Lock()
		if c.programs[source] == entry {
			delete(c.programs, source)
		}
		c.mu.Unlock()
	} else {
		klog.V(1).Infof("kernels: built program for kernel %q (%d bytes of source) in %s", name, len(source), time.Since(start))
	}
	entry.built.Trigger(result)
}

// kernel returns the cached entry point name of the program, creating it the first time.
func (e *programEntry) kernel(program backends.Program, name string) (backends.Kernel, error) {
	e.muKernels.Lock()
	defer e.muKernels.Unlock()
	if kernel, found := e.kernels[name]; found {
		return kernel, nil
	}
	kernel, err := program.Kernel(name)
	if err != nil {
		return nil, err
	}
	e.kernels[name] = kernel
	return kernel, nil
}

// isCurrent returns whether the compiled kernel was created after the last Reset.
func (c *ProgramCache) isCurrent(ck *CompiledKernel) bool {
	return ck.generation == c.generation.Load()
}

// NumPrograms returns the number of programs in the cache, including those being built.
func (c *ProgramCache) NumPrograms() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.programs)
}

// NumBuilds returns how many program builds the cache started, including failed ones.
func (c *ProgramCache) NumBuilds() int {
	return int(c.numBuilds.Load())
}

// Reset finalizes and drops every cached program. Kernels compiled before must not be used anymore.
//
// Programs still being built are dropped from the cache but not finalized.
func (c *ProgramCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation.Add(1)
	for _, entry := range c.programs {
		if !entry.built.Test() {
			continue
		}
		if result := entry.built.Wait(); result.err == nil {
			result.program.Finalize()
		}
	}
	klog.V(1).Infof("kernels: program cache reset, %d programs dropped", len(c.programs))
	c.programs = make(map[string]*programEntry)
}
