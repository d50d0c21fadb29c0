// Package simplego implements a simple, portable, pure Go OpenCL-style device for kernelcl.
//
// It doesn't compile OpenCL C: a program "build" collects the `#define` macros and the `__kernel`
// entry points of the source, and links each entry point to a Go implementation registered with
// RegisterKernel. Commands run asynchronously in goroutines, ordered only by their wait-lists, which
// makes it a faithful stand-in for an out-of-order OpenCL command queue in tests and demos.
package simplego

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gomlx/kernelcl/backends"
	"github.com/gomlx/kernelcl/internal/workerspool"
	"github.com/gomlx/kernelcl/types/xsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName to be used in KERNELCL_BACKEND to specify this backend.
const BackendName = "go"

// DefaultMaxWorkGroupSize is the default maximum number of work-items per work-group.
const DefaultMaxWorkGroupSize = 256

// Registers New() as the constructor for the "go" backend.
func init() {
	backends.Register(BackendName, New)
}

// New constructs a new SimpleGo Backend.
//
// The config is a comma-separated list of "key=value" options:
//
//   - workers: maximum number of work-groups executed in parallel. 0 runs them inline, -1 is unlimited.
//     Defaults to runtime.NumCPU().
//   - max_work_group: maximum number of work-items in a work-group. Defaults to DefaultMaxWorkGroupSize.
//   - build_delay: a duration added to every program build, to simulate a slow device compiler.
func New(config string) (backends.Backend, error) {
	b := newBackend()
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return nil, errors.Errorf("invalid %q backend configuration %q: option %q is not in the format key=value",
				BackendName, config, part)
		}
		var err error
		switch key {
		case "workers":
			var workers int
			workers, err = strconv.Atoi(value)
			if err == nil {
				b.pool = workerspool.NewWithParallelism(workers)
			}
		case "max_work_group":
			b.maxWorkGroupSize, err = strconv.Atoi(value)
			if err == nil && b.maxWorkGroupSize <= 0 {
				err = errors.Errorf("it must be > 0")
			}
		case "build_delay":
			b.buildDelay, err = time.ParseDuration(value)
		default:
			err = errors.Errorf("unknown option")
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "invalid %q backend configuration %q, option %q",
				BackendName, config, key)
		}
	}
	return b, nil
}

func newBackend() *Backend {
	return &Backend{
		pool:             workerspool.New(),
		maxWorkGroupSize: DefaultMaxWorkGroupSize,
		pending:          xsync.NewPending(),
	}
}

// Backend implements the backends.Backend interface.
type Backend struct {
	pool             *workerspool.Pool
	maxWorkGroupSize int
	buildDelay       time.Duration

	// pending counts commands enqueued and not yet completed.
	pending *xsync.Pending

	// bufferPools are a map to pools of flat storage that can be reused.
	// The underlying type is map[bufferPoolKey]*sync.Pool.
	bufferPools sync.Map

	numBuilds, numCommands, nextEventID atomic.Int64
	finalized                           atomic.Bool
}

// Compile-time check that simplego.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return "SimpleGo (go)"
}

// String implements fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return "Simple Go OpenCL-style reference device"
}

// MaxWorkGroupSize implements backends.Backend.
func (b *Backend) MaxWorkGroupSize() int {
	return b.maxWorkGroupSize
}

// NumBuilds returns the number of programs built by the backend so far.
func (b *Backend) NumBuilds() int {
	return int(b.numBuilds.Load())
}

// NumCommands returns the number of commands (kernels and buffer transfers) enqueued so far.
func (b *Backend) NumCommands() int {
	return int(b.numCommands.Load())
}

// Finish blocks until every command enqueued so far has completed.
func (b *Backend) Finish() {
	b.pending.Wait()
}

// Finalize waits for pending commands and makes the backend invalid.
func (b *Backend) Finalize() {
	if b.finalized.Swap(true) {
		return
	}
	if n := b.pending.Count(); n > 0 {
		klog.V(1).Infof("simplego: finalizing backend with %d pending commands, waiting for them", n)
	}
	b.pending.Wait()
	b.bufferPools.Clear()
}

func (b *Backend) checkOk() error {
	if b.finalized.Load() {
		return errors.New("backend \"go\" has already been finalized")
	}
	return nil
}
