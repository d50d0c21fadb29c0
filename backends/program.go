package backends

import (
	"fmt"
	"strings"
)

// Program is a compiled device program, built from source with Backend.BuildProgram.
type Program interface {
	// Kernel returns the kernel for the entry point with the given name.
	// It fails if the program doesn't define such an entry point.
	Kernel(name string) (Kernel, error)

	// BuildLog returns the log emitted by the device compiler, possibly empty.
	BuildLog() string

	// Finalize immediately frees resources associated to the program.
	// Kernels extracted from the program become invalid.
	Finalize()
}

// Kernel is one entry point of a Program, ready to be enqueued with Backend.EnqueueKernel.
type Kernel interface {
	// Name of the entry point.
	Name() string

	// NumArgs is the number of parameters the entry point takes.
	NumArgs() int
}

// Event marks the completion of one enqueued command.
//
// Events are immutable once returned, and can be shared freely: they are referenced by value in
// wait-lists.
type Event interface {
	// Wait blocks until the command completes. It returns the error of the command, if it failed.
	Wait() error

	// Done returns whether the command has completed, without blocking.
	Done() bool

	fmt.Stringer
}

// WaitAll waits for all the given events, and returns the first error found, if any.
func WaitAll(events []Event) error {
	var firstErr error
	for _, event := range events {
		if err := event.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// BuildError is returned by Backend.BuildProgram when the device compiler rejects the source.
type BuildError struct {
	// Log is the build log emitted by the device compiler.
	Log string
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	log := strings.TrimSpace(e.Log)
	if log == "" {
		return "build failed and produced no log entries"
	}
	return fmt.Sprintf("build failed:\n%s", log)
}
