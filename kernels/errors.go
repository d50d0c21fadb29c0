package kernels

import (
	"fmt"
	"strings"
)

// CompilationError is returned when the device fails to build a kernel program.
// Log holds the device build log.
type CompilationError struct {
	Kernel string
	Log    string
	Err    error
}

// Error implements the error interface.
func (e *CompilationError) Error() string {
	log := strings.TrimSpace(e.Log)
	if log == "" {
		return fmt.Sprintf("failed to compile kernel %q: %v", e.Kernel, e.Err)
	}
	return fmt.Sprintf("failed to compile kernel %q, build log:\n%s", e.Kernel, log)
}

// Unwrap returns the underlying device error.
func (e *CompilationError) Unwrap() error { return e.Err }

// Cause returns the underlying device error, for github.com/pkg/errors.Cause.
func (e *CompilationError) Cause() error { return e.Err }

// ArgumentTypeError is returned when an argument cannot be passed to the kernel parameter
// at Position. It is always a bug in the caller.
type ArgumentTypeError struct {
	Kernel   string
	Position int
	Param    Param // nil if the error is about the number of arguments.
	Got      string
	Reason   error
}

// Error implements the error interface.
func (e *ArgumentTypeError) Error() string {
	if e.Param == nil {
		return fmt.Sprintf("kernel %q: %v", e.Kernel, e.Reason)
	}
	return fmt.Sprintf("kernel %q argument #%d (%s): got %s, %v", e.Kernel, e.Position, e.Param, e.Got, e.Reason)
}

// Unwrap returns the reason of the error.
func (e *ArgumentTypeError) Unwrap() error { return e.Reason }

// EnqueueError is returned when the device rejects a launch (invalid work size, resource limits, ...).
// When it is returned, the launch was not enqueued and no dependency tracking was updated.
type EnqueueError struct {
	Kernel string
	Err    error
}

// Error implements the error interface.
func (e *EnqueueError) Error() string {
	return fmt.Sprintf("failed to enqueue kernel %q: %v", e.Kernel, e.Err)
}

// Unwrap returns the underlying device error.
func (e *EnqueueError) Unwrap() error { return e.Err }

// Cause returns the underlying device error, for github.com/pkg/errors.Cause.
func (e *EnqueueError) Cause() error { return e.Err }
