package backends

import (
	"fmt"

	"github.com/pkg/errors"
)

// MaxWorkDimensions is the maximum number of dimensions of a WorkSize.
const MaxWorkDimensions = 3

// WorkSize describes how many work-items execute a kernel (Global), and how they are grouped
// in work-groups (Local).
//
// Local is optional: if it is nil the backend chooses the grouping.
type WorkSize struct {
	Global, Local []int
}

// Dims returns the number of dimensions of the work size.
func (ws WorkSize) Dims() int { return len(ws.Global) }

// NumWorkItems returns the total number of work-items (the product of the global sizes).
func (ws WorkSize) NumWorkItems() int {
	n := 1
	for _, dim := range ws.Global {
		n *= dim
	}
	return n
}

// LocalWorkItems returns the number of work-items in a work-group, or 0 if Local is not set.
func (ws WorkSize) LocalWorkItems() int {
	if ws.Local == nil {
		return 0
	}
	n := 1
	for _, dim := range ws.Local {
		n *= dim
	}
	return n
}

// Validate checks that the work size is valid for a device with the given maximum work-group size.
// If maxWorkGroupSize <= 0 the work-group size is not checked against a device limit.
func (ws WorkSize) Validate(maxWorkGroupSize int) error {
	if len(ws.Global) == 0 || len(ws.Global) > MaxWorkDimensions {
		return errors.Errorf("invalid work dimensions: global work size has %d dimensions, it must have between 1 and %d",
			len(ws.Global), MaxWorkDimensions)
	}
	for axis, dim := range ws.Global {
		if dim <= 0 {
			return errors.Errorf("invalid global work size %v: dimension %d is %d", ws.Global, axis, dim)
		}
	}
	if ws.Local == nil {
		return nil
	}
	if len(ws.Local) != len(ws.Global) {
		return errors.Errorf("invalid work-group size: local work size %v has %d dimensions, but global work size %v has %d",
			ws.Local, len(ws.Local), ws.Global, len(ws.Global))
	}
	for axis, dim := range ws.Local {
		if dim <= 0 {
			return errors.Errorf("invalid work-group size %v: dimension %d is %d", ws.Local, axis, dim)
		}
		if ws.Global[axis]%dim != 0 {
			return errors.Errorf("invalid work-group size: global size %d is not divisible by local size %d in dimension %d",
				ws.Global[axis], dim, axis)
		}
	}
	if maxWorkGroupSize > 0 && ws.LocalWorkItems() > maxWorkGroupSize {
		return errors.Errorf("invalid work-group size %v: %d work-items exceed the device maximum of %d",
			ws.Local, ws.LocalWorkItems(), maxWorkGroupSize)
	}
	return nil
}

// String implements fmt.Stringer.
func (ws WorkSize) String() string {
	if ws.Local == nil {
		return fmt.Sprintf("global=%v", ws.Global)
	}
	return fmt.Sprintf("global=%v local=%v", ws.Global, ws.Local)
}
