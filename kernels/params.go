package kernels

import (
	"fmt"
	"reflect"
)

// Role of a kernel parameter with respect to the buffer it receives: whether the kernel reads it,
// writes it, or both. It determines which earlier events a launch must wait on, and how the launch's
// event is recorded for the buffer.
type Role uint8

const (
	// RoleNone is the role of scalar parameters: they don't touch device memory.
	RoleNone Role = 0

	// RoleRead is the role of buffers read by the kernel.
	RoleRead Role = 1

	// RoleWrite is the role of buffers written by the kernel.
	RoleWrite Role = 2

	// RoleReadWrite is the role of buffers both read and written by the kernel.
	RoleReadWrite = RoleRead | RoleWrite
)

// Reads returns whether the role includes reading.
func (r Role) Reads() bool { return r&RoleRead != 0 }

// Writes returns whether the role includes writing.
func (r Role) Writes() bool { return r&RoleWrite != 0 }

// String implements fmt.Stringer.
func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleRead:
		return "read"
	case RoleWrite:
		return "write"
	case RoleReadWrite:
		return "read-write"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// Param describes a kernel parameter. It is a closed set: InBuffer, OutBuffer, InOutBuffer and Scalar.
//
// Params are zero-size values whose Role is fixed by their type.
type Param interface {
	// Role of the parameter.
	Role() Role

	// String returns the name of the parameter kind, as used in error messages.
	String() string

	// convert checks and converts a raw argument for this parameter into the value passed to the device.
	convert(arg any) (any, error)
}

// InBuffer is a buffer parameter only read by the kernel (an `in_buffer`).
type InBuffer struct{}

// Role implements Param.
func (InBuffer) Role() Role { return RoleRead }

// String implements Param.
func (InBuffer) String() string { return "in_buffer" }

func (InBuffer) convert(arg any) (any, error) { return convertBuffer(arg) }

// OutBuffer is a buffer parameter only written by the kernel (an `out_buffer`).
type OutBuffer struct{}

// Role implements Param.
func (OutBuffer) Role() Role { return RoleWrite }

// String implements Param.
func (OutBuffer) String() string { return "out_buffer" }

func (OutBuffer) convert(arg any) (any, error) { return convertBuffer(arg) }

// InOutBuffer is a buffer parameter read and written by the kernel (an `in_out_buffer`).
type InOutBuffer struct{}

// Role implements Param.
func (InOutBuffer) Role() Role { return RoleReadWrite }

// String implements Param.
func (InOutBuffer) String() string { return "in_out_buffer" }

func (InOutBuffer) convert(arg any) (any, error) { return convertBuffer(arg) }

// ScalarType are the Go types that can be passed by value to a kernel.
type ScalarType interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64
}

// Scalar is a parameter passed by value, of type T. E.g. `Scalar[int32]{}` for an OpenCL `int`.
type Scalar[T ScalarType] struct{}

// Role implements Param.
func (Scalar[T]) Role() Role { return RoleNone }

// String implements Param.
func (Scalar[T]) String() string {
	var t T
	return fmt.Sprintf("scalar %T", t)
}

func (Scalar[T]) convert(arg any) (any, error) { return convertScalar[T](arg) }

// Compile-time checks that the tags implement Param.
var (
	_ Param = InBuffer{}
	_ Param = OutBuffer{}
	_ Param = InOutBuffer{}
	_ Param = Scalar[float64]{}
)

// isBufferParam returns whether the parameter receives a buffer.
func isBufferParam(p Param) bool {
	switch p.(type) {
	case InBuffer, OutBuffer, InOutBuffer:
		return true
	default:
		return false
	}
}

// goTypeName of a value, for error messages.
func goTypeName(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}
