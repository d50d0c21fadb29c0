package kernels

import (
	"reflect"

	"github.com/gomlx/kernelcl/backends"
	"github.com/pkg/errors"
)

// BufferHolder is implemented by host-side containers (matrices, vectors) that wrap a device buffer.
// Kernel arguments implementing it are replaced by their underlying buffer.
type BufferHolder interface {
	DeviceBuffer() backends.Buffer
}

// BufferAccess is one access of a kernel launch (or host transfer) to a buffer, with its role.
type BufferAccess struct {
	Buffer backends.Buffer
	Role   Role
}

// convertBuffer strips host wrappers and checks that arg can be used as a buffer handle.
func convertBuffer(arg any) (any, error) {
	if holder, ok := arg.(BufferHolder); ok {
		arg = holder.DeviceBuffer()
	}
	if arg == nil {
		return nil, errors.New("nil buffer")
	}
	argV := reflect.ValueOf(arg)
	switch argV.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return nil, errors.New("a scalar value is not a buffer handle")
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Chan, reflect.Func, reflect.Slice:
		if argV.IsNil() {
			return nil, errors.New("nil buffer")
		}
	}
	if !argV.Type().Comparable() {
		return nil, errors.New("buffer handles must be comparable (usually a pointer)")
	}
	return arg, nil
}

// convertScalar converts arg to T, if it is T or a Go number exactly representable as T.
func convertScalar[T ScalarType](arg any) (any, error) {
	if v, ok := arg.(T); ok {
		return v, nil
	}
	var t T
	targetT := reflect.TypeOf(t)
	argV := reflect.ValueOf(arg)
	switch argV.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
	default:
		return nil, errors.Errorf("cannot be represented as a %s", targetT)
	}
	converted := argV.Convert(targetT)
	if roundTrip := converted.Convert(argV.Type()); roundTrip.Interface() != arg {
		// NaN never compares equal, but it is representable by any float type.
		if !isNaN(argV) || !isFloatKind(targetT.Kind()) {
			return nil, errors.Errorf("value %v is not exactly representable as a %s", arg, targetT)
		}
	}
	return converted.Interface(), nil
}

func isFloatKind(kind reflect.Kind) bool {
	return kind == reflect.Float32 || kind == reflect.Float64
}

func isNaN(v reflect.Value) bool {
	return isFloatKind(v.Kind()) && v.Float() != v.Float()
}

// stageArgs checks and converts the raw arguments for the parameters starting at position offset.
//
// It is used for intermediate staged construction, when a kernel is partially bound (see KernelCL.Bind),
// and by finalizeArgs for the whole list.
func stageArgs(kernelName string, params []Param, offset int, raw []any) ([]any, error) {
	if offset+len(raw) > len(params) {
		return nil, &ArgumentTypeError{
			Kernel:   kernelName,
			Position: len(params),
			Got:      goTypeName(raw[len(params)-offset]),
			Reason:   errors.Errorf("too many arguments: kernel takes %d, got %d", len(params), offset+len(raw)),
		}
	}
	staged := make([]any, len(raw))
	for ii, arg := range raw {
		position := offset + ii
		param := params[position]
		converted, err := param.convert(arg)
		if err != nil {
			return nil, &ArgumentTypeError{
				Kernel:   kernelName,
				Position: position,
				Param:    param,
				Got:      goTypeName(arg),
				Reason:   err,
			}
		}
		staged[ii] = converted
	}
	return staged, nil
}

// finalizeArgs is the last step of the argument binding: it checks that every parameter received an
// argument, and returns the device call arguments and the buffer accesses of the launch.
//
// The staged arguments must have been converted by stageArgs already.
func finalizeArgs(kernelName string, params []Param, staged []any) (deviceArgs []any, accesses []BufferAccess, err error) {
	if len(staged) != len(params) {
		return nil, nil, &ArgumentTypeError{
			Kernel:   kernelName,
			Position: len(staged),
			Reason:   errors.Errorf("missing arguments: kernel takes %d, got %d", len(params), len(staged)),
		}
	}
	deviceArgs = make([]any, len(staged))
	copy(deviceArgs, staged)
	for ii, param := range params {
		if isBufferParam(param) {
			accesses = append(accesses, BufferAccess{Buffer: staged[ii], Role: param.Role()})
		}
	}
	return deviceArgs, accesses, nil
}

// getKernelArgs converts and finalizes a complete argument list.
func getKernelArgs(kernelName string, params []Param, raw []any) (deviceArgs []any, accesses []BufferAccess, err error) {
	staged, err := stageArgs(kernelName, params, 0, raw)
	if err != nil {
		return nil, nil, err
	}
	return finalizeArgs(kernelName, params, staged)
}
