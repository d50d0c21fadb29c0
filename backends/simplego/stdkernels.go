package simplego

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// Implementations of the kernels declared in package github.com/gomlx/kernelcl/kernels/stdkernels.
func init() {
	RegisterKernel("fill", 3, fillKernel)
	RegisterKernel("add", 4, binaryKernel(binaryAdd))
	RegisterKernel("subtract", 4, binaryKernel(binarySubtract))
	RegisterKernel("scalar_multiply", 4, scalarMultiplyKernel)
	RegisterKernel("add_constant", 2, addConstantKernel)
	RegisterKernel("transpose", 4, transposeKernel)
	RegisterKernel("to_half", 3, toHalfKernel)
	RegisterKernel("sum_groups", 3, sumGroupsKernel)
}

// sizeArg reads the `int size` argument at idx, and checks it against the buffer lengths.
func sizeArg(l *Launch, idx int, flats ...[]float64) (int, error) {
	size32, err := ScalarArg[int32](l, idx)
	if err != nil {
		return 0, err
	}
	size := int(size32)
	for _, flat := range flats {
		if len(flat) < size {
			return 0, errors.Errorf("kernel %q size %d is larger than buffer length %d", l.Name, size, len(flat))
		}
	}
	return size, nil
}

// fill(__global double* A, double value, int size)
func fillKernel(l *Launch) (WorkItemFn, error) {
	a, err := FlatArg[float64](l, 0)
	if err != nil {
		return nil, err
	}
	value, err := ScalarArg[float64](l, 1)
	if err != nil {
		return nil, err
	}
	size, err := sizeArg(l, 2, a)
	if err != nil {
		return nil, err
	}
	return func(item WorkItem) {
		if i := item.Global[0]; i < size {
			a[i] = value
		}
	}, nil
}

type binaryOp int

const (
	binaryAdd binaryOp = iota
	binarySubtract
)

func applyBinary[T constraints.Float](op binaryOp, a, b T) T {
	if op == binarySubtract {
		return a - b
	}
	return a + b
}

// binaryKernel for op(__global const T* A, __global const T* B, __global T* C, int size), where T is
// float or double, picked from the dtype of A.
func binaryKernel(op binaryOp) KernelFn {
	return func(l *Launch) (WorkItemFn, error) {
		if buf, ok := l.Args[0].(*Buffer); ok && buf.dtype == dtypes.Float32 {
			return binaryKernelFor[float32](l, op)
		}
		return binaryKernelFor[float64](l, op)
	}
}

func binaryKernelFor[T constraints.Float](l *Launch, op binaryOp) (WorkItemFn, error) {
	var flats [3][]T
	for ii := range flats {
		var err error
		flats[ii], err = FlatArg[T](l, ii)
		if err != nil {
			return nil, err
		}
	}
	size32, err := ScalarArg[int32](l, 3)
	if err != nil {
		return nil, err
	}
	size := int(size32)
	for _, flat := range flats {
		if len(flat) < size {
			return nil, errors.Errorf("kernel %q size %d is larger than buffer length %d", l.Name, size, len(flat))
		}
	}
	a, b, c := flats[0], flats[1], flats[2]
	return func(item WorkItem) {
		if i := item.Global[0]; i < size {
			c[i] = applyBinary(op, a[i], b[i])
		}
	}, nil
}

// scalar_multiply(__global const double* A, __global double* B, double alpha, int size)
func scalarMultiplyKernel(l *Launch) (WorkItemFn, error) {
	a, err := FlatArg[float64](l, 0)
	if err != nil {
		return nil, err
	}
	b, err := FlatArg[float64](l, 1)
	if err != nil {
		return nil, err
	}
	alpha, err := ScalarArg[float64](l, 2)
	if err != nil {
		return nil, err
	}
	size, err := sizeArg(l, 3, a, b)
	if err != nil {
		return nil, err
	}
	return func(item WorkItem) {
		if i := item.Global[0]; i < size {
			b[i] = alpha * a[i]
		}
	}, nil
}

// add_constant(__global double* A, int size), adds the CONSTANT macro in place.
func addConstantKernel(l *Launch) (WorkItemFn, error) {
	constant, err := l.DefineFloat("CONSTANT")
	if err != nil {
		return nil, err
	}
	a, err := FlatArg[float64](l, 0)
	if err != nil {
		return nil, err
	}
	size, err := sizeArg(l, 1, a)
	if err != nil {
		return nil, err
	}
	return func(item WorkItem) {
		if i := item.Global[0]; i < size {
			a[i] += constant
		}
	}, nil
}

// transpose(__global double* B, __global const double* A, int rows, int cols), A is row-major rows x cols.
func transposeKernel(l *Launch) (WorkItemFn, error) {
	b, err := FlatArg[float64](l, 0)
	if err != nil {
		return nil, err
	}
	a, err := FlatArg[float64](l, 1)
	if err != nil {
		return nil, err
	}
	rows, err := ScalarArg[int32](l, 2)
	if err != nil {
		return nil, err
	}
	cols, err := ScalarArg[int32](l, 3)
	if err != nil {
		return nil, err
	}
	n := int(rows) * int(cols)
	if len(a) < n || len(b) < n {
		return nil, errors.Errorf("kernel %q: %dx%d matrix doesn't fit buffers of length %d and %d", l.Name, rows, cols, len(a), len(b))
	}
	return func(item WorkItem) {
		i, j := item.Global[0], item.Global[1]
		if i < int(rows) && j < int(cols) {
			b[j*int(rows)+i] = a[i*int(cols)+j]
		}
	}, nil
}

// to_half(__global const double* A, __global half* B, int size)
func toHalfKernel(l *Launch) (WorkItemFn, error) {
	a, err := FlatArg[float64](l, 0)
	if err != nil {
		return nil, err
	}
	b, err := FlatArg[float16.Float16](l, 1)
	if err != nil {
		return nil, err
	}
	size32, err := ScalarArg[int32](l, 2)
	if err != nil {
		return nil, err
	}
	size := int(size32)
	if len(a) < size || len(b) < size {
		return nil, errors.Errorf("kernel %q size %d is larger than the buffers", l.Name, size)
	}
	return func(item WorkItem) {
		if i := item.Global[0]; i < size {
			b[i] = float16.Fromfloat32(float32(a[i]))
		}
	}, nil
}

// sum_groups(__global double* partial, __global const double* A, int size): each work-group of
// LOCAL_SIZE_ work-items sums its slice of A into partial[group].
func sumGroupsKernel(l *Launch) (WorkItemFn, error) {
	localSize, err := l.DefineInt("LOCAL_SIZE_")
	if err != nil {
		return nil, err
	}
	if l.WorkSize.Local[0] != localSize {
		return nil, errors.Errorf("kernel %q compiled for LOCAL_SIZE_=%d launched with local work size %d",
			l.Name, localSize, l.WorkSize.Local[0])
	}
	partial, err := FlatArg[float64](l, 0)
	if err != nil {
		return nil, err
	}
	a, err := FlatArg[float64](l, 1)
	if err != nil {
		return nil, err
	}
	size, err := sizeArg(l, 2, a)
	if err != nil {
		return nil, err
	}
	numGroups := l.WorkSize.Global[0] / localSize
	if len(partial) < numGroups {
		return nil, errors.Errorf("kernel %q needs %d partial sums, buffer has length %d", l.Name, numGroups, len(partial))
	}
	return func(item WorkItem) {
		if item.Local[0] != 0 {
			return
		}
		g := item.Group[0]
		var sum float64
		for i := g * localSize; i < min((g+1)*localSize, size); i++ {
			sum += a[i]
		}
		partial[g] = sum
	}, nil
}
