// Package stdkernels declares a small set of elementwise and reduction kernels over double precision
// buffers, usable with any backend that can build them.
//
// The sizes are passed as int32 (OpenCL `int`), and every kernel guards its work-items against the size,
// so the global work size may be rounded up.
package stdkernels

import "github.com/gomlx/kernelcl/kernels"

const fillSource = `
__kernel void fill(__global double* A, double value, int size) {
  const int i = get_global_id(0);
  if (i < size) {
    A[i] = value;
  }
}
`

// Fill sets A[i] = value: fill(out A, value float64, size int32).
var Fill = kernels.New("fill", []string{fillSource}, nil,
	kernels.OutBuffer{}, kernels.Scalar[float64]{}, kernels.Scalar[int32]{})

const addSource = `
__kernel void add(__global const double* A, __global const double* B, __global double* C, int size) {
  const int i = get_global_id(0);
  if (i < size) {
    C[i] = A[i] + B[i];
  }
}
`

// Add sets C = A + B: add(in A, in B, out C, size int32).
var Add = kernels.New("add", []string{addSource}, nil,
	kernels.InBuffer{}, kernels.InBuffer{}, kernels.OutBuffer{}, kernels.Scalar[int32]{})

const subtractSource = `
__kernel void subtract(__global const double* A, __global const double* B, __global double* C, int size) {
  const int i = get_global_id(0);
  if (i < size) {
    C[i] = A[i] - B[i];
  }
}
`

// Subtract sets C = A - B: subtract(in A, in B, out C, size int32).
var Subtract = kernels.New("subtract", []string{subtractSource}, nil,
	kernels.InBuffer{}, kernels.InBuffer{}, kernels.OutBuffer{}, kernels.Scalar[int32]{})

const scalarMultiplySource = `
__kernel void scalar_multiply(__global const double* A, __global double* B, double alpha, int size) {
  const int i = get_global_id(0);
  if (i < size) {
    B[i] = alpha * A[i];
  }
}
`

// ScalarMultiply sets B = alpha * A: scalar_multiply(in A, out B, alpha float64, size int32).
var ScalarMultiply = kernels.New("scalar_multiply", []string{scalarMultiplySource}, nil,
	kernels.InBuffer{}, kernels.OutBuffer{}, kernels.Scalar[float64]{}, kernels.Scalar[int32]{})

const addConstantSource = `
__kernel void add_constant(__global double* A, int size) {
  const int i = get_global_id(0);
  if (i < size) {
    A[i] += CONSTANT;
  }
}
`

// AddConstant adds the compile-time option CONSTANT (default "1") to A in place:
// add_constant(in_out A, size int32).
//
// Each distinct CONSTANT given with KernelCL.CallWithOptions compiles its own program.
var AddConstant = kernels.New("add_constant", []string{addConstantSource}, kernels.Options{"CONSTANT": "1"},
	kernels.InOutBuffer{}, kernels.Scalar[int32]{})

const transposeSource = `
__kernel void transpose(__global double* B, __global const double* A, int rows, int cols) {
  const int i = get_global_id(0);
  const int j = get_global_id(1);
  if (i < rows && j < cols) {
    B[j * rows + i] = A[i * cols + j];
  }
}
`

// Transpose writes the transpose of the row-major rows x cols matrix A to B:
// transpose(out B, in A, rows int32, cols int32). It's launched on a 2D global size {rows, cols}.
var Transpose = kernels.New("transpose", []string{transposeSource}, nil,
	kernels.OutBuffer{}, kernels.InBuffer{}, kernels.Scalar[int32]{}, kernels.Scalar[int32]{})

const toHalfSource = `
#pragma OPENCL EXTENSION cl_khr_fp16 : enable
__kernel void to_half(__global const double* A, __global half* B, int size) {
  const int i = get_global_id(0);
  if (i < size) {
    B[i] = (half)A[i];
  }
}
`

// ToHalf converts A to half precision into B (a Float16 buffer): to_half(in A, out B, size int32).
var ToHalf = kernels.New("to_half", []string{toHalfSource}, nil,
	kernels.InBuffer{}, kernels.OutBuffer{}, kernels.Scalar[int32]{})

const sumGroupsSource = `
__kernel void sum_groups(__global double* partial, __global const double* A, int size) {
  __local double local_sum[LOCAL_SIZE_];
  const int gid = get_global_id(0);
  const int lid = get_local_id(0);
  local_sum[lid] = gid < size ? A[gid] : 0;
  barrier(CLK_LOCAL_MEM_FENCE);
  for (int step = LOCAL_SIZE_ / 2; step > 0; step /= 2) {
    if (lid < step) {
      local_sum[lid] += local_sum[lid + step];
    }
    barrier(CLK_LOCAL_MEM_FENCE);
  }
  if (lid == 0) {
    partial[get_group_id(0)] = local_sum[0];
  }
}
`

// SumGroups sums each work-group's slice of A into partial[group]:
// sum_groups(out partial, in A, size int32).
//
// It must be launched with a local work size equal to its option LOCAL_SIZE_ (default "64"), see Sum.
var SumGroups = kernels.New("sum_groups", []string{sumGroupsSource}, kernels.Options{"LOCAL_SIZE_": "64"},
	kernels.OutBuffer{}, kernels.InBuffer{}, kernels.Scalar[int32]{})

// All the kernels of the package.
var All = []*kernels.KernelCL{Fill, Add, Subtract, ScalarMultiply, AddConstant, Transpose, ToHalf, SumGroups}
