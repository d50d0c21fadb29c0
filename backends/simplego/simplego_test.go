// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kernelcl/backends"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

var backend *Backend

func init() {
	klog.InitFlags(nil)
}

func setup() {
	fmt.Printf("Available backends: %q\n", backends.List())
	backend = must.M1(New("workers=4,max_work_group=64")).(*Backend)
	fmt.Printf("Backend: %s, %s\n", backend.Name(), backend.Description())
}

func teardown() {
	backend.Finalize()
}

func TestMain(m *testing.M) {
	setup()
	code := m.Run() // Run all tests in the file
	teardown()
	os.Exit(code)
}

const addSource = `
__kernel void add(__global const double* A, __global const double* B,
                  __global double* C, const int size) {
  const int i = get_global_id(0);
  if (i < size) {
    C[i] = A[i] + B[i];
  }
}
`

func newFloat64Buffer(t *testing.T, values []float64) *Buffer {
	buf, err := backend.NewBuffer(dtypes.Float64, len(values))
	require.NoError(t, err)
	ev, err := backend.EnqueueWriteBuffer(buf, values, nil)
	require.NoError(t, err)
	require.NoError(t, ev.Wait())
	return buf.(*Buffer)
}

func readFloat64(t *testing.T, buf backends.Buffer, waitList ...backends.Event) []float64 {
	length := must.M1(backend.BufferLength(buf))
	flat := make([]float64, length)
	ev, err := backend.EnqueueReadBuffer(buf, flat, waitList)
	require.NoError(t, err)
	require.NoError(t, ev.Wait())
	return flat
}

func TestNew(t *testing.T) {
	b, err := New("")
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxWorkGroupSize, b.MaxWorkGroupSize())
	b.Finalize()

	_, err = New("workers=x")
	require.Error(t, err)
	_, err = New("max_work_group=0")
	require.Error(t, err)
	_, err = New("unknown=1")
	require.Error(t, err)
	_, err = New("workers")
	require.Error(t, err)

	b, err = backends.NewWithConfig("go:workers=0,build_delay=1ms")
	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, b.(*Backend).buildDelay)
	b.Finalize()
}

func TestBuildProgram(t *testing.T) {
	source := "#define CONSTANT 3\n#define LOCAL_SIZE_ 8\n" + addSource
	program, err := backend.BuildProgram(source)
	require.NoError(t, err)
	p := program.(*Program)
	assert.Equal(t, map[string]string{"CONSTANT": "3", "LOCAL_SIZE_": "8"}, p.Defines())
	kernel, err := program.Kernel("add")
	require.NoError(t, err)
	assert.Equal(t, "add", kernel.Name())
	assert.Equal(t, 4, kernel.NumArgs())
	_, err = program.Kernel("subtract")
	require.Error(t, err)

	// Redefinition is a warning in the log, not an error.
	program, err = backend.BuildProgram("#define X 1\n#define X 2\n" + addSource)
	require.NoError(t, err)
	assert.Contains(t, program.BuildLog(), "macro redefined")
	assert.Equal(t, "2", program.(*Program).Defines()["X"])
}

func TestBuildProgramErrors(t *testing.T) {
	testCases := map[string]struct {
		source, log string
	}{
		"error directive":   {"#error LOCAL_SIZE_ must be defined\n" + addSource, "<source>:1: error: LOCAL_SIZE_ must be defined"},
		"no implementation": {"__kernel void not_there(__global double* A) {}", `kernel "not_there" has no implementation`},
		"wrong arity":       {"__kernel void add(__global double* A, int size) {}", "declares 2 parameters, its implementation takes 4"},
		"no entry points":   {"#define A 1\n", "no kernel entry points"},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := backend.BuildProgram(tc.source)
			require.Error(t, err)
			var buildErr *backends.BuildError
			require.ErrorAs(t, err, &buildErr)
			assert.Contains(t, buildErr.Log, tc.log)
		})
	}
}

func TestEnqueueKernel(t *testing.T) {
	program := must.M1(backend.BuildProgram(addSource))
	kernel := must.M1(program.Kernel("add"))
	a := newFloat64Buffer(t, []float64{1, 2, 3, 4, 5})
	b := newFloat64Buffer(t, []float64{10, 20, 30, 40, 50})
	c := must.M1(backend.NewBuffer(dtypes.Float64, 5))

	// Global size larger than the data: the kernel guards with size.
	ev, err := backend.EnqueueKernel(kernel, backends.WorkSize{Global: []int{8}, Local: []int{4}},
		[]any{a, b, c, int32(5)}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 22, 33, 44, 55}, readFloat64(t, c, ev))

	// Rejected launches.
	_, err = backend.EnqueueKernel(kernel, backends.WorkSize{Global: []int{8}, Local: []int{3}},
		[]any{a, b, c, int32(5)}, nil)
	require.ErrorContains(t, err, "not divisible")
	_, err = backend.EnqueueKernel(kernel, backends.WorkSize{Global: []int{256}, Local: []int{128}},
		[]any{a, b, c, int32(5)}, nil)
	require.ErrorContains(t, err, "exceed the device maximum")
	_, err = backend.EnqueueKernel(kernel, backends.WorkSize{Global: []int{8}}, []any{a, b, c}, nil)
	require.ErrorContains(t, err, "takes 4 arguments, 3 given")
	_, err = backend.EnqueueKernel(kernel, backends.WorkSize{Global: []int{8}}, []any{a, b, c, "5"}, nil)
	require.ErrorContains(t, err, "cannot be passed to a kernel")

	// Failure inside the kernel (wrong scalar type) fails the event, not the enqueue.
	ev, err = backend.EnqueueKernel(kernel, backends.WorkSize{Global: []int{8}}, []any{a, b, c, int64(5)}, nil)
	require.NoError(t, err)
	require.ErrorContains(t, ev.Wait(), "must be a int32")
}

func TestWaitListOrdering(t *testing.T) {
	program := must.M1(backend.BuildProgram(addSource))
	kernel := must.M1(program.Kernel("add"))
	a := newFloat64Buffer(t, []float64{1, 1})
	b := newFloat64Buffer(t, []float64{2, 2})
	c := must.M1(backend.NewBuffer(dtypes.Float64, 2))

	gate := backend.NewUserEvent("gate")
	ev := must.M1(backend.EnqueueKernel(kernel, backends.WorkSize{Global: []int{2}}, []any{a, b, c, int32(2)},
		[]backends.Event{gate}))
	time.Sleep(10 * time.Millisecond)
	assert.False(t, ev.Done(), "kernel must not run before its wait-list completes")
	gate.Complete(nil)
	require.NoError(t, ev.Wait())
	assert.Equal(t, []float64{3, 3}, readFloat64(t, c))

	// Failed dependencies propagate, and the command is not executed.
	gate = backend.NewUserEvent("failing gate")
	ev = must.M1(backend.EnqueueKernel(kernel, backends.WorkSize{Global: []int{2}}, []any{a, a, c, int32(2)},
		[]backends.Event{gate}))
	gate.Complete(fmt.Errorf("upstream failure"))
	require.ErrorContains(t, ev.Wait(), "upstream failure")
	assert.Equal(t, []float64{3, 3}, readFloat64(t, c))

	require.Panics(t, func() { ev.(*Event).Complete(nil) })
}

func TestStdKernels(t *testing.T) {
	source := `#define LOCAL_SIZE_ 4
#define CONSTANT 0.5
__kernel void transpose(__global double* B, __global const double* A, int rows, int cols) {}
__kernel void to_half(__global const double* A, __global half* B, int size) {}
__kernel void sum_groups(__global double* partial, __global const double* A, int size) {}
__kernel void add_constant(__global double* A, int size) {}
`
	program := must.M1(backend.BuildProgram(source))

	// transpose 2x3 -> 3x2
	a := newFloat64Buffer(t, []float64{1, 2, 3, 4, 5, 6})
	b := must.M1(backend.NewBuffer(dtypes.Float64, 6))
	ev := must.M1(backend.EnqueueKernel(must.M1(program.Kernel("transpose")),
		backends.WorkSize{Global: []int{2, 3}}, []any{b, a, int32(2), int32(3)}, nil))
	assert.Equal(t, []float64{1, 4, 2, 5, 3, 6}, readFloat64(t, b, ev))

	// to_half
	h := must.M1(backend.NewBuffer(dtypes.Float16, 6))
	ev = must.M1(backend.EnqueueKernel(must.M1(program.Kernel("to_half")),
		backends.WorkSize{Global: []int{6}}, []any{a, h, int32(6)}, nil))
	halves := make([]float16.Float16, 6)
	ev = must.M1(backend.EnqueueReadBuffer(h, halves, []backends.Event{ev}))
	require.NoError(t, ev.Wait())
	assert.Equal(t, float32(5), halves[4].Float32())

	// sum_groups: 6 elements in groups of 4 -> 2 partial sums.
	partial := must.M1(backend.NewBuffer(dtypes.Float64, 2))
	ev = must.M1(backend.EnqueueKernel(must.M1(program.Kernel("sum_groups")),
		backends.WorkSize{Global: []int{8}, Local: []int{4}}, []any{partial, a, int32(6)}, nil))
	assert.Equal(t, []float64{10, 11}, readFloat64(t, partial, ev))

	// add_constant, in place.
	ev = must.M1(backend.EnqueueKernel(must.M1(program.Kernel("add_constant")),
		backends.WorkSize{Global: []int{6}}, []any{a, int32(6)}, nil))
	assert.Equal(t, []float64{1.5, 2.5, 3.5, 4.5, 5.5, 6.5}, readFloat64(t, a, ev))
}

func TestBinaryKernelsFloat32(t *testing.T) {
	source := `__kernel void subtract(__global const float* A, __global const float* B, __global float* C, int size) {}`
	program := must.M1(backend.BuildProgram(source))
	var bufs [3]backends.Buffer
	for ii := range bufs {
		bufs[ii] = must.M1(backend.NewBuffer(dtypes.Float32, 4))
	}
	must.M1(backend.EnqueueWriteBuffer(bufs[0], []float32{10, 20, 30, 40}, nil))
	must.M1(backend.EnqueueWriteBuffer(bufs[1], []float32{1, 2, 3, 4}, nil))
	backend.Finish()
	ev := must.M1(backend.EnqueueKernel(must.M1(program.Kernel("subtract")),
		backends.WorkSize{Global: []int{4}}, []any{bufs[0], bufs[1], bufs[2], int32(4)}, nil))
	got := make([]float32, 4)
	ev = must.M1(backend.EnqueueReadBuffer(bufs[2], got, []backends.Event{ev}))
	require.NoError(t, ev.Wait())
	assert.Equal(t, []float32{9, 18, 27, 36}, got)
}

func TestBuffers(t *testing.T) {
	_, err := backend.NewBuffer(dtypes.Float64, 0)
	require.Error(t, err)
	_, err = backend.NewBuffer(dtypes.Bool, 3)
	require.Error(t, err)

	buf := must.M1(backend.NewBuffer(dtypes.Int32, 3))
	assert.Equal(t, dtypes.Int32, must.M1(backend.BufferDType(buf)))
	_, err = backend.EnqueueWriteBuffer(buf, []float64{1, 2, 3}, nil)
	require.ErrorContains(t, err, "must be a []int32")
	_, err = backend.EnqueueWriteBuffer(buf, []int32{1, 2}, nil)
	require.ErrorContains(t, err, "must have length 3")

	require.NoError(t, backend.BufferFinalize(buf))
	require.Error(t, backend.BufferFinalize(buf))
	_, err = backend.BufferLength(buf)
	require.ErrorContains(t, err, "already been finalized")
}

func TestFinish(t *testing.T) {
	gate := backend.NewUserEvent("finish gate")
	buf := must.M1(backend.NewBuffer(dtypes.Float64, 2))
	ev := must.M1(backend.EnqueueWriteBuffer(buf, []float64{1, 2}, []backends.Event{gate}))
	go func() {
		time.Sleep(5 * time.Millisecond)
		gate.Complete(nil)
	}()
	backend.Finish()
	assert.True(t, ev.Done())
}
