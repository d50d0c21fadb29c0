package kernels

import (
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/gomlx/kernelcl/backends"
	"github.com/gomlx/kernelcl/backends/simplego"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

var backend *simplego.Backend

func init() {
	klog.InitFlags(nil)
}

func TestMain(m *testing.M) {
	backend = must.M1(simplego.New("workers=4,max_work_group=64")).(*simplego.Backend)
	fmt.Printf("Backend: %s, %s\n", backend.Name(), backend.Description())
	code := m.Run()
	backend.Finalize()
	os.Exit(code)
}

const addSource = `
__kernel void add(__global const double* A, __global const double* B, __global double* C, int size) {
  const int i = get_global_id(0);
  if (i < size) C[i] = A[i] + B[i];
}
`

const scalarMultiplySource = `
__kernel void scalar_multiply(__global const double* A, __global double* B, double alpha, int size) {
  const int i = get_global_id(0);
  if (i < size) B[i] = alpha * A[i];
}
`

const fillSource = `
__kernel void fill(__global double* A, double value, int size) {
  const int i = get_global_id(0);
  if (i < size) A[i] = value;
}
`

const addConstantSource = `
__kernel void add_constant(__global double* A, int size) {
  const int i = get_global_id(0);
  if (i < size) A[i] += CONSTANT;
}
`

var (
	addKernel = New("add", []string{addSource}, nil,
		InBuffer{}, InBuffer{}, OutBuffer{}, Scalar[int32]{})
	scalarMultiplyKernel = New("scalar_multiply", []string{scalarMultiplySource}, nil,
		InBuffer{}, OutBuffer{}, Scalar[float64]{}, Scalar[int32]{})
	fillKernel = New("fill", []string{fillSource}, nil,
		OutBuffer{}, Scalar[float64]{}, Scalar[int32]{})
	addConstantKernel = New("add_constant", []string{addConstantSource}, Options{"CONSTANT": "1"},
		InOutBuffer{}, Scalar[int32]{})
)

// recordingBackend records the wait-list of every kernel enqueued.
type recordingBackend struct {
	backends.Backend

	mu        sync.Mutex
	waitLists [][]backends.Event
}

func (r *recordingBackend) EnqueueKernel(kernel backends.Kernel, workSize backends.WorkSize, args []any, waitList []backends.Event) (backends.Event, error) {
	event, err := r.Backend.EnqueueKernel(kernel, workSize, args, waitList)
	if err == nil {
		r.mu.Lock()
		r.waitLists = append(r.waitLists, waitList)
		r.mu.Unlock()
	}
	return event, err
}

// lastWaitList returns the wait-list of the last kernel enqueued.
func (r *recordingBackend) lastWaitList(t *testing.T) []backends.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.waitLists)
	return r.waitLists[len(r.waitLists)-1]
}

func iota64(n int) []float64 {
	values := make([]float64, n)
	for ii := range values {
		values[ii] = float64(ii)
	}
	return values
}

func readAll(t *testing.T, exec *Executor, buffer backends.Buffer) []float64 {
	length := must.M1(exec.Backend().BufferLength(buffer))
	flat := make([]float64, length)
	require.NoError(t, exec.ReadSync(buffer, flat))
	return flat
}
