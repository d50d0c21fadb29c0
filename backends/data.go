package backends

import "github.com/gomlx/gopjrt/dtypes"

// Buffer represents memory on the device, used as kernel argument.
//
// It is opaque from kernelcl's perspective, but it must be a comparable value (usually a pointer), since
// the kernel executor uses buffer identity to track data dependencies between commands.
type Buffer any

// DataInterface is the Backend's sub-interface that defines the API to transfer Buffer to/from the device.
type DataInterface interface {
	// NewBuffer allocates an uninitialized buffer on the device for length elements of the given dtype.
	NewBuffer(dtype dtypes.DType, length int) (Buffer, error)

	// BufferDType returns the dtype of the buffer elements.
	BufferDType(buffer Buffer) (dtypes.DType, error)

	// BufferLength returns the number of elements in the buffer.
	BufferLength(buffer Buffer) (int, error)

	// EnqueueWriteBuffer enqueues a copy of the flat Go slice (of the buffer's dtype and length) to the buffer.
	// The flat slice must not be modified until the returned Event completes.
	EnqueueWriteBuffer(buffer Buffer, flat any, waitList []Event) (Event, error)

	// EnqueueReadBuffer enqueues a copy of the buffer contents into the flat Go slice (of the buffer's dtype and
	// length). The flat slice contents are only valid after the returned Event completes.
	EnqueueReadBuffer(buffer Buffer, flat any, waitList []Event) (Event, error)

	// BufferFinalize frees the buffer immediately. The caller must make sure no pending command uses it.
	//
	// A finalized buffer should never be used again.
	BufferFinalize(buffer Buffer) error
}
