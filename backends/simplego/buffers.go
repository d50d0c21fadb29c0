package simplego

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kernelcl/backends"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Compile-time check:
var _ backends.DataInterface = (*Backend)(nil)

// Buffer for SimpleGo backend holds the dtype and the flat data, a Go slice of the dtype's Go type.
type Buffer struct {
	backend *Backend
	dtype   dtypes.DType
	length  int
	valid   atomic.Bool

	// flat is always a slice of the underlying data type (dtype).
	flat any
}

// String implements fmt.Stringer.
func (buf *Buffer) String() string {
	return fmt.Sprintf("Buffer(%s[%d])", buf.dtype, buf.length)
}

// Flat returns the underlying storage of the buffer.
//
// It is only safe to use while no enqueued command is using the buffer.
func (buf *Buffer) Flat() any {
	return buf.flat
}

// isSupportedDType returns whether buffers of the dtype can be allocated.
func isSupportedDType(dtype dtypes.DType) bool {
	switch dtype {
	case dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
		dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64,
		dtypes.Float16, dtypes.Float32, dtypes.Float64:
		return true
	default:
		return false
	}
}

type bufferPoolKey struct {
	dtype  dtypes.DType
	length int
}

// getBufferPool for given dtype/length.
func (b *Backend) getBufferPool(dtype dtypes.DType, length int) *sync.Pool {
	key := bufferPoolKey{dtype: dtype, length: length}
	poolInterface, ok := b.bufferPools.Load(key)
	if !ok {
		poolInterface, _ = b.bufferPools.LoadOrStore(key, &sync.Pool{
			New: func() any {
				return reflect.MakeSlice(reflect.SliceOf(dtype.GoType()), length, length).Interface()
			},
		})
	}
	return poolInterface.(*sync.Pool)
}

// NewBuffer implements backends.DataInterface.
// The contents of the buffer are undefined: storage may be recycled from finalized buffers.
func (b *Backend) NewBuffer(dtype dtypes.DType, length int) (backends.Buffer, error) {
	if err := b.checkOk(); err != nil {
		return nil, err
	}
	if length <= 0 {
		return nil, errors.Errorf("cannot allocate buffer of %s with length %d", dtype, length)
	}
	if !isSupportedDType(dtype) {
		return nil, errors.Errorf("cannot allocate buffer of unsupported dtype %s", dtype)
	}
	buf := &Buffer{
		backend: b,
		dtype:   dtype,
		length:  length,
		flat:    b.getBufferPool(dtype, length).Get(),
	}
	buf.valid.Store(true)
	if klog.V(2).Enabled() {
		klog.Infof("simplego: allocated %s (%s)", buf, humanize.Bytes(uint64(length*dtype.Size())))
	}
	return buf, nil
}

// castBuffer checks that the given buffer is a valid buffer of this backend.
func (b *Backend) castBuffer(backendBuffer backends.Buffer) (*Buffer, error) {
	buf, ok := backendBuffer.(*Buffer)
	if !ok || buf == nil {
		return nil, errors.Errorf("buffer %v (%T) is not a %q backend buffer", backendBuffer, backendBuffer, BackendName)
	}
	if buf.backend != b {
		return nil, errors.Errorf("%s belongs to a different %q backend instance", buf, BackendName)
	}
	if !buf.valid.Load() {
		return nil, errors.Errorf("%s has already been finalized", buf)
	}
	return buf, nil
}

// BufferDType implements backends.DataInterface.
func (b *Backend) BufferDType(backendBuffer backends.Buffer) (dtypes.DType, error) {
	buf, err := b.castBuffer(backendBuffer)
	if err != nil {
		return dtypes.InvalidDType, err
	}
	return buf.dtype, nil
}

// BufferLength implements backends.DataInterface.
func (b *Backend) BufferLength(backendBuffer backends.Buffer) (int, error) {
	buf, err := b.castBuffer(backendBuffer)
	if err != nil {
		return 0, err
	}
	return buf.length, nil
}

// checkFlat verifies that flat is a slice of the buffer dtype with the buffer length.
func (buf *Buffer) checkFlat(flat any) error {
	flatV := reflect.ValueOf(flat)
	if flatV.Kind() != reflect.Slice || flatV.Type().Elem() != buf.dtype.GoType() {
		return errors.Errorf("flat data for %s must be a []%s, got %T", buf, buf.dtype.GoType(), flat)
	}
	if flatV.Len() != buf.length {
		return errors.Errorf("flat data for %s must have length %d, got %d", buf, buf.length, flatV.Len())
	}
	return nil
}

// EnqueueWriteBuffer implements backends.DataInterface.
func (b *Backend) EnqueueWriteBuffer(backendBuffer backends.Buffer, flat any, waitList []backends.Event) (backends.Event, error) {
	if err := b.checkOk(); err != nil {
		return nil, err
	}
	buf, err := b.castBuffer(backendBuffer)
	if err != nil {
		return nil, err
	}
	if err = buf.checkFlat(flat); err != nil {
		return nil, err
	}
	storage := buf.flat
	return b.submit("write "+buf.String(), waitList, func() error {
		reflect.Copy(reflect.ValueOf(storage), reflect.ValueOf(flat))
		return nil
	}), nil
}

// EnqueueReadBuffer implements backends.DataInterface.
func (b *Backend) EnqueueReadBuffer(backendBuffer backends.Buffer, flat any, waitList []backends.Event) (backends.Event, error) {
	if err := b.checkOk(); err != nil {
		return nil, err
	}
	buf, err := b.castBuffer(backendBuffer)
	if err != nil {
		return nil, err
	}
	if err = buf.checkFlat(flat); err != nil {
		return nil, err
	}
	storage := buf.flat
	return b.submit("read "+buf.String(), waitList, func() error {
		reflect.Copy(reflect.ValueOf(flat), reflect.ValueOf(storage))
		return nil
	}), nil
}

// BufferFinalize implements backends.DataInterface.
// The storage is returned to a pool and reused by later allocations of the same dtype and length.
func (b *Backend) BufferFinalize(backendBuffer backends.Buffer) error {
	buf, err := b.castBuffer(backendBuffer)
	if err != nil {
		return err
	}
	if !buf.valid.Swap(false) {
		return errors.Errorf("%s has already been finalized", buf)
	}
	flat := buf.flat
	buf.flat = nil
	b.getBufferPool(buf.dtype, buf.length).Put(flat)
	return nil
}
