// Package kernels compiles, caches and launches OpenCL-style compute kernels, tracking the events of
// every command so that launches on the same buffers are correctly ordered without global barriers.
//
// A kernel is declared once with New, with the role of each parameter:
//
//	var add = kernels.New("add", []string{addSource}, nil,
//		kernels.InBuffer{}, kernels.InBuffer{}, kernels.OutBuffer{}, kernels.Scalar[int32]{})
//
// And launched against an Executor, which holds the backend, the ProgramCache and the EventRegistry:
//
//	exec := kernels.NewExecutor(backends.MustNew(), nil)
//	a := must.M1(exec.BufferFromFlat(aValues))
//	b := must.M1(exec.BufferFromFlat(bValues))
//	c := must.M1(exec.NewBuffer(dtypes.Float64, n))
//	_, err := add.Call(exec, []int{n}, a, b, c, n)
//	...
//	err = exec.ReadSync(c, cValues)
//
// The launch of add waits for the uploads of a and b (a read waits on the last write), and the read of c
// waits on add (it is c's last write). Two kernels reading the same buffer don't wait on each other, while
// a kernel writing a buffer waits on its last write and on every read since.
package kernels
