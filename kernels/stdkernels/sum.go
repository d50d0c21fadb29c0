package stdkernels

import (
	"strconv"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kernelcl/kernels"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Sum returns the sum of the first size elements of the Float64 buffer a.
//
// Each work-group of SumGroups reduces LOCAL_SIZE_ elements on the device, and the partial sums are added
// on the host. It blocks until the partial sums are read back.
func Sum(exec *kernels.Executor, a any, size int) (float64, error) {
	if size <= 0 {
		return 0, nil
	}
	localOption, _ := SumGroups.Option("LOCAL_SIZE_")
	localSize, err := strconv.Atoi(localOption)
	if err != nil {
		return 0, errors.Wrapf(err, "stdkernels.Sum: invalid LOCAL_SIZE_=%q", localOption)
	}
	numGroups := (size + localSize - 1) / localSize
	partial, err := exec.NewBuffer(dtypes.Float64, numGroups)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := exec.Release(partial); err != nil {
			klog.Warningf("stdkernels.Sum: failed to release partial sums buffer: %+v", err)
		}
	}()
	_, err = SumGroups.CallWithLocal(exec, []int{numGroups * localSize}, []int{localSize}, partial, a, size)
	if err != nil {
		return 0, err
	}
	partialSums := make([]float64, numGroups)
	if err = exec.ReadSync(partial, partialSums); err != nil {
		return 0, errors.WithMessage(err, "stdkernels.Sum")
	}
	var sum float64
	for _, v := range partialSums {
		sum += v
	}
	return sum, nil
}
