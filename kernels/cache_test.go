package kernels

import (
	"sync"
	"testing"

	"github.com/gomlx/kernelcl/backends"
	"github.com/gomlx/kernelcl/backends/simplego"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgramCache_CompileOnce(t *testing.T) {
	cache := NewProgramCache(backend)
	ck1, err := cache.CompileKernel("add", []string{addSource}, nil)
	require.NoError(t, err)
	ck2, err := cache.CompileKernel("add", []string{addSource}, nil)
	require.NoError(t, err)
	assert.Same(t, ck1.Program, ck2.Program)
	assert.Same(t, ck1.Kernel, ck2.Kernel)
	assert.Equal(t, 1, cache.NumBuilds())
	assert.Equal(t, 1, cache.NumPrograms())
	assert.Equal(t, 4, ck1.Kernel.NumArgs())

	// Two entry points of the same program share the build.
	sources := []string{addSource, scalarMultiplySource}
	ckMul, err := cache.CompileKernel("scalar_multiply", sources, nil)
	require.NoError(t, err)
	ckAdd, err := cache.CompileKernel("add", sources, nil)
	require.NoError(t, err)
	assert.Same(t, ckMul.Program, ckAdd.Program)
	assert.NotSame(t, ck1.Program, ckAdd.Program)
	assert.Equal(t, 2, cache.NumBuilds())
	assert.Equal(t, 2, cache.NumPrograms())
}

func TestProgramCache_ConcurrentFirstUse(t *testing.T) {
	slow := must.M1(simplego.New("build_delay=100ms")).(*simplego.Backend)
	defer slow.Finalize()
	cache := NewProgramCache(slow)

	const numCallers = 16
	results := make([]*CompiledKernel, numCallers)
	errs := make([]error, numCallers)
	var wg sync.WaitGroup
	for ii := range numCallers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[ii], errs[ii] = cache.CompileKernel("add", []string{addSource}, nil)
		}()
	}
	wg.Wait()
	for ii := range numCallers {
		require.NoError(t, errs[ii])
		assert.Same(t, results[0].Program, results[ii].Program)
	}
	assert.Equal(t, 1, cache.NumBuilds())
	assert.Equal(t, 1, slow.NumBuilds())
}

func TestProgramCache_OptionsAreIndependent(t *testing.T) {
	cache := NewProgramCache(backend)
	ck1, err := cache.CompileKernel("add_constant", []string{addConstantSource}, Options{"CONSTANT": "1"})
	require.NoError(t, err)
	ck2, err := cache.CompileKernel("add_constant", []string{addConstantSource}, Options{"CONSTANT": "2"})
	require.NoError(t, err)
	assert.NotSame(t, ck1.Program, ck2.Program)
	assert.Equal(t, 2, cache.NumPrograms())
	assert.Equal(t, "1", ck1.Program.(*simplego.Program).Defines()["CONSTANT"])
	assert.Equal(t, "2", ck2.Program.(*simplego.Program).Defines()["CONSTANT"])
	assert.Contains(t, ck2.Source, "#define CONSTANT 2\n")
}

func TestProgramCache_BuildFailure(t *testing.T) {
	cache := NewProgramCache(backend)
	sources := []string{"#error double precision not supported\n", addSource}
	_, err := cache.CompileKernel("add", sources, nil)
	require.Error(t, err)
	var compileErr *CompilationError
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, "add", compileErr.Kernel)
	assert.Contains(t, compileErr.Log, "double precision not supported")
	var buildErr *backends.BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Equal(t, 0, cache.NumPrograms())

	// Failures are not cached: a later request builds again.
	_, err = cache.CompileKernel("add", sources, nil)
	require.Error(t, err)
	assert.Equal(t, 2, cache.NumBuilds())

	// An entry point the program doesn't define fails, but the program stays in the cache.
	_, err = cache.CompileKernel("subtract", []string{addSource}, nil)
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, "subtract", compileErr.Kernel)
	assert.Equal(t, 1, cache.NumPrograms())
}

func TestProgramCache_Reset(t *testing.T) {
	cache := NewProgramCache(backend)
	ck, err := cache.CompileKernel("add", []string{addSource}, nil)
	require.NoError(t, err)
	cache.Reset()
	assert.Equal(t, 0, cache.NumPrograms())
	_, err = ck.Program.Kernel("add")
	require.Error(t, err, "programs must be finalized by Reset")

	ck2, err := cache.CompileKernel("add", []string{addSource}, nil)
	require.NoError(t, err)
	assert.NotSame(t, ck.Program, ck2.Program)
	assert.Equal(t, 2, cache.NumBuilds())
}
