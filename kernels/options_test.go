package kernels

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptions(t *testing.T) {
	defaults := Options{"LOCAL_SIZE_": IntOption(64), "USE_FMA": ""}
	merged := defaults.Merge(Options{"LOCAL_SIZE_": "32", "CONSTANT": "2.5"})
	assert.Equal(t, Options{"LOCAL_SIZE_": "32", "USE_FMA": "", "CONSTANT": "2.5"}, merged)
	assert.Equal(t, "64", defaults["LOCAL_SIZE_"], "Merge must not modify the receiver")

	assert.Equal(t, "#define CONSTANT 2.5\n#define LOCAL_SIZE_ 32\n#define USE_FMA\n", merged.Preamble())
	assert.Empty(t, Options(nil).Preamble())

	var nilOptions Options
	clone := nilOptions.Clone()
	assert.NotNil(t, clone)
	clone["A"] = "1"
	assert.Equal(t, Options{"A": "1"}, nilOptions.Merge(clone))
}

func TestProgramSource(t *testing.T) {
	source := ProgramSource([]string{"int a;", "int b;\n"}, Options{"X": "1"})
	assert.Equal(t, "#define X 1\nint a;\nint b;\n", source)

	// Order of sources and options are both part of the key.
	assert.NotEqual(t, ProgramSource([]string{"a", "b"}, nil), ProgramSource([]string{"b", "a"}, nil))
	assert.NotEqual(t, ProgramSource([]string{"a"}, Options{"X": "1"}), ProgramSource([]string{"a"}, Options{"X": "2"}))
}
