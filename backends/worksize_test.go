package backends

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkSize_Validate(t *testing.T) {
	require.NoError(t, WorkSize{Global: []int{16}}.Validate(0))
	require.NoError(t, WorkSize{Global: []int{16, 8}, Local: []int{4, 2}}.Validate(8))

	for name, ws := range map[string]WorkSize{
		"no dims":        {},
		"too many dims":  {Global: []int{1, 1, 1, 1}},
		"zero extent":    {Global: []int{4, 0}},
		"rank mismatch":  {Global: []int{4, 4}, Local: []int{2}},
		"not divisible":  {Global: []int{10}, Local: []int{4}},
		"negative local": {Global: []int{4}, Local: []int{-2}},
	} {
		assert.Errorf(t, ws.Validate(0), "expected error for %q (%s)", name, ws)
	}

	// Device limit.
	ws := WorkSize{Global: []int{64, 64}, Local: []int{16, 16}}
	require.NoError(t, ws.Validate(256))
	require.Error(t, ws.Validate(128))
	assert.Equal(t, 4096, ws.NumWorkItems())
	assert.Equal(t, 256, ws.LocalWorkItems())
}

func TestBuildError(t *testing.T) {
	err := &BuildError{Log: "  line 3: syntax error\n"}
	assert.Contains(t, err.Error(), "line 3: syntax error")
	assert.Equal(t, "build failed and produced no log entries", (&BuildError{}).Error())
}
