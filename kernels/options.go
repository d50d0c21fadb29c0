package kernels

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Options are the compilation options of a kernel: macro names mapped to their replacement text.
// They are emitted as `#define NAME VALUE` lines before the kernel sources.
type Options map[string]string

// IntOption formats an integer option value.
func IntOption(value int) string {
	return strconv.Itoa(value)
}

// Clone returns a copy of the options. The clone of nil options is an empty (non-nil) map.
func (o Options) Clone() Options {
	if o == nil {
		return Options{}
	}
	return maps.Clone(o)
}

// Merge returns a new Options with o overridden and extended by overrides. o is not modified.
func (o Options) Merge(overrides Options) Options {
	merged := o.Clone()
	maps.Copy(merged, overrides)
	return merged
}

// Preamble renders the options as `#define` lines, sorted by macro name so the output is deterministic.
func (o Options) Preamble() string {
	var sb strings.Builder
	for _, name := range slices.Sorted(maps.Keys(o)) {
		if value := o[name]; value == "" {
			fmt.Fprintf(&sb, "#define %s\n", name)
		} else {
			fmt.Fprintf(&sb, "#define %s %s\n", name, value)
		}
	}
	return sb.String()
}
