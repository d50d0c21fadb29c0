package simplego

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gomlx/kernelcl/backends"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	defineRegexp     = regexp.MustCompile(`^\s*#\s*define\s+([A-Za-z_]\w*)(?:\s+(.*?))?\s*$`)
	errorRegexp      = regexp.MustCompile(`^\s*#\s*error\b\s*(.*?)\s*$`)
	entryPointRegexp = regexp.MustCompile(`(?:__)?kernel\s+void\s+([A-Za-z_]\w*)\s*\(([^)]*)\)`)
)

// Program is a "built" program: the macros defined and the entry points linked to their Go implementation.
type Program struct {
	backend     *Backend
	id          string
	defines     map[string]string
	entryPoints map[string]*Kernel
	log         string
	finalized   atomic.Bool
}

var _ backends.Program = (*Program)(nil)

// Kernel is an entry point of a Program, linked to its registered Go implementation.
type Kernel struct {
	program *Program
	name    string
	impl    *kernelImpl
}

var _ backends.Kernel = (*Kernel)(nil)

// Name implements backends.Kernel.
func (k *Kernel) Name() string { return k.name }

// NumArgs implements backends.Kernel.
func (k *Kernel) NumArgs() int { return k.impl.numArgs }

// String implements fmt.Stringer.
func (k *Kernel) String() string {
	return fmt.Sprintf("%s@program-%s", k.name, k.program.id[:8])
}

// BuildProgram implements backends.Backend.
//
// The source is scanned line by line: `#define NAME VALUE` lines are collected as macros (later
// definitions override earlier ones, like a C preprocessor would warn and do), `#error` lines fail the
// build, and every `__kernel void name(...)` is linked to the implementation registered for name,
// whose number of arguments must match the declared parameters.
func (b *Backend) BuildProgram(source string) (backends.Program, error) {
	if err := b.checkOk(); err != nil {
		return nil, err
	}
	start := time.Now()
	b.numBuilds.Add(1)
	if b.buildDelay > 0 {
		time.Sleep(b.buildDelay)
	}

	p := &Program{
		backend:     b,
		id:          uuid.NewString(),
		defines:     make(map[string]string),
		entryPoints: make(map[string]*Kernel),
	}
	var logLines, errorLines []string
	for lineNum, line := range strings.Split(source, "\n") {
		if m := defineRegexp.FindStringSubmatch(line); m != nil {
			if previous, found := p.defines[m[1]]; found && previous != m[2] {
				logLines = append(logLines, fmt.Sprintf("<source>:%d: warning: %q macro redefined", lineNum+1, m[1]))
			}
			p.defines[m[1]] = m[2]
			continue
		}
		if m := errorRegexp.FindStringSubmatch(line); m != nil {
			errorLines = append(errorLines, fmt.Sprintf("<source>:%d: error: %s", lineNum+1, m[1]))
		}
	}
	for _, m := range entryPointRegexp.FindAllStringSubmatch(source, -1) {
		name := m[1]
		numParams := countParameters(m[2])
		impl, found := lookupKernel(name)
		if !found {
			errorLines = append(errorLines, fmt.Sprintf("error: kernel %q has no implementation in the %q backend", name, BackendName))
			continue
		}
		if impl.numArgs != numParams {
			errorLines = append(errorLines, fmt.Sprintf("error: kernel %q declares %d parameters, its implementation takes %d",
				name, numParams, impl.numArgs))
			continue
		}
		p.entryPoints[name] = &Kernel{program: p, name: name, impl: impl}
	}
	if len(errorLines) == 0 && len(p.entryPoints) == 0 {
		errorLines = append(errorLines, "error: no kernel entry points found in program source")
	}
	p.log = strings.Join(append(logLines, errorLines...), "\n")
	if len(errorLines) > 0 {
		return nil, &backends.BuildError{Log: p.log}
	}
	klog.V(1).Infof("simplego: built program %s with entry points %q in %s", p.id, slices.Sorted(maps.Keys(p.entryPoints)), time.Since(start))
	return p, nil
}

// countParameters in the text between the parenthesis of a kernel declaration.
func countParameters(params string) int {
	params = strings.TrimSpace(params)
	if params == "" || params == "void" {
		return 0
	}
	return strings.Count(params, ",") + 1
}

// Kernel implements backends.Program.
func (p *Program) Kernel(name string) (backends.Kernel, error) {
	if p.finalized.Load() {
		return nil, errors.Errorf("program %s has already been finalized", p.id)
	}
	k, found := p.entryPoints[name]
	if !found {
		return nil, errors.Errorf("invalid kernel name %q: program %s defines entry points %q",
			name, p.id, slices.Sorted(maps.Keys(p.entryPoints)))
	}
	return k, nil
}

// Defines returns a copy of the macros defined in the program source.
func (p *Program) Defines() map[string]string {
	return maps.Clone(p.defines)
}

// ID is a unique identifier of the program.
func (p *Program) ID() string { return p.id }

// BuildLog implements backends.Program.
func (p *Program) BuildLog() string { return p.log }

// Finalize implements backends.Program.
func (p *Program) Finalize() {
	p.finalized.Store(true)
}
