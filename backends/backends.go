// Package backends defines the interface an OpenCL-style compute device needs to implement to be used
// by the kernel executor in package github.com/gomlx/kernelcl/kernels.
//
// The abstraction is modeled on the OpenCL device/queue/event model: programs are built from source,
// kernels are extracted by entry-point name, and every enqueued command returns an Event that later
// commands can wait on. A backend's command queue is assumed to execute out-of-order: the only ordering
// between commands is the one given by their wait-lists.
//
// Platform and device discovery are left to each backend's constructor, configured by a string.
package backends

import (
	"os"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// Backend is the API that needs to be implemented by a kernelcl device backend.
type Backend interface {
	// Name returns the short name of the backend. E.g.: "go" for the pure Go reference device.
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// MaxWorkGroupSize is the maximum number of work-items in one work-group (the product of the local sizes).
	MaxWorkGroupSize() int

	// BuildProgram compiles the given source into a Program.
	//
	// If compilation fails it returns a *BuildError holding the device build log.
	BuildProgram(source string) (Program, error)

	// EnqueueKernel enqueues the execution of kernel over workSize, with the given arguments.
	//
	// The command doesn't start before every event in waitList completes. It returns immediately
	// with the Event that marks the completion of the command.
	//
	// If the launch is rejected (invalid work size, wrong number of arguments, etc.) no command is
	// enqueued and an error is returned.
	EnqueueKernel(kernel Kernel, workSize WorkSize, args []any, waitList []Event) (Event, error)

	// DataInterface is the sub-interface that defines the API to transfer Buffer to/from the device.
	DataInterface

	// Finish blocks until every command enqueued so far has completed.
	Finish()

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List the names of the registered backends, sorted.
func List() []string {
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnvVar is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "go") and
// "<backend_configuration>" is backend specific.
const ConfigEnvVar = "KERNELCL_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment $KERNELCL_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
func New() (Backend, error) {
	config, found := os.LookupEnv(ConfigEnvVar)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// MustNew returns a new default Backend, or panics if it fails.
func MustNew() Backend {
	backend, err := New()
	if err != nil {
		panic(err)
	}
	return backend
}

// NewWithConfig takes a configuration string formatted as "<backend_name>:<backend_configuration>".
//
// The "<backend_name>" is the name of a registered backend (e.g.: "go") and
// "<backend_configuration>" is backend specific. If there is no ":" the whole string is taken as the
// backend name, and an empty string selects the first registered backend.
func NewWithConfig(config string) (Backend, error) {
	if len(registeredConstructors) == 0 {
		return nil, errors.Errorf(`no registered backends for kernelcl -- maybe import the reference one with import _ "github.com/gomlx/kernelcl/backends/simplego"?`)
	}
	backendName := firstRegistered
	var backendConfig string
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	} else if config != "" {
		backendName = config
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		return nil, errors.Errorf("can't find backend %q for configuration %q given, registered backends: %q",
			backendName, config, List())
	}
	return constructor(backendConfig)
}
