// Package containerruntime defines the port for driving the container engine
// that hosts tenant VPN servers.
package containerruntime

import (
	"context"
	"errors"
)

// ErrNoSuchContainer is returned when an operation targets a container the
// engine does not know.
var ErrNoSuchContainer = errors.New("no such container")

// State is the engine-reported state of a container.
type State string

const (
	StateMissing    State = ""
	StateCreated    State = "created"
	StateRunning    State = "running"
	StateRestarting State = "restarting"
	StatePaused     State = "paused"
	StateExited     State = "exited"
	StateDead       State = "dead"
)

// ContainerSpec describes a container to create.
type ContainerSpec struct {
	Name         string
	Image        string
	Network      string
	Volume       string
	VolumeTarget string
	PublishUDP   map[int]int // host port -> container port
	CapAdd       []string
	Devices      []string
	Sysctls      map[string]string
	// Env lists variable names passed through from the caller's environment,
	// plus NAME=value pairs for non-secret values.
	Env     []string
	Restart string
	Cmd     []string
}

// ExecResult is the outcome of a command run inside a container. A non-zero
// exit code is not an error.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runtime is the port interface for container, volume and network management.
// Creating an existing network or volume returns its handle; removing a
// missing container, network or volume succeeds.
type Runtime interface {
	ContainerState(ctx context.Context, name string) (State, error)
	RunContainer(ctx context.Context, spec ContainerSpec) (id string, err error)
	// RunOnce runs spec to completion in a removed-on-exit container and
	// returns its stdout unaltered. Stderr (engine pull progress, tool
	// warnings) only surfaces through the error. secretEnv values are
	// exposed to the container by name only.
	RunOnce(ctx context.Context, spec ContainerSpec, secretEnv map[string]string) (string, error)
	StartContainer(ctx context.Context, name string) error
	StopContainer(ctx context.Context, name string) error
	RemoveContainer(ctx context.Context, name string) error
	Logs(ctx context.Context, name string, tail int) (string, error)

	Exec(ctx context.Context, name string, cmd []string, secretEnv map[string]string) (ExecResult, error)
	// ReadFile returns the content of path inside a running container and
	// false when the file does not exist.
	ReadFile(ctx context.Context, name, path string) ([]byte, bool, error)

	CreateNetwork(ctx context.Context, name string) (id string, err error)
	RemoveNetwork(ctx context.Context, name string) error
	CreateVolume(ctx context.Context, name string) (id string, err error)
	RemoveVolume(ctx context.Context, name string) error
	VolumeExists(ctx context.Context, name string) (bool, error)
}
