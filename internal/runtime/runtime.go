// Package runtime abstracts the container engine behind a capability
// interface with Docker and Podman backends. Podman serves the Docker
// API on its own socket, so both backends share the same client library
// but are distinct types selected at construction time.
package runtime

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when the named container does not exist.
var ErrNotFound = errors.New("container not found")

// ErrUnavailable is returned when the container daemon cannot be reached
// or a call exceeded its deadline.
var ErrUnavailable = errors.New("container runtime unavailable")

// ContainerInfo is the runtime's view of a single container.
type ContainerInfo struct {
	ID        string
	Name      string
	Image     string
	Status    string // raw engine status: created, running, exited, ...
	Labels    map[string]string
	CreatedAt time.Time
}

// Mount describes a bind mount into the container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// CreateParams configures a container creation request.
type CreateParams struct {
	Name          string
	Image         string
	WorkingDir    string
	Env           map[string]string
	Labels        map[string]string
	Mounts        []Mount
	HostPort      int
	ContainerPort int
	MemoryLimit   int64 // bytes, 0 means unlimited
	Cmd           []string
}

// ExecResult holds the outcome of a non-interactive exec.
type ExecResult struct {
	Stdout   string
	ExitCode int
}

// ExecStream is an interactive exec with an attached PTY.
type ExecStream struct {
	Stdin  io.WriteCloser
	Stdout io.Reader
	Resize func(cols, rows uint16) error
	Close  func() error
}

// Runtime is the capability surface over the container engine. All calls
// honor the context deadline; callers are expected to set one.
type Runtime interface {
	Ping(ctx context.Context) error
	BackendName() string

	// Lifecycle
	Create(ctx context.Context, params CreateParams) (id string, err error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Remove(ctx context.Context, name string, force bool) error

	// Inspection
	List(ctx context.Context, labels map[string]string) ([]ContainerInfo, error)
	Inspect(ctx context.Context, name string) (ContainerInfo, error)

	// Execution
	Exec(ctx context.Context, name string, cmd []string) (ExecResult, error)
	ExecInteractive(ctx context.Context, name string, cmd []string) (*ExecStream, error)
}
