package runtime

import (
	"context"
	"fmt"

	dockerclient "github.com/docker/docker/client"
)

// PodmanRuntime drives a Podman daemon through its Docker-compatible API
// socket (typically the rootless user socket).
type PodmanRuntime struct {
	engine
}

// NewPodman connects to the Podman socket. The daemon is pinged before
// returning.
func NewPodman(ctx context.Context, socket string) (*PodmanRuntime, error) {
	client, err := dockerclient.NewClientWithOpts(
		dockerclient.WithHost(socket),
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("podman client: %w", err)
	}

	p := &PodmanRuntime{engine{client: client, backend: "podman"}}
	if err := p.Ping(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

var _ Runtime = (*PodmanRuntime)(nil)
