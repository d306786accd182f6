package runtime

import (
	"context"
	"fmt"

	dockerclient "github.com/docker/docker/client"
)

// DockerRuntime drives a Docker daemon.
type DockerRuntime struct {
	engine
}

// NewDocker connects to the Docker daemon. host overrides the environment's
// DOCKER_HOST when non-empty. The daemon is pinged before returning.
func NewDocker(ctx context.Context, host string) (*DockerRuntime, error) {
	opts := []dockerclient.Opt{
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, dockerclient.WithHost(host))
	}

	client, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	d := &DockerRuntime{engine{client: client, backend: "docker"}}
	if err := d.Ping(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

var _ Runtime = (*DockerRuntime)(nil)
