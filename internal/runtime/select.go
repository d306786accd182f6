package runtime

import (
	"context"
	"fmt"
	"log"
)

// Select constructs the runtime backend named by backend: "docker",
// "podman", or "auto". Auto tries the Podman user socket first and falls
// back to Docker.
func Select(ctx context.Context, backend, dockerHost, podmanSocket string) (Runtime, error) {
	switch backend {
	case "docker":
		return NewDocker(ctx, dockerHost)
	case "podman":
		return NewPodman(ctx, podmanSocket)
	case "auto":
		if rt, err := NewPodman(ctx, podmanSocket); err == nil {
			log.Println("Runtime: using Podman backend")
			return rt, nil
		}
		rt, err := NewDocker(ctx, dockerHost)
		if err != nil {
			return nil, fmt.Errorf("no runtime backend available: %w", err)
		}
		log.Println("Runtime: using Docker backend")
		return rt, nil
	default:
		return nil, fmt.Errorf("unknown runtime backend %q", backend)
	}
}
