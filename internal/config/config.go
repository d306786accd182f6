package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":9876"`
	DataPath   string `envconfig:"DATA_PATH" default:"/var/lib/sandboxd"`
	LogPath    string `envconfig:"LOG_PATH" default:""`

	// Runtime backend: auto, docker, or podman.
	RuntimeBackend string `envconfig:"RUNTIME_BACKEND" default:"auto"`
	DockerHost     string `envconfig:"DOCKER_HOST" default:""`
	PodmanSocket   string `envconfig:"PODMAN_SOCKET" default:"unix:///run/user/1000/podman/podman.sock"`

	// Host port range assigned to sessions: [PortBase, PortBase+PortCount).
	PortBase  int `envconfig:"PORT_BASE" default:"9877"`
	PortCount int `envconfig:"PORT_COUNT" default:"100"`

	// Per-call deadline for container runtime operations.
	RuntimeTimeout time.Duration `envconfig:"RUNTIME_TIMEOUT" default:"30s"`

	// Git monitor polling interval.
	GitPollInterval time.Duration `envconfig:"GIT_POLL_INTERVAL" default:"5s"`

	// Defaults file (YAML). Empty means built-in defaults only.
	DefaultsFile string `envconfig:"DEFAULTS_FILE" default:""`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("SANDBOX", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
