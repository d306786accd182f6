package session

import (
	"fmt"
	"regexp"
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusRemoved Status = "removed"
	StatusError   Status = "error"
)

// Container labels carried by every managed container. The managed label
// is the sole discovery mechanism for list/cleanup across process
// restarts; the rest let a restarted process rebuild its records.
const (
	LabelManaged = "claude-sandbox.managed"
	LabelID      = "claude-sandbox.id"
	LabelName    = "claude-sandbox.name"
	LabelRepo    = "claude-sandbox.repo"
	LabelBranch  = "claude-sandbox.branch"
	LabelPort    = "claude-sandbox.port"
)

// ManagedLabels is the filter that selects sandbox-managed containers.
var ManagedLabels = map[string]string{LabelManaged: "true"}

// Record is the registry's view of one session. Callers receive copies;
// the registry owns the canonical record.
type Record struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Image       string            `json:"image"`
	Status      Status            `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	GitRepo     string            `json:"git_repo,omitempty"`
	GitBranch   string            `json:"git_branch,omitempty"`
	HostPort    int               `json:"host_port"`
	WorkingDir  string            `json:"working_dir"`
	Labels      map[string]string `json:"labels"`
	ContainerID string            `json:"container_id,omitempty"`
}

var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

// ValidateName enforces the container-safe naming rules applied to
// session names.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must match %s", name, nameRe)
	}
	return nil
}

// mapEngineStatus folds a raw engine status into a session Status.
func mapEngineStatus(engineStatus string) Status {
	switch engineStatus {
	case "running":
		return StatusRunning
	case "created", "restarting":
		return StatusCreated
	case "exited", "dead", "paused", "removing", "stopped":
		return StatusStopped
	default:
		return StatusError
	}
}
