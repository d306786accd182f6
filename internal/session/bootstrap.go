package session

import (
	"context"
	"fmt"
)

// agentInstallSteps provision the coding agent inside a freshly started
// container. The default python:*-slim image ships without curl or git.
var agentInstallSteps = [][]string{
	{"apt-get", "update"},
	{"apt-get", "install", "-y", "curl", "git"},
	{"curl", "-fsSL", "https://claude.ai/claude-code/install.sh", "-o", "/tmp/install.sh"},
	{"bash", "/tmp/install.sh"},
}

// AgentCommand is the in-container command that launches the coding agent.
func (m *Manager) AgentCommand() []string {
	return append([]string{"claude"}, m.defaults.AgentFlags...)
}

// bootstrapAgent runs the install steps in order, stopping at the first
// failure so a retry starts from a known point.
func (m *Manager) bootstrapAgent(ctx context.Context, rec Record) error {
	for _, cmd := range agentInstallSteps {
		callCtx, cancel := m.runtimeCtx(ctx)
		res, err := m.rt.Exec(callCtx, rec.Name, cmd)
		cancel()
		if err != nil {
			return fmt.Errorf("bootstrap %s: %w", cmd[0], err)
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("bootstrap %s exited %d", cmd[0], res.ExitCode)
		}
	}
	return nil
}

func (m *Manager) isBootstrapped(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bootstrapped[id]
}

func (m *Manager) setBootstrapped(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bootstrapped[id] = true
}

func (m *Manager) clearBootstrapped(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bootstrapped, id)
}
