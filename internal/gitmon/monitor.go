// Package gitmon polls a session's git repository inside its container and
// emits an event for every new commit. Probe failures are logged and
// treated as "no change this interval": only cancellation ends a monitor.
package gitmon

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/claude-sandbox/sandboxd/internal/runtime"
)

// Event describes one new commit observed in a session's repository.
type Event struct {
	SessionID    string    `json:"session_id"`
	SHA          string    `json:"sha"`
	Author       string    `json:"author"`
	Message      string    `json:"message"`
	ChangedFiles []string  `json:"changed_files"`
	Timestamp    time.Time `json:"timestamp"`
}

// Prober runs read-only commands inside the monitored container. Satisfied
// by runtime.Runtime.
type Prober interface {
	Exec(ctx context.Context, name string, cmd []string) (runtime.ExecResult, error)
}

// Snapshot is the monitor's last observed repository state.
type Snapshot struct {
	LastSHA string `json:"last_sha"`
	Dirty   bool   `json:"dirty"`
}

// Monitor is one polling task bound to a session's lifetime.
type Monitor struct {
	sessionID     string
	containerName string
	workDir       string
	interval      time.Duration
	prober        Prober
	events        chan<- Event

	mu      sync.Mutex
	lastSHA string
	dirty   bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a monitor that probes containerName's workDir every interval
// and sends events on the shared events channel.
func New(sessionID, containerName, workDir string, interval time.Duration, prober Prober, events chan<- Event) *Monitor {
	return &Monitor{
		sessionID:     sessionID,
		containerName: containerName,
		workDir:       workDir,
		interval:      interval,
		prober:        prober,
		events:        events,
		done:          make(chan struct{}),
	}
}

// Start probes once synchronously to pin the baseline SHA, then launches
// the polling loop. Pinning before the loop means a commit landing inside
// the first interval is reported rather than folded into the baseline.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	if err := m.poll(ctx); err != nil {
		log.Printf("[gitmon] baseline probe failed: session=%s: %v", m.sessionID, err)
	}
	go m.loop(ctx)
}

// Stop cancels the loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

// Status returns the last observed repository state.
func (m *Monitor) Status() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{LastSHA: m.lastSHA, Dirty: m.dirty}
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.poll(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("[gitmon] probe failed: session=%s: %v", m.sessionID, err)
			}
		}
	}
}

func (m *Monitor) poll(ctx context.Context) error {
	head, err := m.headSHA(ctx)
	if err != nil {
		return err
	}

	dirty, err := m.isDirty(ctx)
	if err == nil {
		m.mu.Lock()
		m.dirty = dirty
		m.mu.Unlock()
	}

	m.mu.Lock()
	last := m.lastSHA
	m.mu.Unlock()

	if last == "" {
		// Baseline: the history that predates monitoring is not news.
		m.mu.Lock()
		m.lastSHA = head
		m.mu.Unlock()
		return nil
	}
	if head == last {
		return nil
	}

	shas, err := m.newCommits(ctx, last, head)
	if err != nil {
		return err
	}
	for _, sha := range shas {
		ev, err := m.describeCommit(ctx, sha)
		if err != nil {
			return err
		}
		select {
		case m.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	m.lastSHA = head
	m.mu.Unlock()
	return nil
}

func (m *Monitor) git(ctx context.Context, args ...string) (string, error) {
	cmd := append([]string{"git", "-C", m.workDir}, args...)
	res, err := m.prober.Exec(ctx, m.containerName, cmd)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("git %s exited %d: %s", args[0], res.ExitCode, strings.TrimSpace(res.Stdout))
	}
	return res.Stdout, nil
}

func (m *Monitor) headSHA(ctx context.Context) (string, error) {
	out, err := m.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (m *Monitor) isDirty(ctx context.Context) (bool, error) {
	out, err := m.git(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// newCommits lists commits in (last, head], oldest first.
func (m *Monitor) newCommits(ctx context.Context, last, head string) ([]string, error) {
	out, err := m.git(ctx, "rev-list", "--reverse", last+".."+head)
	if err != nil {
		// A rewritten history (rebase, amend) makes the old SHA unreachable.
		// Fall back to reporting just the new head.
		return []string{head}, nil
	}
	var shas []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line != "" {
			shas = append(shas, line)
		}
	}
	return shas, nil
}

func (m *Monitor) describeCommit(ctx context.Context, sha string) (Event, error) {
	const sep = "\x1f"
	out, err := m.git(ctx, "show", "-s", "--format=%H"+sep+"%an"+sep+"%ct"+sep+"%s", sha)
	if err != nil {
		return Event{}, err
	}
	parts := strings.SplitN(strings.TrimSpace(out), sep, 4)
	if len(parts) != 4 {
		return Event{}, fmt.Errorf("unexpected git show output for %s", sha)
	}

	ev := Event{
		SessionID: m.sessionID,
		SHA:       parts[0],
		Author:    parts[1],
		Message:   parts[3],
	}
	if secs, err := strconv.ParseInt(parts[2], 10, 64); err == nil {
		ev.Timestamp = time.Unix(secs, 0).UTC()
	}

	files, err := m.git(ctx, "show", "--name-only", "--format=", sha)
	if err == nil {
		for _, line := range strings.Split(strings.TrimSpace(files), "\n") {
			if line != "" {
				ev.ChangedFiles = append(ev.ChangedFiles, line)
			}
		}
	}
	return ev, nil
}
