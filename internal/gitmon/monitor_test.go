package gitmon

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/claude-sandbox/sandboxd/internal/runtime"
)

// fakeProber simulates a git repository inside a container by answering
// the exact commands the monitor issues.
type fakeProber struct {
	mu      sync.Mutex
	head    string
	dirty   bool
	order   []string // full history, oldest first
	commits map[string]fakeCommit
	failErr error
}

type fakeCommit struct {
	author string
	ts     int64
	msg    string
	files  []string
}

func newFakeProber() *fakeProber {
	return &fakeProber{commits: make(map[string]fakeCommit)}
}

func (f *fakeProber) commit(sha, author, msg string, files ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, sha)
	f.commits[sha] = fakeCommit{author: author, ts: 1700000000, msg: msg, files: files}
	f.head = sha
}

func (f *fakeProber) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
}

func (f *fakeProber) setDirty(d bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirty = d
}

func ok(out string) (runtime.ExecResult, error) {
	return runtime.ExecResult{Stdout: out, ExitCode: 0}, nil
}

func (f *fakeProber) Exec(_ context.Context, _ string, cmd []string) (runtime.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return runtime.ExecResult{}, f.failErr
	}

	args := cmd[3:] // strip "git -C <dir>"
	switch args[0] {
	case "rev-parse":
		return ok(f.head + "\n")
	case "status":
		if f.dirty {
			return ok(" M main.py\n")
		}
		return ok("")
	case "rev-list":
		parts := strings.SplitN(args[2], "..", 2)
		idx := -1
		for i, sha := range f.order {
			if sha == parts[0] {
				idx = i
				break
			}
		}
		if idx < 0 {
			return runtime.ExecResult{Stdout: "fatal: bad revision", ExitCode: 128}, nil
		}
		var b strings.Builder
		for _, sha := range f.order[idx+1:] {
			b.WriteString(sha + "\n")
		}
		return ok(b.String())
	case "show":
		sha := args[len(args)-1]
		c, found := f.commits[sha]
		if !found {
			return runtime.ExecResult{Stdout: "fatal: bad object", ExitCode: 128}, nil
		}
		if args[1] == "-s" {
			const sep = "\x1f"
			return ok(sha + sep + c.author + sep + strconv.FormatInt(c.ts, 10) + sep + c.msg + "\n")
		}
		return ok(strings.Join(c.files, "\n") + "\n")
	}
	return runtime.ExecResult{Stdout: "unknown command", ExitCode: 1}, nil
}

func startMonitor(t *testing.T, prober *fakeProber) (*Monitor, chan Event) {
	t.Helper()
	events := make(chan Event, 16)
	mon := New("sess-1", "ctr", "/workspace", 10*time.Millisecond, prober, events)
	mon.Start(context.Background())
	t.Cleanup(mon.Stop)
	return mon, events
}

func waitStatus(t *testing.T, mon *Monitor, cond func(Snapshot) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond(mon.Status()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("monitor never reached expected state, last: %+v", mon.Status())
}

func recvEvent(t *testing.T, events chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, events chan Event) {
	t.Helper()
	select {
	case ev := <-events:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBaselineEmitsNothing(t *testing.T) {
	prober := newFakeProber()
	prober.commit("aaa111", "alice", "initial commit", "main.py")

	mon, events := startMonitor(t, prober)

	waitStatus(t, mon, func(s Snapshot) bool { return s.LastSHA == "aaa111" })
	assertNoEvent(t, events)
}

func TestNewCommitEmitsEvent(t *testing.T) {
	prober := newFakeProber()
	prober.commit("aaa111", "alice", "initial commit", "main.py")

	mon, events := startMonitor(t, prober)
	waitStatus(t, mon, func(s Snapshot) bool { return s.LastSHA == "aaa111" })

	prober.commit("bbb222", "agent", "add feature", "main.py", "feature.py")

	ev := recvEvent(t, events)
	if ev.SessionID != "sess-1" {
		t.Errorf("session id: %q", ev.SessionID)
	}
	if ev.SHA != "bbb222" || ev.Author != "agent" || ev.Message != "add feature" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if len(ev.ChangedFiles) != 2 {
		t.Errorf("changed files: %v", ev.ChangedFiles)
	}
	if ev.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}

	waitStatus(t, mon, func(s Snapshot) bool { return s.LastSHA == "bbb222" })
}

func TestMultipleCommitsOldestFirst(t *testing.T) {
	prober := newFakeProber()
	prober.commit("aaa111", "alice", "initial commit")

	mon, events := startMonitor(t, prober)
	waitStatus(t, mon, func(s Snapshot) bool { return s.LastSHA == "aaa111" })

	// Two commits land between polls; both must be reported in order.
	prober.mu.Lock()
	prober.order = append(prober.order, "bbb222", "ccc333")
	prober.commits["bbb222"] = fakeCommit{author: "agent", ts: 1700000001, msg: "step one"}
	prober.commits["ccc333"] = fakeCommit{author: "agent", ts: 1700000002, msg: "step two"}
	prober.head = "ccc333"
	prober.mu.Unlock()

	first := recvEvent(t, events)
	second := recvEvent(t, events)
	if first.SHA != "bbb222" || second.SHA != "ccc333" {
		t.Errorf("events out of order: %s then %s", first.SHA, second.SHA)
	}
}

func TestProbeFailureIsNoChange(t *testing.T) {
	prober := newFakeProber()
	prober.commit("aaa111", "alice", "initial commit")

	mon, events := startMonitor(t, prober)
	waitStatus(t, mon, func(s Snapshot) bool { return s.LastSHA == "aaa111" })

	prober.setFail(errors.New("container unreachable"))
	time.Sleep(50 * time.Millisecond)
	assertNoEvent(t, events)

	// The loop keeps polling; a commit after recovery is still seen.
	prober.setFail(nil)
	prober.commit("bbb222", "agent", "after outage")

	ev := recvEvent(t, events)
	if ev.SHA != "bbb222" {
		t.Errorf("expected commit after recovery, got %+v", ev)
	}
}

func TestRewrittenHistoryReportsHead(t *testing.T) {
	prober := newFakeProber()
	prober.commit("aaa111", "alice", "initial commit")

	mon, events := startMonitor(t, prober)
	waitStatus(t, mon, func(s Snapshot) bool { return s.LastSHA == "aaa111" })

	// Amend: the old SHA disappears from history entirely.
	prober.mu.Lock()
	prober.order = []string{"ddd444"}
	prober.commits["ddd444"] = fakeCommit{author: "agent", ts: 1700000003, msg: "amended"}
	prober.head = "ddd444"
	prober.mu.Unlock()

	ev := recvEvent(t, events)
	if ev.SHA != "ddd444" {
		t.Errorf("expected new head reported, got %+v", ev)
	}
}

func TestCommitInsideFirstInterval(t *testing.T) {
	prober := newFakeProber()
	prober.commit("aaa111", "alice", "initial commit")

	// Long interval: the commit lands well before the first tick fires.
	events := make(chan Event, 16)
	mon := New("sess-1", "ctr", "/workspace", 100*time.Millisecond, prober, events)
	mon.Start(context.Background())
	t.Cleanup(mon.Stop)

	// The baseline must be pinned by the time Start returns.
	if got := mon.Status().LastSHA; got != "aaa111" {
		t.Fatalf("baseline not pinned at start: %q", got)
	}

	prober.commit("bbb222", "agent", "during first interval")

	ev := recvEvent(t, events)
	if ev.SHA != "bbb222" {
		t.Errorf("expected first-interval commit reported, got %+v", ev)
	}
}

func TestDirtyFlag(t *testing.T) {
	prober := newFakeProber()
	prober.commit("aaa111", "alice", "initial commit")

	mon, _ := startMonitor(t, prober)
	waitStatus(t, mon, func(s Snapshot) bool { return s.LastSHA == "aaa111" })

	prober.setDirty(true)
	waitStatus(t, mon, func(s Snapshot) bool { return s.Dirty })

	prober.setDirty(false)
	waitStatus(t, mon, func(s Snapshot) bool { return !s.Dirty })
}

func TestStopTerminatesLoop(t *testing.T) {
	prober := newFakeProber()
	prober.commit("aaa111", "alice", "initial commit")

	events := make(chan Event, 16)
	mon := New("sess-1", "ctr", "/workspace", 10*time.Millisecond, prober, events)
	mon.Start(context.Background())

	done := make(chan struct{})
	go func() {
		mon.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
