// Package session orchestrates sandbox container lifecycles: creation with
// port allocation and credential injection, start/stop, removal, and the
// label-based cleanup sweep. It owns the registry, the git monitors, and
// the terminal streams bound to each session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/claude-sandbox/sandboxd/internal/config"
	"github.com/claude-sandbox/sandboxd/internal/creds"
	"github.com/claude-sandbox/sandboxd/internal/gitmon"
	"github.com/claude-sandbox/sandboxd/internal/ports"
	"github.com/claude-sandbox/sandboxd/internal/runtime"
	"github.com/claude-sandbox/sandboxd/internal/terminal"
)

// ContainerPort is the fixed port the agent listens on inside every
// sandbox container; the allocated host port maps onto it.
const ContainerPort = 8080

// CreateSpec is an operator request for a new session.
type CreateSpec struct {
	Name      string `json:"name"`
	Image     string `json:"image,omitempty"`
	Port      int    `json:"port,omitempty"`
	GitRepo   string `json:"repo,omitempty"`
	GitBranch string `json:"branch,omitempty"`
}

// CleanupItem is the outcome of removing one container during cleanup.
type CleanupItem struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

// CleanupReport aggregates per-item cleanup outcomes.
type CleanupReport struct {
	Removed []CleanupItem `json:"removed"`
	Failed  []CleanupItem `json:"failed"`
}

// Options configures a Manager.
type Options struct {
	Runtime        runtime.Runtime
	Allocator      *ports.Allocator
	Defaults       config.Defaults
	RuntimeTimeout time.Duration
	PollInterval   time.Duration

	// Discover overrides credential discovery, for tests. Nil means
	// creds.Discover.
	Discover func() []creds.Entry
}

// Manager coordinates the runtime adapter, port allocator, credential
// discovery, registry, git monitors, and terminal multiplexer. Operations
// on one session id are serialized; distinct ids proceed concurrently.
type Manager struct {
	rt       runtime.Runtime
	alloc    *ports.Allocator
	defaults config.Defaults
	timeout  time.Duration
	interval time.Duration
	discover func() []creds.Entry

	reg *registry
	mux *terminal.Mux

	mu           sync.Mutex
	locks        map[string]*sync.Mutex
	pending      map[string]bool // names claimed by in-flight creates
	bootstrapped map[string]bool // sessions with the agent installed
	monitors     map[string]*gitmon.Monitor
	events       chan gitmon.Event
}

// NewManager wires a Manager from its collaborators.
func NewManager(opts Options) *Manager {
	discover := opts.Discover
	if discover == nil {
		discover = creds.Discover
	}
	timeout := opts.RuntimeTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Manager{
		rt:       opts.Runtime,
		alloc:    opts.Allocator,
		defaults: opts.Defaults,
		timeout:  timeout,
		interval: interval,
		discover: discover,
		reg:          newRegistry(),
		mux:          terminal.NewMux(opts.Runtime),
		locks:        make(map[string]*sync.Mutex),
		pending:      make(map[string]bool),
		bootstrapped: make(map[string]bool),
		monitors:     make(map[string]*gitmon.Monitor),
		events:       make(chan gitmon.Event, 64),
	}
}

// Terminal returns the terminal multiplexer for attaching clients.
func (m *Manager) Terminal() *terminal.Mux { return m.mux }

// Events is the stream of git commit events from all monitored sessions.
func (m *Manager) Events() <-chan gitmon.Event { return m.events }

// claimName guards the window between the uniqueness check and the
// registry insert so concurrent creates cannot share a name.
func (m *Manager) claimName(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending[name] {
		return fmt.Errorf("%w: %s", ErrNameConflict, name)
	}
	if id, ok := m.reg.idByName(name); ok {
		if rec, ok := m.reg.get(id); ok && rec.Status != StatusRemoved {
			return fmt.Errorf("%w: %s", ErrNameConflict, name)
		}
	}
	m.pending[name] = true
	return nil
}

func (m *Manager) releaseName(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, name)
}

// lockFor returns the per-session mutex, creating it on first use.
func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *Manager) runtimeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.timeout)
}

// Create validates the spec, reserves a port, discovers credentials, and
// asks the runtime for a container. Any failure after the port was
// reserved rolls the reservation back before the error is surfaced.
func (m *Manager) Create(ctx context.Context, spec CreateSpec) (Record, error) {
	if err := ValidateName(spec.Name); err != nil {
		return Record{}, opErr("create", "", err)
	}
	if err := m.claimName(spec.Name); err != nil {
		return Record{}, opErr("create", "", err)
	}
	defer m.releaseName(spec.Name)

	id := uuid.New().String()

	var port int
	var err error
	if spec.Port != 0 {
		port, err = spec.Port, m.alloc.Request(spec.Port, id)
	} else {
		port, err = m.alloc.Reserve(id)
	}
	if err != nil {
		return Record{}, opErr("create", id, err)
	}

	rec, err := m.createContainer(ctx, id, port, spec)
	if err != nil {
		// The critical rollback: a failed create must not leak its port.
		m.alloc.Release(port)
		return Record{}, opErr("create", id, err)
	}

	m.reg.insert(rec)
	log.Printf("[session] created: id=%s name=%s port=%d", id, spec.Name, port)
	return cloneRecord(rec), nil
}

func (m *Manager) createContainer(ctx context.Context, id string, port int, spec CreateSpec) (*Record, error) {
	image := spec.Image
	if image == "" {
		image = m.defaults.Image
	}

	env := make(map[string]string, len(m.defaults.Environment))
	for k, v := range m.defaults.Environment {
		env[k] = v
	}

	var mounts []runtime.Mount
	for _, entry := range m.discover() {
		for k, v := range entry.EnvVars {
			env[k] = v
		}
		if entry.Source == creds.SourceFile {
			mounts = append(mounts, runtime.Mount{
				Source:   entry.FilePath,
				Target:   entry.MountPath,
				ReadOnly: true,
			})
		}
	}

	labels := map[string]string{
		LabelManaged: "true",
		LabelID:      id,
		LabelName:    spec.Name,
		LabelPort:    strconv.Itoa(port),
	}
	if spec.GitRepo != "" {
		labels[LabelRepo] = spec.GitRepo
	}
	if spec.GitBranch != "" {
		labels[LabelBranch] = spec.GitBranch
	}

	callCtx, cancel := m.runtimeCtx(ctx)
	defer cancel()

	containerID, err := m.rt.Create(callCtx, runtime.CreateParams{
		Name:          spec.Name,
		Image:         image,
		WorkingDir:    m.defaults.WorkingDir,
		Env:           env,
		Labels:        labels,
		Mounts:        mounts,
		HostPort:      port,
		ContainerPort: ContainerPort,
		MemoryLimit:   m.defaults.MemoryLimitBytes(),
	})
	if err != nil {
		return nil, err
	}

	return &Record{
		ID:          id,
		Name:        spec.Name,
		Image:       image,
		Status:      StatusCreated,
		CreatedAt:   time.Now().UTC(),
		GitRepo:     spec.GitRepo,
		GitBranch:   spec.GitBranch,
		HostPort:    port,
		WorkingDir:  m.defaults.WorkingDir,
		Labels:      labels,
		ContainerID: containerID,
	}, nil
}

// Start transitions the session to Running. Starting an already-running
// container is treated as success.
func (m *Manager) Start(ctx context.Context, id string) (Record, error) {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	rec, ok := m.reg.get(id)
	if !ok {
		return Record{}, opErr("start", id, ErrNotFound)
	}

	callCtx, cancel := m.runtimeCtx(ctx)
	defer cancel()
	if err := m.rt.Start(callCtx, rec.Name); err != nil {
		if errors.Is(err, runtime.ErrNotFound) {
			return Record{}, opErr("start", id, ErrNotFound)
		}
		return Record{}, opErr("start", id, err)
	}

	m.reg.setStatus(id, StatusRunning)

	// Install the agent once per session. A failed install is retried on
	// the next start; the terminal still works as a plain shell meanwhile.
	if !m.isBootstrapped(id) {
		if err := m.bootstrapAgent(ctx, rec); err != nil {
			log.Printf("[session] agent bootstrap failed: id=%s: %v", id, err)
		} else {
			m.setBootstrapped(id)
			log.Printf("[session] agent bootstrapped: id=%s", id)
		}
	}

	if rec.GitRepo != "" {
		m.startMonitor(rec)
	}
	log.Printf("[session] started: id=%s name=%s", id, rec.Name)

	rec, _ = m.reg.get(id)
	return rec, nil
}

// Stop transitions the session to Stopped, cancelling its git monitor and
// force-closing any attached terminal streams. Stopping an already-stopped
// container is treated as success.
func (m *Manager) Stop(ctx context.Context, id string) (Record, error) {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	rec, ok := m.reg.get(id)
	if !ok {
		return Record{}, opErr("stop", id, ErrNotFound)
	}

	callCtx, cancel := m.runtimeCtx(ctx)
	defer cancel()
	if err := m.rt.Stop(callCtx, rec.Name); err != nil {
		if errors.Is(err, runtime.ErrNotFound) {
			return Record{}, opErr("stop", id, ErrNotFound)
		}
		return Record{}, opErr("stop", id, err)
	}

	m.stopMonitor(id)
	m.mux.CloseSession(id)
	m.reg.setStatus(id, StatusStopped)
	log.Printf("[session] stopped: id=%s name=%s", id, rec.Name)

	rec, _ = m.reg.get(id)
	return rec, nil
}

// Remove deletes the session. It requires status Stopped unless force is
// set; force attempts a best-effort stop first. The port reservation and
// the git monitor are released before the registry entry is deleted.
func (m *Manager) Remove(ctx context.Context, id string, force bool) error {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	rec, ok := m.reg.get(id)
	if !ok {
		return opErr("remove", id, ErrNotFound)
	}

	if rec.Status == StatusRunning {
		if !force {
			return opErr("remove", id, ErrStillRunning)
		}
		callCtx, cancel := m.runtimeCtx(ctx)
		if err := m.rt.Stop(callCtx, rec.Name); err != nil && !errors.Is(err, runtime.ErrNotFound) {
			log.Printf("[session] forced remove: stop failed for %s, proceeding: %v", rec.Name, err)
		}
		cancel()
	}

	m.stopMonitor(id)
	m.mux.CloseSession(id)

	callCtx, cancel := m.runtimeCtx(ctx)
	defer cancel()
	if err := m.rt.Remove(callCtx, rec.Name, force); err != nil && !errors.Is(err, runtime.ErrNotFound) {
		return opErr("remove", id, err)
	}

	m.alloc.Release(rec.HostPort)
	m.clearBootstrapped(id)
	m.reg.remove(id)
	log.Printf("[session] removed: id=%s name=%s", id, rec.Name)
	return nil
}

// Get returns one session record.
func (m *Manager) Get(id string) (Record, error) {
	rec, ok := m.reg.get(id)
	if !ok {
		return Record{}, opErr("get", id, ErrNotFound)
	}
	return rec, nil
}

// List reconciles the runtime's current view of managed containers into
// the registry and returns the resulting records. Containers created by a
// previous process are adopted from their labels.
func (m *Manager) List(ctx context.Context) ([]Record, error) {
	callCtx, cancel := m.runtimeCtx(ctx)
	defer cancel()

	infos, err := m.rt.List(callCtx, ManagedLabels)
	if err != nil {
		return nil, opErr("list", "", err)
	}

	seen := make(map[string]bool)
	for _, info := range infos {
		rec := m.adopt(info)
		seen[rec.ID] = true
		m.reg.setStatus(rec.ID, mapEngineStatus(info.Status))
	}

	// Records whose containers vanished outside our control are marked
	// errored rather than silently dropped; only remove deletes entries.
	records := m.reg.list()
	for _, rec := range records {
		if !seen[rec.ID] && rec.Status != StatusError {
			m.reg.setStatus(rec.ID, StatusError)
		}
	}

	return m.reg.list(), nil
}

// adopt folds one runtime-reported container into the registry, creating
// a record from its labels when the container is not yet tracked.
func (m *Manager) adopt(info runtime.ContainerInfo) Record {
	id := info.Labels[LabelID]
	if id == "" {
		id = info.ID
	}
	if rec, ok := m.reg.get(id); ok {
		return rec
	}

	port, _ := strconv.Atoi(info.Labels[LabelPort])
	if port != 0 {
		if err := m.alloc.Request(port, id); err != nil {
			log.Printf("[session] adopt %s: cannot re-reserve port %d: %v", info.Name, port, err)
		}
	}

	rec := &Record{
		ID:          id,
		Name:        info.Name,
		Image:       info.Image,
		Status:      mapEngineStatus(info.Status),
		CreatedAt:   info.CreatedAt,
		GitRepo:     info.Labels[LabelRepo],
		GitBranch:   info.Labels[LabelBranch],
		HostPort:    port,
		WorkingDir:  m.defaults.WorkingDir,
		Labels:      info.Labels,
		ContainerID: info.ID,
	}
	m.reg.insert(rec)
	log.Printf("[session] adopted: id=%s name=%s status=%s", id, info.Name, rec.Status)
	return cloneRecord(rec)
}

// Reconcile refreshes registry state from the runtime. Used by the
// scheduled background sweep.
func (m *Manager) Reconcile(ctx context.Context) {
	if _, err := m.List(ctx); err != nil {
		log.Printf("[session] reconcile: %v", err)
	}
}

func (m *Manager) startMonitor(rec Record) {
	m.mu.Lock()
	if _, running := m.monitors[rec.ID]; running {
		m.mu.Unlock()
		return
	}
	mon := gitmon.New(rec.ID, rec.Name, rec.WorkingDir, m.interval, m.rt, m.events)
	m.monitors[rec.ID] = mon
	m.mu.Unlock()

	// Start outside the manager lock: it probes the container synchronously
	// to pin the baseline commit.
	mon.Start(context.Background())
	log.Printf("[session] git monitor started: id=%s", rec.ID)
}

func (m *Manager) stopMonitor(id string) {
	m.mu.Lock()
	mon, ok := m.monitors[id]
	if ok {
		delete(m.monitors, id)
	}
	m.mu.Unlock()

	if ok {
		mon.Stop()
		log.Printf("[session] git monitor stopped: id=%s", id)
	}
}

// MonitorStatus returns the git monitor snapshot for a session, if one is
// running.
func (m *Manager) MonitorStatus(id string) (gitmon.Snapshot, bool) {
	m.mu.Lock()
	mon, ok := m.monitors[id]
	m.mu.Unlock()
	if !ok {
		return gitmon.Snapshot{}, false
	}
	return mon.Status(), true
}

// Shutdown stops all monitors and terminal streams. Called on process exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	monitors := make([]*gitmon.Monitor, 0, len(m.monitors))
	for _, mon := range m.monitors {
		monitors = append(monitors, mon)
	}
	m.monitors = make(map[string]*gitmon.Monitor)
	m.mu.Unlock()

	for _, mon := range monitors {
		mon.Stop()
	}
	for _, rec := range m.reg.list() {
		m.mux.CloseSession(rec.ID)
	}
}
