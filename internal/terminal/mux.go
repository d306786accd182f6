// Package terminal bridges interactive exec streams into sandbox
// containers to any number of attached viewers. Output fans out to every
// viewer in arrival order; input is accepted only from the client holding
// write authority, so two operators can never interleave keystrokes.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/claude-sandbox/sandboxd/internal/runtime"
)

// DefaultShell is started inside the container when no command is given.
var DefaultShell = []string{"/bin/bash"}

// ErrExecUnavailable is returned when the exec stream cannot be opened.
var ErrExecUnavailable = errors.New("exec stream unavailable")

// ErrWriteDenied is returned when a client without write authority sends
// input while another client holds it.
var ErrWriteDenied = errors.New("another client holds write authority")

// MaxInputMessageSize is the largest single input write accepted.
const MaxInputMessageSize = 64 * 1024

// Mux multiplexes one interactive exec stream per session across attached
// clients. A session with no attached clients holds no stream: the last
// detach closes the exec, and the next attach opens a fresh one.
type Mux struct {
	rt runtime.Runtime

	mu       sync.Mutex
	sessions map[string]*stream // session id -> active stream
}

// NewMux creates a multiplexer over the given runtime.
func NewMux(rt runtime.Runtime) *Mux {
	return &Mux{
		rt:       rt,
		sessions: make(map[string]*stream),
	}
}

// stream is a live exec stream with its subscriber set.
type stream struct {
	mux       *Mux
	sessionID string
	exec      *runtime.ExecStream
	cancel    context.CancelFunc

	mu      sync.Mutex
	clients []*Client
	writer  *Client // write authority holder, nil when unclaimed
	closed  bool
}

// Client is one attached viewer. Output bytes are written to the sink the
// caller supplied at attach time.
type Client struct {
	s    *stream
	sink io.Writer
}

// Attach connects w to the session's terminal, opening a fresh exec stream
// if none is active. The first client to write claims write authority.
func (m *Mux) Attach(sessionID, containerName string, cmd []string, w io.Writer) (*Client, error) {
	if len(cmd) == 0 {
		cmd = DefaultShell
	}

	for {
		m.mu.Lock()
		s, ok := m.sessions[sessionID]
		if !ok {
			execCtx, cancel := context.WithCancel(context.Background())
			exec, err := m.rt.ExecInteractive(execCtx, containerName, cmd)
			if err != nil {
				cancel()
				m.mu.Unlock()
				return nil, fmt.Errorf("%w: %v", ErrExecUnavailable, err)
			}
			s = &stream{mux: m, sessionID: sessionID, exec: exec, cancel: cancel}
			m.sessions[sessionID] = s
			go m.pump(s)
			log.Printf("[terminal] stream opened: session=%s", sessionID)
		}
		m.mu.Unlock()

		// The append and the closed check share the stream lock: the pump
		// cannot shut the stream down between them, so a returned client
		// is always on a live stream.
		c := &Client{s: s, sink: w}
		s.mu.Lock()
		if !s.closed {
			s.clients = append(s.clients, c)
			s.mu.Unlock()
			return c, nil
		}
		s.mu.Unlock()

		// Lost the race with the pump's shutdown; forget the dead stream
		// and attach again on a fresh one.
		m.drop(s)
	}
}

// pump relays exec output to every attached client in arrival order. It
// runs until the exec stream ends or the stream is closed.
func (m *Mux) pump(s *stream) {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.exec.Stdout.Read(buf)
		if n > 0 {
			s.broadcast(buf[:n])
		}
		if err != nil {
			m.drop(s)
			s.shutdown()
			log.Printf("[terminal] stream ended: session=%s", s.sessionID)
			return
		}
	}
}

// broadcast writes p to each client sequentially so every viewer observes
// the same byte order. A failing sink detaches that client.
func (s *stream) broadcast(p []byte) {
	s.mu.Lock()
	clients := make([]*Client, len(s.clients))
	copy(clients, s.clients)
	s.mu.Unlock()

	for _, c := range clients {
		if _, err := c.sink.Write(p); err != nil {
			c.Detach()
		}
	}
}

// Write sends input to the exec stream. Authority is claimed implicitly by
// the first writer and held until that client detaches.
func (c *Client) Write(p []byte) (int, error) {
	if len(p) > MaxInputMessageSize {
		return 0, fmt.Errorf("input message exceeds %d bytes", MaxInputMessageSize)
	}

	s := c.s
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if s.writer == nil {
		s.writer = c
	}
	if s.writer != c {
		s.mu.Unlock()
		return 0, ErrWriteDenied
	}
	s.mu.Unlock()

	return s.exec.Stdin.Write(p)
}

// HasAuthority reports whether this client currently holds write authority.
func (c *Client) HasAuthority() bool {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.s.writer == c
}

// Resize adjusts the PTY dimensions. Any attached client may resize.
func (c *Client) Resize(cols, rows uint16) error {
	return c.s.exec.Resize(cols, rows)
}

// Detach removes the client. Detaching the last client closes the exec
// stream; a later attach opens a fresh one with no history.
func (c *Client) Detach() {
	s := c.s
	s.mu.Lock()
	for i, other := range s.clients {
		if other == c {
			s.clients = append(s.clients[:i], s.clients[i+1:]...)
			break
		}
	}
	if s.writer == c {
		s.writer = nil
	}
	last := len(s.clients) == 0 && !s.closed
	s.mu.Unlock()

	if last {
		s.mux.drop(s)
		s.shutdown()
	}
}

// shutdown closes the exec stream once.
func (s *stream) shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.clients = nil
	s.writer = nil
	s.mu.Unlock()

	s.exec.Close()
	s.cancel()
}

// drop forgets the stream so the next attach opens a fresh exec.
func (m *Mux) drop(s *stream) {
	m.mu.Lock()
	if m.sessions[s.sessionID] == s {
		delete(m.sessions, s.sessionID)
	}
	m.mu.Unlock()
}

// Attached reports whether the session has a live stream.
func (m *Mux) Attached(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionID]
	return ok
}

// CloseSession force-closes the session's stream and detaches all clients.
// Used when the owning session is stopped or removed.
func (m *Mux) CloseSession(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if ok {
		s.shutdown()
		log.Printf("[terminal] stream force-closed: session=%s", sessionID)
	}
}
