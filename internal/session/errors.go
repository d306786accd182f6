package session

import (
	"errors"
	"fmt"

	"github.com/claude-sandbox/sandboxd/internal/ports"
	"github.com/claude-sandbox/sandboxd/internal/runtime"
	"github.com/claude-sandbox/sandboxd/internal/terminal"
)

// ErrNameConflict is returned when a non-removed session already uses the
// requested name.
var ErrNameConflict = errors.New("session name already in use")

// ErrNotFound is returned when no session exists for the given id.
var ErrNotFound = errors.New("session not found")

// ErrStillRunning is returned by remove when the session is running and
// force was not set.
var ErrStillRunning = errors.New("session is still running")

// ErrPortExhausted is returned when no port in the configured range is free.
var ErrPortExhausted = ports.ErrExhausted

// ErrRuntimeUnavailable is returned when the container runtime cannot be
// reached or a call exceeded its deadline.
var ErrRuntimeUnavailable = runtime.ErrUnavailable

// ErrExecUnavailable is returned when a terminal exec stream cannot be opened.
var ErrExecUnavailable = terminal.ErrExecUnavailable

// OpError wraps a failure with the operation and the affected session so
// every surfaced error identifies both.
type OpError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *OpError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func opErr(op, sessionID string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, SessionID: sessionID, Err: err}
}
