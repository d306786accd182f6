// Package ports hands out host ports for sessions from a fixed range,
// tracking which session owns each reservation.
package ports

import (
	"errors"
	"fmt"
	"sync"
)

// ErrExhausted is returned when every port in the range is reserved.
var ErrExhausted = errors.New("port range exhausted")

// Allocator reserves host ports from [base, base+count). All operations
// are serialized on a single mutex.
type Allocator struct {
	mu       sync.Mutex
	base     int
	count    int
	reserved map[int]string // port -> owning session id
}

// NewAllocator creates an allocator over [base, base+count).
func NewAllocator(base, count int) *Allocator {
	return &Allocator{
		base:     base,
		count:    count,
		reserved: make(map[int]string),
	}
}

// Reserve assigns the lowest free port in the range to sessionID.
func (a *Allocator) Reserve(sessionID string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for port := a.base; port < a.base+a.count; port++ {
		if _, taken := a.reserved[port]; !taken {
			a.reserved[port] = sessionID
			return port, nil
		}
	}
	return 0, ErrExhausted
}

// Request reserves a specific port for sessionID. The port must be inside
// the configured range and free.
func (a *Allocator) Request(port int, sessionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if port < a.base || port >= a.base+a.count {
		return fmt.Errorf("port %d outside range [%d, %d)", port, a.base, a.base+a.count)
	}
	if owner, taken := a.reserved[port]; taken {
		if owner == sessionID {
			return nil
		}
		return fmt.Errorf("port %d already reserved: %w", port, ErrExhausted)
	}
	a.reserved[port] = sessionID
	return nil
}

// Release frees a port. Releasing an unreserved port is a no-op.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.reserved, port)
}

// Owner returns the session holding port, or "" if the port is free.
func (a *Allocator) Owner(port int) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reserved[port]
}

// Reserved returns the number of active reservations.
func (a *Allocator) Reserved() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reserved)
}
