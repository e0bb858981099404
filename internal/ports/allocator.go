// Package ports manages the fixed pool of TCP ports leased to sessions.
package ports

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ErrExhausted is returned by Acquire when every port in the range is leased.
var ErrExhausted = errors.New("port pool exhausted")

// ProbeFunc reports whether a candidate port is already bound on the host.
// The lease set stays authoritative; a probe only skips candidates that some
// process outside our control is listening on.
type ProbeFunc func(port int) bool

// Allocator hands out unique ports from a fixed closed interval.
// Safe for concurrent use.
type Allocator struct {
	start int
	end   int

	mu     sync.Mutex
	leased map[int]bool
	probe  ProbeFunc
}

// New creates an allocator for the closed interval [start, end].
func New(start, end int) (*Allocator, error) {
	if end < start {
		return nil, fmt.Errorf("invalid port range %d-%d", start, end)
	}
	return &Allocator{
		start:  start,
		end:    end,
		leased: make(map[int]bool),
	}, nil
}

// WithProbe installs a host-liveness probe consulted during Acquire.
func (a *Allocator) WithProbe(probe ProbeFunc) *Allocator {
	a.mu.Lock()
	a.probe = probe
	a.mu.Unlock()
	return a
}

// Acquire returns the lowest free port not currently leased, or ErrExhausted
// when the lease set covers the full range.
func (a *Allocator) Acquire() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for port := a.start; port <= a.end; port++ {
		if a.leased[port] {
			continue
		}
		if a.probe != nil && a.probe(port) {
			continue
		}
		a.leased[port] = true
		return port, nil
	}
	return 0, ErrExhausted
}

// Release returns a port to the pool. Releasing a port that is not leased is
// a no-op so teardown can be signalled from multiple triggers.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	delete(a.leased, port)
	a.mu.Unlock()
}

// Reserve marks a specific port as leased. Used at startup to re-seat ports
// held by sessions restored from the database. Reserving a port outside the
// range or one already leased returns an error.
func (a *Allocator) Reserve(port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if port < a.start || port > a.end {
		return fmt.Errorf("port %d outside range %d-%d", port, a.start, a.end)
	}
	if a.leased[port] {
		return fmt.Errorf("port %d already leased", port)
	}
	a.leased[port] = true
	return nil
}

// Leased returns the number of currently leased ports.
func (a *Allocator) Leased() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.leased)
}

// InUse reports whether the given port is currently leased.
func (a *Allocator) InUse(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.leased[port]
}

// DialProbe reports whether something on the host already answers on the
// port. Connect errors mean the port is free for our purposes.
func DialProbe(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 100*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
