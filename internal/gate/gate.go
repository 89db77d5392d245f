// Package gate tracks how many generation jobs are still in flight.
package gate

import (
	"errors"
	"sync"
)

// ErrUnderflow is returned when Done is called with nothing in flight.
var ErrUnderflow = errors.New("activity gate underflow")

// Gate is an incremental in-flight counter. It is purely observational: callers
// use it to disable re-submission and to drive a busy indicator.
// Safe for concurrent use.
type Gate struct {
	mu     sync.RWMutex
	active int
}

// New returns an inactive gate.
func New() *Gate {
	return &Gate{}
}

// Add registers n newly submitted jobs. Non-positive n is ignored.
func (g *Gate) Add(n int) {
	if n <= 0 {
		return
	}
	g.mu.Lock()
	g.active += n
	g.mu.Unlock()
}

// Done records one settlement. The counter never goes negative.
func (g *Gate) Done() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == 0 {
		return ErrUnderflow
	}
	g.active--
	return nil
}

// IsActive reports whether any job is still pending.
func (g *Gate) IsActive() bool {
	return g.ActiveCount() > 0
}

// ActiveCount returns the number of pending jobs.
func (g *Gate) ActiveCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active
}

// Snapshot is the gate state as exposed to the presentation layer.
type Snapshot struct {
	Active      bool `json:"active"`
	ActiveCount int  `json:"active_count"`
}

// Snapshot reads both values under one lock.
func (g *Gate) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Snapshot{Active: g.active > 0, ActiveCount: g.active}
}
