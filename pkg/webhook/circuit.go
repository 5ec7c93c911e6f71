package webhook

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	circuitThreshold  = 8
	circuitResetAfter = 5 * time.Minute
)

// circuit is a per-endpoint breaker. It opens after circuitThreshold
// consecutive failed deliveries and closes again once circuitResetAfter has
// elapsed, letting traffic probe the endpoint.
type circuit struct {
	clock clockwork.Clock

	mu          sync.Mutex
	consecutive int
	open        bool
	openedAt    time.Time
}

func newCircuit(clock clockwork.Clock) *circuit {
	return &circuit{clock: clock}
}

// Allow reports whether a delivery may proceed, auto-resetting an expired
// open circuit.
func (c *circuit) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return true
	}

	if c.clock.Since(c.openedAt) >= circuitResetAfter {
		c.open = false
		c.consecutive = 0

		return true
	}

	return false
}

func (c *circuit) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutive = 0
	c.open = false
}

func (c *circuit) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutive++

	if c.consecutive >= circuitThreshold && !c.open {
		c.open = true
		c.openedAt = c.clock.Now()
	}
}
