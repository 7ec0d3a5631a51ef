package server

import "time"

// ConnState tracks a peer's session lifecycle.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateDiscovering  ConnState = "discovering"
	StateConnecting   ConnState = "connecting"
	StateSyncing      ConnState = "syncing"
	StateActive       ConnState = "active"
)

// connTracker is the per-peer state machine. It is only touched under the
// hub mutex, so it carries no lock of its own.
type connTracker struct {
	state     ConnState
	enteredAt time.Time
	timeout   time.Duration
}

func newConnTracker(now time.Time) *connTracker {
	return &connTracker{state: StateConnecting, enteredAt: now, timeout: syncTimeout}
}

func (c *connTracker) State() ConnState {
	if c == nil {
		return StateDisconnected
	}
	return c.state
}

// set transitions unconditionally; the caller decides legality.
func (c *connTracker) set(state ConnState, now time.Time) {
	c.state = state
	c.enteredAt = now
}

// forceActiveIfStalled advances a peer stuck in Syncing past the timeout.
// The client proceeds with possibly stale state rather than hanging; the
// caller logs the desync warning.
func (c *connTracker) forceActiveIfStalled(now time.Time) bool {
	if c == nil || c.state != StateSyncing {
		return false
	}
	if now.Sub(c.enteredAt) < c.timeout {
		return false
	}
	c.set(StateActive, now)
	return true
}
