package cache

import (
	"sync"
	"time"
)

// HealthState represents the remote backend health state
type HealthState int32

const (
	// StateHealthy routes operations to the remote backend.
	StateHealthy HealthState = iota
	// StateDegraded routes all operations to the local fallback tier until
	// the cooldown elapses.
	StateDegraded
	// StateProbing admits a single operation against the remote backend to
	// test whether it has recovered.
	StateProbing
)

func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "HEALTHY"
	case StateDegraded:
		return "DEGRADED"
	case StateProbing:
		return "PROBING"
	default:
		return "UNKNOWN"
	}
}

// health owns the Healthy -> Degraded -> Probing state machine. The fixed
// cooldown between Degraded and Probing prevents thundering-herd reconnect
// storms; only one probe operation is admitted at a time.
type health struct {
	mu         sync.Mutex
	state      HealthState
	degradedAt time.Time
	cooldown   time.Duration
	now        func() time.Time
}

func newHealth(cooldown time.Duration, now func() time.Time) *health {
	return &health{
		state:    StateHealthy,
		cooldown: cooldown,
		now:      now,
	}
}

// allowRemote reports whether the next operation may attempt the remote
// backend. In the degraded state it transitions to probing once the cooldown
// has elapsed, admitting exactly one caller as the probe.
func (h *health) allowRemote() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case StateHealthy:
		return true
	case StateDegraded:
		if h.now().Sub(h.degradedAt) >= h.cooldown {
			h.state = StateProbing
			return true
		}
		return false
	case StateProbing:
		return false
	}
	return false
}

// markSuccess records a successful remote operation.
func (h *health) markSuccess() {
	h.mu.Lock()
	h.state = StateHealthy
	h.mu.Unlock()
}

// markFailure records a failed remote operation and starts a fresh cooldown.
func (h *health) markFailure() {
	h.mu.Lock()
	h.state = StateDegraded
	h.degradedAt = h.now()
	h.mu.Unlock()
}

// current returns the current state.
func (h *health) current() HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}
