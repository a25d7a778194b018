package app

import (
	"sync/atomic"
	"time"

	"github.com/vandamme-proxy/vandamme/internal/proxy"
)

// Health tracks whether the gateway accepts traffic. It backs /readyz and the status
// field of /health. All methods are thread-safe.
type Health struct {
	ready atomic.Bool
	// since holds the unix nanos of the last transition to ready, zero while not ready.
	since atomic.Int64
}

var _ proxy.ReadinessChecker = (*Health)(nil)

// NewHealth creates a Health that is not ready.
func NewHealth() *Health {
	return &Health{}
}

// SetReady updates the readiness state.
func (h *Health) SetReady(ready bool) {
	if ready {
		if !h.ready.Swap(true) {
			h.since.Store(time.Now().UnixNano())
		}
		return
	}
	h.ready.Store(false)
	h.since.Store(0)
}

// IsReady returns the current readiness state.
func (h *Health) IsReady() bool {
	return h.ready.Load()
}

// ReadySince returns when the app last became ready, or the zero time while not ready.
func (h *Health) ReadySince() time.Time {
	ns := h.since.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
