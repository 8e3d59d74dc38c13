package syncengine

import (
	"time"

	"github.com/hunterclarke/cosmos/lib/model"
)

// coalescer rate-limits progress emission to at most one event per phase
// per coalesceInterval, always letting the final event for a phase through
// regardless of timing.
type coalescer struct {
	out      chan<- model.ProgressEvent
	interval time.Duration
	last     map[model.SyncPhase]time.Time
}

const coalesceInterval = 100 * time.Millisecond

func newCoalescer(out chan<- model.ProgressEvent) *coalescer {
	return &coalescer{out: out, interval: coalesceInterval, last: make(map[model.SyncPhase]time.Time)}
}

// emit sends ev unless a non-final event for the same phase was already
// sent within the last interval.
func (c *coalescer) emit(ev model.ProgressEvent, final bool) {
	if c.out == nil {
		return
	}
	now := time.Now()
	if !final {
		if t, ok := c.last[ev.Phase]; ok && now.Sub(t) < c.interval {
			return
		}
	}
	c.last[ev.Phase] = now
	select {
	case c.out <- ev:
	default:
		// A full channel means the host isn't draining progress fast
		// enough; dropping an intermediate update is preferable to
		// blocking the sync pipeline on it.
	}
}
