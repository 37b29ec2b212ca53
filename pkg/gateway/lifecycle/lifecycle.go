package lifecycle

import "sync/atomic"

// Lifecycle is a tiny process lifecycle state holder shared across handlers.
// It tracks readiness draining during graceful shutdown and the number of
// relay calls still in flight, so shutdown can wait for calls to wind down.
type Lifecycle struct {
	draining    atomic.Bool
	activeCalls atomic.Int64
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// CallStarted records a relay call entering its session loop.
func (l *Lifecycle) CallStarted() {
	if l == nil {
		return
	}
	l.activeCalls.Add(1)
}

// CallEnded records a relay call leaving its session loop.
func (l *Lifecycle) CallEnded() {
	if l == nil {
		return
	}
	l.activeCalls.Add(-1)
}

// ActiveCalls reports the number of relay calls currently in flight.
func (l *Lifecycle) ActiveCalls() int64 {
	if l == nil {
		return 0
	}
	return l.activeCalls.Load()
}
