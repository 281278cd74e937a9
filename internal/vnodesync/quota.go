package vnodesync

import (
	"sync/atomic"

	"vnodedb/internal/metrics"
)

// Quota is the process-wide, shared facility tracked by
// max_incomming_syncs/max_outgoing_syncs: a session may start only after
// SignalStart succeeds, and its slot is Released on removal regardless of
// outcome.
// One Quota is shared by every vnode Controller in the process — this is
// the "global mutable state" the spec's design notes call for, expressed
// as atomic counters rather than a lock.
type Quota struct {
	maxIncoming int32
	maxOutgoing int32
	incoming    int32
	outgoing    int32

	metrics *metrics.Registry
}

// NewQuota constructs a quota with the configured per-direction caps.
func NewQuota(maxIncoming, maxOutgoing int) *Quota {
	return &Quota{maxIncoming: int32(maxIncoming), maxOutgoing: int32(maxOutgoing)}
}

// SetMetrics attaches a registry whose SyncIncoming/SyncOutgoing gauges
// track this quota's in-use counts from here on. Optional: a quota with no
// registry attached behaves exactly as before.
func (q *Quota) SetMetrics(m *metrics.Registry) { q.metrics = m }

// SignalStart attempts to reserve one slot in the given direction, failing
// fast (returning false) if the cap is already reached.
func (q *Quota) SignalStart(dir Direction) bool {
	counter, max := q.counterFor(dir)
	for {
		cur := atomic.LoadInt32(counter)
		if cur >= max {
			return false
		}
		if atomic.CompareAndSwapInt32(counter, cur, cur+1) {
			q.setGauge(dir, cur+1)
			return true
		}
	}
}

// Release returns a previously reserved slot. The vnode controller calls it
// once per successful SignalStart, when it removes the session (or abandons
// a start that failed after the slot was reserved).
func (q *Quota) Release(dir Direction) {
	counter, _ := q.counterFor(dir)
	q.setGauge(dir, atomic.AddInt32(counter, -1))
}

func (q *Quota) setGauge(dir Direction, value int32) {
	if q.metrics == nil {
		return
	}
	if dir == Incoming {
		q.metrics.SyncIncoming.Set(float64(value))
	} else {
		q.metrics.SyncOutgoing.Set(float64(value))
	}
}

func (q *Quota) counterFor(dir Direction) (*int32, int32) {
	if dir == Incoming {
		return &q.incoming, q.maxIncoming
	}
	return &q.outgoing, q.maxOutgoing
}

// Gauges reports the current in-use counts, for metrics exposition.
func (q *Quota) Gauges() (incoming, outgoing int) {
	return int(atomic.LoadInt32(&q.incoming)), int(atomic.LoadInt32(&q.outgoing))
}
