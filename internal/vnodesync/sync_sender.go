package vnodesync

import (
	"time"

	"vnodedb/internal/causal"
	"vnodedb/internal/fabric"
	"vnodedb/internal/vnodestate"
)

// SyncSender serves a steady-state repair request from a peer whose clock
// trails ours. It prefers a log-driven iteration over the dots the peer is
// missing (cheap, precise) and falls back to a full scan filtered by
// Contained when the log no longer covers the gap.
type SyncSender struct {
	core *senderCore
}

// NewSyncSender builds a sender for a peer whose clock is clocksInPeer.
// self is this node's own identity (needed to check whether the log still
// covers our own gap to the peer); clocksInPeer is the peer's BVV as
// reported in its SyncStart.
func NewSyncSender(cookie fabric.Cookie, state *vnodestate.State, self, peer causal.NodeID, clocksInPeer causal.BitmappedVersionVector, transport fabric.Transport, cfg Config) *SyncSender {
	localClocks := state.Clocks.Clone()

	var iter iterFunc
	var snapshot causal.BitmappedVersionVector

	if logCoversGap(state, self, clocksInPeer) {
		snapshot = causal.NewBVV()
		seen := make(map[string]bool)
		var keys [][]byte
		for n, bv := range localClocks {
			snapshot[n] = bv
			for _, v := range bv.Delta(clocksInPeer.Get(n)) {
				k, ok := state.Log.Get(n, v)
				if !ok {
					continue
				}
				if ks := string(k); !seen[ks] {
					seen[ks] = true
					keys = append(keys, k)
				}
			}
		}
		idx := 0
		iter = func() ([]byte, causal.DottedCausalContainer, bool) {
			for idx < len(keys) {
				k := keys[idx]
				idx++
				raw, ok := state.Storage.Get(k)
				if !ok {
					continue
				}
				dcc, err := causal.DecodeDCC(raw)
				if err != nil {
					continue
				}
				return k, dcc.Fill(localClocks), true
			}
			return nil, causal.DottedCausalContainer{}, false
		}
	} else {
		snapshot = localClocks.Clone()
		it := state.Storage.Iterator()
		iter = func() ([]byte, causal.DottedCausalContainer, bool) {
			for {
				k, v, ok := it.Next()
				if !ok {
					return nil, causal.DottedCausalContainer{}, false
				}
				dcc, err := causal.DecodeDCC(v)
				if err != nil {
					continue
				}
				if dcc.Contained(clocksInPeer) {
					continue
				}
				return k, dcc.Fill(localClocks), true
			}
		}
	}

	return &SyncSender{core: newSenderCore(cookie, state.Num, peer, transport, cfg, snapshot, iter)}
}

// logCoversGap reports whether the local node's own log still covers the
// gap to the peer's recorded base for this node — the precondition for the
// log-driven strategy per THE CORE's spec §4.6.
func logCoversGap(state *vnodestate.State, self causal.NodeID, clocksInPeer causal.BitmappedVersionVector) bool {
	minV, ok := state.Log.MinLoggedVersion(self)
	if !ok {
		// Nothing logged for self at all (e.g. brand new vnode): trivially
		// "up to date" since there is nothing to have fallen behind on.
		return true
	}
	return minV <= clocksInPeer.Get(self).Base
}

func (s *SyncSender) Cookie() fabric.Cookie { return s.core.cookie }
func (s *SyncSender) Direction() Direction  { return Outgoing }
func (s *SyncSender) Peer() causal.NodeID   { return s.core.peer }
func (s *SyncSender) OnStart(*vnodestate.State) {
	s.core.sendNext()
}
func (s *SyncSender) OnTick(_ *vnodestate.State, now time.Time) Result {
	return s.core.onTick(now)
}
func (s *SyncSender) OnSend(*vnodestate.State, fabric.SyncSend) {}
func (s *SyncSender) OnAck(_ *vnodestate.State, msg fabric.SyncAck) {
	s.core.onAck(msg)
}
func (s *SyncSender) OnFin(*vnodestate.State, fabric.SyncFin) Result { return Done }
func (s *SyncSender) OnCancel(state *vnodestate.State)               { s.core.onCancel(state) }
func (s *SyncSender) OnRemove(*vnodestate.State)                     {}

var _ Session = (*SyncSender)(nil)
