package vnodesync

import (
	"time"

	"vnodedb/internal/causal"
	"vnodedb/internal/fabric"
	"vnodedb/internal/vnodestate"
)

// BootstrapSender serves a joining replica with a full copy of every key
// currently held locally. It captures a clock snapshot and a storage
// iterator at construction time; both are fixed for the life of the
// session even as the local vnode keeps accepting new writes.
type BootstrapSender struct {
	core *senderCore
}

// NewBootstrapSender builds a full-scan sender over state's storage at the
// moment of the call. The caller (controller) is responsible for having
// already reserved an Outgoing quota slot.
func NewBootstrapSender(cookie fabric.Cookie, state *vnodestate.State, peer causal.NodeID, transport fabric.Transport, cfg Config) *BootstrapSender {
	it := state.Storage.Iterator()
	snapshot := state.Clocks.Clone()
	iter := func() (key []byte, dcc causal.DottedCausalContainer, ok bool) {
		k, v, ok := it.Next()
		if !ok {
			return nil, causal.DottedCausalContainer{}, false
		}
		d, err := causal.DecodeDCC(v)
		if err != nil {
			return k, causal.NewDCC(), true
		}
		return k, d, true
	}
	return &BootstrapSender{core: newSenderCore(cookie, state.Num, peer, transport, cfg, snapshot, iter)}
}

func (s *BootstrapSender) Cookie() fabric.Cookie    { return s.core.cookie }
func (s *BootstrapSender) Direction() Direction      { return Outgoing }
func (s *BootstrapSender) Peer() causal.NodeID       { return s.core.peer }
func (s *BootstrapSender) OnStart(*vnodestate.State) { s.core.sendNext() }
func (s *BootstrapSender) OnTick(_ *vnodestate.State, now time.Time) Result {
	return s.core.onTick(now)
}
func (s *BootstrapSender) OnSend(*vnodestate.State, fabric.SyncSend) {}
func (s *BootstrapSender) OnAck(_ *vnodestate.State, msg fabric.SyncAck) {
	s.core.onAck(msg)
}
func (s *BootstrapSender) OnFin(*vnodestate.State, fabric.SyncFin) Result { return Done }
func (s *BootstrapSender) OnCancel(state *vnodestate.State)               { s.core.onCancel(state) }
func (s *BootstrapSender) OnRemove(*vnodestate.State)                     {}

var _ Session = (*BootstrapSender)(nil)
