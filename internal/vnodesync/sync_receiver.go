package vnodesync

import (
	"time"

	"vnodedb/internal/causal"
	"vnodedb/internal/fabric"
	"vnodedb/internal/vnodestate"
)

// SyncReceiver pulls incremental repairs from a peer during steady state.
// Unlike BootstrapReceiver it is tracked in state.SyncNodes (the controller
// adds the peer when it starts the session, OnRemove deletes it) so the
// controller never starts two concurrent sync sessions against the same
// peer, and it
// joins (rather than merges) the peer's clock on Fin.
type SyncReceiver struct {
	cookie    fabric.Cookie
	vnodeNum  uint16
	peer      causal.NodeID
	transport fabric.Transport
	cfg       Config

	clocksInPeer causal.BitmappedVersionVector // our own clocks as reported to the peer at start
	recvCount    uint64
	lastRecv     time.Time
}

// NewSyncReceiver opens an incremental sync session against peer, reporting
// our own current clock so the peer can compute its delta.
func NewSyncReceiver(cookie fabric.Cookie, state *vnodestate.State, peer causal.NodeID, transport fabric.Transport, cfg Config) *SyncReceiver {
	r := &SyncReceiver{
		cookie: cookie, vnodeNum: state.Num, peer: peer, transport: transport, cfg: cfg,
		clocksInPeer: state.Clocks.Clone(),
		lastRecv:     time.Now(),
	}
	r.sendStart()
	return r
}

func (r *SyncReceiver) sendStart() {
	msg := fabric.SyncStart{TargetSelf: true, IsBootstrap: false, ClocksInPeer: encodeBVV(r.clocksInPeer)}
	msg.Cookie, msg.Vnode = r.cookie, r.vnodeNum
	_ = r.transport.SendMsg(r.peer, msg)
}

func (r *SyncReceiver) Cookie() fabric.Cookie    { return r.cookie }
func (r *SyncReceiver) Direction() Direction      { return Incoming }
func (r *SyncReceiver) Peer() causal.NodeID       { return r.peer }
func (r *SyncReceiver) OnStart(*vnodestate.State) {}

func (r *SyncReceiver) OnTick(_ *vnodestate.State, now time.Time) Result {
	elapsed := now.Sub(r.lastRecv)
	if elapsed > r.cfg.SyncTimeout {
		return Done
	}
	if r.recvCount == 0 && elapsed > r.cfg.SyncMsgTimeout {
		r.sendStart()
	}
	return Continue
}

func (r *SyncReceiver) OnSend(state *vnodestate.State, msg fabric.SyncSend) {
	dcc, err := causal.DecodeDCC(msg.Container)
	if err == nil {
		_ = state.StorageSetRemote(msg.Key, dcc)
	}
	ack := fabric.SyncAck{Seq: msg.Seq}
	ack.Cookie, ack.Vnode = r.cookie, r.vnodeNum
	_ = r.transport.SendMsg(r.peer, ack)
	r.recvCount++
	r.lastRecv = time.Now()
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.SyncReceived.Inc()
	}
}

func (r *SyncReceiver) OnAck(*vnodestate.State, fabric.SyncAck) {}

// OnFin joins (not merges) the peer's clock snapshot — incremental-sync
// acceptance, matching BitmappedVersionVector.Join's semantics — then
// echoes the Fin back as an ack-ack.
func (r *SyncReceiver) OnFin(state *vnodestate.State, msg fabric.SyncFin) Result {
	if msg.OK {
		if peerClocks, err := causal.DecodeBVV(msg.Clocks); err == nil {
			state.Clocks = state.Clocks.Join(peerClocks)
			_ = state.Save(false)
			_ = state.Storage.Sync()
			_ = r.transport.SendMsg(r.peer, msg)
		}
	}
	return Done
}

func (r *SyncReceiver) OnCancel(*vnodestate.State) {
	errFin := fabric.SyncFin{OK: false, ErrMsg: "BadVNodeStatus"}
	errFin.Cookie, errFin.Vnode = r.cookie, r.vnodeNum
	_ = r.transport.SendMsg(r.peer, errFin)
}

func (r *SyncReceiver) OnRemove(state *vnodestate.State) {
	delete(state.SyncNodes, r.peer)
}

var _ Session = (*SyncReceiver)(nil)
