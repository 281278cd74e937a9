package vnodesync

import (
	"time"

	"vnodedb/internal/causal"
	"vnodedb/internal/fabric"
	"vnodedb/internal/vnodestate"
)

// BootstrapReceiver pulls a full copy of a partition from another replica
// when this node is joining with nothing. Promotion out of Bootstrap is the
// controller's responsibility once this session reports Done; the session
// itself only absorbs the transferred data and the peer's clock snapshot.
type BootstrapReceiver struct {
	cookie    fabric.Cookie
	vnodeNum  uint16
	peer      causal.NodeID
	transport fabric.Transport
	cfg       Config

	recvCount uint64
	lastRecv  time.Time
}

// NewBootstrapReceiver opens a bootstrap session against peer and sends the
// initial SyncStart.
func NewBootstrapReceiver(cookie fabric.Cookie, vnodeNum uint16, peer causal.NodeID, transport fabric.Transport, cfg Config) *BootstrapReceiver {
	r := &BootstrapReceiver{cookie: cookie, vnodeNum: vnodeNum, peer: peer, transport: transport, cfg: cfg, lastRecv: time.Now()}
	r.sendStart()
	return r
}

func (r *BootstrapReceiver) sendStart() {
	msg := fabric.SyncStart{TargetSelf: true, IsBootstrap: true}
	msg.Cookie, msg.Vnode = r.cookie, r.vnodeNum
	_ = r.transport.SendMsg(r.peer, msg)
}

func (r *BootstrapReceiver) Cookie() fabric.Cookie    { return r.cookie }
func (r *BootstrapReceiver) Direction() Direction      { return Incoming }
func (r *BootstrapReceiver) Peer() causal.NodeID       { return r.peer }
func (r *BootstrapReceiver) OnStart(*vnodestate.State) {}

func (r *BootstrapReceiver) OnTick(_ *vnodestate.State, now time.Time) Result {
	elapsed := now.Sub(r.lastRecv)
	if elapsed > r.cfg.SyncTimeout {
		return RetryBootstrap
	}
	if r.recvCount == 0 && elapsed > r.cfg.SyncMsgTimeout {
		r.sendStart()
	}
	return Continue
}

func (r *BootstrapReceiver) OnSend(state *vnodestate.State, msg fabric.SyncSend) {
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

func (r *BootstrapReceiver) OnAck(*vnodestate.State, fabric.SyncAck) {}

// OnFin absorbs the sender's clock snapshot via Merge (bootstrap acceptance)
// and echoes the Fin back as an ack-ack closing the session on the sender's
// side too.
func (r *BootstrapReceiver) OnFin(state *vnodestate.State, msg fabric.SyncFin) Result {
	if !msg.OK {
		return RetryBootstrap
	}
	peerClocks, err := causal.DecodeBVV(msg.Clocks)
	if err != nil {
		return RetryBootstrap
	}
	state.Clocks = state.Clocks.Merge(peerClocks)
	if err := state.Save(false); err != nil {
		return RetryBootstrap
	}
	if err := state.Storage.Sync(); err != nil {
		return RetryBootstrap
	}
	_ = r.transport.SendMsg(r.peer, msg)
	return Done
}

func (r *BootstrapReceiver) OnCancel(*vnodestate.State) {
	errFin := fabric.SyncFin{OK: false, ErrMsg: "BadVNodeStatus"}
	errFin.Cookie, errFin.Vnode = r.cookie, r.vnodeNum
	_ = r.transport.SendMsg(r.peer, errFin)
}

func (r *BootstrapReceiver) OnRemove(*vnodestate.State) {}

var _ Session = (*BootstrapReceiver)(nil)
