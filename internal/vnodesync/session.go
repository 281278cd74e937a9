// Package vnodesync implements the four synchronization session roles —
// sync/bootstrap sender and receiver — that carry out anti-entropy between
// two replicas over a lossy fabric using a windowed, retransmitting
// reliable-transfer frame: Start -> Send*<->Ack* -> Fin -> FinAck.
package vnodesync

import (
	"time"

	"vnodedb/internal/causal"
	"vnodedb/internal/fabric"
	"vnodedb/internal/metrics"
	"vnodedb/internal/vnodestate"
)

// Direction is which way a session's payload flows relative to this node.
type Direction int

const (
	// Outgoing: this node is the sender (SyncSender, BootstrapSender).
	Outgoing Direction = iota
	// Incoming: this node is the receiver (SyncReceiver, BootstrapReceiver).
	Incoming
)

// Result is what a session handler reports back to the controller.
type Result int

const (
	// Continue: session is still in progress, do nothing.
	Continue Result = iota
	// Done: session finished (successfully or terminally); remove it.
	Done
	// RetryBootstrap: a bootstrap receiver failed or timed out; the
	// controller should remove the session and call StartBootstrap again.
	RetryBootstrap
	// Error: session aborted; remove it.
	Error
)

func (r Result) String() string {
	switch r {
	case Continue:
		return "Continue"
	case Done:
		return "Done"
	case RetryBootstrap:
		return "RetryBootstrap"
	case Error:
		return "Error"
	default:
		return "Result(?)"
	}
}

// Config carries the timing and window-size tunables every session role
// needs, mirroring the process configuration named in THE CORE's spec §6.
type Config struct {
	SyncTimeout     time.Duration // session-wide watchdog
	SyncMsgTimeout  time.Duration // per-message retransmit timeout
	SyncMsgInflight int           // max outstanding SyncSend messages

	// Metrics is optional; nil disables instrumentation entirely.
	Metrics *metrics.Registry
}

// Session is one in-flight synchronization role. The controller owns the
// map of sessions keyed by Cookie and passes a mutable *vnodestate.State
// into every call; a Session never retains a back-pointer to its owner.
type Session interface {
	Cookie() fabric.Cookie
	Direction() Direction
	Peer() causal.NodeID

	// OnStart runs once, immediately after the session is created and
	// inserted into the controller's map.
	OnStart(state *vnodestate.State)
	// OnTick drives retransmission (senders) and watchdog expiry (both
	// sides), and kicks a quiet receiver's handshake retry.
	OnTick(state *vnodestate.State, now time.Time) Result
	// OnSend applies an inbound SyncSend (receiver roles only).
	OnSend(state *vnodestate.State, msg fabric.SyncSend)
	// OnAck applies an inbound SyncAck (sender roles only).
	OnAck(state *vnodestate.State, msg fabric.SyncAck)
	// OnFin applies an inbound SyncFin, terminal for the session.
	OnFin(state *vnodestate.State, msg fabric.SyncFin) Result
	// OnCancel is invoked when a DHT change revokes an incoming session
	// before it finished; it must notify the peer with an error Fin.
	OnCancel(state *vnodestate.State)
	// OnRemove runs once the controller has decided to drop the session,
	// whatever the reason, so it can release any state it was holding
	// (e.g. state.SyncNodes bookkeeping).
	OnRemove(state *vnodestate.State)
}

type sendItem struct {
	key []byte
	dcc causal.DottedCausalContainer
}

func encodeDCC(dcc causal.DottedCausalContainer) []byte {
	raw, err := causal.EncodeDCC(dcc)
	if err != nil {
		panic(err) // encoding a well-formed in-memory DCC cannot fail
	}
	return raw
}

func encodeBVV(bvv causal.BitmappedVersionVector) []byte {
	raw, err := causal.EncodeBVV(bvv)
	if err != nil {
		panic(err)
	}
	return raw
}
