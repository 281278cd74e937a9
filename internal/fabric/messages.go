package fabric

// Msg is any fabric message. Every message carries a Cookie identifying the
// request or session it belongs to, and the vnode number it targets.
type Msg interface {
	msgCookie() Cookie
	msgVnode() uint16
	msgType() string
}

type header struct {
	Cookie Cookie
	Vnode  uint16
}

func (h header) msgCookie() Cookie { return h.Cookie }
func (h header) msgVnode() uint16  { return h.Vnode }

// RemoteGet asks a replica for its local DCC for a key.
type RemoteGet struct {
	header
	Key []byte
}

func (RemoteGet) msgType() string { return "RemoteGet" }

// RemoteGetAck answers a RemoteGet.
type RemoteGetAck struct {
	header
	Found bool
	DCC   []byte // encoded causal.DottedCausalContainer, valid iff Found
}

func (RemoteGetAck) msgType() string { return "RemoteGetAck" }

// RemoteSet propagates a coordinated write to a replica.
type RemoteSet struct {
	header
	Key       []byte
	DCC       []byte // encoded causal.DottedCausalContainer
	WantReply bool
}

func (RemoteSet) msgType() string { return "RemoteSet" }

// RemoteSetAck answers a RemoteSet when WantReply was set.
type RemoteSetAck struct {
	header
	OK bool
}

func (RemoteSetAck) msgType() string { return "RemoteSetAck" }

// SyncStart opens a synchronization session. TargetSelf=true means "you, the
// receiver of this message, are the sender"; SyncReceiver and
// BootstrapReceiver always set it, and the sending side does not inspect it.
// IsBootstrap selects a full-copy BootstrapSender instead of a SyncSender.
type SyncStart struct {
	header
	TargetSelf   bool
	ClocksInPeer []byte // encoded causal.BitmappedVersionVector, possibly empty (bootstrap)
	IsBootstrap  bool
}

func (SyncStart) msgType() string { return "SyncStart" }

// SyncSend pushes one key's container as part of an in-progress session.
type SyncSend struct {
	header
	Seq       uint64
	Key       []byte
	Container []byte // encoded causal.DottedCausalContainer
}

func (SyncSend) msgType() string { return "SyncSend" }

// SyncAck acknowledges receipt of a SyncSend by sequence number.
type SyncAck struct {
	header
	Seq uint64
}

func (SyncAck) msgType() string { return "SyncAck" }

// SyncFin ends a session, successfully or with an error.
type SyncFin struct {
	header
	OK     bool
	ErrMsg string
	Clocks []byte // encoded causal.BitmappedVersionVector, valid iff OK
}

func (SyncFin) msgType() string { return "SyncFin" }
