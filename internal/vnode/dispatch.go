package vnode

import (
	"time"

	"vnodedb/internal/causal"
	"vnodedb/internal/fabric"
	"vnodedb/internal/vnodestate"
	"vnodedb/internal/vnodesync"
)

// HandleMsg is the single entry point fabric.Transport calls for every
// inbound message addressed to this vnode.
func (c *Controller) HandleMsg(from causal.NodeID, msg fabric.Msg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch m := msg.(type) {
	case fabric.RemoteGet:
		c.handleRemoteGet(from, m)
	case fabric.RemoteGetAck:
		c.handleRemoteGetAck(m)
	case fabric.RemoteSet:
		c.handleRemoteSet(from, m)
	case fabric.RemoteSetAck:
		c.handleRemoteSetAck(m)
	case fabric.SyncStart:
		c.handleSyncStart(from, m)
	case fabric.SyncSend:
		c.handleSyncSend(from, m)
	case fabric.SyncAck:
		c.handleSyncAck(from, m)
	case fabric.SyncFin:
		c.handleSyncFin(from, m)
	}
}

func (c *Controller) handleRemoteGet(from causal.NodeID, msg fabric.RemoteGet) {
	ack := fabric.RemoteGetAck{}
	ack.Cookie, ack.Vnode = msg.Cookie, msg.Vnode

	if !c.statusIn(vnodestate.Ready, vnodestate.Zombie) {
		_ = c.transport.SendMsg(from, ack)
		return
	}

	dcc := c.state.StorageGet(msg.Key)
	raw, err := causal.EncodeDCC(dcc)
	if err != nil {
		_ = c.transport.SendMsg(from, ack)
		return
	}
	ack.Found, ack.DCC = true, raw
	_ = c.transport.SendMsg(from, ack)
}

func (c *Controller) handleRemoteGetAck(msg fabric.RemoteGetAck) {
	if !msg.Found {
		c.processGet(msg.Cookie, nil)
		return
	}
	dcc, err := causal.DecodeDCC(msg.DCC)
	if err != nil {
		c.processGet(msg.Cookie, nil)
		return
	}
	c.processGet(msg.Cookie, &dcc)
}

func (c *Controller) handleRemoteSet(from causal.NodeID, msg fabric.RemoteSet) {
	if !c.statusIn(vnodestate.Ready, vnodestate.Bootstrap) {
		if msg.WantReply {
			ack := fabric.RemoteSetAck{OK: false}
			ack.Cookie, ack.Vnode = msg.Cookie, msg.Vnode
			_ = c.transport.SendMsg(from, ack)
		}
		return
	}

	dcc, err := causal.DecodeDCC(msg.DCC)
	ok := err == nil
	if ok {
		ok = c.state.StorageSetRemote(msg.Key, dcc) == nil
	}

	if msg.WantReply {
		ack := fabric.RemoteSetAck{OK: ok}
		ack.Cookie, ack.Vnode = msg.Cookie, msg.Vnode
		_ = c.transport.SendMsg(from, ack)
	}
}

func (c *Controller) handleRemoteSetAck(msg fabric.RemoteSetAck) {
	c.processSet(msg.Cookie, msg.OK)
}

func (c *Controller) handleSyncStart(from causal.NodeID, msg fabric.SyncStart) {
	if !c.canAcceptSyncStart() {
		c.sendErrFin(from, msg.Cookie, "BadVNodeStatus")
		return
	}
	if _, exists := c.syncs[msg.Cookie]; exists {
		return
	}
	if !c.quota.SignalStart(vnodesync.Outgoing) {
		c.sendErrFin(from, msg.Cookie, "NotReady")
		return
	}

	var sess vnodesync.Session
	if msg.IsBootstrap {
		sess = vnodesync.NewBootstrapSender(msg.Cookie, c.state, from, c.transport, c.syncCfg())
	} else {
		peerClocks, err := causal.DecodeBVV(msg.ClocksInPeer)
		if err != nil {
			c.quota.Release(vnodesync.Outgoing)
			c.sendErrFin(from, msg.Cookie, "BadVNodeStatus")
			return
		}
		sess = vnodesync.NewSyncSender(msg.Cookie, c.state, c.self, from, peerClocks, c.transport, c.syncCfg())
	}
	c.syncs[msg.Cookie] = sess
	sess.OnStart(c.state)
}

// canAcceptSyncStart mirrors check_status! for MsgSyncStart: a vnode can
// serve a sender session while Ready, or for a brief grace window after
// becoming Zombie (so an in-flight repair racing the transition still
// completes).
func (c *Controller) canAcceptSyncStart() bool {
	if c.state.Status == vnodestate.Ready {
		return true
	}
	return c.state.Status == vnodestate.Zombie && time.Since(c.state.LastStatusChange) < vnodestate.ZombieTimeout
}

func (c *Controller) handleSyncSend(from causal.NodeID, msg fabric.SyncSend) {
	if !c.statusIn(vnodestate.Ready, vnodestate.Bootstrap) {
		c.sendErrFin(from, msg.Cookie, "BadVNodeStatus")
		return
	}
	sess, ok := c.syncs[msg.Cookie]
	if !ok {
		c.sendErrFin(from, msg.Cookie, "CookieNotFound")
		return
	}
	sess.OnSend(c.state, msg)
}

func (c *Controller) handleSyncAck(from causal.NodeID, msg fabric.SyncAck) {
	if !c.statusIn(vnodestate.Ready, vnodestate.Zombie) {
		c.sendErrFin(from, msg.Cookie, "BadVNodeStatus")
		return
	}
	sess, ok := c.syncs[msg.Cookie]
	if !ok {
		return
	}
	sess.OnAck(c.state, msg)
}

func (c *Controller) handleSyncFin(from causal.NodeID, msg fabric.SyncFin) {
	if !c.statusIn(vnodestate.Ready, vnodestate.Zombie, vnodestate.Bootstrap) {
		c.sendErrFin(from, msg.Cookie, "BadVNodeStatus")
		return
	}
	sess, ok := c.syncs[msg.Cookie]
	if !ok {
		if msg.OK {
			c.sendErrFin(from, msg.Cookie, "CookieNotFound")
		}
		return
	}
	result := sess.OnFin(c.state, msg)
	if result != vnodesync.Continue {
		c.retireSession(msg.Cookie, result)
	}
}
