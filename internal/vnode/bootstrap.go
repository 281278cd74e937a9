package vnode

import (
	"math/rand"

	"vnodedb/internal/causal"
	"vnodedb/internal/fabric"
	"vnodedb/internal/vnodestate"
	"vnodedb/internal/vnodesync"
)

// startBootstrap tries to open a BootstrapReceiver against one other member
// of the replica set, shuffled so repeated retries don't hammer the same
// peer. If the set's deterministic first candidate is this node itself there
// is nobody to bootstrap from and the vnode is simply marked Ready empty
// (mirrors the original's "num_copies == 0" shortcut). If the quota is
// exhausted, PendingBootstrap is set so Tick retries it.
func (c *Controller) startBootstrap() {
	c.state.PendingBootstrap = false

	nodes := c.oracle.NodesForVnode(c.state.Num, false, true)
	if len(nodes) == 0 || nodes[0] == c.self {
		_ = c.state.SetStatus(vnodestate.Ready)
		return
	}

	shuffled := append([]causal.NodeID(nil), nodes...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	for _, n := range shuffled {
		if n == c.self {
			continue
		}
		if !c.quota.SignalStart(vnodesync.Incoming) {
			c.state.PendingBootstrap = true
			return
		}
		cookie := fabric.NewCookie()
		sess := vnodesync.NewBootstrapReceiver(cookie, c.state.Num, n, c.transport, c.syncCfg())
		c.syncs[cookie] = sess
		sess.OnStart(c.state)
		return
	}
}

// startSync opens at most one SyncReceiver per tick against a peer this
// vnode isn't already syncing from, to keep steady-state anti-entropy
// running without piling up redundant sessions against the same node.
func (c *Controller) startSync() bool {
	if c.state.Status != vnodestate.Ready {
		return false
	}
	nodes := c.oracle.NodesForVnode(c.state.Num, false, true)
	shuffled := append([]causal.NodeID(nil), nodes...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	for _, n := range shuffled {
		if n == c.self || c.state.SyncNodes[n] {
			continue
		}
		if !c.quota.SignalStart(vnodesync.Incoming) {
			continue
		}
		cookie := fabric.NewCookie()
		c.state.SyncNodes[n] = true
		sess := vnodesync.NewSyncReceiver(cookie, c.state, n, c.transport, c.syncCfg())
		c.syncs[cookie] = sess
		sess.OnStart(c.state)
		return true
	}
	return false
}

// handleBootstrapResult reacts to a bootstrap session finishing while the
// vnode is still Bootstrap: Done promotes the pending replica to full ring
// membership (or falls back to Absent if the oracle refuses), and
// RetryBootstrap tries another source immediately.
func (c *Controller) handleBootstrapResult(result vnodesync.Result) {
	switch result {
	case vnodesync.RetryBootstrap:
		c.startBootstrap()
	case vnodesync.Done:
		if err := c.oracle.PromotePendingNode(c.self, c.state.Num); err != nil {
			_ = c.state.SetStatus(vnodestate.Absent)
			return
		}
		_ = c.state.SetStatus(vnodestate.Ready)
	}
}
