package vnode

import (
	"sync"
	"time"

	"vnodedb/internal/causal"
	"vnodedb/internal/config"
	"vnodedb/internal/dht"
	"vnodedb/internal/fabric"
	"vnodedb/internal/inflight"
	"vnodedb/internal/metrics"
	"vnodedb/internal/vnoderr"
	"vnodedb/internal/vnodestate"
	"vnodedb/internal/vnodesync"
)

// Controller is the actor owning one partition end to end.
type Controller struct {
	self      causal.NodeID
	transport fabric.Transport
	oracle    dht.Oracle
	responder Responder
	quota     *vnodesync.Quota
	cfg       *config.Config
	metrics   *metrics.Registry

	mu       sync.Mutex
	state    *vnodestate.State
	requests *inflight.Map[fabric.Cookie, *ReqState]
	syncs    map[fabric.Cookie]vnodesync.Session
}

// NewController wires a freshly loaded State to its oracle, transport and
// quota, and — matching VNode::new's startup dispatch — resumes a bootstrap
// that was in progress when the process last stopped.
func NewController(self causal.NodeID, state *vnodestate.State, oracle dht.Oracle, transport fabric.Transport, responder Responder, quota *vnodesync.Quota, cfg *config.Config) *Controller {
	c := &Controller{
		self:      self,
		transport: transport,
		oracle:    oracle,
		responder: responder,
		quota:     quota,
		cfg:       cfg,
		state:     state,
		requests:  inflight.New[fabric.Cookie, *ReqState](),
		syncs:     make(map[fabric.Cookie]vnodesync.Session),
	}
	if state.Status == vnodestate.Bootstrap {
		c.startBootstrap()
	}
	return c
}

// VnodeNum returns the partition number this controller owns.
func (c *Controller) VnodeNum() uint16 { return c.state.Num }

// SetMetrics attaches a registry that sync sessions created from here on
// (via syncCfg) will report SyncSent/SyncReceived/SyncResent against.
// Optional: a controller with no registry attached behaves exactly as
// before.
func (c *Controller) SetMetrics(m *metrics.Registry) { c.metrics = m }

// Shutdown persists the vnode's clock with clean_shutdown=true, the last act
// a cleanly-stopping process performs so Load can skip log replay on the next
// start. Safe to call even for a vnode that was never touched.
func (c *Controller) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Save(true)
}

// Tick drives the periodic housekeeping every vnode performs: retransmits
// and watchdogs for in-flight sync sessions, request timeout sweeps, the
// pending-bootstrap retry, and the Zombie -> Absent timeout.
func (c *Controller) Tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	type outcome struct {
		cookie fabric.Cookie
		result vnodesync.Result
	}
	var done []outcome
	for cookie, sess := range c.syncs {
		if r := sess.OnTick(c.state, now); r != vnodesync.Continue {
			done = append(done, outcome{cookie, r})
		}
	}
	for _, o := range done {
		c.retireSession(o.cookie, o.result)
	}

	c.requests.Sweep(now, func(_ fabric.Cookie, req *ReqState) {
		c.responder.RespondError(req.Token, vnoderr.ErrTimeout)
	})

	switch {
	case c.state.PendingBootstrap:
		c.startBootstrap()
	case c.state.Status == vnodestate.Zombie &&
		c.requests.Len() == 0 && len(c.syncs) == 0 &&
		now.Sub(c.state.LastStatusChange) > vnodestate.ZombieTimeout:
		_ = c.state.SetStatus(vnodestate.Absent)
	case c.cfg.AutoSync && c.state.Status == vnodestate.Ready && len(c.syncs) == 0:
		c.startSync()
	}
}

// retireSession removes cookie's session, releases its quota slot, and — if
// the vnode is still Bootstrap when its lone session finishes — acts on the
// result.
func (c *Controller) retireSession(cookie fabric.Cookie, result vnodesync.Result) {
	sess, ok := c.syncs[cookie]
	if !ok {
		return
	}
	delete(c.syncs, cookie)
	sess.OnRemove(c.state)
	c.quota.Release(sess.Direction())
	if c.state.Status == vnodestate.Bootstrap {
		c.handleBootstrapResult(result)
	}
}

// HandleDHTChange reacts to the oracle announcing that this node's
// membership in the vnode's replica set has changed, the same transition
// table handler_dht_change drives in the original implementation.
func (c *Controller) HandleDHTChange(newStatus dht.VnodeStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case (c.state.Status == vnodestate.Ready || c.state.Status == vnodestate.Bootstrap) && newStatus == dht.StatusAbsent:
		c.cancelIncomingSyncs()
		next := vnodestate.Zombie
		if c.state.Status == vnodestate.Bootstrap {
			next = vnodestate.Absent
		}
		_ = c.state.SetStatus(next)

	case c.state.Status == vnodestate.Zombie && newStatus == dht.StatusReady:
		_ = c.state.SetStatus(vnodestate.Ready)

	case c.state.Status == vnodestate.Absent && newStatus == dht.StatusReady:
		_ = c.state.SetStatus(vnodestate.Bootstrap)
		c.startBootstrap()

	case c.state.Status == vnodestate.Bootstrap && newStatus == dht.StatusReady && c.state.PendingBootstrap:
		c.startBootstrap()
	}
}

// cancelIncomingSyncs revokes every receiver session — a departing replica
// has no business still pulling data in.
func (c *Controller) cancelIncomingSyncs() {
	for cookie, sess := range c.syncs {
		if sess.Direction() != vnodesync.Incoming {
			continue
		}
		sess.OnCancel(c.state)
		delete(c.syncs, cookie)
		sess.OnRemove(c.state)
		c.quota.Release(vnodesync.Incoming)
	}
}

func (c *Controller) statusIn(want ...vnodestate.Status) bool {
	for _, w := range want {
		if c.state.Status == w {
			return true
		}
	}
	return false
}

func (c *Controller) syncCfg() vnodesync.Config {
	return vnodesync.Config{
		SyncTimeout:     c.cfg.SyncTimeout,
		SyncMsgTimeout:  c.cfg.SyncMsgTimeout,
		SyncMsgInflight: c.cfg.SyncMsgInflight,
		Metrics:         c.metrics,
	}
}

func (c *Controller) sendErrFin(to causal.NodeID, cookie fabric.Cookie, errMsg string) {
	msg := fabric.SyncFin{OK: false, ErrMsg: errMsg}
	msg.Cookie, msg.Vnode = cookie, c.state.Num
	_ = c.transport.SendMsg(to, msg)
}
