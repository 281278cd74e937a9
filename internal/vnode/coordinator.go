package vnode

import (
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"vnodedb/internal/causal"
	"vnodedb/internal/config"
	"vnodedb/internal/fabric"
	"vnodedb/internal/vnoderr"
	"vnodedb/internal/vnodestate"
)

// DoGet coordinates a quorum read: it fans RemoteGet out to every node
// currently responsible for this vnode (bootstrapping replicas included, so
// a node still streaming in can still help satisfy reads) and resolves
// token once enough replicas have answered. Remote sends happen
// concurrently — this talks to up to N-1 peers over the network, and doing
// it one at a time would make a request's tail latency the sum of every
// replica's round trip instead of the slowest one.
func (c *Controller) DoGet(token Token, key []byte, consistency config.Consistency) {
	c.mu.Lock()
	if !c.statusIn(vnodestate.Ready, vnodestate.Zombie) {
		c.respondCantCoordinate(token)
		c.mu.Unlock()
		return
	}

	num := c.state.Num
	nodes := c.oracle.NodesForVnode(num, true, true)
	cookie := fabric.NewCookie()
	req := &ReqState{Token: token, Total: len(nodes), Required: consistency.Required(len(nodes))}
	c.requests.Insert(cookie, req, time.Now().Add(c.cfg.RequestTimeout))

	for _, n := range nodes {
		if n == c.self {
			dcc := c.state.StorageGet(key)
			c.processGet(cookie, &dcc)
			break
		}
	}
	c.mu.Unlock()

	var g errgroup.Group
	for _, n := range nodes {
		if n == c.self {
			continue
		}
		n := n
		g.Go(func() error {
			msg := fabric.RemoteGet{Key: key}
			msg.Cookie, msg.Vnode = cookie, num
			if err := c.transport.SendMsg(n, msg); err != nil {
				c.mu.Lock()
				c.processGet(cookie, nil)
				c.mu.Unlock()
			}
			return nil
		})
	}
	go g.Wait()
}

// DoSet coordinates a quorum write: it performs the local write first (which
// is what issues the new dot), then fans the resulting container out to the
// rest of the replica set concurrently. hasValue=false means this is a
// delete.
func (c *Controller) DoSet(token Token, key []byte, value causal.Value, hasValue bool, vv causal.VersionVector, consistency config.Consistency, replyResult bool) {
	c.mu.Lock()
	if c.state.Status != vnodestate.Ready {
		c.respondCantCoordinate(token)
		c.mu.Unlock()
		return
	}

	dcc, err := c.state.StorageSetLocal(c.self, key, value, hasValue, vv, c.cfg.ValueVersionMax)
	if err != nil {
		c.mu.Unlock()
		c.responder.RespondError(token, err)
		return
	}

	num := c.state.Num
	nodes := c.oracle.NodesForVnode(num, true, true)
	cookie := fabric.NewCookie()
	req := &ReqState{
		Token: token, Total: len(nodes), Required: consistency.Required(len(nodes)),
		IsDelete: !hasValue, ReplyResult: replyResult, Container: dcc,
	}
	c.requests.Insert(cookie, req, time.Now().Add(c.cfg.RequestTimeout))
	c.processSet(cookie, true)
	c.mu.Unlock()

	rawDCC, encErr := causal.EncodeDCC(dcc)
	if encErr != nil {
		return
	}
	wantReply := consistency != config.ConsistencyOne

	var g errgroup.Group
	for _, n := range nodes {
		if n == c.self {
			continue
		}
		n := n
		g.Go(func() error {
			msg := fabric.RemoteSet{Key: key, DCC: rawDCC, WantReply: wantReply}
			msg.Cookie, msg.Vnode = cookie, num
			if err := c.transport.SendMsg(n, msg); err != nil && wantReply {
				c.mu.Lock()
				c.processSet(cookie, false)
				c.mu.Unlock()
			}
			return nil
		})
	}
	go g.Wait()
}

// processGet records one reply to an in-flight get. dcc is nil for a failed
// or dropped reply.
func (c *Controller) processGet(cookie fabric.Cookie, dcc *causal.DottedCausalContainer) {
	req, ok := c.requests.Get(cookie)
	if !ok {
		return
	}
	req.Replies++
	if dcc != nil {
		req.Container = req.Container.Sync(*dcc)
		req.Successful++
	}
	if req.satisfied() || req.exhausted() {
		c.requests.Delete(cookie)
		c.finishGet(req)
	}
}

func (c *Controller) finishGet(req *ReqState) {
	if !req.satisfied() {
		c.responder.RespondError(req.Token, vnoderr.ErrUnavailable)
		return
	}
	c.responder.RespondDCC(req.Token, req.Container)
}

// processSet records one reply to an in-flight write, ok reporting whether
// that replica accepted it.
func (c *Controller) processSet(cookie fabric.Cookie, ok bool) {
	req, found := c.requests.Get(cookie)
	if !found {
		return
	}
	req.Replies++
	if ok {
		req.Successful++
	}
	if req.satisfied() || req.exhausted() {
		c.requests.Delete(cookie)
		c.finishSet(req)
	}
}

func (c *Controller) finishSet(req *ReqState) {
	if !req.satisfied() {
		c.responder.RespondError(req.Token, vnoderr.ErrUnavailable)
		return
	}
	switch {
	case req.ReplyResult:
		c.responder.RespondDCC(req.Token, req.Container)
	case req.IsDelete:
		c.responder.RespondInt(req.Token, 1)
	default:
		c.responder.RespondOK(req.Token)
	}
}

// respondCantCoordinate is reached when a client request lands on a vnode
// whose status does not allow it to coordinate: it shuffles the
// write-eligible replica set and redirects to the first other member with a
// known address, Ask if this vnode is itself still Bootstrap and Moved
// otherwise, or Unavailable if no such member is known.
func (c *Controller) respondCantCoordinate(token Token) {
	members := c.oracle.WriteMembersForVnode(c.state.Num)
	rand.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
	for _, m := range members {
		if m.ID == c.self || m.Addr == "" {
			continue
		}
		if c.state.Status == vnodestate.Bootstrap {
			c.responder.RespondAsk(token, c.state.Num, m.Addr)
		} else {
			c.responder.RespondMoved(token, c.state.Num, m.Addr)
		}
		return
	}
	c.responder.RespondError(token, vnoderr.ErrUnavailable)
}
