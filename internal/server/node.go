// Package server assembles the per-process pieces — config, storage, DHT
// oracle, fabric transport and one vnode.Controller per partition — into a
// single Node, and bridges the Controller's async Token/Responder protocol
// back to ordinary blocking Get/Put/Delete calls an HTTP handler can use.
package server

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"vnodedb/internal/causal"
	"vnodedb/internal/config"
	"vnodedb/internal/dht"
	"vnodedb/internal/fabric"
	"vnodedb/internal/metrics"
	"vnodedb/internal/storage"
	"vnodedb/internal/vnode"
	"vnodedb/internal/vnodestate"
	"vnodedb/internal/vnodesync"
)

// MovedError reports that a vnode is owned elsewhere; Addr is a peer that
// should be retried instead.
type MovedError struct{ Addr string }

func (e *MovedError) Error() string { return fmt.Sprintf("moved to %s", e.Addr) }

// AskError is MovedError's provisional cousin: the target is still
// bootstrapping the partition in.
type AskError struct{ Addr string }

func (e *AskError) Error() string { return fmt.Sprintf("ask %s", e.Addr) }

// EngineOpener opens the named storage handle for a given partition number.
// cmd/server supplies one backed by boltstore or memstore depending on
// configuration.
type EngineOpener func(num uint16, handle string) (storage.Engine, error)

// Node is one physical process's share of the cluster: every vnode
// Controller it is currently responsible for, plus the shared quota,
// transport and oracle they all use.
type Node struct {
	self      causal.NodeID
	cfg       *config.Config
	oracle    *dht.StaticOracle
	transport *fabric.HTTPTransport
	metrics   *metrics.Registry
	quota     *vnodesync.Quota
	bridge    *bridge
	peers     map[causal.NodeID]string

	mu     sync.RWMutex
	vnodes map[uint16]*vnode.Controller
}

// NewNode loads every local partition's state via open and wires the
// resulting controllers to transport and oracle. peers maps every known
// node id to its fabric address and is served through FabricAddr; Moved/Ask
// redirects use the client addresses of the oracle's members instead.
func NewNode(self causal.NodeID, cfg *config.Config, oracle *dht.StaticOracle, transport *fabric.HTTPTransport, reg *metrics.Registry, peers map[causal.NodeID]string, open EngineOpener) (*Node, error) {
	n := &Node{
		self:      self,
		cfg:       cfg,
		oracle:    oracle,
		transport: transport,
		metrics:   reg,
		quota:     vnodesync.NewQuota(cfg.MaxIncomingSyncs, cfg.MaxOutgoingSyncs),
		bridge:    newBridge(),
		peers:     peers,
		vnodes:    make(map[uint16]*vnode.Controller),
	}
	n.quota.SetMetrics(reg)

	transport.Handle(n.handleMsg)
	oracle.Subscribe(n.handleDHTChange)

	for i := 0; i < cfg.NumPartitions; i++ {
		num := uint16(i)
		if err := n.loadVnode(num, open); err != nil {
			return nil, fmt.Errorf("server: load vnode %d: %w", num, err)
		}
	}
	return n, nil
}

// FabricAddr implements fabric.AddressBook.
func (n *Node) FabricAddr(id causal.NodeID) (string, bool) {
	addr, ok := n.peers[id]
	return addr, ok
}

func (n *Node) loadVnode(num uint16, open EngineOpener) error {
	meta, err := open(num, "meta")
	if err != nil {
		return err
	}
	primary, err := open(num, "primary")
	if err != nil {
		return err
	}
	logEngine, err := open(num, "log")
	if err != nil {
		return err
	}

	status := n.startupStatus(num)
	state, err := vnodestate.Load(num, meta, primary, logEngine, status)
	if err != nil {
		return err
	}

	ctrl := vnode.NewController(n.self, state, n.oracle, n.transport, n.bridge, n.quota, n.cfg)
	ctrl.SetMetrics(n.metrics)

	n.mu.Lock()
	n.vnodes[num] = ctrl
	n.mu.Unlock()
	return nil
}

// startupStatus derives the lifecycle status a vnode resumes in purely from
// current DHT membership: full ring membership means Ready, a still-pending
// bootstrap slot means Bootstrap, anything else means Absent. A Zombie from
// a previous run is never resumed as Zombie — that window is meant to be
// brief, and by restart time it is safer to treat the partition as Absent
// and let the oracle drive a fresh bootstrap if one is warranted.
func (n *Node) startupStatus(num uint16) vnodestate.Status {
	for _, id := range n.oracle.NodesForVnode(num, false, false) {
		if id == n.self {
			return vnodestate.Ready
		}
	}
	for _, id := range n.oracle.NodesForVnode(num, true, false) {
		if id == n.self {
			return vnodestate.Bootstrap
		}
	}
	return vnodestate.Absent
}

func (n *Node) handleMsg(from causal.NodeID, msg fabric.Msg) {
	num := vnodeNumOf(msg)
	n.mu.RLock()
	ctrl, ok := n.vnodes[num]
	n.mu.RUnlock()
	if !ok {
		return
	}
	ctrl.HandleMsg(from, msg)
}

func (n *Node) handleDHTChange(num uint16, status dht.VnodeStatus) {
	n.mu.RLock()
	ctrl, ok := n.vnodes[num]
	n.mu.RUnlock()
	if !ok {
		return
	}
	ctrl.HandleDHTChange(status)
}

func vnodeNumOf(msg fabric.Msg) uint16 {
	switch m := msg.(type) {
	case fabric.RemoteGet:
		return m.Vnode
	case fabric.RemoteGetAck:
		return m.Vnode
	case fabric.RemoteSet:
		return m.Vnode
	case fabric.RemoteSetAck:
		return m.Vnode
	case fabric.SyncStart:
		return m.Vnode
	case fabric.SyncSend:
		return m.Vnode
	case fabric.SyncAck:
		return m.Vnode
	case fabric.SyncFin:
		return m.Vnode
	default:
		return 0
	}
}

// Run drives every local vnode's periodic Tick until ctx is cancelled.
func (n *Node) Run(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.WorkerTimer)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n.mu.RLock()
			ctrls := make([]*vnode.Controller, 0, len(n.vnodes))
			for _, c := range n.vnodes {
				ctrls = append(ctrls, c)
			}
			n.mu.RUnlock()
			for _, c := range ctrls {
				c.Tick(now)
			}
		}
	}
}

// Shutdown persists every local vnode's clock as a clean stop, so the next
// startup can trust the saved clock instead of replaying the log.
func (n *Node) Shutdown() {
	n.mu.RLock()
	ctrls := make([]*vnode.Controller, 0, len(n.vnodes))
	for _, c := range n.vnodes {
		ctrls = append(ctrls, c)
	}
	n.mu.RUnlock()
	for _, c := range ctrls {
		_ = c.Shutdown()
	}
}

// vnodeFor maps a client key to the partition responsible for it.
func (n *Node) vnodeFor(key []byte) (*vnode.Controller, bool) {
	num := partitionFor(key, n.cfg.NumPartitions)
	n.mu.RLock()
	ctrl, ok := n.vnodes[num]
	n.mu.RUnlock()
	return ctrl, ok
}

func partitionFor(key []byte, numPartitions int) uint16 {
	if numPartitions <= 0 {
		numPartitions = 1
	}
	h := sha256.Sum256(key)
	return uint16(binary.BigEndian.Uint32(h[:4]) % uint32(numPartitions))
}

// Get performs a coordinated quorum read for key.
func (n *Node) Get(ctx context.Context, key []byte) (causal.DottedCausalContainer, error) {
	ctrl, ok := n.vnodeFor(key)
	if !ok {
		return causal.DottedCausalContainer{}, fmt.Errorf("server: no local vnode owns this key")
	}
	n.metrics.RequestsRead.Inc()
	token, ch := n.bridge.newToken()
	ctrl.DoGet(token, key, n.cfg.ReadConsistency)
	return n.awaitDCC(ctx, token, ch)
}

// Put performs a coordinated quorum write, returning the resulting sibling
// set so the caller can hand its context back on a later conflicting write.
func (n *Node) Put(ctx context.Context, key, value []byte, vv causal.VersionVector) (causal.DottedCausalContainer, error) {
	ctrl, ok := n.vnodeFor(key)
	if !ok {
		return causal.DottedCausalContainer{}, fmt.Errorf("server: no local vnode owns this key")
	}
	n.metrics.RequestsWrite.Inc()
	token, ch := n.bridge.newToken()
	ctrl.DoSet(token, key, causal.Value(value), true, vv, n.cfg.WriteConsistency, true)
	return n.awaitDCC(ctx, token, ch)
}

// Delete performs a coordinated quorum delete.
func (n *Node) Delete(ctx context.Context, key []byte, vv causal.VersionVector) error {
	ctrl, ok := n.vnodeFor(key)
	if !ok {
		return fmt.Errorf("server: no local vnode owns this key")
	}
	n.metrics.RequestsDelete.Inc()
	token, ch := n.bridge.newToken()
	ctrl.DoSet(token, key, nil, false, vv, n.cfg.WriteConsistency, false)
	_, err := n.awaitDCC(ctx, token, ch)
	return err
}

func (n *Node) awaitDCC(ctx context.Context, token vnode.Token, ch chan result) (causal.DottedCausalContainer, error) {
	select {
	case r := <-ch:
		switch r.kind {
		case kindDCC:
			return r.dcc, nil
		case kindOK, kindInt:
			return causal.DottedCausalContainer{}, nil
		case kindMoved:
			return causal.DottedCausalContainer{}, &MovedError{Addr: r.addr}
		case kindAsk:
			return causal.DottedCausalContainer{}, &AskError{Addr: r.addr}
		default:
			return causal.DottedCausalContainer{}, r.err
		}
	case <-ctx.Done():
		n.bridge.abandon(token)
		return causal.DottedCausalContainer{}, ctx.Err()
	}
}
