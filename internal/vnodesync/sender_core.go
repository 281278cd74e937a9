package vnodesync

import (
	"time"

	"vnodedb/internal/causal"
	"vnodedb/internal/fabric"
	"vnodedb/internal/inflight"
	"vnodedb/internal/vnodestate"
)

// iterFunc produces the next (key, container) pair a sender still owes its
// peer, or ok=false once exhausted. BootstrapSender's iterator walks every
// local key; SyncSender's walks either the log-derived delta or a full scan
// filtered by Contained, per the two strategies in THE CORE's spec.
type iterFunc func() (key []byte, dcc causal.DottedCausalContainer, ok bool)

// senderCore is the shared windowed-transfer machinery behind
// BootstrapSender and SyncSender: it maintains up to cfg.SyncMsgInflight
// outstanding SyncSend messages, retransmits any that time out, and emits
// SyncFin once the iterator is exhausted and the window has drained.
type senderCore struct {
	cookie    fabric.Cookie
	vnodeNum  uint16
	peer      causal.NodeID
	transport fabric.Transport
	cfg       Config

	clocksSnapshot causal.BitmappedVersionVector
	iterator       iterFunc
	inflight       *inflight.Map[uint64, sendItem]
	count          uint64
	lastRecv       time.Time
}

func newSenderCore(cookie fabric.Cookie, vnodeNum uint16, peer causal.NodeID, transport fabric.Transport, cfg Config, snapshot causal.BitmappedVersionVector, it iterFunc) *senderCore {
	return &senderCore{
		cookie:         cookie,
		vnodeNum:       vnodeNum,
		peer:           peer,
		transport:      transport,
		cfg:            cfg,
		clocksSnapshot: snapshot,
		iterator:       it,
		inflight:       inflight.New[uint64, sendItem](),
		lastRecv:       time.Now(),
	}
}

// sendNext retransmits anything past its per-message timeout, then tops up
// the in-flight window from the iterator. When the iterator is exhausted
// and the window has fully drained, it emits the success Fin.
func (c *senderCore) sendNext() {
	now := time.Now()
	deadline := now.Add(c.cfg.SyncMsgTimeout)

	c.inflight.Sweep(now, func(seq uint64, item sendItem) {
		c.inflight.Insert(seq, item, deadline)
		c.sendOne(seq, item)
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.SyncResent.Inc()
		}
	})

	for c.inflight.Len() < c.cfg.SyncMsgInflight {
		key, dcc, ok := c.iterator()
		if !ok {
			break
		}
		seq := c.count
		c.count++
		item := sendItem{key: key, dcc: dcc}
		c.inflight.Insert(seq, item, deadline)
		c.sendOne(seq, item)
	}

	if c.inflight.Len() == 0 {
		c.sendFin()
	}
}

func (c *senderCore) sendOne(seq uint64, item sendItem) {
	msg := fabric.SyncSend{Seq: seq, Key: item.key, Container: encodeDCC(item.dcc)}
	msg.Cookie, msg.Vnode = c.cookie, c.vnodeNum
	_ = c.transport.SendMsg(c.peer, msg)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.SyncSent.Inc()
	}
}

func (c *senderCore) sendFin() {
	msg := fabric.SyncFin{OK: true, Clocks: encodeBVV(c.clocksSnapshot)}
	msg.Cookie, msg.Vnode = c.cookie, c.vnodeNum
	_ = c.transport.SendMsg(c.peer, msg)
}

// onAck clears the acknowledged message from the window and tops it back up.
func (c *senderCore) onAck(msg fabric.SyncAck) {
	c.inflight.Delete(msg.Seq)
	c.lastRecv = time.Now()
	c.sendNext()
}

// onTick reports the sender's watchdog state and, if still alive, drives
// another round of sendNext.
func (c *senderCore) onTick(now time.Time) Result {
	if now.Sub(c.lastRecv) > c.cfg.SyncTimeout {
		return Done
	}
	c.sendNext()
	return Continue
}

func (c *senderCore) onCancel(_ *vnodestate.State) {
	// Senders are never targeted by OnCancel in THE CORE's protocol — only
	// incoming (receiver) sessions are revoked by a DHT change.
}
