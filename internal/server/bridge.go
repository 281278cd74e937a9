package server

import (
	"sync"
	"sync/atomic"

	"vnodedb/internal/causal"
	"vnodedb/internal/vnode"
)

type resultKind int

const (
	kindOK resultKind = iota
	kindInt
	kindDCC
	kindErr
	kindMoved
	kindAsk
)

type result struct {
	kind resultKind
	n    int
	dcc  causal.DottedCausalContainer
	err  error
	addr string
}

// bridge implements vnode.Responder by handing each Token a private,
// single-shot channel: Node.Get/Put/Delete mint a token and its channel
// via newToken, pass the token to DoGet/DoSet, and the
// calling goroutine blocks on it while the Controller resolves the request
// (synchronously for a local-only quorum, asynchronously once a fabric
// round trip is needed).
type bridge struct {
	mu      sync.Mutex
	pending map[vnode.Token]chan result
	next    uint64
}

func newBridge() *bridge {
	return &bridge{pending: make(map[vnode.Token]chan result)}
}

func (b *bridge) newToken() (vnode.Token, chan result) {
	t := vnode.Token(atomic.AddUint64(&b.next, 1))
	ch := make(chan result, 1)
	b.mu.Lock()
	b.pending[t] = ch
	b.mu.Unlock()
	return t, ch
}

// abandon drops a token without waiting for its result, e.g. after a caller
// context is cancelled — a reply that arrives later finds nothing to deliver
// to and is silently dropped.
func (b *bridge) abandon(t vnode.Token) {
	b.mu.Lock()
	delete(b.pending, t)
	b.mu.Unlock()
}

func (b *bridge) deliver(t vnode.Token, r result) {
	b.mu.Lock()
	ch, ok := b.pending[t]
	if ok {
		delete(b.pending, t)
	}
	b.mu.Unlock()
	if ok {
		ch <- r
	}
}

func (b *bridge) RespondOK(t vnode.Token) { b.deliver(t, result{kind: kindOK}) }

func (b *bridge) RespondInt(t vnode.Token, n int) { b.deliver(t, result{kind: kindInt, n: n}) }

func (b *bridge) RespondDCC(t vnode.Token, dcc causal.DottedCausalContainer) {
	b.deliver(t, result{kind: kindDCC, dcc: dcc})
}

func (b *bridge) RespondError(t vnode.Token, err error) {
	b.deliver(t, result{kind: kindErr, err: err})
}

func (b *bridge) RespondMoved(t vnode.Token, _ uint16, addr string) {
	b.deliver(t, result{kind: kindMoved, addr: addr})
}

func (b *bridge) RespondAsk(t vnode.Token, _ uint16, addr string) {
	b.deliver(t, result{kind: kindAsk, addr: addr})
}

var _ vnode.Responder = (*bridge)(nil)
