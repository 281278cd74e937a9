package vnode

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vnodedb/internal/causal"
	"vnodedb/internal/config"
	"vnodedb/internal/dht"
	"vnodedb/internal/fabric"
	"vnodedb/internal/storage/memstore"
	"vnodedb/internal/vnodestate"
	"vnodedb/internal/vnodesync"
)

// fakeOracle reports a fixed, static replica set regardless of what happens
// to the vnode — enough for exercising the coordinator's fan-out logic
// without a real ring.
type fakeOracle struct {
	self  causal.NodeID
	nodes []causal.NodeID
}

func (o *fakeOracle) Node() causal.NodeID { return o.self }
func (o *fakeOracle) NodesForVnode(num uint16, includePending, includeZombie bool) []causal.NodeID {
	return o.nodes
}
func (o *fakeOracle) WriteMembersForVnode(num uint16) []dht.Member {
	var out []dht.Member
	for _, n := range o.nodes {
		out = append(out, dht.Member{ID: n})
	}
	return out
}
func (o *fakeOracle) PromotePendingNode(self causal.NodeID, num uint16) error { return nil }
func (o *fakeOracle) Subscribe(fn dht.ChangeFunc)                             {}

// fakeTransport fails every send for a peer listed in unreachable, and is
// otherwise a no-op — the coordinator test only cares about how send failure
// is processed, not about real round trips.
type fakeTransport struct {
	unreachable map[causal.NodeID]bool
}

func (t *fakeTransport) SendMsg(to causal.NodeID, msg fabric.Msg) error {
	if t.unreachable[to] {
		return fmt.Errorf("unreachable")
	}
	return nil
}
func (t *fakeTransport) Handle(fabric.MsgHandler) {}

// fakeResponder records the single Respond* call made for each token onto a
// channel, so a test can synchronize with the coordinator's async fan-out.
type fakeResponder struct {
	ch chan any
}

func newFakeResponder() *fakeResponder { return &fakeResponder{ch: make(chan any, 8)} }

func (r *fakeResponder) RespondOK(token Token)    { r.ch <- "ok" }
func (r *fakeResponder) RespondInt(token Token, n int) { r.ch <- n }
func (r *fakeResponder) RespondDCC(token Token, dcc causal.DottedCausalContainer) {
	r.ch <- dcc
}
func (r *fakeResponder) RespondError(token Token, err error) { r.ch <- err }
func (r *fakeResponder) RespondMoved(token Token, vnodeNum uint16, addr string) {
	r.ch <- "moved:" + addr
}
func (r *fakeResponder) RespondAsk(token Token, vnodeNum uint16, addr string) {
	r.ch <- "ask:" + addr
}

func newTestController(t *testing.T, self causal.NodeID, nodes []causal.NodeID, unreachable map[causal.NodeID]bool, status vnodestate.Status) (*Controller, *fakeResponder) {
	t.Helper()
	dir := t.TempDir()
	meta, err := memstore.Open(dir + "/meta")
	require.NoError(t, err)
	primary, err := memstore.Open(dir + "/primary")
	require.NoError(t, err)
	logEngine, err := memstore.Open(dir + "/log")
	require.NoError(t, err)

	state, err := vnodestate.Load(0, meta, primary, logEngine, status)
	require.NoError(t, err)

	oracle := &fakeOracle{self: self, nodes: nodes}
	transport := &fakeTransport{unreachable: unreachable}
	responder := newFakeResponder()
	quota := vnodesync.NewQuota(1, 1)
	cfg := config.Default()
	cfg.RequestTimeout = 2 * time.Second

	ctrl := NewController(self, state, oracle, transport, responder, quota, cfg)
	return ctrl, responder
}

func awaitResponse(t *testing.T, ch chan any) any {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a response")
		return nil
	}
}

func TestDoGetSingleReplicaSatisfiesImmediately(t *testing.T) {
	ctrl, responder := newTestController(t, 1, []causal.NodeID{1}, nil, vnodestate.Ready)

	ctrl.DoSet(1, []byte("k"), causal.Value("v"), true, nil, config.ConsistencyOne, true)
	awaitResponse(t, responder.ch)

	ctrl.DoGet(2, []byte("k"), config.ConsistencyOne)
	got := awaitResponse(t, responder.ch)

	dcc, ok := got.(causal.DottedCausalContainer)
	require.True(t, ok)
	assert.Len(t, dcc.Values, 1)
}

func TestDoGetUnreachableReplicaYieldsUnavailableUnderAll(t *testing.T) {
	ctrl, responder := newTestController(t, 1, []causal.NodeID{1, 2}, map[causal.NodeID]bool{2: true}, vnodestate.Ready)

	ctrl.DoGet(1, []byte("k"), config.ConsistencyAll)
	got := awaitResponse(t, responder.ch)

	err, ok := got.(error)
	require.True(t, ok, "expected an error response, got %T", got)
	assert.ErrorContains(t, err, "unavailable")
}

func TestDoSetUnreachableReplicaStillSatisfiesOne(t *testing.T) {
	ctrl, responder := newTestController(t, 1, []causal.NodeID{1, 2}, map[causal.NodeID]bool{2: true}, vnodestate.Ready)

	ctrl.DoSet(1, []byte("k"), causal.Value("v"), true, nil, config.ConsistencyOne, false)
	got := awaitResponse(t, responder.ch)
	assert.Equal(t, "ok", got)
}

func TestDoGetWhenNotReadyWithoutPeerAddressIsUnavailable(t *testing.T) {
	ctrl, responder := newTestController(t, 1, []causal.NodeID{1, 2}, nil, vnodestate.Absent)

	ctrl.DoGet(1, []byte("k"), config.ConsistencyOne)
	got := awaitResponse(t, responder.ch)

	_, isErr := got.(error)
	assert.True(t, isErr, "an Absent vnode with no addressed peer should report unavailable")
}
