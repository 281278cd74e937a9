package dht

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vnodedb/internal/causal"
)

func fiveMemberRing() *StaticOracle {
	members := []Member{
		{ID: 1, Addr: "n1:8080"},
		{ID: 2, Addr: "n2:8080"},
		{ID: 3, Addr: "n3:8080"},
		{ID: 4, Addr: "n4:8080"},
		{ID: 5, Addr: "n5:8080"},
	}
	return NewStaticOracle(1, members, 64)
}

func TestNodesForVnodeIsStableAndDeduped(t *testing.T) {
	o := fiveMemberRing()

	first := o.NodesForVnode(7, false, false)
	second := o.NodesForVnode(7, false, false)
	assert.Equal(t, first, second, "placement for a vnode must be deterministic across calls")

	replicationFactor := replicationFactorFor(5)
	assert.Len(t, first, replicationFactor)

	seen := make(map[causal.NodeID]bool)
	for _, id := range first {
		assert.False(t, seen[id], "replica set must not repeat a member")
		seen[id] = true
	}
}

func TestReplicationFactorCapsToMemberCount(t *testing.T) {
	assert.Equal(t, 2, replicationFactorFor(2))
	assert.Equal(t, 3, replicationFactorFor(3))
	assert.Equal(t, 3, replicationFactorFor(10))
}

func TestPendingAndZombieOverlayWidenMembership(t *testing.T) {
	o := fiveMemberRing()
	base := o.NodesForVnode(3, false, false)

	newNode := causal.NodeID(99)
	o.MarkPending(3, newNode)
	withPending := o.NodesForVnode(3, true, false)
	assert.Len(t, withPending, len(base)+1)

	o.MarkZombie(3, causal.NodeID(100))
	withZombie := o.NodesForVnode(3, false, true)
	assert.Len(t, withZombie, len(base)+1)

	o.Evict(3, newNode)
	o.Evict(3, causal.NodeID(100))
	assert.Len(t, o.NodesForVnode(3, true, true), len(base))
}

func TestPromotePendingNodeRequiresPendingEntry(t *testing.T) {
	o := fiveMemberRing()
	err := o.PromotePendingNode(causal.NodeID(1), 3)
	require.Error(t, err)

	o.MarkPending(3, causal.NodeID(1))
	err = o.PromotePendingNode(causal.NodeID(1), 3)
	assert.NoError(t, err)
}

func TestSubscribeNotifiedOnSelfTransition(t *testing.T) {
	o := fiveMemberRing()
	var got []VnodeStatus
	o.Subscribe(func(num uint16, status VnodeStatus) {
		got = append(got, status)
	})

	o.MarkZombie(10, o.Node())
	require.Len(t, got, 1)
	assert.Equal(t, StatusAbsent, got[0])

	o.MarkPending(10, o.Node())
	require.Len(t, got, 2)
	assert.Equal(t, StatusReady, got[1])
}
