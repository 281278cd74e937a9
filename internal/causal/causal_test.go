package causal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmappedVersionAddIdempotent(t *testing.T) {
	var b BitmappedVersion
	b = b.Add(1)
	b = b.Add(2)
	b = b.Add(2)
	assert.Equal(t, Version(2), b.Base)
	assert.Equal(t, uint64(0), b.Bitmap)
}

func TestBitmappedVersionOutOfOrderNormalizes(t *testing.T) {
	var b BitmappedVersion
	b = b.Add(3)
	assert.Equal(t, Version(0), b.Base)
	assert.True(t, b.Contains(3))
	assert.False(t, b.Contains(2))

	b = b.Add(1)
	b = b.Add(2)
	assert.Equal(t, Version(3), b.Base, "contiguous fill should normalize the bitmap away")
	assert.Equal(t, uint64(0), b.Bitmap)
}

func TestBitmappedVersionJoinIsUnion(t *testing.T) {
	a := BitmappedVersion{}.Add(1).Add(2).Add(5)
	b := BitmappedVersion{}.Add(1).Add(3)
	joined := a.Join(b)
	for _, v := range []Version{1, 2, 3, 5} {
		assert.Truef(t, joined.Contains(v), "joined set should contain %d", v)
	}
	assert.False(t, joined.Contains(4))
}

func TestBVVEventAdvancesOwnBase(t *testing.T) {
	bvv := NewBVV()
	assert.Equal(t, Version(1), bvv.Event(1))
	assert.Equal(t, Version(2), bvv.Event(1))
	assert.Equal(t, Version(1), bvv.Event(2))
	assert.True(t, bvv.Contains(1, 2))
	assert.False(t, bvv.Contains(1, 3))
}

func TestBVVDeltaFindsMissingDots(t *testing.T) {
	local := NewBVV()
	local.Event(1)
	local.Event(1)
	local.Event(1)

	remote := NewBVV()
	remote.Add(1, 1)

	delta := local.Delta(remote)
	require.Contains(t, delta, NodeID(1))
	assert.ElementsMatch(t, []Version{2, 3}, delta[NodeID(1)])
}

func TestDCCSyncIsCommutativeAssociativeIdempotent(t *testing.T) {
	a := NewDCC().Add(1, 1, Value("a"))
	b := NewDCC().Add(2, 1, Value("b"))
	c := NewDCC().Add(3, 1, Value("c"))

	ab := a.Sync(b)
	ba := b.Sync(a)
	assert.Equal(t, ab.Values, ba.Values, "Sync must be commutative")

	abc1 := a.Sync(b).Sync(c)
	abc2 := a.Sync(b.Sync(c))
	assert.Equal(t, abc1.Values, abc2.Values, "Sync must be associative")

	idempotent := ab.Sync(ab)
	assert.Equal(t, ab.Values, idempotent.Values, "Sync must be idempotent")
}

func TestDCCSyncDropsSupersededSiblings(t *testing.T) {
	original := NewDCC().Add(1, 1, Value("v1"))

	// A peer that has since overwritten (1,1) with (1,2) and knows about it
	// in its context should cause the old sibling to be dropped on sync.
	overwritten := NewDCC().Add(1, 2, Value("v2"))
	overwritten.Context[1] = 2

	merged := original.Sync(overwritten)
	assert.Len(t, merged.Values, 1)
	_, hasOld := merged.Values[Dot{Node: 1, Version: 1}]
	assert.False(t, hasOld, "dot causally superseded by the other side's context must not survive")
}

func TestDCCDiscardDropsObservedSiblingsAndMergesContext(t *testing.T) {
	dcc := NewDCC().Add(1, 1, Value("a")).Add(2, 1, Value("b"))

	vv := NewVersionVector()
	vv[1] = 1

	after := dcc.Discard(vv)
	_, hasA := after.Values[Dot{Node: 1, Version: 1}]
	assert.False(t, hasA)
	_, hasB := after.Values[Dot{Node: 2, Version: 1}]
	assert.True(t, hasB)
	assert.Equal(t, Version(1), after.Context[1])
}

func TestDCCStripFillRoundTrip(t *testing.T) {
	bvv := NewBVV()
	bvv.Event(1)
	bvv.Event(1)

	dcc := NewDCC().Add(1, 1, Value("a"))
	dcc.Context[1] = 2 // matches the clock's contiguous base exactly

	stripped := dcc.Strip(bvv)
	assert.Empty(t, stripped.Context, "context fully covered by the clock base should strip to nothing")

	filled := stripped.Fill(bvv)
	assert.Equal(t, Version(2), filled.Context[1], "Fill must restore what Strip removed")
}

func TestDCCContained(t *testing.T) {
	bvv := NewBVV()
	bvv.Add(1, 1)
	bvv.Add(1, 2)

	dcc := NewDCC().Add(1, 1, Value("a"))
	assert.True(t, dcc.Contained(bvv))

	dcc = dcc.Add(5, 9, Value("b"))
	assert.False(t, dcc.Contained(bvv))
}
