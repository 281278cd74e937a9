package vnodesync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuotaSignalStartRespectsCapPerDirection(t *testing.T) {
	q := NewQuota(1, 2)

	assert.True(t, q.SignalStart(Incoming))
	assert.False(t, q.SignalStart(Incoming), "a second incoming slot should be refused once the cap of 1 is reached")

	assert.True(t, q.SignalStart(Outgoing))
	assert.True(t, q.SignalStart(Outgoing))
	assert.False(t, q.SignalStart(Outgoing))

	in, out := q.Gauges()
	assert.Equal(t, 1, in)
	assert.Equal(t, 2, out)
}

func TestQuotaReleaseFreesASlot(t *testing.T) {
	q := NewQuota(1, 1)
	require := assert.New(t)

	require.True(q.SignalStart(Incoming))
	require.False(q.SignalStart(Incoming))

	q.Release(Incoming)
	require.True(q.SignalStart(Incoming))
}
