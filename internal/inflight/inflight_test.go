package inflight

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertGetDelete(t *testing.T) {
	m := New[string, int]()
	m.Insert("a", 1, time.Now().Add(time.Minute))

	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = m.Get("missing")
	assert.False(t, ok)

	v, ok = m.Delete("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 0, m.Len())
}

func TestUpdateMutatesInPlace(t *testing.T) {
	m := New[string, int]()
	m.Insert("a", 1, time.Now().Add(time.Minute))

	ok := m.Update("a", func(v int) int { return v + 41 })
	require.True(t, ok)

	v, _ := m.Get("a")
	assert.Equal(t, 42, v)

	ok = m.Update("missing", func(v int) int { return v })
	assert.False(t, ok)
}

func TestSweepExpiresOnlyPastDeadlines(t *testing.T) {
	m := New[string, int]()
	now := time.Now()
	m.Insert("expired", 1, now.Add(-time.Second))
	m.Insert("fresh", 2, now.Add(time.Minute))

	var expired []string
	m.Sweep(now, func(k string, v int) {
		expired = append(expired, k)
	})

	assert.Equal(t, []string{"expired"}, expired)
	assert.Equal(t, 1, m.Len())
	_, ok := m.Get("fresh")
	assert.True(t, ok)
}

func TestKeysSnapshot(t *testing.T) {
	m := New[string, int]()
	m.Insert("a", 1, time.Now().Add(time.Minute))
	m.Insert("b", 2, time.Now().Add(time.Minute))

	assert.ElementsMatch(t, []string{"a", "b"}, m.Keys())
}
