// Package dht implements the replica-placement oracle a vnode consults to
// learn which physical nodes currently hold, are about to hold (pending),
// or are about to give up (zombie) a given partition.
//
// Placement itself is consistent hashing over virtual nodes, adapted from
// the teacher's ring implementation; what's new here is the pending/zombie
// overlay the vnode state machine needs to drive bootstrap and decommission.
package dht

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"slices"
	"sort"
	"sync"

	"vnodedb/internal/causal"
)

const defaultVnodesPerMember = 150

// Member is one physical node participating in the ring.
type Member struct {
	ID   causal.NodeID
	Addr string
}

// ring is a consistent-hash ring over physical members. Virtual nodes
// spread each member's ownership evenly across the key space so that
// membership changes only move a small fraction of partitions.
type ring struct {
	mu      sync.RWMutex
	vnodes  int
	members map[causal.NodeID]Member
	points  map[uint32]causal.NodeID
	sorted  []uint32
}

func newRing(vnodesPerMember int) *ring {
	if vnodesPerMember <= 0 {
		vnodesPerMember = defaultVnodesPerMember
	}
	return &ring{
		vnodes:  vnodesPerMember,
		members: make(map[causal.NodeID]Member),
		points:  make(map[uint32]causal.NodeID),
	}
}

func (r *ring) add(m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[m.ID] = m
	for i := 0; i < r.vnodes; i++ {
		r.points[r.hash(m.ID, i)] = m.ID
	}
	r.rebuild()
}

func (r *ring) remove(id causal.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, id)
	for i := 0; i < r.vnodes; i++ {
		delete(r.points, r.hash(id, i))
	}
	r.rebuild()
}

// replicasFor returns the n distinct members responsible for vnode num,
// walking clockwise from its ring position.
func (r *ring) replicasFor(num uint16, n int) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.sorted) == 0 {
		return nil
	}
	pos := r.hashVnode(num)
	idx := r.search(pos)

	seen := make(map[causal.NodeID]bool)
	var out []Member
	for i := 0; i < len(r.sorted) && len(out) < n; i++ {
		id := r.points[r.sorted[(idx+i)%len(r.sorted)]]
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, r.members[id])
	}
	return out
}

func (r *ring) memberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *ring) hash(id causal.NodeID, i int) uint32 {
	h := sha256.Sum256([]byte(fmt.Sprintf("%d#%d", id, i)))
	return binary.BigEndian.Uint32(h[:4])
}

func (r *ring) hashVnode(num uint16) uint32 {
	h := sha256.Sum256([]byte(fmt.Sprintf("vnode#%d", num)))
	return binary.BigEndian.Uint32(h[:4])
}

func (r *ring) rebuild() {
	r.sorted = make([]uint32, 0, len(r.points))
	for p := range r.points {
		r.sorted = append(r.sorted, p)
	}
	slices.Sort(r.sorted)
}

func (r *ring) search(pos uint32) int {
	idx := sort.Search(len(r.sorted), func(i int) bool { return r.sorted[i] >= pos })
	if idx == len(r.sorted) {
		idx = 0
	}
	return idx
}
