package causal

// BitmappedVersionVector maps each node to its BitmappedVersion, forming the
// persistent clock carried by a vnode. For the owning node, Base always
// equals the highest locally issued dot and the bitmap is zero — Event is
// the only mutator that should ever touch the owning node's entry.
type BitmappedVersionVector map[NodeID]BitmappedVersion

// NewBVV returns an empty clock.
func NewBVV() BitmappedVersionVector {
	return make(BitmappedVersionVector)
}

// Get returns the BitmappedVersion tracked for n, or the zero value.
func (bvv BitmappedVersionVector) Get(n NodeID) BitmappedVersion {
	return bvv[n]
}

// Event increments node n's base and returns the freshly issued dot. Callers
// must only invoke this for the local node.
func (bvv BitmappedVersionVector) Event(n NodeID) Version {
	bv := bvv[n]
	bv = bv.Add(bv.Base + 1)
	bvv[n] = bv
	return bv.Base
}

// Add records that dot (n, v) has been observed, without necessarily making
// it the newest local event (used when accepting a remote write).
func (bvv BitmappedVersionVector) Add(n NodeID, v Version) {
	bvv[n] = bvv[n].Add(v)
}

// Contains reports whether dot (n, v) is covered by this clock.
func (bvv BitmappedVersionVector) Contains(n NodeID, v Version) bool {
	return bvv[n].Contains(v)
}

// Join merges other into bvv in place (incremental-sync acceptance) and
// returns the receiver for chaining.
func (bvv BitmappedVersionVector) Join(other BitmappedVersionVector) BitmappedVersionVector {
	for n, bv := range other {
		bvv[n] = bvv[n].Join(bv)
	}
	return bvv
}

// Merge combines other into bvv in place (bootstrap acceptance) and returns
// the receiver for chaining.
func (bvv BitmappedVersionVector) Merge(other BitmappedVersionVector) BitmappedVersionVector {
	for n, bv := range other {
		bvv[n] = bvv[n].Merge(bv)
	}
	return bvv
}

// Clone returns a deep copy.
func (bvv BitmappedVersionVector) Clone() BitmappedVersionVector {
	out := make(BitmappedVersionVector, len(bvv))
	for n, bv := range bvv {
		out[n] = bv
	}
	return out
}

// Delta returns, per node, the dots present in bvv but not in other — the
// work a SyncSender must still push to a peer whose clock is `other`.
func (bvv BitmappedVersionVector) Delta(other BitmappedVersionVector) map[NodeID][]Version {
	out := make(map[NodeID][]Version)
	for n, bv := range bvv {
		d := bv.Delta(other[n])
		if len(d) > 0 {
			out[n] = d
		}
	}
	return out
}

// ToVersionVector collapses the clock to a plain version vector using each
// node's contiguous base — the compact causal context stored alongside a DCC.
func (bvv BitmappedVersionVector) ToVersionVector() VersionVector {
	vv := make(VersionVector, len(bvv))
	for n, bv := range bvv {
		vv[n] = bv.Base
	}
	return vv
}

// VersionVector is a plain, compact mapping of node to the highest version
// causally known for it. Unlike a BVV it carries no bitmap: it summarizes
// "everything up to and including this version", never out-of-order dots.
type VersionVector map[NodeID]Version

// NewVersionVector returns an empty causal context.
func NewVersionVector() VersionVector {
	return make(VersionVector)
}

// Get returns the highest known version for n, or 0.
func (vv VersionVector) Get(n NodeID) Version {
	return vv[n]
}

// Contains reports whether dot (n, v) is causally known.
func (vv VersionVector) Contains(n NodeID, v Version) bool {
	return v <= vv[n]
}

// Merge returns the pointwise-maximum of vv and other, mutating vv in place.
func (vv VersionVector) Merge(other VersionVector) VersionVector {
	for n, v := range other {
		if v > vv[n] {
			vv[n] = v
		}
	}
	return vv
}

// Clone returns a deep copy.
func (vv VersionVector) Clone() VersionVector {
	out := make(VersionVector, len(vv))
	for n, v := range vv {
		out[n] = v
	}
	return out
}
