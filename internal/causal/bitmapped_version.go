package causal

import "math/bits"

// BitmappedVersion is a compact representation of a set of versions: a
// contiguous prefix {1..=Base} plus a bitmap of out-of-order versions above
// it. The contiguous-prefix case — the overwhelming common case for a node
// that is not lagging — costs O(1) storage regardless of how many versions
// have actually been issued.
type BitmappedVersion struct {
	Base   Version
	Bitmap uint64
}

// Contains reports whether v is a member of the represented set.
func (b BitmappedVersion) Contains(v Version) bool {
	if v <= b.Base {
		return true
	}
	offset := v - b.Base - 1
	if offset >= 64 {
		return false
	}
	return b.Bitmap&(uint64(1)<<offset) != 0
}

// Add inserts v into the set, advancing and normalizing Base when possible.
func (b BitmappedVersion) Add(v Version) BitmappedVersion {
	switch {
	case v <= b.Base:
		return b
	case v == b.Base+1:
		b.Base = v
		// Bit i means Base+1+i, so advancing Base by one shifts every bit down.
		b.Bitmap >>= 1
		b.normalize()
		return b
	default:
		offset := v - b.Base - 1
		if offset < 64 {
			b.Bitmap |= uint64(1) << offset
		}
		return b
	}
}

// normalize promotes any contiguous run of set low bits into Base, shrinking
// the bitmap back toward zero as gaps are filled in.
func (b *BitmappedVersion) normalize() {
	for b.Bitmap&1 != 0 {
		b.Base++
		b.Bitmap >>= 1
	}
}

// Join computes the union of two dot sets: the higher base wins, and the
// lower side's residual bitmap (including any versions now covered by the
// new base) is folded into the result. Used for incremental sync.
func (b BitmappedVersion) Join(other BitmappedVersion) BitmappedVersion {
	lo, hi := b, other
	if lo.Base > hi.Base {
		lo, hi = hi, lo
	}
	result := hi
	// Bring lo's out-of-order bits, reinterpreted against hi.Base, into the result.
	for i := 0; i < 64; i++ {
		if lo.Bitmap&(uint64(1)<<uint(i)) == 0 {
			continue
		}
		v := lo.Base + 1 + Version(i)
		result = result.Add(v)
	}
	// lo's own contiguous prefix may extend past hi.Base in degenerate cases
	// (shouldn't normally happen, but Add already no-ops on dots we already have).
	return result
}

// Merge is semantically identical to Join for this representation — both
// compute the dot-set union — but is named separately because bootstrap
// acceptance (Merge) and incremental-sync acceptance (Join) are distinct
// call sites with distinct invariants upstream (see vnode package).
func (b BitmappedVersion) Merge(other BitmappedVersion) BitmappedVersion {
	return b.Join(other)
}

// Delta returns the versions present in b but absent from other, bounded to
// what the bitmap can represent. other may itself hold out-of-order bits
// inside the other.Base+1..b.Base range, so every candidate is checked
// against other.Contains rather than assumed missing.
func (b BitmappedVersion) Delta(other BitmappedVersion) []Version {
	var out []Version
	for v := other.Base + 1; v <= b.Base; v++ {
		if other.Contains(v) {
			continue
		}
		out = append(out, v)
	}
	for i := 0; i < 64; i++ {
		if b.Bitmap&(uint64(1)<<uint(i)) == 0 {
			continue
		}
		v := b.Base + 1 + Version(i)
		if !other.Contains(v) {
			out = append(out, v)
		}
	}
	return out
}

// PopCount reports how many out-of-order dots are currently tracked in the bitmap.
func (b BitmappedVersion) PopCount() int {
	return bits.OnesCount64(b.Bitmap)
}
