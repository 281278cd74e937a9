package causal

// Value is an opaque user payload. The causal layer never interprets it.
type Value []byte

// DottedCausalContainer ("DCC") is the per-key value bundle: the set of
// currently-live concurrent siblings, each named by the dot that created it,
// plus a causal context summarizing everything ever known about this key
// (including deletes, which simply omit a sibling for their dot).
type DottedCausalContainer struct {
	Values  map[Dot]Value
	Context VersionVector
}

// NewDCC returns an empty container.
func NewDCC() DottedCausalContainer {
	return DottedCausalContainer{
		Values:  make(map[Dot]Value),
		Context: make(VersionVector),
	}
}

// IsEmpty reports whether the container carries no siblings and no causal
// history — such a key is eligible for physical deletion from storage.
func (d DottedCausalContainer) IsEmpty() bool {
	return len(d.Values) == 0 && len(d.Context) == 0
}

// Add records a new sibling produced by dot (n, v) and advances the context
// to causally dominate it. Precondition: v was just issued by clocks.Event(n).
func (d DottedCausalContainer) Add(n NodeID, v Version, val Value) DottedCausalContainer {
	d.Values[Dot{Node: n, Version: v}] = val
	if v > d.Context[n] {
		d.Context[n] = v
	}
	return d
}

// Discard drops every sibling causally dominated by vv (the client's
// observed context) and folds vv into the result's context. Used before a
// coordinated write to express "the client has already seen vv".
func (d DottedCausalContainer) Discard(vv VersionVector) DottedCausalContainer {
	out := NewDCC()
	for dot, val := range d.Values {
		if vv.Contains(dot.Node, dot.Version) {
			continue
		}
		out.Values[dot] = val
	}
	out.Context = d.Context.Clone().Merge(vv)
	return out
}

// Sync merges other into d: a sibling survives iff its dot is not causally
// superseded by the other side's context. Commutative, associative and
// idempotent by construction.
func (d DottedCausalContainer) Sync(other DottedCausalContainer) DottedCausalContainer {
	out := NewDCC()
	for dot, val := range d.Values {
		if other.Context.Contains(dot.Node, dot.Version) && !other.hasDot(dot) {
			continue
		}
		out.Values[dot] = val
	}
	for dot, val := range other.Values {
		if _, already := out.Values[dot]; already {
			continue
		}
		if d.Context.Contains(dot.Node, dot.Version) && !d.hasDot(dot) {
			continue
		}
		out.Values[dot] = val
	}
	out.Context = d.Context.Clone().Merge(other.Context)
	return out
}

func (d DottedCausalContainer) hasDot(dot Dot) bool {
	_, ok := d.Values[dot]
	return ok
}

// Strip removes from the context any dot already guaranteed covered by the
// clock's contiguous base, shrinking the on-disk representation. It is the
// inverse of Fill and is applied just before persisting.
func (d DottedCausalContainer) Strip(bvv BitmappedVersionVector) DottedCausalContainer {
	out := d.Context.Clone()
	for n, v := range d.Context {
		if v <= bvv.Get(n).Base {
			delete(out, n)
		}
	}
	d.Context = out
	return d
}

// Fill restores context entries implied by the clock's contiguous base. It
// must be applied before comparing two DCCs (e.g. inside Sync/Discard) so
// that a stripped context still behaves as if it carried every base entry.
func (d DottedCausalContainer) Fill(bvv BitmappedVersionVector) DottedCausalContainer {
	out := d.Context.Clone()
	for n, bv := range bvv {
		if bv.Base > out[n] {
			out[n] = bv.Base
		}
	}
	d.Context = out
	return d
}

// Contained reports whether every sibling dot is covered by bvv — true once
// a peer's clock has fully absorbed this container and no additional
// transfer is required.
func (d DottedCausalContainer) Contained(bvv BitmappedVersionVector) bool {
	for dot := range d.Values {
		if !bvv.Contains(dot.Node, dot.Version) {
			return false
		}
	}
	return true
}
