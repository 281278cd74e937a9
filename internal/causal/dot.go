// Package causal implements the dotted-version-vector causality model used
// by a vnode to track concurrent writes without losing them: bitmapped
// version vectors for compact per-node dot sets, plain version vectors for
// causal contexts, and dotted causal containers for the per-key sibling
// bundle that a client ultimately sees.
package causal

import "fmt"

// NodeID is the opaque identity of a physical node.
type NodeID uint64

// Version is a per-node monotonic write counter. The pair (NodeID, Version)
// is called a dot and names exactly one write event.
type Version uint64

// Dot names a single write event.
type Dot struct {
	Node    NodeID
	Version Version
}

func (d Dot) String() string {
	return fmt.Sprintf("(%d,%d)", d.Node, d.Version)
}
