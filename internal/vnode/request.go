package vnode

import "vnodedb/internal/causal"

// ReqState tracks one in-flight client request fanned out across the
// replica set: how many replies are required to satisfy the requested
// consistency level, how many have arrived, and the accumulated result.
type ReqState struct {
	Token      Token
	Required   int
	Total      int
	Replies    int
	Successful int

	// IsDelete and ReplyResult distinguish how a satisfied write replies:
	// ReplyResult means "send the merged DCC back" (used by client SDKs
	// that want to see the resulting siblings), IsDelete means "send a
	// bare success count" for a delete, otherwise a bare RespondOK.
	IsDelete   bool
	ReplyResult bool

	Container causal.DottedCausalContainer
}

// satisfied reports whether enough replicas have answered successfully to
// resolve the request favorably.
func (r *ReqState) satisfied() bool {
	return r.Successful >= r.Required
}

// exhausted reports whether every replica contacted has now replied (success
// or failure), meaning the request can never progress further.
func (r *ReqState) exhausted() bool {
	return r.Replies >= r.Total
}
