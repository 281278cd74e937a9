// Package vnode ties together vnodestate, vnodesync, dht and fabric into the
// single-threaded actor that owns one partition: it drives the lifecycle
// state machine, coordinates quorum reads/writes across the replica set, and
// dispatches every inbound fabric message for the vnode it owns.
//
// Every exported Controller method takes the controller's internal mutex,
// so a fabric message delivered by the transport's goroutine, a
// client-triggered Do call and a periodic Tick are serialized per vnode
// without any further coordination by the caller.
package vnode

import "vnodedb/internal/causal"

// Token identifies one client request across the asynchronous hop from
// DoGet/DoSet to the eventual Responder callback. Callers mint it however
// they like (e.g. a channel or a context value keyed by it); the Controller
// treats it as opaque.
type Token uint64

// Responder delivers the outcome of a client request back to whatever is
// waiting on it (an HTTP handler goroutine, typically). Exactly one Respond*
// call is made per Token.
type Responder interface {
	RespondOK(token Token)
	RespondInt(token Token, n int)
	RespondDCC(token Token, dcc causal.DottedCausalContainer)
	RespondError(token Token, err error)
	// RespondMoved tells the client this vnode is not (or no longer) served
	// locally; addr is a peer that should have it instead.
	RespondMoved(token Token, vnodeNum uint16, addr string)
	// RespondAsk is RespondMoved's Bootstrap-time cousin: the redirect is
	// provisional because the target is still streaming data in.
	RespondAsk(token Token, vnodeNum uint16, addr string)
}
