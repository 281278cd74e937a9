// Package vnoderr collects the sentinel errors that make up the core's
// error taxonomy, returned by the coordinator and the vnode state so callers
// can classify a failure with errors.Is instead of string matching. The
// synchronization sessions do not return these values; they carry the
// BadVNodeStatus, CookieNotFound and NotReady kinds as SyncFin ErrMsg
// strings.
package vnoderr

import "errors"

var (
	// ErrTimeout fires when a request's deadline passed before quorum.
	ErrTimeout = errors.New("vnode: request timed out")
	// ErrUnavailable fires when a request finished (all replies in) without
	// reaching the required number of successes.
	ErrUnavailable = errors.New("vnode: unavailable, insufficient replicas acknowledged")
	// ErrTooManyVersions fires when a write would push a key's concurrent
	// sibling count past value_version_max.
	ErrTooManyVersions = errors.New("vnode: too many concurrent versions")
	// ErrBadVNodeStatus fires when a fabric message arrives at a vnode whose
	// current status cannot service it.
	ErrBadVNodeStatus = errors.New("vnode: incompatible status for this message")
	// ErrCookieNotFound fires when a Send/Ack/Fin names a session that has
	// already finished or never existed here.
	ErrCookieNotFound = errors.New("vnode: cookie not found")
	// ErrNotReady fires when a global sync quota is exhausted and a session
	// cannot start.
	ErrNotReady = errors.New("vnode: sync quota exhausted")
)
