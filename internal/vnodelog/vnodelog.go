// Package vnodelog implements the durable index of recent writes keyed by
// their originating dot. It is not a redo log — it indexes the primary
// store by (node, version) so a SyncSender can answer "what changed since
// version X on node N" without scanning every key.
package vnodelog

import (
	"encoding/binary"
	"sync"

	"vnodedb/internal/causal"
	"vnodedb/internal/storage"
)

// Log is a durable mapping (NodeID, Version) -> user key, backed by a
// storage.Engine handle dedicated to this vnode.
type Log struct {
	engine storage.Engine

	mu   sync.Mutex
	tail map[causal.NodeID]causal.Version // in-memory high-water mark per node
}

// Open wraps engine as a vnode log, seeding the in-memory tail by scanning
// existing entries (needed after a restart so duplicate-write suppression
// keeps working without a full rescan on every call).
func Open(engine storage.Engine) *Log {
	l := &Log{engine: engine, tail: make(map[causal.NodeID]causal.Version)}
	it := engine.Iterator()
	defer it.Close()
	for {
		k, _, ok := it.Next()
		if !ok {
			break
		}
		n, v, ok := decodeKey(k)
		if !ok {
			continue
		}
		if v > l.tail[n] {
			l.tail[n] = v
		}
	}
	return l
}

// encodeKey packs (node, version) into the 16-byte big-endian key used on
// disk, so that entries for a given node sort contiguously and in version
// order — required for Log.IterFrom's range scan.
func encodeKey(n causal.NodeID, v causal.Version) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], uint64(n))
	binary.BigEndian.PutUint64(buf[8:16], uint64(v))
	return buf
}

func decodeKey(k []byte) (causal.NodeID, causal.Version, bool) {
	if len(k) != 16 {
		return 0, 0, false
	}
	n := causal.NodeID(binary.BigEndian.Uint64(k[0:8]))
	v := causal.Version(binary.BigEndian.Uint64(k[8:16]))
	return n, v, true
}

// Log writes an index entry for dot (n, v) -> key, but only if v exceeds the
// in-memory tail for n. This suppresses duplicate writes during log replay
// or retransmission of the same dot.
func (l *Log) Log(n causal.NodeID, v causal.Version, key []byte) error {
	l.mu.Lock()
	if v <= l.tail[n] {
		l.mu.Unlock()
		return nil
	}
	l.tail[n] = v
	l.mu.Unlock()

	return l.engine.Set(encodeKey(n, v), key)
}

// Get looks up the user key recorded for dot (n, v), if any.
func (l *Log) Get(n causal.NodeID, v causal.Version) ([]byte, bool) {
	return l.engine.Get(encodeKey(n, v))
}

// MinLoggedVersion returns the lowest version currently retained for node n,
// used to decide whether a log-driven sync can cover the gap to a peer's
// clock or must fall back to a full scan. ok is false if nothing for n is
// logged.
func (l *Log) MinLoggedVersion(n causal.NodeID) (causal.Version, bool) {
	prefix := encodeKey(n, 0)
	it := l.engine.Iterator()
	defer it.Close()
	for {
		k, _, ok := it.Next()
		if !ok {
			return 0, false
		}
		kn, kv, ok := decodeKey(k)
		if !ok {
			continue
		}
		if kn != n {
			if kn > n {
				return 0, false
			}
			continue
		}
		_ = prefix
		return kv, true
	}
}

// IterFrom scans all entries for node n with version >= from, invoking f
// with each (version, user key) pair in ascending version order. Iteration
// stops early if f returns false.
func (l *Log) IterFrom(n causal.NodeID, from causal.Version, f func(v causal.Version, key []byte) bool) {
	it := l.engine.Iterator()
	defer it.Close()
	for {
		k, val, ok := it.Next()
		if !ok {
			return
		}
		kn, kv, ok := decodeKey(k)
		if !ok || kn != n {
			continue
		}
		if kv < from {
			continue
		}
		if !f(kv, val) {
			return
		}
	}
}

// Sync fsyncs the underlying handle.
func (l *Log) Sync() error { return l.engine.Sync() }

// Clear empties the log and resets the in-memory tail — used when a vnode
// transitions into Bootstrap and must discard all local state.
func (l *Log) Clear() error {
	l.mu.Lock()
	l.tail = make(map[causal.NodeID]causal.Version)
	l.mu.Unlock()
	return l.engine.Clear()
}
