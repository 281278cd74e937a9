// Package storage defines the pluggable key-value engine that a vnode uses
// for its primary, log and metadata handles.
package storage

// Engine is a point key-value store with an ordered iterator and an
// explicit fsync point. A vnode opens one Engine per logical handle
// (primary data, the dot-indexed log, persisted metadata).
type Engine interface {
	Get(key []byte) ([]byte, bool)
	Set(key, value []byte) error
	Del(key []byte) error
	Clear() error
	Iterator() Iterator
	Sync() error
	Close() error
}

// Iterator walks an Engine's keys in ascending byte order.
type Iterator interface {
	// Next advances the iterator and reports the next pair, or ok=false
	// once exhausted.
	Next() (key, value []byte, ok bool)
	Close() error
}
