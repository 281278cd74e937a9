// Package boltstore implements storage.Engine on top of an embedded bbolt
// database, one bucket per vnode handle. This is the default production
// backend: unlike memstore it does not require holding the entire dataset
// in process memory, and fsync durability comes from bbolt's own commit
// path rather than a hand-rolled WAL.
package boltstore

import (
	"fmt"

	"go.etcd.io/bbolt"

	"vnodedb/internal/storage"
)

// DB wraps a single bbolt file shared by every handle opened against it.
type DB struct {
	bolt *bbolt.DB
}

// Open opens (creating if necessary) a bbolt file at path.
func Open(path string) (*DB, error) {
	b, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	return &DB{bolt: b}, nil
}

// Handle returns a storage.Engine backed by the named bucket, creating it on
// first use. Multiple handles (primary, log, metadata) share one underlying
// file and one set of bbolt transactions.
func (db *DB) Handle(bucket string) (*Handle, error) {
	name := []byte(bucket)
	err := db.bolt.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(name)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
	}
	return &Handle{db: db.bolt, bucket: name}, nil
}

// Close closes the underlying bbolt file. Call once all handles are done.
func (db *DB) Close() error {
	return db.bolt.Close()
}

// Handle is one bbolt bucket presented as a storage.Engine.
type Handle struct {
	db     *bbolt.DB
	bucket []byte
}

func (h *Handle) Get(key []byte) ([]byte, bool) {
	var out []byte
	_ = h.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(h.bucket).Get(key)
		if v != nil {
			out = make([]byte, len(v))
			copy(out, v)
		}
		return nil
	})
	if out == nil {
		return nil, false
	}
	return out, true
}

func (h *Handle) Set(key, value []byte) error {
	return h.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(h.bucket).Put(key, value)
	})
}

func (h *Handle) Del(key []byte) error {
	return h.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(h.bucket).Delete(key)
	})
}

func (h *Handle) Clear() error {
	return h.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(h.bucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(h.bucket)
		return err
	})
}

func (h *Handle) Sync() error {
	return h.db.Sync()
}

func (h *Handle) Close() error {
	// Individual handles share the parent DB's lifetime; closing is a no-op
	// here and happens once via DB.Close.
	return nil
}

// Iterator returns a snapshot-consistent cursor over the bucket, backed by a
// single long-lived read transaction that is released on Close.
func (h *Handle) Iterator() storage.Iterator {
	tx, err := h.db.Begin(false)
	if err != nil {
		return &errIterator{err: err}
	}
	cur := tx.Bucket(h.bucket).Cursor()
	return &boltIterator{tx: tx, cur: cur, first: true}
}

type boltIterator struct {
	tx    *bbolt.Tx
	cur   *bbolt.Cursor
	first bool
}

func (it *boltIterator) Next() (key, value []byte, ok bool) {
	var k, v []byte
	if it.first {
		k, v = it.cur.First()
		it.first = false
	} else {
		k, v = it.cur.Next()
	}
	if k == nil {
		return nil, nil, false
	}
	keyCopy := make([]byte, len(k))
	copy(keyCopy, k)
	valCopy := make([]byte, len(v))
	copy(valCopy, v)
	return keyCopy, valCopy, true
}

func (it *boltIterator) Close() error {
	return it.tx.Rollback()
}

type errIterator struct{ err error }

func (it *errIterator) Next() ([]byte, []byte, bool) { return nil, nil, false }
func (it *errIterator) Close() error                 { return it.err }

var _ storage.Engine = (*Handle)(nil)
