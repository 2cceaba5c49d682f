// ABOUTME: Write transactions over the KV store
// ABOUTME: Begin/Commit/Abort with copy-on-write atomicity and one writer at a time

package storage

import (
	"github.com/nainya/rowstore/pkg/btree"
)

// KVTX represents a key-value transaction
type KVTX struct {
	db   *KV
	meta []byte // Saved meta for rollback
	done bool
}

// Begin starts a new transaction. Only one transaction may be active.
func (db *KV) Begin() (*KVTX, error) {
	if !db.open {
		return nil, ErrClosed
	}
	if db.active != nil {
		return nil, ErrTxActive
	}

	tx := &KVTX{
		db:   db,
		meta: db.saveMeta(),
	}
	db.active = tx
	return tx, nil
}

// InTx reports whether a transaction is currently active
func (db *KV) InTx() bool {
	return db.active != nil
}

// Commit commits the transaction atomically
func (tx *KVTX) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	tx.finish()
	return tx.db.commit(tx.meta)
}

// Abort rolls back the transaction. Aborting a finished transaction is a no-op.
func (tx *KVTX) Abort() {
	if tx.done {
		return
	}
	tx.finish()
	tx.db.rollback(tx.meta)
}

// Done reports whether the transaction was committed or aborted
func (tx *KVTX) Done() bool {
	return tx.done
}

func (tx *KVTX) finish() {
	tx.done = true
	if tx.db.active == tx {
		tx.db.active = nil
	}
}

// Get retrieves a value within the transaction
func (tx *KVTX) Get(key []byte) ([]byte, bool) {
	return tx.db.tree.Get(key)
}

// Set inserts or updates a key-value pair within the transaction
func (tx *KVTX) Set(key []byte, val []byte) error {
	if tx.done {
		return ErrTxDone
	}
	return tx.db.tree.Insert(key, val)
}

// Del deletes a key within the transaction
func (tx *KVTX) Del(key []byte) (bool, error) {
	if tx.done {
		return false, ErrTxDone
	}
	return tx.db.tree.Delete(key), nil
}

// Scan performs a range scan within the transaction
func (tx *KVTX) Scan(start []byte, callback func(key, val []byte) bool) {
	tx.db.tree.Scan(start, callback)
}

// ScanPrefix visits the keys that start with prefix within the transaction
func (tx *KVTX) ScanPrefix(prefix []byte, callback func(key, val []byte) bool) {
	tx.db.tree.ScanPrefix(prefix, callback)
}

// Cursor returns an ordered cursor over the transaction's view. It is
// invalidated by the next write.
func (tx *KVTX) Cursor() *btree.Cursor {
	return tx.db.tree.Cursor()
}
