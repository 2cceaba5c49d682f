// ABOUTME: Disk-based KV store backing the row engine
// ABOUTME: Copy-on-write B+Tree in a memory-mapped file, committed by a single meta page write

package storage

import (
	"errors"

	"github.com/nainya/rowstore/pkg/btree"
)

const BTREE_PAGE_SIZE = btree.BTREE_PAGE_SIZE

var (
	// ErrClosed is returned for operations on a closed store
	ErrClosed = errors.New("storage: store closed")

	// ErrTxDone is returned when a finished transaction is used again
	ErrTxDone = errors.New("storage: transaction already finished")

	// ErrTxActive is returned when a second transaction is started
	ErrTxActive = errors.New("storage: transaction already active")
)

// KV is a persistent ordered key-value store. It is not safe for
// concurrent use; writes go through one transaction at a time.
type KV struct {
	Path string

	open    bool
	version uint64 // durable commits, persisted in the meta page
	active  *KVTX

	fd   int
	tree btree.BTree
	free FreeList

	mmap struct {
		total  int      // mapped bytes
		chunks [][]byte // read-only mappings, in file order
	}

	page struct {
		flushed uint64            // pages on disk, meta page included
		temp    [][]byte          // appended pages not yet written
		updates map[uint64][]byte // rewrites of pages already on disk
	}

	// failed is set when a commit could not complete; the next commit
	// first rewrites the last good meta page
	failed bool
}

// Open opens or creates the store file
func (db *KV) Open() error {
	if err := db.openFile(); err != nil {
		return err
	}

	db.page.updates = make(map[uint64][]byte)
	db.free.get = db.pageRead
	db.free.new = db.pageAppend
	db.free.set = db.pageWrite
	// Everything released before the last run is reusable
	db.free.SetMaxSeq()
	db.tree.SetCallbacks(db.pageRead, db.pageAlloc, db.pageFree)

	db.open = true
	return nil
}

// Close releases the file. An active transaction is aborted.
func (db *KV) Close() error {
	if !db.open {
		return nil
	}
	if db.active != nil {
		db.active.Abort()
	}
	db.open = false
	return db.closeFile()
}

// IsOpen reports whether the store can serve requests
func (db *KV) IsOpen() bool {
	return db.open
}

// Version returns the number of durable commits
func (db *KV) Version() uint64 {
	return db.version
}

// Get retrieves a value by key. The returned slice must not be modified
// and is only valid until the next write.
func (db *KV) Get(key []byte) ([]byte, bool) {
	if !db.open {
		return nil, false
	}
	return db.tree.Get(key)
}

// Set stores a key-value pair and commits it
func (db *KV) Set(key []byte, val []byte) error {
	_, err := db.autoCommit(func() (bool, error) {
		return true, db.tree.Insert(key, val)
	})
	return err
}

// Del deletes a key and commits the deletion. Deleting a missing key
// reports false and commits nothing.
func (db *KV) Del(key []byte) (bool, error) {
	return db.autoCommit(func() (bool, error) {
		return db.tree.Delete(key), nil
	})
}

// autoCommit runs a single-key update outside any transaction and commits
// it when fn reports a change
func (db *KV) autoCommit(fn func() (bool, error)) (bool, error) {
	if !db.open {
		return false, ErrClosed
	}
	if db.active != nil {
		return false, ErrTxActive
	}

	meta := db.saveMeta()
	changed, err := fn()
	if err != nil || !changed {
		return false, err
	}
	return true, db.commit(meta)
}

// Scan visits every key >= start in order until callback returns false
func (db *KV) Scan(start []byte, callback func(key, val []byte) bool) {
	if !db.open {
		return
	}
	db.tree.Scan(start, callback)
}

// ScanPrefix visits every key that starts with prefix in order
func (db *KV) ScanPrefix(prefix []byte, callback func(key, val []byte) bool) {
	if !db.open {
		return
	}
	db.tree.ScanPrefix(prefix, callback)
}
