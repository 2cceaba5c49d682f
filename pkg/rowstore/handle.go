// ABOUTME: RowHandle: a reference to one physical row of one table
// ABOUTME: Identity and hashing come only from (store, table, row index)

package rowstore

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// RowHandle references one row of a table at the snapshot it was opened under.
// Copies refer to the same physical row. A handle must only be used on the
// goroutine that owns its Store.
type RowHandle struct {
	store   *Store
	table   string
	row     int64
	version uint64
}

// RowKey is the comparable identity of a row, usable as a map key
type RowKey struct {
	Store string
	Table string
	Row   int64
}

// Table returns the table name
func (h RowHandle) Table() string {
	return h.table
}

// Index returns the row index within its table
func (h RowHandle) Index() int64 {
	return h.row
}

// Snapshot returns the store version the handle was opened under
func (h RowHandle) Snapshot() uint64 {
	return h.version
}

// StoreID returns the identity of the owning store, or "" for the zero handle
func (h RowHandle) StoreID() string {
	if h.store == nil {
		return ""
	}
	return h.store.id
}

// IsZero reports whether the handle was never bound to a row
func (h RowHandle) IsZero() bool {
	return h.store == nil
}

// Key returns the row identity
func (h RowHandle) Key() RowKey {
	return RowKey{Store: h.StoreID(), Table: h.table, Row: h.row}
}

// Equal reports whether both handles reference the same physical row,
// regardless of the snapshot either was opened under
func (h RowHandle) Equal(other RowHandle) bool {
	return h.Key() == other.Key()
}

// Hash derives a hash from the row identity only. Any wrapper over the same
// row that hashes through its RowHandle hashes identically.
func (h RowHandle) Hash() uint64 {
	return h.Key().Hash()
}

// Hash hashes the row identity
func (k RowKey) Hash() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(k.Store)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(k.Table)
	_, _ = d.Write([]byte{0})
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(k.Row))
	_, _ = d.Write(buf[:])
	return d.Sum64()
}

// String renders the handle for logs and errors
func (h RowHandle) String() string {
	return fmt.Sprintf("%s[%d]@%d", h.table, h.row, h.version)
}
