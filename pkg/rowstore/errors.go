package rowstore

import "errors"

var (
	// ErrClosed indicates an operation on a closed store
	ErrClosed = errors.New("rowstore: store closed")

	// ErrNotInWriteTransaction indicates a write outside BeginWrite/Commit
	ErrNotInWriteTransaction = errors.New("rowstore: no active write transaction")

	// ErrWriteInProgress indicates BeginWrite while a write transaction is active
	ErrWriteInProgress = errors.New("rowstore: write transaction already active")

	// ErrStaleRow indicates a handle whose row was deleted or whose store was closed
	ErrStaleRow = errors.New("rowstore: stale row handle")

	// ErrTableNotFound indicates an unknown table name
	ErrTableNotFound = errors.New("rowstore: table not found")

	// ErrRowNotFound indicates a row index with no live row
	ErrRowNotFound = errors.New("rowstore: row not found")

	// ErrColumnOutOfRange indicates a column index outside the table schema
	ErrColumnOutOfRange = errors.New("rowstore: column index out of range")

	// ErrTypeMismatch indicates a column accessed as a type other than its declared one
	ErrTypeMismatch = errors.New("rowstore: column type mismatch")

	// ErrSchemaMismatch indicates a persisted table whose layout differs from the registered schema
	ErrSchemaMismatch = errors.New("rowstore: persisted table does not match schema")

	// ErrIndexOutOfRange indicates a link list position outside the list
	ErrIndexOutOfRange = errors.New("rowstore: list index out of range")

	// ErrForeignRow indicates a row from another store or of the wrong table
	ErrForeignRow = errors.New("rowstore: row does not belong to the expected table")
)
