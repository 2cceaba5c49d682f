// ABOUTME: Row-oriented transactional store over the KV engine
// ABOUTME: Tables of typed columns, row handles and one write transaction at a time

// Package rowstore stores entities as rows of typed columns. Every column
// cell is its own KV entry; a row exists while its marker key exists.
//
// A Store is confined to one goroutine: it, its row handles and its link
// lists must not be used concurrently.
package rowstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/nainya/rowstore/internal/logger"
	"github.com/nainya/rowstore/internal/metrics"
	"github.com/nainya/rowstore/pkg/schema"
	"github.com/nainya/rowstore/pkg/storage"
)

// Options configures Open
type Options struct {
	Path    string
	Schemas *schema.Registry
	Logger  *logger.Logger   // Nil discards logs
	Metrics *metrics.Metrics // Nil disables metrics
}

// Store is an open row store file
type Store struct {
	kv      *storage.KV
	id      string
	schemas *schema.Registry
	tables  map[string]*table

	tx      *storage.KVTX
	txStart time.Time

	log     *logger.Logger
	metrics *metrics.Metrics
}

// Open opens or creates the store at opts.Path. Every registered entity
// gets a table; a persisted table whose layout differs from its schema
// fails with ErrSchemaMismatch.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("rowstore: empty path")
	}
	if opts.Schemas == nil {
		return nil, fmt.Errorf("%w: no schemas", schema.ErrInvalidSchema)
	}
	if err := opts.Schemas.Validate(); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	s := &Store{
		kv:      &storage.KV{Path: opts.Path},
		schemas: opts.Schemas,
		tables:  make(map[string]*table),
		log:     log.StoreLogger(opts.Path),
		metrics: opts.Metrics,
	}

	var entities []*schema.EntitySchema
	for _, name := range opts.Schemas.Names() {
		sch, err := opts.Schemas.SchemaFor(name)
		if err != nil {
			return nil, err
		}
		entities = append(entities, sch)
	}

	if err := s.kv.Open(); err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Path, err)
	}
	if err := s.bootstrap(entities); err != nil {
		s.kv.Close()
		return nil, err
	}

	s.metrics.SetTables(len(s.tables))
	s.log.Info("Store opened").
		Str("store_id", s.id).
		Uint64("version", s.kv.Version()).
		Int("tables", len(s.tables)).
		Send()

	return s, nil
}

// Close closes the store. An active write transaction is rolled back and
// every handle becomes stale. Closing twice is a no-op.
func (s *Store) Close() error {
	if !s.kv.IsOpen() {
		return nil
	}
	if s.tx != nil {
		s.log.Warn("Closing store with active write transaction").Send()
		s.tx.Abort()
		s.finishTx("abort", nil)
	}
	if err := s.kv.Close(); err != nil {
		return err
	}
	s.log.Info("Store closed").Send()
	return nil
}

// IsClosed reports whether Close was called
func (s *Store) IsClosed() bool {
	return !s.kv.IsOpen()
}

// ID returns the store identity; it is persisted and survives reopening
func (s *Store) ID() string {
	return s.id
}

// Path returns the store file path
func (s *Store) Path() string {
	return s.kv.Path
}

// Version returns the number of committed transactions
func (s *Store) Version() uint64 {
	return s.kv.Version()
}

// Tables returns the table names in registration order
func (s *Store) Tables() []string {
	return s.schemas.Names()
}

// SchemaFor returns the schema of a table
func (s *Store) SchemaFor(entity string) (*schema.EntitySchema, error) {
	return s.schemas.SchemaFor(entity)
}

// CreateTable registers a new entity and creates its table in a transaction
// of its own. Link targets must be registered already or be the entity
// itself. A table persisted by an earlier session is adopted when its
// layout matches.
func (s *Store) CreateTable(sch *schema.EntitySchema) error {
	if !s.kv.IsOpen() {
		return ErrClosed
	}
	if s.tx != nil {
		return ErrWriteInProgress
	}
	if sch == nil {
		return fmt.Errorf("%w: nil schema", schema.ErrInvalidSchema)
	}
	if _, exists := s.tables[sch.Name()]; exists {
		return fmt.Errorf("%w: table %s already exists", schema.ErrInvalidSchema, sch.Name())
	}
	for _, f := range sch.Fields() {
		if !f.Type.IsLink() || f.Target == sch.Name() {
			continue
		}
		if _, ok := s.tables[f.Target]; !ok {
			return fmt.Errorf("%w: %s.%s links to unknown entity %s", schema.ErrInvalidSchema, sch.Name(), f.Name, f.Target)
		}
	}

	// Settle the registry before anything is persisted
	registered, err := s.schemas.SchemaFor(sch.Name())
	if err == nil && registered != sch {
		return fmt.Errorf("%w: entity %s is registered with another schema", schema.ErrInvalidSchema, sch.Name())
	}

	if err := s.bootstrap([]*schema.EntitySchema{sch}); err != nil {
		delete(s.tables, sch.Name())
		return err
	}
	if registered == nil {
		if err := s.schemas.Register(sch); err != nil {
			delete(s.tables, sch.Name())
			return err
		}
	}

	s.metrics.SetTables(len(s.tables))
	return nil
}

// BeginWrite starts the write transaction
func (s *Store) BeginWrite() error {
	if !s.kv.IsOpen() {
		return ErrClosed
	}
	if s.tx != nil {
		return ErrWriteInProgress
	}
	tx, err := s.kv.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	s.tx = tx
	s.txStart = time.Now()
	return nil
}

// Commit makes the write transaction durable
func (s *Store) Commit() error {
	if s.tx == nil {
		return ErrNotInWriteTransaction
	}
	tx := s.tx
	err := tx.Commit()
	s.finishTx("commit", err)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Abort rolls the write transaction back. Row indexes handed out inside
// it are not reissued, so handles to rolled back rows stay stale.
func (s *Store) Abort() error {
	if s.tx == nil {
		return ErrNotInWriteTransaction
	}
	s.tx.Abort()
	s.finishTx("abort", nil)
	return nil
}

// Write runs fn inside a write transaction. The transaction commits when
// fn returns nil and rolls back otherwise.
func (s *Store) Write(fn func() error) error {
	if err := s.BeginWrite(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if s.tx != nil {
			s.Abort()
		}
		return err
	}
	return s.Commit()
}

// IsInWriteTransaction reports whether a write transaction is active
func (s *Store) IsInWriteTransaction() bool {
	return s.tx != nil
}

func (s *Store) finishTx(outcome string, err error) {
	duration := time.Since(s.txStart)
	s.tx = nil
	if err != nil {
		outcome = "error"
	}
	s.log.LogTxOperation(outcome, duration, s.kv.Version(), err)
	s.metrics.RecordTx(outcome, duration)
}

func (s *Store) requireWrite() error {
	if !s.kv.IsOpen() {
		return ErrClosed
	}
	if s.tx == nil {
		return ErrNotInWriteTransaction
	}
	return nil
}

func (s *Store) table(name string) (*table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return t, nil
}

func (s *Store) rowExists(t *table, row int64) bool {
	_, ok := s.kv.Get(rowKey(t, row))
	return ok
}

func (s *Store) handle(t *table, row int64) RowHandle {
	return RowHandle{store: s, table: t.name(), row: row, version: s.kv.Version()}
}

// checkRow resolves the table of a live handle owned by this store
func (s *Store) checkRow(h RowHandle) (*table, error) {
	if h.store != s {
		return nil, fmt.Errorf("%w: %v", ErrForeignRow, h)
	}
	if !s.kv.IsOpen() {
		return nil, fmt.Errorf("%w: %w", ErrStaleRow, ErrClosed)
	}
	t, err := s.table(h.table)
	if err != nil {
		return nil, err
	}
	if !s.rowExists(t, h.row) {
		return nil, fmt.Errorf("%w: %v", ErrStaleRow, h)
	}
	return t, nil
}

// IsRowValid reports whether the handle still references a live row of an
// open store
func (s *Store) IsRowValid(h RowHandle) bool {
	_, err := s.checkRow(h)
	return err == nil
}

// OpenRow returns a handle to an existing row
func (s *Store) OpenRow(tableName string, row int64) (RowHandle, error) {
	if !s.kv.IsOpen() {
		return RowHandle{}, ErrClosed
	}
	t, err := s.table(tableName)
	if err != nil {
		return RowHandle{}, err
	}
	if !s.rowExists(t, row) {
		return RowHandle{}, fmt.Errorf("%w: %s[%d]", ErrRowNotFound, tableName, row)
	}
	return s.handle(t, row), nil
}

// CreateRow appends a row with default cells: null for nullable columns,
// an empty list for link lists and the zero value otherwise
func (s *Store) CreateRow(tableName string) (RowHandle, error) {
	if err := s.requireWrite(); err != nil {
		return RowHandle{}, err
	}
	t, err := s.table(tableName)
	if err != nil {
		return RowHandle{}, err
	}

	row := t.nextRow
	t.nextRow++
	if err := s.tx.Set(rowKey(t, row), []byte{}); err != nil {
		return RowHandle{}, err
	}
	for col, f := range t.schema.Fields() {
		if err := s.storeCell(t, row, col, storage.EncodeCell(defaultCell(f))); err != nil {
			return RowHandle{}, fmt.Errorf("create %s[%d]: %w", tableName, row, err)
		}
	}

	if err := s.tx.Set(catalogKey(tableName), encodeCatalog(t)); err != nil {
		return RowHandle{}, err
	}

	s.metrics.RecordRowCreated()
	return s.handle(t, row), nil
}

// DeleteRow removes a row and its cells. Links to it read as null afterwards
// and link lists skip it.
func (s *Store) DeleteRow(h RowHandle) error {
	if err := s.requireWrite(); err != nil {
		return err
	}
	t, err := s.checkRow(h)
	if err != nil {
		return err
	}

	// The marker key is a byte prefix of every cell key of the row
	var keys [][]byte
	s.tx.ScanPrefix(rowKey(t, h.row), func(key, _ []byte) bool {
		keys = append(keys, append([]byte(nil), key...))
		return true
	})

	for _, key := range keys {
		if _, err := s.tx.Del(key); err != nil {
			return fmt.Errorf("delete %v: %w", h, err)
		}
	}

	s.metrics.RecordRowDeleted()
	return nil
}

// Rows returns handles to every live row of a table in index order
func (s *Store) Rows(tableName string) ([]RowHandle, error) {
	var rows []RowHandle
	err := s.eachRow(tableName, func(h RowHandle) bool {
		rows = append(rows, h)
		return true
	})
	return rows, err
}

// FindFirst returns the live row with the lowest index
func (s *Store) FindFirst(tableName string) (RowHandle, bool, error) {
	var first RowHandle
	found := false
	err := s.eachRow(tableName, func(h RowHandle) bool {
		first, found = h, true
		return false
	})
	return first, found, err
}

// Count returns the number of live rows of a table
func (s *Store) Count(tableName string) (int, error) {
	n := 0
	err := s.eachRow(tableName, func(RowHandle) bool {
		n++
		return true
	})
	return n, err
}

func (s *Store) eachRow(tableName string, fn func(RowHandle) bool) error {
	if !s.kv.IsOpen() {
		return ErrClosed
	}
	t, err := s.table(tableName)
	if err != nil {
		return err
	}

	var scanErr error
	s.kv.ScanPrefix(storage.EncodeKey(t.prefix(), nil), func(key, _ []byte) bool {
		vals, err := storage.ExtractValues(key)
		if err != nil {
			scanErr = fmt.Errorf("%w: %s key %x: %w", storage.ErrBadCell, tableName, key, err)
			return false
		}
		// Cell and chunk keys carry a column index; markers do not
		if len(vals) != 1 {
			return true
		}
		return fn(s.handle(t, vals[0].I64))
	})
	return scanErr
}
