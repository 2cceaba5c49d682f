// ABOUTME: Table catalog persisted alongside row data in the KV store
// ABOUTME: Maps table names to ids, next row index and schema fingerprint

package rowstore

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/nainya/rowstore/pkg/schema"
	"github.com/nainya/rowstore/pkg/storage"
)

// Key prefixes
const (
	PREFIX_META    = uint32(1)
	PREFIX_CATALOG = uint32(2)
	PREFIX_TABLE   = uint32(1000) // Row data of table N lives under PREFIX_TABLE+N
)

const (
	metaStoreID   = "store_id"
	metaNextTable = "next_table"
)

// table is the in-memory catalog entry of one table
type table struct {
	id      uint32
	schema  *schema.EntitySchema
	nextRow int64 // Row indexes are never reused
}

type catalogEntry struct {
	id          uint32
	nextRow     int64
	fingerprint string
}

func (t *table) prefix() uint32 {
	return PREFIX_TABLE + t.id
}

func (t *table) name() string {
	return t.schema.Name()
}

// rowKey is the existence marker of a row
func rowKey(t *table, row int64) []byte {
	return storage.EncodeKey(t.prefix(), []storage.Value{
		storage.NewInt64Value(row),
	})
}

// cellKey addresses one column of one row; it sorts right after the row marker
func cellKey(t *table, row int64, col int) []byte {
	return storage.EncodeKey(t.prefix(), []storage.Value{
		storage.NewInt64Value(row),
		storage.NewInt64Value(int64(col)),
	})
}

func metaKey(name string) []byte {
	return storage.EncodeKey(PREFIX_META, []storage.Value{
		storage.NewBytesValue([]byte(name)),
	})
}

func catalogKey(name string) []byte {
	return storage.EncodeKey(PREFIX_CATALOG, []storage.Value{
		storage.NewBytesValue([]byte(name)),
	})
}

func encodeCatalog(t *table) []byte {
	return storage.EncodeValues([]storage.Value{
		storage.NewUint64Value(uint64(t.id)),
		storage.NewInt64Value(t.nextRow),
		storage.NewBytesValue([]byte(t.schema.Fingerprint())),
	})
}

func decodeCatalog(val []byte) (catalogEntry, error) {
	vals, err := storage.DecodeValues(val)
	if err != nil {
		return catalogEntry{}, err
	}
	if len(vals) != 3 ||
		vals[0].Type != storage.TYPE_UINT64 ||
		vals[1].Type != storage.TYPE_INT64 ||
		vals[2].Type != storage.TYPE_BYTES {
		return catalogEntry{}, fmt.Errorf("%w: catalog entry", storage.ErrBadCell)
	}
	return catalogEntry{
		id:          uint32(vals[0].U64),
		nextRow:     vals[1].I64,
		fingerprint: string(vals[2].Str),
	}, nil
}

func (s *Store) readCatalog(name string) (catalogEntry, bool, error) {
	val, ok := s.kv.Get(catalogKey(name))
	if !ok {
		return catalogEntry{}, false, nil
	}
	e, err := decodeCatalog(val)
	if err != nil {
		return catalogEntry{}, false, fmt.Errorf("table %s: %w", name, err)
	}
	return e, true, nil
}

// bootstrap loads the store identity and the catalog entries of entities,
// creating tables that are not persisted yet. Changes are committed in one
// transaction.
func (s *Store) bootstrap(entities []*schema.EntitySchema) error {
	tx, err := s.kv.Begin()
	if err != nil {
		return err
	}
	changed := false

	if val, ok := tx.Get(metaKey(metaStoreID)); ok {
		s.id = string(val)
	} else {
		s.id = uuid.NewString()
		if err := tx.Set(metaKey(metaStoreID), []byte(s.id)); err != nil {
			tx.Abort()
			return err
		}
		changed = true
	}

	nextTable := uint32(1)
	if val, ok := tx.Get(metaKey(metaNextTable)); ok {
		vals, err := storage.DecodeValues(val)
		if err != nil || len(vals) != 1 {
			tx.Abort()
			return fmt.Errorf("%w: next table id", storage.ErrBadCell)
		}
		nextTable = uint32(vals[0].U64)
	}

	var created []*table
	for _, sch := range entities {
		name := sch.Name()
		e, ok, err := s.readCatalog(name)
		if err != nil {
			tx.Abort()
			return err
		}
		if ok {
			if e.fingerprint != sch.Fingerprint() {
				tx.Abort()
				return fmt.Errorf("%w: table %s has layout %q, schema declares %q",
					ErrSchemaMismatch, name, e.fingerprint, sch.Fingerprint())
			}
			s.tables[name] = &table{id: e.id, schema: sch, nextRow: e.nextRow}
			continue
		}

		t := &table{id: nextTable, schema: sch}
		nextTable++
		if err := tx.Set(catalogKey(name), encodeCatalog(t)); err != nil {
			tx.Abort()
			return err
		}
		s.tables[name] = t
		created = append(created, t)
		changed = true
	}

	if !changed {
		tx.Abort()
		return nil
	}

	next := storage.EncodeValues([]storage.Value{storage.NewUint64Value(uint64(nextTable))})
	if err := tx.Set(metaKey(metaNextTable), next); err != nil {
		tx.Abort()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("bootstrap catalog: %w", err)
	}

	for _, t := range created {
		s.log.LogTableCreated(t.name(), t.id, t.schema.NumFields())
	}
	return nil
}
