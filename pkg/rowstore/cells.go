// ABOUTME: Typed column reads and writes
// ABOUTME: Maps schema field types to cell encodings and Go values

package rowstore

import (
	"fmt"
	"time"

	"github.com/nainya/rowstore/pkg/schema"
	"github.com/nainya/rowstore/pkg/storage"
)

// cellTags maps each non-list field type to the cell tag it is stored with
var cellTags = map[schema.FieldType]uint8{
	schema.TypeBool:      storage.TYPE_BOOL,
	schema.TypeInt16:     storage.TYPE_INT16,
	schema.TypeInt32:     storage.TYPE_INT32,
	schema.TypeInt64:     storage.TYPE_INT64,
	schema.TypeFloat32:   storage.TYPE_FLOAT32,
	schema.TypeFloat64:   storage.TYPE_FLOAT64,
	schema.TypeString:    storage.TYPE_STRING,
	schema.TypeBinary:    storage.TYPE_BYTES,
	schema.TypeTimestamp: storage.TYPE_TIME,
	schema.TypeLink:      storage.TYPE_INT64,
	schema.TypeLinkList:  storage.TYPE_LIST,
}

func defaultCell(f schema.FieldSchema) storage.Value {
	if f.Nullable {
		return storage.NewNullValue()
	}
	switch f.Type {
	case schema.TypeBool:
		return storage.NewBoolValue(false)
	case schema.TypeInt16:
		return storage.NewInt16Value(0)
	case schema.TypeInt32:
		return storage.NewInt32Value(0)
	case schema.TypeInt64:
		return storage.NewInt64Value(0)
	case schema.TypeFloat32:
		return storage.NewFloat32Value(0)
	case schema.TypeFloat64:
		return storage.NewFloat64Value(0)
	case schema.TypeString:
		return storage.NewStringValue("")
	case schema.TypeBinary:
		return storage.NewBytesValue([]byte{})
	case schema.TypeTimestamp:
		return storage.NewTimeValue(time.Unix(0, 0).UTC())
	case schema.TypeLinkList:
		return storage.NewListValue(nil)
	}
	return storage.NewNullValue()
}

// column resolves a column index and checks its declared type
func column(t *table, col int, ft schema.FieldType) (schema.FieldSchema, error) {
	f, ok := t.schema.FieldAt(col)
	if !ok {
		return schema.FieldSchema{}, fmt.Errorf("%w: %s has no column %d", ErrColumnOutOfRange, t.name(), col)
	}
	if f.Type != ft {
		return schema.FieldSchema{}, fmt.Errorf("%w: %s.%s is %v, not %v", ErrTypeMismatch, t.name(), f.Name, f.Type, ft)
	}
	return f, nil
}

func (s *Store) readCell(t *table, row int64, col int) (storage.Value, error) {
	raw, ok := s.loadCell(t, row, col)
	if !ok {
		return storage.Value{}, fmt.Errorf("%w: %s[%d] has no cell %d", storage.ErrBadCell, t.name(), row, col)
	}
	return storage.DecodeCell(raw)
}

// ReadColumn reads one cell of a live row as ft. The result is nil for a
// null cell and otherwise one of bool, int16, int32, int64, float32,
// float64, string, []byte, time.Time, RowHandle (Link) or *LinkList
// (LinkList). A link whose target row was deleted reads as nil.
func (s *Store) ReadColumn(h RowHandle, col int, ft schema.FieldType) (any, error) {
	t, err := s.checkRow(h)
	if err != nil {
		return nil, err
	}
	f, err := column(t, col, ft)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordRead(ft.String())

	if ft == schema.TypeLinkList {
		return &LinkList{store: s, owner: h, col: col, field: f}, nil
	}

	v, err := s.readCell(t, h.row, col)
	if err != nil {
		return nil, err
	}
	if v.IsNull() {
		return nil, nil
	}
	if v.Type != cellTags[ft] {
		return nil, fmt.Errorf("%w: %s.%s holds tag %d", storage.ErrBadCell, t.name(), f.Name, v.Type)
	}

	switch ft {
	case schema.TypeBool:
		return v.Bool, nil
	case schema.TypeInt16:
		return int16(v.I64), nil
	case schema.TypeInt32:
		return int32(v.I64), nil
	case schema.TypeInt64:
		return v.I64, nil
	case schema.TypeFloat32:
		return float32(v.F64), nil
	case schema.TypeFloat64:
		return v.F64, nil
	case schema.TypeString:
		return string(v.Str), nil
	case schema.TypeBinary:
		return v.Str, nil
	case schema.TypeTimestamp:
		return v.Time.UTC(), nil
	case schema.TypeLink:
		target, err := s.table(f.Target)
		if err != nil {
			return nil, err
		}
		if !s.rowExists(target, v.I64) {
			return nil, nil
		}
		return s.handle(target, v.I64), nil
	}
	return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, ft)
}

// WriteColumn writes one cell of a live row. v must have the exact Go type
// ReadColumn returns for ft; Link takes a RowHandle of the target table and
// LinkList a []RowHandle. A nil v writes null and requires a nullable column.
func (s *Store) WriteColumn(h RowHandle, col int, ft schema.FieldType, v any) error {
	if err := s.requireWrite(); err != nil {
		return err
	}
	t, err := s.checkRow(h)
	if err != nil {
		return err
	}
	f, err := column(t, col, ft)
	if err != nil {
		return err
	}

	cell, err := s.toCell(f, v)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", t.name(), f.Name, err)
	}
	if err := s.storeCell(t, h.row, col, storage.EncodeCell(cell)); err != nil {
		return fmt.Errorf("write %s.%s: %w", t.name(), f.Name, err)
	}

	s.metrics.RecordWrite(ft.String())
	return nil
}

func (s *Store) toCell(f schema.FieldSchema, v any) (storage.Value, error) {
	if v == nil {
		if !f.Nullable {
			return storage.Value{}, fmt.Errorf("%w: column is not nullable", ErrTypeMismatch)
		}
		return storage.NewNullValue(), nil
	}

	switch f.Type {
	case schema.TypeBool:
		if b, ok := v.(bool); ok {
			return storage.NewBoolValue(b), nil
		}
	case schema.TypeInt16:
		if i, ok := v.(int16); ok {
			return storage.NewInt16Value(i), nil
		}
	case schema.TypeInt32:
		if i, ok := v.(int32); ok {
			return storage.NewInt32Value(i), nil
		}
	case schema.TypeInt64:
		if i, ok := v.(int64); ok {
			return storage.NewInt64Value(i), nil
		}
	case schema.TypeFloat32:
		if x, ok := v.(float32); ok {
			return storage.NewFloat32Value(x), nil
		}
	case schema.TypeFloat64:
		if x, ok := v.(float64); ok {
			return storage.NewFloat64Value(x), nil
		}
	case schema.TypeString:
		if str, ok := v.(string); ok {
			return storage.NewStringValue(str), nil
		}
	case schema.TypeBinary:
		if b, ok := v.([]byte); ok {
			if b == nil && f.Nullable {
				return storage.NewNullValue(), nil
			}
			return storage.NewBytesValue(append([]byte{}, b...)), nil
		}
	case schema.TypeTimestamp:
		if ts, ok := v.(time.Time); ok {
			return storage.NewTimeValue(ts), nil
		}
	case schema.TypeLink:
		if target, ok := v.(RowHandle); ok {
			if err := s.checkTarget(f, target); err != nil {
				return storage.Value{}, err
			}
			return storage.NewInt64Value(target.row), nil
		}
	case schema.TypeLinkList:
		if targets, ok := v.([]RowHandle); ok {
			rows := make([]int64, len(targets))
			for i, target := range targets {
				if err := s.checkTarget(f, target); err != nil {
					return storage.Value{}, err
				}
				rows[i] = target.row
			}
			return storage.NewListValue(rows), nil
		}
	}
	return storage.Value{}, fmt.Errorf("%w: column is %v, got %T", ErrTypeMismatch, f.Type, v)
}

// checkTarget verifies that a link target is a live row of the linked table
func (s *Store) checkTarget(f schema.FieldSchema, target RowHandle) error {
	if target.store != s || target.table != f.Target {
		return fmt.Errorf("%w: %v is not a %s row of this store", ErrForeignRow, target, f.Target)
	}
	if _, err := s.checkRow(target); err != nil {
		return err
	}
	return nil
}
