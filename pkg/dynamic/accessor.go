// ABOUTME: Field validation and dispatch between name-based access and typed columns
// ABOUTME: Rules run in a fixed order and fail before any column is touched

// Package dynamic gives name-based, type-checked access to rows whose
// schema is only known at run time.
//
// Every typed accessor validates in this order: empty name, unknown name,
// declared type, then row validity. Writes additionally need the engine's
// write transaction, checked after the type and before row validity.
// Field paths are never traversed: "owner.name" is an unknown field.
package dynamic

import (
	"fmt"

	"github.com/nainya/rowstore/pkg/rowstore"
	"github.com/nainya/rowstore/pkg/schema"
)

// Engine is the storage and schema collaborator. *rowstore.Store implements it.
type Engine interface {
	schema.Source

	OpenRow(table string, row int64) (rowstore.RowHandle, error)
	ReadColumn(h rowstore.RowHandle, col int, ft schema.FieldType) (any, error)
	WriteColumn(h rowstore.RowHandle, col int, ft schema.FieldType, v any) error
	IsRowValid(h rowstore.RowHandle) bool
	ResolveLinkList(h rowstore.RowHandle, col int) (*rowstore.LinkList, error)
	IsInWriteTransaction() bool
}

var _ Engine = (*rowstore.Store)(nil)

// accessor binds a row to the schema it is validated against
type accessor struct {
	engine Engine
	schema *schema.EntitySchema
	row    rowstore.RowHandle
}

// lookup applies the name rules and resolves the column
func (a accessor) lookup(name string) (int, schema.FieldSchema, error) {
	if name == "" {
		return 0, schema.FieldSchema{}, fmt.Errorf("%w: empty field name", ErrInvalidArgument)
	}
	col, ok := a.schema.ColumnIndex(name)
	if !ok {
		return 0, schema.FieldSchema{}, fmt.Errorf("%w: %s has no field %q", ErrInvalidArgument, a.schema.Name(), name)
	}
	f, _ := a.schema.FieldAt(col)
	return col, f, nil
}

// field applies the name rules and the declared type rule
func (a accessor) field(name string, want schema.FieldType) (int, schema.FieldSchema, error) {
	col, f, err := a.lookup(name)
	if err != nil {
		return 0, f, err
	}
	if f.Type != want {
		return 0, f, fmt.Errorf("%w: field %q is %v, not %v", ErrInvalidArgument, name, f.Type, want)
	}
	return col, f, nil
}

func (a accessor) checkValid() error {
	if !a.engine.IsRowValid(a.row) {
		return fmt.Errorf("%w: %s row %d is no longer valid", ErrIllegalState, a.schema.Name(), a.row.Index())
	}
	return nil
}

func (a accessor) checkWritable() error {
	if !a.engine.IsInWriteTransaction() {
		return fmt.Errorf("%w: not in a write transaction", ErrIllegalState)
	}
	return nil
}

// validateAndGet reads the raw column value of name as type want
func (a accessor) validateAndGet(name string, want schema.FieldType) (any, schema.FieldSchema, error) {
	col, f, err := a.field(name, want)
	if err != nil {
		return nil, f, err
	}
	if err := a.checkValid(); err != nil {
		return nil, f, err
	}
	v, err := a.engine.ReadColumn(a.row, col, want)
	if err != nil {
		return nil, f, classify(err)
	}
	return v, f, nil
}

// validateAndSet writes v to the column of name as type want
func (a accessor) validateAndSet(name string, want schema.FieldType, v any) error {
	col, _, err := a.field(name, want)
	if err != nil {
		return err
	}
	if err := a.checkWritable(); err != nil {
		return err
	}
	if err := a.checkValid(); err != nil {
		return err
	}
	return classify(a.engine.WriteColumn(a.row, col, want, v))
}
