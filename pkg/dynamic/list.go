// ABOUTME: List: index-based view over a LinkList column
// ABOUTME: Elements are Objects of the linked entity, created on access

package dynamic

import (
	"fmt"

	"github.com/nainya/rowstore/pkg/rowstore"
	"github.com/nainya/rowstore/pkg/schema"
)

// List is a view over the link list of one row. It reads through to the
// engine on every call and never caches elements.
type List struct {
	engine Engine
	schema *schema.EntitySchema // Linked entity
	handle *rowstore.LinkList
}

// Schema returns the schema of the list elements
func (l *List) Schema() *schema.EntitySchema {
	return l.schema
}

// IsValid reports whether the row holding the list is still live
func (l *List) IsValid() bool {
	return l.handle.IsValid()
}

// Size returns the number of elements
func (l *List) Size() (int, error) {
	if !l.IsValid() {
		return 0, fmt.Errorf("%w: list owner is no longer valid", ErrIllegalState)
	}
	n, err := l.handle.Size()
	return n, classify(err)
}

// Get returns the element at index i
func (l *List) Get(i int) (*Object, error) {
	if i < 0 {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	if !l.IsValid() {
		return nil, fmt.Errorf("%w: list owner is no longer valid", ErrIllegalState)
	}
	row, err := l.handle.Get(i)
	if err != nil {
		return nil, classify(err)
	}
	return New(l.engine, l.schema, row)
}

// Objects returns every element in list order
func (l *List) Objects() ([]*Object, error) {
	if !l.IsValid() {
		return nil, fmt.Errorf("%w: list owner is no longer valid", ErrIllegalState)
	}
	rows, err := l.handle.All()
	if err != nil {
		return nil, classify(err)
	}
	out := make([]*Object, len(rows))
	for i, row := range rows {
		if out[i], err = New(l.engine, l.schema, row); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Add appends obj
func (l *List) Add(obj *Object) error {
	if err := l.checkMutation(obj); err != nil {
		return err
	}
	return classify(l.handle.Add(obj.Row()))
}

// Insert places obj at index i
func (l *List) Insert(i int, obj *Object) error {
	if err := l.checkMutation(obj); err != nil {
		return err
	}
	return classify(l.handle.Insert(i, obj.Row()))
}

// Set replaces the element at index i with obj
func (l *List) Set(i int, obj *Object) error {
	if err := l.checkMutation(obj); err != nil {
		return err
	}
	return classify(l.handle.Set(i, obj.Row()))
}

// Move relocates the element at index from to index to
func (l *List) Move(from, to int) error {
	if err := l.checkWritable(); err != nil {
		return err
	}
	return classify(l.handle.Move(from, to))
}

// Remove drops the element at index i from the list
func (l *List) Remove(i int) error {
	if err := l.checkWritable(); err != nil {
		return err
	}
	return classify(l.handle.Remove(i))
}

// Clear drops every element from the list
func (l *List) Clear() error {
	if err := l.checkWritable(); err != nil {
		return err
	}
	return classify(l.handle.Clear())
}

func (l *List) checkMutation(obj *Object) error {
	if obj == nil {
		return fmt.Errorf("%w: nil object", ErrInvalidArgument)
	}
	if obj.Type() != l.schema.Name() {
		return fmt.Errorf("%w: list holds %s, got %s", ErrInvalidArgument, l.schema.Name(), obj.Type())
	}
	return l.checkWritable()
}

func (l *List) checkWritable() error {
	if !l.engine.IsInWriteTransaction() {
		return fmt.Errorf("%w: not in a write transaction", ErrIllegalState)
	}
	if !l.IsValid() {
		return fmt.Errorf("%w: list owner is no longer valid", ErrIllegalState)
	}
	return nil
}
