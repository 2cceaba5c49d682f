// ABOUTME: Ordered list of links held in one LinkList column
// ABOUTME: Reads skip deleted targets; mutations need the write transaction

package rowstore

import (
	"fmt"

	"github.com/nainya/rowstore/pkg/schema"
	"github.com/nainya/rowstore/pkg/storage"
)

// LinkList is a live view of a LinkList column. It never caches: every call
// reads the current cell, so it reflects writes made through any handle.
type LinkList struct {
	store *Store
	owner RowHandle
	col   int
	field schema.FieldSchema
}

// ResolveLinkList returns the list held in a LinkList column of a live row
func (s *Store) ResolveLinkList(h RowHandle, col int) (*LinkList, error) {
	v, err := s.ReadColumn(h, col, schema.TypeLinkList)
	if err != nil {
		return nil, err
	}
	return v.(*LinkList), nil
}

// Owner returns the row holding the list
func (l *LinkList) Owner() RowHandle {
	return l.owner
}

// TargetTable returns the table every element belongs to
func (l *LinkList) TargetTable() string {
	return l.field.Target
}

// IsValid reports whether the owning row is still live
func (l *LinkList) IsValid() bool {
	return l.store.IsRowValid(l.owner)
}

// rows returns the live target row indexes in list order
func (l *LinkList) rows() (*table, []int64, error) {
	t, err := l.store.checkRow(l.owner)
	if err != nil {
		return nil, nil, err
	}
	target, err := l.store.table(l.field.Target)
	if err != nil {
		return nil, nil, err
	}

	v, err := l.store.readCell(t, l.owner.row, l.col)
	if err != nil {
		return nil, nil, err
	}
	if v.Type != storage.TYPE_LIST {
		return nil, nil, fmt.Errorf("%w: %s.%s holds tag %d", storage.ErrBadCell, t.name(), l.field.Name, v.Type)
	}

	live := make([]int64, 0, len(v.List))
	for _, row := range v.List {
		if l.store.rowExists(target, row) {
			live = append(live, row)
		}
	}
	return target, live, nil
}

// Size returns the number of live elements
func (l *LinkList) Size() (int, error) {
	_, rows, err := l.rows()
	return len(rows), err
}

// Get returns the element at index i
func (l *LinkList) Get(i int) (RowHandle, error) {
	target, rows, err := l.rows()
	if err != nil {
		return RowHandle{}, err
	}
	if i < 0 || i >= len(rows) {
		return RowHandle{}, fmt.Errorf("%w: index %d, size %d", ErrIndexOutOfRange, i, len(rows))
	}
	return l.store.handle(target, rows[i]), nil
}

// All returns every element in list order
func (l *LinkList) All() ([]RowHandle, error) {
	target, rows, err := l.rows()
	if err != nil {
		return nil, err
	}
	out := make([]RowHandle, len(rows))
	for i, row := range rows {
		out[i] = l.store.handle(target, row)
	}
	return out, nil
}

// Add appends a row
func (l *LinkList) Add(row RowHandle) error {
	return l.mutate("add", func(rows []int64) ([]int64, error) {
		if err := l.check(row); err != nil {
			return nil, err
		}
		return append(rows, row.row), nil
	})
}

// Insert places a row at index i, shifting later elements
func (l *LinkList) Insert(i int, row RowHandle) error {
	return l.mutate("insert", func(rows []int64) ([]int64, error) {
		if i < 0 || i > len(rows) {
			return nil, fmt.Errorf("%w: insert at %d, size %d", ErrIndexOutOfRange, i, len(rows))
		}
		if err := l.check(row); err != nil {
			return nil, err
		}
		rows = append(rows, 0)
		copy(rows[i+1:], rows[i:])
		rows[i] = row.row
		return rows, nil
	})
}

// Set replaces the element at index i
func (l *LinkList) Set(i int, row RowHandle) error {
	return l.mutate("set", func(rows []int64) ([]int64, error) {
		if i < 0 || i >= len(rows) {
			return nil, fmt.Errorf("%w: set at %d, size %d", ErrIndexOutOfRange, i, len(rows))
		}
		if err := l.check(row); err != nil {
			return nil, err
		}
		rows[i] = row.row
		return rows, nil
	})
}

// Move relocates the element at index from to index to
func (l *LinkList) Move(from, to int) error {
	return l.mutate("move", func(rows []int64) ([]int64, error) {
		if from < 0 || from >= len(rows) || to < 0 || to >= len(rows) {
			return nil, fmt.Errorf("%w: move %d to %d, size %d", ErrIndexOutOfRange, from, to, len(rows))
		}
		row := rows[from]
		rows = append(rows[:from], rows[from+1:]...)
		rows = append(rows[:to], append([]int64{row}, rows[to:]...)...)
		return rows, nil
	})
}

// Remove deletes the element at index i. The target row itself is kept.
func (l *LinkList) Remove(i int) error {
	return l.mutate("remove", func(rows []int64) ([]int64, error) {
		if i < 0 || i >= len(rows) {
			return nil, fmt.Errorf("%w: remove at %d, size %d", ErrIndexOutOfRange, i, len(rows))
		}
		return append(rows[:i], rows[i+1:]...), nil
	})
}

// Clear removes every element
func (l *LinkList) Clear() error {
	return l.mutate("clear", func([]int64) ([]int64, error) {
		return nil, nil
	})
}

func (l *LinkList) check(row RowHandle) error {
	return l.store.checkTarget(l.field, row)
}

// mutate rewrites the list cell; entries of deleted targets are dropped
func (l *LinkList) mutate(op string, fn func([]int64) ([]int64, error)) error {
	if err := l.store.requireWrite(); err != nil {
		return err
	}
	_, rows, err := l.rows()
	if err != nil {
		return err
	}
	rows, err = fn(rows)
	if err != nil {
		return err
	}

	t, err := l.store.table(l.owner.table)
	if err != nil {
		return err
	}
	cell := storage.EncodeCell(storage.NewListValue(rows))
	if err := l.store.storeCell(t, l.owner.row, l.col, cell); err != nil {
		return fmt.Errorf("%s %s.%s: %w", op, t.name(), l.field.Name, err)
	}

	l.store.metrics.RecordLinkListOp(op)
	return nil
}
