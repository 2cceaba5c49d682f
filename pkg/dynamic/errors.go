package dynamic

import (
	"errors"
	"fmt"

	"github.com/nainya/rowstore/pkg/btree"
	"github.com/nainya/rowstore/pkg/rowstore"
)

var (
	// ErrInvalidArgument indicates a bad field name, a type mismatch or a bad value
	ErrInvalidArgument = errors.New("dynamic: invalid argument")

	// ErrIllegalState indicates a stale row or a write outside a write transaction
	ErrIllegalState = errors.New("dynamic: illegal state")

	// ErrIndexOutOfRange indicates a list index outside [0, size)
	ErrIndexOutOfRange = fmt.Errorf("%w: index out of range", ErrInvalidArgument)

	// ErrNullValue indicates a typed read of a null field
	ErrNullValue = fmt.Errorf("%w: field is null", ErrInvalidArgument)
)

// classify tags engine errors with the taxonomy sentinel they belong to
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrIllegalState):
		return err
	case errors.Is(err, rowstore.ErrIndexOutOfRange):
		return fmt.Errorf("%w: %w", ErrIndexOutOfRange, err)
	case errors.Is(err, rowstore.ErrStaleRow),
		errors.Is(err, rowstore.ErrClosed),
		errors.Is(err, rowstore.ErrNotInWriteTransaction),
		errors.Is(err, rowstore.ErrWriteInProgress):
		return fmt.Errorf("%w: %w", ErrIllegalState, err)
	case errors.Is(err, rowstore.ErrTypeMismatch),
		errors.Is(err, rowstore.ErrForeignRow),
		errors.Is(err, rowstore.ErrColumnOutOfRange),
		errors.Is(err, btree.ErrValueTooLarge),
		errors.Is(err, btree.ErrKeyTooLarge):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return err
}
