// ABOUTME: Object: name-based typed view over one row
// ABOUTME: Equality and hashing follow row identity only

package dynamic

import (
	"fmt"
	"strings"
	"time"

	"github.com/nainya/rowstore/pkg/rowstore"
	"github.com/nainya/rowstore/pkg/schema"
)

// Object is a view over one row. Objects hold no resources; any number of
// them may wrap the same row and they are Equal to each other.
type Object struct {
	acc accessor
}

// New wraps a row of the entity described by s
func New(engine Engine, s *schema.EntitySchema, row rowstore.RowHandle) (*Object, error) {
	if engine == nil || s == nil {
		return nil, fmt.Errorf("%w: nil engine or schema", ErrInvalidArgument)
	}
	if row.IsZero() {
		return nil, fmt.Errorf("%w: unbound row handle", ErrInvalidArgument)
	}
	if row.Table() != s.Name() {
		return nil, fmt.Errorf("%w: row of %s cannot be viewed as %s", ErrInvalidArgument, row.Table(), s.Name())
	}
	return &Object{acc: accessor{engine: engine, schema: s, row: row}}, nil
}

// Wrap wraps a row using the schema of its table
func Wrap(engine Engine, row rowstore.RowHandle) (*Object, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: nil engine", ErrInvalidArgument)
	}
	s, err := engine.SchemaFor(row.Table())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return New(engine, s, row)
}

// Open opens row index of table and wraps it
func Open(engine Engine, table string, index int64) (*Object, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: nil engine", ErrInvalidArgument)
	}
	row, err := engine.OpenRow(table, index)
	if err != nil {
		return nil, classify(err)
	}
	return Wrap(engine, row)
}

// Type returns the entity name
func (o *Object) Type() string {
	return o.acc.schema.Name()
}

// Schema returns the entity schema the object validates against
func (o *Object) Schema() *schema.EntitySchema {
	return o.acc.schema
}

// Row returns the wrapped row handle
func (o *Object) Row() rowstore.RowHandle {
	return o.acc.row
}

// IsValid reports whether the row can still be accessed
func (o *Object) IsValid() bool {
	return o.acc.engine.IsRowValid(o.acc.row)
}

// FieldNames returns the field names in declaration order
func (o *Object) FieldNames() []string {
	return o.acc.schema.FieldNames()
}

// HasField reports whether the entity declares name
func (o *Object) HasField(name string) bool {
	_, ok := o.acc.schema.ColumnIndex(name)
	return ok
}

// FieldType returns the declared type of name
func (o *Object) FieldType(name string) (schema.FieldType, error) {
	_, f, err := o.acc.lookup(name)
	return f.Type, err
}

// IsNull reports whether a nullable field holds null or a link points at no
// row. Non-nullable fields are never null.
func (o *Object) IsNull(name string) (bool, error) {
	col, f, err := o.acc.lookup(name)
	if err != nil {
		return false, err
	}
	if err := o.acc.checkValid(); err != nil {
		return false, err
	}
	if !f.Nullable {
		return false, nil
	}
	v, err := o.acc.engine.ReadColumn(o.acc.row, col, f.Type)
	if err != nil {
		return false, classify(err)
	}
	return v == nil, nil
}

// getAs reads a non-null primitive field as T
func getAs[T any](o *Object, name string, ft schema.FieldType) (T, error) {
	var zero T
	v, _, err := o.acc.validateAndGet(name, ft)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, fmt.Errorf("%w: %s.%s", ErrNullValue, o.Type(), name)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: engine returned %T for %v field %q", ErrIllegalState, v, ft, name)
	}
	return t, nil
}

// GetBool returns the value of a Bool field
func (o *Object) GetBool(name string) (bool, error) {
	return getAs[bool](o, name, schema.TypeBool)
}

// GetInt16 returns the value of an Int16 field
func (o *Object) GetInt16(name string) (int16, error) {
	return getAs[int16](o, name, schema.TypeInt16)
}

// GetInt32 returns the value of an Int32 field
func (o *Object) GetInt32(name string) (int32, error) {
	return getAs[int32](o, name, schema.TypeInt32)
}

// GetInt64 returns the value of an Int64 field
func (o *Object) GetInt64(name string) (int64, error) {
	return getAs[int64](o, name, schema.TypeInt64)
}

// GetFloat32 returns the value of a Float32 field
func (o *Object) GetFloat32(name string) (float32, error) {
	return getAs[float32](o, name, schema.TypeFloat32)
}

// GetFloat64 returns the value of a Float64 field
func (o *Object) GetFloat64(name string) (float64, error) {
	return getAs[float64](o, name, schema.TypeFloat64)
}

// GetString returns the value of a String field
func (o *Object) GetString(name string) (string, error) {
	return getAs[string](o, name, schema.TypeString)
}

// GetBytes returns the value of a Binary field
func (o *Object) GetBytes(name string) ([]byte, error) {
	return getAs[[]byte](o, name, schema.TypeBinary)
}

// GetTimestamp returns the value of a Timestamp field
func (o *Object) GetTimestamp(name string) (time.Time, error) {
	return getAs[time.Time](o, name, schema.TypeTimestamp)
}

// GetObject returns the row a Link field points at, or nil when unset
func (o *Object) GetObject(name string) (*Object, error) {
	v, f, err := o.acc.validateAndGet(name, schema.TypeLink)
	if err != nil || v == nil {
		return nil, err
	}
	row, ok := v.(rowstore.RowHandle)
	if !ok {
		return nil, fmt.Errorf("%w: engine returned %T for link %q", ErrIllegalState, v, name)
	}
	target, err := o.acc.engine.SchemaFor(f.Target)
	if err != nil {
		return nil, classify(err)
	}
	return New(o.acc.engine, target, row)
}

// GetList returns the list held in a LinkList field
func (o *Object) GetList(name string) (*List, error) {
	v, f, err := o.acc.validateAndGet(name, schema.TypeLinkList)
	if err != nil {
		return nil, err
	}
	handle, ok := v.(*rowstore.LinkList)
	if !ok {
		return nil, fmt.Errorf("%w: engine returned %T for list %q", ErrIllegalState, v, name)
	}
	target, err := o.acc.engine.SchemaFor(f.Target)
	if err != nil {
		return nil, classify(err)
	}
	return &List{engine: o.acc.engine, schema: target, handle: handle}, nil
}

// SetBool sets a Bool field
func (o *Object) SetBool(name string, v bool) error {
	return o.acc.validateAndSet(name, schema.TypeBool, v)
}

// SetInt16 sets an Int16 field
func (o *Object) SetInt16(name string, v int16) error {
	return o.acc.validateAndSet(name, schema.TypeInt16, v)
}

// SetInt32 sets an Int32 field
func (o *Object) SetInt32(name string, v int32) error {
	return o.acc.validateAndSet(name, schema.TypeInt32, v)
}

// SetInt64 sets an Int64 field
func (o *Object) SetInt64(name string, v int64) error {
	return o.acc.validateAndSet(name, schema.TypeInt64, v)
}

// SetFloat32 sets a Float32 field
func (o *Object) SetFloat32(name string, v float32) error {
	return o.acc.validateAndSet(name, schema.TypeFloat32, v)
}

// SetFloat64 sets a Float64 field
func (o *Object) SetFloat64(name string, v float64) error {
	return o.acc.validateAndSet(name, schema.TypeFloat64, v)
}

// SetString sets a String field
func (o *Object) SetString(name string, v string) error {
	return o.acc.validateAndSet(name, schema.TypeString, v)
}

// SetBytes sets a Binary field. A nil slice writes null when the field is
// nullable and an empty value otherwise.
func (o *Object) SetBytes(name string, v []byte) error {
	return o.acc.validateAndSet(name, schema.TypeBinary, v)
}

// SetTimestamp sets a Timestamp field
func (o *Object) SetTimestamp(name string, v time.Time) error {
	return o.acc.validateAndSet(name, schema.TypeTimestamp, v)
}

// SetObject points a Link field at target; nil clears the link
func (o *Object) SetObject(name string, target *Object) error {
	if target == nil {
		return o.acc.validateAndSet(name, schema.TypeLink, nil)
	}
	if _, f, err := o.acc.field(name, schema.TypeLink); err != nil {
		return err
	} else if target.Type() != f.Target {
		return fmt.Errorf("%w: %q links to %s, got %s", ErrInvalidArgument, name, f.Target, target.Type())
	}
	return o.acc.validateAndSet(name, schema.TypeLink, target.Row())
}

// SetList replaces the contents of a LinkList field
func (o *Object) SetList(name string, targets []*Object) error {
	_, f, err := o.acc.field(name, schema.TypeLinkList)
	if err != nil {
		return err
	}
	rows := make([]rowstore.RowHandle, len(targets))
	for i, target := range targets {
		if target == nil {
			return fmt.Errorf("%w: nil element %d", ErrInvalidArgument, i)
		}
		if target.Type() != f.Target {
			return fmt.Errorf("%w: %q holds %s, element %d is %s", ErrInvalidArgument, name, f.Target, i, target.Type())
		}
		rows[i] = target.Row()
	}
	return o.acc.validateAndSet(name, schema.TypeLinkList, rows)
}

// SetNull sets a nullable field or a link to null
func (o *Object) SetNull(name string) error {
	_, f, err := o.acc.lookup(name)
	if err != nil {
		return err
	}
	if !f.Nullable {
		return fmt.Errorf("%w: field %q is not nullable", ErrInvalidArgument, name)
	}
	return o.acc.validateAndSet(name, f.Type, nil)
}

// Get reads a field as its declared type. Null reads as nil, links as
// *Object and link lists as *List.
func (o *Object) Get(name string) (any, error) {
	_, f, err := o.acc.lookup(name)
	if err != nil {
		return nil, err
	}
	switch f.Type {
	case schema.TypeLink:
		target, err := o.GetObject(name)
		if err != nil || target == nil {
			return nil, err
		}
		return target, nil
	case schema.TypeLinkList:
		list, err := o.GetList(name)
		if err != nil {
			return nil, err
		}
		return list, nil
	}
	v, _, err := o.acc.validateAndGet(name, f.Type)
	return v, err
}

// Set writes a field. v must have the exact Go type of the declared field
// type: bool, int16, int32, int64, float32, float64, string, []byte,
// time.Time, *Object for links or []*Object for link lists. Nil writes null.
func (o *Object) Set(name string, v any) error {
	_, f, err := o.acc.lookup(name)
	if err != nil {
		return err
	}

	switch f.Type {
	case schema.TypeLink:
		switch target := v.(type) {
		case nil:
			return o.SetObject(name, nil)
		case *Object:
			return o.SetObject(name, target)
		}
	case schema.TypeLinkList:
		if targets, ok := v.([]*Object); ok {
			return o.SetList(name, targets)
		}
	default:
		if v == nil {
			return o.SetNull(name)
		}
		if goTypeMatches(f.Type, v) {
			return o.acc.validateAndSet(name, f.Type, v)
		}
	}
	return fmt.Errorf("%w: field %q is %v, got %T", ErrInvalidArgument, name, f.Type, v)
}

func goTypeMatches(ft schema.FieldType, v any) bool {
	switch v.(type) {
	case bool:
		return ft == schema.TypeBool
	case int16:
		return ft == schema.TypeInt16
	case int32:
		return ft == schema.TypeInt32
	case int64:
		return ft == schema.TypeInt64
	case float32:
		return ft == schema.TypeFloat32
	case float64:
		return ft == schema.TypeFloat64
	case string:
		return ft == schema.TypeString
	case []byte:
		return ft == schema.TypeBinary
	case time.Time:
		return ft == schema.TypeTimestamp
	}
	return false
}

// Equal reports whether both objects view the same row of the same store
func (o *Object) Equal(other *Object) bool {
	if o == nil || other == nil {
		return o == other
	}
	return o.acc.row.Equal(other.acc.row)
}

// Hash is derived from row identity only and equals Row().Hash()
func (o *Object) Hash() uint64 {
	return o.acc.row.Hash()
}

// Key returns the row identity, usable as a map key
func (o *Object) Key() rowstore.RowKey {
	return o.acc.row.Key()
}

// String renders the object as "Entity = [{field:value},...]"
func (o *Object) String() string {
	if !o.IsValid() {
		return "Invalid object"
	}

	var b strings.Builder
	b.WriteString(o.Type())
	b.WriteString(" = [")
	for i, f := range o.acc.schema.Fields() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('{')
		b.WriteString(f.Name)
		b.WriteByte(':')
		b.WriteString(o.render(f))
		b.WriteByte('}')
	}
	b.WriteByte(']')
	return b.String()
}

func (o *Object) render(f schema.FieldSchema) string {
	switch f.Type {
	case schema.TypeLink:
		target, err := o.GetObject(f.Name)
		if err != nil || target == nil {
			return "null"
		}
		return target.Type()
	case schema.TypeLinkList:
		list, err := o.GetList(f.Name)
		if err != nil {
			return "null"
		}
		n, err := list.Size()
		if err != nil {
			return "null"
		}
		return fmt.Sprintf("List<%s>[%d]", f.Target, n)
	}

	v, _, err := o.acc.validateAndGet(f.Name, f.Type)
	if err != nil || v == nil {
		return "null"
	}
	switch x := v.(type) {
	case []byte:
		return fmt.Sprintf("binary(%d)", len(x))
	case time.Time:
		return x.Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}
