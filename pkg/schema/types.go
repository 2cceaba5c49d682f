// ABOUTME: Column type vocabulary and per-entity field schema
// ABOUTME: FieldType is a closed enum; EntitySchema keeps declaration order

// Package schema describes the typed columns of row-store entities.
package schema

import (
	"fmt"
	"strings"
)

// FieldType is the declared storage type of a column
type FieldType uint8

const (
	TypeBool FieldType = iota + 1
	TypeInt16
	TypeInt32
	TypeInt64
	TypeFloat32
	TypeFloat64
	TypeString
	TypeBinary
	TypeTimestamp
	TypeLink
	TypeLinkList
)

var typeNames = map[FieldType]string{
	TypeBool:      "bool",
	TypeInt16:     "int16",
	TypeInt32:     "int32",
	TypeInt64:     "int64",
	TypeFloat32:   "float32",
	TypeFloat64:   "float64",
	TypeString:    "string",
	TypeBinary:    "binary",
	TypeTimestamp: "timestamp",
	TypeLink:      "link",
	TypeLinkList:  "linklist",
}

// String returns the lower-case type name used in schema files
func (t FieldType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FieldType(%d)", uint8(t))
}

// Valid reports whether t is one of the declared constants
func (t FieldType) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// IsLink reports whether the column references rows of another entity
func (t FieldType) IsLink() bool {
	return t == TypeLink || t == TypeLinkList
}

// ParseFieldType maps a schema-file type name to a FieldType
func ParseFieldType(name string) (FieldType, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	for t, n := range typeNames {
		if n == lower {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown field type %q", ErrInvalidSchema, name)
}

// FieldSchema describes one column
type FieldSchema struct {
	Name     string
	Type     FieldType
	Nullable bool
	Target   string // Linked entity for Link and LinkList columns
}

// EntitySchema is the ordered column list of one entity.
// It is read-only once constructed.
type EntitySchema struct {
	name   string
	fields []FieldSchema
	index  map[string]int
}

// New builds an EntitySchema, validating field names and types.
// Link fields are always nullable; LinkList fields never are.
func New(name string, fields ...FieldSchema) (*EntitySchema, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: entity name is empty", ErrInvalidSchema)
	}

	s := &EntitySchema{
		name:   name,
		fields: make([]FieldSchema, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}

	for _, f := range fields {
		if err := checkField(f); err != nil {
			return nil, fmt.Errorf("entity %s: %w", name, err)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("%w: entity %s: duplicate field %q", ErrInvalidSchema, name, f.Name)
		}

		switch f.Type {
		case TypeLink:
			f.Nullable = true
		case TypeLinkList:
			f.Nullable = false
		}

		s.index[f.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}

	return s, nil
}

// MustNew is New for statically known schemas; it panics on error
func MustNew(name string, fields ...FieldSchema) *EntitySchema {
	s, err := New(name, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func checkField(f FieldSchema) error {
	if f.Name == "" {
		return fmt.Errorf("%w: field name is empty", ErrInvalidSchema)
	}
	if strings.Contains(f.Name, PathSeparator) {
		return fmt.Errorf("%w: field name %q contains %q", ErrInvalidSchema, f.Name, PathSeparator)
	}
	if !f.Type.Valid() {
		return fmt.Errorf("%w: field %q has invalid type %v", ErrInvalidSchema, f.Name, f.Type)
	}
	if f.Type.IsLink() && f.Target == "" {
		return fmt.Errorf("%w: link field %q has no target entity", ErrInvalidSchema, f.Name)
	}
	if !f.Type.IsLink() && f.Target != "" {
		return fmt.Errorf("%w: field %q of type %v cannot have a target", ErrInvalidSchema, f.Name, f.Type)
	}
	return nil
}

// PathSeparator separates segments of a compound field path. Compound
// paths are never resolved, so field names may not contain it.
const PathSeparator = "."

// Name returns the entity name
func (s *EntitySchema) Name() string {
	return s.name
}

// NumFields returns the number of declared fields
func (s *EntitySchema) NumFields() int {
	return len(s.fields)
}

// Field returns the schema of a field by name
func (s *EntitySchema) Field(name string) (FieldSchema, bool) {
	i, ok := s.index[name]
	if !ok {
		return FieldSchema{}, false
	}
	return s.fields[i], true
}

// FieldType returns the declared type of a field
func (s *EntitySchema) FieldType(name string) (FieldType, bool) {
	f, ok := s.Field(name)
	return f.Type, ok
}

// IsNullable reports whether a field can hold null. Unknown fields are not nullable.
func (s *EntitySchema) IsNullable(name string) bool {
	f, ok := s.Field(name)
	return ok && f.Nullable
}

// ColumnIndex returns the physical column index of a field
func (s *EntitySchema) ColumnIndex(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// FieldAt returns the field stored at a column index
func (s *EntitySchema) FieldAt(col int) (FieldSchema, bool) {
	if col < 0 || col >= len(s.fields) {
		return FieldSchema{}, false
	}
	return s.fields[col], true
}

// FieldNames returns the field names in declaration order.
// The slice is a fresh copy on every call.
func (s *EntitySchema) FieldNames() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// Fields returns a copy of the field list in declaration order
func (s *EntitySchema) Fields() []FieldSchema {
	out := make([]FieldSchema, len(s.fields))
	copy(out, s.fields)
	return out
}

// Fingerprint is a stable textual form of the column layout, used to detect
// a persisted table whose layout differs from the registered schema
func (s *EntitySchema) Fingerprint() string {
	var b strings.Builder
	for i, f := range s.fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(f.Name)
		b.WriteByte(':')
		b.WriteString(f.Type.String())
		if f.Nullable && f.Type != TypeLink {
			b.WriteByte('?')
		}
		if f.Target != "" {
			b.WriteByte('@')
			b.WriteString(f.Target)
		}
	}
	return b.String()
}
