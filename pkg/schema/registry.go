// ABOUTME: Registry of entity schemas keyed by entity name
// ABOUTME: Resolves schemaFor lookups and checks that link targets exist

package schema

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrInvalidSchema indicates a malformed entity or field definition
	ErrInvalidSchema = errors.New("schema: invalid schema")

	// ErrEntityNotFound indicates a lookup for an unregistered entity
	ErrEntityNotFound = errors.New("schema: entity not found")
)

// Source resolves entity schemas by name
type Source interface {
	SchemaFor(entity string) (*EntitySchema, error)
}

// Registry holds the schemas of all entities known to a store
type Registry struct {
	entities map[string]*EntitySchema
	order    []string
}

// NewRegistry creates a registry holding the given schemas
func NewRegistry(schemas ...*EntitySchema) (*Registry, error) {
	r := &Registry{entities: make(map[string]*EntitySchema)}
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a schema. Registering the same entity twice is an error.
func (r *Registry) Register(s *EntitySchema) error {
	if s == nil {
		return fmt.Errorf("%w: nil schema", ErrInvalidSchema)
	}
	if _, exists := r.entities[s.Name()]; exists {
		return fmt.Errorf("%w: entity %s already registered", ErrInvalidSchema, s.Name())
	}
	r.entities[s.Name()] = s
	r.order = append(r.order, s.Name())
	return nil
}

// SchemaFor returns the schema of an entity
func (r *Registry) SchemaFor(entity string) (*EntitySchema, error) {
	s, ok := r.entities[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, entity)
	}
	return s, nil
}

// Names returns entity names in registration order
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Validate checks that every link field targets a registered entity
func (r *Registry) Validate() error {
	var missing []string
	for _, name := range r.order {
		for _, f := range r.entities[name].fields {
			if !f.Type.IsLink() {
				continue
			}
			if _, ok := r.entities[f.Target]; !ok {
				missing = append(missing, fmt.Sprintf("%s.%s -> %s", name, f.Name, f.Target))
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: unresolved link targets %v", ErrInvalidSchema, missing)
	}
	return nil
}
