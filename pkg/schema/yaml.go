// ABOUTME: YAML schema definitions
// ABOUTME: Loads an ordered list of entities and fields into a Registry

package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type fileDoc struct {
	Entities []entityDoc `yaml:"entities"`
}

type entityDoc struct {
	Name   string     `yaml:"name"`
	Fields []fieldDoc `yaml:"fields"`
}

type fieldDoc struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Nullable bool   `yaml:"nullable"`
	Target   string `yaml:"target"`
}

// LoadFile reads a YAML schema file
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes a YAML schema document. Unknown keys are rejected and
// link targets must resolve within the document.
func Parse(r io.Reader) (*Registry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc fileDoc
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty schema document", ErrInvalidSchema)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	reg, err := NewRegistry()
	if err != nil {
		return nil, err
	}

	for _, e := range doc.Entities {
		fields := make([]FieldSchema, 0, len(e.Fields))
		for _, f := range e.Fields {
			ft, err := ParseFieldType(f.Type)
			if err != nil {
				return nil, fmt.Errorf("entity %s field %s: %w", e.Name, f.Name, err)
			}
			fields = append(fields, FieldSchema{
				Name:     f.Name,
				Type:     ft,
				Nullable: f.Nullable,
				Target:   f.Target,
			})
		}

		s, err := New(e.Name, fields...)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(s); err != nil {
			return nil, err
		}
	}

	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}
