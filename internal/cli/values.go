package cli

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nainya/rowstore/pkg/schema"
)

// parseAssignments turns field=value arguments into the loosely typed map
// dynamic.Object.Assign accepts. String fields keep the raw text; every
// other value is decoded as a YAML scalar or flow sequence.
func parseAssignments(sch *schema.EntitySchema, args []string) (map[string]any, error) {
	values := make(map[string]any, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected field=value, got %q", arg)
		}
		if _, dup := values[name]; dup {
			return nil, fmt.Errorf("field %q assigned twice", name)
		}

		ft, known := sch.FieldType(name)
		if !known {
			return nil, fmt.Errorf("%s has no field %q", sch.Name(), name)
		}
		if ft == schema.TypeString {
			values[name] = raw
			continue
		}

		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		values[name] = v
	}
	return values, nil
}
