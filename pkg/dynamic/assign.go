package dynamic

import (
	"encoding/base64"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/nainya/rowstore/pkg/schema"
)

// Assign sets several fields from loosely typed values, the shapes AsMap
// produces or a YAML/JSON decoder yields: any integral number for integer
// fields (or its decimal string, as AsMap renders large int64 values), any
// number for floats, RFC 3339 strings for timestamps, base64
// strings for binary, and a row index or {"table", "row"} reference for
// links. Fields are written in name order; the first failure stops.
func (o *Object) Assign(values map[string]any) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		_, f, err := o.acc.lookup(name)
		if err != nil {
			return err
		}
		v, err := o.coerce(f, values[name])
		if err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
		if err := o.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (o *Object) coerce(f schema.FieldSchema, v any) (any, error) {
	if v == nil {
		if f.Type == schema.TypeLinkList {
			return []*Object{}, nil
		}
		return nil, nil
	}

	switch f.Type {
	case schema.TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case schema.TypeInt16:
		if n, ok := integer(v, math.MinInt16, math.MaxInt16); ok {
			return int16(n), nil
		}
	case schema.TypeInt32:
		if n, ok := integer(v, math.MinInt32, math.MaxInt32); ok {
			return int32(n), nil
		}
	case schema.TypeInt64:
		if n, ok := integer(v, math.MinInt64, math.MaxInt64); ok {
			return n, nil
		}
	case schema.TypeFloat32:
		if x, ok := number(v); ok {
			return float32(x), nil
		}
	case schema.TypeFloat64:
		if x, ok := number(v); ok {
			return x, nil
		}
	case schema.TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case schema.TypeBinary:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			raw, err := base64.StdEncoding.DecodeString(b)
			if err != nil {
				return nil, fmt.Errorf("%w: binary must be base64: %w", ErrInvalidArgument, err)
			}
			return raw, nil
		}
	case schema.TypeTimestamp:
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
			}
			return parsed, nil
		}
	case schema.TypeLink:
		return o.target(f, v)
	case schema.TypeLinkList:
		items, ok := v.([]any)
		if !ok {
			break
		}
		out := make([]*Object, len(items))
		for i, item := range items {
			target, err := o.target(f, item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = target
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: cannot use %T as %v", ErrInvalidArgument, v, f.Type)
}

// target resolves a row reference against the linked entity
func (o *Object) target(f schema.FieldSchema, ref any) (*Object, error) {
	if m, ok := ref.(map[string]any); ok {
		if table, _ := m["table"].(string); table != f.Target {
			return nil, fmt.Errorf("%w: reference to %v, want %s", ErrInvalidArgument, m["table"], f.Target)
		}
		ref = m["row"]
	}
	index, ok := integer(ref, 0, math.MaxInt64)
	if !ok {
		return nil, fmt.Errorf("%w: bad row reference %v", ErrInvalidArgument, ref)
	}
	target, err := Open(o.acc.engine, f.Target, index)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return target, nil
}

func integer(v any, lo, hi int64) (int64, bool) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint8:
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint32:
		n = int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		n = int64(x)
	case float64:
		if x != math.Trunc(x) || x < -(1<<63) || x >= 1<<63 {
			return 0, false
		}
		n = int64(x)
	case string:
		parsed, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}
	return n, n >= lo && n <= hi
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case string:
		return 0, false
	}
	if n, ok := integer(v, math.MinInt64, math.MaxInt64); ok {
		return float64(n), true
	}
	return 0, false
}
