package dynamic

import (
	"fmt"
	"strconv"
	"time"

	"github.com/nainya/rowstore/pkg/rowstore"
	"github.com/nainya/rowstore/pkg/schema"
	"google.golang.org/protobuf/types/known/structpb"
)

// maxExactInt bounds the integers a float64 number holds exactly
const maxExactInt = 1 << 53

// AsMap returns the field values keyed by name. Timestamps are RFC 3339
// strings; links and list elements are {"table", "row"} references and are
// not followed. Int64 values beyond ±2^53 are decimal strings, so number
// based encodings such as protobuf Struct keep them exact.
func (o *Object) AsMap() (map[string]any, error) {
	if err := o.acc.checkValid(); err != nil {
		return nil, err
	}

	out := make(map[string]any, o.acc.schema.NumFields())
	for _, f := range o.acc.schema.Fields() {
		v, err := o.exportField(f)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		out[f.Name] = v
	}
	return out, nil
}

// AsStruct renders the object as a protobuf Struct; see AsMap
func (o *Object) AsStruct() (*structpb.Struct, error) {
	m, err := o.AsMap()
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func (o *Object) exportField(f schema.FieldSchema) (any, error) {
	switch f.Type {
	case schema.TypeLink:
		target, err := o.GetObject(f.Name)
		if err != nil || target == nil {
			return nil, err
		}
		return reference(target.Row()), nil

	case schema.TypeLinkList:
		list, err := o.GetList(f.Name)
		if err != nil {
			return nil, err
		}
		rows, err := list.handle.All()
		if err != nil {
			return nil, classify(err)
		}
		refs := make([]any, len(rows))
		for i, row := range rows {
			refs[i] = reference(row)
		}
		return refs, nil
	}

	v, _, err := o.acc.validateAndGet(f.Name, f.Type)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case time.Time:
		return x.Format(time.RFC3339Nano), nil
	case int16:
		return int32(x), nil
	case int64:
		return exactInt(x), nil
	case float32:
		return float64(x), nil
	}
	return v, nil
}

func reference(row rowstore.RowHandle) map[string]any {
	return map[string]any{
		"table": row.Table(),
		"row":   exactInt(row.Index()),
	}
}

func exactInt(n int64) any {
	if n > maxExactInt || n < -maxExactInt {
		return strconv.FormatInt(n, 10)
	}
	return n
}
