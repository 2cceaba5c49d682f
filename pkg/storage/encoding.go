// ABOUTME: Order-preserving encoding for composite keys and a tagged cell codec
// ABOUTME: Keys sort lexicographically; cells carry one typed column value each

package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Value type tags. Tags 1-4 may appear in keys; all of them may appear in cells.
const (
	TYPE_BYTES   = 1
	TYPE_INT64   = 2
	TYPE_UINT64  = 3
	TYPE_TIME    = 4 // Keys: Unix seconds. Cells: seconds + nanoseconds.
	TYPE_NULL    = 5
	TYPE_BOOL    = 6
	TYPE_INT16   = 7
	TYPE_INT32   = 8
	TYPE_FLOAT32 = 9
	TYPE_FLOAT64 = 10
	TYPE_STRING  = 11
	TYPE_LIST    = 12 // Ordered row indexes of a link list
)

// ErrBadCell indicates a cell that cannot be decoded
var ErrBadCell = errors.New("storage: malformed cell")

// Value represents a single key component or column cell
type Value struct {
	Type uint8
	Str  []byte
	I64  int64
	U64  uint64
	F64  float64
	Bool bool
	Time time.Time
	List []int64
}

// NewBytesValue creates a bytes value
func NewBytesValue(data []byte) Value {
	return Value{Type: TYPE_BYTES, Str: data}
}

// NewStringValue creates a string value
func NewStringValue(s string) Value {
	return Value{Type: TYPE_STRING, Str: []byte(s)}
}

// NewInt64Value creates an int64 value
func NewInt64Value(i int64) Value {
	return Value{Type: TYPE_INT64, I64: i}
}

// NewInt32Value creates an int32 value
func NewInt32Value(i int32) Value {
	return Value{Type: TYPE_INT32, I64: int64(i)}
}

// NewInt16Value creates an int16 value
func NewInt16Value(i int16) Value {
	return Value{Type: TYPE_INT16, I64: int64(i)}
}

// NewUint64Value creates a uint64 value
func NewUint64Value(u uint64) Value {
	return Value{Type: TYPE_UINT64, U64: u}
}

// NewFloat32Value creates a float32 value
func NewFloat32Value(f float32) Value {
	return Value{Type: TYPE_FLOAT32, F64: float64(f)}
}

// NewFloat64Value creates a float64 value
func NewFloat64Value(f float64) Value {
	return Value{Type: TYPE_FLOAT64, F64: f}
}

// NewBoolValue creates a bool value
func NewBoolValue(b bool) Value {
	return Value{Type: TYPE_BOOL, Bool: b}
}

// NewTimeValue creates a time value
func NewTimeValue(t time.Time) Value {
	return Value{Type: TYPE_TIME, Time: t}
}

// NewNullValue creates the null cell
func NewNullValue() Value {
	return Value{Type: TYPE_NULL}
}

// NewListValue creates a link list cell
func NewListValue(rows []int64) Value {
	return Value{Type: TYPE_LIST, List: rows}
}

// IsNull reports whether the value is the null cell
func (v Value) IsNull() bool {
	return v.Type == TYPE_NULL
}

// EncodeValues encodes multiple values in order-preserving format
// Each value is tagged with its type to prevent collisions with 0xFF
func EncodeValues(vals []Value) []byte {
	out := make([]byte, 0, 64)
	for _, v := range vals {
		out = append(out, byte(v.Type)) // Type tag (doesn't start with 0xFF)

		switch v.Type {
		case TYPE_INT64:
			// Flip sign bit for proper ordering
			out = binary.BigEndian.AppendUint64(out, uint64(v.I64)+(1<<63))

		case TYPE_UINT64:
			out = binary.BigEndian.AppendUint64(out, v.U64)

		case TYPE_TIME:
			out = binary.BigEndian.AppendUint64(out, uint64(v.Time.Unix())+(1<<63))

		case TYPE_BYTES, TYPE_STRING:
			// Escape and null-terminate
			out = append(out, escapeString(v.Str)...)
			out = append(out, 0)

		default:
			panic(fmt.Sprintf("type %d cannot be part of a key", v.Type))
		}
	}
	return out
}

// escapeString escapes null bytes and 0xFF for embedding in keys
func escapeString(s []byte) []byte {
	escapes := 0
	for _, b := range s {
		if b == 0 || b == 0xFF || b == 0xFE {
			escapes++
		}
	}

	if escapes == 0 {
		return s
	}

	out := make([]byte, 0, len(s)+escapes)
	for _, b := range s {
		switch b {
		case 0, 0xFE, 0xFF:
			out = append(out, 0xFE, b)
		default:
			out = append(out, b)
		}
	}
	return out
}

// unescapeString reverses escapeString
func unescapeString(s []byte) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0xFE && i+1 < len(s) {
			out = append(out, s[i+1])
			i++
		} else {
			out = append(out, s[i])
		}
	}
	return out
}

// DecodeValues decodes values from encoded format
func DecodeValues(data []byte) ([]Value, error) {
	vals := make([]Value, 0, 4)
	pos := 0

	for pos < len(data) {
		typ := data[pos]
		pos++

		switch typ {
		case TYPE_INT64, TYPE_UINT64, TYPE_TIME:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("incomplete fixed-width value at pos %d", pos)
			}
			u := binary.BigEndian.Uint64(data[pos : pos+8])
			switch typ {
			case TYPE_INT64:
				vals = append(vals, NewInt64Value(int64(u-(1<<63))))
			case TYPE_UINT64:
				vals = append(vals, NewUint64Value(u))
			default:
				vals = append(vals, NewTimeValue(time.Unix(int64(u-(1<<63)), 0)))
			}
			pos += 8

		case TYPE_BYTES, TYPE_STRING:
			// Find the unescaped null terminator
			end := pos
			for end < len(data) && data[end] != 0 {
				if data[end] == 0xFE {
					end++
				}
				end++
			}
			if end >= len(data) {
				return nil, fmt.Errorf("unterminated string at pos %d", pos)
			}
			vals = append(vals, Value{Type: typ, Str: unescapeString(data[pos:end])})
			pos = end + 1

		default:
			return nil, fmt.Errorf("unknown type: %d at pos %d", typ, pos-1)
		}
	}

	return vals, nil
}

// EncodeKey encodes a composite key with prefix
func EncodeKey(prefix uint32, vals []Value) []byte {
	out := binary.BigEndian.AppendUint32(make([]byte, 0, 32), prefix)
	return append(out, EncodeValues(vals)...)
}

// ExtractPrefix extracts the prefix from an encoded key
func ExtractPrefix(key []byte) uint32 {
	if len(key) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(key[:4])
}

// ExtractValues extracts and decodes values from an encoded key
func ExtractValues(key []byte) ([]Value, error) {
	if len(key) < 4 {
		return nil, fmt.Errorf("key too short")
	}
	return DecodeValues(key[4:])
}

// EncodeCell encodes a single column value. Cells are stored whole,
// so variable-width payloads need no terminator.
func EncodeCell(v Value) []byte {
	out := []byte{v.Type}

	switch v.Type {
	case TYPE_NULL:
	case TYPE_BOOL:
		if v.Bool {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
	case TYPE_INT16:
		out = binary.LittleEndian.AppendUint16(out, uint16(int16(v.I64)))
	case TYPE_INT32:
		out = binary.LittleEndian.AppendUint32(out, uint32(int32(v.I64)))
	case TYPE_INT64:
		out = binary.LittleEndian.AppendUint64(out, uint64(v.I64))
	case TYPE_UINT64:
		out = binary.LittleEndian.AppendUint64(out, v.U64)
	case TYPE_FLOAT32:
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(float32(v.F64)))
	case TYPE_FLOAT64:
		out = binary.LittleEndian.AppendUint64(out, math.Float64bits(v.F64))
	case TYPE_STRING, TYPE_BYTES:
		out = append(out, v.Str...)
	case TYPE_TIME:
		out = binary.LittleEndian.AppendUint64(out, uint64(v.Time.Unix()))
		out = binary.LittleEndian.AppendUint32(out, uint32(v.Time.Nanosecond()))
	case TYPE_LIST:
		for _, row := range v.List {
			out = binary.LittleEndian.AppendUint64(out, uint64(row))
		}
	default:
		panic(fmt.Sprintf("unknown cell type: %d", v.Type))
	}
	return out
}

// DecodeCell decodes a cell produced by EncodeCell
func DecodeCell(data []byte) (Value, error) {
	if len(data) == 0 {
		return Value{}, fmt.Errorf("%w: empty", ErrBadCell)
	}
	typ, body := data[0], data[1:]

	want := -1
	switch typ {
	case TYPE_NULL:
		want = 0
	case TYPE_BOOL:
		want = 1
	case TYPE_INT16:
		want = 2
	case TYPE_INT32, TYPE_FLOAT32:
		want = 4
	case TYPE_INT64, TYPE_UINT64, TYPE_FLOAT64:
		want = 8
	case TYPE_TIME:
		want = 12
	case TYPE_STRING, TYPE_BYTES:
	case TYPE_LIST:
		if len(body)%8 != 0 {
			return Value{}, fmt.Errorf("%w: list length %d", ErrBadCell, len(body))
		}
	default:
		return Value{}, fmt.Errorf("%w: unknown type %d", ErrBadCell, typ)
	}
	if want >= 0 && len(body) != want {
		return Value{}, fmt.Errorf("%w: type %d has %d bytes, want %d", ErrBadCell, typ, len(body), want)
	}

	switch typ {
	case TYPE_NULL:
		return NewNullValue(), nil
	case TYPE_BOOL:
		return NewBoolValue(body[0] != 0), nil
	case TYPE_INT16:
		return NewInt16Value(int16(binary.LittleEndian.Uint16(body))), nil
	case TYPE_INT32:
		return NewInt32Value(int32(binary.LittleEndian.Uint32(body))), nil
	case TYPE_INT64:
		return NewInt64Value(int64(binary.LittleEndian.Uint64(body))), nil
	case TYPE_UINT64:
		return NewUint64Value(binary.LittleEndian.Uint64(body)), nil
	case TYPE_FLOAT32:
		return NewFloat32Value(math.Float32frombits(binary.LittleEndian.Uint32(body))), nil
	case TYPE_FLOAT64:
		return NewFloat64Value(math.Float64frombits(binary.LittleEndian.Uint64(body))), nil
	case TYPE_STRING, TYPE_BYTES:
		// Copy out: the source slice points into a mapped page
		buf := make([]byte, len(body))
		copy(buf, body)
		return Value{Type: typ, Str: buf}, nil
	case TYPE_TIME:
		sec := int64(binary.LittleEndian.Uint64(body))
		nsec := int64(binary.LittleEndian.Uint32(body[8:]))
		return NewTimeValue(time.Unix(sec, nsec)), nil
	default: // TYPE_LIST
		rows := make([]int64, len(body)/8)
		for i := range rows {
			rows[i] = int64(binary.LittleEndian.Uint64(body[i*8:]))
		}
		return NewListValue(rows), nil
	}
}
