// ABOUTME: Tests for key encoding and the cell codec
// ABOUTME: Verifies order-preserving keys and lossless typed cells

package storage

import (
	"bytes"
	"errors"
	"math"
	"testing"
	"time"
)

func TestEncodeInt64Ordering(t *testing.T) {
	vals := []Value{
		NewInt64Value(math.MinInt64),
		NewInt64Value(-1000),
		NewInt64Value(-1),
		NewInt64Value(0),
		NewInt64Value(1),
		NewInt64Value(1000),
		NewInt64Value(math.MaxInt64),
	}

	encoded := make([][]byte, len(vals))
	for i, v := range vals {
		encoded[i] = EncodeValues([]Value{v})
	}

	for i := 0; i < len(encoded)-1; i++ {
		if bytes.Compare(encoded[i], encoded[i+1]) >= 0 {
			t.Errorf("Order violated: %d should be < %d", vals[i].I64, vals[i+1].I64)
		}
	}

	for i, enc := range encoded {
		decoded, err := DecodeValues(enc)
		if err != nil {
			t.Fatalf("Failed to decode: %v", err)
		}
		if len(decoded) != 1 || decoded[0].I64 != vals[i].I64 {
			t.Errorf("Roundtrip failed: expected %d, got %+v", vals[i].I64, decoded)
		}
	}
}

func TestEncodeBytesWithEscapes(t *testing.T) {
	inputs := [][]byte{
		[]byte("plain"),
		{0x00},
		{'a', 0x00, 'b'},
		{0xFE, 0xFF},
		{0xFF, 0x00, 0xFE, 'z'},
		{},
	}

	for _, in := range inputs {
		enc := EncodeValues([]Value{NewBytesValue(in), NewInt64Value(7)})
		decoded, err := DecodeValues(enc)
		if err != nil {
			t.Fatalf("Failed to decode %x: %v", in, err)
		}
		if len(decoded) != 2 {
			t.Fatalf("Expected 2 values for %x, got %d", in, len(decoded))
		}
		if !bytes.Equal(decoded[0].Str, in) {
			t.Errorf("Bytes roundtrip: expected %x, got %x", in, decoded[0].Str)
		}
		if decoded[1].I64 != 7 {
			t.Errorf("Trailing value corrupted after %x: %d", in, decoded[1].I64)
		}
	}
}

func TestEncodeKeyRowOrdering(t *testing.T) {
	// Row markers sort before their own columns and before the next row
	marker := EncodeKey(100, []Value{NewInt64Value(5)})
	col0 := EncodeKey(100, []Value{NewInt64Value(5), NewInt64Value(0)})
	col9 := EncodeKey(100, []Value{NewInt64Value(5), NewInt64Value(9)})
	next := EncodeKey(100, []Value{NewInt64Value(6)})
	otherTable := EncodeKey(101, []Value{NewInt64Value(0)})

	ordered := [][]byte{marker, col0, col9, next, otherTable}
	for i := 0; i < len(ordered)-1; i++ {
		if bytes.Compare(ordered[i], ordered[i+1]) >= 0 {
			t.Errorf("Key %d should sort before key %d", i, i+1)
		}
	}

	if ExtractPrefix(col9) != 100 {
		t.Errorf("Expected prefix 100, got %d", ExtractPrefix(col9))
	}
	vals, err := ExtractValues(col9)
	if err != nil {
		t.Fatalf("Failed to extract: %v", err)
	}
	if len(vals) != 2 || vals[0].I64 != 5 || vals[1].I64 != 9 {
		t.Errorf("Unexpected key values: %+v", vals)
	}
}

func TestCellRoundtrip(t *testing.T) {
	when := time.Date(2015, 3, 1, 12, 30, 0, 123456789, time.UTC)

	tests := []struct {
		name string
		in   Value
		same func(a, b Value) bool
	}{
		{"null", NewNullValue(), func(a, b Value) bool { return b.IsNull() }},
		{"bool true", NewBoolValue(true), func(a, b Value) bool { return b.Bool }},
		{"bool false", NewBoolValue(false), func(a, b Value) bool { return !b.Bool }},
		{"int16", NewInt16Value(math.MinInt16), func(a, b Value) bool { return a.I64 == b.I64 }},
		{"int32", NewInt32Value(-123456), func(a, b Value) bool { return a.I64 == b.I64 }},
		{"int64", NewInt64Value(math.MaxInt64), func(a, b Value) bool { return a.I64 == b.I64 }},
		{"float32", NewFloat32Value(1.23), func(a, b Value) bool { return float32(a.F64) == float32(b.F64) }},
		{"float64", NewFloat64Value(1.234), func(a, b Value) bool { return a.F64 == b.F64 }},
		{"string", NewStringValue("str"), func(a, b Value) bool { return string(b.Str) == "str" }},
		{"empty string", NewStringValue(""), func(a, b Value) bool { return len(b.Str) == 0 }},
		{"bytes", NewBytesValue([]byte{1, 2, 3}), func(a, b Value) bool { return bytes.Equal(a.Str, b.Str) }},
		{"time", NewTimeValue(when), func(a, b Value) bool { return a.Time.Equal(b.Time) }},
		{"pre-epoch time", NewTimeValue(time.Unix(-1000, 5)), func(a, b Value) bool { return a.Time.Equal(b.Time) }},
		{"empty list", NewListValue(nil), func(a, b Value) bool { return len(b.List) == 0 }},
		{"list", NewListValue([]int64{3, 0, 3}), func(a, b Value) bool {
			return len(b.List) == 3 && b.List[0] == 3 && b.List[1] == 0 && b.List[2] == 3
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := DecodeCell(EncodeCell(tt.in))
			if err != nil {
				t.Fatalf("DecodeCell failed: %v", err)
			}
			if out.Type != tt.in.Type {
				t.Fatalf("Type tag changed: %d -> %d", tt.in.Type, out.Type)
			}
			if !tt.same(tt.in, out) {
				t.Errorf("Roundtrip mismatch: in=%+v out=%+v", tt.in, out)
			}
		})
	}
}

func TestDecodeCellRejectsMalformed(t *testing.T) {
	bad := [][]byte{
		nil,
		{TYPE_INT32, 1, 2},
		{TYPE_BOOL},
		{TYPE_LIST, 1, 2, 3},
		{200},
	}
	for _, b := range bad {
		if _, err := DecodeCell(b); !errors.Is(err, ErrBadCell) {
			t.Errorf("Expected ErrBadCell for %x, got %v", b, err)
		}
	}
}

func TestDecodeCellCopiesPayload(t *testing.T) {
	enc := EncodeCell(NewBytesValue([]byte("abc")))
	out, err := DecodeCell(enc)
	if err != nil {
		t.Fatalf("DecodeCell failed: %v", err)
	}
	enc[1] = 'X'
	if string(out.Str) != "abc" {
		t.Errorf("Decoded payload aliases the source: %q", out.Str)
	}
}
