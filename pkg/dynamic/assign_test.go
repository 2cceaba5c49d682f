package dynamic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignRoundTripsAsMap(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.BeginWrite())
	src := createObject(t, s, "AllTypes")
	require.NoError(t, src.SetString("fieldString", "str"))
	require.NoError(t, src.SetInt16("fieldShort", -7))
	require.NoError(t, src.SetInt64("fieldLong", 1<<40))
	require.NoError(t, src.SetFloat32("fieldFloat", 1.5))
	require.NoError(t, src.SetTimestamp("fieldDate", time.Date(2023, 5, 6, 7, 8, 9, 10, time.UTC)))
	require.NoError(t, src.SetBytes("fieldBinary", []byte{0, 1, 2}))
	require.NoError(t, src.SetObject("fieldObject", src))
	require.NoError(t, src.SetList("fieldList", []*Object{src, src}))
	require.NoError(t, s.Commit())

	m, err := src.AsMap()
	require.NoError(t, err)

	require.NoError(t, s.BeginWrite())
	dst := createObject(t, s, "AllTypes")
	require.NoError(t, dst.Assign(m))
	require.NoError(t, s.Commit())

	got, err := dst.AsMap()
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestAssignLooseValues(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.BeginWrite())
	target := createObject(t, s, "AllTypes")
	obj := createObject(t, s, "AllTypes")
	err := obj.Assign(map[string]any{
		"fieldShort":      float64(12),
		"fieldInt":        7,
		"fieldDouble":     3,
		"fieldBoolean":    true,
		"fieldDate":       "2020-01-01T00:00:00Z",
		"fieldBinary":     "aGk=",
		"fieldObject":     target.Row().Index(),
		"fieldList":       []any{target.Row().Index()},
		"fieldNullString": nil,
	})
	require.NoError(t, err)
	require.NoError(t, s.Commit())

	short, err := obj.GetInt16("fieldShort")
	require.NoError(t, err)
	assert.Equal(t, int16(12), short)

	d, err := obj.GetFloat64("fieldDouble")
	require.NoError(t, err)
	assert.Equal(t, 3.0, d)

	b, err := obj.GetBytes("fieldBinary")
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), b)

	linked, err := obj.GetObject("fieldObject")
	require.NoError(t, err)
	require.NotNil(t, linked)
	assert.True(t, linked.Equal(target))

	isNull, err := obj.IsNull("fieldNullString")
	require.NoError(t, err)
	assert.True(t, isNull)
}

func TestAssignRejects(t *testing.T) {
	s := openStore(t)
	dog := newObject(t, s, "Dog")

	tests := []struct {
		name   string
		values map[string]any
	}{
		{name: "unknown field", values: map[string]any{"foo": 1}},
		{name: "fractional int", values: map[string]any{"fieldInt": 1.5}},
		{name: "int16 overflow", values: map[string]any{"fieldShort": 40000}},
		{name: "string for bool", values: map[string]any{"fieldBoolean": "yes"}},
		{name: "bad base64", values: map[string]any{"fieldBinary": "%%"}},
		{name: "bad timestamp", values: map[string]any{"fieldDate": "yesterday"}},
		{name: "null for non-nullable", values: map[string]any{"fieldString": nil}},
		{name: "missing link target", values: map[string]any{"fieldObject": 99}},
		{name: "reference to other table", values: map[string]any{
			"fieldObject": map[string]any{"table": "Dog", "row": dog.Row().Index()},
		}},
	}

	require.NoError(t, s.BeginWrite())
	defer s.Abort()
	obj := createObject(t, s, "AllTypes")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, obj.Assign(tt.values), ErrInvalidArgument)
		})
	}
}

func TestAssignNeedsWriteTransaction(t *testing.T) {
	s := openStore(t)
	obj := newObject(t, s, "Dog")

	err := obj.Assign(map[string]any{"name": "Rex"})
	assert.ErrorIs(t, err, ErrIllegalState)
}
