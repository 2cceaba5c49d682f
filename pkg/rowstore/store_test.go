package rowstore

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nainya/rowstore/internal/metrics"
	"github.com/nainya/rowstore/pkg/schema"
	"github.com/nainya/rowstore/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Column indexes of the AllTypes test entity
const (
	colString = iota
	colShort
	colInt
	colLong
	colFloat
	colDouble
	colBoolean
	colDate
	colBinary
	colObject
	colList
	colNullString
	colNullInt
	colNullBinary
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	all := schema.MustNew("AllTypes",
		schema.FieldSchema{Name: "fieldString", Type: schema.TypeString},
		schema.FieldSchema{Name: "fieldShort", Type: schema.TypeInt16},
		schema.FieldSchema{Name: "fieldInt", Type: schema.TypeInt32},
		schema.FieldSchema{Name: "fieldLong", Type: schema.TypeInt64},
		schema.FieldSchema{Name: "fieldFloat", Type: schema.TypeFloat32},
		schema.FieldSchema{Name: "fieldDouble", Type: schema.TypeFloat64},
		schema.FieldSchema{Name: "fieldBoolean", Type: schema.TypeBool},
		schema.FieldSchema{Name: "fieldDate", Type: schema.TypeTimestamp},
		schema.FieldSchema{Name: "fieldBinary", Type: schema.TypeBinary},
		schema.FieldSchema{Name: "fieldObject", Type: schema.TypeLink, Target: "AllTypes"},
		schema.FieldSchema{Name: "fieldList", Type: schema.TypeLinkList, Target: "AllTypes"},
		schema.FieldSchema{Name: "fieldNullString", Type: schema.TypeString, Nullable: true},
		schema.FieldSchema{Name: "fieldNullInt", Type: schema.TypeInt32, Nullable: true},
		schema.FieldSchema{Name: "fieldNullBinary", Type: schema.TypeBinary, Nullable: true},
	)
	dog := schema.MustNew("Dog",
		schema.FieldSchema{Name: "name", Type: schema.TypeString},
	)
	reg, err := schema.NewRegistry(all, dog)
	require.NoError(t, err)
	return reg
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{
		Path:    filepath.Join(t.TempDir(), "rows.db"),
		Schemas: testRegistry(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createRow(t *testing.T, s *Store, table string) RowHandle {
	t.Helper()
	var h RowHandle
	require.NoError(t, s.Write(func() error {
		var err error
		h, err = s.CreateRow(table)
		return err
	}))
	return h
}

func TestOpenBootstrapsCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.db")

	s, err := Open(Options{Path: path, Schemas: testRegistry(t)})
	require.NoError(t, err)
	id := s.ID()
	assert.NotEmpty(t, id)
	assert.Equal(t, []string{"AllTypes", "Dog"}, s.Tables())
	assert.Equal(t, uint64(1), s.Version())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "second close is a no-op")

	// Reopening with the same schemas changes nothing
	s, err = Open(Options{Path: path, Schemas: testRegistry(t)})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, id, s.ID())
	assert.Equal(t, uint64(1), s.Version())
}

func TestOpenRejectsChangedSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.db")
	s, err := Open(Options{Path: path, Schemas: testRegistry(t)})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	dog := schema.MustNew("Dog", schema.FieldSchema{Name: "name", Type: schema.TypeInt64})
	reg, err := schema.NewRegistry(dog)
	require.NoError(t, err)

	_, err = Open(Options{Path: path, Schemas: reg})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestOpenValidatesOptions(t *testing.T) {
	_, err := Open(Options{Schemas: testRegistry(t)})
	assert.Error(t, err)

	_, err = Open(Options{Path: filepath.Join(t.TempDir(), "x.db")})
	assert.ErrorIs(t, err, schema.ErrInvalidSchema)

	broken, err := schema.NewRegistry(schema.MustNew("A",
		schema.FieldSchema{Name: "b", Type: schema.TypeLink, Target: "Missing"}))
	require.NoError(t, err)
	_, err = Open(Options{Path: filepath.Join(t.TempDir(), "x.db"), Schemas: broken})
	assert.ErrorIs(t, err, schema.ErrInvalidSchema)
}

func TestCreateRowDefaults(t *testing.T) {
	s := openTestStore(t)
	h := createRow(t, s, "AllTypes")

	tests := []struct {
		col  int
		ft   schema.FieldType
		want any
	}{
		{colString, schema.TypeString, ""},
		{colShort, schema.TypeInt16, int16(0)},
		{colInt, schema.TypeInt32, int32(0)},
		{colLong, schema.TypeInt64, int64(0)},
		{colFloat, schema.TypeFloat32, float32(0)},
		{colDouble, schema.TypeFloat64, float64(0)},
		{colBoolean, schema.TypeBool, false},
		{colDate, schema.TypeTimestamp, time.Unix(0, 0).UTC()},
		{colBinary, schema.TypeBinary, []byte{}},
		{colObject, schema.TypeLink, nil},
		{colNullString, schema.TypeString, nil},
		{colNullInt, schema.TypeInt32, nil},
		{colNullBinary, schema.TypeBinary, nil},
	}

	for _, tt := range tests {
		got, err := s.ReadColumn(h, tt.col, tt.ft)
		require.NoError(t, err, "column %d", tt.col)
		assert.Equal(t, tt.want, got, "column %d", tt.col)
	}

	list, err := s.ResolveLinkList(h, colList)
	require.NoError(t, err)
	size, err := list.Size()
	require.NoError(t, err)
	assert.Zero(t, size)
	assert.Equal(t, "AllTypes", list.TargetTable())
}

func TestWriteAndReadColumns(t *testing.T) {
	s := openTestStore(t)
	h := createRow(t, s, "AllTypes")
	date := time.Date(2024, 3, 1, 12, 30, 0, 500, time.UTC)

	tests := []struct {
		col int
		ft  schema.FieldType
		val any
	}{
		{colString, schema.TypeString, "str"},
		{colShort, schema.TypeInt16, int16(-2)},
		{colInt, schema.TypeInt32, int32(1 << 20)},
		{colLong, schema.TypeInt64, int64(-1 << 40)},
		{colFloat, schema.TypeFloat32, float32(1.5)},
		{colDouble, schema.TypeFloat64, 3.25},
		{colBoolean, schema.TypeBool, true},
		{colDate, schema.TypeTimestamp, date},
		{colBinary, schema.TypeBinary, []byte{1, 2, 3}},
		{colObject, schema.TypeLink, h},
		{colNullString, schema.TypeString, "set"},
		{colNullInt, schema.TypeInt32, int32(7)},
		{colNullBinary, schema.TypeBinary, []byte{9}},
	}

	require.NoError(t, s.Write(func() error {
		for _, tt := range tests {
			if err := s.WriteColumn(h, tt.col, tt.ft, tt.val); err != nil {
				return err
			}
		}
		return nil
	}))

	for _, tt := range tests {
		got, err := s.ReadColumn(h, tt.col, tt.ft)
		require.NoError(t, err)
		if tt.ft == schema.TypeLink {
			link, ok := got.(RowHandle)
			require.True(t, ok)
			assert.True(t, link.Equal(h))
			continue
		}
		assert.Equal(t, tt.val, got, "column %d", tt.col)
	}
}

func TestWriteColumnErrors(t *testing.T) {
	s := openTestStore(t)
	h := createRow(t, s, "AllTypes")
	dog := createRow(t, s, "Dog")

	err := s.WriteColumn(h, colString, schema.TypeString, "x")
	assert.ErrorIs(t, err, ErrNotInWriteTransaction)

	require.NoError(t, s.BeginWrite())
	defer s.Abort()

	assert.ErrorIs(t, s.BeginWrite(), ErrWriteInProgress)

	tests := []struct {
		name string
		col  int
		ft   schema.FieldType
		val  any
		want error
	}{
		{"declared type differs", colString, schema.TypeInt64, int64(1), ErrTypeMismatch},
		{"go type differs", colInt, schema.TypeInt32, 5, ErrTypeMismatch},
		{"null into required column", colString, schema.TypeString, nil, ErrTypeMismatch},
		{"column out of range", 99, schema.TypeString, "x", ErrColumnOutOfRange},
		{"link to other table", colObject, schema.TypeLink, dog, ErrForeignRow},
		{"list with other table", colList, schema.TypeLinkList, []RowHandle{dog}, ErrForeignRow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.WriteColumn(h, tt.col, tt.ft, tt.val)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	// Null is fine for nullable columns and links
	assert.NoError(t, s.WriteColumn(h, colNullString, schema.TypeString, nil))
	assert.NoError(t, s.WriteColumn(h, colObject, schema.TypeLink, nil))
	assert.NoError(t, s.WriteColumn(h, colNullBinary, schema.TypeBinary, []byte(nil)))
}

func TestReadColumnTypeMismatch(t *testing.T) {
	s := openTestStore(t)
	h := createRow(t, s, "AllTypes")

	_, err := s.ReadColumn(h, colString, schema.TypeBool)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = s.ResolveLinkList(h, colObject)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestAbortDiscardsRows(t *testing.T) {
	s := openTestStore(t)
	version := s.Version()

	require.NoError(t, s.BeginWrite())
	h, err := s.CreateRow("Dog")
	require.NoError(t, err)
	assert.True(t, s.IsRowValid(h))
	require.NoError(t, s.Abort())

	assert.Equal(t, version, s.Version())
	assert.False(t, s.IsRowValid(h))
	_, err = s.OpenRow("Dog", h.Index())
	assert.ErrorIs(t, err, ErrRowNotFound)

	// The rolled back index is not handed out again
	next := createRow(t, s, "Dog")
	assert.NotEqual(t, h.Index(), next.Index())
	assert.False(t, s.IsRowValid(h))

	assert.ErrorIs(t, s.Abort(), ErrNotInWriteTransaction)
	assert.ErrorIs(t, s.Commit(), ErrNotInWriteTransaction)
}

func TestWriteRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	boom := errors.New("boom")

	err := s.Write(func() error {
		if _, err := s.CreateRow("Dog"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, s.IsInWriteTransaction())

	n, err := s.Count("Dog")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteRow(t *testing.T) {
	s := openTestStore(t)
	a := createRow(t, s, "AllTypes")
	b := createRow(t, s, "AllTypes")

	require.NoError(t, s.Write(func() error {
		if err := s.WriteColumn(a, colObject, schema.TypeLink, b); err != nil {
			return err
		}
		return s.WriteColumn(a, colList, schema.TypeLinkList, []RowHandle{b, a, b})
	}))

	require.NoError(t, s.Write(func() error { return s.DeleteRow(b) }))

	assert.False(t, s.IsRowValid(b))
	_, err := s.ReadColumn(b, colString, schema.TypeString)
	assert.ErrorIs(t, err, ErrStaleRow)

	link, err := s.ReadColumn(a, colObject, schema.TypeLink)
	require.NoError(t, err)
	assert.Nil(t, link, "link to a deleted row reads as null")

	list, err := s.ResolveLinkList(a, colList)
	require.NoError(t, err)
	rows, err := list.All()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Equal(a))

	n, err := s.Count("AllTypes")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = s.Write(func() error { return s.DeleteRow(b) })
	assert.ErrorIs(t, err, ErrStaleRow)
}

func TestRowsAndFindFirst(t *testing.T) {
	s := openTestStore(t)

	_, found, err := s.FindFirst("Dog")
	require.NoError(t, err)
	assert.False(t, found)

	var created []RowHandle
	require.NoError(t, s.Write(func() error {
		for i := 0; i < 3; i++ {
			h, err := s.CreateRow("Dog")
			if err != nil {
				return err
			}
			created = append(created, h)
		}
		return nil
	}))
	createRow(t, s, "AllTypes")

	rows, err := s.Rows("Dog")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i := range rows {
		assert.True(t, rows[i].Equal(created[i]))
	}

	first, found, err := s.FindFirst("Dog")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, first.Equal(created[0]))

	_, err = s.Rows("Cat")
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestCloseMakesHandlesStale(t *testing.T) {
	s := openTestStore(t)
	h := createRow(t, s, "Dog")
	require.NoError(t, s.BeginWrite())

	require.NoError(t, s.Close())
	assert.True(t, s.IsClosed())
	assert.False(t, s.IsInWriteTransaction())
	assert.False(t, s.IsRowValid(h))

	_, err := s.ReadColumn(h, 0, schema.TypeString)
	assert.ErrorIs(t, err, ErrStaleRow)
	assert.ErrorIs(t, s.BeginWrite(), ErrClosed)
	_, err = s.OpenRow("Dog", h.Index())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRowHandleIdentity(t *testing.T) {
	s := openTestStore(t)
	a := createRow(t, s, "Dog")
	b := createRow(t, s, "Dog")

	again, err := s.OpenRow("Dog", a.Index())
	require.NoError(t, err)

	assert.NotEqual(t, a.Snapshot(), again.Snapshot())
	assert.True(t, a.Equal(again))
	assert.Equal(t, a.Hash(), again.Hash())
	assert.Equal(t, a.Key(), again.Key())
	assert.False(t, a.Equal(b))
	assert.NotEqual(t, a.Hash(), b.Hash())
	assert.Equal(t, s.ID(), a.StoreID())

	seen := map[RowKey]bool{a.Key(): true}
	assert.True(t, seen[again.Key()])

	var zero RowHandle
	assert.True(t, zero.IsZero())
	assert.False(t, s.IsRowValid(zero))
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.db")
	s, err := Open(Options{Path: path, Schemas: testRegistry(t)})
	require.NoError(t, err)

	var index int64
	require.NoError(t, s.Write(func() error {
		h, err := s.CreateRow("AllTypes")
		if err != nil {
			return err
		}
		index = h.Index()
		if err := s.WriteColumn(h, colString, schema.TypeString, "kept"); err != nil {
			return err
		}
		return s.WriteColumn(h, colList, schema.TypeLinkList, []RowHandle{h})
	}))
	require.NoError(t, s.Close())

	s, err = Open(Options{Path: path, Schemas: testRegistry(t)})
	require.NoError(t, err)
	defer s.Close()

	h, err := s.OpenRow("AllTypes", index)
	require.NoError(t, err)
	got, err := s.ReadColumn(h, colString, schema.TypeString)
	require.NoError(t, err)
	assert.Equal(t, "kept", got)

	list, err := s.ResolveLinkList(h, colList)
	require.NoError(t, err)
	first, err := list.Get(0)
	require.NoError(t, err)
	assert.True(t, first.Equal(h))

	// New rows continue after persisted ones
	next := createRow(t, s, "AllTypes")
	assert.Greater(t, next.Index(), index)
}

// continuationChunks counts the chunk keys stored after one cell
func continuationChunks(s *Store, h RowHandle, col int) int {
	key := cellKey(s.tables[h.Table()], h.Index(), col)
	n := 0
	s.kv.ScanPrefix(key, func(k, _ []byte) bool {
		if len(k) > len(key) {
			n++
		}
		return true
	})
	return n
}

func TestLargeCellsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.db")
	s, err := Open(Options{Path: path, Schemas: testRegistry(t)})
	require.NoError(t, err)

	big := strings.Repeat("x", 64<<10)
	blob := make([]byte, 10000)
	for i := range blob {
		blob[i] = byte(i)
	}

	var h RowHandle
	require.NoError(t, s.Write(func() error {
		var err error
		if h, err = s.CreateRow("AllTypes"); err != nil {
			return err
		}
		if err := s.WriteColumn(h, colString, schema.TypeString, big); err != nil {
			return err
		}
		return s.WriteColumn(h, colBinary, schema.TypeBinary, blob)
	}))

	// One tag byte plus the payload, cellChunk bytes per key
	assert.Equal(t, len(big)/cellChunk, continuationChunks(s, h, colString))
	assert.Equal(t, len(blob)/cellChunk, continuationChunks(s, h, colBinary))

	require.NoError(t, s.Close())
	s, err = Open(Options{Path: path, Schemas: testRegistry(t)})
	require.NoError(t, err)
	defer s.Close()

	h, err = s.OpenRow("AllTypes", h.Index())
	require.NoError(t, err)
	got, err := s.ReadColumn(h, colString, schema.TypeString)
	require.NoError(t, err)
	assert.Equal(t, big, got)
	gotBlob, err := s.ReadColumn(h, colBinary, schema.TypeBinary)
	require.NoError(t, err)
	assert.Equal(t, blob, gotBlob)

	tests := []struct {
		name   string
		val    string
		chunks int
	}{
		{"shrinks to one key", "small", 0},
		{"exactly one full chunk", strings.Repeat("y", cellChunk-1), 0},
		{"one byte past a chunk", strings.Repeat("z", cellChunk), 1},
		{"grows again", big, len(big) / cellChunk},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, s.Write(func() error {
				return s.WriteColumn(h, colString, schema.TypeString, tt.val)
			}))
			got, err := s.ReadColumn(h, colString, schema.TypeString)
			require.NoError(t, err)
			assert.Equal(t, tt.val, got)
			assert.Equal(t, tt.chunks, continuationChunks(s, h, colString))
		})
	}

	// Deleting the row removes every chunk with it
	require.NoError(t, s.Write(func() error { return s.DeleteRow(h) }))
	left := 0
	s.kv.ScanPrefix(rowKey(s.tables["AllTypes"], h.Index()), func(_, _ []byte) bool {
		left++
		return true
	})
	assert.Zero(t, left)
}

func TestStoreMetrics(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	s, err := Open(Options{
		Path:    filepath.Join(t.TempDir(), "rows.db"),
		Schemas: testRegistry(t),
		Metrics: m,
	})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.TablesTotal))

	h := createRow(t, s, "Dog")
	require.NoError(t, s.Write(func() error {
		return s.WriteColumn(h, 0, schema.TypeString, "rex")
	}))
	_, err = s.ReadColumn(h, 0, schema.TypeString)
	require.NoError(t, err)
	require.NoError(t, s.BeginWrite())
	require.NoError(t, s.Abort())

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RowsCreatedTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.TxTotal.WithLabelValues("commit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TxTotal.WithLabelValues("abort")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ColumnWritesTotal.WithLabelValues("string")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ColumnReadsTotal.WithLabelValues("string")))
}

func TestCreateTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.db")
	s, err := Open(Options{Path: path, Schemas: testRegistry(t)})
	require.NoError(t, err)

	cat := schema.MustNew("Cat",
		schema.FieldSchema{Name: "name", Type: schema.TypeString},
		schema.FieldSchema{Name: "owner", Type: schema.TypeLink, Target: "AllTypes"},
	)
	require.NoError(t, s.CreateTable(cat))
	assert.Equal(t, []string{"AllTypes", "Dog", "Cat"}, s.Tables())
	assert.ErrorIs(t, s.CreateTable(cat), schema.ErrInvalidSchema)

	orphan := schema.MustNew("Orphan",
		schema.FieldSchema{Name: "parent", Type: schema.TypeLink, Target: "Missing"})
	assert.ErrorIs(t, s.CreateTable(orphan), schema.ErrInvalidSchema)

	h := createRow(t, s, "Cat")

	require.NoError(t, s.BeginWrite())
	assert.ErrorIs(t, s.CreateTable(schema.MustNew("Bird")), ErrWriteInProgress)
	require.NoError(t, s.Abort())
	require.NoError(t, s.Close())

	// The table survives reopening once it is registered again
	reg := testRegistry(t)
	require.NoError(t, reg.Register(cat))
	s, err = Open(Options{Path: path, Schemas: reg})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.OpenRow("Cat", h.Index())
	assert.NoError(t, err)
}

func TestCreateTableChecksRegistryFirst(t *testing.T) {
	reg := testRegistry(t)
	s, err := Open(Options{Path: filepath.Join(t.TempDir(), "rows.db"), Schemas: reg})
	require.NoError(t, err)
	defer s.Close()

	registered := schema.MustNew("Cat", schema.FieldSchema{Name: "name", Type: schema.TypeString})
	require.NoError(t, reg.Register(registered))

	other := schema.MustNew("Cat", schema.FieldSchema{Name: "lives", Type: schema.TypeInt32})
	assert.ErrorIs(t, s.CreateTable(other), schema.ErrInvalidSchema)

	_, persisted, err := s.readCatalog("Cat")
	require.NoError(t, err)
	assert.False(t, persisted, "a rejected table leaves no catalog entry")
	_, err = s.OpenRow("Cat", 0)
	assert.ErrorIs(t, err, ErrTableNotFound)

	// The schema registered under the name is adopted as is
	require.NoError(t, s.CreateTable(registered))
	h := createRow(t, s, "Cat")
	assert.True(t, s.IsRowValid(h))
	assert.Equal(t, []string{"AllTypes", "Dog", "Cat"}, s.Tables())
}

func TestRowScansReportBadKeys(t *testing.T) {
	s := openTestStore(t)

	// A key under the table prefix whose values cannot be decoded
	bad := append(storage.EncodeKey(s.tables["Dog"].prefix(), nil), 0x7F)
	require.NoError(t, s.kv.Set(bad, []byte{}))

	_, err := s.Rows("Dog")
	assert.ErrorIs(t, err, storage.ErrBadCell)
	_, err = s.Count("Dog")
	assert.ErrorIs(t, err, storage.ErrBadCell)
	_, found, err := s.FindFirst("Dog")
	assert.ErrorIs(t, err, storage.ErrBadCell)
	assert.False(t, found)

	// Other tables are unaffected
	n, err := s.Count("AllTypes")
	require.NoError(t, err)
	assert.Zero(t, n)
}
