package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cell builds a [row, col] key under prefix, the shape the row store uses
func cell(prefix uint32, vals ...int64) []byte {
	parts := make([]Value, len(vals))
	for i, v := range vals {
		parts[i] = NewInt64Value(v)
	}
	return EncodeKey(prefix, parts)
}

func scanKeys(scan func([]byte, func(k, v []byte) bool), from []byte) [][]byte {
	var out [][]byte
	scan(from, func(k, _ []byte) bool {
		out = append(out, append([]byte(nil), k...))
		return true
	})
	return out
}

func TestKVScanFromKey(t *testing.T) {
	db := openTestKV(t, "scan.db")
	for i := 0; i < 30; i++ {
		require.NoError(t, db.Set([]byte(fmt.Sprintf("key%02d", i)), []byte(fmt.Sprintf("val%02d", i))))
	}

	var got []string
	db.Scan([]byte("key10"), func(key, val []byte) bool {
		if string(key) > "key20" {
			return false
		}
		assert.Equal(t, "val"+string(key[3:]), string(val))
		got = append(got, string(key))
		return true
	})
	require.Len(t, got, 11)
	assert.Equal(t, "key10", got[0])
	assert.Equal(t, "key20", got[10])

	// Start keys between stored keys land on the successor
	first := scanKeys(db.Scan, []byte("key105"))
	require.NotEmpty(t, first)
	assert.Equal(t, "key11", string(first[0]))
}

func TestKVScanEmpty(t *testing.T) {
	db := openTestKV(t, "scan_empty.db")
	assert.Empty(t, scanKeys(db.Scan, nil))
	assert.Empty(t, scanKeys(db.ScanPrefix, []byte("k")))
}

func TestKVScanPrefixRows(t *testing.T) {
	db := openTestKV(t, "scan_rows.db")

	const tableA, tableB = 1000, 1001
	tx := beginTx(t, db)
	for _, prefix := range []uint32{tableA, tableB} {
		for row := int64(0); row < 20; row++ {
			require.NoError(t, tx.Set(cell(prefix, row), nil))
			for col := int64(0); col < 3; col++ {
				require.NoError(t, tx.Set(cell(prefix, row, col), []byte{byte(col)}))
			}
		}
	}

	// A row marker is a byte prefix of the row's cells, never of other rows
	row7 := scanKeys(tx.ScanPrefix, cell(tableA, 7))
	require.Len(t, row7, 4)
	assert.Equal(t, cell(tableA, 7), row7[0])
	assert.Equal(t, cell(tableA, 7, 2), row7[3])
	require.NoError(t, tx.Commit())

	table := scanKeys(db.ScanPrefix, EncodeKey(tableB, nil))
	assert.Len(t, table, 80)
	for _, k := range table {
		assert.Equal(t, uint32(tableB), ExtractPrefix(k))
	}
}

func TestKVScanAfterDeletes(t *testing.T) {
	db := openTestKV(t, "scan_deletes.db")
	for i := 0; i < 200; i++ {
		require.NoError(t, db.Set(cell(1000, int64(i)), []byte("v")))
	}
	for i := 0; i < 200; i += 2 {
		deleted, err := db.Del(cell(1000, int64(i)))
		require.NoError(t, err)
		require.True(t, deleted)
	}

	keys := scanKeys(db.ScanPrefix, EncodeKey(1000, nil))
	require.Len(t, keys, 100)
	for i, k := range keys {
		vals, err := ExtractValues(k)
		require.NoError(t, err)
		assert.Equal(t, int64(2*i+1), vals[0].I64)
	}
}

func TestTxCursor(t *testing.T) {
	db := openTestKV(t, "cursor.db")
	tx := beginTx(t, db)
	defer tx.Abort()
	for _, k := range []string{"a1", "a2", "b1"} {
		txSet(t, tx, k, "v"+k)
	}

	cur := tx.Cursor()
	require.True(t, cur.Seek([]byte("a2")))
	assert.Equal(t, "a2", string(cur.Key()))
	assert.Equal(t, "va2", string(cur.Val()))
	require.True(t, cur.Next())
	assert.Equal(t, "b1", string(cur.Key()))
	assert.False(t, cur.Next())
}
