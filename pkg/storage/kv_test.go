// ABOUTME: Integration tests for the disk-based KV store
// ABOUTME: Persistence across reopen, auto-commit writes, size limits and file signature

package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/rowstore/pkg/btree"
)

func TestKVSetGetDelete(t *testing.T) {
	db := openTestKV(t, "kv.db")

	_, ok := db.Get([]byte("missing"))
	assert.False(t, ok)

	require.NoError(t, db.Set([]byte("key1"), []byte("value1")))
	require.NoError(t, db.Set([]byte("key2"), []byte("value2")))
	require.NoError(t, db.Set([]byte("key1"), []byte("value1_updated")))

	val, ok := db.Get([]byte("key1"))
	require.True(t, ok)
	assert.Equal(t, "value1_updated", string(val))

	deleted, err := db.Del([]byte("key1"))
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = db.Del([]byte("key1"))
	require.NoError(t, err)
	assert.False(t, deleted)

	_, ok = db.Get([]byte("key1"))
	assert.False(t, ok)
	val, ok = db.Get([]byte("key2"))
	require.True(t, ok)
	assert.Equal(t, "value2", string(val))

	// Three committed writes and one committed delete
	assert.Equal(t, uint64(4), db.Version())
}

func TestKVRejectsOversizedEntries(t *testing.T) {
	db := openTestKV(t, "limits.db")

	err := db.Set(make([]byte, btree.BTREE_MAX_KEY_SIZE+1), nil)
	assert.ErrorIs(t, err, btree.ErrKeyTooLarge)

	err = db.Set([]byte("k"), make([]byte, btree.BTREE_MAX_VAL_SIZE+1))
	assert.ErrorIs(t, err, btree.ErrValueTooLarge)

	assert.ErrorIs(t, db.Set(nil, []byte("v")), btree.ErrEmptyKey)

	require.NoError(t, db.Set([]byte("k"), make([]byte, btree.BTREE_MAX_VAL_SIZE)))
	assert.Equal(t, uint64(1), db.Version())
}

func TestKVPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")

	db := &KV{Path: path}
	require.NoError(t, db.Open())
	for row := int64(0); row < 300; row++ {
		require.NoError(t, db.Set(cell(1000, row, 0), []byte(fmt.Sprintf("value%05d_with_some_extra_data", row))))
	}
	version := db.Version()
	require.NoError(t, db.Close())

	db = &KV{Path: path}
	require.NoError(t, db.Open())
	defer db.Close()
	assert.Equal(t, version, db.Version())

	for row := int64(300); row < 400; row++ {
		require.NoError(t, db.Set(cell(1000, row, 0), []byte(fmt.Sprintf("value%05d_with_some_extra_data", row))))
	}
	for row := int64(0); row < 400; row++ {
		val, ok := db.Get(cell(1000, row, 0))
		require.True(t, ok, "row %d", row)
		assert.Equal(t, fmt.Sprintf("value%05d_with_some_extra_data", row), string(val))
	}
}

func TestKVRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foreign.db")
	junk := make([]byte, BTREE_PAGE_SIZE)
	copy(junk, "NotARowStore")
	require.NoError(t, os.WriteFile(path, junk, 0o644))

	db := &KV{Path: path}
	err := db.Open()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature")
	assert.False(t, db.IsOpen())
}
