// ABOUTME: Encoded cells larger than one B+tree value span continuation keys
// ABOUTME: Chunk 0 lives at the cell key, chunk i at the cell key extended by i

package rowstore

import (
	"fmt"

	"github.com/nainya/rowstore/pkg/btree"
	"github.com/nainya/rowstore/pkg/storage"
)

// cellChunk is the payload of one chunk. Continuation keys exist only
// when chunk 0 is full.
const cellChunk = btree.BTREE_MAX_VAL_SIZE

// chunkKey addresses continuation chunk idx (idx >= 1) of a cell. The cell
// key is a byte prefix of it, so chunks sort right after their cell.
func chunkKey(t *table, row int64, col int, idx int) []byte {
	return storage.EncodeKey(t.prefix(), []storage.Value{
		storage.NewInt64Value(row),
		storage.NewInt64Value(int64(col)),
		storage.NewInt64Value(int64(idx)),
	})
}

// loadCell returns the encoded cell, joining its chunks
func (s *Store) loadCell(t *table, row int64, col int) ([]byte, bool) {
	key := cellKey(t, row, col)
	first, ok := s.kv.Get(key)
	if !ok || len(first) < cellChunk {
		return first, ok
	}

	data := append([]byte(nil), first...)
	s.kv.ScanPrefix(key, func(k, v []byte) bool {
		if len(k) > len(key) {
			data = append(data, v...)
		}
		return true
	})
	return data, true
}

// storeCell writes an encoded cell in the write transaction, replacing
// every chunk of the previous value
func (s *Store) storeCell(t *table, row int64, col int, data []byte) error {
	key := cellKey(t, row, col)
	if err := s.dropChunks(key); err != nil {
		return err
	}

	if err := s.tx.Set(key, data[:min(len(data), cellChunk)]); err != nil {
		return err
	}
	for idx, off := 1, cellChunk; off < len(data); idx, off = idx+1, off+cellChunk {
		chunk := data[off:min(len(data), off+cellChunk)]
		if err := s.tx.Set(chunkKey(t, row, col, idx), chunk); err != nil {
			return fmt.Errorf("chunk %d: %w", idx, err)
		}
	}
	return nil
}

// dropChunks deletes the continuation chunks of the cell at key
func (s *Store) dropChunks(key []byte) error {
	old, ok := s.tx.Get(key)
	if !ok || len(old) < cellChunk {
		return nil
	}

	var stale [][]byte
	s.tx.ScanPrefix(key, func(k, _ []byte) bool {
		if len(k) > len(key) {
			stale = append(stale, append([]byte(nil), k...))
		}
		return true
	})
	for _, k := range stale {
		if _, err := s.tx.Del(k); err != nil {
			return err
		}
	}
	return nil
}
