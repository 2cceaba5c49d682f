// ABOUTME: Page management and durable commits for the KV store
// ABOUTME: Pages are appended or rewritten in memory, then written, fsynced and published by the meta page

package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

const (
	DB_SIG         = "RowStore01\x00\x00\x00\x00\x00\x00" // 16 bytes
	META_PAGE_SIZE = 80                                   // signature, root, flushed, free list (40), version

	mmapInitial = 64 << 20
)

// Meta page offsets
const (
	metaRoot    = 16
	metaFlushed = 24
	metaFree    = 32
	metaVersion = metaFree + freeListMetaSize
)

func (db *KV) openFile() error {
	fd, err := createFileSync(db.Path)
	if err != nil {
		return err
	}
	db.fd = fd

	var stat syscall.Stat_t
	if err := syscall.Fstat(fd, &stat); err != nil {
		_ = syscall.Close(fd)
		return fmt.Errorf("fstat: %w", err)
	}

	if stat.Size == 0 {
		// Page 0 is reserved for the meta page
		db.page.flushed = 1
		return nil
	}

	if err := db.extendMmap(max(int(stat.Size), mmapInitial)); err != nil {
		_ = syscall.Close(fd)
		return err
	}
	if err := db.readMeta(); err != nil {
		_ = db.closeFile()
		return err
	}
	return nil
}

func (db *KV) closeFile() error {
	for _, chunk := range db.mmap.chunks {
		if err := syscall.Munmap(chunk); err != nil {
			return err
		}
	}
	db.mmap.chunks = nil
	db.mmap.total = 0
	return syscall.Close(db.fd)
}

// pageRead returns the current content of page ptr
func (db *KV) pageRead(ptr uint64) []byte {
	if page, ok := db.page.updates[ptr]; ok {
		return page
	}
	if ptr >= db.page.flushed {
		if idx := ptr - db.page.flushed; idx < uint64(len(db.page.temp)) {
			return db.page.temp[idx]
		}
	}

	start := uint64(0)
	for _, chunk := range db.mmap.chunks {
		end := start + uint64(len(chunk))/BTREE_PAGE_SIZE
		if ptr < end {
			offset := BTREE_PAGE_SIZE * (ptr - start)
			return chunk[offset : offset+BTREE_PAGE_SIZE]
		}
		start = end
	}
	panic(fmt.Sprintf("bad page pointer: %d (flushed: %d, temp: %d)", ptr, db.page.flushed, len(db.page.temp)))
}

// pageAlloc stores a tree page, reusing a released page when one is available
func (db *KV) pageAlloc(node []byte) uint64 {
	checkPageSize(node)
	if ptr := db.free.PopHead(); ptr != 0 {
		db.page.updates[ptr] = node
		return ptr
	}
	return db.pageAppend(node)
}

// pageAppend stores a page past the end of the file
func (db *KV) pageAppend(node []byte) uint64 {
	checkPageSize(node)
	ptr := db.page.flushed + uint64(len(db.page.temp))
	db.page.temp = append(db.page.temp, node)
	return ptr
}

// pageWrite replaces the content of page ptr
func (db *KV) pageWrite(ptr uint64, node []byte) {
	checkPageSize(node)
	// Unflushed pages are written from temp, which would overwrite updates
	if ptr >= db.page.flushed {
		if idx := ptr - db.page.flushed; idx < uint64(len(db.page.temp)) {
			db.page.temp[idx] = node
			return
		}
	}
	db.page.updates[ptr] = node
}

// pageFree releases a tree page. Pages appended by the running commit were
// never visible on disk and are simply dropped with it.
func (db *KV) pageFree(ptr uint64) {
	if ptr < db.page.flushed {
		db.free.PushTail(ptr)
	}
}

func checkPageSize(node []byte) {
	if len(node) != BTREE_PAGE_SIZE {
		panic(fmt.Sprintf("page size mismatch: %d", len(node)))
	}
}

// saveMeta snapshots the in-memory state as a meta page
func (db *KV) saveMeta() []byte {
	data := make([]byte, META_PAGE_SIZE)
	copy(data, DB_SIG)
	binary.LittleEndian.PutUint64(data[metaRoot:], db.tree.GetRoot())
	binary.LittleEndian.PutUint64(data[metaFlushed:], db.page.flushed)
	copy(data[metaFree:], db.free.Serialize())
	binary.LittleEndian.PutUint64(data[metaVersion:], db.version)
	return data
}

// loadMeta restores the in-memory state from a meta page
func (db *KV) loadMeta(data []byte) {
	db.tree.SetRoot(binary.LittleEndian.Uint64(data[metaRoot:]))
	db.page.flushed = binary.LittleEndian.Uint64(data[metaFlushed:])
	db.free.Deserialize(data[metaFree:metaVersion])
	db.version = binary.LittleEndian.Uint64(data[metaVersion:])
}

func (db *KV) readMeta() error {
	data := db.mmap.chunks[0][:META_PAGE_SIZE]
	if sig := string(data[:len(DB_SIG)]); sig != DB_SIG {
		return fmt.Errorf("invalid database signature: %q", sig)
	}
	db.loadMeta(data)
	return nil
}

// commit makes the pending pages durable. On failure the in-memory state
// returns to meta, the state of the last commit.
func (db *KV) commit(meta []byte) error {
	if db.failed {
		// The meta page on disk may be half written; restore the last good one
		if err := db.writeMeta(meta); err != nil {
			return err
		}
		if err := syscall.Fsync(db.fd); err != nil {
			return err
		}
		db.failed = false
	}

	prevMaxSeq := db.free.maxSeq
	db.version++

	if err := db.writeAll(); err != nil {
		db.rollback(meta)
		db.free.maxSeq = prevMaxSeq
		db.failed = true
		return err
	}

	// Pages released by this commit are no longer referenced on disk
	db.free.SetMaxSeq()
	return nil
}

// rollback discards pending pages and restores the state saved in meta
func (db *KV) rollback(meta []byte) {
	db.loadMeta(meta)
	db.page.temp = db.page.temp[:0]
	db.page.updates = make(map[uint64][]byte)
}

// writeAll writes pages, fsyncs, then publishes them with the meta page
func (db *KV) writeAll() error {
	if err := db.writePages(); err != nil {
		return err
	}
	if err := syscall.Fsync(db.fd); err != nil {
		return err
	}
	if err := db.writeMeta(db.saveMeta()); err != nil {
		return err
	}
	return syscall.Fsync(db.fd)
}

func (db *KV) writePages() error {
	for ptr, page := range db.page.updates {
		if _, err := syscall.Pwrite(db.fd, page, int64(ptr*BTREE_PAGE_SIZE)); err != nil {
			return err
		}
	}
	db.page.updates = make(map[uint64][]byte)

	if len(db.page.temp) == 0 {
		return nil
	}

	end := db.page.flushed + uint64(len(db.page.temp))
	if err := db.extendMmap(int(end) * BTREE_PAGE_SIZE); err != nil {
		return err
	}
	offset := int64(db.page.flushed * BTREE_PAGE_SIZE)
	for _, page := range db.page.temp {
		if _, err := syscall.Pwrite(db.fd, page, offset); err != nil {
			return err
		}
		offset += BTREE_PAGE_SIZE
	}

	db.page.flushed = end
	db.page.temp = db.page.temp[:0]
	return nil
}

func (db *KV) writeMeta(data []byte) error {
	if _, err := syscall.Pwrite(db.fd, data, 0); err != nil {
		return fmt.Errorf("write meta page: %w", err)
	}
	return nil
}

// extendMmap maps at least size bytes, adding a chunk at least as large
// as everything mapped so far. Existing mappings never move.
func (db *KV) extendMmap(size int) error {
	if size <= db.mmap.total {
		return nil
	}

	alloc := max(db.mmap.total, mmapInitial)
	for db.mmap.total+alloc < size {
		alloc *= 2
	}

	chunk, err := syscall.Mmap(db.fd, int64(db.mmap.total), alloc, syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap: %w", err)
	}
	db.mmap.total += alloc
	db.mmap.chunks = append(db.mmap.chunks, chunk)
	return nil
}

// createFileSync opens or creates file and fsyncs its directory so the
// entry itself is durable
func createFileSync(file string) (int, error) {
	fd, err := syscall.Open(file, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return -1, fmt.Errorf("open file: %w", err)
	}

	dirfd, err := syscall.Open(filepath.Dir(file), os.O_RDONLY, 0)
	if err != nil {
		_ = syscall.Close(fd)
		return -1, fmt.Errorf("open directory: %w", err)
	}
	defer syscall.Close(dirfd)

	if err := syscall.Fsync(dirfd); err != nil {
		_ = syscall.Close(fd)
		return -1, fmt.Errorf("fsync directory: %w", err)
	}
	return fd, nil
}
