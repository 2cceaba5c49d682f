// ABOUTME: Page layout of B+Tree nodes
// ABOUTME: Header, child pointers, offset table and packed key/value cells in one byte slice

package btree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// Node kinds
const (
	BNODE_NODE = 1 // internal: keys and child pointers
	BNODE_LEAF = 2 // leaf: keys and values
)

// Page geometry. A single cell of maximum size must fit in one page next
// to the header, one pointer and one offset.
const (
	HEADER             = 4
	BTREE_PAGE_SIZE    = 4096
	BTREE_MAX_KEY_SIZE = 1000
	BTREE_MAX_VAL_SIZE = 3000

	ptrSize    = 8
	offsetSize = 2
	cellHeader = 4 // key length, value length
)

// BNode is one page:
//
//	| type | nkeys | pointers    | offsets     | cells ...
//	| 2B   | 2B    | nkeys * 8B  | nkeys * 2B  | klen 2B, vlen 2B, key, val
type BNode []byte

func (node BNode) btype() uint16 {
	return binary.LittleEndian.Uint16(node[0:2])
}

func (node BNode) nkeys() uint16 {
	return binary.LittleEndian.Uint16(node[2:4])
}

func (node BNode) setHeader(btype uint16, nkeys uint16) {
	binary.LittleEndian.PutUint16(node[0:2], btype)
	binary.LittleEndian.PutUint16(node[2:4], nkeys)
}

// checkIndex panics when idx is outside [0, limit)
func (node BNode) checkIndex(idx, limit uint16) {
	if idx >= limit {
		panic(fmt.Sprintf("btree: index %d out of range [0, %d)", idx, limit))
	}
}

func (node BNode) ptrPos(idx uint16) uint16 {
	node.checkIndex(idx, node.nkeys())
	return HEADER + ptrSize*idx
}

func (node BNode) getPtr(idx uint16) uint64 {
	return binary.LittleEndian.Uint64(node[node.ptrPos(idx):])
}

func (node BNode) setPtr(idx uint16, val uint64) {
	binary.LittleEndian.PutUint64(node[node.ptrPos(idx):], val)
}

// Offsets are stored for cells 1..nkeys; cell 0 always starts at offset 0
func offsetPos(node BNode, idx uint16) uint16 {
	if idx == 0 {
		panic("btree: offset 0 is implicit")
	}
	node.checkIndex(idx-1, node.nkeys())
	return HEADER + ptrSize*node.nkeys() + offsetSize*(idx-1)
}

func (node BNode) getOffset(idx uint16) uint16 {
	if idx == 0 {
		return 0
	}
	return binary.LittleEndian.Uint16(node[offsetPos(node, idx):])
}

func (node BNode) setOffset(idx uint16, offset uint16) {
	binary.LittleEndian.PutUint16(node[offsetPos(node, idx):], offset)
}

// cellsStart is where the first cell begins
func (node BNode) cellsStart() uint16 {
	return HEADER + (ptrSize+offsetSize)*node.nkeys()
}

// kvPos returns the start of cell idx; idx == nkeys is the end of the last cell
func (node BNode) kvPos(idx uint16) uint16 {
	node.checkIndex(idx, node.nkeys()+1)
	return node.cellsStart() + node.getOffset(idx)
}

// cell returns the key and value lengths and the start of cell idx
func (node BNode) cell(idx uint16) (pos, klen, vlen uint16) {
	node.checkIndex(idx, node.nkeys())
	pos = node.kvPos(idx)
	klen = binary.LittleEndian.Uint16(node[pos:])
	vlen = binary.LittleEndian.Uint16(node[pos+2:])
	return pos, klen, vlen
}

func (node BNode) getKey(idx uint16) []byte {
	pos, klen, _ := node.cell(idx)
	start := pos + cellHeader
	return node[start : start+klen]
}

func (node BNode) getVal(idx uint16) []byte {
	pos, klen, vlen := node.cell(idx)
	start := pos + cellHeader + klen
	return node[start : start+vlen]
}

// nbytes returns the used size of the node
func (node BNode) nbytes() uint16 {
	return node.kvPos(node.nkeys())
}

// nodeLookupLE returns the index of the last key <= key. Key 0 is the
// sentinel or a copy of the parent's key, so it never compares greater.
func nodeLookupLE(node BNode, key []byte) uint16 {
	n := int(node.nkeys()) - 1
	i := sort.Search(n, func(j int) bool {
		return bytes.Compare(node.getKey(uint16(j+1)), key) > 0
	})
	return uint16(i)
}

// nodeAppendRange copies n cells of old starting at srcOld into new at dstNew
func nodeAppendRange(new BNode, old BNode, dstNew uint16, srcOld uint16, n uint16) {
	if srcOld+n > old.nkeys() || dstNew+n > new.nkeys() {
		panic(fmt.Sprintf("btree: copy of %d cells from %d to %d out of range", n, srcOld, dstNew))
	}
	if n == 0 {
		return
	}

	if old.btype() == BNODE_NODE {
		for i := uint16(0); i < n; i++ {
			new.setPtr(dstNew+i, old.getPtr(srcOld+i))
		}
	}

	// Offsets are relative, so shift them by the difference in start positions
	dstBegin, srcBegin := new.getOffset(dstNew), old.getOffset(srcOld)
	for i := uint16(1); i <= n; i++ {
		new.setOffset(dstNew+i, dstBegin+old.getOffset(srcOld+i)-srcBegin)
	}

	copy(new[new.kvPos(dstNew):], old[old.kvPos(srcOld):old.kvPos(srcOld+n)])
}

// nodeAppendKV writes one cell at idx; cells before idx must already be set
func nodeAppendKV(new BNode, idx uint16, ptr uint64, key []byte, val []byte) {
	new.setPtr(idx, ptr)

	pos := new.kvPos(idx)
	binary.LittleEndian.PutUint16(new[pos:], uint16(len(key)))
	binary.LittleEndian.PutUint16(new[pos+2:], uint16(len(val)))
	n := copy(new[pos+cellHeader:], key)
	copy(new[pos+cellHeader+uint16(n):], val)

	new.setOffset(idx+1, new.getOffset(idx)+cellHeader+uint16(len(key)+len(val)))
}

func init() {
	largest := HEADER + ptrSize + offsetSize + cellHeader + BTREE_MAX_KEY_SIZE + BTREE_MAX_VAL_SIZE
	if largest > BTREE_PAGE_SIZE {
		panic("btree: largest cell does not fit in a page")
	}
}
