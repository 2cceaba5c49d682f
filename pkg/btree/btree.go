// ABOUTME: Copy-on-write B+Tree over fixed-size pages
// ABOUTME: Every update rewrites the root-to-leaf path and releases the pages it replaced

package btree

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrKeyTooLarge is returned when a key exceeds BTREE_MAX_KEY_SIZE
	ErrKeyTooLarge = errors.New("btree: key too large")

	// ErrValueTooLarge is returned when a value exceeds BTREE_MAX_VAL_SIZE
	ErrValueTooLarge = errors.New("btree: value too large")

	// ErrEmptyKey is returned for zero-length keys, which are reserved for the sentinel
	ErrEmptyKey = errors.New("btree: empty key")
)

// BTree is addressed through page numbers; the owner supplies the pager.
// Pages handed to new are never modified afterwards.
type BTree struct {
	root uint64
	get  func(uint64) []byte // read a page
	new  func([]byte) uint64 // store a page, returning its number
	del  func(uint64)        // release a page
}

// cell is one entry written into a rebuilt node
type cell struct {
	ptr      uint64
	key, val []byte
}

// CheckLimits reports whether a key-value pair fits in a single leaf
func CheckLimits(key []byte, val []byte) error {
	switch {
	case len(key) == 0:
		return ErrEmptyKey
	case len(key) > BTREE_MAX_KEY_SIZE:
		return fmt.Errorf("%w: %d bytes (max %d)", ErrKeyTooLarge, len(key), BTREE_MAX_KEY_SIZE)
	case len(val) > BTREE_MAX_VAL_SIZE:
		return fmt.Errorf("%w: %d bytes (max %d)", ErrValueTooLarge, len(val), BTREE_MAX_VAL_SIZE)
	}
	return nil
}

// Get returns the value stored under key
func (tree *BTree) Get(key []byte) ([]byte, bool) {
	if tree.root == 0 {
		return nil, false
	}
	node := BNode(tree.get(tree.root))
	for {
		idx := nodeLookupLE(node, key)
		switch node.btype() {
		case BNODE_LEAF:
			if bytes.Equal(key, node.getKey(idx)) {
				return node.getVal(idx), true
			}
			return nil, false
		case BNODE_NODE:
			node = BNode(tree.get(node.getPtr(idx)))
		default:
			panic(fmt.Sprintf("btree: bad node type %d", node.btype()))
		}
	}
}

// Insert stores val under key, replacing any previous value. The tree is
// left untouched when the pair does not fit in a page.
func (tree *BTree) Insert(key []byte, val []byte) error {
	if err := CheckLimits(key, val); err != nil {
		return err
	}

	if tree.root == 0 {
		// The empty sentinel key makes every lookup find a floor
		root := BNode(make([]byte, BTREE_PAGE_SIZE))
		root.setHeader(BNODE_LEAF, 2)
		nodeAppendKV(root, 0, 0, nil, nil)
		nodeAppendKV(root, 1, 0, key, val)
		tree.root = tree.new(root)
		return nil
	}

	updated := treeInsert(tree, BNode(tree.get(tree.root)), key, val)
	tree.del(tree.root)

	parts := nodeSplit(updated)
	if len(parts) == 1 {
		tree.root = tree.new(parts[0])
		return nil
	}

	// The root split; grow the tree by one level
	root := BNode(make([]byte, BTREE_PAGE_SIZE))
	splice(root, nil, BNODE_NODE, 0, 0, tree.kids(parts)...)
	tree.root = tree.new(root)
	return nil
}

// treeInsert returns a copy of node with key set; the copy may exceed a page
func treeInsert(tree *BTree, node BNode, key []byte, val []byte) BNode {
	out := BNode(make([]byte, 2*BTREE_PAGE_SIZE))
	idx := nodeLookupLE(node, key)

	switch node.btype() {
	case BNODE_LEAF:
		if bytes.Equal(key, node.getKey(idx)) {
			splice(out, node, BNODE_LEAF, idx, 1, cell{key: key, val: val})
		} else {
			splice(out, node, BNODE_LEAF, idx+1, 0, cell{key: key, val: val})
		}
	case BNODE_NODE:
		kid := node.getPtr(idx)
		updated := treeInsert(tree, BNode(tree.get(kid)), key, val)
		tree.del(kid)
		splice(out, node, BNODE_NODE, idx, 1, tree.kids(nodeSplit(updated))...)
	default:
		panic(fmt.Sprintf("btree: bad node type %d", node.btype()))
	}
	return out
}

// kids stores each node and returns the parent cells pointing at them
func (tree *BTree) kids(nodes []BNode) []cell {
	cells := make([]cell, len(nodes))
	for i, n := range nodes {
		cells[i] = cell{ptr: tree.new(n), key: n.getKey(0)}
	}
	return cells
}

// splice writes old into out with the cells in [at, at+drop) replaced by
// cells. A nil old is treated as an empty node.
func splice(out, old BNode, btype uint16, at, drop uint16, cells ...cell) {
	var total uint16
	if old != nil {
		total = old.nkeys()
	}
	out.setHeader(btype, total-drop+uint16(len(cells)))
	if old != nil {
		nodeAppendRange(out, old, 0, 0, at)
	}
	for i, c := range cells {
		nodeAppendKV(out, at+uint16(i), c.ptr, c.key, c.val)
	}
	if old != nil {
		nodeAppendRange(out, old, at+uint16(len(cells)), at+drop, total-at-drop)
	}
}

// rangeSize is the page size a node holding cells [from, to) of old would need
func rangeSize(old BNode, from, to uint16) int {
	return HEADER + (ptrSize+offsetSize)*int(to-from) + int(old.getOffset(to)-old.getOffset(from))
}

// nodeSplit cuts an oversized node into page-sized parts, at most three
func nodeSplit(node BNode) []BNode {
	if node.nbytes() <= BTREE_PAGE_SIZE {
		return []BNode{node[:BTREE_PAGE_SIZE]}
	}

	left := BNode(make([]byte, 2*BTREE_PAGE_SIZE))
	right := BNode(make([]byte, BTREE_PAGE_SIZE))
	nodeSplit2(left, right, node)
	if left.nbytes() <= BTREE_PAGE_SIZE {
		return []BNode{left[:BTREE_PAGE_SIZE], right}
	}

	leftleft := BNode(make([]byte, BTREE_PAGE_SIZE))
	middle := BNode(make([]byte, BTREE_PAGE_SIZE))
	nodeSplit2(leftleft, middle, left)
	return []BNode{leftleft, middle, right}
}

// nodeSplit2 moves a prefix of old into left and the rest into right.
// The right half always fits in a page; the left half might not.
func nodeSplit2(left, right, old BNode) {
	n := old.nkeys()
	nleft := n / 2
	for nleft > 1 && rangeSize(old, 0, nleft) > BTREE_PAGE_SIZE {
		nleft--
	}
	for nleft < n-1 && rangeSize(old, nleft, n) > BTREE_PAGE_SIZE {
		nleft++
	}

	left.setHeader(old.btype(), nleft)
	nodeAppendRange(left, old, 0, 0, nleft)
	right.setHeader(old.btype(), n-nleft)
	nodeAppendRange(right, old, 0, nleft, n-nleft)
}

// Delete removes key and reports whether it was present
func (tree *BTree) Delete(key []byte) bool {
	if tree.root == 0 {
		return false
	}

	updated := treeDelete(tree, BNode(tree.get(tree.root)), key)
	if updated == nil {
		return false
	}
	tree.del(tree.root)

	// A root with a single child is replaced by the child
	if updated.btype() == BNODE_NODE && updated.nkeys() == 1 {
		tree.root = updated.getPtr(0)
	} else {
		tree.root = tree.new(updated)
	}
	return true
}

// treeDelete returns a copy of node without key, or nil if key is absent
func treeDelete(tree *BTree, node BNode, key []byte) BNode {
	idx := nodeLookupLE(node, key)

	switch node.btype() {
	case BNODE_LEAF:
		if !bytes.Equal(key, node.getKey(idx)) {
			return nil
		}
		out := BNode(make([]byte, BTREE_PAGE_SIZE))
		splice(out, node, BNODE_LEAF, idx, 1)
		return out
	case BNODE_NODE:
		return nodeDelete(tree, node, idx, key)
	default:
		panic(fmt.Sprintf("btree: bad node type %d", node.btype()))
	}
}

// nodeDelete deletes key below kid idx and folds an underfull kid into a sibling
func nodeDelete(tree *BTree, node BNode, idx uint16, key []byte) BNode {
	kid := node.getPtr(idx)
	updated := treeDelete(tree, BNode(tree.get(kid)), key)
	if updated == nil {
		return nil
	}
	tree.del(kid)

	out := BNode(make([]byte, BTREE_PAGE_SIZE))
	dir, sibling := mergeTarget(tree, node, idx, updated)
	switch {
	case dir < 0:
		merged := nodeMerge(sibling, updated)
		tree.del(node.getPtr(idx - 1))
		splice(out, node, BNODE_NODE, idx-1, 2, tree.kids([]BNode{merged})...)
	case dir > 0:
		merged := nodeMerge(updated, sibling)
		tree.del(node.getPtr(idx + 1))
		splice(out, node, BNODE_NODE, idx, 2, tree.kids([]BNode{merged})...)
	case updated.nkeys() == 0:
		// The only kid emptied out
		out.setHeader(BNODE_NODE, 0)
	default:
		splice(out, node, BNODE_NODE, idx, 1, tree.kids([]BNode{updated})...)
	}
	return out
}

// mergeTarget picks a sibling that an underfull kid can be merged with:
// -1 for the left one, +1 for the right one, 0 for none
func mergeTarget(tree *BTree, node BNode, idx uint16, updated BNode) (int, BNode) {
	if updated.nbytes() > BTREE_PAGE_SIZE/4 {
		return 0, nil
	}
	fits := func(sibling BNode) bool {
		return int(sibling.nbytes())+int(updated.nbytes())-HEADER <= BTREE_PAGE_SIZE
	}
	if idx > 0 {
		if sibling := BNode(tree.get(node.getPtr(idx - 1))); fits(sibling) {
			return -1, sibling
		}
	}
	if idx+1 < node.nkeys() {
		if sibling := BNode(tree.get(node.getPtr(idx + 1))); fits(sibling) {
			return +1, sibling
		}
	}
	return 0, nil
}

// nodeMerge concatenates two adjacent nodes of the same kind
func nodeMerge(left, right BNode) BNode {
	out := BNode(make([]byte, BTREE_PAGE_SIZE))
	out.setHeader(left.btype(), left.nkeys()+right.nkeys())
	nodeAppendRange(out, left, 0, 0, left.nkeys())
	nodeAppendRange(out, right, left.nkeys(), 0, right.nkeys())
	return out
}

// Empty reports whether the tree has never held a key
func (tree *BTree) Empty() bool {
	return tree.root == 0
}

// GetRoot returns the root page number
func (tree *BTree) GetRoot() uint64 {
	return tree.root
}

// SetRoot moves the tree to another committed root
func (tree *BTree) SetRoot(root uint64) {
	tree.root = root
}

// SetCallbacks installs the pager
func (tree *BTree) SetCallbacks(read func(uint64) []byte, alloc func([]byte) uint64, release func(uint64)) {
	tree.get = read
	tree.new = alloc
	tree.del = release
}
