// ABOUTME: Ordered cursor over the B+Tree
// ABOUTME: Seek to the first key >= target, then walk forward leaf by leaf

package btree

import "bytes"

// Cursor walks keys in ascending order. It keeps the root-to-leaf path,
// so it must not be used across a tree update.
type Cursor struct {
	tree *BTree
	path []BNode
	pos  []uint16
}

// Cursor returns an unpositioned cursor
func (tree *BTree) Cursor() *Cursor {
	return &Cursor{
		tree: tree,
		path: make([]BNode, 0, 8),
		pos:  make([]uint16, 0, 8),
	}
}

// Seek positions the cursor at the first key >= key and reports whether
// such a key exists. The empty sentinel key is never visited.
func (c *Cursor) Seek(key []byte) bool {
	c.path = c.path[:0]
	c.pos = c.pos[:0]
	if c.tree.root == 0 {
		return false
	}

	node := BNode(c.tree.get(c.tree.root))
	for {
		idx := nodeLookupLE(node, key)
		c.path = append(c.path, node)
		c.pos = append(c.pos, idx)
		if node.btype() == BNODE_LEAF {
			break
		}
		node = BNode(c.tree.get(node.getPtr(idx)))
	}

	// LE lands on the key itself or its predecessor
	if cur := c.Key(); len(cur) > 0 && bytes.Compare(cur, key) >= 0 {
		return true
	}
	return c.Next()
}

// Valid reports whether the cursor is on a key
func (c *Cursor) Valid() bool {
	n := len(c.path)
	return n > 0 && c.pos[n-1] < c.path[n-1].nkeys()
}

// Key returns the current key or nil. The slice aliases the page.
func (c *Cursor) Key() []byte {
	if !c.Valid() {
		return nil
	}
	n := len(c.path)
	return c.path[n-1].getKey(c.pos[n-1])
}

// Val returns the current value or nil. The slice aliases the page.
func (c *Cursor) Val() []byte {
	if !c.Valid() {
		return nil
	}
	n := len(c.path)
	return c.path[n-1].getVal(c.pos[n-1])
}

// Next moves to the following key and reports whether there is one
func (c *Cursor) Next() bool {
	for {
		if !c.step() {
			return false
		}
		if len(c.Key()) > 0 {
			return true
		}
	}
}

// step advances one cell, climbing to the nearest ancestor with a right
// sibling and descending to its leftmost leaf when a leaf runs out
func (c *Cursor) step() bool {
	level := len(c.path) - 1
	if level < 0 {
		return false
	}
	c.pos[level]++
	for c.pos[level] >= c.path[level].nkeys() {
		if level == 0 {
			// Exhausted; leave the cursor invalid
			c.path = c.path[:1]
			c.pos = c.pos[:1]
			return false
		}
		level--
		c.pos[level]++
	}

	c.path = c.path[:level+1]
	c.pos = c.pos[:level+1]
	for node := c.path[level]; node.btype() != BNODE_LEAF; node = c.path[len(c.path)-1] {
		child := BNode(c.tree.get(node.getPtr(c.pos[len(c.pos)-1])))
		c.path = append(c.path, child)
		c.pos = append(c.pos, 0)
	}
	return true
}

// Scan calls fn for every key >= start in order until fn returns false
func (tree *BTree) Scan(start []byte, fn func(key, val []byte) bool) {
	c := tree.Cursor()
	for ok := c.Seek(start); ok; ok = c.Next() {
		if !fn(c.Key(), c.Val()) {
			return
		}
	}
}

// ScanPrefix calls fn for every key that starts with prefix, in order,
// until fn returns false
func (tree *BTree) ScanPrefix(prefix []byte, fn func(key, val []byte) bool) {
	c := tree.Cursor()
	for ok := c.Seek(prefix); ok && bytes.HasPrefix(c.Key(), prefix); ok = c.Next() {
		if !fn(c.Key(), c.Val()) {
			return
		}
	}
}
