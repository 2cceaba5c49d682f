// ABOUTME: Persistent list of released pages, reused by later allocations
// ABOUTME: Stored as a chain of pages, each holding a next pointer and a run of page numbers

package storage

import "encoding/binary"

// Free list page layout: | next 8B | page numbers 8B each ... |
const (
	FREE_LIST_HEADER = 8
	FREE_LIST_CAP    = (BTREE_PAGE_SIZE - FREE_LIST_HEADER) / 8

	freeListMetaSize = 40
)

// LNode is one page of the free list
type LNode []byte

func (node LNode) getNext() uint64 {
	return binary.LittleEndian.Uint64(node[0:8])
}

func (node LNode) setNext(next uint64) {
	binary.LittleEndian.PutUint64(node[0:8], next)
}

func (node LNode) getPtr(idx int) uint64 {
	return binary.LittleEndian.Uint64(node[FREE_LIST_HEADER+idx*8:])
}

func (node LNode) setPtr(idx int, ptr uint64) {
	binary.LittleEndian.PutUint64(node[FREE_LIST_HEADER+idx*8:], ptr)
}

// FreeList is a FIFO of page numbers. Items are addressed by a running
// sequence number: item seq lives in slot seq % FREE_LIST_CAP of its page.
//
// Pages released by the current transaction are pushed past maxSeq and
// only become poppable once the transaction commits, because the last
// committed tree may still reference them.
type FreeList struct {
	get func(uint64) []byte  // read a page
	new func([]byte) uint64  // append a page
	set func(uint64, []byte) // replace a page

	headPage, headSeq uint64 // next item to pop
	tailPage, tailSeq uint64 // next slot to fill
	maxSeq            uint64 // items at or past this are not yet reusable
}

// Total returns the number of queued pages
func (fl *FreeList) Total() int {
	if fl.headSeq >= fl.tailSeq {
		return 0
	}
	return int(fl.tailSeq - fl.headSeq)
}

// poppable reports whether the head item was released before the last commit
func (fl *FreeList) poppable() bool {
	return fl.headPage != 0 && fl.headSeq < fl.tailSeq && fl.headSeq < fl.maxSeq
}

// PopHead takes the oldest reusable page, or returns 0 when none is
func (fl *FreeList) PopHead() uint64 {
	if !fl.poppable() {
		return 0
	}

	node := LNode(fl.get(fl.headPage))
	ptr := node.getPtr(int(fl.headSeq % FREE_LIST_CAP))
	fl.headSeq++

	// A drained list page is itself recycled. With no next page the list
	// is empty and the head moves with the next tail page.
	if fl.headSeq%FREE_LIST_CAP == 0 {
		if next := node.getNext(); next != 0 {
			drained := fl.headPage
			fl.headPage = next
			fl.PushTail(drained)
		}
	}
	return ptr
}

// PushTail queues a released page
func (fl *FreeList) PushTail(ptr uint64) {
	slot := int(fl.tailSeq % FREE_LIST_CAP)
	switch {
	case fl.tailPage == 0:
		fl.tailPage = fl.newPage()
	case slot == 0 && fl.tailSeq > 0:
		next := fl.newPage()
		fl.update(fl.tailPage, func(node LNode) { node.setNext(next) })
		fl.tailPage = next
	}

	fl.update(fl.tailPage, func(node LNode) { node.setPtr(slot, ptr) })
	fl.tailSeq++
}

// newPage appends an empty list page; an empty list starts reading there
func (fl *FreeList) newPage() uint64 {
	ptr := fl.new(make([]byte, BTREE_PAGE_SIZE))
	if fl.headSeq == fl.tailSeq {
		fl.headPage = ptr
	}
	return ptr
}

// update rewrites a copy of page ptr; pages read through get may be
// mapped read-only
func (fl *FreeList) update(ptr uint64, fn func(LNode)) {
	page := make([]byte, BTREE_PAGE_SIZE)
	copy(page, fl.get(ptr))
	fn(LNode(page))
	fl.set(ptr, page)
}

// SetMaxSeq makes everything queued so far reusable
func (fl *FreeList) SetMaxSeq() {
	fl.maxSeq = fl.tailSeq
}

// Serialize encodes the list position for the meta page
func (fl *FreeList) Serialize() []byte {
	data := make([]byte, freeListMetaSize)
	for i, v := range []uint64{fl.headPage, fl.headSeq, fl.tailPage, fl.tailSeq, fl.maxSeq} {
		binary.LittleEndian.PutUint64(data[i*8:], v)
	}
	return data
}

// Deserialize restores the list position written by Serialize
func (fl *FreeList) Deserialize(data []byte) {
	fields := []*uint64{&fl.headPage, &fl.headSeq, &fl.tailPage, &fl.tailSeq, &fl.maxSeq}
	for i, f := range fields {
		*f = binary.LittleEndian.Uint64(data[i*8:])
	}
}
