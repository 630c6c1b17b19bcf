// Package alloc implements the page allocator and dirty-list checkpoint
// flush that sit between a cached page (owned by the B-tree layer, out of
// scope here) and the durable pagestore.Array. It assigns page ids,
// tracks which pages have unflushed content in insertion order, and drives
// writing them back to the array.
package alloc

import (
	"github.com/ledgerkv/ledgerkv/internal/workerpool"
	"github.com/ledgerkv/ledgerkv/latch"
	"github.com/ledgerkv/ledgerkv/pagestore"
)

// cachedState tags a Node's position in the dirty lifecycle. Two dirty
// generations (A/B) let a checkpoint in progress distinguish the pages it
// is flushing from pages dirtied concurrently during that same pass: a
// checkpoint always targets one generation and lets new dirty() calls mark
// the other, so a freshly-redirtied page is never mistaken for the one
// being flushed right now.
type cachedState int32

const (
	stateClean cachedState = iota
	stateDirtyA
	stateDirtyB
)

func otherGen(g cachedState) cachedState {
	if g == stateDirtyA {
		return stateDirtyB
	}

	return stateDirtyA
}

// Node is one page's allocator-tracked bookkeeping: its identity, the
// per-page exclusive latch a flush acquires before writing it out, its
// in-memory content, and intrusive dirty-list pointers. The B-tree layer
// (out of scope) owns the decision of what Data holds; the allocator only
// ever reads it during flush and never interprets its bytes.
type Node struct {
	ID    pagestore.PageID
	Latch latch.Latch
	Data  []byte

	state      cachedState
	linked     bool
	prev, next *Node
}

// Allocator owns page id assignment and the dirty list.
// All list/cursor fields are mutable only while holding la, the
// allocator's own latch, matching the lock manager's "stripe latch only"
// ownership discipline in lockmgr.
type Allocator struct {
	arr pagestore.Array

	la latch.Latch // L_a

	freeList []pagestore.PageID
	nextID   pagestore.PageID

	first, last *Node
	flushNext   *Node
	curGen      cachedState
}

// New creates an Allocator issuing page ids starting after the reserved
// header pages, writing flushed pages through arr.
func New(arr pagestore.Array) *Allocator {
	return &Allocator{
		arr:    arr,
		nextID: pagestore.HeaderPageCount,
		curGen: stateDirtyA,
	}
}

// AllocPage assigns a fresh page id to node (reusing a recycled id if one
// is available) and inserts it at the dirty-list tail.
func (a *Allocator) AllocPage(node *Node) pagestore.PageID {
	a.la.AcquireExclusive()
	defer a.la.ReleaseExclusive()

	var id pagestore.PageID

	if n := len(a.freeList); n > 0 {
		id = a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
	} else {
		id = a.nextID
		a.nextID++
	}

	node.ID = id
	node.state = a.curGen
	a.appendTailLocked(node)

	return id
}

// RecyclePage returns id to the free pool for reuse by a future AllocPage.
func (a *Allocator) RecyclePage(id pagestore.PageID) {
	a.la.AcquireExclusive()
	defer a.la.ReleaseExclusive()

	a.freeList = append(a.freeList, id)
}

// Dirty moves node to the dirty-list tail. If node is currently the flush
// cursor (flushNext), the cursor is advanced to its successor *before* the
// move, so an in-progress checkpoint never loses its place.
//
// A node already on the list keeps its existing generation tag: it was
// already part of whichever pass is flushing it (or waiting for the next
// one), and moving it to the tail must not change that. Only a clean page
// transitioning to dirty is stamped with the allocator's current
// generation, so a page freshly dirtied mid-checkpoint is excluded from
// the pass already in progress and picked up by the next one instead.
func (a *Allocator) Dirty(node *Node) {
	a.la.AcquireExclusive()
	defer a.la.ReleaseExclusive()

	if node.linked {
		if a.flushNext == node {
			a.flushNext = node.next
		}

		a.removeLocked(node)
	} else {
		node.state = a.curGen
	}

	a.appendTailLocked(node)
}

func (a *Allocator) appendTailLocked(node *Node) {
	node.prev, node.next = a.last, nil

	if a.last != nil {
		a.last.next = node
	} else {
		a.first = node
	}

	a.last = node
	node.linked = true
}

// removeLocked unlinks node from the dirty list. Callers must hold la and
// must themselves have already fixed up flushNext if node was the cursor.
func (a *Allocator) removeLocked(node *Node) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		a.first = node.next
	}

	if node.next != nil {
		node.next.prev = node.prev
	} else {
		a.last = node.prev
	}

	node.prev, node.next = nil, nil
	node.linked = false
}

// popCursor advances the flush cursor and returns the node it pointed to,
// or nil once the cursor has walked off the end of the list.
func (a *Allocator) popCursor() *Node {
	a.la.AcquireExclusive()
	defer a.la.ReleaseExclusive()

	n := a.flushNext
	if n != nil {
		a.flushNext = n.next
	}

	return n
}

// Checkpoint flushes every page currently on the dirty list to arr in a
// single pass. With helpers == nil the entire pass runs on the calling
// goroutine and writes happen in strict dirty-list order. With
// helpers != nil, popped nodes are handed to the pool: each helper only
// *tries* to acquire a node's
// latch and skips it on contention rather than blocking, leaving it dirty
// for a future pass. Never the reverse, or a helper could deadlock
// against the main flusher's own exclusive holds elsewhere.
func (a *Allocator) Checkpoint(helpers *workerpool.Pool) error {
	target := a.beginPass()

	if helpers == nil {
		return a.flushSequential(target)
	}

	return a.flushAssisted(target, helpers)
}

func (a *Allocator) beginPass() cachedState {
	a.la.AcquireExclusive()
	defer a.la.ReleaseExclusive()

	target := a.curGen
	a.curGen = otherGen(target)
	a.flushNext = a.first

	return target
}

func (a *Allocator) flushSequential(target cachedState) error {
	for {
		node := a.popCursor()
		if node == nil {
			return nil
		}

		node.Latch.AcquireExclusive()

		if err := a.flushLocked(node, target); err != nil {
			return err
		}
	}
}

func (a *Allocator) flushAssisted(target cachedState, helpers *workerpool.Pool) error {
	for {
		node := a.popCursor()
		if node == nil {
			break
		}

		n := node

		helpers.Submit(func() error {
			if !n.Latch.TryExclusive() {
				return nil
			}

			return a.flushLocked(n, target)
		})
	}

	return helpers.Wait()
}

// flushLocked is called with node.Latch held exclusively. It verifies the
// node still belongs to this pass, removes it from the list, downgrades to
// shared for the write, and releases.
func (a *Allocator) flushLocked(node *Node, target cachedState) error {
	if node.state != target {
		node.Latch.ReleaseExclusive()

		return nil
	}

	a.unlink(node)

	node.Latch.Downgrade()

	err := a.arr.WritePage(node.ID, node.Data, 0)
	if err == nil {
		node.state = stateClean
	}

	node.Latch.ReleaseShared()

	return err
}

func (a *Allocator) unlink(node *Node) {
	a.la.AcquireExclusive()
	defer a.la.ReleaseExclusive()

	a.removeLocked(node)
}

// DirtyCount reports how many pages are currently on the dirty list. The
// engine's checkpoint trigger compares it against the configured size
// threshold; the count is advisory since the list can change the moment
// the latch is released.
func (a *Allocator) DirtyCount() int {
	a.la.AcquireExclusive()
	defer a.la.ReleaseExclusive()

	n := 0
	for node := a.first; node != nil; node = node.next {
		n++
	}

	return n
}
