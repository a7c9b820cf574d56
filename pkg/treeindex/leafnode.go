package treeindex

import (
	"sort"
	"sync/atomic"

	"treeindex/pkg/ebr"
)

// leafNode is the bottom non-payload level of the tree: an ordered array of
// ordered leaves plus the separator keys between them.
//
// A leaf's own entries mutate in place via per-slot CAS (see leaf.go), so a
// non-overflowing insert or a non-emptying remove never touches leafNode at
// all: children[idx] keeps pointing at the same *leaf object throughout.
// leafNode only rebuilds when a child leaf's identity itself changes (split
// or fully drained), and even then the rebuilt leafNode is installed by the
// single parent slot that referenced the old one, the way pkg/cowbtree's
// node.split builds a brand-new CowNode instead of mutating one in place.
//
// len(children) == len(separators)+1. separators[i] is the smallest key
// reachable through children[i+1]. Both arrays are immutable once built;
// children is a slice of atomic.Pointer so a same-shape replacement (one
// child's identity changes but the slot count doesn't) installs with a
// single CAS instead of rebuilding this leafNode too.
type leafNode[K comparable, V any] struct {
	less       func(a, b K) bool
	fanout     int
	separators []K
	children   []atomic.Pointer[leaf[K, V]]
}

func newLeafNodeSingle[K comparable, V any](fanout int, less func(a, b K) bool) *leafNode[K, V] {
	ln := &leafNode[K, V]{less: less, fanout: fanout, children: make([]atomic.Pointer[leaf[K, V]], 1)}
	ln.children[0].Store(newLeaf[K, V](fanout, less))
	return ln
}

// locate returns the index of the child responsible for key.
func (ln *leafNode[K, V]) locate(key K) int {
	return sort.Search(len(ln.separators), func(i int) bool {
		return ln.less(key, ln.separators[i])
	})
}

func (ln *leafNode[K, V]) searchNode(key K) (V, bool) {
	return ln.children[ln.locate(key)].Load().search(key)
}

func (ln *leafNode[K, V]) minKey() (K, bool) {
	for i := range ln.children {
		if k, ok := ln.children[i].Load().minKey(); ok {
			return k, true
		}
	}
	var zero K
	return zero, false
}

func (ln *leafNode[K, V]) floor() int { return 0 }

func (ln *leafNode[K, V]) firstLeaf() *leaf[K, V] { return ln.children[0].Load() }

func (ln *leafNode[K, V]) leafFor(key K) *leaf[K, V] {
	return ln.children[ln.locate(key)].Load()
}

// release drops this (retired) leafNode's own references to its leaves,
// the way child.release does one level up; the leaves themselves are
// released independently wherever they were actually superseded.
func (ln *leafNode[K, V]) release() {
	for i := range ln.children {
		ln.children[i].Store(nil)
	}
}

// insertNode returns nil on success (possibly after a same-shape leaf
// mutation), duplicated if key is already live, grew if a leaf split but
// this leafNode had room to absorb it, or splitUp if this leafNode itself
// had no room and must be split by its caller.
func (ln *leafNode[K, V]) insertNode(reclaimer *ebr.Reclaimer, key K, value V) error {
	idx := ln.locate(key)
	slot := &ln.children[idx]
	lf := slot.Load()

	outcome, dup := lf.insert(key, value)
	switch outcome {
	case leafInsertOK:
		return nil
	case leafInsertDuplicate:
		return duplicated[K, V]{entry: dup}
	}

	left, right, sep := splitLeaf(ln.fanout, ln.less, lf, entry[K, V]{key: key, value: value})
	if reclaimer != nil {
		reclaimer.Defer(func() { lf.release() })
	}

	if rebuilt, ok := ln.rebuildWithSplitChild(idx, left, right, sep); ok {
		return grew[K, V]{replacement: rebuilt}
	}
	l, r, promoted := splitLeafNode(ln, idx, left, right, sep)
	return splitUp[K, V]{left: l, right: r, sepKey: promoted}
}

// removeNode returns whether a live entry was removed. If removal empties
// the responsible leaf and this leafNode holds more than one child, it
// rebuilds itself without that child, reporting grew if it still meets
// its minimum-children invariant or underflow if it no longer does. If
// the emptied leaf was the only child, it signals coalesce so the caller
// drops its own slot for this leafNode entirely. Either way the emptied
// leaf itself is retired through reclaimer once it is dropped.
func (ln *leafNode[K, V]) removeNode(reclaimer *ebr.Reclaimer, key K) (bool, error) {
	idx := ln.locate(key)
	lf := ln.children[idx].Load()
	removed := lf.remove(key)
	if !removed || lf.count() > 0 {
		return removed, nil
	}
	if len(ln.children) == 1 {
		if reclaimer != nil {
			reclaimer.Defer(func() { lf.release() })
		}
		return removed, coalesce{}
	}
	rebuilt := ln.rebuildWithoutChild(idx)
	if reclaimer != nil {
		reclaimer.Defer(func() { lf.release() })
	}
	if len(rebuilt.children) < minChildrenForFanout(ln.fanout) {
		return removed, underflow[K, V]{replacement: rebuilt}
	}
	return removed, grew[K, V]{replacement: rebuilt}
}

// rebuildWithoutChild drops children[idx] (and its bounding separator).
// Only called when len(children) > 1.
func (ln *leafNode[K, V]) rebuildWithoutChild(idx int) *leafNode[K, V] {
	out := &leafNode[K, V]{
		less:       ln.less,
		fanout:     ln.fanout,
		children:   make([]atomic.Pointer[leaf[K, V]], len(ln.children)-1),
		separators: make([]K, len(ln.separators)-1),
	}
	w := 0
	for i := range ln.children {
		if i == idx {
			continue
		}
		out.children[w].Store(ln.children[i].Load())
		w++
	}
	sepIdx := idx
	if sepIdx >= len(ln.separators) {
		sepIdx = len(ln.separators) - 1
	}
	w = 0
	for i := range ln.separators {
		if i == sepIdx {
			continue
		}
		out.separators[w] = ln.separators[i]
		w++
	}
	return out
}

// rebuildWithSplitChild replaces children[idx] with left and right (the
// result of splitting an overflowed leaf) and inserts sepKey as the new
// separator between them. ok is false if ln has no room for an additional
// child, in which case the caller must use splitLeafNode instead.
func (ln *leafNode[K, V]) rebuildWithSplitChild(idx int, left, right *leaf[K, V], sepKey K) (*leafNode[K, V], bool) {
	if len(ln.children) >= ln.fanout {
		return nil, false
	}
	out := &leafNode[K, V]{
		less:       ln.less,
		fanout:     ln.fanout,
		children:   make([]atomic.Pointer[leaf[K, V]], len(ln.children)+1),
		separators: make([]K, len(ln.separators)+1),
	}
	for i := 0; i < idx; i++ {
		out.children[i].Store(ln.children[i].Load())
	}
	out.children[idx].Store(left)
	out.children[idx+1].Store(right)
	for i := idx + 1; i < len(ln.children); i++ {
		out.children[i+1].Store(ln.children[i].Load())
	}

	copy(out.separators[:idx], ln.separators[:idx])
	out.separators[idx] = sepKey
	copy(out.separators[idx+1:], ln.separators[idx:])

	return out, true
}

// splitLeafNode splits ln into two leafNodes after children[idx] has
// overflowed and been replaced by the (left, right) leaf pair produced by
// splitLeaf. It returns the new left and right leafNodes and the separator
// key the caller must promote to its own parent.
func splitLeafNode[K comparable, V any](ln *leafNode[K, V], idx int, left, right *leaf[K, V], sepKey K) (*leafNode[K, V], *leafNode[K, V], K) {
	allChildren := make([]*leaf[K, V], 0, len(ln.children)+1)
	for i := 0; i < idx; i++ {
		allChildren = append(allChildren, ln.children[i].Load())
	}
	allChildren = append(allChildren, left, right)
	for i := idx + 1; i < len(ln.children); i++ {
		allChildren = append(allChildren, ln.children[i].Load())
	}

	allSeparators := make([]K, 0, len(ln.separators)+1)
	allSeparators = append(allSeparators, ln.separators[:idx]...)
	allSeparators = append(allSeparators, sepKey)
	allSeparators = append(allSeparators, ln.separators[idx:]...)

	mid := len(allChildren) / 2
	leftNode := &leafNode[K, V]{less: ln.less, fanout: ln.fanout, separators: append([]K{}, allSeparators[:mid-1]...)}
	leftNode.children = make([]atomic.Pointer[leaf[K, V]], mid)
	for i := 0; i < mid; i++ {
		leftNode.children[i].Store(allChildren[i])
	}

	rightNode := &leafNode[K, V]{less: ln.less, fanout: ln.fanout, separators: append([]K{}, allSeparators[mid:]...)}
	rightNode.children = make([]atomic.Pointer[leaf[K, V]], len(allChildren)-mid)
	for i := mid; i < len(allChildren); i++ {
		rightNode.children[i-mid].Store(allChildren[i])
	}

	promoted := allSeparators[mid-1]
	return leftNode, rightNode, promoted
}
