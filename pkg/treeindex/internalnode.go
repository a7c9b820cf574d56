package treeindex

import (
	"sort"
	"sync/atomic"

	"treeindex/pkg/ebr"
)

// internalNode is a non-leaf-bearing level of the tree: an ordered array of
// children (each a further internalNode or a leafNode) plus the separator
// keys between them. children is a slice of atomic.Pointer so that a
// same-shape replacement (a child's identity changed but the slot count
// here didn't) installs with a single CAS; only a change in this node's
// own child count requires rebuilding the whole internalNode, installed in
// turn by whichever ancestor holds the pointer to it.
type internalNode[K comparable, V any] struct {
	less       func(a, b K) bool
	fanout     int
	separators []K
	children   []atomic.Pointer[child[K, V]]
}

func (in *internalNode[K, V]) locate(key K) int {
	return sort.Search(len(in.separators), func(i int) bool {
		return in.less(key, in.separators[i])
	})
}

func (in *internalNode[K, V]) searchNode(key K) (V, bool) {
	return in.children[in.locate(key)].Load().node().searchNode(key)
}

func (in *internalNode[K, V]) minKey() (K, bool) {
	for i := range in.children {
		if k, ok := in.children[i].Load().node().minKey(); ok {
			return k, true
		}
	}
	var zero K
	return zero, false
}

func (in *internalNode[K, V]) floor() int {
	return 1 + in.children[0].Load().node().floor()
}

func (in *internalNode[K, V]) firstLeaf() *leaf[K, V] {
	return in.children[0].Load().node().firstLeaf()
}

func (in *internalNode[K, V]) leafFor(key K) *leaf[K, V] {
	return in.children[in.locate(key)].Load().node().leafFor(key)
}

// release drops this (retired) internalNode's own references to its
// children, mirroring leafNode.release one level up.
func (in *internalNode[K, V]) release() {
	for i := range in.children {
		in.children[i].Store(nil)
	}
}

// insertNode recurses into the responsible child and installs whatever
// structural change bubbles back: a grew result is a single CAS on the
// slot that already points at the (old) child; a splitUp result means this
// node must grow by one slot, either absorbing it (and reporting its own
// grew upward) or splitting itself (and reporting its own splitUp). A
// successful CAS retires the old child through reclaimer.
func (in *internalNode[K, V]) insertNode(reclaimer *ebr.Reclaimer, key K, value V) error {
	idx := in.locate(key)
	slot := &in.children[idx]
	c := slot.Load()

	err := c.node().insertNode(reclaimer, key, value)
	switch e := err.(type) {
	case nil:
		return nil
	case duplicated[K, V]:
		return e
	case retry:
		return e
	case grew[K, V]:
		var replacement *child[K, V]
		if ln, ok := e.replacement.(*leafNode[K, V]); ok {
			replacement = leafChild(ln)
		} else {
			replacement = internalChild(e.replacement.(*internalNode[K, V]))
		}
		if !slot.CompareAndSwap(c, replacement) {
			return retry{}
		}
		deferReleaseChild(reclaimer, c)
		return nil
	case splitUp[K, V]:
		left, right := wrapChild[K, V](e.left), wrapChild[K, V](e.right)
		// c (the old child at idx) is superseded either way: it's replaced
		// by the left/right pair, whether they land in this rebuilt node or
		// get divided across the two halves of a further split.
		deferReleaseChild(reclaimer, c)
		if rebuilt, ok := in.rebuildWithSplitChild(idx, left, right, e.sepKey); ok {
			return grew[K, V]{replacement: rebuilt}
		}
		l, r, promoted := splitInternalNode(in, idx, left, right, e.sepKey)
		return splitUp[K, V]{left: l, right: r, sepKey: promoted}
	default:
		return e
	}
}

// wrapChild tags a freshly built leafNode or internalNode as a child.
func wrapChild[K comparable, V any](n node[K, V]) *child[K, V] {
	if ln, ok := n.(*leafNode[K, V]); ok {
		return leafChild(ln)
	}
	return internalChild(n.(*internalNode[K, V]))
}

// removeNode recurses into the responsible child and relays its outcome
// the same way insertNode does: grew installs with a single slot CAS;
// coalesce (the child emptied completely) is absorbed by dropping the
// slot, or, if this node has only one child, relayed upward unchanged;
// underflow (the child still holds live content but fell below its own
// minimum-children invariant) is absorbed by merging it with an adjacent
// sibling. Either of the latter two can itself leave this node below its
// own minimum, in which case the same signal is relayed one level
// further up rather than generated fresh.
func (in *internalNode[K, V]) removeNode(reclaimer *ebr.Reclaimer, key K) (bool, error) {
	idx := in.locate(key)
	slot := &in.children[idx]
	c := slot.Load()

	removed, err := c.node().removeNode(reclaimer, key)
	switch e := err.(type) {
	case nil:
		return removed, nil
	case retry:
		return removed, e
	case grew[K, V]:
		replacement := wrapChild[K, V](e.replacement)
		if !slot.CompareAndSwap(c, replacement) {
			return removed, retry{}
		}
		deferReleaseChild(reclaimer, c)
		return removed, nil
	case coalesce:
		if len(in.children) == 1 {
			return removed, e
		}
		rebuilt := in.rebuildWithoutChild(idx)
		deferReleaseChild(reclaimer, c)
		if len(rebuilt.children) < minChildrenForFanout(in.fanout) {
			return removed, underflow[K, V]{replacement: rebuilt}
		}
		return removed, grew[K, V]{replacement: rebuilt}
	case underflow[K, V]:
		leftChild, rightChild, rebuilt, hasSibling := in.mergeUnderflowedChild(idx, e.replacement)
		if !hasSibling {
			// This node has only one child, so there is no sibling to merge
			// with; install the rebuilt child in place (its own slot count
			// here is unchanged) and let the underflow ride transiently —
			// readers stay correct regardless (spec's global invariant is
			// only guaranteed at quiescence), and the next insert into this
			// subtree or a later merge one level up corrects it.
			replacement := wrapChild[K, V](e.replacement)
			if !slot.CompareAndSwap(c, replacement) {
				return removed, retry{}
			}
			deferReleaseChild(reclaimer, c)
			return removed, nil
		}
		deferReleaseChild(reclaimer, leftChild)
		deferReleaseChild(reclaimer, rightChild)
		if len(rebuilt.children) < minChildrenForFanout(in.fanout) {
			return removed, underflow[K, V]{replacement: rebuilt}
		}
		return removed, grew[K, V]{replacement: rebuilt}
	default:
		return removed, e
	}
}

// mergeUnderflowedChild merges the already-rebuilt underflowed child at
// idx (replacement) with an adjacent sibling, preferring the left
// sibling. hasSibling is false if in has only one child, in which case
// there is nothing to merge with. leftOld/rightOld are the original
// *child[K,V] wrappers the merge consumed (one of them already holds
// replacement's predecessor, the other the untouched sibling), for the
// caller to retire through reclaimer once installed.
func (in *internalNode[K, V]) mergeUnderflowedChild(idx int, replacement node[K, V]) (leftOld, rightOld *child[K, V], out *internalNode[K, V], hasSibling bool) {
	if len(in.children) == 1 {
		return nil, nil, nil, false
	}

	var leftIdx int
	var left, right node[K, V]
	if idx > 0 {
		leftIdx = idx - 1
		leftOld = in.children[leftIdx].Load()
		rightOld = in.children[idx].Load()
		left = leftOld.node()
		right = replacement
	} else {
		leftIdx = idx
		leftOld = in.children[idx].Load()
		left = replacement
		rightOld = in.children[idx+1].Load()
		right = rightOld.node()
	}
	sep := in.separators[leftIdx]

	switch l := left.(type) {
	case *leafNode[K, V]:
		return leftOld, rightOld, in.rebuildWithMergedLeafPair(leftIdx, l, right.(*leafNode[K, V]), sep), true
	case *internalNode[K, V]:
		return leftOld, rightOld, in.rebuildWithMergedInternalPair(leftIdx, l, right.(*internalNode[K, V]), sep), true
	default:
		panic("treeindex: internal node holds a child of unknown kind")
	}
}

// rebuildWithMergedLeafPair replaces children[leftIdx] and
// children[leftIdx+1] (both leaf nodes) with the result of merging them:
// a single combined leaf node if it fits within fanout (this node's own
// child count drops by one), or a rebalanced pair otherwise (this node's
// child count is unchanged, only the separator between the pair moves).
func (in *internalNode[K, V]) rebuildWithMergedLeafPair(leftIdx int, left, right *leafNode[K, V], sep K) *internalNode[K, V] {
	merged, splitLeft, splitRight, newSep, split := mergeLeafNodes(in.fanout, in.less, left, right, sep)
	if !split {
		out := &internalNode[K, V]{
			less:       in.less,
			fanout:     in.fanout,
			children:   make([]atomic.Pointer[child[K, V]], len(in.children)-1),
			separators: make([]K, len(in.separators)-1),
		}
		for i := 0; i < leftIdx; i++ {
			out.children[i].Store(in.children[i].Load())
		}
		out.children[leftIdx].Store(leafChild(merged))
		for i := leftIdx + 2; i < len(in.children); i++ {
			out.children[i-1].Store(in.children[i].Load())
		}
		copy(out.separators[:leftIdx], in.separators[:leftIdx])
		copy(out.separators[leftIdx:], in.separators[leftIdx+1:])
		return out
	}

	out := &internalNode[K, V]{
		less:       in.less,
		fanout:     in.fanout,
		children:   make([]atomic.Pointer[child[K, V]], len(in.children)),
		separators: append([]K{}, in.separators...),
	}
	for i := range in.children {
		switch i {
		case leftIdx:
			out.children[i].Store(leafChild(splitLeft))
		case leftIdx + 1:
			out.children[i].Store(leafChild(splitRight))
		default:
			out.children[i].Store(in.children[i].Load())
		}
	}
	out.separators[leftIdx] = newSep
	return out
}

// rebuildWithMergedInternalPair mirrors rebuildWithMergedLeafPair one
// level up, for a pair of internal-node siblings.
func (in *internalNode[K, V]) rebuildWithMergedInternalPair(leftIdx int, left, right *internalNode[K, V], sep K) *internalNode[K, V] {
	merged, splitLeft, splitRight, newSep, split := mergeInternalNodes(in.fanout, in.less, left, right, sep)
	if !split {
		out := &internalNode[K, V]{
			less:       in.less,
			fanout:     in.fanout,
			children:   make([]atomic.Pointer[child[K, V]], len(in.children)-1),
			separators: make([]K, len(in.separators)-1),
		}
		for i := 0; i < leftIdx; i++ {
			out.children[i].Store(in.children[i].Load())
		}
		out.children[leftIdx].Store(internalChild(merged))
		for i := leftIdx + 2; i < len(in.children); i++ {
			out.children[i-1].Store(in.children[i].Load())
		}
		copy(out.separators[:leftIdx], in.separators[:leftIdx])
		copy(out.separators[leftIdx:], in.separators[leftIdx+1:])
		return out
	}

	out := &internalNode[K, V]{
		less:       in.less,
		fanout:     in.fanout,
		children:   make([]atomic.Pointer[child[K, V]], len(in.children)),
		separators: append([]K{}, in.separators...),
	}
	for i := range in.children {
		switch i {
		case leftIdx:
			out.children[i].Store(internalChild(splitLeft))
		case leftIdx + 1:
			out.children[i].Store(internalChild(splitRight))
		default:
			out.children[i].Store(in.children[i].Load())
		}
	}
	out.separators[leftIdx] = newSep
	return out
}

// mergeLeafNodes combines left and right's leaf children (sep is the
// separator already between them in their parent) into one leaf node if
// the result fits within fanout, or rebalances it into two leaf nodes of
// roughly equal size otherwise, the same way splitLeafNode divides an
// overflowed node's children in half.
func mergeLeafNodes[K comparable, V any](fanout int, less func(a, b K) bool, left, right *leafNode[K, V], sep K) (merged, splitLeft, splitRight *leafNode[K, V], newSep K, split bool) {
	allChildren := make([]*leaf[K, V], 0, len(left.children)+len(right.children))
	for i := range left.children {
		allChildren = append(allChildren, left.children[i].Load())
	}
	for i := range right.children {
		allChildren = append(allChildren, right.children[i].Load())
	}
	allSeparators := make([]K, 0, len(left.separators)+1+len(right.separators))
	allSeparators = append(allSeparators, left.separators...)
	allSeparators = append(allSeparators, sep)
	allSeparators = append(allSeparators, right.separators...)

	if len(allChildren) <= fanout {
		merged = &leafNode[K, V]{
			less:       less,
			fanout:     fanout,
			separators: allSeparators,
			children:   make([]atomic.Pointer[leaf[K, V]], len(allChildren)),
		}
		for i, lf := range allChildren {
			merged.children[i].Store(lf)
		}
		return merged, nil, nil, newSep, false
	}

	mid := len(allChildren) / 2
	splitLeft = &leafNode[K, V]{less: less, fanout: fanout, separators: append([]K{}, allSeparators[:mid-1]...)}
	splitLeft.children = make([]atomic.Pointer[leaf[K, V]], mid)
	for i := 0; i < mid; i++ {
		splitLeft.children[i].Store(allChildren[i])
	}
	splitRight = &leafNode[K, V]{less: less, fanout: fanout, separators: append([]K{}, allSeparators[mid:]...)}
	splitRight.children = make([]atomic.Pointer[leaf[K, V]], len(allChildren)-mid)
	for i := mid; i < len(allChildren); i++ {
		splitRight.children[i-mid].Store(allChildren[i])
	}
	newSep = allSeparators[mid-1]
	return nil, splitLeft, splitRight, newSep, true
}

// mergeInternalNodes mirrors mergeLeafNodes one level up, for a pair of
// internal-node siblings whose children are further nodes rather than
// leaves.
func mergeInternalNodes[K comparable, V any](fanout int, less func(a, b K) bool, left, right *internalNode[K, V], sep K) (merged, splitLeft, splitRight *internalNode[K, V], newSep K, split bool) {
	allChildren := make([]*child[K, V], 0, len(left.children)+len(right.children))
	for i := range left.children {
		allChildren = append(allChildren, left.children[i].Load())
	}
	for i := range right.children {
		allChildren = append(allChildren, right.children[i].Load())
	}
	allSeparators := make([]K, 0, len(left.separators)+1+len(right.separators))
	allSeparators = append(allSeparators, left.separators...)
	allSeparators = append(allSeparators, sep)
	allSeparators = append(allSeparators, right.separators...)

	if len(allChildren) <= fanout {
		merged = &internalNode[K, V]{
			less:       less,
			fanout:     fanout,
			separators: allSeparators,
			children:   make([]atomic.Pointer[child[K, V]], len(allChildren)),
		}
		for i, c := range allChildren {
			merged.children[i].Store(c)
		}
		return merged, nil, nil, newSep, false
	}

	mid := len(allChildren) / 2
	splitLeft = &internalNode[K, V]{less: less, fanout: fanout, separators: append([]K{}, allSeparators[:mid-1]...)}
	splitLeft.children = make([]atomic.Pointer[child[K, V]], mid)
	for i := 0; i < mid; i++ {
		splitLeft.children[i].Store(allChildren[i])
	}
	splitRight = &internalNode[K, V]{less: less, fanout: fanout, separators: append([]K{}, allSeparators[mid:]...)}
	splitRight.children = make([]atomic.Pointer[child[K, V]], len(allChildren)-mid)
	for i := mid; i < len(allChildren); i++ {
		splitRight.children[i-mid].Store(allChildren[i])
	}
	newSep = allSeparators[mid-1]
	return nil, splitLeft, splitRight, newSep, true
}

// rebuildWithoutChild drops children[idx] (and its bounding separator).
// Only called when len(children) > 1.
func (in *internalNode[K, V]) rebuildWithoutChild(idx int) *internalNode[K, V] {
	out := &internalNode[K, V]{
		less:       in.less,
		fanout:     in.fanout,
		children:   make([]atomic.Pointer[child[K, V]], len(in.children)-1),
		separators: make([]K, len(in.separators)-1),
	}
	w := 0
	for i := range in.children {
		if i == idx {
			continue
		}
		out.children[w].Store(in.children[i].Load())
		w++
	}
	sepIdx := idx
	if sepIdx >= len(in.separators) {
		sepIdx = len(in.separators) - 1
	}
	w = 0
	for i := range in.separators {
		if i == sepIdx {
			continue
		}
		out.separators[w] = in.separators[i]
		w++
	}
	return out
}

// rebuildWithSplitChild replaces children[idx] with left and right (the
// result of growing an overflowed grandchild) and inserts sepKey as the
// new separator. ok is false if in has no room for an additional child.
func (in *internalNode[K, V]) rebuildWithSplitChild(idx int, left, right *child[K, V], sepKey K) (*internalNode[K, V], bool) {
	if len(in.children) >= in.fanout {
		return nil, false
	}
	out := &internalNode[K, V]{
		less:       in.less,
		fanout:     in.fanout,
		children:   make([]atomic.Pointer[child[K, V]], len(in.children)+1),
		separators: make([]K, len(in.separators)+1),
	}
	for i := 0; i < idx; i++ {
		out.children[i].Store(in.children[i].Load())
	}
	out.children[idx].Store(left)
	out.children[idx+1].Store(right)
	for i := idx + 1; i < len(in.children); i++ {
		out.children[i+1].Store(in.children[i].Load())
	}

	copy(out.separators[:idx], in.separators[:idx])
	out.separators[idx] = sepKey
	copy(out.separators[idx+1:], in.separators[idx:])

	return out, true
}

// splitInternalNode splits in into two internalNodes after children[idx]
// has been replaced by the (left, right) pair produced by growing an
// overflowed grandchild. It returns the new left and right internalNodes
// and the separator key the caller must promote to its own parent.
func splitInternalNode[K comparable, V any](in *internalNode[K, V], idx int, left, right *child[K, V], sepKey K) (*internalNode[K, V], *internalNode[K, V], K) {
	allChildren := make([]*child[K, V], 0, len(in.children)+1)
	for i := 0; i < idx; i++ {
		allChildren = append(allChildren, in.children[i].Load())
	}
	allChildren = append(allChildren, left, right)
	for i := idx + 1; i < len(in.children); i++ {
		allChildren = append(allChildren, in.children[i].Load())
	}

	allSeparators := make([]K, 0, len(in.separators)+1)
	allSeparators = append(allSeparators, in.separators[:idx]...)
	allSeparators = append(allSeparators, sepKey)
	allSeparators = append(allSeparators, in.separators[idx:]...)

	mid := len(allChildren) / 2
	leftNode := &internalNode[K, V]{less: in.less, fanout: in.fanout, separators: append([]K{}, allSeparators[:mid-1]...)}
	leftNode.children = make([]atomic.Pointer[child[K, V]], mid)
	for i := 0; i < mid; i++ {
		leftNode.children[i].Store(allChildren[i])
	}

	rightNode := &internalNode[K, V]{less: in.less, fanout: in.fanout, separators: append([]K{}, allSeparators[mid:]...)}
	rightNode.children = make([]atomic.Pointer[child[K, V]], len(allChildren)-mid)
	for i := mid; i < len(allChildren); i++ {
		rightNode.children[i-mid].Store(allChildren[i])
	}

	promoted := allSeparators[mid-1]
	return leftNode, rightNode, promoted
}

func newInternalNodeFromSplit[K comparable, V any](less func(a, b K) bool, fanout int, left, right *child[K, V], sepKey K) *internalNode[K, V] {
	in := &internalNode[K, V]{
		less:       less,
		fanout:     fanout,
		separators: []K{sepKey},
		children:   make([]atomic.Pointer[child[K, V]], 2),
	}
	in.children[0].Store(left)
	in.children[1].Store(right)
	return in
}
