// Package treeindex implements a scalable, lock-free, concurrent ordered
// key-value index: reads never block, and non-structural writes never
// block each other. It follows the same epoch-based reclamation and
// copy-on-write node rebuild approach as pkg/cowbtree did for a
// persistent page tree, generalized here to a purely in-memory structure
// with per-leaf-entry CAS instead of a global write mutex.
package treeindex

import (
	"cmp"
	"sync/atomic"

	"treeindex/pkg/ebr"
)

// TreeIndex is a concurrent ordered map keyed by K, holding values of type
// V. The zero value is not usable; construct with New or NewWithConfig.
type TreeIndex[K comparable, V any] struct {
	root      atomic.Pointer[child[K, V]]
	reclaimer *ebr.Reclaimer
	config    Config
	less      func(a, b K) bool
	closed    atomic.Bool

	len atomic.Int64
}

// New constructs an empty TreeIndex for an ordered key type, using
// DefaultConfig.
func New[K cmp.Ordered, V any]() *TreeIndex[K, V] {
	return NewWithConfig[K, V](DefaultConfig(), cmp.Less[K])
}

// NewWithConfig constructs an empty TreeIndex with an explicit Config and
// ordering function, for key types that do not satisfy cmp.Ordered (for
// example a struct key compared by a derived field).
func NewWithConfig[K comparable, V any](config Config, less func(a, b K) bool) *TreeIndex[K, V] {
	return &TreeIndex[K, V]{
		reclaimer: ebr.New(),
		config:    config.normalized(),
		less:      less,
	}
}

// Insert places (key, value) if key is not already live. It returns a
// *DuplicateError[K,V] if key already has a live value.
func (t *TreeIndex[K, V]) Insert(key K, value V) error {
	if t.closed.Load() {
		return ErrClosed
	}
	for {
		barrier := t.reclaimer.Pin()
		rootSlot := t.root.Load()
		if rootSlot == nil {
			newRoot := leafChild(newLeafNodeSingle[K, V](t.config.Fanout, t.less))
			t.root.CompareAndSwap(nil, newRoot)
			barrier.Unpin()
			continue
		}

		err := rootSlot.node().insertNode(t.reclaimer, key, value)
		switch e := err.(type) {
		case nil:
			t.len.Add(1)
			barrier.Unpin()
			t.reclaimer.Advance()
			t.reclaimer.TryReclaim()
			return nil
		case duplicated[K, V]:
			barrier.Unpin()
			return &DuplicateError[K, V]{Key: key, Value: value}
		case grew[K, V]:
			// The rebuilt root already holds (key, value): installing it
			// completes the insert.
			replacement := wrapChild[K, V](e.replacement)
			if t.root.CompareAndSwap(rootSlot, replacement) {
				deferReleaseChild(t.reclaimer, rootSlot)
				t.len.Add(1)
				barrier.Unpin()
				t.reclaimer.Advance()
				t.reclaimer.TryReclaim()
				return nil
			}
			barrier.Unpin()
			continue
		case splitUp[K, V]:
			left, right := wrapChild[K, V](e.left), wrapChild[K, V](e.right)
			newRoot := internalChild(newInternalNodeFromSplit(t.less, t.config.Fanout, left, right, e.sepKey))
			if t.root.CompareAndSwap(rootSlot, newRoot) {
				// The old root itself was split into left/right (brand new
				// node objects with their own children slices); it is
				// superseded even though its grandchildren are shared.
				deferReleaseChild(t.reclaimer, rootSlot)
				t.len.Add(1)
				barrier.Unpin()
				t.reclaimer.Advance()
				t.reclaimer.TryReclaim()
				return nil
			}
			barrier.Unpin()
			continue
		default:
			barrier.Unpin()
			continue // retry, or an unrecognized transient signal
		}
	}
}

// Remove deletes key if it is live and reports whether it was.
func (t *TreeIndex[K, V]) Remove(key K) bool {
	if t.closed.Load() {
		return false
	}
	hasBeenRemoved := false
	for {
		barrier := t.reclaimer.Pin()
		rootSlot := t.root.Load()
		if rootSlot == nil {
			barrier.Unpin()
			return hasBeenRemoved
		}

		removed, err := rootSlot.node().removeNode(t.reclaimer, key)
		hasBeenRemoved = hasBeenRemoved || removed
		switch e := err.(type) {
		case nil:
			barrier.Unpin()
			if removed {
				t.len.Add(-1)
				t.reclaimer.Advance()
				t.reclaimer.TryReclaim()
			}
			return hasBeenRemoved
		case grew[K, V]:
			replacement := wrapChild[K, V](e.replacement)
			if t.root.CompareAndSwap(rootSlot, replacement) {
				deferReleaseChild(t.reclaimer, rootSlot)
			}
			barrier.Unpin()
			if removed {
				t.len.Add(-1)
				t.reclaimer.Advance()
				t.reclaimer.TryReclaim()
			}
			return hasBeenRemoved
		case underflow[K, V]:
			// The root is exempt from the minimum-children invariant (there
			// is no sibling to merge it with), so an underflow reported all
			// the way up to here is installed like grew, except that an
			// internal root left with a single child is collapsed: the root
			// pointer swings to that child instead.
			n := e.replacement
			for {
				in, ok := n.(*internalNode[K, V])
				if !ok || len(in.children) != 1 {
					break
				}
				n = in.children[0].Load().node()
			}
			replacement := wrapChild[K, V](n)
			if t.root.CompareAndSwap(rootSlot, replacement) {
				deferReleaseChild(t.reclaimer, rootSlot)
			}
			barrier.Unpin()
			if removed {
				t.len.Add(-1)
				t.reclaimer.Advance()
				t.reclaimer.TryReclaim()
			}
			return hasBeenRemoved
		case coalesce:
			if t.root.CompareAndSwap(rootSlot, nil) {
				deferReleaseChild(t.reclaimer, rootSlot)
			}
			barrier.Unpin()
			if removed {
				t.len.Add(-1)
			}
			t.reclaimer.Advance()
			t.reclaimer.TryReclaim()
			return hasBeenRemoved
		default:
			barrier.Unpin()
			if removed {
				// The entry was retired before the install lost its race.
				t.len.Add(-1)
			}
			continue // retry
		}
	}
}

// Read invokes fn with the value associated with key, if key is live, and
// reports whether it was found. fn runs under the same epoch pin that
// performed the lookup, so it observes a value safe from reclamation; fn
// must not call back into the tree.
func (t *TreeIndex[K, V]) Read(key K, fn func(value V)) bool {
	if t.closed.Load() {
		return false
	}
	barrier := t.reclaimer.Pin()
	defer barrier.Unpin()

	rootSlot := t.root.Load()
	if rootSlot == nil {
		return false
	}
	value, ok := rootSlot.node().searchNode(key)
	if ok {
		fn(value)
	}
	return ok
}

// Get is a convenience wrapper around Read that copies the value out.
func (t *TreeIndex[K, V]) Get(key K) (V, bool) {
	var out V
	found := t.Read(key, func(v V) { out = v })
	return out, found
}

// Clear empties the tree. Existing Scanners already pinned keep observing
// the tree as it was at the moment they started (see scanner.go); new
// operations see an empty tree as soon as the root swap below becomes
// visible.
func (t *TreeIndex[K, V]) Clear() {
	barrier := t.reclaimer.Pin()
	t.root.Store(nil)
	t.len.Store(0)
	barrier.Unpin()
	t.reclaimer.Advance()
	t.reclaimer.TryReclaim()
}

// Len returns the number of live entries. It is an O(1) counter maintained
// alongside Insert/Remove rather than a full scan; see DESIGN.md for why
// this is not linearizable with concurrent structural writes the way a
// full iter().count() would be (spec's first Open Question).
func (t *TreeIndex[K, V]) Len() int {
	return int(t.len.Load())
}

// Depth returns the tree's height: 0 for an empty tree, otherwise
// 1+root.floor().
func (t *TreeIndex[K, V]) Depth() int {
	barrier := t.reclaimer.Pin()
	defer barrier.Unpin()

	rootSlot := t.root.Load()
	if rootSlot == nil {
		return 0
	}
	return rootSlot.node().floor() + 1
}

// Close releases background reclamation resources. Outstanding Scanners
// remain valid until they are themselves closed. After Close, Insert and
// Read report ErrClosed / false respectively.
func (t *TreeIndex[K, V]) Close() {
	t.closed.Store(true)
	t.reclaimer.Quiesce()
}
