package treeindex

import "treeindex/pkg/ebr"

// node is the tagged-sum abstraction spec.md §9 calls for in place of an
// inheritance hierarchy: every non-leaf level of the tree is either a
// leafNode (its children are ordered leaves) or an internalNode (its
// children are other nodes). Both satisfy this interface so tree.go's
// recursive search/insert/remove can dispatch without knowing which kind
// of node it holds.
type node[K comparable, V any] interface {
	// searchNode looks up key and reports whether it is live.
	searchNode(key K) (V, bool)

	// insertNode attempts to place (key, value) somewhere in the subtree
	// rooted here. It may return duplicated, grew, splitUp, or retry. reclaimer
	// receives any node or leaf this call supersedes, so the structure it
	// replaces is only reclaimed once no pinned reader could still observe
	// it (spec.md §1(b), §4.1-4.2's epoch-deferred reclamation).
	insertNode(reclaimer *ebr.Reclaimer, key K, value V) error

	// removeNode deletes key from the subtree rooted here. It may return
	// grew, coalesce, underflow, or retry. ok reports whether a live entry was
	// actually removed (distinct from the control-flow errors). Like
	// insertNode, any superseded node or leaf is retired through reclaimer.
	removeNode(reclaimer *ebr.Reclaimer, key K) (ok bool, err error)

	// minKey returns the smallest live key reachable from this node.
	minKey() (K, bool)

	// floor returns the height of the subtree rooted here: 0 if this node's
	// children are leaves, 1+child.floor() otherwise.
	floor() int

	// firstLeaf returns the leftmost ordered leaf reachable from this node,
	// for scanner initialization.
	firstLeaf() *leaf[K, V]

	// leafFor returns the ordered leaf that would hold key.
	leafFor(key K) *leaf[K, V]
}

// child is the tagged pointer spec.md §9 describes: exactly one of leaf or
// internal is non-nil. Storing this struct (rather than the node interface
// directly) behind an atomic.Pointer lets internalNode use a single
// uniform atomic.Pointer[child[K,V]] slice for its children regardless of
// whether the next level down is leaf-bearing or not, the same way the
// Rust source's enum discriminant lets a single child slot hold either
// case without an interface's two-word indirection complicating the CAS.
type child[K comparable, V any] struct {
	leaf     *leafNode[K, V]
	internal *internalNode[K, V]
}

func (c *child[K, V]) node() node[K, V] {
	if c == nil {
		return nil
	}
	if c.leaf != nil {
		return c.leaf
	}
	return c.internal
}

func leafChild[K comparable, V any](ln *leafNode[K, V]) *child[K, V] {
	return &child[K, V]{leaf: ln}
}

func internalChild[K comparable, V any](in *internalNode[K, V]) *child[K, V] {
	return &child[K, V]{internal: in}
}

// deferReleaseChild retires a superseded child through reclaimer: the
// wrapped node's own release (dropping its references to its former
// children so they become collectible as soon as the epoch allows) runs
// only once no Barrier pinned at or before this moment remains active.
// Passing a nil child or reclaimer is a no-op.
func deferReleaseChild[K comparable, V any](reclaimer *ebr.Reclaimer, c *child[K, V]) {
	if reclaimer == nil || c == nil {
		return
	}
	reclaimer.Defer(func() { c.release() })
}

// release drops c's own reference to whichever node it wraps, after
// letting that node release its own children in turn. It does not touch
// the wrapped node's grandchildren that a replacement structure may still
// be aliasing, since those live behind their own, separate atomic.Pointer
// slots.
func (c *child[K, V]) release() {
	if c == nil {
		return
	}
	if c.leaf != nil {
		c.leaf.release()
		c.leaf = nil
	}
	if c.internal != nil {
		c.internal.release()
		c.internal = nil
	}
}
