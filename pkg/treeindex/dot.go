package treeindex

import (
	"fmt"
	"io"
)

// Print writes a Graphviz DOT representation of the tree's current
// structure to w, for debugging. It is a thin diagnostic facade, not part
// of the concurrency-safe API: callers should not run it against a tree
// under concurrent structural modification if they want a coherent
// snapshot, though it will not corrupt anything if they do (it only reads
// through the same pinned-barrier path every other read uses).
func (t *TreeIndex[K, V]) Print(w io.Writer) error {
	barrier := t.reclaimer.Pin()
	defer barrier.Unpin()

	fmt.Fprintln(w, "digraph treeindex {")
	fmt.Fprintln(w, "  node [shape=record];")
	rootSlot := t.root.Load()
	if rootSlot != nil {
		printNode(w, rootSlot.node(), "root")
	}
	fmt.Fprintln(w, "}")
	return nil
}

func printNode[K comparable, V any](w io.Writer, n node[K, V], id string) {
	switch v := n.(type) {
	case *leafNode[K, V]:
		fmt.Fprintf(w, "  %q [label=\"leafNode|children=%d\"];\n", id, len(v.children))
		for i := range v.children {
			lf := v.children[i].Load()
			leafID := fmt.Sprintf("%s_leaf%d", id, i)
			fmt.Fprintf(w, "  %q [label=\"leaf|count=%d\"];\n", leafID, lf.count())
			fmt.Fprintf(w, "  %q -> %q;\n", id, leafID)
		}
	case *internalNode[K, V]:
		fmt.Fprintf(w, "  %q [label=\"internalNode|children=%d\"];\n", id, len(v.children))
		for i := range v.children {
			childID := fmt.Sprintf("%s_%d", id, i)
			fmt.Fprintf(w, "  %q -> %q;\n", id, childID)
			printNode(w, v.children[i].Load().node(), childID)
		}
	}
}
