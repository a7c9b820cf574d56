package treeindex

import "testing"

func lessInt(a, b int) bool { return a < b }

func TestLeafInsertSearchRemove(t *testing.T) {
	l := newLeaf[int, string](8, lessInt)

	outcome, _ := l.insert(3, "three")
	if outcome != leafInsertOK {
		t.Fatalf("insert(3) outcome = %v, want leafInsertOK", outcome)
	}
	outcome, dup := l.insert(3, "again")
	if outcome != leafInsertDuplicate || dup.value != "three" {
		t.Fatalf("insert(3) again = %v, %+v, want duplicate of three", outcome, dup)
	}

	if v, ok := l.search(3); !ok || v != "three" {
		t.Fatalf("search(3) = %q, %v", v, ok)
	}
	if _, ok := l.search(4); ok {
		t.Fatalf("search(4) unexpectedly found")
	}

	if !l.remove(3) {
		t.Fatalf("remove(3) = false, want true")
	}
	if l.remove(3) {
		t.Fatalf("second remove(3) = true, want false (already retired)")
	}
	if _, ok := l.search(3); ok {
		t.Fatalf("search(3) after remove unexpectedly found")
	}
}

func TestLeafFillsToCapacity(t *testing.T) {
	fanout := 4
	l := newLeaf[int, int](fanout, lessInt)
	for i := 0; i < fanout+1; i++ { // bounded region + the one overflow slot
		outcome, _ := l.insert(i, i*10)
		if outcome != leafInsertOK {
			t.Fatalf("insert(%d) outcome = %v, want OK", i, outcome)
		}
	}
	outcome, _ := l.insert(fanout+1, 0)
	if outcome != leafInsertFull {
		t.Fatalf("insert past capacity outcome = %v, want leafInsertFull", outcome)
	}
	if got := l.count(); got != fanout+1 {
		t.Fatalf("count() = %d, want %d", got, fanout+1)
	}
}

func TestLeafSortedOrder(t *testing.T) {
	l := newLeaf[int, int](8, lessInt)
	for _, k := range []int{5, 1, 4, 2, 3} {
		if outcome, _ := l.insert(k, k); outcome != leafInsertOK {
			t.Fatalf("insert(%d) failed", k)
		}
	}
	sorted := l.sorted()
	for i := 1; i < len(sorted); i++ {
		if !lessInt(sorted[i-1].key, sorted[i].key) {
			t.Fatalf("sorted() not ascending at index %d: %+v", i, sorted)
		}
	}
	if min, ok := l.minKey(); !ok || min != 1 {
		t.Fatalf("minKey() = %d, %v, want 1, true", min, ok)
	}
}

func TestSplitLeaf(t *testing.T) {
	fanout := 4
	l := newLeaf[int, int](fanout, lessInt)
	for i := 0; i < fanout; i++ {
		l.insert(i, i)
	}
	left, right, sep := splitLeaf(fanout, lessInt, l, entry[int, int]{key: fanout, value: fanout})

	if left.count()+right.count() != fanout+1 {
		t.Fatalf("split lost entries: left=%d right=%d, want total %d", left.count(), right.count(), fanout+1)
	}
	for _, e := range left.sorted() {
		if !lessInt(e.key, sep) {
			t.Fatalf("left entry %d >= separator %d", e.key, sep)
		}
	}
	for _, e := range right.sorted() {
		if lessInt(e.key, sep) {
			t.Fatalf("right entry %d < separator %d", e.key, sep)
		}
	}
}
