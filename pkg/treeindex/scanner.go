package treeindex

import "treeindex/pkg/ebr"

// Scanner walks live entries in ascending key order. It holds a single
// epoch Barrier for its entire lifetime (see DESIGN.md's note on the
// spec's "scanner lifetime tied to its pin" design point): every leaf the
// scan has already visited, or will visit, remains unreclaimed for as long
// as the Scanner is open, because leaves are only deferred for reclamation
// after being unlinked from every tree position a pinned reader could
// still reach. A Scanner must be closed with Close when no longer needed,
// or it pins the epoch indefinitely and the reclaimer's retired list grows
// without bound.
type Scanner[K comparable, V any] struct {
	barrier *ebr.Barrier
	cur     *leaf[K, V]
	idx     int
	sorted  []entry[K, V]

	lastKey    K
	hasLastKey bool

	entry entry[K, V]

	less   func(a, b K) bool
	closed bool
}

// Iter opens a Scanner positioned before the first live entry.
func (t *TreeIndex[K, V]) Iter() *Scanner[K, V] {
	barrier := t.reclaimer.Pin()
	s := &Scanner[K, V]{barrier: barrier, less: t.less}
	rootSlot := t.root.Load()
	if rootSlot != nil {
		s.cur = rootSlot.node().firstLeaf()
		s.sorted = s.cur.sorted()
	}
	return s
}

// From opens a Scanner positioned before the first live entry with a key
// greater than or equal to key.
func (t *TreeIndex[K, V]) From(key K) *Scanner[K, V] {
	barrier := t.reclaimer.Pin()
	s := &Scanner[K, V]{barrier: barrier, less: t.less}
	rootSlot := t.root.Load()
	if rootSlot == nil {
		return s
	}
	s.cur = rootSlot.node().leafFor(key)
	s.sorted = s.cur.sorted()
	for s.idx < len(s.sorted) && s.less(s.sorted[s.idx].key, key) {
		s.idx++
	}
	// The leaf located by leafFor may not hold any key >= key if key falls
	// in a gap this leaf's separator doesn't perfectly describe during a
	// concurrent split; advance across leaves until a qualifying entry (or
	// the end of the chain) is found.
	for s.idx >= len(s.sorted) {
		next := s.cur.next.Load()
		if next == nil {
			break
		}
		s.cur = next
		s.sorted = s.cur.sorted()
		s.idx = 0
		for s.idx < len(s.sorted) && s.less(s.sorted[s.idx].key, key) {
			s.idx++
		}
	}
	return s
}

// Next advances the scan and reports whether another live entry was
// found. After Next returns true, Key and Value report the current entry.
//
// A structural change (split or coalesce) racing with the scan may move
// entries between leaves; Next re-checks against the last key it yielded
// so a racing split never repeats or skips an entry purely because it
// moved to a different physical leaf mid-scan (spec's scanner
// de-duplication rule).
func (s *Scanner[K, V]) Next() bool {
	for {
		if s.cur == nil {
			return false
		}
		if s.idx >= len(s.sorted) {
			next := s.cur.next.Load()
			if next == nil {
				s.cur = nil
				return false
			}
			s.cur = next
			s.sorted = s.cur.sorted()
			s.idx = 0
			continue
		}
		e := s.sorted[s.idx]
		s.idx++
		if s.hasLastKey && !s.less(s.lastKey, e.key) {
			continue // already yielded this key (or an equal one) before a jump
		}
		s.lastKey = e.key
		s.hasLastKey = true
		s.entry = e
		return true
	}
}

// Key returns the key of the entry Next most recently produced.
func (s *Scanner[K, V]) Key() K { return s.entry.key }

// Value returns the value of the entry Next most recently produced.
func (s *Scanner[K, V]) Value() V { return s.entry.value }

// Close releases the Scanner's epoch pin. Further calls to Next return
// false.
func (s *Scanner[K, V]) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.cur = nil
	s.barrier.Unpin()
}
