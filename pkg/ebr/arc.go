package ebr

import "sync/atomic"

// Arc is a strong, reference-counted handle to a reclamation-managed
// instance of T. It is the Go analogue of scc's ebr::Arc: readers reach an
// Arc via an atomic load performed under a Barrier, and may promote the
// short-lived Ptr they get from it into a durable Arc of their own via
// TryArcFromPtr.
type Arc[T any] struct {
	box *arcBox[T]
}

type arcBox[T any] struct {
	value T
	refs  atomic.Int64
}

// NewArc allocates v and returns a handle with reference count 1.
func NewArc[T any](v T) *Arc[T] {
	box := &arcBox[T]{value: v}
	box.refs.Store(1)
	return &Arc[T]{box: box}
}

// Get returns a pointer to the underlying value. The pointer is valid for
// as long as the caller holds this Arc (or any clone of it, or a Barrier
// obtained no later than when the caller last observed this Arc via a
// hazardous Ptr).
func (a *Arc[T]) Get() *T {
	return &a.box.value
}

// Clone increments the reference count and returns a new handle to the
// same instance. Relaxed ordering is adequate: the caller already holds a
// live reference, so there is no happens-before edge left to establish.
func (a *Arc[T]) Clone() *Arc[T] {
	a.box.refs.Add(1)
	return &Arc[T]{box: a.box}
}

// Drop decrements the reference count. If it reaches zero the instance is
// submitted to r.Defer rather than freed immediately, since another
// goroutine may still hold a hazardous Ptr to it obtained from inside an
// active Barrier.
func (a *Arc[T]) Drop(r *Reclaimer) {
	if a.box.refs.Add(-1) == 0 {
		box := a.box
		r.Defer(func() { box.value = *new(T) })
	}
}

// DropInPlace behaves like Drop, but asserts that no hazardous Ptr to the
// instance exists anywhere (for example, the caller holds the only
// reference and no Barrier was ever pinned while it was reachable).
// Destruction runs synchronously instead of going through the reclaimer.
func (a *Arc[T]) DropInPlace() {
	if a.box.refs.Add(-1) == 0 {
		a.box.value = *new(T)
	}
}

// Ptr yields a short-lived hazardous pointer to the instance, valid for
// the lifetime of the given Barrier.
func (a *Arc[T]) Ptr(_ *Barrier) Ptr[T] {
	return Ptr[T]{box: a.box}
}

// Ptr is a hazardous pointer: valid only while the Barrier it was derived
// from remains pinned. It carries no reference count of its own.
type Ptr[T any] struct {
	box *arcBox[T]
}

// IsNil reports whether the Ptr refers to nothing.
func (p Ptr[T]) IsNil() bool {
	return p.box == nil
}

// Value dereferences the hazardous pointer. Valid only while the
// originating Barrier is still pinned.
func (p Ptr[T]) Value() *T {
	if p.box == nil {
		return nil
	}
	return &p.box.value
}

// TryArcFromPtr attempts to promote a hazardous pointer into a strong
// Arc by incrementing the reference count if and only if it is currently
// nonzero. It fails (ok == false) if the instance's last strong reference
// has already been dropped, since after that point no new strong handle
// may be manufactured — the ref-count transition from positive to zero
// happens exactly once and is terminal.
func TryArcFromPtr[T any](p Ptr[T]) (arc *Arc[T], ok bool) {
	if p.box == nil {
		return nil, false
	}
	for {
		cur := p.box.refs.Load()
		if cur <= 0 {
			return nil, false
		}
		if p.box.refs.CompareAndSwap(cur, cur+1) {
			return &Arc[T]{box: p.box}, true
		}
	}
}
