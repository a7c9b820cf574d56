// Package ebr provides epoch-based memory reclamation for the lock-free
// data structures in pkg/treeindex.
//
// Readers "pin" a Barrier before touching shared structure and release it
// when done; while a Barrier is held, nothing submitted to Defer after the
// pin can be physically reclaimed. Writers retire replaced nodes through
// Defer instead of freeing them immediately, because another goroutine may
// still hold a hazardous pointer to them from inside an active pin.
package ebr

import (
	"sync"
	"sync/atomic"
)

// Reclaimer tracks active pins and the objects retired while they were
// live, and reclaims them once it is safe to do so.
//
// The algorithm:
//  1. The global epoch is a monotonically increasing counter.
//  2. Readers pin the current epoch before accessing shared structure and
//     unpin when done.
//  3. Writers advance the epoch after publishing a structural change.
//  4. A retired object is freed once every reader that could have observed
//     it before retirement has unpinned.
type Reclaimer struct {
	epoch atomic.Uint64

	pins sync.Map // pinID -> *pinState

	retiredMu sync.Mutex
	retired   map[uint64][]func()

	nextPinID atomic.Uint64
}

type pinState struct {
	epoch  uint64
	active atomic.Bool
}

// New creates an empty Reclaimer. The zero value is not usable; always
// construct through New.
func New() *Reclaimer {
	return &Reclaimer{
		retired: make(map[uint64][]func()),
	}
}

// Barrier is a scoped declaration that the pinning goroutine may observe
// objects reachable from the structures this Reclaimer protects. Barriers
// are cheap: a single atomic epoch snapshot and a map entry.
type Barrier struct {
	r     *Reclaimer
	state *pinState
	id    uint64
}

// Pin acquires a Barrier scoped to the epoch current at the time of the
// call. Pins are re-entrant in the sense that nested pins are each
// independently safe, though (unlike a true thread-local epoch counter)
// they are not collapsed into a single registration.
func (r *Reclaimer) Pin() *Barrier {
	id := r.nextPinID.Add(1)
	state := &pinState{epoch: r.epoch.Load()}
	state.active.Store(true)
	r.pins.Store(id, state)
	return &Barrier{r: r, state: state, id: id}
}

// Unpin releases the Barrier. Once every Barrier pinned no later than a
// given Defer call has unpinned, the deferred destructor becomes eligible
// to run.
func (b *Barrier) Unpin() {
	if b == nil || b.state == nil {
		return
	}
	b.state.active.Store(false)
	b.r.pins.Delete(b.id)
}

// Epoch returns the epoch this Barrier was pinned at.
func (b *Barrier) Epoch() uint64 {
	if b == nil || b.state == nil {
		return 0
	}
	return b.state.epoch
}

// Advance bumps the global epoch. Writers call this after a structural
// change becomes visible to new readers.
func (r *Reclaimer) Advance() uint64 {
	return r.epoch.Add(1)
}

// CurrentEpoch returns the current global epoch.
func (r *Reclaimer) CurrentEpoch() uint64 {
	return r.epoch.Load()
}

// Defer enqueues fn to run once no Barrier pinned at or before the current
// epoch remains active. fn is called exactly once. The caller must not
// assume any particular goroutine runs fn, nor that it runs promptly —
// destructors run only inside TryReclaim (or Quiesce), called from any
// goroutine.
func (r *Reclaimer) Defer(fn func()) {
	if fn == nil {
		return
	}
	epoch := r.epoch.Load()
	r.retiredMu.Lock()
	r.retired[epoch] = append(r.retired[epoch], fn)
	r.retiredMu.Unlock()
}

// TryReclaim runs every destructor that has become safe to run and returns
// how many ran. It is never required for correctness — a Reclaimer that is
// never explicitly reclaimed simply grows its retired list — but calling
// it opportunistically (as the tree does after every structural write)
// keeps steady-state memory bounded.
//
// The retiredMu mutex here guards only the bookkeeping map. The tree's
// read path never takes it; its Insert and Remove take it briefly, since
// they call TryReclaim after every successful write.
func (r *Reclaimer) TryReclaim() int {
	minEpoch := r.minActiveEpoch()

	r.retiredMu.Lock()
	var ready []func()
	for epoch, fns := range r.retired {
		if epoch < minEpoch {
			ready = append(ready, fns...)
			delete(r.retired, epoch)
		}
	}
	r.retiredMu.Unlock()

	// Run destructors outside the lock so a slow destructor never blocks
	// concurrent retirements.
	for _, fn := range ready {
		fn()
	}
	return len(ready)
}

func (r *Reclaimer) minActiveEpoch() uint64 {
	min := r.epoch.Load()
	r.pins.Range(func(_, v any) bool {
		st := v.(*pinState)
		if st.active.Load() && st.epoch < min {
			min = st.epoch
		}
		return true
	})
	return min
}

// PendingCount reports how many destructors are retired but not yet safe
// to run. Diagnostic only.
func (r *Reclaimer) PendingCount() int {
	r.retiredMu.Lock()
	defer r.retiredMu.Unlock()
	n := 0
	for _, fns := range r.retired {
		n += len(fns)
	}
	return n
}

// ActivePins reports how many Barriers are currently held. Diagnostic only.
func (r *Reclaimer) ActivePins() int {
	n := 0
	r.pins.Range(func(_, v any) bool {
		if v.(*pinState).active.Load() {
			n++
		}
		return true
	})
	return n
}

// Quiesce runs TryReclaim until nothing is pending. It does not wait for
// readers: it stops as soon as any Barrier is active or a pass reclaims
// nothing. It
// is used by TreeIndex.Close-style teardown paths that want a best-effort
// drain rather than leaving garbage for the next opportunistic pass.
func (r *Reclaimer) Quiesce() {
	for r.PendingCount() > 0 && r.ActivePins() == 0 {
		r.Advance()
		if r.TryReclaim() == 0 {
			return
		}
	}
}
