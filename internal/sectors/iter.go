package sectors

import (
	"unsafe"

	"ecss/internal/arena"
	"ecss/internal/sector"
)

// Iter walks the dense prefix, yielding every slot or only those whose
// alive bits intersect a mask. The usual loop is
//
//	for it := a.IterLocked(mask, -1); it.Next(); {
//		_ = it.ID()
//	}
type Iter struct {
	c       arena.Cursor
	end     int
	mask    uint32 // 0 = yield every slot, dead ones included
	started bool
}

// IterLocked returns an iterator over [0, bound). bound < 0 means the
// current prefix length. The caller must hold the lock or follow the read
// discipline (a bound captured under BeginRead).
func (a *Array) IterLocked(mask uint32, bound int) Iter {
	if bound < 0 || bound > a.size {
		bound = a.size
	}
	return Iter{c: a.arena.Cursor(bound), end: bound, mask: mask}
}

// Next advances to the next qualifying slot.
func (it *Iter) Next() bool {
	for {
		if !it.started {
			it.started = true
			it.c.Seek(0)
		} else {
			it.c.Next()
		}
		if it.c.Index() >= it.end {
			return false
		}
		if it.mask == 0 || sector.IsAlive(it.c.Ptr(), it.mask) {
			return true
		}
	}
}

// Ptr returns the current slot address.
func (it *Iter) Ptr() unsafe.Pointer { return it.c.Ptr() }

// ID returns the current sector id.
func (it *Iter) ID() uint32 { return sector.ID(it.c.Ptr()) }

// Index returns the current linear index.
func (it *Iter) Index() int { return it.c.Index() }

// RangedIter is Iter restricted to a list of half-open index ranges.
type RangedIter struct {
	c    arena.RangedCursor
	mask uint32
	live bool
}

// IterRangesLocked returns an iterator over the given ascending index
// ranges, clipped to bound (or the prefix length when bound < 0).
func (a *Array) IterRangesLocked(mask uint32, rs [][2]int, bound int) RangedIter {
	if bound < 0 || bound > a.size {
		bound = a.size
	}
	return RangedIter{c: a.arena.RangedCursor(rs, bound), mask: mask}
}

// Next advances to the next qualifying slot.
func (it *RangedIter) Next() bool {
	if it.live {
		it.c.Next()
	}
	it.live = true
	for !it.c.Done() {
		if it.mask == 0 || sector.IsAlive(it.c.Ptr(), it.mask) {
			return true
		}
		it.c.Next()
	}
	return false
}

// Ptr returns the current slot address.
func (it *RangedIter) Ptr() unsafe.Pointer { return it.c.Ptr() }

// ID returns the current sector id.
func (it *RangedIter) ID() uint32 { return sector.ID(it.c.Ptr()) }

// Index returns the current linear index.
func (it *RangedIter) Index() int { return it.c.Index() }

// ReadGuard captures a stable iteration bound over an array. In
// thread-safe mode it pins the sector at the bound's upper edge, which
// both fixes the bound under concurrent appends and blocks every shifting
// write below it, and it marks the array as reader-locked so maintenance
// skips defragmentation and buffer reclamation while the guard is open.
type ReadGuard struct {
	a      *Array
	Bound  int
	pinned uint32
}

// BeginRead opens a read guard over the current prefix.
func (a *Array) BeginRead() ReadGuard {
	return a.beginRead(-1)
}

// BeginReadBounded opens a read guard over [0, min(upper, Len())).
func (a *Array) BeginReadBounded(upper int) ReadGuard {
	return a.beginRead(upper)
}

func (a *Array) beginRead(upper int) ReadGuard {
	a.mu.RLock()
	bound := a.size
	if upper >= 0 && upper < bound {
		bound = upper
	}
	g := ReadGuard{a: a, Bound: bound, pinned: NoSector}
	if a.safe {
		if bound > 0 {
			g.pinned = sector.ID(a.arena.At(bound - 1))
			a.pins.Pin(g.pinned)
		}
		a.pins.MarkReader()
	}
	a.mu.RUnlock()
	return g
}

// Close releases the guard's pin and reader mark. Further calls are
// no-ops.
func (g *ReadGuard) Close() {
	if g.a == nil {
		return
	}
	if g.a.safe {
		if g.pinned != NoSector {
			g.a.pins.Unpin(g.pinned)
		}
		g.a.pins.UnmarkReader()
	}
	g.a = nil
}
