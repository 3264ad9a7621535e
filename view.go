package ecss

import (
	"iter"
	"unsafe"

	"ecss/internal/arena"
	"ecss/internal/sector"
	"ecss/internal/sectors"
)

// Range restricts a view to the dense slot indices [From, To).
type Range struct {
	From int
	To   int
}

// viewBase carries what every view needs for its main type: the array,
// the placement record, a read guard bounding iteration, and the optional
// index ranges.
type viewBase struct {
	arr   *sectors.Array
	meta  *sector.Meta
	guard sectors.ReadGuard
	w     arena.Walker
	rs    [][2]int
}

func openView(main mainAccess, rs []Range) viewBase {
	v := viewBase{arr: main.arr, meta: main.meta}
	if v.arr == nil {
		return v
	}
	if len(rs) == 0 {
		v.guard = v.arr.BeginRead()
		v.w = v.arr.Walker()
		return v
	}
	v.rs = make([][2]int, len(rs))
	upper := 0
	for i, rg := range rs {
		v.rs[i] = [2]int{rg.From, rg.To}
		if rg.To > upper {
			upper = rg.To
		}
	}
	v.guard = v.arr.BeginReadBounded(upper)
	v.w = v.arr.Walker()
	return v
}

type mainAccess struct {
	arr  *sectors.Array
	meta *sector.Meta
}

func accessFor[T any](r *Registry) mainAccess {
	a, m, ok := r.arrayForType(typeOf[T](), false)
	if !ok {
		return mainAccess{}
	}
	return mainAccess{arr: a, meta: m}
}

func (v *viewBase) close() {
	if v.arr != nil {
		v.guard.Close()
		v.arr = nil
	}
}

// eachSlot drives the main iteration: a stride-constant loop over each
// chunk span, gated by the main alive mask. Ranged views reuse the
// ranged iterator instead.
func (v *viewBase) eachSlot(fn func(p unsafe.Pointer, idx int) bool) {
	if v.arr == nil {
		return
	}
	if v.rs != nil {
		// The guard's pin freezes every slot below the bound, so the
		// cursor can walk the snapshot without re-taking the array lock.
		cur := v.w.RangedCursor(v.rs, v.guard.Bound)
		for ; !cur.Done(); cur.Next() {
			if !sector.IsAlive(cur.Ptr(), v.meta.AliveMask) {
				continue
			}
			if !fn(cur.Ptr(), cur.Index()) {
				return
			}
		}
		return
	}
	stride := v.w.Stride()
	mask := v.meta.AliveMask
	for i := 0; i < v.guard.Bound; {
		p, end := v.w.Span(i, v.guard.Bound)
		for ; i < end; i++ {
			if sector.IsAlive(p, mask) {
				if !fn(p, i) {
					return
				}
			}
			p = unsafe.Add(p, stride)
		}
	}
}

// View iterates one component type.
type View[T any] struct {
	base viewBase
}

// ViewOf opens a view over every entity carrying T, optionally restricted
// to dense index ranges. In a ThreadSafe registry the view pins its upper
// bound sector until Close, which fixes the iteration bound under
// concurrent appends and blocks compaction below it.
func ViewOf[T any](r *Registry, rs ...Range) *View[T] {
	return &View[T]{base: openView(accessFor[T](r), rs)}
}

// Each calls fn once per qualifying entity, in ascending id order.
func (v *View[T]) Each(fn func(EntityID, *T)) {
	off := uintptr(0)
	if v.base.meta != nil {
		off = v.base.meta.Offset
	}
	v.base.eachSlot(func(p unsafe.Pointer, _ int) bool {
		fn(sector.ID(p), (*T)(sector.Payload(p, off)))
		return true
	})
}

// All returns an iterator over (id, *T) pairs.
func (v *View[T]) All() iter.Seq2[EntityID, *T] {
	return func(yield func(EntityID, *T) bool) {
		off := uintptr(0)
		if v.base.meta != nil {
			off = v.base.meta.Offset
		}
		v.base.eachSlot(func(p unsafe.Pointer, _ int) bool {
			return yield(sector.ID(p), (*T)(sector.Payload(p, off)))
		})
	}
}

// Count returns the number of entities the view would yield.
func (v *View[T]) Count() int {
	n := 0
	v.base.eachSlot(func(unsafe.Pointer, int) bool { n++; return true })
	return n
}

// Empty reports whether the view yields nothing.
func (v *View[T]) Empty() bool {
	empty := true
	v.base.eachSlot(func(unsafe.Pointer, int) bool { empty = false; return false })
	return empty
}

// Close releases the view's pins. Required in ThreadSafe registries;
// harmless otherwise.
func (v *View[T]) Close() { v.base.close() }

// secondary resolves a non-main component during iteration. A grouped
// secondary lives in the main slot and is read at its offset. Otherwise a
// ranged cursor over the secondary's own array catches up lazily: main
// ids ascend, so the cursor only ever moves forward.
type secondary struct {
	grouped bool
	meta    *sector.Meta
	arr     *sectors.Array
	guard   sectors.ReadGuard
	cur     arena.RangedCursor
}

func openSecondary[T any](r *Registry, main *viewBase) secondary {
	a, m, ok := r.arrayForType(typeOf[T](), false)
	if !ok {
		return secondary{}
	}
	if a == main.arr {
		return secondary{grouped: true, meta: m, arr: a}
	}
	s := secondary{meta: m, arr: a}
	s.guard = a.BeginRead()
	s.cur = a.Walker().RangedCursor([][2]int{{0, s.guard.Bound}}, s.guard.Bound)
	return s
}

// resolve returns the payload address of this secondary for the main slot,
// or nil when the entity lacks the component.
func (s *secondary) resolve(mainSlot unsafe.Pointer) unsafe.Pointer {
	if s.meta == nil {
		return nil
	}
	if s.grouped {
		if !sector.IsAlive(mainSlot, s.meta.AliveMask) {
			return nil
		}
		return sector.Payload(mainSlot, s.meta.Offset)
	}
	id := sector.ID(mainSlot)
	for !s.cur.Done() && sector.ID(s.cur.Ptr()) < id {
		s.cur.Next()
	}
	if s.cur.Done() {
		return nil
	}
	p := s.cur.Ptr()
	if sector.ID(p) != id || !sector.IsAlive(p, s.meta.AliveMask) {
		return nil
	}
	return sector.Payload(p, s.meta.Offset)
}

// reset reseats the lazy cursor so the view can be walked again.
func (s *secondary) reset() {
	if s.arr != nil && !s.grouped {
		s.cur.AdvanceTo(0)
	}
}

func (s *secondary) close() {
	if s.arr != nil && !s.grouped {
		s.guard.Close()
	}
	s.arr = nil
}

// View2 iterates a main type T1 projecting a second type T2.
type View2[T1, T2 any] struct {
	base viewBase
	sec  secondary
}

// View2Of opens a view over entities carrying both T1 and T2. T1 drives
// the iteration; grouped pairs project T2 from the same slot, ungrouped
// pairs resolve it through a lazy cursor over T2's array.
func View2Of[T1, T2 any](r *Registry, rs ...Range) *View2[T1, T2] {
	v := &View2[T1, T2]{base: openView(accessFor[T1](r), rs)}
	v.sec = openSecondary[T2](r, &v.base)
	return v
}

// Each calls fn once per entity carrying both components, in ascending id
// order.
func (v *View2[T1, T2]) Each(fn func(EntityID, *T1, *T2)) {
	v.sec.reset()
	off := uintptr(0)
	if v.base.meta != nil {
		off = v.base.meta.Offset
	}
	v.base.eachSlot(func(p unsafe.Pointer, _ int) bool {
		p2 := v.sec.resolve(p)
		if p2 == nil {
			return true
		}
		fn(sector.ID(p), (*T1)(sector.Payload(p, off)), (*T2)(p2))
		return true
	})
}

// Count returns the number of complete (T1, T2) pairs.
func (v *View2[T1, T2]) Count() int {
	n := 0
	v.Each(func(EntityID, *T1, *T2) { n++ })
	return n
}

// Empty reports whether the view yields nothing.
func (v *View2[T1, T2]) Empty() bool { return v.Count() == 0 }

// Close releases the view's pins on both arrays.
func (v *View2[T1, T2]) Close() {
	v.sec.close()
	v.base.close()
}

// View3 iterates a main type T1 projecting T2 and T3.
type View3[T1, T2, T3 any] struct {
	base viewBase
	sec2 secondary
	sec3 secondary
}

// View3Of opens a view over entities carrying T1, T2, and T3, driven by
// T1.
func View3Of[T1, T2, T3 any](r *Registry, rs ...Range) *View3[T1, T2, T3] {
	v := &View3[T1, T2, T3]{base: openView(accessFor[T1](r), rs)}
	v.sec2 = openSecondary[T2](r, &v.base)
	v.sec3 = openSecondary[T3](r, &v.base)
	return v
}

// Each calls fn once per entity carrying all three components.
func (v *View3[T1, T2, T3]) Each(fn func(EntityID, *T1, *T2, *T3)) {
	v.sec2.reset()
	v.sec3.reset()
	off := uintptr(0)
	if v.base.meta != nil {
		off = v.base.meta.Offset
	}
	v.base.eachSlot(func(p unsafe.Pointer, _ int) bool {
		p2 := v.sec2.resolve(p)
		if p2 == nil {
			return true
		}
		p3 := v.sec3.resolve(p)
		if p3 == nil {
			return true
		}
		fn(sector.ID(p), (*T1)(sector.Payload(p, off)), (*T2)(p2), (*T3)(p3))
		return true
	})
}

// Count returns the number of complete triples.
func (v *View3[T1, T2, T3]) Count() int {
	n := 0
	v.Each(func(EntityID, *T1, *T2, *T3) { n++ })
	return n
}

// Empty reports whether the view yields nothing.
func (v *View3[T1, T2, T3]) Empty() bool { return v.Count() == 0 }

// Close releases the view's pins on every involved array.
func (v *View3[T1, T2, T3]) Close() {
	v.sec3.close()
	v.sec2.close()
	v.base.close()
}
