package arena

import (
	"sort"
	"unsafe"
)

// Cursor walks slots linearly, stepping by stride and rolling to the next
// chunk at boundaries. Advancing and random seeks are O(1).
type Cursor struct {
	a        *Arena
	idx      int
	ptr      unsafe.Pointer
	chunkEnd int
}

// Cursor returns a linear cursor positioned at slot start. start may equal
// the arena capacity, producing an end cursor.
func (a *Arena) Cursor(start int) Cursor {
	c := Cursor{a: a}
	c.Seek(start)
	return c
}

// Seek repositions the cursor at linear index i.
func (c *Cursor) Seek(i int) {
	c.idx = i
	if i < c.a.Cap() {
		c.ptr = c.a.At(i)
		c.chunkEnd = (i>>c.a.shift + 1) << c.a.shift
	} else {
		c.ptr = nil
		c.chunkEnd = i
	}
}

// Next advances to the following slot.
func (c *Cursor) Next() {
	c.idx++
	if c.ptr == nil || c.idx == c.chunkEnd {
		c.Seek(c.idx)
		return
	}
	c.ptr = unsafe.Add(c.ptr, c.a.stride)
}

// Ptr returns the current slot address, nil past the last chunk.
func (c *Cursor) Ptr() unsafe.Pointer { return c.ptr }

// Index returns the current linear index.
func (c *Cursor) Index() int { return c.idx }

// span is a contiguous run of slots within one chunk.
type span struct {
	begin, end int
}

// RangedCursor walks a list of half-open index ranges, precomputed into
// per-chunk contiguous spans. Exhausting one span transitions to the next
// in O(1). The cursor addresses slots through a Walker snapshot, so it
// stays valid for lock-free reads while writers append.
type RangedCursor struct {
	w     Walker
	spans []span
	si    int
	idx   int
	ptr   unsafe.Pointer
}

// RangedCursor builds a cursor over the given ascending half-open ranges,
// clipped to [0, size) and split at chunk boundaries.
func (w Walker) RangedCursor(rs [][2]int, size int) RangedCursor {
	c := RangedCursor{w: w}
	for _, r := range rs {
		begin, end := r[0], r[1]
		if begin < 0 {
			begin = 0
		}
		if end > size {
			end = size
		}
		for begin < end {
			chunkEnd := (begin>>w.shift + 1) << w.shift
			if chunkEnd > end {
				chunkEnd = end
			}
			c.spans = append(c.spans, span{begin, chunkEnd})
			begin = chunkEnd
		}
	}
	c.seatSpan(0)
	return c
}

// RangedCursor builds a ranged cursor from the live chunk table. The
// caller must hold the owning array's lock for the cursor's lifetime; use
// Walker().RangedCursor for lock-free reads.
func (a *Arena) RangedCursor(rs [][2]int, size int) RangedCursor {
	return a.Walker().RangedCursor(rs, size)
}

func (c *RangedCursor) seatSpan(si int) {
	c.si = si
	if si < len(c.spans) {
		c.idx = c.spans[si].begin
		c.ptr = c.w.At(c.idx)
	} else {
		c.idx = -1
		c.ptr = nil
	}
}

// Done reports whether the cursor has exhausted every range.
func (c *RangedCursor) Done() bool { return c.ptr == nil }

// Ptr returns the current slot address, nil when done.
func (c *RangedCursor) Ptr() unsafe.Pointer { return c.ptr }

// Index returns the current linear index, -1 when done.
func (c *RangedCursor) Index() int { return c.idx }

// Next advances to the next slot covered by the ranges.
func (c *RangedCursor) Next() {
	if c.ptr == nil {
		return
	}
	c.idx++
	if c.idx < c.spans[c.si].end {
		c.ptr = unsafe.Add(c.ptr, c.w.stride)
		return
	}
	c.seatSpan(c.si + 1)
}

// AdvanceTo positions the cursor at the first covered slot with linear
// index >= i. Spans are binary searched, then the position is seated
// within the matching span.
func (c *RangedCursor) AdvanceTo(i int) {
	si := sort.Search(len(c.spans), func(k int) bool {
		return c.spans[k].end > i
	})
	if si >= len(c.spans) {
		c.seatSpan(si)
		return
	}
	c.si = si
	c.idx = c.spans[si].begin
	if i > c.idx {
		c.idx = i
	}
	c.ptr = c.w.At(c.idx)
}
