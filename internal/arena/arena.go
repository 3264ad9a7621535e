// Package arena provides chunked, fixed-stride slot storage for sector
// arrays.
//
// Slots live in power-of-two-sized chunks so a linear index resolves to an
// address with a shift and a mask. Growth appends chunks without moving
// existing ones, so slot addresses are stable across Reserve. Chunk memory
// is allocated through reflect with the layout's synthesized slot type,
// which keeps component pointer fields visible to the garbage collector.
package arena

import (
	"math/bits"
	"reflect"
	"unsafe"

	"ecss/internal/sector"
)

// DefaultChunkCapacity is the per-chunk slot count used when none is
// configured.
const DefaultChunkCapacity = 8192

// Arena owns the chunk list for one sector array.
type Arena struct {
	layout   *sector.Layout
	stride   uintptr
	chunkCap int
	shift    uint
	mask     int
	chunks   []unsafe.Pointer
	bin      *RetireBin
}

// New creates an arena for the given layout. chunkCap is rounded up to a
// power of two; zero or negative selects DefaultChunkCapacity. Released
// chunk buffers are parked in bin until it drains.
func New(layout *sector.Layout, chunkCap int, bin *RetireBin) *Arena {
	if chunkCap <= 0 {
		chunkCap = DefaultChunkCapacity
	}
	chunkCap = ceilPow2(chunkCap)
	return &Arena{
		layout:   layout,
		stride:   layout.Stride(),
		chunkCap: chunkCap,
		shift:    uint(bits.TrailingZeros(uint(chunkCap))),
		mask:     chunkCap - 1,
		bin:      bin,
	}
}

func ceilPow2(n int) int {
	if n&(n-1) == 0 {
		return n
	}
	return 1 << bits.Len(uint(n))
}

// Layout returns the slot layout this arena allocates for.
func (a *Arena) Layout() *sector.Layout { return a.layout }

// Stride returns the slot size in bytes.
func (a *Arena) Stride() uintptr { return a.stride }

// ChunkCapacity returns the per-chunk slot count.
func (a *Arena) ChunkCapacity() int { return a.chunkCap }

// Cap returns the total slot capacity across all chunks.
func (a *Arena) Cap() int { return len(a.chunks) * a.chunkCap }

// Reserve grows the arena by appending zeroed chunks until Cap() >= n.
// Existing chunks never move.
func (a *Arena) Reserve(n int) {
	for a.Cap() < n {
		chunk := reflect.MakeSlice(reflect.SliceOf(a.layout.SlotType()), a.chunkCap, a.chunkCap)
		a.chunks = append(a.chunks, chunk.UnsafePointer())
	}
}

// Shrink releases trailing chunks not needed to hold n slots. Released
// buffers go to the retire bin so concurrent cursors that still reference
// them are not handed recycled memory.
func (a *Arena) Shrink(n int) {
	keep := (n + a.chunkCap - 1) >> a.shift
	for i := keep; i < len(a.chunks); i++ {
		a.bin.Retire(a.chunks[i])
		a.chunks[i] = nil
	}
	a.chunks = a.chunks[:keep]
}

// At returns the address of the slot at linear index i.
func (a *Arena) At(i int) unsafe.Pointer {
	return unsafe.Add(a.chunks[i>>a.shift], uintptr(i&a.mask)*a.stride)
}

// Span returns the address of slot i and the linear index at which its
// chunk ends, clipped to bound. Iteration hot loops walk [i, end) with a
// constant stride and no per-slot indexing.
func (a *Arena) Span(i, bound int) (p unsafe.Pointer, end int) {
	end = (i>>a.shift + 1) << a.shift
	if end > bound {
		end = bound
	}
	return a.At(i), end
}

// CopySlot copies one whole slot, header and payload, as raw bytes.
// Only valid for trivial layouts.
func (a *Arena) CopySlot(dst, src int) {
	copyBytes(a.At(dst), a.At(src), int(a.stride))
}

// MoveTrivial relocates n consecutive slots from linear index src to dst
// with raw byte copies, splitting the move at chunk boundaries. Overlapping
// moves are handled like memmove: pieces are walked forward for leftward
// moves and backward for rightward moves.
func (a *Arena) MoveTrivial(dst, src, n int) {
	if n <= 0 || dst == src {
		return
	}
	if dst < src {
		for n > 0 {
			step := n
			if r := a.chunkCap - src&a.mask; r < step {
				step = r
			}
			if r := a.chunkCap - dst&a.mask; r < step {
				step = r
			}
			copyBytes(a.At(dst), a.At(src), step*int(a.stride))
			dst += step
			src += step
			n -= step
		}
		return
	}
	srcEnd, dstEnd := src+n, dst+n
	for n > 0 {
		step := n
		if r := (srcEnd-1)&a.mask + 1; r < step {
			step = r
		}
		if r := (dstEnd-1)&a.mask + 1; r < step {
			step = r
		}
		srcEnd -= step
		dstEnd -= step
		copyBytes(a.At(dstEnd), a.At(srcEnd), step*int(a.stride))
		n -= step
	}
}

// ZeroSlot clears a slot's header and payload. For non-trivial layouts the
// payload is cleared through the typed thunks so the GC drops references.
func (a *Arena) ZeroSlot(i int) {
	p := a.At(i)
	if a.layout.Trivial() {
		b := unsafe.Slice((*byte)(p), a.stride)
		for j := range b {
			b[j] = 0
		}
		return
	}
	alive := sector.Alive(p)
	for j := 0; j < a.layout.NumTypes(); j++ {
		m := a.layout.MetaAt(j)
		if alive&m.AliveMask != 0 {
			m.Clear(sector.Payload(p, m.Offset))
		}
	}
	sector.SetID(p, 0)
	sector.SetAlive(p, 0)
}

// CopyFrom reproduces the first n logical slots of src in a. Same-capacity
// trivial arenas copy chunk by chunk; otherwise slots are copied one at a
// time, non-trivial payloads through the layout thunks.
func (a *Arena) CopyFrom(src *Arena, n int) {
	a.Reserve(n)
	if a.layout != src.layout {
		panic("arena: copy between different layouts")
	}
	if a.layout.Trivial() && a.chunkCap == src.chunkCap {
		for i := 0; i < n; i += a.chunkCap {
			step := a.chunkCap
			if n-i < step {
				step = n - i
			}
			copyBytes(a.chunks[i>>a.shift], src.chunks[i>>src.shift], step*int(a.stride))
		}
		return
	}
	for i := 0; i < n; i++ {
		if a.layout.Trivial() {
			copyBytes(a.At(i), src.At(i), int(a.stride))
			continue
		}
		sp, dp := src.At(i), a.At(i)
		sector.SetID(dp, sector.ID(sp))
		alive := sector.Alive(sp)
		sector.SetAlive(dp, alive)
		for j := 0; j < a.layout.NumTypes(); j++ {
			m := a.layout.MetaAt(j)
			if alive&m.AliveMask != 0 {
				m.Assign(sector.Payload(dp, m.Offset), sector.Payload(sp, m.Offset))
			}
		}
	}
}

func copyBytes(dst, src unsafe.Pointer, n int) {
	copy(unsafe.Slice((*byte)(dst), n), unsafe.Slice((*byte)(src), n))
}

// Walker is a read-side snapshot of the chunk table. Cursors and view hot
// loops address slots through a Walker instead of the live arena, so a
// writer appending chunks concurrently never races the read: growth only
// appends past the snapshot's length, and chunk release is deferred while
// any reader is marked on the array.
type Walker struct {
	chunks []unsafe.Pointer
	shift  uint
	mask   int
	stride uintptr
}

// Walker snapshots the current chunk table. The caller must hold the
// owning array's lock (shared is enough) while taking the snapshot.
func (a *Arena) Walker() Walker {
	return Walker{chunks: a.chunks, shift: a.shift, mask: a.mask, stride: a.stride}
}

// Stride returns the slot size in bytes.
func (w Walker) Stride() uintptr { return w.stride }

// At returns the address of the slot at linear index i.
func (w Walker) At(i int) unsafe.Pointer {
	return unsafe.Add(w.chunks[i>>w.shift], uintptr(i&w.mask)*w.stride)
}

// Span returns the address of slot i and the linear index at which its
// chunk ends, clipped to bound.
func (w Walker) Span(i, bound int) (p unsafe.Pointer, end int) {
	end = (i>>w.shift + 1) << w.shift
	if end > bound {
		end = bound
	}
	return w.At(i), end
}
