// Package sectors implements the core storage container: a dense,
// id-sorted prefix of fixed-stride sector slots backed by a chunked arena,
// with an O(1) sparse id-to-slot map, deferred erases, and compaction.
//
// Invariants, held after every public operation:
//   - allocated slots occupy the dense prefix [0, Len()) in chunk order;
//   - within the prefix, sector ids are strictly increasing (dead holes
//     keep their id so binary search stays valid);
//   - for every mapped id, sparse[id] is the slot's linear index and the
//     slot's header carries that id;
//   - after Defragment, no dead slot remains in the prefix.
//
// Most operations have a locking entry point and a Locked variant for
// callers that already hold the array lock; ProcessPendingErases and Clear
// exist only in the locking form.
package sectors

import (
	"log/slog"
	"sort"
	"sync"
	"unsafe"

	"ecss/internal/arena"
	"ecss/internal/logging"
	"ecss/internal/pins"
	"ecss/internal/sector"
)

// NoSector is the sentinel id meaning "none".
const NoSector = ^uint32(0)

// Config configures one storage array.
type Config struct {
	// Layout describes the slot: component types, offsets, masks. Required.
	Layout *sector.Layout

	// Capacity is the initial slot reservation.
	Capacity int

	// ChunkCapacity is the per-chunk slot count, rounded up to a power of
	// two. Zero selects the arena default.
	ChunkCapacity int

	// ThreadSafe enables the array lock, pin table, and retire bin. When
	// false all three collapse to no-op stubs.
	ThreadSafe bool

	// Logger for structured logging. If nil, logging is disabled.
	// The array scopes this logger with component="sectors".
	Logger *slog.Logger
}

// Array is the core sector container.
type Array struct {
	mu      rwLock
	layout  *sector.Layout
	arena   *arena.Arena
	bin     *arena.RetireBin
	pins    *pins.Table
	sparse  []int32 // id -> linear index, -1 = unmapped
	size    int     // dense prefix length
	pending []uint32
	safe    bool
	logger  *slog.Logger
}

// New creates an array for cfg.Layout.
func New(cfg Config) (*Array, error) {
	if cfg.Layout == nil {
		return nil, sector.ErrNoComponents
	}
	bin := arena.NewRetireBin(cfg.ThreadSafe)
	a := &Array{
		mu:     newRWLock(cfg.ThreadSafe),
		layout: cfg.Layout,
		arena:  arena.New(cfg.Layout, cfg.ChunkCapacity, bin),
		bin:    bin,
		pins:   pins.NewTable(cfg.ThreadSafe),
		safe:   cfg.ThreadSafe,
		logger: logging.Default(cfg.Logger).With("component", "sectors"),
	}
	if cfg.Capacity > 0 {
		a.ReserveLocked(cfg.Capacity)
	}
	return a, nil
}

// rwLock lets the lock collapse to a no-op for single-threaded arrays.
type rwLock interface {
	Lock()
	Unlock()
	RLock()
	RUnlock()
}

type nopLock struct{}

func (nopLock) Lock()    {}
func (nopLock) Unlock()  {}
func (nopLock) RLock()   {}
func (nopLock) RUnlock() {}

func newRWLock(threadSafe bool) rwLock {
	if threadSafe {
		return &sync.RWMutex{}
	}
	return nopLock{}
}

// Lock takes the array's exclusive lock.
func (a *Array) Lock() { a.mu.Lock() }

// Unlock releases the exclusive lock.
func (a *Array) Unlock() { a.mu.Unlock() }

// RLock takes the array's shared lock.
func (a *Array) RLock() { a.mu.RLock() }

// RUnlock releases the shared lock.
func (a *Array) RUnlock() { a.mu.RUnlock() }

// Layout returns the array's slot layout.
func (a *Array) Layout() *sector.Layout { return a.layout }

// Arena returns the backing slot arena. Callers iterating it directly must
// follow the read discipline (BeginRead / pins).
func (a *Array) Arena() *arena.Arena { return a.arena }

// Pins returns the array's pin table.
func (a *Array) Pins() *pins.Table { return a.pins }

// Walker snapshots the chunk table for lock-free reads under an open
// ReadGuard.
func (a *Array) Walker() arena.Walker {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.arena.Walker()
}

// ThreadSafe reports whether the array carries live locks and pins.
func (a *Array) ThreadSafe() bool { return a.safe }

// Len returns the dense prefix length: allocated slots, live or not.
func (a *Array) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.size
}

// LenLocked is Len for callers already holding the lock.
func (a *Array) LenLocked() int { return a.size }

// Cap returns the slot capacity.
func (a *Array) Cap() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.arena.Cap()
}

// Empty reports whether no slots are allocated.
func (a *Array) Empty() bool { return a.Len() == 0 }

// Reserve grows the arena and sparse map to hold at least n slots.
func (a *Array) Reserve(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ReserveLocked(n)
}

// ReserveLocked is Reserve under a held lock.
func (a *Array) ReserveLocked(n int) {
	a.arena.Reserve(n)
	a.growSparseLocked(n)
}

// growSparseLocked ensures the sparse map covers ids below n. The outgrown
// buffer is retired, not dropped, so a concurrent reader still holding it
// never sees it recycled.
func (a *Array) growSparseLocked(n int) {
	if n <= len(a.sparse) {
		return
	}
	grown := 2 * len(a.sparse)
	if grown < n {
		grown = n
	}
	next := make([]int32, grown)
	copy(next, a.sparse)
	for i := len(a.sparse); i < grown; i++ {
		next[i] = -1
	}
	a.bin.Retire(a.sparse)
	a.sparse = next
}

// Acquire ensures a slot exists for id, inserting it at the dense position
// that keeps ids sorted, and returns its address.
func (a *Array) Acquire(id uint32) unsafe.Pointer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.AcquireLocked(id)
}

// AcquireLocked is Acquire under a held lock.
func (a *Array) AcquireLocked(id uint32) unsafe.Pointer {
	a.growSparseLocked(int(id) + 1)
	if idx := a.sparse[id]; idx >= 0 {
		return a.arena.At(int(idx))
	}

	pos := a.lowerBoundLocked(id)
	if pos < a.size && sector.ID(a.arena.At(pos)) == id {
		// A dead hole still carries this id; revive it in place.
		a.sparse[id] = int32(pos)
		return a.arena.At(pos)
	}

	a.arena.Reserve(a.size + 1)
	if pos < a.size {
		// Inserting mid-prefix shifts every larger id right by one, so
		// wait until no reader pins any of them.
		a.pins.WaitMovable(sector.ID(a.arena.At(pos)))
		a.shiftRightLocked(pos)
	}
	a.arena.ZeroSlot(pos)
	p := a.arena.At(pos)
	sector.SetID(p, id)
	a.sparse[id] = int32(pos)
	a.size++
	return p
}

// lowerBoundLocked returns the first dense index whose sector id is >= id.
func (a *Array) lowerBoundLocked(id uint32) int {
	return sort.Search(a.size, func(i int) bool {
		return sector.ID(a.arena.At(i)) >= id
	})
}

// shiftRightLocked opens a hole at pos by moving [pos, size) one slot
// right and remapping the moved ids.
func (a *Array) shiftRightLocked(pos int) {
	if a.layout.Trivial() {
		a.arena.MoveTrivial(pos+1, pos, a.size-pos)
	} else {
		for j := a.size - 1; j >= pos; j-- {
			a.moveSlotLocked(j+1, j)
		}
	}
	for j := pos + 1; j <= a.size; j++ {
		sid := sector.ID(a.arena.At(j))
		if a.sparse[sid] >= 0 {
			a.sparse[sid] = int32(j)
		}
	}
}

// moveSlotLocked relocates one slot. Trivial layouts move as raw bytes;
// otherwise each live component is copied through its typed thunk and
// stale destination components are cleared so the GC drops them.
func (a *Array) moveSlotLocked(dst, src int) {
	if a.layout.Trivial() {
		a.arena.CopySlot(dst, src)
		return
	}
	sp, dp := a.arena.At(src), a.arena.At(dst)
	oldAlive := sector.Alive(dp)
	alive := sector.Alive(sp)
	sector.SetID(dp, sector.ID(sp))
	sector.SetAlive(dp, alive)
	for i := 0; i < a.layout.NumTypes(); i++ {
		m := a.layout.MetaAt(i)
		switch {
		case alive&m.AliveMask != 0:
			m.Assign(sector.Payload(dp, m.Offset), sector.Payload(sp, m.Offset))
		case oldAlive&m.AliveMask != 0:
			m.Clear(sector.Payload(dp, m.Offset))
		}
	}
}

// FindSector returns the slot address for id. Dead-but-mapped sectors are
// returned; callers gate on alive masks. Ids beyond the sparse map miss
// silently.
func (a *Array) FindSector(id uint32) (unsafe.Pointer, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.FindSectorLocked(id)
}

// FindSectorLocked is FindSector under a held lock.
func (a *Array) FindSectorLocked(id uint32) (unsafe.Pointer, bool) {
	if int(id) >= len(a.sparse) {
		return nil, false
	}
	idx := a.sparse[id]
	if idx < 0 {
		return nil, false
	}
	return a.arena.At(int(idx)), true
}

// FindLinearIndex locates id in the dense prefix.
func (a *Array) FindLinearIndex(id uint32) (int, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if int(id) >= len(a.sparse) || a.sparse[id] < 0 {
		return 0, false
	}
	return int(a.sparse[id]), true
}

// At returns the slot at dense index i. The caller must hold the lock or
// follow the read discipline.
func (a *Array) At(i int) unsafe.Pointer { return a.arena.At(i) }

// DestroyMember clears one component of id's sector: its alive bit flips
// off and a pointerful payload is zeroed. The sector itself stays, even if
// it just died; Defragment reclaims it.
func (a *Array) DestroyMember(id uint32, m *sector.Meta) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.DestroyMemberLocked(id, m)
}

// DestroyMemberLocked is DestroyMember under a held lock.
func (a *Array) DestroyMemberLocked(id uint32, m *sector.Meta) {
	p, ok := a.FindSectorLocked(id)
	if !ok {
		return
	}
	prev := sector.MarkDead(p, m.AliveMask)
	if prev&m.AliveMask != 0 && !m.Trivial {
		m.Clear(sector.Payload(p, m.Offset))
	}
}

// EraseSector removes the sector for id. With shift the tail moves one
// slot left to keep the prefix hole-free; without it the slot stays as a
// dead hole for Defragment to reclaim. A pinned victim (or, when shifting,
// any pinned id at or above it) defers the erase to the pending queue.
// Erasing an unmapped id is a no-op.
func (a *Array) EraseSector(id uint32, shift bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.EraseSectorLocked(id, shift)
}

// EraseSectorLocked is EraseSector under a held lock.
func (a *Array) EraseSectorLocked(id uint32, shift bool) {
	idx, ok := a.indexLocked(id)
	if !ok {
		return
	}
	if shift {
		if !a.pins.CanMove(id) {
			a.pending = append(a.pending, id)
			return
		}
		a.destroyPayloadsLocked(idx)
		a.closeHoleLocked(idx)
		a.sparse[id] = -1
		return
	}
	if a.pins.IsPinned(id) {
		a.pending = append(a.pending, id)
		return
	}
	a.destroyPayloadsLocked(idx)
	a.sparse[id] = -1
}

func (a *Array) indexLocked(id uint32) (int, bool) {
	if int(id) >= len(a.sparse) || a.sparse[id] < 0 {
		return 0, false
	}
	return int(a.sparse[id]), true
}

// destroyPayloadsLocked clears every live component of the slot at idx and
// marks it dead. The header id stays so the sorted prefix remains
// searchable across the hole.
func (a *Array) destroyPayloadsLocked(idx int) {
	p := a.arena.At(idx)
	alive := sector.Alive(p)
	if alive == 0 {
		return
	}
	for i := 0; i < a.layout.NumTypes(); i++ {
		m := a.layout.MetaAt(i)
		if alive&m.AliveMask != 0 && !m.Trivial {
			m.Clear(sector.Payload(p, m.Offset))
		}
	}
	sector.SetAlive(p, 0)
}

// closeHoleLocked moves [idx+1, size) one slot left, remaps the moved ids,
// and trims the prefix.
func (a *Array) closeHoleLocked(idx int) {
	tail := a.size - idx - 1
	if a.layout.Trivial() {
		a.arena.MoveTrivial(idx, idx+1, tail)
	} else {
		for j := idx + 1; j < a.size; j++ {
			a.moveSlotLocked(j-1, j)
		}
	}
	for j := idx; j < a.size-1; j++ {
		sid := sector.ID(a.arena.At(j))
		if a.sparse[sid] >= 0 {
			a.sparse[sid] = int32(j)
		}
	}
	a.size--
	a.arena.ZeroSlot(a.size)
}

// PendingErases returns the number of queued deferred erases.
func (a *Array) PendingErases() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.pending)
}

// ProcessPendingErases retries queued erases whose ids became unpinned,
// drains the retire bin when no cursor is open over the array, and then
// optionally defragments. A reader-marked array silently skips both drain
// and defragmentation; they run on a later tick.
func (a *Array) ProcessPendingErases(withDefragment bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.pending) > 0 {
		kept := a.pending[:0]
		for _, id := range a.pending {
			if a.pins.IsPinned(id) {
				kept = append(kept, id)
				continue
			}
			a.EraseSectorLocked(id, false)
		}
		a.pending = kept
	}

	if a.pins.ReaderMarked() {
		return
	}
	a.bin.Drain()
	if withDefragment {
		a.DefragmentLocked()
	}
}

// Defragment compacts the dense prefix: dead slots are destroyed, live
// runs move leftward, sparse entries follow, and trailing chunks shrink to
// the new size. It waits for the whole pin table to go idle first.
func (a *Array) Defragment() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.DefragmentLocked()
}

// DefragmentLocked is Defragment under a held lock.
func (a *Array) DefragmentLocked() {
	a.pins.WaitIdle()
	before := a.size

	write := 0
	read := 0
	for read < a.size {
		p := a.arena.At(read)
		if sector.Alive(p) == 0 {
			// Unmap the hole. destroyMember-dead sectors may still map here.
			sid := sector.ID(p)
			if int(sid) < len(a.sparse) && a.sparse[sid] == int32(read) {
				a.sparse[sid] = -1
			}
			read++
			continue
		}
		// One relocation per live run.
		runEnd := read + 1
		for runEnd < a.size && sector.Alive(a.arena.At(runEnd)) != 0 {
			runEnd++
		}
		n := runEnd - read
		if read != write {
			if a.layout.Trivial() {
				a.arena.MoveTrivial(write, read, n)
			} else {
				for j := 0; j < n; j++ {
					a.moveSlotLocked(write+j, read+j)
				}
			}
			for j := write; j < write+n; j++ {
				a.sparse[sector.ID(a.arena.At(j))] = int32(j)
			}
		}
		write += n
		read = runEnd
	}

	// Clear the vacated tail so non-trivial leftovers drop their refs.
	for j := write; j < a.size; j++ {
		a.arena.ZeroSlot(j)
	}
	a.size = write
	a.arena.Shrink(a.size)

	if before != a.size {
		a.logger.Debug("defragmented", "before", before, "after", a.size)
	}
}

// Clear destroys every slot and resets the array to empty. Capacity is
// released through the retire bin.
func (a *Array) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pins.WaitIdle()
	for i := 0; i < a.size; i++ {
		a.arena.ZeroSlot(i)
	}
	for i := range a.sparse {
		a.sparse[i] = -1
	}
	a.size = 0
	a.pending = a.pending[:0]
	a.arena.Shrink(0)
}
