// Package pins tracks per-sector reference counts for one storage array.
//
// Readers pin the sector id behind any component pointer they hand out;
// writers consult the table to decide what they may do. Erasing a sector
// in place only needs that id unpinned. Compacting moves shift slots with
// larger ids leftward, so they additionally need no pinned id at or above
// the victim. Defragmentation needs the whole table idle.
//
// Pins are counters, not mutexes: the same id may be pinned concurrently
// from any number of goroutines, and waiting writers are woken on every
// unpin that drops a count to zero.
package pins

import (
	"runtime"
	"sync"
)

// spinRounds bounds the yield loop before a waiter blocks on the condition
// variable.
const spinRounds = 32

// Table holds pin counts for one array. The zero value is not usable; use
// NewTable. A disabled table turns every operation into a no-op for
// single-threaded arrays.
type Table struct {
	mu       sync.Mutex
	cond     *sync.Cond
	counts   map[uint32]uint32
	readers  int // array-level read marks (open views)
	disabled bool
}

// NewTable creates a pin table. When enabled is false every operation is a
// no-op and every "can I" query answers yes.
func NewTable(enabled bool) *Table {
	t := &Table{
		counts:   make(map[uint32]uint32),
		disabled: !enabled,
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Pin increments the count for id.
func (t *Table) Pin(id uint32) {
	if t.disabled {
		return
	}
	t.mu.Lock()
	t.counts[id]++
	t.mu.Unlock()
}

// Unpin decrements the count for id. A drop to zero wakes every waiting
// writer.
func (t *Table) Unpin(id uint32) {
	if t.disabled {
		return
	}
	t.mu.Lock()
	n, ok := t.counts[id]
	if !ok {
		t.mu.Unlock()
		panic("pins: unpin of unpinned id")
	}
	if n == 1 {
		delete(t.counts, id)
		t.cond.Broadcast()
	} else {
		t.counts[id] = n - 1
	}
	t.mu.Unlock()
}

// IsPinned reports whether id currently holds any pins.
func (t *Table) IsPinned(id uint32) bool {
	if t.disabled {
		return false
	}
	t.mu.Lock()
	_, ok := t.counts[id]
	t.mu.Unlock()
	return ok
}

// Idle reports whether no id is pinned.
func (t *Table) Idle() bool {
	if t.disabled {
		return true
	}
	t.mu.Lock()
	idle := len(t.counts) == 0
	t.mu.Unlock()
	return idle
}

// CanMove reports whether the sector for id may be relocated: id itself is
// unpinned and no pinned id is at or above it, since a leftward shift
// would move every larger id too.
func (t *Table) CanMove(id uint32) bool {
	if t.disabled {
		return true
	}
	t.mu.Lock()
	ok := t.canMoveLocked(id)
	t.mu.Unlock()
	return ok
}

func (t *Table) canMoveLocked(id uint32) bool {
	for pinned := range t.counts {
		if pinned >= id {
			return false
		}
	}
	return true
}

// WaitMovable blocks until CanMove(id) holds: a bounded spin first, then
// the condition variable.
func (t *Table) WaitMovable(id uint32) {
	if t.disabled {
		return
	}
	for i := 0; i < spinRounds; i++ {
		if t.CanMove(id) {
			return
		}
		runtime.Gosched()
	}
	t.mu.Lock()
	for !t.canMoveLocked(id) {
		t.cond.Wait()
	}
	t.mu.Unlock()
}

// WaitIdle blocks until the whole table is unpinned.
func (t *Table) WaitIdle() {
	if t.disabled {
		return
	}
	for i := 0; i < spinRounds; i++ {
		if t.Idle() {
			return
		}
		runtime.Gosched()
	}
	t.mu.Lock()
	for len(t.counts) != 0 {
		t.cond.Wait()
	}
	t.mu.Unlock()
}

// MarkReader notes an open read-side cursor over the whole array. While
// any reader mark is held, maintenance skips work that would invalidate
// cursors (defragmentation, buffer reclamation).
func (t *Table) MarkReader() {
	if t.disabled {
		return
	}
	t.mu.Lock()
	t.readers++
	t.mu.Unlock()
}

// UnmarkReader drops a reader mark.
func (t *Table) UnmarkReader() {
	if t.disabled {
		return
	}
	t.mu.Lock()
	if t.readers == 0 {
		t.mu.Unlock()
		panic("pins: unmark without reader mark")
	}
	t.readers--
	t.mu.Unlock()
}

// ReaderMarked reports whether any whole-array reader mark is held.
func (t *Table) ReaderMarked() bool {
	if t.disabled {
		return false
	}
	t.mu.Lock()
	marked := t.readers > 0
	t.mu.Unlock()
	return marked
}
