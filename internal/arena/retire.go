package arena

import "sync"

// RetireBin is a deferred-release queue for superseded backing buffers:
// released chunks, outgrown sparse-map slices, and similar. Instead of
// letting buffers become collectable the moment a writer replaces them,
// they are parked here and dropped at an explicit drain point, once no
// reader can still hold a cursor into them. The preserved contract is that
// a concurrent reader never observes a retired buffer being recycled.
//
// A disabled bin, used by single-threaded arrays, drops buffers
// immediately.
type RetireBin struct {
	mu       sync.Mutex
	bufs     []any
	disabled bool
}

// NewRetireBin creates a bin. When enabled is false every Retire is an
// immediate drop.
func NewRetireBin(enabled bool) *RetireBin {
	return &RetireBin{disabled: !enabled}
}

// Retire parks buf until the next Drain.
func (b *RetireBin) Retire(buf any) {
	if b.disabled {
		return
	}
	b.mu.Lock()
	b.bufs = append(b.bufs, buf)
	b.mu.Unlock()
}

// Drain releases every parked buffer. Callers must ensure no reader still
// holds a reference into any of them.
func (b *RetireBin) Drain() {
	if b.disabled {
		return
	}
	b.mu.Lock()
	b.bufs = nil
	b.mu.Unlock()
}

// Len returns the number of parked buffers.
func (b *RetireBin) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bufs)
}
