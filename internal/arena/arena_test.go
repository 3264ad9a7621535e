package arena

import (
	"reflect"
	"testing"
	"unsafe"

	"ecss/internal/sector"
)

type payload struct {
	V uint64
}

type named struct {
	Name string
}

func trivialLayout(t *testing.T) *sector.Layout {
	t.Helper()
	l, err := sector.NewLayout(reflect.TypeOf(payload{}))
	if err != nil {
		t.Fatalf("new layout: %v", err)
	}
	return l
}

// fill stamps slot i with id=i, alive=1 and payload value v.
func fill(a *Arena, i int, v uint64) {
	p := a.At(i)
	sector.SetID(p, uint32(i))
	sector.SetAlive(p, 1)
	m := a.Layout().MetaAt(0)
	*(*payload)(sector.Payload(p, m.Offset)) = payload{V: v}
}

func value(a *Arena, i int) uint64 {
	m := a.Layout().MetaAt(0)
	return (*payload)(sector.Payload(a.At(i), m.Offset)).V
}

func TestReserveGrowsByChunks(t *testing.T) {
	a := New(trivialLayout(t), 4, NewRetireBin(false))
	if a.ChunkCapacity() != 4 {
		t.Fatalf("chunk capacity: got %d", a.ChunkCapacity())
	}
	a.Reserve(1)
	if a.Cap() != 4 {
		t.Fatalf("cap after reserve(1): got %d", a.Cap())
	}
	a.Reserve(9)
	if a.Cap() != 12 {
		t.Fatalf("cap after reserve(9): got %d", a.Cap())
	}
}

func TestChunkCapacityRoundsUpToPowerOfTwo(t *testing.T) {
	a := New(trivialLayout(t), 5, NewRetireBin(false))
	if a.ChunkCapacity() != 8 {
		t.Fatalf("chunk capacity: got %d, want 8", a.ChunkCapacity())
	}
	d := New(trivialLayout(t), 0, NewRetireBin(false))
	if d.ChunkCapacity() != DefaultChunkCapacity {
		t.Fatalf("default chunk capacity: got %d", d.ChunkCapacity())
	}
}

func TestAddressesStableAcrossGrowth(t *testing.T) {
	a := New(trivialLayout(t), 4, NewRetireBin(false))
	a.Reserve(4)
	fill(a, 3, 33)
	before := a.At(3)
	a.Reserve(64)
	if a.At(3) != before {
		t.Fatal("slot address moved across Reserve")
	}
	if value(a, 3) != 33 {
		t.Fatalf("value after growth: got %d", value(a, 3))
	}
}

func TestAtCrossesChunkBoundary(t *testing.T) {
	a := New(trivialLayout(t), 4, NewRetireBin(false))
	a.Reserve(8)
	fill(a, 3, 3)
	fill(a, 4, 4)
	// Slots 3 and 4 are in different chunks; both must resolve correctly.
	if sector.ID(a.At(3)) != 3 || sector.ID(a.At(4)) != 4 {
		t.Fatal("cross-chunk addressing broken")
	}
}

func TestMoveTrivialLeftAcrossChunks(t *testing.T) {
	a := New(trivialLayout(t), 4, NewRetireBin(false))
	a.Reserve(12)
	for i := 2; i < 11; i++ {
		fill(a, i, uint64(100+i))
	}
	// Shift 9 slots one step left, spanning three chunks.
	a.MoveTrivial(1, 2, 9)
	for i := 1; i < 10; i++ {
		if value(a, i) != uint64(100+i+1) {
			t.Fatalf("slot %d: got %d, want %d", i, value(a, i), 100+i+1)
		}
	}
}

func TestMoveTrivialRightOverlapping(t *testing.T) {
	a := New(trivialLayout(t), 4, NewRetireBin(false))
	a.Reserve(12)
	for i := 0; i < 9; i++ {
		fill(a, i, uint64(i))
	}
	// Shift right by one: the classic insert-hole move, overlapping.
	a.MoveTrivial(1, 0, 9)
	for i := 1; i < 10; i++ {
		if value(a, i) != uint64(i-1) {
			t.Fatalf("slot %d: got %d, want %d", i, value(a, i), i-1)
		}
	}
}

func TestShrinkRetiresTrailingChunks(t *testing.T) {
	bin := NewRetireBin(true)
	a := New(trivialLayout(t), 4, bin)
	a.Reserve(16)
	a.Shrink(5)
	if a.Cap() != 8 {
		t.Fatalf("cap after shrink(5): got %d, want 8", a.Cap())
	}
	if bin.Len() != 2 {
		t.Fatalf("retired chunks: got %d, want 2", bin.Len())
	}
	bin.Drain()
	if bin.Len() != 0 {
		t.Fatalf("bin not drained: %d", bin.Len())
	}
}

func TestDisabledBinDropsImmediately(t *testing.T) {
	bin := NewRetireBin(false)
	bin.Retire(make([]byte, 8))
	if bin.Len() != 0 {
		t.Fatalf("disabled bin retained buffer")
	}
}

func TestZeroSlotNonTrivial(t *testing.T) {
	l, err := sector.NewLayout(reflect.TypeOf(named{}))
	if err != nil {
		t.Fatalf("new layout: %v", err)
	}
	a := New(l, 4, NewRetireBin(false))
	a.Reserve(1)
	p := a.At(0)
	sector.SetID(p, 9)
	sector.SetAlive(p, 1)
	m := l.MetaAt(0)
	src := named{Name: "keep"}
	m.Assign(sector.Payload(p, m.Offset), unsafe.Pointer(&src))

	a.ZeroSlot(0)
	if sector.ID(p) != 0 || sector.Alive(p) != 0 {
		t.Fatal("header not cleared")
	}
	if got := (*named)(sector.Payload(p, m.Offset)); got.Name != "" {
		t.Fatalf("payload not cleared: %q", got.Name)
	}
}

func TestCopyFromDifferentChunkCapacity(t *testing.T) {
	src := New(trivialLayout(t), 4, NewRetireBin(false))
	src.Reserve(10)
	for i := 0; i < 10; i++ {
		fill(src, i, uint64(1000+i))
	}
	dst := New(src.Layout(), 16, NewRetireBin(false))
	dst.CopyFrom(src, 10)
	for i := 0; i < 10; i++ {
		if value(dst, i) != uint64(1000+i) {
			t.Fatalf("slot %d: got %d", i, value(dst, i))
		}
		if sector.ID(dst.At(i)) != uint32(i) {
			t.Fatalf("slot %d id mismatch", i)
		}
	}
}

func TestCopyFromSameCapacityNonTrivial(t *testing.T) {
	l, err := sector.NewLayout(reflect.TypeOf(named{}))
	if err != nil {
		t.Fatalf("new layout: %v", err)
	}
	src := New(l, 4, NewRetireBin(false))
	src.Reserve(3)
	m := l.MetaAt(0)
	for i := 0; i < 3; i++ {
		p := src.At(i)
		sector.SetID(p, uint32(i))
		sector.SetAlive(p, 1)
		v := named{Name: string(rune('a' + i))}
		m.Assign(sector.Payload(p, m.Offset), unsafe.Pointer(&v))
	}
	dst := New(l, 4, NewRetireBin(false))
	dst.CopyFrom(src, 3)
	for i := 0; i < 3; i++ {
		got := (*named)(sector.Payload(dst.At(i), m.Offset))
		if got.Name != string(rune('a'+i)) {
			t.Fatalf("slot %d: got %q", i, got.Name)
		}
	}
}

func TestCursorWalksAcrossChunks(t *testing.T) {
	a := New(trivialLayout(t), 4, NewRetireBin(false))
	a.Reserve(10)
	for i := 0; i < 10; i++ {
		fill(a, i, uint64(i))
	}
	c := a.Cursor(0)
	for i := 0; i < 10; i++ {
		if c.Index() != i {
			t.Fatalf("index: got %d, want %d", c.Index(), i)
		}
		if sector.ID(c.Ptr()) != uint32(i) {
			t.Fatalf("slot %d: id %d", i, sector.ID(c.Ptr()))
		}
		c.Next()
	}
}

func TestCursorSeek(t *testing.T) {
	a := New(trivialLayout(t), 4, NewRetireBin(false))
	a.Reserve(8)
	fill(a, 6, 66)
	c := a.Cursor(0)
	c.Seek(6)
	if sector.ID(c.Ptr()) != 6 {
		t.Fatalf("seek: id %d", sector.ID(c.Ptr()))
	}
	c.Seek(8)
	if c.Ptr() != nil {
		t.Fatal("seek past capacity should yield nil ptr")
	}
}

func TestRangedCursor(t *testing.T) {
	a := New(trivialLayout(t), 4, NewRetireBin(false))
	a.Reserve(16)
	for i := 0; i < 16; i++ {
		fill(a, i, uint64(i))
	}
	// Ranges crossing a chunk boundary and a clipped tail range.
	c := a.RangedCursor([][2]int{{2, 6}, {9, 30}}, 12)
	var got []int
	for !c.Done() {
		got = append(got, c.Index())
		c.Next()
	}
	want := []int{2, 3, 4, 5, 9, 10, 11}
	if len(got) != len(want) {
		t.Fatalf("indices: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("indices: got %v, want %v", got, want)
		}
	}
}

func TestRangedCursorAdvanceTo(t *testing.T) {
	a := New(trivialLayout(t), 4, NewRetireBin(false))
	a.Reserve(16)
	c := a.RangedCursor([][2]int{{0, 4}, {8, 12}}, 16)

	c.AdvanceTo(2)
	if c.Index() != 2 {
		t.Fatalf("advance within span: got %d", c.Index())
	}
	// Target in a gap lands at the next span's begin.
	c.AdvanceTo(5)
	if c.Index() != 8 {
		t.Fatalf("advance into gap: got %d", c.Index())
	}
	c.AdvanceTo(11)
	if c.Index() != 11 {
		t.Fatalf("advance within second span: got %d", c.Index())
	}
	c.AdvanceTo(12)
	if !c.Done() {
		t.Fatal("advance past last span should exhaust cursor")
	}
}

func TestEmptyRangedCursor(t *testing.T) {
	a := New(trivialLayout(t), 4, NewRetireBin(false))
	c := a.RangedCursor(nil, 0)
	if !c.Done() {
		t.Fatal("empty cursor not done")
	}
}

func TestSpan(t *testing.T) {
	a := New(trivialLayout(t), 4, NewRetireBin(false))
	a.Reserve(8)
	_, end := a.Span(1, 8)
	if end != 4 {
		t.Fatalf("span end: got %d, want 4", end)
	}
	_, end = a.Span(5, 6)
	if end != 6 {
		t.Fatalf("bounded span end: got %d, want 6", end)
	}
}
