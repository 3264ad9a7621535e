package sector

import (
	"errors"
	"reflect"
	"testing"
	"unsafe"
)

type position struct {
	X, Y float32
}

type velocity struct {
	DX, DY float64
}

type tag struct {
	Name string
}

func TestNewLayoutOffsetsAndStride(t *testing.T) {
	l, err := NewLayout(reflect.TypeOf(position{}), reflect.TypeOf(velocity{}))
	if err != nil {
		t.Fatalf("new layout: %v", err)
	}
	if l.NumTypes() != 2 {
		t.Fatalf("num types: got %d", l.NumTypes())
	}

	pm, ok := l.Meta(reflect.TypeOf(position{}))
	if !ok {
		t.Fatal("position meta missing")
	}
	vm, ok := l.Meta(reflect.TypeOf(velocity{}))
	if !ok {
		t.Fatal("velocity meta missing")
	}

	if pm.Offset < HeaderSize {
		t.Fatalf("position offset %d overlaps header", pm.Offset)
	}
	if pm.Offset%uintptr(reflect.TypeOf(position{}).Align()) != 0 {
		t.Fatalf("position offset %d not aligned", pm.Offset)
	}
	if vm.Offset%uintptr(reflect.TypeOf(velocity{}).Align()) != 0 {
		t.Fatalf("velocity offset %d not aligned", vm.Offset)
	}
	if vm.Offset <= pm.Offset {
		t.Fatalf("declaration order not preserved: %d <= %d", vm.Offset, pm.Offset)
	}
	if l.Stride() != l.SlotType().Size() {
		t.Fatalf("stride %d != slot size %d", l.Stride(), l.SlotType().Size())
	}
	if l.Stride()%uintptr(l.SlotType().Align()) != 0 {
		t.Fatalf("stride %d not a multiple of max alignment %d", l.Stride(), l.SlotType().Align())
	}

	if pm.AliveMask != 1 || vm.AliveMask != 2 {
		t.Fatalf("masks: got %d, %d", pm.AliveMask, vm.AliveMask)
	}
	if pm.NotAliveMask != ^uint32(1) {
		t.Fatalf("not-alive mask: got %x", pm.NotAliveMask)
	}
}

func TestTriviality(t *testing.T) {
	l, err := NewLayout(reflect.TypeOf(position{}))
	if err != nil {
		t.Fatalf("new layout: %v", err)
	}
	if !l.Trivial() {
		t.Fatal("pointer-free layout reported non-trivial")
	}

	l2, err := NewLayout(reflect.TypeOf(position{}), reflect.TypeOf(tag{}))
	if err != nil {
		t.Fatalf("new layout: %v", err)
	}
	if l2.Trivial() {
		t.Fatal("layout with string component reported trivial")
	}
	pm, _ := l2.Meta(reflect.TypeOf(position{}))
	tm, _ := l2.Meta(reflect.TypeOf(tag{}))
	if !pm.Trivial || tm.Trivial {
		t.Fatalf("per-type triviality wrong: position=%v tag=%v", pm.Trivial, tm.Trivial)
	}
}

func TestNewLayoutRejectsBadInput(t *testing.T) {
	if _, err := NewLayout(); !errors.Is(err, ErrNoComponents) {
		t.Fatalf("empty layout: got %v", err)
	}
	if _, err := NewLayout(reflect.TypeOf(position{}), reflect.TypeOf(position{})); !errors.Is(err, ErrDuplicateType) {
		t.Fatalf("duplicate type: got %v", err)
	}
	types := make([]reflect.Type, MaxComponents+1)
	for i := range types {
		types[i] = reflect.ArrayOf(i+1, reflect.TypeOf(byte(0)))
	}
	if _, err := NewLayout(types...); !errors.Is(err, ErrTooManyComponents) {
		t.Fatalf("oversized layout: got %v", err)
	}
}

func TestHeaderAccess(t *testing.T) {
	l, err := NewLayout(reflect.TypeOf(position{}))
	if err != nil {
		t.Fatalf("new layout: %v", err)
	}
	slot := reflect.New(l.SlotType())
	p := slot.UnsafePointer()

	SetID(p, 42)
	if ID(p) != 42 {
		t.Fatalf("id: got %d", ID(p))
	}
	if Alive(p) != 0 {
		t.Fatalf("fresh slot alive: got %x", Alive(p))
	}
	if prev := MarkAlive(p, 1); prev != 0 {
		t.Fatalf("mark alive prev: got %x", prev)
	}
	if !IsAlive(p, 1) {
		t.Fatal("alive bit not set")
	}
	if prev := MarkDead(p, 1); prev != 1 {
		t.Fatalf("mark dead prev: got %x", prev)
	}
	if Alive(p) != 0 {
		t.Fatalf("alive after mark dead: got %x", Alive(p))
	}
}

func TestThunksAssignAndClear(t *testing.T) {
	l, err := NewLayout(reflect.TypeOf(tag{}))
	if err != nil {
		t.Fatalf("new layout: %v", err)
	}
	m := l.MetaAt(0)

	src := tag{Name: "src"}
	slot := reflect.New(l.SlotType())
	dst := Payload(slot.UnsafePointer(), m.Offset)

	m.Assign(dst, unsafe.Pointer(&src))
	if got := (*tag)(dst); got.Name != "src" {
		t.Fatalf("assign: got %q", got.Name)
	}

	m.Clear(dst)
	if got := (*tag)(dst); got.Name != "" {
		t.Fatalf("clear: got %q", got.Name)
	}
}
