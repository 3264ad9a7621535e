package ecss

import (
	"reflect"
	"unsafe"

	"ecss/internal/sector"
	"ecss/internal/sectors"
)

// typeOf returns the reflect.Type of component T.
func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// RegisterComponents registers a single-type array for T. Registration is
// optional for single types; Add creates the array implicitly.
func RegisterComponents[T any](r *Registry, opts ...ArrayOptions) error {
	_, err := r.registerArray([]reflect.Type{typeOf[T]()}, opts)
	return err
}

// RegisterComponents2 groups T1 and T2 into one array: both components of
// an entity share a sector slot, so iterating one projects the other for
// free.
func RegisterComponents2[T1, T2 any](r *Registry, opts ...ArrayOptions) error {
	_, err := r.registerArray([]reflect.Type{typeOf[T1](), typeOf[T2]()}, opts)
	return err
}

// RegisterComponents3 groups three component types into one array.
func RegisterComponents3[T1, T2, T3 any](r *Registry, opts ...ArrayOptions) error {
	_, err := r.registerArray([]reflect.Type{typeOf[T1](), typeOf[T2](), typeOf[T3]()}, opts)
	return err
}

// RegisterComponents4 groups four component types into one array.
func RegisterComponents4[T1, T2, T3, T4 any](r *Registry, opts ...ArrayOptions) error {
	_, err := r.registerArray([]reflect.Type{typeOf[T1](), typeOf[T2](), typeOf[T3](), typeOf[T4]()}, opts)
	return err
}

// Add sets entity id's T component to v, acquiring the sector if needed
// and overwriting any previous value in place. It returns a pointer to the
// stored component.
//
// The pointer is stable until a writer moves or erases the sector; under
// ThreadSafe, callers that hold it across operations should use Pin.
func Add[T any](r *Registry, id EntityID, v T) *T {
	a, m, _ := r.arrayForType(typeOf[T](), true)
	a.Lock()
	slot := a.AcquireLocked(id)
	p := sector.Payload(slot, m.Offset)
	*(*T)(p) = v
	sector.MarkAlive(slot, m.AliveMask)
	a.Unlock()
	return (*T)(p)
}

// Get returns a pointer to entity id's T component, or false when the
// entity has none.
func Get[T any](r *Registry, id EntityID) (*T, bool) {
	a, m, ok := r.arrayForType(typeOf[T](), false)
	if !ok {
		return nil, false
	}
	a.RLock()
	defer a.RUnlock()
	slot, ok := a.FindSectorLocked(id)
	if !ok || !sector.IsAlive(slot, m.AliveMask) {
		return nil, false
	}
	return (*T)(sector.Payload(slot, m.Offset)), true
}

// Has reports whether entity id carries a live T component.
func Has[T any](r *Registry, id EntityID) bool {
	_, ok := Get[T](r, id)
	return ok
}

// Remove destroys the T component of each given entity. The sectors stay
// allocated (other grouped components survive); a sector whose last
// component dies is reclaimed by defragmentation.
func Remove[T any](r *Registry, ids ...EntityID) {
	a, m, ok := r.arrayForType(typeOf[T](), false)
	if !ok {
		return
	}
	a.Lock()
	for _, id := range ids {
		a.DestroyMemberLocked(id, m)
	}
	a.Unlock()
}

// Pinned is a component reference whose sector is pinned: until Release,
// no writer will move or destroy the sector behind it.
type Pinned[T any] struct {
	value *T
	id    EntityID
	arr   *sectors.Array
}

// Value returns the pinned component pointer.
func (p *Pinned[T]) Value() *T { return p.value }

// ID returns the entity id the pin protects.
func (p *Pinned[T]) ID() EntityID { return p.id }

// Release drops the pin. The component pointer must not be used after
// Release. Further calls on the same guard are no-ops.
func (p *Pinned[T]) Release() {
	if p.arr == nil {
		return
	}
	p.arr.Pins().Unpin(p.id)
	p.arr = nil
	p.value = nil
}

// Pin returns a pinned reference to entity id's T component, or false on a
// miss. In a non-ThreadSafe registry the pin itself is a no-op and the
// guard only carries the pointer.
func Pin[T any](r *Registry, id EntityID) (Pinned[T], bool) {
	a, m, ok := r.arrayForType(typeOf[T](), false)
	if !ok {
		return Pinned[T]{}, false
	}
	a.RLock()
	defer a.RUnlock()
	slot, ok := a.FindSectorLocked(id)
	if !ok || !sector.IsAlive(slot, m.AliveMask) {
		return Pinned[T]{}, false
	}
	a.Pins().Pin(id)
	return Pinned[T]{
		value: (*T)(sector.Payload(slot, m.Offset)),
		id:    id,
		arr:   a,
	}, true
}

// componentAddr returns the raw payload address for testing layout
// guarantees (grouped components live a fixed offset apart in one slot).
func componentAddr[T any](r *Registry, id EntityID) (unsafe.Pointer, bool) {
	p, ok := Get[T](r, id)
	return unsafe.Pointer(p), ok
}
