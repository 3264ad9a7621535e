package sector

import (
	"sync/atomic"
	"unsafe"
)

// Header accessors operate on a raw slot base pointer.
//
// The id word is written once when a slot is placed and only changes when
// the slot's bytes are relocated, which the pin discipline serializes, so
// plain loads are fine. The alive word is flipped by writers while readers
// iterate under pins, so all alive access goes through sync/atomic.

// ID returns the sector id stored in the slot header.
func ID(p unsafe.Pointer) uint32 {
	return *(*uint32)(p)
}

// SetID stamps the sector id into the slot header.
func SetID(p unsafe.Pointer, id uint32) {
	*(*uint32)(p) = id
}

func aliveWord(p unsafe.Pointer) *uint32 {
	return (*uint32)(unsafe.Add(p, 4))
}

// Alive returns the slot's alive bitfield.
func Alive(p unsafe.Pointer) uint32 {
	return atomic.LoadUint32(aliveWord(p))
}

// SetAlive replaces the slot's alive bitfield.
func SetAlive(p unsafe.Pointer, v uint32) {
	atomic.StoreUint32(aliveWord(p), v)
}

// MarkAlive sets the bits in mask and returns the previous bitfield.
func MarkAlive(p unsafe.Pointer, mask uint32) uint32 {
	return atomic.OrUint32(aliveWord(p), mask)
}

// MarkDead clears the bits in mask and returns the previous bitfield.
func MarkDead(p unsafe.Pointer, mask uint32) uint32 {
	return atomic.AndUint32(aliveWord(p), ^mask)
}

// IsAlive reports whether any bit of mask is set in the slot's bitfield.
func IsAlive(p unsafe.Pointer, mask uint32) bool {
	return Alive(p)&mask != 0
}

// Payload returns the address of the component at the given offset.
func Payload(p unsafe.Pointer, offset uintptr) unsafe.Pointer {
	return unsafe.Add(p, offset)
}
