// Package ecss is an in-process Entity-Component-System storage engine.
//
// Components are stored in sectors: fixed-stride slots that pack every
// component type registered to the same array behind one [id, alive]
// header. Slots live in power-of-two chunks, stay sorted by entity id in a
// dense prefix, and are addressed in O(1) through a sparse id map. Views
// iterate one "main" component type chunk by chunk and project grouped
// types from the same slot for free.
//
// A registry built with Options.ThreadSafe supports a many-reader,
// few-writer pattern: readers pin the sectors behind the pointers they
// hold, writers defer conflicting erases and compaction until the pins
// drop. Without ThreadSafe every lock, pin, and deferred-reclamation path
// collapses to a no-op.
//
// The engine owns no goroutines. Maintenance (retrying deferred erases,
// draining retired buffers, defragmenting) runs inside Registry.Update,
// which the embedding application calls at its own cadence.
package ecss
