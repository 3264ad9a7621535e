// Package ranges provides a dense set of uint32 ids stored as sorted,
// non-overlapping, non-adjacent half-open ranges.
//
// The representation stays compact as long as ids are allocated densely:
// a million sequential ids occupy a single range. Lookup and erase binary
// search over the range vector; insert merges with touching neighbors so
// the non-adjacency invariant holds after every operation.
package ranges

import (
	"iter"
	"sort"
)

// span is a half-open id range [First, Last).
type span struct {
	First uint32
	Last  uint32
}

// Set is a set of uint32 ids held as sorted half-open ranges.
// The zero value is an empty set ready for use.
type Set struct {
	spans []span
}

// FromSorted builds a set from a sorted, duplicate-free id list.
func FromSorted(ids []uint32) Set {
	var s Set
	for _, id := range ids {
		s.Insert(id)
	}
	return s
}

// Take allocates and returns the lowest id past the first range, extending
// that range by one. An empty set is seeded at zero, so the first Take
// returns 0.
func (s *Set) Take() uint32 {
	if len(s.spans) == 0 {
		s.spans = append(s.spans, span{0, 1})
		return 0
	}
	id := s.spans[0].Last
	s.spans[0].Last++
	// Merge with the next range if the extension made them adjacent.
	if len(s.spans) > 1 && s.spans[0].Last == s.spans[1].First {
		s.spans[0].Last = s.spans[1].Last
		s.spans = append(s.spans[:1], s.spans[2:]...)
	}
	return id
}

// find returns the index of the first span whose Last exceeds id.
func (s *Set) find(id uint32) int {
	return sort.Search(len(s.spans), func(i int) bool {
		return s.spans[i].Last > id
	})
}

// Contains reports whether id is in the set.
func (s *Set) Contains(id uint32) bool {
	i := s.find(id)
	return i < len(s.spans) && s.spans[i].First <= id
}

// Insert adds id to the set, merging with neighboring ranges when the new
// id touches either boundary. Inserting a present id is a no-op.
func (s *Set) Insert(id uint32) {
	i := s.find(id)
	if i < len(s.spans) && s.spans[i].First <= id {
		return
	}
	touchesPrev := i > 0 && s.spans[i-1].Last == id
	touchesNext := i < len(s.spans) && s.spans[i].First == id+1
	switch {
	case touchesPrev && touchesNext:
		s.spans[i-1].Last = s.spans[i].Last
		s.spans = append(s.spans[:i], s.spans[i+1:]...)
	case touchesPrev:
		s.spans[i-1].Last = id + 1
	case touchesNext:
		s.spans[i].First = id
	default:
		s.spans = append(s.spans, span{})
		copy(s.spans[i+1:], s.spans[i:])
		s.spans[i] = span{id, id + 1}
	}
}

// Erase removes id from the set. Erasing an absent id is a no-op.
func (s *Set) Erase(id uint32) {
	i := s.find(id)
	if i >= len(s.spans) || s.spans[i].First > id {
		return
	}
	sp := &s.spans[i]
	switch {
	case sp.First == id && sp.Last == id+1:
		s.spans = append(s.spans[:i], s.spans[i+1:]...)
	case sp.First == id:
		sp.First++
	case sp.Last == id+1:
		sp.Last--
	default:
		// Split the range around the erased id.
		tail := span{id + 1, sp.Last}
		sp.Last = id
		s.spans = append(s.spans, span{})
		copy(s.spans[i+2:], s.spans[i+1:])
		s.spans[i+1] = tail
	}
}

// Len returns the number of ids in the set.
func (s *Set) Len() int {
	n := 0
	for _, sp := range s.spans {
		n += int(sp.Last - sp.First)
	}
	return n
}

// All returns every id in ascending order.
func (s *Set) All() []uint32 {
	out := make([]uint32, 0, s.Len())
	for _, sp := range s.spans {
		for id := sp.First; id < sp.Last; id++ {
			out = append(out, id)
		}
	}
	return out
}

// Each iterates the set's ids in ascending order.
func (s *Set) Each() iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		for _, sp := range s.spans {
			for id := sp.First; id < sp.Last; id++ {
				if !yield(id) {
					return
				}
			}
		}
	}
}

// Clear empties the set.
func (s *Set) Clear() {
	s.spans = s.spans[:0]
}
