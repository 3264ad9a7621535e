package ecss

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ecss/internal/callgroup"
	"ecss/internal/logging"
	"ecss/internal/ranges"
	"ecss/internal/sector"
	"ecss/internal/sectors"
)

// EntityID identifies one entity. Ids are dense and recycled; they are
// process-stable only and must never be persisted.
type EntityID = uint32

// NoEntity is the sentinel id meaning "none".
const NoEntity EntityID = ^uint32(0)

var (
	// ErrLayoutConflict is returned when a component set partially
	// overlaps an existing grouping: the set must be all-new or already
	// all-mapped to one array.
	ErrLayoutConflict = errors.New("ecss: component set conflicts with an existing array")
)

// Options configures a Registry.
type Options struct {
	// ThreadSafe enables the per-array locks, pin tables, and retire
	// bins. When false the registry is single-threaded and all of them
	// collapse to no-op stubs.
	ThreadSafe bool

	// Logger for structured logging. If nil, logging is disabled. The
	// registry scopes it with component="registry" and a short store id.
	Logger *slog.Logger

	// Capacity is the default initial slot reservation for new arrays.
	Capacity int

	// ChunkCapacity is the default per-chunk slot count for new arrays,
	// rounded up to a power of two. Zero selects 8192.
	ChunkCapacity int
}

// ArrayOptions overrides the registry defaults for one array at
// registration time.
type ArrayOptions struct {
	Capacity      int
	ChunkCapacity int
}

// Registry is the top-level façade: it owns the entity id set and the
// component arrays, one per registered type group.
//
// Lock order is fixed: entity set < array map < any array. A lock is
// never upgraded from shared to exclusive within one call.
type Registry struct {
	opts    Options
	storeID uuid.UUID
	logger  *slog.Logger

	entMu    rwLock
	entities ranges.Set

	mapMu  rwLock
	byType map[reflect.Type]*sectors.Array
	arrays []*sectors.Array

	maint callgroup.Group[*sectors.Array]
}

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

// New creates a registry.
func New(opts Options) *Registry {
	storeID := uuid.Must(uuid.NewV7())
	logger := logging.Default(opts.Logger).With(
		"component", "registry",
		"store", storeID.String()[:8],
	)
	return &Registry{
		opts:    opts,
		storeID: storeID,
		logger:  logger,
		entMu:   newRWLock(opts.ThreadSafe),
		mapMu:   newRWLock(opts.ThreadSafe),
		byType:  make(map[reflect.Type]*sectors.Array),
	}
}

// StoreID returns the registry's process-local identity, used for log
// scoping.
func (r *Registry) StoreID() uuid.UUID { return r.storeID }

// TakeEntity allocates the id just past the first range of live ids and
// extends that range by one. Ids freed below the first range's start are
// not handed out again until the set is empty.
func (r *Registry) TakeEntity() EntityID {
	r.entMu.Lock()
	defer r.entMu.Unlock()
	return r.entities.Take()
}

// Contains reports whether id is a live entity.
func (r *Registry) Contains(id EntityID) bool {
	r.entMu.RLock()
	defer r.entMu.RUnlock()
	return r.entities.Contains(id)
}

// AllEntities returns every live entity id in ascending order.
func (r *Registry) AllEntities() []EntityID {
	r.entMu.RLock()
	defer r.entMu.RUnlock()
	return r.entities.All()
}

// EntityCount returns the number of live entities.
func (r *Registry) EntityCount() int {
	r.entMu.RLock()
	defer r.entMu.RUnlock()
	return r.entities.Len()
}

// DestroyEntity releases id and destroys its sector in every array. The
// sectors die in place; the holes are reclaimed by a later Update with
// defragmentation.
func (r *Registry) DestroyEntity(id EntityID) {
	r.entMu.Lock()
	r.entities.Erase(id)
	r.entMu.Unlock()
	for _, a := range r.snapshotArrays() {
		a.EraseSector(id, false)
	}
}

// DestroyEntities batch-destroys the given ids. Per array, the victims are
// erased in one critical section; the erase waits on pins for the first
// victim and defers any pinned stragglers to that array's pending queue.
// Ids beyond an array's sparse capacity are trimmed silently.
func (r *Registry) DestroyEntities(ids []EntityID) {
	if len(ids) == 0 {
		return
	}
	sorted := make([]EntityID, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	for _, a := range r.snapshotArrays() {
		a.Lock()
		a.Pins().WaitMovable(sorted[0])
		for _, id := range sorted {
			a.EraseSectorLocked(id, false)
		}
		a.Unlock()
	}

	r.entMu.Lock()
	for _, id := range sorted {
		r.entities.Erase(id)
	}
	r.entMu.Unlock()

	r.logger.Info("destroyed entities", "count", len(sorted))
}

// Update runs one maintenance tick: every array retries its deferred
// erases, drains its retire bin, and, when requested, defragments.
// Concurrent ticks on the same array are collapsed into one.
func (r *Registry) Update(withDefragment bool) {
	arrays := r.snapshotArrays()
	if !r.opts.ThreadSafe {
		for _, a := range arrays {
			a.ProcessPendingErases(withDefragment)
		}
		return
	}
	var g errgroup.Group
	for _, a := range arrays {
		g.Go(func() error {
			return r.maint.Do(a, func() error {
				a.ProcessPendingErases(withDefragment)
				return nil
			})
		})
	}
	// Maintenance work never returns an error; Wait just joins the group.
	_ = g.Wait()
}

// Defragment compacts every array, waiting on pins as needed.
func (r *Registry) Defragment() {
	for _, a := range r.snapshotArrays() {
		a.Defragment()
	}
}

// Clear destroys all entities and components. Registered arrays and their
// layouts survive.
func (r *Registry) Clear() {
	r.entMu.Lock()
	r.entities.Clear()
	r.entMu.Unlock()
	for _, a := range r.snapshotArrays() {
		a.Clear()
	}
	r.logger.Info("cleared store")
}

func (r *Registry) snapshotArrays() []*sectors.Array {
	r.mapMu.RLock()
	out := make([]*sectors.Array, len(r.arrays))
	copy(out, r.arrays)
	r.mapMu.RUnlock()
	return out
}

// registerArray creates (or returns) the array for the given component
// type group. The group must be all-new or already all-mapped to one
// array; partial overlap is rejected.
func (r *Registry) registerArray(types []reflect.Type, opts []ArrayOptions) (*sectors.Array, error) {
	r.mapMu.Lock()
	defer r.mapMu.Unlock()

	var existing *sectors.Array
	mapped := 0
	for _, t := range types {
		a, ok := r.byType[t]
		if !ok {
			continue
		}
		mapped++
		if existing == nil {
			existing = a
		} else if existing != a {
			return nil, fmt.Errorf("%w: %v spans two arrays", ErrLayoutConflict, types)
		}
	}
	if mapped == len(types) && existing != nil {
		if existing.Layout().NumTypes() != len(types) {
			return nil, fmt.Errorf("%w: %v is a subset of an existing group", ErrLayoutConflict, types)
		}
		return existing, nil
	}
	if mapped != 0 {
		return nil, fmt.Errorf("%w: %v partially overlaps an existing group", ErrLayoutConflict, types)
	}

	capacity := r.opts.Capacity
	chunkCap := r.opts.ChunkCapacity
	if len(opts) > 0 {
		if opts[0].Capacity > 0 {
			capacity = opts[0].Capacity
		}
		if opts[0].ChunkCapacity > 0 {
			chunkCap = opts[0].ChunkCapacity
		}
	}

	layout, err := sector.NewLayout(types...)
	if err != nil {
		return nil, err
	}
	a, err := sectors.New(sectors.Config{
		Layout:        layout,
		Capacity:      capacity,
		ChunkCapacity: chunkCap,
		ThreadSafe:    r.opts.ThreadSafe,
		Logger:        r.logger,
	})
	if err != nil {
		return nil, err
	}
	for _, t := range types {
		r.byType[t] = a
	}
	r.arrays = append(r.arrays, a)
	r.logger.Info("registered array", "types", fmt.Sprint(types), "stride", layout.Stride())
	return a, nil
}

// arrayForType resolves the array holding component type t, implicitly
// registering a single-type array when create is set.
func (r *Registry) arrayForType(t reflect.Type, create bool) (*sectors.Array, *sector.Meta, bool) {
	r.mapMu.RLock()
	a, ok := r.byType[t]
	r.mapMu.RUnlock()
	if !ok {
		if !create {
			return nil, nil, false
		}
		var err error
		a, err = r.registerArray([]reflect.Type{t}, nil)
		if err != nil {
			// Unreachable for a single unmapped type; conflicts need an
			// already-mapped member.
			panic(err)
		}
	}
	m, ok := a.Layout().Meta(t)
	if !ok {
		return nil, nil, false
	}
	return a, m, true
}
