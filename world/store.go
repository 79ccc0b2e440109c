// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

package world

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/azrael-engine/azrael/azerr"
)

// Store is the durable object-id -> kinematic state map (C1). Reads may
// race freely; mutation is always serialized to the coordinator's own
// tick-drain goroutine, so the map only needs to be safe for concurrent
// reads racing a single writer — the access pattern puzpuzpuz/xsync.MapOf
// was built for (grounded on smilemakc-mbflow, which reaches for xsync
// wherever mk48 would have reached for a mutex-guarded map).
type Store struct {
	objects *xsync.MapOf[ObjectID, State]
	// version guards LastChanged allocation; it is only ever touched from
	// the coordinator's own goroutine in practice, but a mutex keeps the
	// invariant explicit rather than implicit.
	mu      sync.Mutex
	version uint64
}

func NewStore() *Store {
	return &Store{objects: xsync.NewMapOf[ObjectID, State]()}
}

func (s *Store) nextVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	return s.version
}

// Insert adds a new object. Re-inserting an id with state identical to what
// is already stored (ignoring CollisionShape, within tolerance) is a no-op
// success; re-inserting with divergent state fails with Duplicate.
func (s *Store) Insert(id ObjectID, state State, radius float64) (bool, error) {
	if id == ObjectIDInvalid {
		return false, azerr.New(azerr.BadParams, "object id 0 is reserved")
	}
	state.Radius = radius
	if err := state.Validate(); err != nil {
		return false, azerr.New(azerr.BadParams, "%v", err)
	}

	existing, loaded := s.objects.Load(id)
	if loaded {
		if existing.CloseEnough(state) {
			return true, nil
		}
		return false, azerr.New(azerr.Duplicate, "object %s already exists with different state", id)
	}

	state.LastChanged = s.nextVersion()
	s.objects.Store(id, state)
	return true, nil
}

// Update replaces the full state of an existing object.
func (s *Store) Update(id ObjectID, state State) (bool, error) {
	existing, loaded := s.objects.Load(id)
	if !loaded {
		return false, azerr.New(azerr.NotFound, "object %s not found", id)
	}
	if err := state.Validate(); err != nil {
		return false, azerr.New(azerr.BadParams, "%v", err)
	}
	state.LastChanged = existing.LastChanged
	if !geometryEqual(existing, state) {
		state.LastChanged = s.nextVersion()
	}
	s.objects.Store(id, state)
	return true, nil
}

func geometryEqual(a, b State) bool {
	return a.Radius == b.Radius && a.Scale == b.Scale && a.CollisionShape == b.CollisionShape
}

// ApplyOverride patches only the fields the override sets.
func (s *Store) ApplyOverride(id ObjectID, override Override) (bool, error) {
	existing, loaded := s.objects.Load(id)
	if !loaded {
		return false, azerr.New(azerr.NotFound, "object %s not found", id)
	}
	if err := ValidateOverride(override); err != nil {
		return false, azerr.New(azerr.BadParams, "%v", err)
	}
	result, geometryChanged := override.Apply(existing)
	if geometryChanged {
		result.LastChanged = s.nextVersion()
	}
	s.objects.Store(id, result)
	return true, nil
}

// Delete removes an object.
func (s *Store) Delete(id ObjectID) (bool, error) {
	_, loaded := s.objects.LoadAndDelete(id)
	if !loaded {
		return false, azerr.New(azerr.NotFound, "object %s not found", id)
	}
	return true, nil
}

// Get returns the state for every requested id that exists; ids not
// present in the store are simply absent from the result (per-id
// absence is reported by omission, the overall call never fails).
func (s *Store) Get(ids []ObjectID) map[ObjectID]State {
	out := make(map[ObjectID]State, len(ids))
	for _, id := range ids {
		if st, ok := s.objects.Load(id); ok {
			out[id] = st
		}
	}
	return out
}

// Exists reports whether id is currently present in the store.
func (s *Store) Exists(id ObjectID) bool {
	_, loaded := s.objects.Load(id)
	return loaded
}

// AllIDs returns every object id currently stored.
func (s *Store) AllIDs() []ObjectID {
	ids := make([]ObjectID, 0, s.objects.Size())
	s.objects.Range(func(id ObjectID, _ State) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// AllStates returns a snapshot of every object's state.
func (s *Store) AllStates() map[ObjectID]State {
	out := make(map[ObjectID]State, s.objects.Size())
	s.objects.Range(func(id ObjectID, st State) bool {
		out[id] = st
		return true
	})
	return out
}

// Count returns the number of objects currently stored.
func (s *Store) Count() int {
	return s.objects.Size()
}

// AABBs returns, per requested id, the bounding radius or nil if the id is
// absent.
func (s *Store) AABBs(ids []ObjectID) []*float64 {
	out := make([]*float64, len(ids))
	for i, id := range ids {
		if st, ok := s.objects.Load(id); ok {
			r := st.Radius
			out[i] = &r
		}
	}
	return out
}
