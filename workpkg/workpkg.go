// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package workpkg implements the work-package registry (C5): the
// handoff between the coordinator and its physics workers. Grounded on
// azrael/bullet/bullet_data.py's
// createWorkPackage/getWorkPackage/updateWorkPackage trio (a monotonic
// package id, a per-tick token stamped at creation and echoed back on
// commit, pending/completed status), restated with a compare-and-set
// status transition so a redelivered or racing second commit cannot
// double-apply — the concrete concern `puzpuzpuz/xsync.MapOf` plus
// atomic CAS exists to serve safely without the coordinator's own tick
// goroutine ever blocking on a lock held by a worker goroutine.
package workpkg

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/azrael-engine/azrael/azerr"
	"github.com/azrael-engine/azrael/world"
)

const (
	statusPending   int32 = 0
	statusInFlight  int32 = 1
	statusCompleted int32 = 2
)

// Extra is the per-object force/torque and suggested-position data the
// coordinator bakes into a package at creation time, so a worker's
// payload fetch never has to reach back into the live command queues.
type Extra struct {
	CentralForce      world.Vec3
	Torque            world.Vec3
	SuggestedPosition *world.Vec3
}

// Package is one unit of dispatch: a set of object ids to integrate
// together, stamped with the tick's token.
type Package struct {
	ID          world.PackageID
	IDs         []world.ObjectID
	Token       world.Token
	DT          float64
	MaxSubsteps int
	Extras      map[world.ObjectID]Extra

	status  int32
	results map[world.ObjectID]world.State
}

// Registry tracks every live work package from creation through commit.
type Registry struct {
	packages    *xsync.MapOf[world.PackageID, *Package]
	nextID      uint64
	pendingFIFO chan world.PackageID

	// Exists, when set, is consulted by Create/CreateWithExtras to reject
	// any id unknown to C1. Left nil in tests that exercise the registry
	// in isolation from a world.Store.
	Exists func(world.ObjectID) bool
}

func New() *Registry {
	return &Registry{
		packages: xsync.NewMapOf[world.PackageID, *Package](),
		// Sized generously; FetchNextPending degrades to a miss rather
		// than blocking forever if it is ever exceeded.
		pendingFIFO: make(chan world.PackageID, 1<<16),
	}
}

// Create registers a new package and returns its id. ids must be
// non-empty, and every id must exist per Exists if it is set.
func (r *Registry) Create(ids []world.ObjectID, token world.Token, dt float64, maxSubsteps int) (world.PackageID, error) {
	return r.CreateWithExtras(ids, token, dt, maxSubsteps, nil)
}

// CreateWithExtras is Create plus per-object force/torque and suggested
// position, baked in at creation time.
func (r *Registry) CreateWithExtras(ids []world.ObjectID, token world.Token, dt float64, maxSubsteps int, extras map[world.ObjectID]Extra) (world.PackageID, error) {
	if len(ids) == 0 {
		return 0, azerr.New(azerr.BadParams, "ids must not be empty")
	}
	if r.Exists != nil {
		for _, id := range ids {
			if !r.Exists(id) {
				return 0, azerr.New(azerr.NotFound, "object %s not found", id)
			}
		}
	}
	id := world.PackageID(atomic.AddUint64(&r.nextID, 1))
	pkg := &Package{
		ID:          id,
		IDs:         append([]world.ObjectID(nil), ids...),
		Token:       token,
		DT:          dt,
		MaxSubsteps: maxSubsteps,
		Extras:      extras,
		status:      statusPending,
	}
	r.packages.Store(id, pkg)
	select {
	case r.pendingFIFO <- id:
	default:
	}
	return id, nil
}

// FetchNextPending returns and marks in-flight the oldest still-pending
// package, FIFO by package id with no worker affinity. It returns
// (zero-value, false) if nothing is pending right now.
func (r *Registry) FetchNextPending() (*Package, bool) {
	for {
		select {
		case id := <-r.pendingFIFO:
			pkg, ok := r.packages.Load(id)
			if !ok {
				// Removed (all ids since deleted) before being fetched; skip.
				continue
			}
			if atomic.CompareAndSwapInt32(&pkg.status, statusPending, statusInFlight) {
				return pkg, true
			}
			// Already picked up via a redelivery race; try the next one.
		default:
			return nil, false
		}
	}
}

// FetchPayload returns the ids a package covers, for a worker to load
// state for via the object store.
func (p *Package) FetchPayload() []world.ObjectID {
	return p.IDs
}

// FetchPayloadForPackage is the out-of-band lookup a worker performs
// after receiving a package id over dispatch: it has no other way to
// learn which ids, token, dt, and extras that id refers to.
func (r *Registry) FetchPayloadForPackage(id world.PackageID) (*Package, bool) {
	return r.packages.Load(id)
}

// Commit records a package's results if token matches and it has not
// already been committed. result sets may omit ids that have since been
// removed; they are silently ignored by the caller reconciling results
// into the object store, not by Commit itself.
func (r *Registry) Commit(id world.PackageID, token world.Token, results map[world.ObjectID]world.State) error {
	pkg, ok := r.packages.Load(id)
	if !ok {
		return azerr.New(azerr.NotFound, "package %d not found", id)
	}
	if pkg.Token != token {
		return azerr.New(azerr.BadToken, "package %d token mismatch", id)
	}
	// A package may be committed from pending (its payload was fetched by
	// id via FetchPayloadForPackage) or from in-flight (FetchNextPending);
	// only the first commit moves it to completed.
	for {
		status := atomic.LoadInt32(&pkg.status)
		if status == statusCompleted {
			return azerr.New(azerr.AlreadyCommitted, "package %d already committed", id)
		}
		if atomic.CompareAndSwapInt32(&pkg.status, status, statusCompleted) {
			break
		}
	}
	pkg.results = results
	return nil
}

// CompletedResult is one drained package's outcome.
type CompletedResult struct {
	PackageID world.PackageID
	Results   map[world.ObjectID]world.State
}

// DrainCompleted returns and removes every completed package.
func (r *Registry) DrainCompleted() []CompletedResult {
	var out []CompletedResult
	var toDelete []world.PackageID
	r.packages.Range(func(id world.PackageID, pkg *Package) bool {
		if atomic.LoadInt32(&pkg.status) == statusCompleted {
			out = append(out, CompletedResult{PackageID: id, Results: pkg.results})
			toDelete = append(toDelete, id)
		}
		return true
	})
	for _, id := range toDelete {
		r.packages.Delete(id)
	}
	return out
}

// Count returns the number of pending (including in-flight) and
// completed packages currently tracked.
func (r *Registry) Count() (pending, completed int) {
	r.packages.Range(func(_ world.PackageID, pkg *Package) bool {
		switch atomic.LoadInt32(&pkg.status) {
		case statusPending, statusInFlight:
			pending++
		case statusCompleted:
			completed++
		}
		return true
	})
	return pending, completed
}

// PendingForToken counts packages stamped with a given token that have
// not yet completed; the coordinator polls this to know when a tick's
// dispatch has fully drained.
func (r *Registry) PendingForToken(token world.Token) int {
	count := 0
	r.packages.Range(func(_ world.PackageID, pkg *Package) bool {
		if pkg.Token == token && atomic.LoadInt32(&pkg.status) != statusCompleted {
			count++
		}
		return true
	})
	return count
}

// Expire drops every still-pending-or-in-flight package for a token,
// used when a tick's deadline passes with work left outstanding; their
// objects keep their pre-tick state for this tick.
func (r *Registry) Expire(token world.Token) []world.PackageID {
	var expired []world.PackageID
	r.packages.Range(func(id world.PackageID, pkg *Package) bool {
		if pkg.Token == token && atomic.LoadInt32(&pkg.status) != statusCompleted {
			expired = append(expired, id)
		}
		return true
	})
	for _, id := range expired {
		r.packages.Delete(id)
	}
	return expired
}
