// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package worker implements the physics worker (C7): a pull loop that
// receives package ids from dispatch, fetches their payload from the
// shared object store, integrates, and commits results back to the
// work-package registry. Grounded on
// LeonardBulletSweepingMultiMTWorker.run()/processWorkPackage() (a
// blocking receive loop that logs how many objects it processed, then
// integrates and commits), restated as an actor pulling from any
// Receiver: an in-process dispatch.Queue, or, in the worker binary, a
// dispatch.WSClient.
package main

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/azrael-engine/azrael/azerr"
	"github.com/azrael-engine/azrael/metrics"
	"github.com/azrael-engine/azrael/workpkg"
	"github.com/azrael-engine/azrael/world"
)

// Registry is the subset of workpkg.Registry a worker needs, named here
// so tests can supply a fake.
type Registry interface {
	FetchPayloadForPackage(id world.PackageID) (*workpkg.Package, bool)
	Commit(id world.PackageID, token world.Token, results map[world.ObjectID]world.State) error
}

// Store is the subset of world.Store a worker needs to load object
// state before integrating.
type Store interface {
	Get(ids []world.ObjectID) map[world.ObjectID]world.State
}

// Receiver is the pull side of a dispatch transport.
type Receiver interface {
	Receive(ctx context.Context) (world.PackageID, error)
}

// Worker pulls package ids from a Receiver and integrates them.
type Worker struct {
	ID            string
	Receiver      Receiver
	Registry      Registry
	Store         Store
	Integrator    Integrator
	ForceCoupling float64
	Metrics       *metrics.Registry
	Log           zerolog.Logger

	// PackagesUntilExit, if > 0, makes Run return after that many
	// packages have been processed (whether or not their commit
	// succeeded), so a supervisor can respawn a fresh
	// worker. Zero means run forever.
	PackagesUntilExit int
}

// buildPayloads is the payload-fetch step of the pull loop: the worker
// already has the package metadata (ids, token, dt, extras) from the
// registry's out-of-band fetch and loads current state for those ids
// from the shared store.
func (w *Worker) buildPayloads(pkg *workpkg.Package) []Payload {
	states := w.Store.Get(pkg.IDs)
	payloads := make([]Payload, 0, len(pkg.IDs))
	for _, id := range pkg.IDs {
		st, ok := states[id]
		if !ok {
			continue
		}
		p := Payload{ID: id, State: st}
		if extra, ok := pkg.Extras[id]; ok {
			p.CentralForce = extra.CentralForce
			p.Torque = extra.Torque
			if extra.SuggestedPosition != nil {
				pos := *extra.SuggestedPosition
				p.SuggestedPosition = &pos
			}
		}
		payloads = append(payloads, p)
	}
	return payloads
}

// Run pulls and processes packages until ctx is cancelled or
// PackagesUntilExit is reached.
func (w *Worker) Run(ctx context.Context) error {
	coupling := w.ForceCoupling
	if coupling == 0 {
		coupling = DefaultForceCoupling
	}
	integrator := w.Integrator
	if integrator == nil {
		integrator = EulerIntegrator{}
	}

	processed := 0
	for {
		id, err := w.Receiver.Receive(ctx)
		if err != nil {
			return err
		}
		if err := w.processOne(id, integrator, coupling); err != nil {
			w.Log.Warn().Err(err).Uint64("package_id", uint64(id)).Msg("failed to process package")
		}
		processed++
		if w.PackagesUntilExit > 0 && processed >= w.PackagesUntilExit {
			return nil
		}
	}
}

func (w *Worker) processOne(id world.PackageID, integrator Integrator, coupling float64) error {
	pkg, ok := w.Registry.FetchPayloadForPackage(id)
	if !ok {
		return azerr.New(azerr.NotFound, "package %d has no payload", id)
	}

	payloads := w.buildPayloads(pkg)
	results, err := integrator.Integrate(payloads, pkg.DT, pkg.MaxSubsteps, coupling)
	if err != nil {
		// Failure behaviour: commit the unmodified input state for
		// every id rather than dropping the package.
		if w.Metrics != nil {
			w.Metrics.WorkerIntegratorErrors.Add(float64(len(payloads)))
		}
		results = make(map[world.ObjectID]world.State, len(payloads))
		for _, p := range payloads {
			results[p.ID] = p.State
		}
	}
	for _, p := range payloads {
		if st, ok := results[p.ID]; ok {
			st.CollisionShape = p.State.CollisionShape
			results[p.ID] = st
		}
	}

	commitErr := w.Registry.Commit(id, pkg.Token, results)
	if azerr.Is(commitErr, azerr.BadToken) || azerr.Is(commitErr, azerr.AlreadyCommitted) {
		return nil
	}
	return commitErr
}
