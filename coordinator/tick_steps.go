// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/azrael-engine/azrael/broadphase"
	"github.com/azrael-engine/azrael/commandqueue"
	"github.com/azrael-engine/azrael/workpkg"
	"github.com/azrael-engine/azrael/world"
)

// sampleForces is tick step 2: for every non-immovable object, sum the
// force grid's sample at its current position with its queued
// central_force/torque, producing the per-object extras the next step
// bakes into work packages.
func (c *Coordinator) sampleForces(forceTorque []commandqueue.ForceTorqueCommand) map[world.ObjectID]workpkg.Extra {
	queued := make(map[world.ObjectID]commandqueue.ForceTorqueCommand, len(forceTorque))
	for _, cmd := range forceTorque {
		queued[cmd.ObjectID] = cmd
	}

	states := c.Store.AllStates()
	out := make(map[world.ObjectID]workpkg.Extra, len(states))
	for id, state := range states {
		if state.Immovable() {
			continue
		}
		extra := workpkg.Extra{CentralForce: c.ForceGrid.Sample(state.Position)}
		if cmd, ok := queued[id]; ok {
			extra.CentralForce = extra.CentralForce.Add(cmd.CentralForce)
			extra.Torque = cmd.Torque
		}
		if pos, ok := c.pendingSuggestion[id]; ok {
			p := pos
			extra.SuggestedPosition = &p
		}
		out[id] = extra
	}
	return out
}

// findIslands is tick step 3: broad phase over every non-immovable
// object currently in the store.
func (c *Coordinator) findIslands() [][]world.ObjectID {
	states := c.Store.AllStates()
	bodies := make([]broadphase.Body, 0, len(states))
	for id, state := range states {
		if state.Immovable() {
			continue
		}
		bodies = append(bodies, broadphase.Body{ID: id, Position: state.Position, Radius: state.Radius})
	}
	return broadphase.Islands(bodies)
}

// createPackages is tick step 4: stamp the tick's token and create one
// work package per island, baking in each object's sampled force/torque
// and any pending suggested position, then hand the id to the
// dispatcher. Islands are independent of each other, so creation and
// dispatch run concurrently across islands via errgroup; a creation or
// dispatch failure for one island is logged and skipped without
// cancelling the rest.
func (c *Coordinator) createPackages(token world.Token, islands [][]world.ObjectID, extras map[world.ObjectID]workpkg.Extra) []world.PackageID {
	ids := make([]world.PackageID, len(islands))
	var g errgroup.Group
	for i, island := range islands {
		i, island := i, island
		g.Go(func() error {
			islandExtras := make(map[world.ObjectID]workpkg.Extra, len(island))
			for _, id := range island {
				if extra, ok := extras[id]; ok {
					islandExtras[id] = extra
				}
			}
			id, err := c.Registry.CreateWithExtras(island, token, c.TickDT, c.MaxSubsteps, islandExtras)
			if err != nil {
				c.Log.Warn().Err(err).Msg("failed to create work package for island")
				return nil
			}
			if !c.Dispatcher.Dispatch(id) {
				c.Log.Warn().Uint64("package_id", uint64(id)).Msg("dispatch failed; package stays pending until the tick deadline expires it")
			}
			ids[i] = id
			return nil
		})
	}
	_ = g.Wait()

	created := make([]world.PackageID, 0, len(ids))
	for _, id := range ids {
		if id != 0 {
			created = append(created, id)
		}
	}
	return created
}

// waitForCompletion is tick step 5: block until every package stamped
// with token has completed, or until waitDeadline elapses, whichever
// comes first. Packages still outstanding at the deadline are expired;
// their objects keep their pre-tick state for this tick.
func (c *Coordinator) waitForCompletion(token world.Token, log zerolog.Logger, created int) {
	if created == 0 {
		return
	}
	deadline := time.Now().Add(c.WaitDeadline)
	const pollInterval = 200 * time.Microsecond
	for time.Now().Before(deadline) {
		if c.Registry.PendingForToken(token) == 0 {
			return
		}
		time.Sleep(pollInterval)
	}
	expired := c.Registry.Expire(token)
	if len(expired) > 0 {
		log.Warn().Int("expired_packages", len(expired)).Msg("deadline reached with packages still outstanding")
		if c.Metrics != nil {
			c.Metrics.PackagesExpired.Add(float64(len(expired)))
		}
	}
}

// reconcile is tick step 6 and 7 combined: drain every completed package
// and write its results back to the store, copying collision_shape from
// the stored state first (Store.Update writes whatever shape it is
// given), and clearing
// any pending suggested position for ids that actually got a result this
// tick — it was handed to a worker's payload and is now consumed. An id
// whose package instead expired (step 5's deadline) never had its
// suggestion consumed, so it is deliberately left pending for a retry
// next tick.
func (c *Coordinator) reconcile(log zerolog.Logger) {
	for _, completed := range c.Registry.DrainCompleted() {
		for id, result := range completed.Results {
			existing, ok := c.Store.Get([]world.ObjectID{id})[id]
			if !ok {
				// Removed since the package was created; drop the
				// result silently.
				continue
			}
			result.CollisionShape = existing.CollisionShape
			if _, err := c.Store.Update(id, result); err != nil {
				log.Warn().Err(err).Stringer("object_id", id).Msg("failed to reconcile worker result")
				continue
			}
			delete(c.pendingSuggestion, id)
		}
	}
}
