// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command coordinator is the tick loop (C6, internally "Leonard"): one
// single-threaded goroutine that drains client commands, samples the
// force grid, finds collision islands, dispatches work packages,
// waits on their results, and reconciles them back into the object
// store. Grounded on mk48's server/hub.go Hub.run() ticker-driven
// select loop and server/physics.go's parallel-update-then-fan-in
// shape, generalized from "advance every entity in one goroutine pool
// per tick" to "dispatch one work package per collision island to an
// external worker pool."
package main

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/azrael-engine/azrael/commandqueue"
	"github.com/azrael-engine/azrael/forcegrid"
	"github.com/azrael-engine/azrael/metrics"
	"github.com/azrael-engine/azrael/workpkg"
	"github.com/azrael-engine/azrael/world"
)

// Dispatcher is the outbound half of C8 the coordinator needs: handing a
// freshly created package id to whichever transport is wired in (an
// in-process dispatch.Queue or a dispatch.WSServer).
type Dispatcher interface {
	Dispatch(id world.PackageID) bool
}

// Coordinator owns every process-wide store (C1-C3, C5) and drives one
// tick at a time. Only this type's own goroutine ever mutates the
// object store; everything else reaches it only through the command
// queues or the work-package registry.
type Coordinator struct {
	Store      *world.Store
	Queues     *commandqueue.Queues
	ForceGrid  *forcegrid.Grid
	Registry   *workpkg.Registry
	Dispatcher Dispatcher
	Metrics    *metrics.Registry
	Log        zerolog.Logger

	TickDT       float64
	MaxSubsteps  int
	WaitDeadline time.Duration

	token uint64

	// pendingSuggestion holds, per object id, a one-shot position
	// teleport requested via a modify command's Override.Position. It is
	// baked into the next package that covers the id and cleared once
	// consumed — unlike every other Override field, position-as-suggestion
	// is never written straight to the store at drain time.
	pendingSuggestion map[world.ObjectID]world.Vec3
}

// New builds a Coordinator with its own fresh stores.
func New(log zerolog.Logger, metricsReg *metrics.Registry, dispatcher Dispatcher, tickDT float64, maxSubsteps int, waitDeadline time.Duration) *Coordinator {
	store := world.NewStore()
	registry := workpkg.New()
	registry.Exists = store.Exists
	return &Coordinator{
		Store:             store,
		Queues:            commandqueue.New(),
		ForceGrid:         forcegrid.New(),
		Registry:          registry,
		Dispatcher:        dispatcher,
		Metrics:           metricsReg,
		Log:               log,
		TickDT:            tickDT,
		MaxSubsteps:       maxSubsteps,
		WaitDeadline:      waitDeadline,
		pendingSuggestion: make(map[world.ObjectID]world.Vec3),
	}
}

// Run drives Tick on a fixed wall-clock period until ctx is cancelled. A
// slow tick is never caught up on — the next tick simply starts as soon
// as the current one returns.
func (c *Coordinator) Run(ctx context.Context, tickPeriod time.Duration) {
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Tick executes one full coordinator tick: drain commands, sample
// forces, find collision islands, dispatch work packages, wait on
// their results, and reconcile them back into the object store.
func (c *Coordinator) Tick() {
	start := time.Now()
	token := world.Token(atomic.AddUint64(&c.token, 1))
	log := c.Log.With().Uint64("tick_token", uint64(token)).Logger()

	dirty, forceTorque := c.drainCommands(log)
	forces := c.sampleForces(forceTorque)
	islands := c.findIslands()
	created := c.createPackages(token, islands, forces)
	c.waitForCompletion(token, log, len(created))
	c.reconcile(log)

	if c.Metrics != nil {
		c.Metrics.TickDuration.Observe(time.Since(start).Seconds())
		c.Metrics.IslandCount.Set(float64(len(islands)))
		c.Metrics.ObjectCount.Set(float64(c.Store.Count()))
	}
	log.Debug().
		Int("dirty", len(dirty)).
		Int("islands", len(islands)).
		Int("packages", len(created)).
		Dur("duration", time.Since(start)).
		Msg("tick complete")
}

// drainCommands is tick step 1: apply the four command queues in their
// fixed order, tracking which ids were touched. Force/torque commands are
// returned rather than applied here; sampleForces folds them into the
// per-object tick force alongside the grid sample instead of round
// tripping them through the store.
func (c *Coordinator) drainCommands(log zerolog.Logger) (map[world.ObjectID]struct{}, []commandqueue.ForceTorqueCommand) {
	drained := c.Queues.DrainAll()
	dirty := make(map[world.ObjectID]struct{}, len(drained.Remove)+len(drained.Spawn)+len(drained.Modify)+len(drained.Force))

	removed := make(map[world.ObjectID]struct{}, len(drained.Remove))
	for _, cmd := range drained.Remove {
		if _, err := c.Store.Delete(cmd.ObjectID); err != nil {
			log.Debug().Err(err).Stringer("object_id", cmd.ObjectID).Msg("remove failed")
		}
		delete(c.pendingSuggestion, cmd.ObjectID)
		removed[cmd.ObjectID] = struct{}{}
		dirty[cmd.ObjectID] = struct{}{}
	}
	for _, cmd := range drained.Spawn {
		dirty[cmd.ObjectID] = struct{}{}
		if _, ok := removed[cmd.ObjectID]; ok {
			// A same-tick spawn+remove leaves the object not existing:
			// remove already ran this tick and wins.
			continue
		}
		if _, err := c.Store.Insert(cmd.ObjectID, cmd.State, cmd.Radius); err != nil {
			log.Warn().Err(err).Stringer("object_id", cmd.ObjectID).Msg("spawn failed")
		}
	}
	for _, cmd := range drained.Modify {
		override := cmd.Override
		if override.Position.Set {
			c.pendingSuggestion[cmd.ObjectID] = override.Position.Value
			override.Position = world.Keep[world.Vec3]()
		}
		if _, err := c.Store.ApplyOverride(cmd.ObjectID, override); err != nil {
			log.Debug().Err(err).Stringer("object_id", cmd.ObjectID).Msg("modify failed")
		}
		dirty[cmd.ObjectID] = struct{}{}
	}
	for _, cmd := range drained.Force {
		dirty[cmd.ObjectID] = struct{}{}
	}
	return dirty, drained.Force
}
