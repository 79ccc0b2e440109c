// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/azrael-engine/azrael/commandqueue"
	"github.com/azrael-engine/azrael/world"
)

// inlineWorkerDispatcher stands in for a whole worker pool: on Dispatch it
// immediately fetches the package, applies a substep Euler integrator
// matching worker.EulerIntegrator's math (velocity scaled by the force
// times a fixed coupling constant times the substep fraction, position by
// velocity), and commits the result, all synchronously on the calling
// goroutine. This lets a test drive a full Tick without any concurrency;
// the formula is duplicated rather than imported because worker is its own
// package main and cannot be imported from here.
type inlineWorkerDispatcher struct {
	coord *Coordinator
}

const testForceCoupling = 0.01

func (d *inlineWorkerDispatcher) Dispatch(id world.PackageID) bool {
	pkg, ok := d.coord.Registry.FetchPayloadForPackage(id)
	if !ok {
		return false
	}
	states := d.coord.Store.Get(pkg.IDs)
	results := make(map[world.ObjectID]world.State, len(pkg.IDs))
	sub := pkg.DT / float64(pkg.MaxSubsteps)
	for _, objID := range pkg.IDs {
		st, ok := states[objID]
		if !ok {
			continue
		}
		extra := pkg.Extras[objID]
		if extra.SuggestedPosition != nil {
			st.Position = *extra.SuggestedPosition
		}
		if st.InverseMass != 0 {
			for step := 0; step < pkg.MaxSubsteps; step++ {
				st.VelocityLinear = st.VelocityLinear.AddScaled(extra.CentralForce, testForceCoupling*st.InverseMass*sub)
				st.Position = st.Position.AddScaled(st.VelocityLinear, sub)
			}
		}
		results[objID] = st
	}
	_ = d.coord.Registry.Commit(id, pkg.Token, results)
	return true
}

func newTestCoordinator() *Coordinator {
	c := New(zerolog.Nop(), nil, nil, 0.1, 4, 50*time.Millisecond)
	c.Dispatcher = &inlineWorkerDispatcher{coord: c}
	return c
}

func TestTick_SingleObjectTranslates(t *testing.T) {
	c := newTestCoordinator()
	state := world.Default()
	state.VelocityLinear = world.Vec3{X: 2}
	if _, err := c.Store.Insert(1, state, 1); err != nil {
		t.Fatal(err)
	}

	c.Tick()

	got := c.Store.Get([]world.ObjectID{1})[1]
	want := state.Position.Add(world.Vec3{X: 2 * c.TickDT})
	if got.Position != want {
		t.Fatalf("expected position %+v, got %+v", want, got.Position)
	}
}

func TestTick_TwoSeparateObjectsBothAdvance(t *testing.T) {
	c := newTestCoordinator()
	a := world.Default()
	a.Position = world.Vec3{X: 0}
	a.VelocityLinear = world.Vec3{X: 1}
	b := world.Default()
	b.Position = world.Vec3{X: 1000}
	b.VelocityLinear = world.Vec3{X: -1}
	if _, err := c.Store.Insert(1, a, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Store.Insert(2, b, 1); err != nil {
		t.Fatal(err)
	}

	c.Tick()

	states := c.Store.Get([]world.ObjectID{1, 2})
	if states[1].Position.X <= 0 {
		t.Fatalf("expected object 1 to advance, got %+v", states[1].Position)
	}
	if states[2].Position.X >= 1000 {
		t.Fatalf("expected object 2 to advance, got %+v", states[2].Position)
	}
}

func TestTick_ForceGridDeflectsObject(t *testing.T) {
	c := newTestCoordinator()
	if err := c.ForceGrid.Define("wind", 3, 10); err != nil {
		t.Fatal(err)
	}
	if err := c.ForceGrid.SetValues("wind", []world.Vec3{{}}, []world.Vec3{{Y: 5}}); err != nil {
		t.Fatal(err)
	}
	state := world.Default()
	if _, err := c.Store.Insert(1, state, 1); err != nil {
		t.Fatal(err)
	}

	forces := c.sampleForces(nil)
	extra, ok := forces[1]
	if !ok {
		t.Fatal("expected an extra for object 1")
	}
	if extra.CentralForce.Y != 5 {
		t.Fatalf("expected the force grid sample to be folded in, got %+v", extra.CentralForce)
	}
}

// TestTick_ForceGridDeflectionScenario runs a full Tick with
// inlineWorkerDispatcher standing in for a worker's Euler integration,
// covering the same
// setup as the force-grid deflection scenario: a single cell force,
// force_coupling=0.01, one tick of dt=1. The integrator's velocity
// increment is scaled by the substep fraction (see worker.EulerIntegrator),
// so displacement is strictly positive and stays bounded regardless of
// max_substeps, instead of growing with the substep count.
func TestTick_ForceGridDeflectionScenario(t *testing.T) {
	c := New(zerolog.Nop(), nil, nil, 1.0, 4, 50*time.Millisecond)
	c.Dispatcher = &inlineWorkerDispatcher{coord: c}
	if err := c.ForceGrid.Define("force", 3, 1); err != nil {
		t.Fatal(err)
	}
	if err := c.ForceGrid.SetValues("force", []world.Vec3{{}}, []world.Vec3{{X: 1}}); err != nil {
		t.Fatal(err)
	}
	state := world.Default()
	if _, err := c.Store.Insert(1, state, 1); err != nil {
		t.Fatal(err)
	}

	c.Tick()

	got := c.Store.Get([]world.ObjectID{1})[1]
	if got.Position.X <= 0 {
		t.Fatalf("expected strictly positive displacement under a sustained force, got %+v", got.Position)
	}
	if got.Position.X >= 1 {
		t.Fatalf("expected displacement bounded well under the unit force itself, got %+v", got.Position)
	}
}

func TestTick_ImmovableObjectNeverPackaged(t *testing.T) {
	c := newTestCoordinator()
	state := world.Default()
	state.InverseMass = 0
	if _, err := c.Store.Insert(1, state, 1); err != nil {
		t.Fatal(err)
	}

	islands := c.findIslands()
	if len(islands) != 0 {
		t.Fatalf("expected no islands for an immovable-only store, got %+v", islands)
	}
}

func TestTick_SameTickSpawnAndRemoveLeavesObjectAbsent(t *testing.T) {
	c := newTestCoordinator()
	c.Queues.AppendRemove(commandqueue.RemoveCommand{ObjectID: 1})
	c.Queues.AppendSpawn(commandqueue.SpawnCommand{ObjectID: 1, State: world.Default(), Radius: 1})

	c.Tick()

	if _, ok := c.Store.Get([]world.ObjectID{1})[1]; ok {
		t.Fatal("expected a same-tick spawn+remove to leave the object not existing")
	}
}

func TestTick_SuggestedPositionConsumedOnCompletion(t *testing.T) {
	c := newTestCoordinator()
	state := world.Default()
	if _, err := c.Store.Insert(1, state, 1); err != nil {
		t.Fatal(err)
	}
	c.Queues.AppendModify(commandqueue.ModifyCommand{
		ObjectID: 1,
		Override: world.Override{Position: world.Replace(world.Vec3{X: 42})},
	})

	c.Tick()

	got := c.Store.Get([]world.ObjectID{1})[1]
	if got.Position != (world.Vec3{X: 42}) {
		t.Fatalf("expected the suggested position to be applied, got %+v", got.Position)
	}
	if _, pending := c.pendingSuggestion[1]; pending {
		t.Fatal("expected the suggestion to be cleared once its package completed")
	}
}

func TestTick_SuggestedPositionSurvivesAnExpiredPackage(t *testing.T) {
	c := newTestCoordinator()
	c.WaitDeadline = time.Microsecond
	c.Dispatcher = dispatcherFunc(func(world.PackageID) bool { return true }) // never actually commits

	state := world.Default()
	if _, err := c.Store.Insert(1, state, 1); err != nil {
		t.Fatal(err)
	}
	c.Queues.AppendModify(commandqueue.ModifyCommand{
		ObjectID: 1,
		Override: world.Override{Position: world.Replace(world.Vec3{X: 42})},
	})

	c.Tick()

	if _, pending := c.pendingSuggestion[1]; !pending {
		t.Fatal("expected the suggestion to survive an expired package for retry next tick")
	}
}

type dispatcherFunc func(world.PackageID) bool

func (f dispatcherFunc) Dispatch(id world.PackageID) bool { return f(id) }
