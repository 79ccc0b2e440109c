// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azrael-engine/azrael/azerr"
	"github.com/azrael-engine/azrael/workpkg"
	"github.com/azrael-engine/azrael/world"
)

type fakeReceiver struct {
	ids []world.PackageID
	pos int
}

func (f *fakeReceiver) Receive(ctx context.Context) (world.PackageID, error) {
	if f.pos >= len(f.ids) {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	id := f.ids[f.pos]
	f.pos++
	return id, nil
}

type fakeRegistry struct {
	packages    map[world.PackageID]*workpkg.Package
	committed   map[world.PackageID]map[world.ObjectID]world.State
	commitCalls int
}

func (f *fakeRegistry) FetchPayloadForPackage(id world.PackageID) (*workpkg.Package, bool) {
	p, ok := f.packages[id]
	return p, ok
}

func (f *fakeRegistry) Commit(id world.PackageID, token world.Token, results map[world.ObjectID]world.State) error {
	f.commitCalls++
	pkg, ok := f.packages[id]
	if !ok {
		return azerr.New(azerr.NotFound, "package %d not found", id)
	}
	if pkg.Token != token {
		return azerr.New(azerr.BadToken, "package %d token mismatch", id)
	}
	f.committed[id] = results
	return nil
}

type fakeStore struct {
	states map[world.ObjectID]world.State
}

func (f *fakeStore) Get(ids []world.ObjectID) map[world.ObjectID]world.State {
	out := make(map[world.ObjectID]world.State, len(ids))
	for _, id := range ids {
		if st, ok := f.states[id]; ok {
			out[id] = st
		}
	}
	return out
}

func newFakeRegistry(packages map[world.PackageID]*workpkg.Package) *fakeRegistry {
	return &fakeRegistry{packages: packages, committed: make(map[world.PackageID]map[world.ObjectID]world.State)}
}

func TestWorker_ProcessesPackageAndCommits(t *testing.T) {
	state := world.Default()
	state.VelocityLinear = world.Vec3{X: 2}

	registry := newFakeRegistry(map[world.PackageID]*workpkg.Package{
		1: {ID: 1, IDs: []world.ObjectID{10}, Token: 1, DT: 1, MaxSubsteps: 1},
	})
	store := &fakeStore{states: map[world.ObjectID]world.State{10: state}}

	w := &Worker{
		Receiver:   &fakeReceiver{ids: []world.PackageID{1}},
		Registry:   registry,
		Store:      store,
		Integrator: EulerIntegrator{},
		Log:        zerolog.Nop(),
	}

	err := w.processOne(1, EulerIntegrator{}, DefaultForceCoupling)
	require.NoError(t, err)

	result, ok := registry.committed[1][10]
	require.True(t, ok)
	assert.Greater(t, result.Position.X, 0.0)
}

// zeroingIntegrator simulates a worker-side normalization bug that zeroes
// collision_shape on every result; processOne must restore it from the
// input state before committing regardless.
type zeroingIntegrator struct{}

func (zeroingIntegrator) Integrate(payloads []Payload, dt float64, maxSubsteps int, forceCoupling float64) (map[world.ObjectID]world.State, error) {
	out := make(map[world.ObjectID]world.State, len(payloads))
	for _, p := range payloads {
		st := p.State
		st.CollisionShape = world.Vec4{}
		out[p.ID] = st
	}
	return out, nil
}

func TestWorker_CollisionShapeRestoredFromInput(t *testing.T) {
	state := world.Default()
	state.CollisionShape = world.Vec4{X: 9, Y: 9, Z: 9, W: 9}

	registry := newFakeRegistry(map[world.PackageID]*workpkg.Package{
		1: {ID: 1, IDs: []world.ObjectID{10}, Token: 1, DT: 1, MaxSubsteps: 1},
	})
	store := &fakeStore{states: map[world.ObjectID]world.State{10: state}}

	w := &Worker{Registry: registry, Store: store, Log: zerolog.Nop()}
	err := w.processOne(1, zeroingIntegrator{}, DefaultForceCoupling)
	require.NoError(t, err)

	result := registry.committed[1][10]
	assert.Equal(t, state.CollisionShape, result.CollisionShape)
}

// failingIntegrator always errors, exercising the failure-behaviour path:
// commit the unmodified input state rather than dropping the package.
type failingIntegrator struct{}

func (failingIntegrator) Integrate(payloads []Payload, dt float64, maxSubsteps int, forceCoupling float64) (map[world.ObjectID]world.State, error) {
	return nil, azerr.New(azerr.Integrator, "boom")
}

func TestWorker_IntegratorErrorCommitsUnmodifiedState(t *testing.T) {
	state := world.Default()
	state.Position = world.Vec3{X: 7, Y: 8, Z: 9}

	registry := newFakeRegistry(map[world.PackageID]*workpkg.Package{
		1: {ID: 1, IDs: []world.ObjectID{10}, Token: 1, DT: 1, MaxSubsteps: 1},
	})
	store := &fakeStore{states: map[world.ObjectID]world.State{10: state}}

	w := &Worker{Registry: registry, Store: store, Log: zerolog.Nop()}
	err := w.processOne(1, failingIntegrator{}, DefaultForceCoupling)
	require.NoError(t, err)

	result := registry.committed[1][10]
	assert.Equal(t, state.Position, result.Position)
}

func TestWorker_BadTokenCommitErrorIsSwallowed(t *testing.T) {
	registry := newFakeRegistry(map[world.PackageID]*workpkg.Package{
		1: {ID: 1, IDs: []world.ObjectID{10}, Token: 1, DT: 1, MaxSubsteps: 1},
	})
	store := &fakeStore{states: map[world.ObjectID]world.State{10: world.Default()}}
	badTokenRegistry := &alwaysBadTokenRegistry{fakeRegistry: registry}

	w := &Worker{Registry: badTokenRegistry, Store: store, Log: zerolog.Nop()}
	err := w.processOne(1, EulerIntegrator{}, DefaultForceCoupling)
	require.NoError(t, err)
	assert.Equal(t, 1, badTokenRegistry.commitCalls)
}

type alwaysBadTokenRegistry struct {
	*fakeRegistry
}

func (r *alwaysBadTokenRegistry) Commit(id world.PackageID, token world.Token, results map[world.ObjectID]world.State) error {
	r.commitCalls++
	return azerr.New(azerr.BadToken, "package %d token mismatch", id)
}

func TestWorker_RunStopsAfterPackagesUntilExit(t *testing.T) {
	registry := newFakeRegistry(map[world.PackageID]*workpkg.Package{
		1: {ID: 1, IDs: []world.ObjectID{10}, Token: 1, DT: 1, MaxSubsteps: 1},
		2: {ID: 2, IDs: []world.ObjectID{10}, Token: 1, DT: 1, MaxSubsteps: 1},
	})
	store := &fakeStore{states: map[world.ObjectID]world.State{10: world.Default()}}

	w := &Worker{
		Receiver:          &fakeReceiver{ids: []world.PackageID{1, 2}},
		Registry:          registry,
		Store:             store,
		Integrator:        EulerIntegrator{},
		Log:               zerolog.Nop(),
		PackagesUntilExit: 2,
	}

	err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, registry.committed, 2)
}
