// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"github.com/azrael-engine/azrael/azerr"
	"github.com/azrael-engine/azrael/world"
)

// DefaultForceCoupling is the fixed scalar applied to a central force
// before adding it to velocity (azrael/leonard.py hardcodes
// "sv.velocityLin[:] += force * 0.001"; this worker's default of 0.01
// matches the value named in the coordinator's own external-interfaces
// description as force_coupling). Whichever value is configured, it is
// a worker-side policy and is never placed on the wire.
const DefaultForceCoupling = 0.01

// Payload is one object's integration input for a tick.
type Payload struct {
	ID                world.ObjectID
	State             world.State
	CentralForce      world.Vec3
	Torque            world.Vec3
	SuggestedPosition *world.Vec3
}

// Integrator advances a set of objects by dt using up to maxSubsteps
// sub-steps. It is the pluggable point the worker calls per package;
// the default is a semi-implicit Euler stepper.
type Integrator interface {
	Integrate(payloads []Payload, dt float64, maxSubsteps int, forceCoupling float64) (map[world.ObjectID]world.State, error)
}

// EulerIntegrator is grounded on LeonardBase.step(): "a primitive Euler
// step... suffices as a proof of concept." Velocity is updated from
// force, position from velocity, once per sub-step; sub-stepping only
// subdivides dt; it does not change the physical model.
type EulerIntegrator struct{}

func (EulerIntegrator) Integrate(payloads []Payload, dt float64, maxSubsteps int, forceCoupling float64) (map[world.ObjectID]world.State, error) {
	if maxSubsteps <= 0 {
		return nil, azerr.New(azerr.Integrator, "max_substeps must be positive")
	}
	sub := dt / float64(maxSubsteps)

	out := make(map[world.ObjectID]world.State, len(payloads))
	for _, p := range payloads {
		st := p.State
		if p.SuggestedPosition != nil {
			st.Position = *p.SuggestedPosition
		}
		if st.Immovable() {
			out[p.ID] = st
			continue
		}
		for step := 0; step < maxSubsteps; step++ {
			st.VelocityLinear = st.VelocityLinear.AddScaled(p.CentralForce, forceCoupling*st.InverseMass*sub)
			st.VelocityAngular = st.VelocityAngular.AddScaled(p.Torque, forceCoupling*st.InverseMass*sub)
			st.Position = st.Position.AddScaled(st.VelocityLinear, sub)
			st.Orientation = world.QuatFromVec4(st.Orientation).IntegrateAngularVelocity(st.VelocityAngular, sub).Vec4()
		}
		out[p.ID] = st
	}
	return out, nil
}
