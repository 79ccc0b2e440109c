// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

package world

// equalityTolerance is the component-wise closeness required for two
// states to be considered the same (ignoring CollisionShape).
const equalityTolerance = 1e-9

// State is the full kinematic and geometric state of one object. All
// vectors use IEEE-754 64-bit components.
type State struct {
	Radius          float64
	Scale           float64
	InverseMass     float64
	Restitution     float64
	Orientation     Vec4
	Position        Vec3
	VelocityLinear  Vec3
	VelocityAngular Vec3
	CollisionShape  Vec4
	// LastChanged is a strictly monotonic per-object version counter,
	// incremented whenever geometry or shape changes (never on a purely
	// kinematic update).
	LastChanged uint64
}

// Default returns a state with azrael/bullet/bullet_data.py's
// BulletData.__new__ defaults.
func Default() State {
	return State{
		Radius:      1,
		Scale:       1,
		InverseMass: 1,
		Restitution: 0.9,
		Orientation: IdentityQuat,
		CollisionShape: Vec4{0, 1, 1, 1},
	}
}

// Immovable reports whether the object has infinite mass.
func (s State) Immovable() bool {
	return s.InverseMass == 0
}

// CloseEnough reports whether two states are equal within tolerance.
// CollisionShape is excluded: workers are free to normalize or zero it
// on commit, so it carries no identity information of its own.
func (s State) CloseEnough(o State) bool {
	return floatClose(s.Radius, o.Radius) &&
		floatClose(s.Scale, o.Scale) &&
		floatClose(s.InverseMass, o.InverseMass) &&
		floatClose(s.Restitution, o.Restitution) &&
		s.Orientation.CloseTo(o.Orientation, equalityTolerance) &&
		s.Position.CloseTo(o.Position, equalityTolerance) &&
		s.VelocityLinear.CloseTo(o.VelocityLinear, equalityTolerance) &&
		s.VelocityAngular.CloseTo(o.VelocityAngular, equalityTolerance)
}

func floatClose(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= equalityTolerance
}

// Validate performs the structural validation every full-state write must
// pass: positive radius/scale, non-negative inverse mass, restitution in
// [0, 1], and a normalizable orientation.
func (s State) Validate() error {
	if s.Radius <= 0 {
		return errBadParam("radius must be positive")
	}
	if s.Scale <= 0 {
		return errBadParam("scale must be positive")
	}
	if s.InverseMass < 0 {
		return errBadParam("inverse_mass must be non-negative")
	}
	if s.Restitution < 0 || s.Restitution > 1 {
		return errBadParam("restitution must be in [0, 1]")
	}
	if QuatFromVec4(s.Orientation).Length() < 1e-12 {
		return errBadParam("orientation must be a non-degenerate quaternion")
	}
	return nil
}

type validationError string

func (e validationError) Error() string { return string(e) }

func errBadParam(msg string) error { return validationError(msg) }

// Field is a tagged "leave as is" / "replace" value, used by Override so a
// legitimate zero value (e.g. inverse_mass == 0 for immovable objects) can
// never be confused with "no change requested."
type Field[T any] struct {
	Set   bool
	Value T
}

// Keep returns a Field that leaves the corresponding State field untouched.
func Keep[T any]() Field[T] {
	return Field[T]{}
}

// Replace returns a Field that overwrites the corresponding State field.
func Replace[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: v}
}

// Override is a partial State: each field is independently Keep or
// Replace. An Override with every field Set is equivalent to a full
// replacement.
type Override struct {
	Radius          Field[float64]
	Scale           Field[float64]
	InverseMass     Field[float64]
	Restitution     Field[float64]
	Orientation     Field[Vec4]
	Position        Field[Vec3]
	VelocityLinear  Field[Vec3]
	VelocityAngular Field[Vec3]
	CollisionShape  Field[Vec4]
}

// Apply returns the State that results from applying the override on top
// of base, plus whether any field touched geometry/shape (radius, scale,
// collision shape) rather than pure kinematics; orientation counts as
// kinematics.
func (o Override) Apply(base State) (result State, geometryChanged bool) {
	result = base
	if o.Radius.Set {
		result.Radius = o.Radius.Value
		geometryChanged = true
	}
	if o.Scale.Set {
		result.Scale = o.Scale.Value
		geometryChanged = true
	}
	if o.InverseMass.Set {
		result.InverseMass = o.InverseMass.Value
	}
	if o.Restitution.Set {
		result.Restitution = o.Restitution.Value
	}
	if o.Orientation.Set {
		result.Orientation = o.Orientation.Value
	}
	if o.Position.Set {
		result.Position = o.Position.Value
	}
	if o.VelocityLinear.Set {
		result.VelocityLinear = o.VelocityLinear.Value
	}
	if o.VelocityAngular.Set {
		result.VelocityAngular = o.VelocityAngular.Value
	}
	if o.CollisionShape.Set {
		result.CollisionShape = o.CollisionShape.Value
		geometryChanged = true
	}
	return result, geometryChanged
}

// ValidateOverride applies the override onto a throwaway base that already
// passes validation, so only the replaced fields are actually checked
// against the same structural rules a full state write must satisfy.
func ValidateOverride(o Override) error {
	base := Default()
	applied, _ := o.Apply(base)
	return applied.Validate()
}
