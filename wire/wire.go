// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package wire implements the external encodings of object state and
// object ids: the canonical flat 21-element float64 array, an equivalent
// named-field JSON form, and the little-endian object-id byte encoding a
// client protocol uses (distinct from world.ObjectID's big-endian
// in-memory/text form). JSON codec configuration is grounded on mk48's
// server/jsoniter.go custom-encoder registration pattern, generalized
// from entity/player/team id hex encoding to ObjectID and from
// float32-lossy numeric encoders to plain float64 passthrough.
package wire

import (
	"encoding/binary"
	"reflect"
	"unsafe"

	jsoniter "github.com/json-iterator/go"

	"github.com/azrael-engine/azrael/world"
)

// ArrayLen is the length of the canonical flat-array encoding of a
// world.State.
const ArrayLen = 21

// ToArray encodes s into the canonical flat form:
// [radius, scale, inverse_mass, restitution, orientation(4), position(3),
// velocity_linear(3), velocity_angular(3), collision_shape(4)].
func ToArray(s world.State) [ArrayLen]float64 {
	var out [ArrayLen]float64
	out[0] = s.Radius
	out[1] = s.Scale
	out[2] = s.InverseMass
	out[3] = s.Restitution
	out[4], out[5], out[6], out[7] = s.Orientation.X, s.Orientation.Y, s.Orientation.Z, s.Orientation.W
	out[8], out[9], out[10] = s.Position.X, s.Position.Y, s.Position.Z
	out[11], out[12], out[13] = s.VelocityLinear.X, s.VelocityLinear.Y, s.VelocityLinear.Z
	out[14], out[15], out[16] = s.VelocityAngular.X, s.VelocityAngular.Y, s.VelocityAngular.Z
	out[17], out[18], out[19], out[20] = s.CollisionShape.X, s.CollisionShape.Y, s.CollisionShape.Z, s.CollisionShape.W
	return out
}

// FromArray decodes the canonical flat form back into a State.
// LastChanged is not part of the wire form and is left zero; callers
// that need it must fill it in from the store separately.
func FromArray(a [ArrayLen]float64) world.State {
	return world.State{
		Radius:          a[0],
		Scale:           a[1],
		InverseMass:     a[2],
		Restitution:     a[3],
		Orientation:     world.Vec4{X: a[4], Y: a[5], Z: a[6], W: a[7]},
		Position:        world.Vec3{X: a[8], Y: a[9], Z: a[10]},
		VelocityLinear:  world.Vec3{X: a[11], Y: a[12], Z: a[13]},
		VelocityAngular: world.Vec3{X: a[14], Y: a[15], Z: a[16]},
		CollisionShape:  world.Vec4{X: a[17], Y: a[18], Z: a[19], W: a[20]},
	}
}

// ObjectIDToWireBytes encodes id in the client protocol's little-endian
// form, distinct from world.ObjectID.Bytes()'s big-endian in-memory form.
func ObjectIDToWireBytes(id world.ObjectID) [8]byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(id))
	return buf
}

// ObjectIDFromWireBytes decodes the little-endian client-protocol form.
func ObjectIDFromWireBytes(buf [8]byte) world.ObjectID {
	return world.ObjectID(binary.LittleEndian.Uint64(buf[:]))
}

// StateJSON is the named-field JSON form of a world.State.
type StateJSON struct {
	Radius          float64    `json:"radius"`
	Scale           float64    `json:"scale"`
	InverseMass     float64    `json:"inverse_mass"`
	Restitution     float64    `json:"restitution"`
	Orientation     world.Vec4 `json:"orientation"`
	Position        world.Vec3 `json:"position"`
	VelocityLinear  world.Vec3 `json:"velocity_linear"`
	VelocityAngular world.Vec3 `json:"velocity_angular"`
	CollisionShape  world.Vec4 `json:"collision_shape"`
}

func ToStateJSON(s world.State) StateJSON {
	return StateJSON{
		Radius:          s.Radius,
		Scale:           s.Scale,
		InverseMass:     s.InverseMass,
		Restitution:     s.Restitution,
		Orientation:     s.Orientation,
		Position:        s.Position,
		VelocityLinear:  s.VelocityLinear,
		VelocityAngular: s.VelocityAngular,
		CollisionShape:  s.CollisionShape,
	}
}

func (j StateJSON) ToState() world.State {
	return world.State{
		Radius:          j.Radius,
		Scale:           j.Scale,
		InverseMass:     j.InverseMass,
		Restitution:     j.Restitution,
		Orientation:     j.Orientation,
		Position:        j.Position,
		VelocityLinear:  j.VelocityLinear,
		VelocityAngular: j.VelocityAngular,
		CollisionShape:  j.CollisionShape,
	}
}

// JSON is the configured jsoniter API every wire-level JSON encode/decode
// in this module goes through, so ObjectID always round-trips as a
// quoted hex string instead of a bare (and precision-lossy in other
// language runtimes) integer.
var JSON = func() jsoniter.API {
	jsoniter.RegisterTypeEncoderFunc(reflect.TypeOf(world.ObjectID(0)).String(), encodeObjectID, neverEmptyObjectID)
	jsoniter.RegisterTypeDecoderFunc(reflect.TypeOf(world.ObjectID(0)).String(), decodeObjectID)

	return jsoniter.Config{
		EscapeHTML:    false,
		SortMapKeys:   true,
		TagKey:        "json",
		CaseSensitive: true,
	}.Froze()
}()

func encodeObjectID(ptr unsafe.Pointer, stream *jsoniter.Stream) {
	id := *(*world.ObjectID)(ptr)
	text, _ := id.MarshalText()
	stream.SetBuffer(append(append(append(stream.Buffer(), '"'), text...), '"'))
}

func neverEmptyObjectID(ptr unsafe.Pointer) bool {
	return false
}

func decodeObjectID(ptr unsafe.Pointer, iter *jsoniter.Iterator) {
	text := iter.ReadString()
	var id world.ObjectID
	if err := id.UnmarshalText([]byte(text)); err != nil {
		iter.ReportError("decodeObjectID", err.Error())
		return
	}
	*(*world.ObjectID)(ptr) = id
}
