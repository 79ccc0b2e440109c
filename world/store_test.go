// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

package world

import (
	"testing"

	"github.com/azrael-engine/azrael/azerr"
)

func TestStore_InsertDuplicate(t *testing.T) {
	s := NewStore()
	a := Default()
	a.Position = Vec3{1, 2, 3}

	ok, err := s.Insert(1, a, 1)
	if !ok || err != nil {
		t.Fatalf("first insert: ok=%v err=%v", ok, err)
	}

	// Re-spawning with identical state is a no-op success.
	ok, err = s.Insert(1, a, 1)
	if !ok || err != nil {
		t.Fatalf("idempotent insert: ok=%v err=%v", ok, err)
	}

	b := a
	b.Position = Vec3{9, 9, 9}
	ok, err = s.Insert(1, b, 1)
	if ok || !azerr.Is(err, azerr.Duplicate) {
		t.Fatalf("expected duplicate, got ok=%v err=%v", ok, err)
	}

	got := s.Get([]ObjectID{1})[1]
	if !got.CloseEnough(a) {
		t.Fatalf("store retained divergent state: %+v", got)
	}
}

func TestStore_UpdateNotFound(t *testing.T) {
	s := NewStore()
	ok, err := s.Update(42, Default())
	if ok || !azerr.Is(err, azerr.NotFound) {
		t.Fatalf("expected not_found, got ok=%v err=%v", ok, err)
	}
}

func TestStore_LastChangedMonotonic(t *testing.T) {
	s := NewStore()
	base := Default()
	if _, err := s.Insert(1, base, 1); err != nil {
		t.Fatal(err)
	}
	first := s.Get([]ObjectID{1})[1].LastChanged

	// Pure kinematic update must not bump LastChanged.
	kinematic := base
	kinematic.Position = Vec3{5, 0, 0}
	if _, err := s.Update(1, kinematic); err != nil {
		t.Fatal(err)
	}
	if got := s.Get([]ObjectID{1})[1].LastChanged; got != first {
		t.Fatalf("kinematic update changed version: %d -> %d", first, got)
	}

	// Geometry change must bump it.
	geom := kinematic
	geom.Radius = 2
	if _, err := s.Update(1, geom); err != nil {
		t.Fatal(err)
	}
	if got := s.Get([]ObjectID{1})[1].LastChanged; got <= first {
		t.Fatalf("geometry update did not bump version: %d -> %d", first, got)
	}
}

func TestStore_ApplyOverrideLeavesUnsetFieldsAlone(t *testing.T) {
	s := NewStore()
	base := Default()
	base.Position = Vec3{1, 1, 1}
	base.VelocityLinear = Vec3{2, 0, 0}
	if _, err := s.Insert(1, base, 1); err != nil {
		t.Fatal(err)
	}

	ok, err := s.ApplyOverride(1, Override{Position: Replace(Vec3{9, 9, 9})})
	if !ok || err != nil {
		t.Fatalf("apply override: ok=%v err=%v", ok, err)
	}

	got := s.Get([]ObjectID{1})[1]
	if got.Position != (Vec3{9, 9, 9}) {
		t.Fatalf("position not replaced: %+v", got.Position)
	}
	if got.VelocityLinear != (Vec3{2, 0, 0}) {
		t.Fatalf("velocity should be untouched: %+v", got.VelocityLinear)
	}
}

func TestStore_AABBsReportsAbsence(t *testing.T) {
	s := NewStore()
	if _, err := s.Insert(1, Default(), 3); err != nil {
		t.Fatal(err)
	}

	out := s.AABBs([]ObjectID{1, 2})
	if out[0] == nil || *out[0] != 3 {
		t.Fatalf("expected radius 3 for id 1, got %v", out[0])
	}
	if out[1] != nil {
		t.Fatalf("expected nil for absent id 2, got %v", *out[1])
	}
}
