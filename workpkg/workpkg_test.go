// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

package workpkg

import (
	"testing"

	"github.com/azrael-engine/azrael/azerr"
	"github.com/azrael-engine/azrael/world"
)

func TestRegistry_CreateRejectsEmptyIDs(t *testing.T) {
	r := New()
	if _, err := r.Create(nil, 1, 0.01, 4); !azerr.Is(err, azerr.BadParams) {
		t.Fatalf("expected bad_params, got %v", err)
	}
}

func TestRegistry_CreateRejectsUnknownID(t *testing.T) {
	r := New()
	r.Exists = func(id world.ObjectID) bool { return id == 1 }

	if _, err := r.Create([]world.ObjectID{1, 2}, 1, 0.01, 4); !azerr.Is(err, azerr.NotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
	if pending, _ := r.Count(); pending != 0 {
		t.Fatalf("expected no package registered on validation failure, got pending=%d", pending)
	}
}

func TestRegistry_CreateAllowsKnownIDsWhenExistsUnset(t *testing.T) {
	r := New()
	if _, err := r.Create([]world.ObjectID{99}, 1, 0.01, 4); err != nil {
		t.Fatalf("expected Exists-unset registry to skip validation, got %v", err)
	}
}

func TestRegistry_PackageIDsAreMonotonic(t *testing.T) {
	r := New()
	id1, err := r.Create([]world.ObjectID{1}, 1, 0.01, 4)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := r.Create([]world.ObjectID{2}, 1, 0.01, 4)
	if err != nil {
		t.Fatal(err)
	}
	if id2 <= id1 {
		t.Fatalf("expected strictly increasing ids, got %d then %d", id1, id2)
	}
}

func TestRegistry_FetchNextPendingIsFIFO(t *testing.T) {
	r := New()
	first, _ := r.Create([]world.ObjectID{1}, 1, 0.01, 4)
	second, _ := r.Create([]world.ObjectID{2}, 1, 0.01, 4)

	pkg, ok := r.FetchNextPending()
	if !ok || pkg.ID != first {
		t.Fatalf("expected first package %d, got %+v ok=%v", first, pkg, ok)
	}
	pkg, ok = r.FetchNextPending()
	if !ok || pkg.ID != second {
		t.Fatalf("expected second package %d, got %+v ok=%v", second, pkg, ok)
	}
	if _, ok := r.FetchNextPending(); ok {
		t.Fatalf("expected no more pending packages")
	}
}

func TestRegistry_CommitRequiresMatchingToken(t *testing.T) {
	r := New()
	id, _ := r.Create([]world.ObjectID{1}, 5, 0.01, 4)
	r.FetchNextPending()

	err := r.Commit(id, 6, map[world.ObjectID]world.State{1: world.Default()})
	if !azerr.Is(err, azerr.BadToken) {
		t.Fatalf("expected bad_token, got %v", err)
	}
}

func TestRegistry_DoubleCommitRejected(t *testing.T) {
	r := New()
	id, _ := r.Create([]world.ObjectID{1}, 1, 0.01, 4)
	r.FetchNextPending()

	results := map[world.ObjectID]world.State{1: world.Default()}
	if err := r.Commit(id, 1, results); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	if err := r.Commit(id, 1, results); !azerr.Is(err, azerr.AlreadyCommitted) {
		t.Fatalf("expected already_committed on second commit, got %v", err)
	}
}

func TestRegistry_DrainCompletedRemovesPackages(t *testing.T) {
	r := New()
	id, _ := r.Create([]world.ObjectID{1}, 1, 0.01, 4)
	r.FetchNextPending()
	results := map[world.ObjectID]world.State{1: world.Default()}
	if err := r.Commit(id, 1, results); err != nil {
		t.Fatal(err)
	}

	drained := r.DrainCompleted()
	if len(drained) != 1 || drained[0].PackageID != id {
		t.Fatalf("expected to drain package %d, got %+v", id, drained)
	}
	if again := r.DrainCompleted(); len(again) != 0 {
		t.Fatalf("expected nothing left to drain, got %+v", again)
	}
}

func TestRegistry_CountTracksPendingAndCompleted(t *testing.T) {
	r := New()
	id1, _ := r.Create([]world.ObjectID{1}, 1, 0.01, 4)
	_, _ = r.Create([]world.ObjectID{2}, 1, 0.01, 4)

	r.FetchNextPending()
	if err := r.Commit(id1, 1, map[world.ObjectID]world.State{1: world.Default()}); err != nil {
		t.Fatal(err)
	}

	pending, completed := r.Count()
	if pending != 1 || completed != 1 {
		t.Fatalf("expected 1 pending, 1 completed, got pending=%d completed=%d", pending, completed)
	}
}

func TestRegistry_ExpireDropsOutstandingForToken(t *testing.T) {
	r := New()
	id, _ := r.Create([]world.ObjectID{1}, 7, 0.01, 4)

	expired := r.Expire(7)
	if len(expired) != 1 || expired[0] != id {
		t.Fatalf("expected to expire %d, got %+v", id, expired)
	}
	if pending := r.PendingForToken(7); pending != 0 {
		t.Fatalf("expected nothing pending after expiry, got %d", pending)
	}
}
