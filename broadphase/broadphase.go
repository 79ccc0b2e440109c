// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package broadphase implements the three-pass sweep-and-prune broad phase
// (C4): a one-dimensional interval sweep applied successively on x, then y
// within each x-group, then z within each y-group. Grounded on
// azrael/leonard.py's sweeping()/computeCollisionSetsAABB(), generalized
// from mk48's 2D AABB type
// (server/world/aabb.go) to three axes and from AABB-tree broad phase to
// explicit interval sweeping.
package broadphase

import (
	"golang.org/x/exp/slices"

	"github.com/azrael-engine/azrael/world"
)

// Body is one sweep input: an object and the half-extent of its
// axis-aligned bounding box around its position.
type Body struct {
	ID       world.ObjectID
	Position world.Vec3
	Radius   float64
}

// Islands computes the potential-collision islands for a set of bodies.
// Each returned island is a list of object ids; singleton islands (no
// candidate collision) are still present, one per uninvolved object.
func Islands(bodies []Body) [][]world.ObjectID {
	if len(bodies) == 0 {
		return nil
	}
	indices := make([]int, len(bodies))
	for i := range indices {
		indices[i] = i
	}

	var result [][]world.ObjectID
	for _, xGroup := range sweepAxis(bodies, indices, 0) {
		if len(xGroup) == 1 {
			result = append(result, []world.ObjectID{bodies[xGroup[0]].ID})
			continue
		}
		for _, yGroup := range sweepAxis(bodies, xGroup, 1) {
			if len(yGroup) == 1 {
				result = append(result, []world.ObjectID{bodies[yGroup[0]].ID})
				continue
			}
			for _, zGroup := range sweepAxis(bodies, yGroup, 2) {
				ids := make([]world.ObjectID, len(zGroup))
				for i, idx := range zGroup {
					ids[i] = bodies[idx].ID
				}
				result = append(result, ids)
			}
		}
	}
	return result
}

type event struct {
	coord float64
	delta int8
	index int
}

// sweepAxis partitions the subset of bodies named by indices into groups
// whose intervals on the given axis (0=x, 1=y, 2=z) transitively overlap.
func sweepAxis(bodies []Body, indices []int, axis int) [][]int {
	events := make([]event, 0, 2*len(indices))
	for _, idx := range indices {
		c := bodies[idx].Position.Axis(axis)
		r := bodies[idx].Radius
		events = append(events,
			event{coord: c - r, delta: +1, index: idx},
			event{coord: c + r, delta: -1, index: idx},
		)
	}

	slices.SortFunc(events, func(a, b event) int {
		if a.coord != b.coord {
			if a.coord < b.coord {
				return -1
			}
			return 1
		}
		// Starts sort before ends so touching intervals still overlap.
		return int(b.delta) - int(a.delta)
	})

	var groups [][]int
	var current []int
	sum := 0
	for _, e := range events {
		if e.delta > 0 {
			current = append(current, e.index)
		}
		sum += int(e.delta)
		if sum == 0 {
			groups = append(groups, current)
			current = nil
		}
	}
	return groups
}
