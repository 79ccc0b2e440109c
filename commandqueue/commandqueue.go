// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commandqueue holds the four append-only client intent queues the
// coordinator drains once per tick (C2): spawn, modify, remove, and
// set-force-torque. Appends never block and never fail the caller for
// capacity reasons, mirroring mk48's unbounded channel-backed
// register/unregister/inbound queues in its Hub, generalized from
// "latest message wins per client" to "latest command wins per object-id"
// coalescing.
package commandqueue

import (
	"sync"

	"github.com/azrael-engine/azrael/world"
)

// SpawnCommand is (object_id, initial_state, aabb_radius).
type SpawnCommand struct {
	ObjectID world.ObjectID
	State    world.State
	Radius   float64
}

// ModifyCommand is (object_id, override).
type ModifyCommand struct {
	ObjectID world.ObjectID
	Override world.Override
}

// RemoveCommand is (object_id).
type RemoveCommand struct {
	ObjectID world.ObjectID
}

// ForceTorqueCommand is (object_id, central_force, torque). The queue
// coalesces by object-id, keeping only the most recently appended
// command — applying one is therefore idempotent.
type ForceTorqueCommand struct {
	ObjectID     world.ObjectID
	CentralForce world.Vec3
	Torque       world.Vec3
}

// Queues bundles the four independent command queues the coordinator
// drains once per tick, always in this order: remove, spawn, modify,
// then force/torque.
type Queues struct {
	mu     sync.Mutex
	spawn  map[world.ObjectID]SpawnCommand
	modify map[world.ObjectID]ModifyCommand
	remove map[world.ObjectID]RemoveCommand
	force  map[world.ObjectID]ForceTorqueCommand
}

func New() *Queues {
	return &Queues{
		spawn:  make(map[world.ObjectID]SpawnCommand),
		modify: make(map[world.ObjectID]ModifyCommand),
		remove: make(map[world.ObjectID]RemoveCommand),
		force:  make(map[world.ObjectID]ForceTorqueCommand),
	}
}

// AppendSpawn queues a spawn. If a spawn for this id is already pending,
// the first one stays until drained.
func (q *Queues) AppendSpawn(cmd SpawnCommand) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.spawn[cmd.ObjectID]; exists {
		return true
	}
	q.spawn[cmd.ObjectID] = cmd
	return true
}

// AppendModify queues a modify override; the latest one wins.
func (q *Queues) AppendModify(cmd ModifyCommand) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.modify[cmd.ObjectID] = cmd
	return true
}

// AppendRemove queues a removal; the first one stays.
func (q *Queues) AppendRemove(cmd RemoveCommand) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.remove[cmd.ObjectID]; exists {
		return true
	}
	q.remove[cmd.ObjectID] = cmd
	return true
}

// AppendForceTorque queues a force/torque update; the latest one wins.
func (q *Queues) AppendForceTorque(cmd ForceTorqueCommand) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.force[cmd.ObjectID] = cmd
	return true
}

// Drained is a snapshot of one tick's drained commands, in the order the
// coordinator must apply them.
type Drained struct {
	Remove []RemoveCommand
	Spawn  []SpawnCommand
	Modify []ModifyCommand
	Force  []ForceTorqueCommand
}

// DrainAll atomically empties all four queues and returns their contents
// in drain order. The order itself (remove, spawn, modify, force/torque)
// is the caller's contract to apply, not something DrainAll enforces by
// execution — it only guarantees the returned batches were captured
// together, with no interleaving append landing in only one of them.
func (q *Queues) DrainAll() Drained {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := Drained{
		Remove: make([]RemoveCommand, 0, len(q.remove)),
		Spawn:  make([]SpawnCommand, 0, len(q.spawn)),
		Modify: make([]ModifyCommand, 0, len(q.modify)),
		Force:  make([]ForceTorqueCommand, 0, len(q.force)),
	}
	for _, c := range q.remove {
		out.Remove = append(out.Remove, c)
	}
	for _, c := range q.spawn {
		out.Spawn = append(out.Spawn, c)
	}
	for _, c := range q.modify {
		out.Modify = append(out.Modify, c)
	}
	for _, c := range q.force {
		out.Force = append(out.Force, c)
	}
	q.remove = make(map[world.ObjectID]RemoveCommand)
	q.spawn = make(map[world.ObjectID]SpawnCommand)
	q.modify = make(map[world.ObjectID]ModifyCommand)
	q.force = make(map[world.ObjectID]ForceTorqueCommand)
	return out
}
