// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package persist mirrors the object store and force grid to a durable
// key-value store across restarts. Per the restart contract, only C1
// (objects) and C3 (force grid) are persisted; command queues and the
// work-package registry are considered volatile and always start empty.
// Grounded on mk48's server/cloud/db Database interface
// (UpdateScore/ReadScores-style small CRUD surface over a swappable
// backend), generalized from leaderboard scores and server listings to
// object snapshots and force-grid cells.
package persist

import (
	"context"

	"github.com/azrael-engine/azrael/forcegrid"
	"github.com/azrael-engine/azrael/world"
)

// ObjectRecord is one persisted object snapshot.
type ObjectRecord struct {
	ID     world.ObjectID
	State  world.State
	Radius float64
}

// GridCellRecord is one persisted force-grid cell.
type GridCellRecord struct {
	FieldName string
	Cell      forcegrid.Cell
	Value     world.Vec3
}

// Backend is the durable store C1 and C3 are mirrored to. Implementations
// need not be transactional across the two kinds of record; the
// coordinator only ever reads both back once, at startup.
type Backend interface {
	SaveObjects(ctx context.Context, records []ObjectRecord) error
	LoadObjects(ctx context.Context) ([]ObjectRecord, error)
	DeleteObject(ctx context.Context, id world.ObjectID) error

	SaveGridCells(ctx context.Context, records []GridCellRecord) error
	LoadGridCells(ctx context.Context) ([]GridCellRecord, error)
}

// SnapshotStore writes every object currently in s and every non-zero
// cell across all of g's defined fields into backend.
func SnapshotStore(ctx context.Context, backend Backend, s *world.Store, g *forcegrid.Grid) error {
	states := s.AllStates()
	records := make([]ObjectRecord, 0, len(states))
	for id, st := range states {
		records = append(records, ObjectRecord{ID: id, State: st, Radius: st.Radius})
	}
	if len(records) > 0 {
		if err := backend.SaveObjects(ctx, records); err != nil {
			return err
		}
	}

	var cellRecords []GridCellRecord
	for fieldName, cells := range g.AllCells() {
		for cell, value := range cells {
			cellRecords = append(cellRecords, GridCellRecord{FieldName: fieldName, Cell: cell, Value: value})
		}
	}
	if len(cellRecords) > 0 {
		if err := backend.SaveGridCells(ctx, cellRecords); err != nil {
			return err
		}
	}
	return nil
}

// Restore loads persisted objects back into a fresh store. The force
// grid's persisted cells are restored by the caller via the field
// definitions it has already set up, since Backend has no notion of a
// field's granularity or dimension.
func Restore(ctx context.Context, backend Backend) (*world.Store, []GridCellRecord, error) {
	objects, err := backend.LoadObjects(ctx)
	if err != nil {
		return nil, nil, err
	}
	store := world.NewStore()
	for _, rec := range objects {
		if _, err := store.Insert(rec.ID, rec.State, rec.Radius); err != nil {
			return nil, nil, err
		}
	}
	cells, err := backend.LoadGridCells(ctx)
	if err != nil {
		return nil, nil, err
	}
	return store, cells, nil
}

// RestoreGridCells replays cells into g, silently skipping any whose
// field name g has not Define'd — the caller is expected to have
// already recreated its field definitions before calling this, since a
// GridCellRecord does not carry a field's vector dimension or
// granularity.
func RestoreGridCells(g *forcegrid.Grid, cells []GridCellRecord) (skipped int) {
	for _, rec := range cells {
		if err := g.SetCell(rec.FieldName, rec.Cell, rec.Value); err != nil {
			skipped++
		}
	}
	return skipped
}
