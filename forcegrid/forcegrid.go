// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package forcegrid implements the sparse named vector field grid (C3):
// a set of independently defined fields, each a sparse map from integer
// grid cell to vector, sampled by floor-dividing a query position by the
// field's granularity. Grounded on mk48's terrain quadtree
// (server/terrain/terrain.go) generalized from a dense 2D heightmap to a
// sparse 3D vector-valued map, and on its noise generator
// (server/terrain/noise/noise.go) for procedural population via
// aquilax/go-perlin.
package forcegrid

import (
	"math"
	"sync"

	"github.com/aquilax/go-perlin"

	"github.com/azrael-engine/azrael/azerr"
	"github.com/azrael-engine/azrael/world"
)

// Cell is an integer grid coordinate.
type Cell struct {
	X, Y, Z int64
}

type field struct {
	dim         int
	granularity float64
	values      map[Cell]world.Vec3
}

// Grid holds every defined named field.
type Grid struct {
	mu     sync.RWMutex
	fields map[string]*field
}

func New() *Grid {
	return &Grid{fields: make(map[string]*field)}
}

// Define creates a new named field with the given vector dimension (only
// 3 is supported, since every field value is a Vec3) and granularity.
func (g *Grid) Define(name string, vectorDim int, granularity float64) error {
	if vectorDim != 3 {
		return azerr.New(azerr.BadParams, "unsupported vector dimension %d", vectorDim)
	}
	if granularity <= 0 {
		return azerr.New(azerr.BadParams, "granularity must be positive")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.fields[name]; exists {
		return azerr.New(azerr.Duplicate, "field %q already exists", name)
	}
	g.fields[name] = &field{dim: vectorDim, granularity: granularity, values: make(map[Cell]world.Vec3)}
	return nil
}

// Delete removes a named field entirely.
func (g *Grid) Delete(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.fields[name]; !exists {
		return azerr.New(azerr.NotFound, "field %q not found", name)
	}
	delete(g.fields, name)
	return nil
}

// DeleteAll removes every field.
func (g *Grid) DeleteAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fields = make(map[string]*field)
}

// Reset empties a field's values without undefining it.
func (g *Grid) Reset(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, exists := g.fields[name]
	if !exists {
		return azerr.New(azerr.NotFound, "field %q not found", name)
	}
	f.values = make(map[Cell]world.Vec3)
	return nil
}

// ListNames returns the names of all currently defined fields.
func (g *Grid) ListNames() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.fields))
	for name := range g.fields {
		names = append(names, name)
	}
	return names
}

func cellOf(pos world.Vec3, granularity float64) Cell {
	return Cell{
		X: int64(math.Floor(pos.X / granularity)),
		Y: int64(math.Floor(pos.Y / granularity)),
		Z: int64(math.Floor(pos.Z / granularity)),
	}
}

// SetValues writes one vector per position. Writing the zero vector at a
// position deletes that cell rather than storing an explicit zero.
func (g *Grid) SetValues(name string, positions []world.Vec3, values []world.Vec3) error {
	if len(positions) == 0 {
		return azerr.New(azerr.BadParams, "positions must not be empty")
	}
	if len(positions) != len(values) {
		return azerr.New(azerr.BadParams, "positions and values must have equal length")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	f, exists := g.fields[name]
	if !exists {
		return azerr.New(azerr.NotFound, "field %q not found", name)
	}
	for i, pos := range positions {
		c := cellOf(pos, f.granularity)
		v := values[i]
		if v == (world.Vec3{}) {
			delete(f.values, c)
			continue
		}
		f.values[c] = v
	}
	return nil
}

// GetValues samples a field at each position; missing cells read as the
// zero vector.
func (g *Grid) GetValues(name string, positions []world.Vec3) ([]world.Vec3, error) {
	if len(positions) == 0 {
		return nil, azerr.New(azerr.BadParams, "positions must not be empty")
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	f, exists := g.fields[name]
	if !exists {
		return nil, azerr.New(azerr.NotFound, "field %q not found", name)
	}
	out := make([]world.Vec3, len(positions))
	for i, pos := range positions {
		out[i] = f.values[cellOf(pos, f.granularity)]
	}
	return out, nil
}

// SetRegion bulk-writes a dense nx*ny*nz block of vectors, with origin at
// cell-space coordinate origin.
func (g *Grid) SetRegion(name string, origin Cell, nx, ny, nz int, values [][][]world.Vec3) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, exists := g.fields[name]
	if !exists {
		return azerr.New(azerr.NotFound, "field %q not found", name)
	}
	if len(values) != nx {
		return azerr.New(azerr.BadParams, "region x extent mismatch")
	}
	for x := 0; x < nx; x++ {
		if len(values[x]) != ny {
			return azerr.New(azerr.BadParams, "region y extent mismatch")
		}
		for y := 0; y < ny; y++ {
			if len(values[x][y]) != nz {
				return azerr.New(azerr.BadParams, "region z extent mismatch")
			}
			for z := 0; z < nz; z++ {
				c := Cell{X: origin.X + int64(x), Y: origin.Y + int64(y), Z: origin.Z + int64(z)}
				v := values[x][y][z]
				if v == (world.Vec3{}) {
					delete(f.values, c)
					continue
				}
				f.values[c] = v
			}
		}
	}
	return nil
}

// GetRegion reads back a dense nx*ny*nz block starting at origin.
func (g *Grid) GetRegion(name string, origin Cell, nx, ny, nz int) ([][][]world.Vec3, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	f, exists := g.fields[name]
	if !exists {
		return nil, azerr.New(azerr.NotFound, "field %q not found", name)
	}
	out := make([][][]world.Vec3, nx)
	for x := 0; x < nx; x++ {
		out[x] = make([][]world.Vec3, ny)
		for y := 0; y < ny; y++ {
			out[x][y] = make([]world.Vec3, nz)
			for z := 0; z < nz; z++ {
				c := Cell{X: origin.X + int64(x), Y: origin.Y + int64(y), Z: origin.Z + int64(z)}
				out[x][y][z] = f.values[c]
			}
		}
	}
	return out, nil
}

// SetCell writes a single cell's value directly, bypassing the
// granularity-based position lookup SetValues uses. Restore uses this to
// replay persisted cells exactly as they were saved, without knowing
// which positions originally mapped to them.
func (g *Grid) SetCell(name string, cell Cell, value world.Vec3) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, exists := g.fields[name]
	if !exists {
		return azerr.New(azerr.NotFound, "field %q not found", name)
	}
	if value == (world.Vec3{}) {
		delete(f.values, cell)
		return nil
	}
	f.values[cell] = value
	return nil
}

// AllCells returns every defined field's non-zero cells, keyed by field
// name, for a full snapshot of C3.
func (g *Grid) AllCells() map[string]map[Cell]world.Vec3 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]map[Cell]world.Vec3, len(g.fields))
	for name, f := range g.fields {
		cells := make(map[Cell]world.Vec3, len(f.values))
		for c, v := range f.values {
			cells[c] = v
		}
		out[name] = cells
	}
	return out
}

// Sample returns the sum of every defined field's value at pos, the
// per-tick central-force contribution the coordinator adds for a
// non-immovable object.
func (g *Grid) Sample(pos world.Vec3) world.Vec3 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var total world.Vec3
	for _, f := range g.fields {
		total = total.Add(f.values[cellOf(pos, f.granularity)])
	}
	return total
}

// GenerateTurbulence populates a field with a smooth pseudo-random vector
// field over [origin, origin+extent) using Perlin noise, with one
// independent three-octave generator per axis, seeded seed, seed+1 and
// seed+2, so x/y/z components are decorrelated. This is
// a population helper for demos and tests, not part of the wire-level
// operation set.
func (g *Grid) GenerateTurbulence(name string, origin Cell, nx, ny, nz int, seed int64, amplitude float64) error {
	g.mu.Lock()
	f, exists := g.fields[name]
	g.mu.Unlock()
	if !exists {
		return azerr.New(azerr.NotFound, "field %q not found", name)
	}

	px := perlin.NewPerlin(2, 2, 3, seed)
	py := perlin.NewPerlin(2, 2, 3, seed+1)
	pz := perlin.NewPerlin(2, 2, 3, seed+2)

	const frequency = 0.05
	values := make([][][]world.Vec3, nx)
	for x := 0; x < nx; x++ {
		values[x] = make([][]world.Vec3, ny)
		for y := 0; y < ny; y++ {
			values[x][y] = make([]world.Vec3, nz)
			for z := 0; z < nz; z++ {
				fx := float64(origin.X+int64(x)) * frequency
				fy := float64(origin.Y+int64(y)) * frequency
				fz := float64(origin.Z+int64(z)) * frequency
				values[x][y][z] = world.Vec3{
					X: px.Noise3D(fx, fy, fz) * amplitude,
					Y: py.Noise3D(fx, fy, fz) * amplitude,
					Z: pz.Noise3D(fx, fy, fz) * amplitude,
				}
			}
		}
	}
	return g.SetRegion(name, origin, nx, ny, nz, values)
}
