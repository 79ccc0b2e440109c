// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"context"
	"strconv"
	"strings"

	"github.com/tidwall/buntdb"

	"github.com/azrael-engine/azrael/forcegrid"
	"github.com/azrael-engine/azrael/wire"
	"github.com/azrael-engine/azrael/world"
)

// BuntBackend is an embedded, file-backed alternative to DynamoBackend
// for single-process deployments that still want state to survive a
// restart without standing up AWS infrastructure. Keys are namespaced by
// record kind so objects and grid cells can share one buntdb.DB.
type BuntBackend struct {
	db *buntdb.DB
}

const (
	objectKeyPrefix = "object:"
	gridKeyPrefix   = "grid:"
)

func OpenBuntBackend(path string) (*BuntBackend, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &BuntBackend{db: db}, nil
}

func (b *BuntBackend) Close() error {
	return b.db.Close()
}

func (b *BuntBackend) SaveObjects(ctx context.Context, records []ObjectRecord) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		for _, rec := range records {
			data, err := wire.JSON.Marshal(wire.ToStateJSON(rec.State))
			if err != nil {
				return err
			}
			key := objectKeyPrefix + rec.ID.String()
			if _, _, err := tx.Set(key, string(data), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BuntBackend) LoadObjects(ctx context.Context) ([]ObjectRecord, error) {
	var out []ObjectRecord
	err := b.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(objectKeyPrefix+"*", func(key, value string) bool {
			idText := strings.TrimPrefix(key, objectKeyPrefix)
			var id world.ObjectID
			if err := id.UnmarshalText([]byte(idText)); err != nil {
				return true
			}
			var j wire.StateJSON
			if err := wire.JSON.Unmarshal([]byte(value), &j); err != nil {
				return true
			}
			st := j.ToState()
			out = append(out, ObjectRecord{ID: id, State: st, Radius: st.Radius})
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BuntBackend) DeleteObject(ctx context.Context, id world.ObjectID) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(objectKeyPrefix + id.String())
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

func gridCellKey(fieldName string, c forcegrid.Cell) string {
	return gridKeyPrefix + fieldName + ":" +
		strconv.FormatInt(c.X, 10) + ":" +
		strconv.FormatInt(c.Y, 10) + ":" +
		strconv.FormatInt(c.Z, 10)
}

func (b *BuntBackend) SaveGridCells(ctx context.Context, records []GridCellRecord) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		for _, rec := range records {
			value := strconv.FormatFloat(rec.Value.X, 'g', -1, 64) + "," +
				strconv.FormatFloat(rec.Value.Y, 'g', -1, 64) + "," +
				strconv.FormatFloat(rec.Value.Z, 'g', -1, 64)
			if _, _, err := tx.Set(gridCellKey(rec.FieldName, rec.Cell), value, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BuntBackend) LoadGridCells(ctx context.Context) ([]GridCellRecord, error) {
	var out []GridCellRecord
	err := b.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(gridKeyPrefix+"*", func(key, value string) bool {
			parts := strings.Split(strings.TrimPrefix(key, gridKeyPrefix), ":")
			if len(parts) != 4 {
				return true
			}
			x, err1 := strconv.ParseInt(parts[1], 10, 64)
			y, err2 := strconv.ParseInt(parts[2], 10, 64)
			z, err3 := strconv.ParseInt(parts[3], 10, 64)
			if err1 != nil || err2 != nil || err3 != nil {
				return true
			}
			vparts := strings.Split(value, ",")
			if len(vparts) != 3 {
				return true
			}
			vx, err1 := strconv.ParseFloat(vparts[0], 64)
			vy, err2 := strconv.ParseFloat(vparts[1], 64)
			vz, err3 := strconv.ParseFloat(vparts[2], 64)
			if err1 != nil || err2 != nil || err3 != nil {
				return true
			}
			out = append(out, GridCellRecord{
				FieldName: parts[0],
				Cell:      forcegrid.Cell{X: x, Y: y, Z: z},
				Value:     world.Vec3{X: vx, Y: vy, Z: vz},
			})
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
