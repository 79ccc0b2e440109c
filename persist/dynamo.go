// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/guregu/dynamo"

	"github.com/azrael-engine/azrael/forcegrid"
	"github.com/azrael-engine/azrael/world"
)

var errMalformedCellKey = errors.New("malformed grid cell key")

// DynamoBackend mirrors objects and force-grid cells to DynamoDB.
// Grounded on server/cloud/db's DynamoDBDatabase: one *dynamo.DB wrapping
// an AWS session, one dynamo.Table per record kind, generalized from
// leaderboard scores and server listings to object and grid-cell
// snapshots.
type DynamoBackend struct {
	svc       *dynamodb.DynamoDB
	db        *dynamo.DB
	objects   dynamo.Table
	gridCells dynamo.Table
}

type objectItem struct {
	ID     uint64      `dynamo:"id,hash"`
	Radius float64     `dynamo:"radius"`
	State  [21]float64 `dynamo:"state"`
}

type gridCellItem struct {
	FieldName string     `dynamo:"field_name,hash"`
	CellKey   string     `dynamo:"cell_key,range"`
	Value     [3]float64 `dynamo:"value"`
}

func NewDynamoBackend(sess *session.Session, stage string) (*DynamoBackend, error) {
	b := &DynamoBackend{svc: dynamodb.New(sess)}
	b.db = dynamo.NewFromIface(b.svc)
	b.objects = b.db.Table("azrael-" + stage + "-objects")
	b.gridCells = b.db.Table("azrael-" + stage + "-grid-cells")
	return b, nil
}

func (b *DynamoBackend) SaveObjects(ctx context.Context, records []ObjectRecord) error {
	batch := make([]interface{}, 0, len(records))
	for _, rec := range records {
		o := rec.State.Orientation
		p := rec.State.Position
		vl := rec.State.VelocityLinear
		va := rec.State.VelocityAngular
		cs := rec.State.CollisionShape
		batch = append(batch, objectItem{
			ID:     uint64(rec.ID),
			Radius: rec.Radius,
			State: [21]float64{
				rec.State.Radius, rec.State.Scale, rec.State.InverseMass, rec.State.Restitution,
				o.X, o.Y, o.Z, o.W,
				p.X, p.Y, p.Z,
				vl.X, vl.Y, vl.Z,
				va.X, va.Y, va.Z,
				cs.X, cs.Y, cs.Z, cs.W,
			},
		})
	}
	_, err := b.objects.Batch().Write().Put(batch...).RunWithContext(ctx)
	return err
}

func (b *DynamoBackend) LoadObjects(ctx context.Context) ([]ObjectRecord, error) {
	var items []objectItem
	if err := b.objects.Scan().AllWithContext(ctx, &items); err != nil {
		return nil, err
	}
	out := make([]ObjectRecord, 0, len(items))
	for _, it := range items {
		a := it.State
		out = append(out, ObjectRecord{
			ID:     world.ObjectID(it.ID),
			Radius: it.Radius,
			State: world.State{
				Radius:          a[0],
				Scale:           a[1],
				InverseMass:     a[2],
				Restitution:     a[3],
				Orientation:     world.Vec4{X: a[4], Y: a[5], Z: a[6], W: a[7]},
				Position:        world.Vec3{X: a[8], Y: a[9], Z: a[10]},
				VelocityLinear:  world.Vec3{X: a[11], Y: a[12], Z: a[13]},
				VelocityAngular: world.Vec3{X: a[14], Y: a[15], Z: a[16]},
				CollisionShape:  world.Vec4{X: a[17], Y: a[18], Z: a[19], W: a[20]},
			},
		})
	}
	return out, nil
}

func (b *DynamoBackend) DeleteObject(ctx context.Context, id world.ObjectID) error {
	return b.objects.Delete("id", uint64(id)).RunWithContext(ctx)
}

func cellKey(x, y, z int64) string {
	buf := make([]byte, 0, 32)
	buf = appendInt(buf, x)
	buf = append(buf, ':')
	buf = appendInt(buf, y)
	buf = append(buf, ':')
	buf = appendInt(buf, z)
	return string(buf)
}

func appendInt(buf []byte, v int64) []byte {
	if v < 0 {
		buf = append(buf, '-')
		v = -v
	}
	start := len(buf)
	if v == 0 {
		return append(buf, '0')
	}
	for v > 0 {
		buf = append(buf, byte('0'+v%10))
		v /= 10
	}
	for i, j := start, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return buf
}

func parseCellKey(key string) (x, y, z int64, err error) {
	parts := [3]*int64{&x, &y, &z}
	field := 0
	sign := int64(1)
	value := int64(0)
	started := false
	flush := func() error {
		if field >= 3 {
			return errMalformedCellKey
		}
		*parts[field] = sign * value
		field++
		sign, value, started = 1, 0, false
		return nil
	}
	for _, r := range key {
		switch {
		case r == ':':
			if err := flush(); err != nil {
				return 0, 0, 0, err
			}
		case r == '-' && !started:
			sign = -1
			started = true
		case r >= '0' && r <= '9':
			value = value*10 + int64(r-'0')
			started = true
		default:
			return 0, 0, 0, errMalformedCellKey
		}
	}
	if err := flush(); err != nil {
		return 0, 0, 0, err
	}
	if field != 3 {
		return 0, 0, 0, errMalformedCellKey
	}
	return x, y, z, nil
}

func (b *DynamoBackend) SaveGridCells(ctx context.Context, records []GridCellRecord) error {
	byField := make(map[string][]interface{})
	for _, rec := range records {
		item := gridCellItem{
			FieldName: rec.FieldName,
			CellKey:   cellKey(rec.Cell.X, rec.Cell.Y, rec.Cell.Z),
			Value:     [3]float64{rec.Value.X, rec.Value.Y, rec.Value.Z},
		}
		byField[rec.FieldName] = append(byField[rec.FieldName], item)
	}
	for _, batch := range byField {
		if _, err := b.gridCells.Batch().Write().Put(batch...).RunWithContext(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (b *DynamoBackend) LoadGridCells(ctx context.Context) ([]GridCellRecord, error) {
	var items []gridCellItem
	if err := b.gridCells.Scan().AllWithContext(ctx, &items); err != nil {
		return nil, err
	}
	out := make([]GridCellRecord, 0, len(items))
	for _, it := range items {
		x, y, z, err := parseCellKey(it.CellKey)
		if err != nil {
			continue
		}
		out = append(out, GridCellRecord{
			FieldName: it.FieldName,
			Cell:      forcegrid.Cell{X: x, Y: y, Z: z},
			Value:     world.Vec3{X: it.Value[0], Y: it.Value[1], Z: it.Value[2]},
		})
	}
	return out, nil
}
