// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

package world

import (
	"encoding/binary"
	"errors"
	"strconv"
)

// ObjectIDInvalid is the reserved, never-assigned id.
const ObjectIDInvalid = ObjectID(0)

// ObjectID is an opaque 8-byte token, unique and non-zero. It is a defined
// integer type distinct from uint64 and PackageID, so mixing it with
// those needs an explicit conversion; arithmetic between ObjectID values
// or with untyped constants still compiles.
type ObjectID uint64

// Bytes returns the big-endian 8-byte encoding used for in-memory handles
// and text form. The little-endian wire form used by the external client
// protocol lives in package wire.
func (id ObjectID) Bytes() [8]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	return buf
}

// ObjectIDFromBytes decodes the big-endian 8-byte encoding.
func ObjectIDFromBytes(buf [8]byte) ObjectID {
	return ObjectID(binary.BigEndian.Uint64(buf[:]))
}

func (id ObjectID) String() string {
	return strconv.FormatUint(uint64(id), 16)
}

func (id ObjectID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

var errInvalidObjectID = errors.New("invalid object id")

func (id *ObjectID) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(string(text), 16, 64)
	if err != nil {
		return err
	}
	if v == 0 {
		return errInvalidObjectID
	}
	*id = ObjectID(v)
	return nil
}

// PackageID is the monotonically increasing, never-reused identifier of a
// work package (C5).
type PackageID uint64

// Token is the per-tick stamp the coordinator stamps onto every package it
// creates during that tick; workers must echo it back on commit.
type Token uint64
