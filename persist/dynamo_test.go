// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import "testing"

func TestCellKeyRoundTrip(t *testing.T) {
	cases := [][3]int64{
		{0, 0, 0},
		{-1, 2, -3},
		{1000000, -1000000, 0},
	}
	for _, c := range cases {
		key := cellKey(c[0], c[1], c[2])
		x, y, z, err := parseCellKey(key)
		if err != nil {
			t.Fatalf("parse %q: %v", key, err)
		}
		if x != c[0] || y != c[1] || z != c[2] {
			t.Fatalf("round trip mismatch for %v: got (%d,%d,%d)", c, x, y, z)
		}
	}
}

func TestParseCellKeyRejectsMalformed(t *testing.T) {
	if _, _, _, err := parseCellKey("1:2"); err == nil {
		t.Fatal("expected error for too few fields")
	}
	if _, _, _, err := parseCellKey("1:2:x"); err == nil {
		t.Fatal("expected error for non-numeric field")
	}
}
