// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestRegistry_CollectorsAreRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObjectCount.Set(3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "azrael_coordinator_objects" {
			found = true
			if got := f.Metric[0].GetGauge().GetValue(); got != 3 {
				t.Fatalf("expected gauge value 3, got %v", got)
			}
		}
	}
	if !found {
		t.Fatal("expected azrael_coordinator_objects to be registered")
	}
}

func TestRegistry_TickDurationObserves(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.TickDuration.Observe(0.002)

	var out dto.Metric
	if err := m.TickDuration.Write(&out); err != nil {
		t.Fatal(err)
	}
	if out.GetHistogram().GetSampleCount() != 1 {
		t.Fatalf("expected 1 observation, got %d", out.GetHistogram().GetSampleCount())
	}
}
