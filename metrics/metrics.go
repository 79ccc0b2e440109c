// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes the coordinator's tick-loop instrumentation as
// Prometheus collectors. Grounded on mk48's hand-rolled funcBench/
// timeFunction average-duration tracker (server/debug.go,
// server/hub.go's "physics" timeFunction call), generalized from an
// in-memory ring that only the debug endpoint could read into real
// prometheus/client_golang collectors scraped over HTTP.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every collector the coordinator and workers update.
type Registry struct {
	TickDuration           prometheus.Histogram
	IslandCount            prometheus.Gauge
	ObjectCount            prometheus.Gauge
	PackagesPending        prometheus.Gauge
	PackagesCompleted      prometheus.Gauge
	PackagesExpired        prometheus.Counter
	WorkerStepDuration     prometheus.Histogram
	WorkerIntegratorErrors prometheus.Counter
}

// New registers and returns a fresh set of collectors against reg. Pass
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "azrael",
			Subsystem: "coordinator",
			Name:      "tick_duration_seconds",
			Help:      "Wall-clock duration of one coordinator tick.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		IslandCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "azrael",
			Subsystem: "coordinator",
			Name:      "broadphase_islands",
			Help:      "Number of collision islands found in the most recent tick.",
		}),
		ObjectCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "azrael",
			Subsystem: "coordinator",
			Name:      "objects",
			Help:      "Number of objects currently in the store.",
		}),
		PackagesPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "azrael",
			Subsystem: "coordinator",
			Name:      "packages_pending",
			Help:      "Number of work packages awaiting or undergoing processing.",
		}),
		PackagesCompleted: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "azrael",
			Subsystem: "coordinator",
			Name:      "packages_completed",
			Help:      "Number of completed work packages awaiting reconciliation.",
		}),
		PackagesExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "azrael",
			Subsystem: "coordinator",
			Name:      "packages_expired_total",
			Help:      "Work packages abandoned at tick deadline.",
		}),
		WorkerStepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "azrael",
			Subsystem: "worker",
			Name:      "step_duration_seconds",
			Help:      "Wall-clock duration of one worker's integration of a package.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		WorkerIntegratorErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "azrael",
			Subsystem: "worker",
			Name:      "integrator_errors_total",
			Help:      "Objects committed unchanged because the integrator reported an error.",
		}),
	}
}
