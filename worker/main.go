// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command worker is the physics worker (C7) deployment binary: it dials
// the coordinator's dispatch websocket, pulls package ids, fetches each
// package's payload and current object state from the coordinator's
// companion HTTP handler, integrates, and commits results back over the
// same handler. Grounded on mk48's server/main.go small main() that
// wires flags straight into a long running loop, generalized from one
// process serving browser clients to a pool of worker processes serving
// one coordinator.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/azrael-engine/azrael/dispatch"
	"github.com/azrael-engine/azrael/metrics"
	"github.com/azrael-engine/azrael/workpkg"
	"github.com/azrael-engine/azrael/world"
)

// ctxReceiver adapts dispatch.WSClient's blocking Receive into the
// context-aware Receiver interface Worker expects, so a shutdown signal
// can interrupt a pull that would otherwise block forever on the socket
// read.
type ctxReceiver struct {
	client *dispatch.WSClient
}

func (c *ctxReceiver) Receive(ctx context.Context) (world.PackageID, error) {
	type result struct {
		id  world.PackageID
		err error
	}
	out := make(chan result, 1)
	go func() {
		id, err := c.client.Receive()
		out <- result{id, err}
	}()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case r := <-out:
		return r.id, r.err
	}
}

// remotePayloadSource is the networked stand-in for a coordinator's
// in-process workpkg.Registry and world.Store: it fetches a package's
// metadata and object states together over HTTP, and caches the states
// for the immediately-following Get call a single worker always makes
// right after fetching — safe because one worker only ever has one
// package in flight at a time.
type remotePayloadSource struct {
	client *dispatch.PayloadClient
	ctx    context.Context

	mu         sync.Mutex
	lastStates map[world.ObjectID]world.State
}

func (r *remotePayloadSource) FetchPayloadForPackage(id world.PackageID) (*workpkg.Package, bool) {
	fetched, err := r.client.FetchPayload(r.ctx, id)
	if err != nil || fetched == nil {
		return nil, false
	}
	r.mu.Lock()
	r.lastStates = fetched.States
	r.mu.Unlock()
	return &workpkg.Package{
		ID:          fetched.ID,
		IDs:         fetched.IDs,
		Token:       fetched.Token,
		DT:          fetched.DT,
		MaxSubsteps: fetched.MaxSubsteps,
		Extras:      fetched.Extras,
	}, true
}

func (r *remotePayloadSource) Get(ids []world.ObjectID) map[world.ObjectID]world.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[world.ObjectID]world.State, len(ids))
	for _, id := range ids {
		if st, ok := r.lastStates[id]; ok {
			out[id] = st
		}
	}
	return out
}

func (r *remotePayloadSource) Commit(id world.PackageID, token world.Token, results map[world.ObjectID]world.State) error {
	return r.client.Commit(r.ctx, id, token, results)
}

func main() {
	var (
		dispatchURL       string
		payloadBaseURL    string
		workerCount       int
		packagesUntilExit int
		forceCoupling     float64
		logLevel          string
		metricsAddr       string
	)
	flag.StringVar(&dispatchURL, "dispatch-url", "ws://localhost:8192/dispatch", "coordinator websocket endpoint")
	flag.StringVar(&payloadBaseURL, "payload-base-url", "http://localhost:8192", "coordinator payload/commit HTTP base url")
	flag.IntVar(&workerCount, "workers", 1, "number of worker goroutines in this process")
	flag.IntVar(&packagesUntilExit, "packages-until-exit", 0, "self-terminate after this many packages (0 = run forever)")
	flag.Float64Var(&forceCoupling, "force-coupling", DefaultForceCoupling, "scale applied to queued central_force/torque before integration")
	flag.StringVar(&logLevel, "log-level", "info", "zerolog level: debug, info, warn, error")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address")
	flag.Parse()

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Str("component", "worker").Logger()

	promReg := metrics.New(prometheus.DefaultRegisterer)

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sup := &Supervisor{
		Count: workerCount,
		NewID: DefaultNewID,
		Log:   logger,
		Factory: func(id string) (*Worker, error) {
			client, err := dispatch.DialWSClient(dispatchURL)
			if err != nil {
				return nil, err
			}
			source := &remotePayloadSource{
				client: dispatch.NewPayloadClient(payloadBaseURL),
				ctx:    ctx,
			}
			return &Worker{
				ID:                id,
				Receiver:          &ctxReceiver{client: client},
				Registry:          source,
				Store:             source,
				Integrator:        EulerIntegrator{},
				ForceCoupling:     forceCoupling,
				Metrics:           promReg,
				Log:               logger.With().Str("worker_id", id).Logger(),
				PackagesUntilExit: packagesUntilExit,
			}, nil
		},
	}

	logger.Info().Str("dispatch_url", dispatchURL).Int("worker_count", workerCount).Msg("worker pool starting")
	sup.Run(ctx)
	logger.Info().Msg("worker pool shut down")
}
