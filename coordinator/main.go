// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command coordinator is the tick loop's deployment binary: it owns the
// object store, command queues, force grid and work-package registry,
// drives Tick on a fixed period, and serves the dispatch and payload
// endpoints a worker pool needs to pull packages and return results.
// Grounded on mk48's server/main.go small main() that wires flags
// straight into a long running http.ListenAndServe, generalized from one
// game server process to a coordinator fronting an external worker pool.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/azrael-engine/azrael/dispatch"
	"github.com/azrael-engine/azrael/metrics"
	"github.com/azrael-engine/azrael/persist"
)

func main() {
	var (
		tickPeriodMs    int
		tickDT          float64
		tickMaxSubsteps int
		waitDeadlineMs  int
		listen          string
		dispatchMode    string
		queueCapacity   int
		persistBackend  string
		buntdbPath      string
		dynamoStage     string
		dynamoRegion    string
		logLevel        string
	)
	flag.IntVar(&tickPeriodMs, "tick-period-ms", 50, "wall-clock period between ticks")
	flag.Float64Var(&tickDT, "tick-dt", 0.05, "simulated seconds advanced per tick")
	flag.IntVar(&tickMaxSubsteps, "tick-max-substeps", 4, "maximum integrator substeps per package")
	flag.IntVar(&waitDeadlineMs, "coordinator-wait-deadline-ms", 40, "how long a tick waits for outstanding packages before expiring them")
	flag.StringVar(&listen, "listen", ":8192", "http listen address for /dispatch, /payload, /commit and /metrics")
	flag.StringVar(&dispatchMode, "dispatch-mode", "queue", "package delivery transport: queue (in-process) or ws (networked)")
	flag.IntVar(&queueCapacity, "queue-capacity", 1024, "buffered capacity of the in-process dispatch queue")
	flag.StringVar(&persistBackend, "persist-backend", "none", "object/grid persistence backend: none, buntdb or dynamo")
	flag.StringVar(&buntdbPath, "buntdb-path", "azrael.db", "buntdb file path, used when persist-backend=buntdb")
	flag.StringVar(&dynamoStage, "dynamo-stage", "dev", "dynamo table name prefix, used when persist-backend=dynamo")
	flag.StringVar(&dynamoRegion, "dynamo-region", "us-east-1", "aws region, used when persist-backend=dynamo")
	flag.StringVar(&logLevel, "log-level", "info", "zerolog level: debug, info, warn, error")
	flag.Parse()

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Str("component", "coordinator").Logger()

	promReg := metrics.New(prometheus.DefaultRegisterer)

	var dispatcher Dispatcher
	mux := http.NewServeMux()
	switch dispatchMode {
	case "queue":
		dispatcher = dispatch.NewQueue(queueCapacity)
	case "ws":
		ws := dispatch.NewWSServer()
		mux.Handle("/dispatch", ws)
		dispatcher = ws
	default:
		logger.Fatal().Str("dispatch_mode", dispatchMode).Msg("unknown dispatch mode")
	}

	coord := New(logger, promReg, dispatcher, tickDT, tickMaxSubsteps, time.Duration(waitDeadlineMs)*time.Millisecond)

	backend, err := openBackend(persistBackend, buntdbPath, dynamoStage, dynamoRegion)
	if err != nil {
		logger.Fatal().Stack().Err(errors.WithStack(err)).Msg("failed to initialize persistence backend")
	}
	if backend != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		store, cells, err := persist.Restore(ctx, backend)
		cancel()
		if err != nil {
			logger.Fatal().Stack().Err(errors.WithStack(err)).Msg("failed to restore persisted state")
		}
		coord.Store = store
		coord.Registry.Exists = store.Exists
		if skipped := persist.RestoreGridCells(coord.ForceGrid, cells); skipped > 0 {
			logger.Warn().Int("skipped_cells", skipped).Msg("some persisted grid cells referenced an undefined field")
		}
		logger.Info().Int("objects", coord.Store.Count()).Msg("restored persisted state")
	}

	mux.Handle("/payload/", &dispatch.PayloadServer{Registry: coord.Registry, Store: coord.Store})
	mux.Handle("/commit/", &dispatch.PayloadServer{Registry: coord.Registry, Store: coord.Store})
	mux.Handle("/metrics", promhttp.Handler())

	// h2c lets a worker pool multiplex many short payload fetch/commit
	// requests over one connection without needing TLS.
	h2s := &http2.Server{}
	srv := &http.Server{Addr: listen, Handler: h2c.NewHandler(mux, h2s)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Stack().Err(errors.WithStack(err)).Msg("http listener failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger.Info().Str("listen", listen).Str("dispatch_mode", dispatchMode).Msg("coordinator starting")
	go coord.Run(ctx, time.Duration(tickPeriodMs)*time.Millisecond)

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if backend != nil {
		snapshotCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := persist.SnapshotStore(snapshotCtx, backend, coord.Store, coord.ForceGrid); err != nil {
			logger.Error().Err(err).Msg("failed to snapshot state on shutdown")
		} else {
			logger.Info().Msg("persisted final state")
		}
	}
}

func openBackend(kind, buntdbPath, dynamoStage, dynamoRegion string) (persist.Backend, error) {
	switch kind {
	case "none":
		return nil, nil
	case "buntdb":
		b, err := persist.OpenBuntBackend(buntdbPath)
		if err != nil {
			return nil, errors.Wrap(err, "open buntdb backend")
		}
		return b, nil
	case "dynamo":
		sess, err := session.NewSession(&aws.Config{Region: aws.String(dynamoRegion)})
		if err != nil {
			return nil, errors.Wrap(err, "create aws session")
		}
		b, err := persist.NewDynamoBackend(sess, dynamoStage)
		if err != nil {
			return nil, errors.Wrap(err, "init dynamo backend")
		}
		return b, nil
	default:
		return nil, errors.Errorf("unknown persist backend %q", kind)
	}
}
