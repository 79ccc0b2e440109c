// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// checkPeriod is how often the supervisor reconciles the live worker
// count against the desired count. Grounded on mk48's botsTicker
// (server/hub.go), generalized from "top up bots to min_players" to
// "top up workers to the configured pool size."
const checkPeriod = time.Second / 4

// Factory builds a fresh Worker, given an id unique within the pool.
// Supervisor calls it once per spawn, so a factory can hand out a new
// Receiver connection per worker (e.g. a fresh websocket dial).
type Factory func(id string) (*Worker, error)

// Supervisor keeps exactly Count workers alive, respawning any that
// exit (either because PackagesUntilExit was reached, or because their
// Receiver failed) until its context is cancelled.
type Supervisor struct {
	Count   int
	NewID   func(n int) string
	Factory Factory
	Log     zerolog.Logger

	exited chan string
	live   map[string]struct{}
}

// DefaultNewID formats a worker id as "worker-<n>".
func DefaultNewID(n int) string {
	const digits = "0123456789"
	if n == 0 {
		return "worker-0"
	}
	buf := make([]byte, 0, 8)
	for n > 0 {
		buf = append([]byte{digits[n%10]}, buf...)
		n /= 10
	}
	return "worker-" + string(buf)
}

// Run spawns Count workers and keeps the pool full until ctx is done.
func (s *Supervisor) Run(ctx context.Context) {
	if s.NewID == nil {
		s.NewID = DefaultNewID
	}
	s.exited = make(chan string, s.Count+1)
	s.live = make(map[string]struct{}, s.Count)

	ticker := time.NewTicker(checkPeriod)
	defer ticker.Stop()

	nextN := 0
	spawn := func() {
		id := s.NewID(nextN)
		nextN++
		w, err := s.Factory(id)
		if err != nil {
			s.Log.Error().Err(err).Str("worker_id", id).Msg("failed to build worker, will retry next tick")
			return
		}
		s.live[id] = struct{}{}
		go func() {
			err := w.Run(ctx)
			if err != nil && ctx.Err() == nil {
				s.Log.Warn().Err(err).Str("worker_id", id).Msg("worker exited")
			}
			select {
			case s.exited <- id:
			case <-ctx.Done():
			}
		}()
	}

	for i := 0; i < s.Count; i++ {
		spawn()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.exited:
			delete(s.live, id)
		case <-ticker.C:
			for missing := s.Count - len(s.live); missing > 0; missing-- {
				spawn()
			}
		}
	}
}
