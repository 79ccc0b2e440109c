// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dispatch implements the multi-producer multi-consumer FIFO of
// package-id tokens (C8) that hands work from the coordinator to its
// pool of workers. Each id is handed to the transport once; nothing in
// this package redelivers an id that was dropped with a connection or
// refused by a full buffer, and such a package expires at the
// coordinator's tick deadline. Since work-package commit is
// single-winner (package workpkg), delivering an id twice would be safe.
//
// The in-process Queue is the default transport, grounded on mk48's
// hub.go buffered-channel fan-out (register/unregister/inbound all
// travel as buffered channels between goroutines rather than over a
// wire). WSServer/WSClient generalize the same delivery guarantee across
// a process boundary using gorilla/websocket, grounded on
// socket_client.go's read/write pump pair.
package dispatch

import (
	"context"

	"github.com/azrael-engine/azrael/world"
)

// Queue is an in-process, buffered FIFO of package ids. Send never
// blocks: it returns false when the buffer is full. Callers that need
// backpressure should use SendBlocking.
type Queue struct {
	ch chan world.PackageID
}

func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan world.PackageID, capacity)}
}

// Send enqueues id, returning false if the queue is full.
func (q *Queue) Send(id world.PackageID) bool {
	select {
	case q.ch <- id:
		return true
	default:
		return false
	}
}

// SendBlocking enqueues id, blocking until room is available or ctx is
// done.
func (q *Queue) SendBlocking(ctx context.Context, id world.PackageID) error {
	select {
	case q.ch <- id:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a package id is available or ctx is done.
func (q *Queue) Receive(ctx context.Context) (world.PackageID, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Len reports the number of package ids currently buffered.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Dispatch is an alias for Send so Queue satisfies the same Dispatcher
// interface as WSServer.
func (q *Queue) Dispatch(id world.PackageID) bool {
	return q.Send(id)
}
