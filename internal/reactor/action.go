// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package reactor implements the dispatcher/I/O-service split that
// drives socket reads, writes, connects and timed waits for the proxy:
// a Dispatcher runs user callbacks, and an IOService performs the
// actual blocking syscalls on dedicated goroutines, posting completion
// Events back to the Dispatcher over a channel. Two goroutines stand
// in for the two single-threaded loops; the channel stands in for the
// bounded SPSC ring buffer (Go's runtime already multiplexes socket
// readiness internally, so there is no separate epoll/kqueue layer to
// wrap).
package reactor

import "sync/atomic"

// Action is a cancelable handle to one outstanding I/O or timer
// request. Cancellation is generation-tagged: Cancel marks the
// generation current at the time of the call, so a stale completion
// racing a new request on a reused Action is a safe no-op rather than
// delivering the wrong event.
type Action struct {
	generation atomic.Uint64
	cancelled  atomic.Bool
}

// NewAction creates an Action at generation 0.
func NewAction() *Action {
	return &Action{}
}

// Cancel marks the Action's current generation cancelled. Safe to
// call from any goroutine.
func (a *Action) Cancel() {
	a.cancelled.Store(true)
}

// cancelledAt reports whether a completion tagged with generation must
// be dropped: the Action has been cancelled, or rearmed for a newer
// request since. Used by the I/O service to decide whether a completed
// operation's result should still be delivered.
func (a *Action) cancelledAt(generation uint64) bool {
	return generation != a.generation.Load() || a.cancelled.Load()
}

// rearm bumps the generation and clears any cancellation, returning
// the new generation — used when an Action is reused for a
// subsequent request (e.g. the next read on the same connection).
func (a *Action) rearm() uint64 {
	a.cancelled.Store(false)
	return a.generation.Add(1)
}

// currentGeneration returns the Action's generation without mutating
// it, for a caller that wants to tag a request without starting a new
// one (e.g. the very first request on a freshly created Action).
func (a *Action) currentGeneration() uint64 {
	return a.generation.Load()
}
