// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package reactor

import (
	"context"
	"log/slog"
)

// queueDepth bounds the Dispatcher's inbound channel, standing in for
// the original's fixed-capacity power-of-two SPSC ring buffer. A full
// queue applies backpressure to the I/O service goroutines posting to
// it rather than growing without bound.
const queueDepth = 4096

// Dispatcher runs user-level callbacks for completed I/O and timer
// requests, one at a time, on its own goroutine. All filter, cache
// and connector code is expected to run only from inside a callback,
// so none of it needs its own locking.
type Dispatcher struct {
	logger *slog.Logger
	queue  chan message

	reload chan struct{}
	stop   chan struct{}
}

// NewDispatcher creates a Dispatcher. Run must be called to start
// processing.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logger,
		queue:  make(chan message, queueDepth),
		reload: make(chan struct{}, 1),
		stop:   make(chan struct{}, 1),
	}
}

// post enqueues a completion message; called by the I/O service.
func (d *Dispatcher) post(m message) {
	d.queue <- m
}

// Reload raises the reload interest (SIGHUP-equivalent), waking Run
// if it is blocked waiting for work.
func (d *Dispatcher) Reload() {
	select {
	case d.reload <- struct{}{}:
	default:
	}
}

// Stop raises the stop interest (SIGINT-equivalent).
func (d *Dispatcher) Stop() {
	select {
	case d.stop <- struct{}{}:
	default:
	}
}

// Run drains the dispatcher's queue until ctx is done or Stop is
// called, invoking each message's callback (skipping delivery, but
// still draining, for an Action cancelled at the message's
// generation). onReload is invoked whenever Reload is raised.
func (d *Dispatcher) Run(ctx context.Context, onReload func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-d.reload:
			if onReload != nil {
				onReload()
			}
		case m := <-d.queue:
			d.deliver(m)
		}
	}
}

func (d *Dispatcher) deliver(m message) {
	if m.op < 0 {
		// Teardown message: the Action is being deleted by the I/O
		// service. Nothing else to do; the Go garbage collector
		// reclaims it once the last reference (this message) is gone.
		return
	}
	if m.callback == nil {
		return
	}
	m.callback(m.event)
}
