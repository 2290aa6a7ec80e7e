// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package reactor

import (
	"errors"
	"io"
)

// IOService performs the actual blocking reads and writes requested
// of it, each on its own goroutine, and posts the result back to a
// Dispatcher. Go's runtime netpoller already does the readiness
// multiplexing the original's dedicated epoll/kqueue thread did by
// hand, so IOService's only job is translating a blocking call's
// outcome into an Event and handling cancellation races.
type IOService struct {
	dispatcher *Dispatcher
}

// NewIOService creates an IOService posting completions to d.
func NewIOService(d *Dispatcher) *IOService {
	return &IOService{dispatcher: d}
}

// Read issues a non-blocking-equivalent read: buf is filled by
// conn.Read on a new goroutine, and the result is posted to the
// dispatcher for cb.
func (s *IOService) Read(action *Action, conn io.Reader, buf []byte, cb Callback) {
	gen := action.rearm()
	go func() {
		n, err := conn.Read(buf)
		s.complete(action, gen, cb, buf[:n], n, err)
	}()
}

// Write issues a write of buf to conn on a new goroutine.
func (s *IOService) Write(action *Action, conn io.Writer, buf []byte, cb Callback) {
	gen := action.rearm()
	go func() {
		n, err := conn.Write(buf)
		s.complete(action, gen, cb, nil, n, err)
	}()
}

// Do runs an arbitrary blocking operation (connect, accept, close) on
// a new goroutine and posts its error, if any, as the completion.
// Used for operations that don't produce a buffer.
func (s *IOService) Do(action *Action, op func() error, cb Callback) {
	gen := action.rearm()
	go func() {
		err := op()
		s.complete(action, gen, cb, nil, 0, err)
	}()
}

func (s *IOService) complete(action *Action, gen uint64, cb Callback, buf []byte, n int, err error) {
	if action.cancelledAt(gen) {
		s.dispatcher.post(message{op: -1, action: action})
		return
	}

	ev := Event{Type: EventDone, Buf: buf, N: n}
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		ev.Type = EventEOS
	default:
		ev.Type = EventError
		ev.Err = err
	}
	s.dispatcher.post(message{op: 0, action: action, callback: cb, event: ev})
}
