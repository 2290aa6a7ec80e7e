// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package filter

import "io"

// halfCloser is implemented by net.TCPConn and similar: a connection
// that can have its write side shut down while the read side stays
// open.
type halfCloser interface {
	CloseWrite() error
}

// Sink terminates a chain: it writes consumed bytes straight to an
// underlying connection, and on Flush half-closes the write side
// before propagating (there is nothing downstream of a sink, so
// propagation is a no-op unless Chain was still called).
type Sink struct {
	Base
	w io.Writer
}

// NewSink wraps w as the tail of a filter chain.
func NewSink(w io.Writer) *Sink {
	return &Sink{w: w}
}

// Consume writes buf directly to the wrapped connection.
func (s *Sink) Consume(buf []byte, flags int) error {
	if len(buf) == 0 {
		return nil
	}
	_, err := s.w.Write(buf)
	return err
}

// Flush half-closes the write side of the wrapped connection, if it
// supports half-close, then propagates flush to its chained recipient,
// if any.
func (s *Sink) Flush(flags int) error {
	if hc, ok := s.w.(halfCloser); ok {
		if err := hc.CloseWrite(); err != nil {
			return err
		}
	}
	return s.Base.Flush(flags)
}
