// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package filter

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/wanproxy-xtech/wanproxy/internal/pipe"
)

// pipeWriter adapts a Filter's Produce method to io.Writer, so a
// pipe.Session can be told to write its HELLO/FRAME/ASK/LEARN/EOS
// records straight into the next stage of the chain (deflate, SSH
// encrypt, or the sink) rather than to a fixed wire.
type pipeWriter struct {
	f Filter
}

func (w pipeWriter) Write(p []byte) (int, error) {
	if err := w.f.Produce(p, 0); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Encode is the XCodec encode stage of a filter chain: it turns plain
// bytes consumed from upstream into pipe-framed HELLO/FRAME/ASK/LEARN
// records produced downstream, via a pipe.Session.
type Encode struct {
	Base
	session *pipe.Session
}

// NewEncode creates an Encode filter around session. The session's
// wire writer is rebound to this filter's Produce, so session output
// flows through the rest of the chain; the caller must not also treat
// session's original wire argument as live.
func NewEncode(session *pipe.Session) *Encode {
	e := &Encode{session: session}
	session.RebindWire(pipeWriter{e})
	return e
}

// Consume implements Filter: bytes are fed straight to the encoder.
func (e *Encode) Consume(buf []byte, flags int) error {
	return e.session.Encode(buf)
}

// Flush sends EOS (which itself flushes the encoder and any buffered
// FRAME bytes) and then propagates flush downstream.
func (e *Encode) Flush(flags int) error {
	if err := e.session.SendEOS(); err != nil {
		return fmt.Errorf("filter: encode flush: %w", err)
	}
	return e.Base.Flush(flags)
}

// Decode is the XCodec decode stage of a filter chain: it parses pipe
// records out of the raw byte stream consumed from upstream (which
// may split records across Consume calls) and produces the recovered
// plain bytes downstream via a pipe.Session.
type Decode struct {
	Base
	session *pipe.Session
	buf     bytes.Buffer
}

// NewDecode creates a Decode filter around session. The session's
// output writer is rebound to this filter's Produce.
func NewDecode(session *pipe.Session) *Decode {
	d := &Decode{session: session}
	session.RebindOutput(pipeWriter{d})
	return d
}

// Consume implements Filter: buf is appended to the pending record
// buffer, and as many complete records as are available are parsed
// and dispatched. A record that is a reply requiring a write back to
// the peer (ASK, LEARN, EOS_ACK) is sent through the session's wire,
// which the Encode filter sharing this session rebound to its own
// Produce, in the chain heading toward the peer.
func (d *Decode) Consume(buf []byte, flags int) error {
	d.buf.Write(buf)
	for {
		raw := d.buf.Bytes()
		r := bytes.NewReader(raw)
		op, rec, err := pipe.ReadRecord(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("filter: decode: %w", err)
		}
		consumed := len(raw) - r.Len()
		d.buf.Next(consumed)
		if err := d.session.HandleRecord(op, rec); err != nil {
			return fmt.Errorf("filter: decode: %w", err)
		}
	}
}

// Flush propagates flush downstream; end-of-input on the decode side
// is driven by the peer's EOS record, handled in Consume, not by this
// call.
func (d *Decode) Flush(flags int) error {
	return d.Base.Flush(flags)
}
