// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package filter

import (
	"bufio"
	"bytes"
	"net/http"
	"net/textproto"
	"strconv"
	"sync/atomic"
)

// Count is a pass-through filter that adds len(buf) to a shared
// counter for every byte it sees, used to report bytes in and bytes
// out around each codec stage when enabled.
type Count struct {
	Base
	n *int64

	// httpHint, when true, additionally tries to recognize HTTP
	// request/response messages on the stream and report their
	// declared Content-Length body sizes separately from header bytes.
	// This has no effect on what is produced downstream beyond the
	// FlagToBeContinued bit it may OR into flags; it otherwise only
	// feeds BodyBytes.
	httpHint bool
	sniffer  *httpSniffer
}

// NewCount creates a Count filter that accumulates into n (caller-
// owned, so two Count filters, one per direction, can report into the
// same connection-level struct).
func NewCount(n *int64) *Count {
	return &Count{n: n}
}

// NewCountWithHTTPHint creates a Count filter that also tracks the
// declared body length of each HTTP/1.x message pipelined on the
// stream, via bodyBytes.
func NewCountWithHTTPHint(n *int64, bodyBytes *int64) *Count {
	return &Count{n: n, httpHint: true, sniffer: newHTTPSniffer(bodyBytes)}
}

// Consume implements Filter. When a body of at least
// smallBodyThreshold bytes is still draining, the sniffer's "don't wait on
// header-dependent resources for this chunk" signal is OR'd into the
// flags handed downstream, the way the original's consume ORs
// TO_BE_CONTINUED into what it produces.
func (c *Count) Consume(buf []byte, flags int) error {
	atomic.AddInt64(c.n, int64(len(buf)))
	if c.httpHint && c.sniffer != nil {
		if c.sniffer.observe(buf) {
			flags |= FlagToBeContinued
		}
	}
	return c.Produce(buf, flags)
}

// httpSniffer watches a byte stream for pipelined HTTP/1.x messages
// and, for each one whose header block completes, records the body
// length declared by its Content-Length header (when present and no
// Transfer-Encoding is in play, since chunked bodies have no advertised
// length). It re-arms after each message's body drains, so it keeps
// reporting on every message pipelined on a persistent connection
// rather than only the first. It gives up silently, for the rest of
// the stream's life, the moment something doesn't look like HTTP.
type httpSniffer struct {
	bodyBytes *int64
	state     sniffState

	// buf accumulates header bytes while state is sniffHeader. It is
	// also where the leftover bytes of an overrun chunk (one chunk that
	// both finishes the current body and starts the next message's
	// header) are parked until the next sniffHeader pass picks them up.
	buf bytes.Buffer

	expected int64 // declared body length of the message currently draining
	count    int64 // body bytes observed so far for that message
}

type sniffState int

const (
	// sniffDone means the stream was identified as non-HTTP, or the
	// header block overran maxSniffHeader: the sniffer gives up for
	// the rest of the connection's life.
	sniffDone sniffState = iota
	// sniffHeader is accumulating bytes looking for a header block's
	// terminating blank line, including after a prior message's body
	// has fully drained and a new message may follow it.
	sniffHeader
	// sniffSmallBody is draining a body shorter than
	// smallBodyThreshold, inline.
	sniffSmallBody
	// sniffLargeBody is draining a body of at least
	// smallBodyThreshold, reported upstream as "to be continued" while
	// it drains.
	sniffLargeBody
)

// smallBodyThreshold is the body-length cutoff below which a draining
// body is not worth flagging "to be continued" downstream.
const smallBodyThreshold = 1000

// maxSniffHeader bounds how much of the stream is buffered looking for
// a header terminator, so a non-HTTP stream doesn't grow this forever.
const maxSniffHeader = 64 << 10

func newHTTPSniffer(bodyBytes *int64) *httpSniffer {
	return &httpSniffer{bodyBytes: bodyBytes, state: sniffHeader}
}

// observe feeds one chunk through the sniffer and reports whether it
// is part of a large body still draining.
func (s *httpSniffer) observe(buf []byte) bool {
	switch s.state {
	case sniffHeader:
		s.buf.Write(buf)
		if s.buf.Len() > maxSniffHeader {
			s.state = sniffDone
			break
		}
		for s.exploreHeader() {
		}
	case sniffSmallBody, sniffLargeBody:
		s.drainBody(buf)
		if s.state == sniffHeader {
			for s.exploreHeader() {
			}
		}
	}
	return s.state == sniffLargeBody
}

// exploreHeader looks for a complete header block in s.buf. It reports
// whether it made forward progress (a header block was found, whether
// or not the stream turned out to be HTTP); the caller loops on this
// until no further progress is possible without more input, mirroring
// the retry-while-buffered-data-remains shape of the original scanner.
func (s *httpSniffer) exploreHeader() bool {
	raw := s.buf.Bytes()
	headerEnd := bytes.Index(raw, []byte("\r\n\r\n"))
	if headerEnd < 0 {
		return false
	}

	header := raw[:headerEnd+4]
	// Copied out before Reset, since Reset only rewinds s.buf's
	// write offset: writing the next message's overrun tail back into
	// s.buf would otherwise alias and clobber these same bytes.
	rest := append([]byte(nil), raw[headerEnd+4:]...)

	reader := bufio.NewReader(bytes.NewReader(header))
	firstLine, err := reader.ReadString('\n')
	if err != nil || !(bytes.HasPrefix([]byte(firstLine), []byte("HTTP/")) || isRequestLine(firstLine)) {
		s.state = sniffDone
		return false
	}

	tp := textproto.NewReader(reader)
	hdr, err := tp.ReadMIMEHeader()
	if err != nil {
		s.state = sniffDone
		return false
	}
	mimeHeader := http.Header(hdr)

	var contentLength int64
	if mimeHeader.Get("Transfer-Encoding") == "" {
		if cl := mimeHeader.Get("Content-Length"); cl != "" {
			if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n >= 0 {
				contentLength = n
			}
		}
	}
	atomic.AddInt64(s.bodyBytes, contentLength)

	s.expected = contentLength
	s.count = 0
	s.buf.Reset()
	if contentLength < smallBodyThreshold {
		s.state = sniffSmallBody
	} else {
		s.state = sniffLargeBody
	}

	if len(rest) > 0 {
		s.drainBody(rest)
	}
	return true
}

// drainBody advances the body byte count for the message currently
// draining, re-arming back to sniffHeader once expected is reached.
// Any bytes past the body boundary are parked in s.buf as the start of
// the next pipelined message's header.
func (s *httpSniffer) drainBody(data []byte) {
	s.count += int64(len(data))
	if s.count < s.expected {
		return
	}
	overrun := s.count - s.expected
	s.state = sniffHeader
	s.count = 0
	s.expected = 0
	if overrun > 0 {
		s.buf.Write(data[int64(len(data))-overrun:])
	}
}

func isRequestLine(line string) bool {
	for _, method := range []string{"GET ", "POST ", "PUT ", "DELETE ", "HEAD ", "OPTIONS ", "PATCH ", "CONNECT ", "TRACE "} {
		if bytes.HasPrefix([]byte(line), []byte(method)) {
			return true
		}
	}
	return false
}
