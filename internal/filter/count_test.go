// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package filter

import (
	"bytes"
	"testing"
)

// flagRecorder collects each Consume's buf and flags, for assertions
// about what a Count filter propagates downstream.
type flagRecorder struct {
	Base
	chunks [][]byte
	flags  []int
}

func (r *flagRecorder) Consume(buf []byte, flags int) error {
	r.chunks = append(r.chunks, append([]byte(nil), buf...))
	r.flags = append(r.flags, flags)
	return nil
}

func TestCountPlain(t *testing.T) {
	var n int64
	c := NewCount(&n)
	rec := &flagRecorder{}
	c.Chain(rec)

	if err := c.Consume([]byte("hello"), 0); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if n != 5 {
		t.Errorf("n = %d, want 5", n)
	}
	if len(rec.chunks) != 1 || string(rec.chunks[0]) != "hello" {
		t.Errorf("unexpected propagated chunk: %v", rec.chunks)
	}
}

func TestCountHTTPHintSmallBody(t *testing.T) {
	var n, body int64
	c := NewCountWithHTTPHint(&n, &body)
	rec := &flagRecorder{}
	c.Chain(rec)

	msg := "GET / HTTP/1.1\r\nHost: example.com\r\nContent-Length: 4\r\n\r\nabcd"
	if err := c.Consume([]byte(msg), 0); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if body != 4 {
		t.Errorf("body = %d, want 4", body)
	}
	if rec.flags[0]&FlagToBeContinued != 0 {
		t.Errorf("small body should not set FlagToBeContinued")
	}
}

func TestCountHTTPHintLargeBodyFlagsToBeContinued(t *testing.T) {
	var n, body int64
	c := NewCountWithHTTPHint(&n, &body)

	header := "POST /upload HTTP/1.1\r\nHost: example.com\r\nContent-Length: 2000\r\n\r\n"
	firstChunk := bytes.Repeat([]byte("a"), 500)
	if err := c.Consume(append([]byte(header), firstChunk...), 0); err != nil {
		t.Fatalf("Consume header+partial body: %v", err)
	}
	if body != 2000 {
		t.Fatalf("body = %d, want 2000", body)
	}
	if c.sniffer.state != sniffLargeBody {
		t.Fatalf("expected sniffer still draining a large body, state=%v", c.sniffer.state)
	}

	// Finish the body across further chunks; the last chunk that
	// completes it should not carry FlagToBeContinued (the original
	// only sets it while state remains "still draining").
	rest := bytes.Repeat([]byte("b"), 2000-len(firstChunk))
	flagged := c.sniffer.observe(rest[:len(rest)-1])
	if !flagged {
		t.Errorf("expected FlagToBeContinued signal while large body still draining")
	}
	flagged = c.sniffer.observe(rest[len(rest)-1:])
	if flagged {
		t.Errorf("expected no FlagToBeContinued signal on the chunk that completes the body")
	}
	if c.sniffer.state != sniffHeader {
		t.Errorf("expected sniffer to re-arm to sniffHeader after body drains, got %v", c.sniffer.state)
	}
}

func TestCountHTTPHintRearmsForPipelinedMessages(t *testing.T) {
	var n, body int64
	c := NewCountWithHTTPHint(&n, &body)

	first := "GET /a HTTP/1.1\r\nHost: x\r\nContent-Length: 2\r\n\r\nhi"
	second := "GET /b HTTP/1.1\r\nHost: x\r\nContent-Length: 3\r\n\r\nbye"

	if err := c.Consume([]byte(first+second), 0); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if body != 2+3 {
		t.Errorf("body = %d, want 5 (both pipelined messages counted)", body)
	}
	if c.sniffer.state != sniffHeader {
		t.Errorf("expected sniffer armed for a third message, got state %v", c.sniffer.state)
	}
}

func TestCountHTTPHintGivesUpOnNonHTTP(t *testing.T) {
	var n, body int64
	c := NewCountWithHTTPHint(&n, &body)
	rec := &flagRecorder{}
	c.Chain(rec)

	if err := c.Consume([]byte("not an http stream at all\r\n\r\n"), 0); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if c.sniffer.state != sniffDone {
		t.Errorf("expected sniffer to give up, got state %v", c.sniffer.state)
	}
	if body != 0 {
		t.Errorf("body = %d, want 0", body)
	}
	if n != int64(len("not an http stream at all\r\n\r\n")) {
		t.Errorf("byte counting must still proceed once sniffing gives up")
	}

	// Further chunks must not panic or resurrect sniffing.
	if err := c.Consume([]byte("GET / HTTP/1.1\r\n\r\n"), 0); err != nil {
		t.Fatalf("Consume after give-up: %v", err)
	}
	if body != 0 {
		t.Errorf("body = %d, want 0 after give-up", body)
	}
}

func TestCountHTTPHintZeroLengthBodyRearmsImmediately(t *testing.T) {
	var n, body int64
	c := NewCountWithHTTPHint(&n, &body)

	if err := c.Consume([]byte("GET / HTTP/1.1\r\nHost: x\r\nContent-Length: 0\r\n\r\n"), 0); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if body != 0 {
		t.Errorf("body = %d, want 0", body)
	}

	second := "GET /next HTTP/1.1\r\nHost: x\r\nContent-Length: 1\r\n\r\nz"
	if err := c.Consume([]byte(second), 0); err != nil {
		t.Fatalf("Consume second message: %v", err)
	}
	if body != 1 {
		t.Errorf("body = %d, want 1 (second message counted after re-arm)", body)
	}
}
