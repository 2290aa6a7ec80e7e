// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package xcodec

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/wanproxy-xtech/wanproxy/internal/rollhash"
)

// memCache is a minimal Cache used directly by these tests so the
// xcodec package does not import its own cache subpackage (which in
// turn imports xcodec.Cache structurally — keeping the test self
// contained avoids a confusing import cycle in test code).
type memCache struct {
	entries map[uint64][]byte
}

func newMemCache() *memCache { return &memCache{entries: make(map[uint64][]byte)} }

func (c *memCache) Lookup(hash uint64) ([]byte, bool) {
	seg, ok := c.entries[hash]
	return seg, ok
}

func (c *memCache) Insert(hash uint64, segment []byte) error {
	if existing, ok := c.entries[hash]; ok && !bytes.Equal(existing, segment) {
		return errCollision
	}
	cp := append([]byte(nil), segment...)
	c.entries[hash] = cp
	return nil
}

var errCollision = fakeErr("collision")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

func encodeAll(t *testing.T, e *Encoder, chunks ...[]byte) {
	t.Helper()
	for _, c := range chunks {
		if _, err := e.Write(c); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestRoundTripShortInput(t *testing.T) {
	cache := newMemCache()
	var wire bytes.Buffer
	enc := NewEncoder(&wire, cache, DefaultMagic)
	input := []byte("hello, world")
	encodeAll(t, enc, input)

	var out bytes.Buffer
	dec := NewDecoder(&out, newMemCache(), DefaultMagic)
	// The decoder needs the same dictionary entries the encoder
	// declared; since no segment was ever a full window here, the
	// stream is pure escaped literal and no dictionary is needed.
	if _, err := dec.Write(wire.Bytes()); err != nil {
		t.Fatalf("decoder Write: %v", err)
	}
	if dec.Pending() {
		t.Fatalf("decoder pending on a literal-only stream")
	}
	if out.String() != string(input) {
		t.Fatalf("round trip = %q, want %q", out.String(), input)
	}
}

func TestRoundTripWithMagicByteInInput(t *testing.T) {
	cache := newMemCache()
	var wire bytes.Buffer
	enc := NewEncoder(&wire, cache, DefaultMagic)
	input := append([]byte("before"), DefaultMagic, DefaultMagic)
	input = append(input, []byte("after")...)
	encodeAll(t, enc, input)

	var out bytes.Buffer
	dec := NewDecoder(&out, newMemCache(), DefaultMagic)
	if _, err := dec.Write(wire.Bytes()); err != nil {
		t.Fatalf("decoder Write: %v", err)
	}
	if out.String() != string(input) {
		t.Fatalf("round trip = %q, want %q", out.String(), input)
	}
}

func TestDedupDeclaresOnceAndReferences(t *testing.T) {
	cache := newMemCache()
	var wire bytes.Buffer
	enc := NewEncoder(&wire, cache, DefaultMagic)

	segment := bytes.Repeat([]byte("AB"), rollhash.Window/2) // exactly one window
	input := append(append([]byte{}, segment...), segment...)
	encodeAll(t, enc, input)

	n := bytes.Count(wire.Bytes(), []byte{DefaultMagic, TagExtract})
	if n != 1 {
		t.Fatalf("EXTRACT count = %d, want 1", n)
	}
	r := bytes.Count(wire.Bytes(), []byte{DefaultMagic, TagRef})
	if r != 1 {
		t.Fatalf("REF count = %d, want 1", r)
	}

	var out bytes.Buffer
	dec := NewDecoder(&out, newMemCache(), DefaultMagic)
	if _, err := dec.Write(wire.Bytes()); err != nil {
		t.Fatalf("decoder Write: %v", err)
	}
	if dec.Pending() {
		t.Fatalf("decoder left pending after a self-contained stream")
	}
	if out.String() != string(input) {
		t.Fatalf("round trip = %q, want %q", out.String(), input)
	}
}

func TestDecoderPausesOnUnknownReferenceAndResumesAfterLearn(t *testing.T) {
	encCache := newMemCache()
	segment := bytes.Repeat([]byte("ZQ"), rollhash.Window/2)
	hash := rollhash.MixBytes(segment)
	// Pre-seed the encoder's cache so the very first occurrence is
	// already a REF, simulating a peer that already holds the
	// dictionary entry from an earlier connection.
	if err := encCache.Insert(hash, segment); err != nil {
		t.Fatalf("seeding encoder cache: %v", err)
	}

	var wire bytes.Buffer
	enc := NewEncoder(&wire, encCache, DefaultMagic)
	encodeAll(t, enc, segment)

	if bytes.Count(wire.Bytes(), []byte{DefaultMagic, TagRef}) != 1 {
		t.Fatalf("expected encoder to emit a REF for a pre-seeded segment")
	}

	var out bytes.Buffer
	decCache := newMemCache() // empty: decoder does not know the segment yet
	dec := NewDecoder(&out, decCache, DefaultMagic)
	if _, err := dec.Write(wire.Bytes()); err != nil {
		t.Fatalf("decoder Write: %v", err)
	}
	if !dec.Pending() {
		t.Fatalf("expected decoder to pause on an unresolved REF")
	}
	pending := dec.PendingHashes()
	if len(pending) != 1 || pending[0] != hash {
		t.Fatalf("PendingHashes = %v, want [%x]", pending, hash)
	}
	if out.Len() != 0 {
		t.Fatalf("decoder emitted %d bytes before resolving its pending hash", out.Len())
	}

	if err := dec.Learn(hash, segment); err != nil {
		t.Fatalf("Learn: %v", err)
	}
	if dec.Pending() {
		t.Fatalf("decoder still pending after Learn")
	}
	if out.String() != string(segment) {
		t.Fatalf("round trip after Learn = %q, want %q", out.String(), segment)
	}
}

func TestRoundTripRandomStreamsChunked(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		n := rng.Intn(rollhash.Window * 6)
		input := make([]byte, n)
		rng.Read(input)

		cache := newMemCache()
		var wire bytes.Buffer
		enc := NewEncoder(&wire, cache, DefaultMagic)

		// Feed in small, irregular chunks to exercise the encoder's
		// buffering across Write boundaries.
		for off := 0; off < len(input); {
			step := 1 + rng.Intn(17)
			if off+step > len(input) {
				step = len(input) - off
			}
			if _, err := enc.Write(input[off : off+step]); err != nil {
				t.Fatalf("trial %d: Write: %v", trial, err)
			}
			off += step
		}
		if err := enc.Flush(); err != nil {
			t.Fatalf("trial %d: Flush: %v", trial, err)
		}

		var out bytes.Buffer
		dec := NewDecoder(&out, newMemCache(), DefaultMagic)
		wireBytes := wire.Bytes()
		for off := 0; off < len(wireBytes); {
			step := 1 + rng.Intn(23)
			if off+step > len(wireBytes) {
				step = len(wireBytes) - off
			}
			if _, err := dec.Write(wireBytes[off : off+step]); err != nil {
				t.Fatalf("trial %d: decoder Write: %v", trial, err)
			}
			off += step
		}
		if dec.Pending() {
			t.Fatalf("trial %d: decoder pending on self-contained stream", trial)
		}
		if !bytes.Equal(out.Bytes(), input) {
			t.Fatalf("trial %d: round trip mismatch: got %d bytes, want %d bytes", trial, out.Len(), len(input))
		}
	}
}

func TestDecoderRejectsExtractCollision(t *testing.T) {
	segA := bytes.Repeat([]byte{0x01}, rollhash.Window)
	h := rollhash.MixBytes(segA)

	decCache := newMemCache()
	segB := bytes.Repeat([]byte{0x02}, rollhash.Window)
	if err := decCache.Insert(h, segB); err != nil {
		t.Fatalf("seeding decoder cache: %v", err)
	}

	var out bytes.Buffer
	dec := NewDecoder(&out, decCache, DefaultMagic)
	wire := append([]byte{DefaultMagic, TagExtract}, segA...)
	if _, err := dec.Write(wire); err == nil {
		t.Fatalf("expected collision error, got nil")
	}
}
