// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package rollhash

import (
	"bytes"
	"math/rand"
	"testing"
)

func fill(h *Hash, data []byte) {
	for _, b := range data {
		h.Add(b)
	}
}

func TestMixDeterministic(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, Window)

	var h1, h2 Hash
	fill(&h1, data)
	fill(&h2, data)

	if h1.Mix() != h2.Mix() {
		t.Fatalf("expected identical digests for identical windows, got %x vs %x", h1.Mix(), h2.Mix())
	}
	if h1.Mix() != MixBytes(data) {
		t.Fatalf("Mix() and MixBytes() disagree: %x vs %x", h1.Mix(), MixBytes(data))
	}
}

func TestMixDiffersOnByteChange(t *testing.T) {
	base := make([]byte, Window)
	rng := rand.New(rand.NewSource(1))
	rng.Read(base)

	var h1 Hash
	fill(&h1, base)
	orig := h1.Mix()

	for i := 0; i < Window; i++ {
		mutated := append([]byte(nil), base...)
		mutated[i] ^= 0xFF
		if MixBytes(mutated) == orig {
			t.Fatalf("digest collided after flipping byte %d (tolerated but suspiciously easy to trigger)", i)
		}
	}
}

func TestRollMatchesRecompute(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	stream := make([]byte, Window*4)
	rng.Read(stream)

	var h Hash
	fill(&h, stream[:Window])

	for i := Window; i < len(stream); i++ {
		h.Roll(stream[i])
		want := MixBytes(stream[i-Window+1 : i+1])
		if h.Mix() != want {
			t.Fatalf("at i=%d: rolled mix %x != recomputed %x", i, h.Mix(), want)
		}
	}
}

func TestBytesReflectsWindow(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	stream := make([]byte, Window*2)
	rng.Read(stream)

	var h Hash
	fill(&h, stream[:Window])
	h.Roll(stream[Window])

	got := h.Bytes()
	want := stream[1 : Window+1]
	if !bytes.Equal(got[:], want) {
		t.Fatalf("Bytes() = %x, want %x", got, want)
	}
}

func TestResetClearsState(t *testing.T) {
	var h Hash
	fill(&h, bytes.Repeat([]byte{1}, Window))
	if !h.Full() {
		t.Fatal("expected full window")
	}
	h.Reset()
	if h.Full() {
		t.Fatal("expected empty window after reset")
	}
	if h.Mix() != 0 {
		t.Fatalf("expected zero digest after reset, got %x", h.Mix())
	}
}
