// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package rollhash implements the cyclic rolling hash used to segment
// a byte stream into fixed-size windows for the XCodec dedup engine.
// The digest is carried on the wire inside REF opcodes, so Mix must be
// byte-exact and deterministic: any two implementations fed the same
// W-byte window must produce the same uint64.
package rollhash

// Window is the number of bytes over which the hash is computed (the
// spec's W, XCODEC_SEGMENT_LENGTH). It is a build-time constant shared
// by both proxy peers — changing it breaks wire compatibility.
const Window = 128

// prime drives the polynomial mix. It is odd and has no
// special structure beyond spreading bits well across a 64-bit word;
// collisions are tolerated by the decoder (§4.3) so this need not be
// cryptographic, only cheap and well distributed.
const prime uint64 = 0x9E3779B97F4A7C15

// coeff is prime^(Window-1) mod 2^64, the multiplier applied to the
// outgoing byte when rolling so it can be subtracted in O(1).
var coeff uint64 = func() uint64 {
	c := uint64(1)
	for i := 0; i < Window-1; i++ {
		c *= prime
	}
	return c
}()

// Hash is a cyclic rolling hash over exactly Window bytes. The zero
// value is ready to use.
type Hash struct {
	buf   [Window]byte
	fill  int    // bytes currently held, 0..Window
	pos   int    // next write position in buf (circular once full)
	value uint64 // running polynomial value
}

// Reset clears the window, discarding any bytes accumulated so far.
func (h *Hash) Reset() {
	*h = Hash{}
}

// Full reports whether the window holds a full Window bytes.
func (h *Hash) Full() bool {
	return h.fill == Window
}

// Add shifts a byte into the window. It must only be called while the
// window is not yet full (the first Window bytes of a fresh segment);
// once full, callers must switch to Roll.
func (h *Hash) Add(b byte) {
	h.value = h.value*prime + uint64(b)
	h.buf[h.pos] = b
	h.pos = (h.pos + 1) % Window
	h.fill++
}

// Roll shifts one byte out (the oldest byte in the window) and one
// byte in, in constant time. Must only be called once the window is
// full.
func (h *Hash) Roll(in byte) {
	out := h.buf[h.pos]
	h.value = (h.value-uint64(out)*coeff)*prime + uint64(in)
	h.buf[h.pos] = in
	h.pos = (h.pos + 1) % Window
}

// Mix returns the 64-bit digest of the current window. Only
// meaningful once Full reports true.
func (h *Hash) Mix() uint64 {
	return h.value
}

// Bytes returns a copy of the Window bytes currently held, in stream
// order (oldest first). Only meaningful once Full reports true.
func (h *Hash) Bytes() [Window]byte {
	var out [Window]byte
	for i := 0; i < Window; i++ {
		out[i] = h.buf[(h.pos+i)%Window]
	}
	return out
}

// MixBytes computes the digest of an arbitrary Window-byte slice
// directly, without going through Add/Roll. Used by the decoder when
// it has just received a full segment (EXTRACT/LEARN) and needs its
// hash without incrementally rolling through it.
func MixBytes(segment []byte) uint64 {
	var v uint64
	for _, b := range segment {
		v = v*prime + uint64(b)
	}
	return v
}
