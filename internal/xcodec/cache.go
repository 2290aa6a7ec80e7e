// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package xcodec

// Cache is the dictionary consulted by Encoder and Decoder: a map from
// a rolling-hash digest to the Window-byte segment it names. Lookup
// must never block on I/O for data it can serve from memory (the COSS
// implementation keeps this true by only ever missing on genuinely
// absent hashes, never on a resident one). Insert must treat a second
// insertion of the same hash with different bytes as a collision and
// report it — the caller (Decoder) turns that into a fatal protocol
// error, since dictionary divergence between peers must never be
// silently tolerated.
type Cache interface {
	// Lookup returns the segment stored for hash, and whether it was
	// found. ok is false both for a genuine miss and for a cache entry
	// that failed integrity verification (COSS); in either case the
	// caller proceeds exactly as on a miss.
	Lookup(hash uint64) (segment []byte, ok bool)

	// Insert records hash -> segment. If hash is already present with
	// different bytes, Insert returns a non-nil error and leaves the
	// existing entry untouched.
	Insert(hash uint64, segment []byte) error
}
