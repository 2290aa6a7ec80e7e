// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package cache

// RecencyWindow is a fixed-size circular buffer of (hash, segment)
// pairs checked before a cache's main index, short-circuiting repeated
// lookups of hot segments. Capacity must be a power of two.
type RecencyWindow struct {
	entries []recencyEntry
	mask    int
	next    int
}

type recencyEntry struct {
	hash    uint64
	segment []byte
	valid   bool
}

// DefaultRecencyCapacity is the default window size (64 entries).
const DefaultRecencyCapacity = 64

// NewRecencyWindow creates a window with the given capacity, which
// must be a power of two (panics otherwise — this is a construction
// error, not a runtime condition).
func NewRecencyWindow(capacity int) *RecencyWindow {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("cache: recency window capacity must be a power of two")
	}
	return &RecencyWindow{
		entries: make([]recencyEntry, capacity),
		mask:    capacity - 1,
	}
}

// Lookup returns the segment for hash if it is currently in the
// window.
func (w *RecencyWindow) Lookup(hash uint64) ([]byte, bool) {
	for i := range w.entries {
		e := &w.entries[i]
		if e.valid && e.hash == hash {
			return e.segment, true
		}
	}
	return nil, false
}

// Touch records hash/segment as recently used, evicting the oldest
// entry if the window is full (simple ring insertion: spec does not
// require LRU precision here, only a short-circuit for hot entries).
func (w *RecencyWindow) Touch(hash uint64, segment []byte) {
	for i := range w.entries {
		e := &w.entries[i]
		if e.valid && e.hash == hash {
			e.segment = segment
			return
		}
	}
	w.entries[w.next] = recencyEntry{hash: hash, segment: segment, valid: true}
	w.next = (w.next + 1) & w.mask
}

// Invalidate clears the entry for hash, if present. Called when the
// underlying segment is evicted from the backing store (COSS stripe
// detach) so the window never serves stale bytes.
func (w *RecencyWindow) Invalidate(hash uint64) {
	for i := range w.entries {
		e := &w.entries[i]
		if e.valid && e.hash == hash {
			*e = recencyEntry{}
			return
		}
	}
}

// InvalidateFunc clears every entry for which match returns true.
func (w *RecencyWindow) InvalidateFunc(match func(hash uint64) bool) {
	for i := range w.entries {
		e := &w.entries[i]
		if e.valid && match(e.hash) {
			*e = recencyEntry{}
		}
	}
}
