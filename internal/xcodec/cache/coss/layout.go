// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package coss implements the Cyclic Object Storage System: a
// file-backed, stripe-structured, bounded dictionary cache for the
// xcodec dedup engine. A single file, named by the cache's
// UUID, is divided into equal-size stripes; one stripe is "active" and
// receives new segments in order of arrival, a handful more are kept
// resident for recently touched lookups, and the rest live on disk
// until referenced.
package coss

import "github.com/wanproxy-xtech/wanproxy/internal/rollhash"

// SegmentLength is the fixed size of every cached segment: the xcodec
// rolling-hash window.
const SegmentLength = rollhash.Window

const (
	// Signature identifies a valid stripe header. Any other value at
	// the expected offset means the stripe (and everything after it,
	// conservatively) was never fully written.
	Signature uint32 = 0xF150E964
	// FormatVersion records the on-disk layout version in case the
	// layout changes in a future release.
	FormatVersion uint32 = 1

	// SegmentCount is the number of segment slots per stripe.
	SegmentCount = 512
	// ResidentStripes is the number of stripes kept fully loaded in
	// memory at once (one of which is the active stripe).
	ResidentStripes = 16
	// DefaultSizeMB is the cache size used when configuration supplies
	// zero or a negative value.
	DefaultSizeMB = 1024

	// Alignment is the byte boundary the segment array is aligned to
	// within a stripe; chosen to match common disk/page sizes.
	Alignment = 4096

	// flagUsedSincePurge marks a slot as touched since the stripe's
	// last purge pass; a clear flag at purge time means the slot is
	// evicted on the next purge pass.
	flagUsedSincePurge = 1 << 0
)

// metadataSize is the fixed encoded size of stripeMetadata; kept as an
// explicit constant (rather than inferred from struct layout) since
// the file format must be stable regardless of how the Go compiler
// happens to pad the in-memory struct.
const metadataSize = 4 + 4 + 8 + 8 + 4 + 4 + 8 + 8 + 8 + 4 + 4 // 64 bytes

// headerArraySize is the per-segment flag byte plus hash, for every
// segment slot in a stripe.
const headerArraySize = SegmentCount * (1 + 8)

// headerPadding pads metadata+headerArray up to the next Alignment
// boundary, computed explicitly so the layout never depends on
// compiler struct padding.
func headerPadding() int {
	raw := metadataSize + headerArraySize
	aligned := ((raw + Alignment - 1) / Alignment) * Alignment
	return aligned - raw
}

// headerSize is the total on-disk size of one stripe's header,
// including its trailing padding.
func headerSize() int64 {
	return int64(metadataSize + headerArraySize + headerPadding())
}

// stripeSize is the total on-disk size of one stripe: header plus its
// segment array.
func stripeSize() int64 {
	return headerSize() + int64(SegmentCount*SegmentLength)
}
