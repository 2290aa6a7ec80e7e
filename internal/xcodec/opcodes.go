// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package xcodec

// DefaultMagic is the magic byte that introduces an opcode in the
// encoded stream when no override is configured. Both
// peers of a proxy pair must agree on the same magic byte.
const DefaultMagic byte = 0xF1

// Opcode tag bytes, written immediately after the magic byte. These
// never appear as the second byte of a literal run because the
// encoder never emits the magic byte outside of a tagged pair.
const (
	TagEscape  byte = 0x00 // literal occurrence of the magic byte
	TagExtract byte = 0x01 // declaration: Window raw bytes follow
	TagRef     byte = 0x02 // reference: an 8-byte big-endian hash follows
)
