// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package pipe implements the outer dictionary-synchronization
// protocol that carries XCodec opcode streams between two proxy
// instances: HELLO, FRAME, ASK, LEARN, EOS and EOS_ACK records.
package pipe

import (
	"errors"

	"github.com/wanproxy-xtech/wanproxy/internal/rollhash"
)

// Opcode identifies a pipe record on the wire. Distinct from the
// XCodec inner opcodes (ESCAPE/EXTRACT/REF), which travel inside a
// FRAME payload.
type Opcode byte

const (
	OpHello  Opcode = 'H'
	OpFrame  Opcode = 'F'
	OpAsk    Opcode = 'A'
	OpLearn  Opcode = 'L'
	OpEOS    Opcode = 'E'
	OpEOSAck Opcode = 'e'
)

// MaxFrameLength is the largest payload a single FRAME record may
// carry. Must be nonzero.
const MaxFrameLength = 32768

// UUIDStringSize is the on-wire length of a cache identity's canonical
// 8-4-4-4-12 hex-and-hyphen representation.
const UUIDStringSize = 36

// Sentinel errors returned by Read<Frame> and the dispatcher.
var (
	ErrUnknownOpcode  = errors.New("pipe: unknown opcode")
	ErrFrameTooLarge  = errors.New("pipe: FRAME length exceeds maximum")
	ErrFrameEmpty     = errors.New("pipe: FRAME length is zero")
	ErrNoHello        = errors.New("pipe: record received before HELLO")
	ErrDuplicateHello = errors.New("pipe: HELLO received twice on one direction")
	ErrUnknownAsk     = errors.New("pipe: ASK for a hash never observed as missing")
	ErrLearnCollision = errors.New("pipe: LEARN hash already maps to different bytes")
)

// Hello announces a direction's cache identity and nominal size; it
// is the mandatory first message in each direction.
type Hello struct {
	CacheID     string // canonical UUID form, length UUIDStringSize
	NominalSize uint64 // bytes, cache's configured capacity
}

// Frame carries one chunk of XCodec opcode-stream bytes.
type Frame struct {
	Payload []byte
}

// Ask requests the bytes behind a hash the asker has seen referenced
// but does not hold.
type Ask struct {
	Hash uint64
}

// Learn supplies the Window bytes behind a hash, in response to an Ask
// or as an unsolicited dictionary push. The hash itself is never on
// the wire: the receiver derives it from Segment with the same mix
// function the sender used to identify it.
type Learn struct {
	Segment [rollhash.Window]byte
}
