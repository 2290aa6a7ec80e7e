// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package pipe

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ReadRecord reads one opcode byte and the record it introduces,
// returning the opcode and the decoded value (one of *Hello, *Frame,
// *Ask, *Learn, or nil for EOS/EOS_ACK, which carry no payload).
func ReadRecord(r io.Reader) (Opcode, interface{}, error) {
	var op [1]byte
	if _, err := io.ReadFull(r, op[:]); err != nil {
		return 0, nil, fmt.Errorf("pipe: reading opcode: %w", err)
	}
	switch Opcode(op[0]) {
	case OpHello:
		v, err := ReadHello(r)
		return OpHello, v, err
	case OpFrame:
		v, err := ReadFrame(r)
		return OpFrame, v, err
	case OpAsk:
		v, err := ReadAsk(r)
		return OpAsk, v, err
	case OpLearn:
		v, err := ReadLearn(r)
		return OpLearn, v, err
	case OpEOS:
		return OpEOS, nil, nil
	case OpEOSAck:
		return OpEOSAck, nil, nil
	default:
		return 0, nil, fmt.Errorf("%w: %#x", ErrUnknownOpcode, op[0])
	}
}

// ReadHello reads a HELLO payload: len:u8, uuid[len], nominal_size:u64-be.
func ReadHello(r io.Reader) (*Hello, error) {
	var length [1]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, fmt.Errorf("pipe: reading HELLO length: %w", err)
	}
	id := make([]byte, length[0])
	if _, err := io.ReadFull(r, id); err != nil {
		return nil, fmt.Errorf("pipe: reading HELLO cache id: %w", err)
	}
	var nominalSize uint64
	if err := binary.Read(r, binary.BigEndian, &nominalSize); err != nil {
		return nil, fmt.Errorf("pipe: reading HELLO nominal size: %w", err)
	}
	return &Hello{CacheID: string(id), NominalSize: nominalSize}, nil
}

// ReadFrame reads a FRAME payload: len:u16-be, bytes[len].
func ReadFrame(r io.Reader) (*Frame, error) {
	var length [2]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, fmt.Errorf("pipe: reading FRAME length: %w", err)
	}
	n := binary.BigEndian.Uint16(length[:])
	if n == 0 {
		return nil, ErrFrameEmpty
	}
	if int(n) > MaxFrameLength {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("pipe: reading FRAME payload: %w", err)
	}
	return &Frame{Payload: payload}, nil
}

// ReadAsk reads an ASK payload: hash:u64-be.
func ReadAsk(r io.Reader) (*Ask, error) {
	var hash uint64
	if err := binary.Read(r, binary.BigEndian, &hash); err != nil {
		return nil, fmt.Errorf("pipe: reading ASK hash: %w", err)
	}
	return &Ask{Hash: hash}, nil
}

// ReadLearn reads a LEARN payload: W bytes. The hash is not on the
// wire; callers derive it from the segment.
func ReadLearn(r io.Reader) (*Learn, error) {
	l := &Learn{}
	if _, err := io.ReadFull(r, l.Segment[:]); err != nil {
		return nil, fmt.Errorf("pipe: reading LEARN segment: %w", err)
	}
	return l, nil
}
