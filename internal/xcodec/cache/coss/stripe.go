// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package coss

import (
	"encoding/binary"
	"fmt"
	"io"
)

// stripeState tracks whether a resident stripe slot currently mirrors
// a valid on-disk stripe, and if so, how.
type stripeState uint8

const (
	stateEmpty    stripeState = iota // slot unused since process start
	stateResident                    // actively mirrors file stripe `index`, in memory
	stateDetached                    // was resident; header flushed, segments dropped
)

// stripeMetadata is the fixed-size header record written at the start
// of every stripe: magic, version, monotonic serial number, stripe
// index, segment count, next-free slot, freshness counter, uses
// counter, and credits.
type stripeMetadata struct {
	signature    uint32
	version      uint32
	serial       uint64
	index        uint64 // which stripe of the file this is
	segmentIndex uint32 // next free slot, or SegmentCount if full
	segmentCount uint32 // occupied slots
	freshness    uint64
	uses         uint64
	credits      uint64
	loadUses     uint32
	state        uint32 // persisted only for the recovery scan's benefit
}

func (m *stripeMetadata) encode(w io.Writer) error {
	fields := []interface{}{
		m.signature, m.version, m.serial, m.index,
		m.segmentIndex, m.segmentCount, m.freshness, m.uses,
		m.credits, m.loadUses, m.state,
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.BigEndian, f); err != nil {
			return err
		}
	}
	return nil
}

func (m *stripeMetadata) decode(r io.Reader) error {
	fields := []interface{}{
		&m.signature, &m.version, &m.serial, &m.index,
		&m.segmentIndex, &m.segmentCount, &m.freshness, &m.uses,
		&m.credits, &m.loadUses, &m.state,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.BigEndian, f); err != nil {
			return err
		}
	}
	return nil
}

// stripe is one fully-resident stripe: its header plus every segment
// slot's bytes (nil for an unoccupied slot).
type stripe struct {
	meta     stripeMetadata
	flags    [SegmentCount]uint8
	hashes   [SegmentCount]uint64
	segments [SegmentCount][]byte
	state    stripeState
}

// reset reinitializes a stripe as a brand-new, empty one for file
// index, stamped with the next serial number.
func (s *stripe) reset(index uint64, serial uint64) {
	*s = stripe{}
	s.meta = stripeMetadata{
		signature: Signature,
		version:   FormatVersion,
		serial:    serial,
		index:     index,
	}
	s.state = stateResident
}

// writeHeader encodes the stripe's header (metadata + flags + hashes +
// padding) to w.
func (s *stripe) writeHeader(w io.Writer) error {
	if err := s.meta.encode(w); err != nil {
		return fmt.Errorf("coss: encoding stripe metadata: %w", err)
	}
	for i := 0; i < SegmentCount; i++ {
		if err := binary.Write(w, binary.BigEndian, s.flags[i]); err != nil {
			return fmt.Errorf("coss: encoding stripe flags: %w", err)
		}
	}
	for i := 0; i < SegmentCount; i++ {
		if err := binary.Write(w, binary.BigEndian, s.hashes[i]); err != nil {
			return fmt.Errorf("coss: encoding stripe hash array: %w", err)
		}
	}
	pad := make([]byte, headerPadding())
	if _, err := w.Write(pad); err != nil {
		return fmt.Errorf("coss: writing stripe header padding: %w", err)
	}
	return nil
}

// readHeader decodes a stripe header from r, leaving s.segments
// untouched (the caller decides whether to also read the segment
// array).
func (s *stripe) readHeader(r io.Reader) error {
	if err := s.meta.decode(r); err != nil {
		return fmt.Errorf("coss: decoding stripe metadata: %w", err)
	}
	for i := 0; i < SegmentCount; i++ {
		if err := binary.Read(r, binary.BigEndian, &s.flags[i]); err != nil {
			return fmt.Errorf("coss: decoding stripe flags: %w", err)
		}
	}
	for i := 0; i < SegmentCount; i++ {
		if err := binary.Read(r, binary.BigEndian, &s.hashes[i]); err != nil {
			return fmt.Errorf("coss: decoding stripe hash array: %w", err)
		}
	}
	pad := make([]byte, headerPadding())
	if _, err := io.ReadFull(r, pad); err != nil {
		return fmt.Errorf("coss: reading stripe header padding: %w", err)
	}
	return nil
}

// writeSegments encodes every occupied segment slot (an unoccupied
// slot is written as SegmentLength zero bytes, matching the layout of
// a freshly truncated file region).
func (s *stripe) writeSegments(w io.Writer) error {
	zero := make([]byte, SegmentLength)
	for i := 0; i < SegmentCount; i++ {
		seg := s.segments[i]
		if seg == nil {
			seg = zero
		}
		if _, err := w.Write(seg); err != nil {
			return fmt.Errorf("coss: writing segment %d: %w", i, err)
		}
	}
	return nil
}

func (s *stripe) readSegments(r io.Reader) error {
	for i := 0; i < SegmentCount; i++ {
		buf := make([]byte, SegmentLength)
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("coss: reading segment %d: %w", i, err)
		}
		if s.hashes[i] != 0 {
			s.segments[i] = buf
		}
	}
	return nil
}

// valid reports whether the header just read looks like a real,
// fully-written stripe.
func (s *stripe) valid() bool {
	return s.meta.signature == Signature && s.meta.segmentCount <= SegmentCount
}
