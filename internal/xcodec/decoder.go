// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package xcodec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/wanproxy-xtech/wanproxy/internal/rollhash"
)

// Decoder inverts the opcode stream produced by Encoder, consulting
// cache to resolve REF opcodes. It never consumes bytes it cannot
// fully decode in place: a truncated opcode is held until the next
// Write call supplies the rest.
//
// When a REF names a hash the cache does not hold, Decoder records it
// in its pending set and stops consuming further input (it "pauses");
// the pipe framing layer is expected to notice PendingHashes, issue an
// ASK, and call Learn once the peer answers with LEARN.
type Decoder struct {
	cache Cache
	magic byte
	out   io.Writer

	buf     []byte
	pending map[uint64]struct{}
}

// NewDecoder creates a Decoder writing the recovered byte stream to
// out and consulting cache to resolve declarations and references.
func NewDecoder(out io.Writer, cache Cache, magic byte) *Decoder {
	return &Decoder{
		cache:   cache,
		magic:   magic,
		out:     out,
		pending: make(map[uint64]struct{}),
	}
}

// Write feeds more opcode-stream bytes to the decoder.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	if err := d.process(); err != nil {
		return 0, err
	}
	return len(p), nil
}

// PendingHashes returns the hashes currently blocking decode progress
// (referenced by a REF the cache does not yet hold).
func (d *Decoder) PendingHashes() []uint64 {
	hashes := make([]uint64, 0, len(d.pending))
	for h := range d.pending {
		hashes = append(hashes, h)
	}
	return hashes
}

// Pending reports whether the decoder is blocked on any unresolved
// hash; the pipe framing layer checks it before sending EOS_ACK. Bytes
// written while blocked are buffered by the decoder itself.
func (d *Decoder) Pending() bool {
	return len(d.pending) > 0
}

// Learn supplies the bytes behind a previously unresolved hash (a
// LEARN record, solicited or not) and resumes decoding. A hash already
// mapped to different bytes is a fatal collision.
func (d *Decoder) Learn(hash uint64, segment []byte) error {
	if existing, ok := d.cache.Lookup(hash); ok {
		if !bytes.Equal(existing, segment) {
			return fmt.Errorf("xcodec: LEARN collision for hash %016x", hash)
		}
	} else if err := d.cache.Insert(hash, segment); err != nil {
		return fmt.Errorf("xcodec: decoder inserting learned segment: %w", err)
	}
	delete(d.pending, hash)
	return d.process()
}

func (d *Decoder) process() error {
	for len(d.buf) > 0 {
		if d.buf[0] != d.magic {
			idx := bytes.IndexByte(d.buf, d.magic)
			if idx < 0 {
				if _, err := d.out.Write(d.buf); err != nil {
					return err
				}
				d.buf = nil
				break
			}
			if idx > 0 {
				if _, err := d.out.Write(d.buf[:idx]); err != nil {
					return err
				}
			}
			d.buf = d.buf[idx:]
			continue
		}

		// d.buf[0] == magic; need the tag byte.
		if len(d.buf) < 2 {
			return nil
		}
		switch d.buf[1] {
		case TagEscape:
			if _, err := d.out.Write([]byte{d.magic}); err != nil {
				return err
			}
			d.buf = d.buf[2:]

		case TagExtract:
			need := 2 + rollhash.Window
			if len(d.buf) < need {
				return nil
			}
			seg := append([]byte(nil), d.buf[2:need]...)
			h := rollhash.MixBytes(seg)
			if existing, ok := d.cache.Lookup(h); ok {
				if !bytes.Equal(existing, seg) {
					return fmt.Errorf("xcodec: EXTRACT collision for hash %016x", h)
				}
			} else if err := d.cache.Insert(h, seg); err != nil {
				return fmt.Errorf("xcodec: decoder inserting extracted segment: %w", err)
			}
			if _, err := d.out.Write(seg); err != nil {
				return err
			}
			d.buf = d.buf[need:]

		case TagRef:
			need := 2 + 8
			if len(d.buf) < need {
				return nil
			}
			h := binary.BigEndian.Uint64(d.buf[2:need])
			seg, ok := d.cache.Lookup(h)
			if !ok {
				d.pending[h] = struct{}{}
				return nil
			}
			if _, err := d.out.Write(seg); err != nil {
				return err
			}
			d.buf = d.buf[need:]

		default:
			return fmt.Errorf("xcodec: unknown opcode tag 0x%02x", d.buf[1])
		}
	}
	return nil
}
