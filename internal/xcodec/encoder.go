// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package xcodec implements the XCodec dedup engine: an Encoder that
// turns a byte stream into a stream of ESCAPE/EXTRACT/REF opcodes
// against a shared Cache, and a Decoder that inverts it.
package xcodec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/wanproxy-xtech/wanproxy/internal/rollhash"
)

// Encoder streams bytes written to it into an opcode stream written to
// an underlying io.Writer (typically the pipe framer's FRAME buffer).
// It is not safe for concurrent use; one Encoder exists per direction
// per connection.
type Encoder struct {
	cache Cache
	magic byte
	out   io.Writer

	buf          []byte
	pos          int // bytes of buf already fed into hash
	literalStart int // first byte of buf not yet written to out

	hash         rollhash.Hash
	hasCandidate bool
	candOffset   int
}

// NewEncoder creates an Encoder writing opcodes to out and consulting
// cache for segment declarations and matches. magic is the wire magic
// byte; pass DefaultMagic unless the deployment configured an
// override.
func NewEncoder(out io.Writer, cache Cache, magic byte) *Encoder {
	return &Encoder{cache: cache, magic: magic, out: out}
}

// Write buffers p and emits whatever opcodes can be determined without
// seeing further input. It never returns a short write: either all of
// p is consumed or an error is returned.
func (e *Encoder) Write(p []byte) (int, error) {
	e.buf = append(e.buf, p...)
	if err := e.process(false); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush declares any held candidate and emits all remaining buffered
// bytes as escaped literals.
func (e *Encoder) Flush() error {
	return e.process(true)
}

func (e *Encoder) process(final bool) error {
	for e.pos < len(e.buf) {
		b := e.buf[e.pos]
		if !e.hash.Full() {
			e.hash.Add(b)
		} else {
			e.hash.Roll(b)
		}
		e.pos++

		if !e.hash.Full() {
			continue
		}

		windowStart := e.pos - rollhash.Window

		// Step 2: a held candidate that ends at or before this window's
		// start must be declared now, before we can act on this window.
		if e.hasCandidate && e.candOffset+rollhash.Window <= windowStart {
			if err := e.declareCandidate(); err != nil {
				return err
			}
		}

		h := e.hash.Mix()
		if seg, ok := e.cache.Lookup(h); ok {
			window := e.buf[windowStart:e.pos]
			if bytes.Equal(seg, window) {
				if err := e.emitRef(h, windowStart); err != nil {
					return err
				}
				continue
			}
			// Collision: a different segment hashes the same; ignore
			// and keep rolling.
			continue
		}

		if !e.hasCandidate {
			e.hasCandidate = true
			e.candOffset = windowStart
		}
	}

	if final {
		if e.hasCandidate {
			if err := e.declareCandidate(); err != nil {
				return err
			}
		}
		if e.literalStart < len(e.buf) {
			if err := e.writeLiteral(e.buf[e.literalStart:]); err != nil {
				return err
			}
			e.literalStart = len(e.buf)
		}
	}

	e.truncate()
	return nil
}

// declareCandidate emits the literal run preceding the held candidate,
// then an EXTRACT opcode for it, and inserts it into the cache.
func (e *Encoder) declareCandidate() error {
	seg := append([]byte(nil), e.buf[e.candOffset:e.candOffset+rollhash.Window]...)

	if err := e.writeLiteral(e.buf[e.literalStart:e.candOffset]); err != nil {
		return err
	}

	h := rollhash.MixBytes(seg)
	if err := e.cache.Insert(h, seg); err != nil {
		return fmt.Errorf("xcodec: encoder inserting declared segment: %w", err)
	}

	if _, err := e.out.Write([]byte{e.magic, TagExtract}); err != nil {
		return err
	}
	if _, err := e.out.Write(seg); err != nil {
		return err
	}

	e.literalStart = e.candOffset + rollhash.Window
	e.hasCandidate = false
	return nil
}

// emitRef flushes the literal run before the matched window, emits
// REF(h), and resets rolling-hash state to start fresh past the
// window.
func (e *Encoder) emitRef(h uint64, windowStart int) error {
	if err := e.writeLiteral(e.buf[e.literalStart:windowStart]); err != nil {
		return err
	}

	if _, err := e.out.Write([]byte{e.magic, TagRef}); err != nil {
		return err
	}
	var hb [8]byte
	binary.BigEndian.PutUint64(hb[:], h)
	if _, err := e.out.Write(hb[:]); err != nil {
		return err
	}

	e.buf = e.buf[e.pos:]
	e.pos = 0
	e.literalStart = 0
	e.hasCandidate = false
	e.hash.Reset()
	return nil
}

// writeLiteral emits data as escaped literal bytes: every occurrence
// of the magic byte becomes magic,TagEscape; everything else passes
// through untouched.
func (e *Encoder) writeLiteral(data []byte) error {
	for {
		idx := bytes.IndexByte(data, e.magic)
		if idx < 0 {
			if len(data) > 0 {
				if _, err := e.out.Write(data); err != nil {
					return err
				}
			}
			return nil
		}
		if idx > 0 {
			if _, err := e.out.Write(data[:idx]); err != nil {
				return err
			}
		}
		if _, err := e.out.Write([]byte{e.magic, TagEscape}); err != nil {
			return err
		}
		data = data[idx+1:]
	}
}

// truncate drops the prefix of buf that has already been written out,
// keeping the buffer's growth bounded to the live candidate/window
// region rather than the whole stream.
func (e *Encoder) truncate() {
	drop := e.literalStart
	if e.hasCandidate && e.candOffset < drop {
		drop = e.candOffset
	}
	if drop <= 0 {
		return
	}
	e.buf = e.buf[drop:]
	e.pos -= drop
	e.literalStart -= drop
	if e.hasCandidate {
		e.candOffset -= drop
	}
}
