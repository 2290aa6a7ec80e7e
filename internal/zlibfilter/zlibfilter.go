// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package zlibfilter implements the optional compression stage of a
// connection's filter chain: Deflate compresses bytes flowing toward
// the peer proxy, Inflate decompresses bytes arriving from it.
package zlibfilter

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/wanproxy-xtech/wanproxy/internal/filter"
)

// Deflate compresses consumed bytes with DEFLATE at the configured
// level and produces the compressed stream downstream. Flush ends the
// stream with flate's sync marker so the peer's Inflate can recover
// everything written so far without waiting for the connection to
// close.
type Deflate struct {
	filter.Base
	w   *flate.Writer
	out bytes.Buffer
}

// NewDeflate creates a Deflate filter at the given compression level
// (flate.NoCompression..flate.BestCompression, or flate.DefaultCompression).
func NewDeflate(level int) (*Deflate, error) {
	d := &Deflate{}
	w, err := flate.NewWriter(&d.out, level)
	if err != nil {
		return nil, fmt.Errorf("zlibfilter: building deflate writer: %w", err)
	}
	d.w = w
	return d, nil
}

// Consume implements filter.Filter.
func (d *Deflate) Consume(buf []byte, flags int) error {
	if _, err := d.w.Write(buf); err != nil {
		return fmt.Errorf("zlibfilter: deflate: %w", err)
	}
	return d.drain(flags)
}

// Flush implements filter.Filter: it flushes any buffered compressed
// bytes and propagates flush downstream.
func (d *Deflate) Flush(flags int) error {
	if err := d.w.Flush(); err != nil {
		return fmt.Errorf("zlibfilter: deflate flush: %w", err)
	}
	if err := d.drain(flags); err != nil {
		return err
	}
	if err := d.w.Close(); err != nil {
		return fmt.Errorf("zlibfilter: deflate close: %w", err)
	}
	if err := d.drain(flags); err != nil {
		return err
	}
	return d.Base.Flush(flags)
}

func (d *Deflate) drain(flags int) error {
	if d.out.Len() == 0 {
		return nil
	}
	produced := append([]byte(nil), d.out.Bytes()...)
	d.out.Reset()
	return d.Produce(produced, flags)
}

// Inflate decompresses bytes consumed from upstream and produces the
// original bytes downstream. Because flate.Reader is not designed to
// resume after its source runs dry mid-stream, Inflate feeds it
// through an io.Pipe and drains it on a dedicated goroutine: Consume
// blocks on the pipe write until that goroutine has read and produced
// everything it can, giving natural backpressure without buffering
// the whole stream.
type Inflate struct {
	filter.Base
	pw   *io.PipeWriter
	done chan error
}

// NewInflate creates an Inflate filter.
func NewInflate() *Inflate {
	pr, pw := io.Pipe()
	i := &Inflate{pw: pw, done: make(chan error, 1)}
	go i.run(pr)
	return i
}

func (i *Inflate) run(pr *io.PipeReader) {
	zr := flate.NewReader(pr)
	buf := make([]byte, 32*1024)
	for {
		n, err := zr.Read(buf)
		if n > 0 {
			if perr := i.Produce(append([]byte(nil), buf[:n]...), 0); perr != nil {
				pr.CloseWithError(perr)
				i.done <- perr
				return
			}
		}
		if err == io.EOF {
			i.done <- nil
			return
		}
		if err != nil {
			pr.CloseWithError(err)
			i.done <- fmt.Errorf("zlibfilter: inflate: %w", err)
			return
		}
	}
}

// Consume implements filter.Filter.
func (i *Inflate) Consume(buf []byte, flags int) error {
	if _, err := i.pw.Write(buf); err != nil {
		return fmt.Errorf("zlibfilter: inflate write: %w", err)
	}
	return nil
}

// Flush implements filter.Filter: it closes the pipe (so the
// decompressor sees end-of-stream), waits for the drain goroutine to
// finish producing, and propagates flush downstream.
func (i *Inflate) Flush(flags int) error {
	if err := i.pw.Close(); err != nil {
		return fmt.Errorf("zlibfilter: inflate close: %w", err)
	}
	if err := <-i.done; err != nil {
		return err
	}
	return i.Base.Flush(flags)
}
