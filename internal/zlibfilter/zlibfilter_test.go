// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package zlibfilter

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/wanproxy-xtech/wanproxy/internal/filter"
)

type recorder struct {
	filter.Base
	got []byte
}

func (r *recorder) Consume(buf []byte, flags int) error {
	r.got = append(r.got, buf...)
	return nil
}

func TestDeflateInflateRoundTrip(t *testing.T) {
	tail := &recorder{}
	inf := NewInflate()
	inf.Chain(tail)

	def, err := NewDeflate(flate.DefaultCompression)
	if err != nil {
		t.Fatalf("NewDeflate: %v", err)
	}
	def.Chain(inf)

	data := bytes.Repeat([]byte("compressible compressible compressible data "), 500)
	const chunk = 777
	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		if err := def.Consume(data[off:end], 0); err != nil {
			t.Fatalf("Consume: %v", err)
		}
	}
	if err := def.Flush(0); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if !bytes.Equal(tail.got, data) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(tail.got), len(data))
	}
}
