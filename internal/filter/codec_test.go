// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package filter

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/wanproxy-xtech/wanproxy/internal/pipe"
	"github.com/wanproxy-xtech/wanproxy/internal/xcodec"
	"github.com/wanproxy-xtech/wanproxy/internal/xcodec/cache"
)

type memResolver struct {
	reg *cache.Registry
}

func (r *memResolver) Find(id string) (cache.Lookuper, error) {
	parsed, err := cache.ParseID(id)
	if err != nil {
		return nil, err
	}
	c, ok := r.reg.Find(parsed)
	if !ok {
		return nil, fmt.Errorf("no cache for %s", id)
	}
	return c, nil
}

func (r *memResolver) Create(id string, nominalSize uint64) (cache.Lookuper, error) {
	parsed, err := cache.ParseID(id)
	if err != nil {
		return nil, err
	}
	c := cache.NewMemory()
	r.reg.Add(parsed, c)
	return c, nil
}

// bridgeFilter forwards whatever it consumes straight into another
// Chain's Consume/Flush, standing in for a real socket between two
// chains in tests.
type bridgeFilter struct {
	Base
	next *Chain
}

func (b *bridgeFilter) Consume(buf []byte, flags int) error {
	return b.next.Consume(buf, flags)
}

func (b *bridgeFilter) Flush(flags int) error {
	return b.next.Flush(flags)
}

// TestEncodeDecodeFiltersRoundTrip wires an Encode filter's produced
// bytes straight into a Decode filter's Consume (as if directly
// connected by a single wire, skipping inflate/SSH/sink) and checks
// the recovered bytes at the tail match the input fed at the head.
func TestEncodeDecodeFiltersRoundTrip(t *testing.T) {
	resolver := &memResolver{reg: cache.NewRegistry()}

	discard := &bytes.Buffer{}
	sA := pipe.NewSession(discard, discard, "11111111-1111-1111-1111-111111111111", 1<<20, cache.NewMemory(), resolver, xcodec.DefaultMagic, nil)
	sB := pipe.NewSession(discard, discard, "22222222-2222-2222-2222-222222222222", 1<<20, cache.NewMemory(), resolver, xcodec.DefaultMagic, nil)

	tail := &recorder{}
	decodeChain := NewChain(NewDecode(sB), tail)
	encodeChain := NewChain(NewEncode(sA), &bridgeFilter{next: decodeChain})

	if err := sA.SendHello(); err != nil {
		t.Fatalf("A SendHello: %v", err)
	}
	if err := sB.SendHello(); err != nil {
		t.Fatalf("B SendHello: %v", err)
	}

	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 50)
	if err := encodeChain.Consume(data, 0); err != nil {
		t.Fatalf("encode consume: %v", err)
	}
	if err := encodeChain.Flush(0); err != nil {
		t.Fatalf("encode flush: %v", err)
	}

	if got := tail.got; !bytes.Equal(got, data) {
		t.Fatalf("decoded %d bytes, want %d bytes matching input", len(got), len(data))
	}
}
