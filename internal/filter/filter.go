// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package filter implements the per-connection data pipeline: a chain
// of Filters (optional SSH decrypt, optional inflate, optional XCodec
// decode/encode, optional deflate, optional SSH encrypt) terminated by
// a socket sink (spec §4.6).
package filter

// Flag bits threaded through a chain's Consume/Produce and Flush
// calls. A filter may OR additional bits into what it propagates
// downstream; Produce and Flush have the same flags parameter for
// exactly this reason.
const (
	// FlagAlgorithmNegotiated marks a Flush that completes an
	// in-progress handshake (SSH key exchange). Reserved for a filter
	// that needs to signal negotiation completion down the chain;
	// none currently does, since sshfilter.Session exposes
	// Negotiated() as a direct method call instead.
	FlagAlgorithmNegotiated = 1 << iota
	// FlagEOSAck marks a Flush following a received EOS_ACK. Reserved;
	// no filter currently sets it; pipe.Session reports EOS completion
	// through its Closed() method instead of a flag.
	FlagEOSAck
	// FlagToBeContinued marks a Consume/Produce call that is part of
	// an HTTP body still draining past smallBodyThreshold: a
	// downstream consumer shouldn't block waiting on header-derived
	// resources for this chunk, since no header follows it yet. Set by
	// Count's httpSniffer.
	FlagToBeContinued
)

// Filter is one stage of a connection's data pipeline.
type Filter interface {
	// Consume ingests buf, flowing with flags describing the
	// triggering event (e.g. a half-close). A non-nil error is fatal
	// to the connection.
	Consume(buf []byte, flags int) error

	// Produce hands buf to the next filter in the chain. The default
	// implementation (embed Base) delegates to the chained recipient.
	Produce(buf []byte, flags int) error

	// Flush signals end of input: the filter must drain any internal
	// state, then propagate flush to its recipient, possibly with
	// additional flag bits.
	Flush(flags int) error

	// Chain sets the filter this one hands produced bytes and flushes
	// to.
	Chain(next Filter)
}

// Base implements the identity Filter: Consume delegates straight to
// Produce, Produce delegates to the chained recipient, and Flush
// propagates downstream. Concrete filters embed Base and override
// Consume (and, rarely, Flush).
type Base struct {
	recipient Filter
}

// Chain implements Filter.
func (b *Base) Chain(next Filter) {
	b.recipient = next
}

// Consume implements Filter as a pass-through; concrete filters
// override this.
func (b *Base) Consume(buf []byte, flags int) error {
	return b.Produce(buf, flags)
}

// Produce implements Filter.
func (b *Base) Produce(buf []byte, flags int) error {
	if b.recipient == nil {
		return nil
	}
	return b.recipient.Consume(buf, flags)
}

// Flush implements Filter.
func (b *Base) Flush(flags int) error {
	if b.recipient == nil {
		return nil
	}
	return b.recipient.Flush(flags)
}
