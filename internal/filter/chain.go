// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package filter

// Chain is an ordered sequence of Filters wired head-to-tail via
// Chain(next). Data enters at the head's Consume and exits wherever
// the tail's Produce sends it (typically a Sink).
type Chain struct {
	nodes []Filter
}

// NewChain builds a Chain from filters in order, wiring each one's
// Chain(next) to the one that follows it.
func NewChain(filters ...Filter) *Chain {
	c := &Chain{}
	for _, f := range filters {
		c.Append(f)
	}
	return c
}

// Append adds f to the tail of the chain, wiring the previous tail's
// Chain(next) to it.
func (c *Chain) Append(f Filter) {
	if len(c.nodes) > 0 {
		c.nodes[len(c.nodes)-1].Chain(f)
	}
	c.nodes = append(c.nodes, f)
}

// Prepend adds f to the head of the chain, wiring it to the previous
// head.
func (c *Chain) Prepend(f Filter) {
	if len(c.nodes) > 0 {
		f.Chain(c.nodes[0])
	}
	c.nodes = append([]Filter{f}, c.nodes...)
}

// Head returns the first filter in the chain, the one Consume is
// called on for data entering the pipeline. Returns nil for an empty
// chain.
func (c *Chain) Head() Filter {
	if len(c.nodes) == 0 {
		return nil
	}
	return c.nodes[0]
}

// Consume feeds buf into the head of the chain.
func (c *Chain) Consume(buf []byte, flags int) error {
	if h := c.Head(); h != nil {
		return h.Consume(buf, flags)
	}
	return nil
}

// Flush begins end-of-input propagation from the head of the chain.
func (c *Chain) Flush(flags int) error {
	if h := c.Head(); h != nil {
		return h.Flush(flags)
	}
	return nil
}
