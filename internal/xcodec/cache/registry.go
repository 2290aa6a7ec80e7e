// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package cache

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Registry maps a UUID to the xcodec.Cache instance it identifies,
// shared by every connection in one proxy process: a dictionary is
// named by UUID so both peers of a proxy pair can agree they are
// talking about the same cache without exchanging its full contents.
// Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	caches map[uuid.UUID]Lookuper
}

// Lookuper is the subset of xcodec.Cache the registry needs to expose
// callers of Find; accepting the narrower interface here avoids an
// import cycle back to the xcodec package.
type Lookuper interface {
	Lookup(hash uint64) ([]byte, bool)
	Insert(hash uint64, segment []byte) error
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{caches: make(map[uuid.UUID]Lookuper)}
}

// Add registers cache under id, replacing any existing entry for id.
func (r *Registry) Add(id uuid.UUID, c Lookuper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caches[id] = c
}

// AddNew generates a fresh random UUID, registers cache under it, and
// returns the new id. Used when a side of the proxy creates a cache
// that did not previously exist (e.g. the first connection of a new
// local_size configuration).
func (r *Registry) AddNew(c Lookuper) uuid.UUID {
	id := uuid.New()
	r.Add(id, c)
	return id
}

// Find returns the cache registered under id, or false if no cache has
// that id. The caller must then either reject the HELLO or fall back
// to a per-connection memory cache, depending on configuration.
func (r *Registry) Find(id uuid.UUID) (Lookuper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caches[id]
	return c, ok
}

// ParseID parses the canonical 8-4-4-4-12 hex-and-hyphen form (36
// bytes) used on the wire and in configuration files.
func ParseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("cache: parsing registry id %q: %w", s, err)
	}
	return id, nil
}

// Remove deregisters id, if present. Does not close or otherwise touch
// the underlying cache; callers that need to release resources (e.g.
// coss.Cache's open file) must do so themselves first.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.caches, id)
}
