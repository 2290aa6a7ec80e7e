// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package proxy

import (
	"fmt"

	"github.com/wanproxy-xtech/wanproxy/internal/xcodec/cache"
	"github.com/wanproxy-xtech/wanproxy/internal/xcodec/cache/coss"
)

// CacheResolver implements pipe.CacheResolver against a shared
// Registry: it answers Find for a UUID this process already knows
// about, and Create for one it is seeing for the first time (a new
// peer's HELLO), backing new caches with COSS when CacheDir is set or
// with a plain in-memory cache otherwise.
type CacheResolver struct {
	Registry *cache.Registry
	CacheDir string
}

// NewCacheResolver builds a CacheResolver. cacheDir == "" keeps every
// resolved cache in memory only.
func NewCacheResolver(reg *cache.Registry, cacheDir string) *CacheResolver {
	return &CacheResolver{Registry: reg, CacheDir: cacheDir}
}

func (r *CacheResolver) Find(id string) (cache.Lookuper, error) {
	parsed, err := cache.ParseID(id)
	if err != nil {
		return nil, err
	}
	c, ok := r.Registry.Find(parsed)
	if !ok {
		return nil, fmt.Errorf("proxy: no cache registered for %s", id)
	}
	return c, nil
}

func (r *CacheResolver) Create(id string, nominalSize uint64) (cache.Lookuper, error) {
	parsed, err := cache.ParseID(id)
	if err != nil {
		return nil, err
	}

	var c cache.Lookuper
	if r.CacheDir != "" {
		sizeMB := int(nominalSize / (1024 * 1024))
		disk, err := coss.Open(r.CacheDir, parsed, sizeMB)
		if err != nil {
			return nil, fmt.Errorf("proxy: opening coss cache for peer %s: %w", id, err)
		}
		c = disk
	} else {
		c = cache.NewMemory()
	}

	r.Registry.Add(parsed, c)
	return c, nil
}
