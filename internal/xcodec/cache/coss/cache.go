// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package coss

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	parentcache "github.com/wanproxy-xtech/wanproxy/internal/xcodec/cache"
)

// indexEntry locates a hash's segment within the file: which stripe,
// and which slot of that stripe.
type indexEntry struct {
	stripeIndex uint64
	position    int
}

// Cache is a persistent, bounded, evicting implementation of
// xcodec.Cache backed by one file per UUID. It is not safe for
// concurrent use: a single cache instance is owned by one reactor, and
// all operations on it are already serialized by that reactor.
type Cache struct {
	path     string
	file     *os.File
	fileSize int64

	serial      uint64
	freshness   uint64
	stripeLimit uint64

	directory []stripeMetadata
	resident  []*stripe
	active    int

	index   map[uint64]indexEntry
	recency *parentcache.RecencyWindow
}

// Open creates or reopens the COSS cache file for id inside dir,
// sized to approximately sizeMB megabytes (rounded up to a whole
// number of stripes). sizeMB <= 0 uses DefaultSizeMB.
func Open(dir string, id uuid.UUID, sizeMB int) (*Cache, error) {
	if sizeMB <= 0 {
		sizeMB = DefaultSizeMB
	}
	wantBytes := int64(sizeMB) * 1024 * 1024
	limit := uint64((wantBytes + stripeSize() - 1) / stripeSize())
	if limit < 1 {
		limit = 1
	}
	return openWithLimit(filepath.Join(dir, id.String()+".wpc"), limit)
}

// openWithLimit opens path with an explicit stripe-count limit and the
// default resident-stripe count, bypassing the megabyte-to-stripe-count
// rounding Open performs. Used directly by tests.
func openWithLimit(path string, limit uint64) (*Cache, error) {
	return openWithLimitAndResident(path, limit, ResidentStripes)
}

// openWithLimitAndResident additionally overrides how many stripes are
// held fully resident in memory at once, letting tests exercise
// detachStripe/bestUnloadableSlot eviction without needing to rotate
// through the default ResidentStripes count first.
func openWithLimitAndResident(path string, limit uint64, residentCount int) (*Cache, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("coss: opening cache file %s: %w", path, err)
	}

	st, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("coss: statting cache file %s: %w", path, err)
	}

	c := &Cache{
		path:        path,
		file:        file,
		fileSize:    st.Size(),
		stripeLimit: limit,
		directory:   make([]stripeMetadata, limit),
		resident:    make([]*stripe, residentCount),
		index:       make(map[uint64]indexEntry),
		recency:     parentcache.NewRecencyWindow(parentcache.DefaultRecencyCapacity),
	}

	if !c.recover() {
		if err := file.Truncate(0); err != nil {
			file.Close()
			return nil, fmt.Errorf("coss: truncating corrupt cache file %s: %w", path, err)
		}
		c.fileSize = 0
		c.directory = make([]stripeMetadata, limit)
		c.index = make(map[uint64]indexEntry)
		c.initStripe(0, 0)
		c.active = 0
	}

	return c, nil
}

// recover scans the file stripe by stripe, validating each header and
// building the hash index and directory. It stops at the first
// invalid or short header — everything from there on is treated as
// unwritten space available for reuse, rather than aborting recovery
// of the valid prefix (a deliberate relaxation of strict whole-file
// validation: a single corrupted stripe need not sacrifice the rest of
// the cache). Returns false if nothing usable was found at all.
func (c *Cache) recover() bool {
	wholeStripes := uint64(c.fileSize / stripeSize())
	if wholeStripes > c.stripeLimit {
		wholeStripes = c.stripeLimit
	}

	var bestSerial, bestIndex uint64
	found := false

	for n := uint64(0); n < wholeStripes; n++ {
		if _, err := c.file.Seek(int64(n)*stripeSize(), io.SeekStart); err != nil {
			break
		}
		var hdr stripe
		if err := hdr.readHeader(c.file); err != nil {
			break
		}
		if !hdr.valid() {
			break
		}
		hdr.meta.index = n
		c.directory[n] = hdr.meta

		if hdr.meta.serial > bestSerial {
			bestSerial = hdr.meta.serial
			bestIndex = n
			found = true
		}
		if hdr.meta.freshness > c.freshness {
			c.freshness = hdr.meta.freshness
		}
		for i := 0; i < SegmentCount; i++ {
			if hdr.hashes[i] != 0 {
				c.index[hdr.hashes[i]] = indexEntry{stripeIndex: n, position: i}
			}
		}
	}

	if !found {
		return false
	}

	c.serial = bestSerial
	loaded, err := c.loadStripe(bestIndex, 0)
	if err != nil || !loaded {
		return false
	}
	c.active = 0
	return true
}

// Lookup implements xcodec.Cache.
func (c *Cache) Lookup(hash uint64) ([]byte, bool) {
	if seg, ok := c.recency.Lookup(hash); ok {
		return seg, true
	}

	entry, ok := c.index[hash]
	if !ok {
		return nil, false
	}

	slot := c.residentSlotOf(entry.stripeIndex)
	if slot < 0 {
		var err error
		slot = c.bestUnloadableSlot()
		if err = c.detachStripe(slot); err != nil {
			return nil, false
		}
		loaded, err := c.loadStripe(entry.stripeIndex, slot)
		if err != nil || !loaded {
			return nil, false
		}
	}

	st := c.resident[slot]
	if entry.position >= SegmentCount || st.hashes[entry.position] != hash {
		return nil, false
	}

	st.meta.freshness = c.nextFreshness()
	st.meta.uses++
	st.meta.credits++
	st.meta.loadUses++
	st.flags[entry.position] |= flagUsedSincePurge

	data := st.segments[entry.position]
	if data == nil {
		return nil, false
	}
	c.recency.Touch(hash, data)
	return data, true
}

// Insert implements xcodec.Cache. A hash already mapped to different
// bytes is a collision error; mapped to identical bytes, it is a
// no-op, matching the memory cache's semantics.
func (c *Cache) Insert(hash uint64, segment []byte) error {
	if existing, ok := c.Lookup(hash); ok {
		if !bytes.Equal(existing, segment) {
			return fmt.Errorf("coss: collision for hash %016x: existing segment differs", hash)
		}
		return nil
	}

	for c.resident[c.active].meta.segmentIndex >= SegmentCount {
		if err := c.newActive(); err != nil {
			return fmt.Errorf("coss: rotating active stripe: %w", err)
		}
	}

	act := c.resident[c.active]
	idx := act.meta.segmentIndex
	act.hashes[idx] = hash
	cp := append([]byte(nil), segment...)
	act.segments[idx] = cp
	act.flags[idx] = 0

	entry := indexEntry{stripeIndex: act.meta.index, position: int(idx)}

	act.meta.segmentIndex++
	for act.meta.segmentIndex < SegmentCount && act.hashes[act.meta.segmentIndex] != 0 {
		act.meta.segmentIndex++
	}
	act.meta.segmentCount++
	act.meta.freshness = c.nextFreshness()

	c.index[hash] = entry
	return nil
}

// Close flushes every resident stripe and closes the file.
func (c *Cache) Close() error {
	for slot := 0; slot < len(c.resident); slot++ {
		st := c.resident[slot]
		if st == nil || st.state != stateResident {
			continue
		}
		if err := c.storeStripe(slot, true); err != nil {
			return err
		}
	}
	return c.file.Close()
}

func (c *Cache) nextFreshness() uint64 {
	c.freshness++
	return c.freshness
}

func (c *Cache) nextSerial() uint64 {
	c.serial++
	return c.serial
}

func (c *Cache) residentSlotOf(stripeIndex uint64) int {
	for i, st := range c.resident {
		if st != nil && st.state == stateResident && st.meta.index == stripeIndex {
			return i
		}
	}
	return -1
}

// newActive is called once the active stripe fills: it persists the
// full stripe, evicts the least useful other resident slot to make
// room, and installs either the on-disk stripe chosen by
// bestErasableStripe or a fresh one as the new active stripe.
func (c *Cache) newActive() error {
	if err := c.storeStripe(c.active, true); err != nil {
		return err
	}

	slot := c.bestUnloadableSlot()
	if err := c.detachStripe(slot); err != nil {
		return err
	}
	c.active = slot

	rangeIdx := c.bestErasableStripe()
	loaded, err := c.loadStripe(rangeIdx, slot)
	if err != nil {
		return err
	}
	if loaded {
		c.purgeStripe(slot)
	} else {
		c.initStripe(rangeIdx, slot)
	}
	return nil
}

// bestUnloadableSlot picks a non-active resident slot to reclaim: an
// empty slot first, otherwise the one with the smallest
// freshness+loadUses score.
func (c *Cache) bestUnloadableSlot() int {
	best := -1
	var bestScore uint64
	for i, st := range c.resident {
		if i == c.active {
			continue
		}
		if st == nil || st.state == stateEmpty {
			return i
		}
		score := st.meta.freshness + uint64(st.meta.loadUses)
		if best < 0 || score < bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		// ResidentStripes must be > 1 for this branch to be
		// unreachable; guard anyway rather than panic.
		return 0
	}
	return best
}

// bestErasableStripe picks which on-disk stripe index to reuse: a
// never-written one first, otherwise the non-resident one with the
// smallest freshness+uses score.
func (c *Cache) bestErasableStripe() uint64 {
	var best uint64
	var bestScore uint64
	found := false
	for i := uint64(0); i < c.stripeLimit; i++ {
		m := c.directory[i]
		if stripeState(m.state) == stateResident {
			continue
		}
		if m.signature == 0 {
			return i
		}
		score := m.freshness + m.uses
		if !found || score < bestScore {
			best, bestScore, found = i, score, true
		}
	}
	return best
}

// detachStripe flushes a resident slot's header to disk (if it holds
// one) and frees it for reuse, invalidating any recency-window entries
// pointing at its segments.
func (c *Cache) detachStripe(slot int) error {
	st := c.resident[slot]
	if st == nil || st.state != stateResident {
		return nil
	}

	idx := st.meta.index
	c.directory[idx] = st.meta
	c.directory[idx].state = uint32(stateDetached)

	for i := 0; i < SegmentCount; i++ {
		if st.hashes[i] != 0 {
			c.recency.Invalidate(st.hashes[i])
		}
	}

	if err := c.storeStripe(slot, false); err != nil {
		return err
	}
	c.resident[slot] = nil
	return nil
}

// loadStripe reads stripe rangeIdx's full contents (header + segments)
// from disk into resident slot. Returns loaded=false, err=nil when
// rangeIdx has never been written (beyond the current file size) —
// the caller must then initStripe instead.
func (c *Cache) loadStripe(rangeIdx uint64, slot int) (bool, error) {
	pos := int64(rangeIdx) * stripeSize()
	if pos+stripeSize() > c.fileSize {
		return false, nil
	}
	if _, err := c.file.Seek(pos, io.SeekStart); err != nil {
		return false, fmt.Errorf("coss: seeking to stripe %d: %w", rangeIdx, err)
	}

	st := &stripe{}
	if err := st.readHeader(c.file); err != nil {
		return false, nil
	}
	if !st.valid() {
		return false, nil
	}
	if err := st.readSegments(c.file); err != nil {
		return false, nil
	}
	st.meta.index = rangeIdx
	st.meta.loadUses = 0
	st.state = stateResident

	c.resident[slot] = st
	c.directory[rangeIdx] = st.meta
	c.directory[rangeIdx].state = uint32(stateResident)
	return true, nil
}

// initStripe installs a brand-new, empty stripe for file index
// rangeIdx into slot, stamped with a fresh serial number.
func (c *Cache) initStripe(rangeIdx uint64, slot int) {
	st := &stripe{}
	st.reset(rangeIdx, c.nextSerial())
	c.resident[slot] = st
	c.directory[rangeIdx] = st.meta
	c.directory[rangeIdx].state = uint32(stateResident)
}

// storeStripe writes a resident slot's header (and, if full, its
// segment array) to its stripe's file offset.
func (c *Cache) storeStripe(slot int, full bool) error {
	st := c.resident[slot]
	if st == nil {
		return nil
	}
	pos := int64(st.meta.index) * stripeSize()
	if _, err := c.file.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("coss: seeking to stripe %d: %w", st.meta.index, err)
	}
	if err := st.writeHeader(c.file); err != nil {
		return err
	}
	end := pos + headerSize()
	if full {
		if err := st.writeSegments(c.file); err != nil {
			return err
		}
		end = pos + stripeSize()
	}
	if end > c.fileSize {
		c.fileSize = end
	}
	return nil
}

// purgeStripe drops every segment not touched since the stripe's
// previous purge pass, compacts the next-free-slot pointer, and
// stamps the stripe with a new serial number.
func (c *Cache) purgeStripe(slot int) {
	st := c.resident[slot]
	for i := SegmentCount - 1; i >= 0; i-- {
		hash := st.hashes[i]
		if hash != 0 && st.flags[i]&flagUsedSincePurge == 0 {
			delete(c.index, hash)
			st.hashes[i] = 0
			st.segments[i] = nil
			st.flags[i] = 0
			st.meta.segmentCount--
		}
		st.flags[i] &^= flagUsedSincePurge
		if st.hashes[i] == 0 {
			st.meta.segmentIndex = uint32(i)
		}
	}
	st.meta.serial = c.nextSerial()
	st.meta.uses = st.meta.credits
	st.meta.credits = 0
}
