// Package buffercache implements the fixed-capacity, write-back, clock-
// replacement block cache described in spec.md §4.1: a small, fixed array
// of sector-sized entries sitting in front of a blockdev.Device, with
// second-chance (clock) eviction and deferred writes.
package buffercache

import (
	"fmt"
	"sync"

	"github.com/jacobsa/syncutil"

	"github.com/pintoskernel/pintosfs/internal/blockdev"
	"github.com/pintoskernel/pintosfs/internal/logger"
	"github.com/pintoskernel/pintosfs/internal/metrics"
)

// DefaultCapacity is the compiled-in entry count spec.md §4.1 fixes at 64.
// cfg may shrink it for tests; the clock algorithm is capacity-agnostic.
const DefaultCapacity = 64

// entry is one cache slot. Mu guards the data buffer during the actual
// copy; it is the per-entry lock spec.md §9 notes was "declared but
// unused" in the source and recommends either removing or using — this
// implementation uses it, nested inside the cache-wide mu that protects
// lookup, the clock hand, and the valid/sector bookkeeping. Eviction takes
// Mu on its victim before checking dirty and flushing, so it waits out any
// copy still in progress on that entry.
type entry struct {
	sector uint32
	valid  bool
	dirty  bool
	clock  bool
	Mu     syncutil.InvariantMutex
	data   [blockdev.SectorSize]byte
}

// Cache is the fixed-capacity write-back buffer cache. All exported methods
// are safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	dev     blockdev.Device
	entries []*entry
	hand    int
}

// New creates a Cache of the given capacity (spec.md default 64) over dev.
func New(dev blockdev.Device, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache{dev: dev, entries: make([]*entry, capacity)}
	for i := range c.entries {
		e := &entry{}
		e.Mu = syncutil.NewInvariantMutex(func() {})
		c.entries[i] = e
	}
	return c
}

// findLocked returns the entry holding sector, or nil. Caller holds c.mu.
func (c *Cache) findLocked(sector uint32) *entry {
	for _, e := range c.entries {
		if e.valid && e.sector == sector {
			return e
		}
	}
	return nil
}

// evictLocked selects a victim by the clock algorithm, flushes it if
// dirty, and returns it reserved (valid=false) and locked (e.Mu held) for
// the caller to populate. Caller holds c.mu.
func (c *Cache) evictLocked() (*entry, error) {
	n := len(c.entries)
	for {
		e := c.entries[c.hand]
		if !e.valid || !e.clock {
			c.hand = (c.hand + 1) % n
			e.Mu.Lock()
			if e.valid && e.dirty {
				metrics.CacheDirtyEvictions.Inc()
				if err := c.flushLocked(e); err != nil {
					e.Mu.Unlock()
					return nil, err
				}
			}
			e.valid = false
			e.clock = false
			return e, nil
		}
		e.clock = false
		c.hand = (c.hand + 1) % n
	}
}

// flushLocked writes e back to the device if valid and dirty. Caller holds
// c.mu and, conventionally, e.Mu.
func (c *Cache) flushLocked(e *entry) error {
	if !e.valid || !e.dirty {
		return nil
	}
	if err := c.dev.WriteSector(e.sector, e.data[:]); err != nil {
		return fmt.Errorf("buffercache: flush sector %d: %w", e.sector, err)
	}
	e.dirty = false
	return nil
}

// getLocked returns the entry for sector, loading it on a miss. Caller
// holds c.mu for the duration; the entry's own lock is acquired before
// c.mu is released so a concurrent eviction can never repurpose it mid-copy.
func (c *Cache) getLocked(sector uint32, forWrite bool, fullOverwrite bool) (*entry, error) {
	if e := c.findLocked(sector); e != nil {
		e.clock = true
		metrics.CacheHits.Inc()
		e.Mu.Lock()
		return e, nil
	}

	metrics.CacheMisses.Inc()
	e, err := c.evictLocked()
	if err != nil {
		return nil, err
	}

	// §9 optimization: a write covering the whole sector need not read the
	// old contents first.
	if !(forWrite && fullOverwrite) {
		if err := c.dev.ReadSector(sector, e.data[:]); err != nil {
			e.Mu.Unlock()
			return nil, fmt.Errorf("buffercache: load sector %d: %w", sector, err)
		}
	}
	e.sector = sector
	e.valid = true
	e.clock = true
	e.dirty = false
	return e, nil
}

// Read copies chunk bytes from offset sectorOff of the cached sector into
// dst[dstOff:].
func (c *Cache) Read(sector uint32, dst []byte, dstOff, chunk, sectorOff int) error {
	c.mu.Lock()
	e, err := c.getLocked(sector, false, false)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	defer e.Mu.Unlock()
	copy(dst[dstOff:dstOff+chunk], e.data[sectorOff:sectorOff+chunk])
	return nil
}

// Write copies chunk bytes from src[srcOff:] into offset sectorOff of the
// cached sector and marks it dirty.
func (c *Cache) Write(sector uint32, src []byte, srcOff, chunk, sectorOff int) error {
	fullOverwrite := sectorOff == 0 && chunk == blockdev.SectorSize
	c.mu.Lock()
	e, err := c.getLocked(sector, true, fullOverwrite)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	defer e.Mu.Unlock()
	copy(e.data[sectorOff:sectorOff+chunk], src[srcOff:srcOff+chunk])
	e.dirty = true
	return nil
}

// FlushAll writes every dirty entry back to the device.
func (c *Cache) FlushAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		e.Mu.Lock()
		err := c.flushLocked(e)
		e.Mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// Terminate flushes every entry and releases the cache. The Cache must not
// be used afterward.
func (c *Cache) Terminate() error {
	if err := c.FlushAll(); err != nil {
		return err
	}
	logger.Debugf("buffercache: terminated after flushing %d entries", len(c.entries))
	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()
	return nil
}
