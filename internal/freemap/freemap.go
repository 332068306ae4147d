// Package freemap implements the persistent sector-allocation bitmap of
// spec.md §4.2: a bitmap whose 1-bits mark free sectors, persisted directly
// in a fixed run of raw sectors reserved at format time. No on-disk inode
// describes the bitmap. It is also reused (over an
// independent in-memory bitmap) by internal/swap for the swap device's
// slot bitmap.
package freemap

import (
	"fmt"
	"sync"

	"github.com/pintoskernel/pintosfs/internal/blockdev"
	"github.com/pintoskernel/pintosfs/internal/buffercache"
)

// FreeMap is a bitmap-backed allocator over a fixed range of indices
// (sectors, or swap slots). 1 means free, 0 means allocated.
type FreeMap struct {
	mu          sync.Mutex
	cache       *buffercache.Cache // nil for a pure in-memory bitmap (swap)
	dataSectors []uint32           // sectors holding the bitmap, in order; empty if in-memory only
	bits        []byte             // 1 bit per index, LSB-first within each byte
	n           uint32             // number of indices tracked
}

func bytesForBits(n uint32) int { return int((n + 7) / 8) }

// NewInMemory creates a bitmap over n indices with every index free. Used
// by internal/swap, which does not persist its bitmap to the block device.
func NewInMemory(n uint32) *FreeMap {
	return &FreeMap{bits: make([]byte, bytesForBits(n)), n: n}
}

// Format initializes a new on-disk bitmap over n indices, persisted through
// cache across dataSectors (which the caller has already reserved — the
// bitmap cannot allocate its own backing sectors, since it is the
// allocator; the bits are written straight into those sectors). reserved
// lists indices that must start out allocated (for mkfs: sectors 0, 1 and
// 2, and dataSectors themselves).
func Format(cache *buffercache.Cache, n uint32, dataSectors []uint32, reserved []uint32) (*FreeMap, error) {
	need := bytesForBits(n)
	if need > len(dataSectors)*blockdev.SectorSize {
		return nil, fmt.Errorf("freemap.Format: %d sectors insufficient for %d-bit bitmap", len(dataSectors), n)
	}
	fm := &FreeMap{cache: cache, dataSectors: dataSectors, bits: make([]byte, need), n: n}
	for i := range fm.bits {
		fm.bits[i] = 0xFF // everything free initially
	}
	for _, idx := range reserved {
		fm.markLocked(idx, false)
	}
	if err := fm.persistAll(); err != nil {
		return nil, err
	}
	return fm, nil
}

// Open loads an existing on-disk bitmap given the sectors that hold it.
func Open(cache *buffercache.Cache, n uint32, dataSectors []uint32) (*FreeMap, error) {
	fm := &FreeMap{cache: cache, dataSectors: dataSectors, bits: make([]byte, bytesForBits(n)), n: n}
	remaining := len(fm.bits)
	off := 0
	for _, sec := range dataSectors {
		if remaining <= 0 {
			break
		}
		chunk := blockdev.SectorSize
		if chunk > remaining {
			chunk = remaining
		}
		if err := cache.Read(sec, fm.bits, off, chunk, 0); err != nil {
			return nil, fmt.Errorf("freemap.Open: %w", err)
		}
		off += chunk
		remaining -= chunk
	}
	return fm, nil
}

func (fm *FreeMap) bitLocked(idx uint32) bool {
	return fm.bits[idx/8]&(1<<(idx%8)) != 0
}

func (fm *FreeMap) markLocked(idx uint32, free bool) {
	if free {
		fm.bits[idx/8] |= 1 << (idx % 8)
	} else {
		fm.bits[idx/8] &^= 1 << (idx % 8)
	}
}

// persistByte writes the bitmap byte containing idx through the cache, if
// this bitmap is disk-backed.
func (fm *FreeMap) persistByte(idx uint32) error {
	if fm.cache == nil {
		return nil
	}
	byteIdx := int(idx / 8)
	sectorIdx := byteIdx / blockdev.SectorSize
	if sectorIdx >= len(fm.dataSectors) {
		return fmt.Errorf("freemap: bit %d outside persisted range", idx)
	}
	off := byteIdx % blockdev.SectorSize
	return fm.cache.Write(fm.dataSectors[sectorIdx], fm.bits, byteIdx, 1, off)
}

func (fm *FreeMap) persistAll() error {
	if fm.cache == nil {
		return nil
	}
	off := 0
	remaining := len(fm.bits)
	for _, sec := range fm.dataSectors {
		if remaining <= 0 {
			break
		}
		chunk := blockdev.SectorSize
		if chunk > remaining {
			chunk = remaining
		}
		if err := fm.cache.Write(sec, fm.bits, off, chunk, 0); err != nil {
			return fmt.Errorf("freemap: persist: %w", err)
		}
		off += chunk
		remaining -= chunk
	}
	return nil
}

// Allocate finds n contiguous free indices, marks them allocated, and
// returns the starting index. ok is false if no such run exists (the
// allocation-exhaustion error kind of spec.md §7).
func (fm *FreeMap) Allocate(n uint32) (start uint32, ok bool) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	run := uint32(0)
	for i := uint32(0); i < fm.n; i++ {
		if fm.bitLocked(i) {
			run++
			if run == n {
				s := i - n + 1
				for j := s; j <= i; j++ {
					fm.markLocked(j, false)
					_ = fm.persistByte(j)
				}
				return s, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

// Release marks n indices starting at start as free again.
func (fm *FreeMap) Release(start, n uint32) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	for j := start; j < start+n; j++ {
		fm.markLocked(j, true)
		_ = fm.persistByte(j)
	}
}

// InUse reports whether idx is currently allocated (1-n exclusive helpers
// used by tests and by internal/swap to assert a slot is allocated before
// swap_in).
func (fm *FreeMap) InUse(idx uint32) bool {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return !fm.bitLocked(idx)
}
