// Package swap implements the swap slot manager of spec.md §4.6: a bitmap
// over the swap device, swapping pages in/out in 8-sector (PageSize)
// slots. Grounded on original_source/src/vm/swap.c for the bitmap-and-
// lock-across-I/O discipline.
package swap

import (
	"fmt"
	"sync"

	"github.com/pintoskernel/pintosfs/internal/blockdev"
	"github.com/pintoskernel/pintosfs/internal/freemap"
	"github.com/pintoskernel/pintosfs/internal/metrics"
)

const (
	// SlotSectors is the number of sectors per swap slot (spec.md §4.6).
	SlotSectors = 8
	// SlotCount is the compiled-in swap capacity: 8192 slots * 8 sectors
	// * 512 bytes = 4 MiB (spec.md §6).
	SlotCount = 8192
	// PageSize is one swap slot in bytes, matching a virtual-memory page.
	PageSize = SlotSectors * blockdev.SectorSize
)

// ErrSwapFull is the allocation-exhaustion sentinel of spec.md §7.
var ErrSwapFull = fmt.Errorf("swap: device full")

// Manager is the process-wide swap slot allocator. All operations hold a
// single lock for the duration of the bitmap update and the device I/O,
// per spec.md §5 ("Global swap lock; held across each swap_in/swap_out").
type Manager struct {
	mu     sync.Mutex
	dev    blockdev.Device
	bitmap *freemap.FreeMap
}

// Init binds the swap device and creates the in-memory slot bitmap.
func Init(dev blockdev.Device) *Manager {
	return &Manager{dev: dev, bitmap: freemap.NewInMemory(SlotCount)}
}

// SwapOut writes PageSize bytes from kaddr to a freshly allocated slot and
// returns its index, or ErrSwapFull if no slot is free.
func (m *Manager) SwapOut(kaddr []byte) (slot uint32, err error) {
	if len(kaddr) < PageSize {
		return 0, fmt.Errorf("swap.SwapOut: page shorter than %d bytes", PageSize)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.bitmap.Allocate(1)
	if !ok {
		return 0, ErrSwapFull
	}
	for i := 0; i < SlotSectors; i++ {
		sec := slot*SlotSectors + uint32(i)
		if err := m.dev.WriteSector(sec, kaddr[i*blockdev.SectorSize:(i+1)*blockdev.SectorSize]); err != nil {
			m.bitmap.Release(slot, 1)
			return 0, fmt.Errorf("swap.SwapOut: %w", err)
		}
	}
	metrics.SwapSlotsInUse.Inc()
	return slot, nil
}

// SwapIn reads slot's PageSize bytes into kaddr and frees the slot. It is
// an error to call SwapIn on a slot that is not currently allocated.
func (m *Manager) SwapIn(slot uint32, kaddr []byte) error {
	if len(kaddr) < PageSize {
		return fmt.Errorf("swap.SwapIn: page shorter than %d bytes", PageSize)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.bitmap.InUse(slot) {
		return fmt.Errorf("swap.SwapIn: slot %d is not allocated", slot)
	}
	for i := 0; i < SlotSectors; i++ {
		sec := slot*SlotSectors + uint32(i)
		if err := m.dev.ReadSector(sec, kaddr[i*blockdev.SectorSize:(i+1)*blockdev.SectorSize]); err != nil {
			return fmt.Errorf("swap.SwapIn: %w", err)
		}
	}
	m.bitmap.Release(slot, 1)
	metrics.SwapSlotsInUse.Dec()
	return nil
}
