// Package blockdev defines the synchronous sector device seam the buffer
// cache, free-sector map, and swap manager are all built on, the way the
// teacher's gcs/gcs.go + gcs/bucket.go narrow an entire storage backend
// down to the handful of methods callers actually need.
package blockdev

import (
	"fmt"
	"os"
	"sync"
)

// SectorSize is fixed at 512 bytes, matching spec.md's Sector definition.
const SectorSize = 512

// Device is a synchronous, total-failure block device: I/O either succeeds
// or the process cannot continue (spec.md §4.1, "Failure semantics: device
// I/O is assumed total"). It is the seam between the filesystem/VM logic in
// this module and whatever actually backs it — a file, or an in-memory
// fake for tests.
type Device interface {
	// ReadSector reads exactly SectorSize bytes from sector number s into
	// dst, which must be at least SectorSize bytes long.
	ReadSector(s uint32, dst []byte) error
	// WriteSector writes exactly SectorSize bytes from src (which must be
	// at least SectorSize bytes long) to sector number s.
	WriteSector(s uint32, src []byte) error
	// Sectors reports the capacity of the device in sectors.
	Sectors() uint32
}

// FileDevice backs a Device with a regular file, which OpenFile extends up
// front to the full requested capacity.
type FileDevice struct {
	mu   sync.Mutex
	f    *os.File
	size uint32 // capacity in sectors, tracked to satisfy Sectors() cheaply
}

// OpenFile opens (creating if necessary) path as a FileDevice with an
// initial capacity of sectors sectors.
func OpenFile(path string, sectors uint32) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blockdev.OpenFile: %w", err)
	}
	want := int64(sectors) * SectorSize
	if fi, err := f.Stat(); err == nil && fi.Size() < want {
		if err := f.Truncate(want); err != nil {
			f.Close()
			return nil, fmt.Errorf("blockdev.OpenFile: truncate: %w", err)
		}
	}
	return &FileDevice{f: f, size: sectors}, nil
}

func (d *FileDevice) ReadSector(s uint32, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.f.ReadAt(dst[:SectorSize], int64(s)*SectorSize); err != nil {
		return fmt.Errorf("blockdev: read sector %d: %w", s, err)
	}
	return nil
}

func (d *FileDevice) WriteSector(s uint32, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.f.WriteAt(src[:SectorSize], int64(s)*SectorSize); err != nil {
		return fmt.Errorf("blockdev: write sector %d: %w", s, err)
	}
	return nil
}

func (d *FileDevice) Sectors() uint32 { return d.size }

func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}

// MemDevice is an in-memory Device, the standard test fixture (grounded on
// the teacher's storage/fake pattern of a swappable in-memory backend).
type MemDevice struct {
	mu   sync.Mutex
	data []byte
}

func NewMemDevice(sectors uint32) *MemDevice {
	return &MemDevice{data: make([]byte, int(sectors)*SectorSize)}
}

func (d *MemDevice) ReadSector(s uint32, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	off := int(s) * SectorSize
	if off+SectorSize > len(d.data) {
		return fmt.Errorf("blockdev: read sector %d out of range", s)
	}
	copy(dst[:SectorSize], d.data[off:off+SectorSize])
	return nil
}

func (d *MemDevice) WriteSector(s uint32, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	off := int(s) * SectorSize
	if off+SectorSize > len(d.data) {
		return fmt.Errorf("blockdev: write sector %d out of range", s)
	}
	copy(d.data[off:off+SectorSize], src[:SectorSize])
	return nil
}

func (d *MemDevice) Sectors() uint32 { return uint32(len(d.data) / SectorSize) }
