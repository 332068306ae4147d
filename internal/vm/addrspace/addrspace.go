// Package addrspace implements spec.md §4.8 and §4.9: the per-task map
// from page-aligned virtual address to page descriptor, page (de)allocation
// through the frame table, file-backed page loading, and the mmap record
// registry. Grounded on original_source/src/vm/page.c (insert/find/delete/
// destroy, load_file) and src/vm/mmap.c-equivalent logic folded into
// process.c (the mmap/munmap pair), with fd-to-inode resolution left to the
// syscall boundary per spec.md §1's external-collaborator scoping.
package addrspace

import (
	"fmt"
	"sync"

	"github.com/pintoskernel/pintosfs/internal/inode"
	"github.com/pintoskernel/pintosfs/internal/logger"
	"github.com/pintoskernel/pintosfs/internal/vm"
	"github.com/pintoskernel/pintosfs/internal/vm/frame"
)

// PageSize matches the swap slot size and the syscall boundary's alignment
// checks (spec.md §6/§4.6).
const PageSize = frame.PageSize

// ErrAlreadyMapped is insert_vme's failure mode (spec.md §4.8).
var ErrAlreadyMapped = fmt.Errorf("addrspace: a page descriptor already exists at this address")

// MMapRecord tracks one mmap() call: the mapped file handle and the page
// descriptors it owns, so munmap can write back and tear them down as a
// unit (spec.md §4.9).
type MMapRecord struct {
	ID      int
	Sector  uint32
	FileOI  *inode.OpenInode
	VAddrs  []uint32
}

// AddressSpace is the per-task owner of every page descriptor and mmap
// record. One exists per running task; it is the owning side of the
// frame<->VME back-pointer documented in vm.Frame.
type AddressSpace struct {
	mu sync.Mutex

	taskID string
	vmes   map[uint32]*vm.VME
	mmaps  map[int]*MMapRecord
	nextID int

	frames *frame.Table
	store  *inode.Store
}

func New(taskID string, frames *frame.Table, store *inode.Store) *AddressSpace {
	return &AddressSpace{
		taskID: taskID,
		vmes:   make(map[uint32]*vm.VME),
		mmaps:  make(map[int]*MMapRecord),
		frames: frames,
		store:  store,
	}
}

func pageRound(addr uint32) uint32 {
	return addr &^ (PageSize - 1)
}

// InsertVME installs v at its page-aligned address, failing if a
// descriptor is already present there.
func (as *AddressSpace) InsertVME(v *vm.VME) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	page := pageRound(v.VAddr)
	if _, exists := as.vmes[page]; exists {
		return ErrAlreadyMapped
	}
	as.vmes[page] = v
	return nil
}

// FindVME rounds addr down to its page and returns the descriptor there,
// or nil if absent.
func (as *AddressSpace) FindVME(addr uint32) *vm.VME {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.vmes[pageRound(addr)]
}

// DeleteVME removes v's descriptor from the map without freeing its frame;
// callers that also need the frame released call FreePage first.
func (as *AddressSpace) DeleteVME(v *vm.VME) {
	as.mu.Lock()
	defer as.mu.Unlock()
	delete(as.vmes, pageRound(v.VAddr))
}

// Destroy frees every descriptor's frame (if loaded) and clears the map,
// per spec.md §4.8's destroy(map).
func (as *AddressSpace) Destroy() {
	as.mu.Lock()
	entries := make([]*vm.VME, 0, len(as.vmes))
	for _, v := range as.vmes {
		entries = append(entries, v)
	}
	as.vmes = make(map[uint32]*vm.VME)
	as.mu.Unlock()

	for _, v := range entries {
		v.Lock()
		loaded := v.IsLoaded
		vaddr := v.VAddr
		v.Unlock()
		if loaded {
			if f := as.frames.Lookup(as.taskID, vaddr); f != nil {
				as.frames.FreePage(f)
			}
		}
	}
}

// LoadFile implements spec.md §4.8's load_file: read_bytes from
// (vme.File, vme.Offset) into kaddr, zero the remaining zero_bytes. Returns
// false on a short read.
func (as *AddressSpace) LoadFile(kaddr []byte, v *vm.VME) (bool, error) {
	if v.File == nil {
		return false, fmt.Errorf("addrspace.LoadFile: descriptor at %#x has no file backing", v.VAddr)
	}
	oi, err := as.store.Open(v.File.Sector)
	if err != nil {
		return false, fmt.Errorf("addrspace.LoadFile: %w", err)
	}
	defer as.store.Close(oi)

	n, err := as.store.ReadAt(oi, kaddr, v.ReadBytes, v.Offset)
	if err != nil {
		return false, fmt.Errorf("addrspace.LoadFile: %w", err)
	}
	for i := n; i < v.ReadBytes+v.ZeroBytes && i < len(kaddr); i++ {
		kaddr[i] = 0
	}
	return n == v.ReadBytes, nil
}

// AllocPage allocates a frame for vaddr through the frame table, reclaiming
// under memory pressure (spec.md §4.8's alloc_page). The caller must attach
// the returned frame's VME via AttachVME before any reclaim pass can
// legally observe it.
func (as *AddressSpace) AllocPage(vaddr uint32) (*vm.Frame, error) {
	f, err := as.frames.AllocPage(as.taskID, vaddr)
	if err != nil {
		return nil, fmt.Errorf("addrspace.AllocPage: %w", err)
	}
	return f, nil
}

// AttachVME completes the alloc_page contract: wiring v onto f so reclaim
// can observe it, and marking v loaded.
func (as *AddressSpace) AttachVME(f *vm.Frame, v *vm.VME) {
	f.VME = v
	v.Lock()
	v.IsLoaded = true
	v.Unlock()
}

// FreePage implements spec.md §4.8's free_page: find the frame in the LRU
// list, unlink and release it.
func (as *AddressSpace) FreePage(f *vm.Frame) {
	as.frames.FreePage(f)
}

// Mmap implements spec.md §4.9. sector names the already-resolved backing
// inode (fd->inode resolution is the syscall boundary's job); addr is the
// requested mapping base.
func (as *AddressSpace) Mmap(sector uint32, addr uint32) (int, error) {
	if addr == 0 || addr%PageSize != 0 {
		return -1, fmt.Errorf("addrspace.Mmap: address %#x is unaligned or null", addr)
	}

	oi, err := as.store.Open(sector)
	if err != nil {
		return -1, fmt.Errorf("addrspace.Mmap: %w", err)
	}
	length, err := as.store.Length(oi)
	if err != nil {
		as.store.Close(oi)
		return -1, fmt.Errorf("addrspace.Mmap: %w", err)
	}
	if length == 0 {
		as.store.Close(oi)
		return -1, fmt.Errorf("addrspace.Mmap: empty file")
	}

	as.mu.Lock()
	id := as.nextID
	as.nextID++
	as.mu.Unlock()

	rec := &MMapRecord{ID: id, Sector: sector, FileOI: oi}

	var offset int64
	remaining := length
	for remaining > 0 {
		vaddr := addr + uint32(offset)
		readBytes := int(remaining)
		if readBytes > PageSize {
			readBytes = PageSize
		}
		v := &vm.VME{
			Type:      vm.FILE,
			VAddr:     vaddr,
			Writable:  true,
			File:      &vm.FileBacking{Sector: sector},
			Offset:    offset,
			ReadBytes: readBytes,
			ZeroBytes: PageSize - readBytes,
			MappingID: id,
		}
		if err := as.InsertVME(v); err != nil {
			as.unmapRecord(rec)
			as.store.Close(oi)
			return -1, fmt.Errorf("addrspace.Mmap: %w", err)
		}
		rec.VAddrs = append(rec.VAddrs, vaddr)
		offset += int64(readBytes)
		remaining -= int64(readBytes)
	}

	as.mu.Lock()
	as.mmaps[id] = rec
	as.mu.Unlock()
	return id, nil
}

// Munmap implements spec.md §4.9. mapID == -1 unmaps every record.
func (as *AddressSpace) Munmap(mapID int) error {
	as.mu.Lock()
	var targets []*MMapRecord
	if mapID == -1 {
		for _, rec := range as.mmaps {
			targets = append(targets, rec)
		}
	} else if rec, ok := as.mmaps[mapID]; ok {
		targets = append(targets, rec)
	}
	as.mu.Unlock()

	for _, rec := range targets {
		if err := as.writeBackAndRemove(rec); err != nil {
			return err
		}
		as.mu.Lock()
		delete(as.mmaps, rec.ID)
		as.mu.Unlock()
		as.store.Close(rec.FileOI)
	}
	return nil
}

func (as *AddressSpace) writeBackAndRemove(rec *MMapRecord) error {
	for _, vaddr := range rec.VAddrs {
		v := as.FindVME(vaddr)
		if v == nil {
			continue
		}
		v.Lock()
		loaded := v.IsLoaded
		dirty := false // page-table dirty bit: checked via frame lookup below
		offset := v.Offset
		readBytes := v.ReadBytes
		v.Unlock()

		if loaded {
			f := as.frames.Lookup(as.taskID, vaddr)
			if f != nil {
				dirty = as.frames.IsDirty(as.taskID, vaddr)
				if dirty {
					if err := as.frames.WriteBack(rec.Sector, offset, f.KAddr, readBytes); err != nil {
						return fmt.Errorf("addrspace.Munmap: %w", err)
					}
				}
				as.frames.FreePage(f)
			}
		}
		as.DeleteVME(v)
	}
	logger.Debugf("addrspace: unmapped record %d (%d pages) for task %s", rec.ID, len(rec.VAddrs), as.taskID)
	return nil
}

// unmapRecord tears down a partially built record (Mmap failure path)
// without writeback, since none of its pages were ever loaded.
func (as *AddressSpace) unmapRecord(rec *MMapRecord) {
	for _, vaddr := range rec.VAddrs {
		if v := as.FindVME(vaddr); v != nil {
			as.DeleteVME(v)
		}
	}
}
