// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pintoskernel/pintosfs/internal/blockdev"
	"github.com/pintoskernel/pintosfs/internal/freemap"
	"github.com/pintoskernel/pintosfs/internal/inode"
	"github.com/pintoskernel/pintosfs/internal/swap"
	"github.com/pintoskernel/pintosfs/internal/vm"
	"github.com/pintoskernel/pintosfs/internal/vm/addrspace"
	"github.com/pintoskernel/pintosfs/internal/vm/frame"
)

// simplePageTable stands in for the scheduler/MMU collaborator spec.md §1
// scopes out of this module: just enough accessed/dirty bookkeeping, keyed
// by (taskID, vaddr), for try_to_free's second-chance loop and dirty-page
// writeback decisions to have something real to consult.
type simplePageTable struct {
	mu       sync.Mutex
	accessed map[string]bool
	dirty    map[string]bool
	unmapped map[string]bool
}

func newSimplePageTable() *simplePageTable {
	return &simplePageTable{
		accessed: make(map[string]bool),
		dirty:    make(map[string]bool),
		unmapped: make(map[string]bool),
	}
}

func ptKey(taskID string, vaddr uint32) string { return fmt.Sprintf("%s/%#x", taskID, vaddr) }

func (pt *simplePageTable) Accessed(taskID string, vaddr uint32) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.accessed[ptKey(taskID, vaddr)]
}

func (pt *simplePageTable) ClearAccessed(taskID string, vaddr uint32) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.accessed[ptKey(taskID, vaddr)] = false
}

func (pt *simplePageTable) SetAccessed(taskID string, vaddr uint32) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.accessed[ptKey(taskID, vaddr)] = true
}

func (pt *simplePageTable) Dirty(taskID string, vaddr uint32) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.dirty[ptKey(taskID, vaddr)]
}

func (pt *simplePageTable) SetDirty(taskID string, vaddr uint32) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.dirty[ptKey(taskID, vaddr)] = true
}

func (pt *simplePageTable) Unmap(taskID string, vaddr uint32) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.unmapped[ptKey(taskID, vaddr)] = true
	delete(pt.dirty, ptKey(taskID, vaddr))
}

// makeWriteback adapts inode.Store.WriteAt to the frame.Writeback seam.
func makeWriteback(store *inode.Store) frame.Writeback {
	return func(sector uint32, off int64, kaddr []byte, readBytes int) error {
		oi, err := store.Open(sector)
		if err != nil {
			return err
		}
		defer store.Close(oi)
		_, err = store.WriteAt(oi, kaddr, readBytes, off)
		return err
	}
}

// demoReclaim is spec.md §8's E5: with only two physical frames available,
// a clean BIN page survives the first reclaim sweep (its accessed bit is
// set), a dirty BIN page is migrated to ANON via swap_out, and reading it
// back afterward returns the bytes written before eviction.
func demoReclaim(store *inode.Store, fm *freemap.FreeMap, swapDevPath string) error {
	swapDev, err := blockdev.OpenFile(swapDevPath, swap.SlotCount*swap.SlotSectors)
	if err != nil {
		return fmt.Errorf("demoReclaim: open swap device: %w", err)
	}
	swapMgr := swap.Init(swapDev)
	pt := newSimplePageTable()
	table := frame.NewTable(2, frame.PageSize, pt, swapMgr, makeWriteback(store))

	taskID := uuid.NewString()
	as := addrspace.New(taskID, table, store)

	const v1, v2, v3 = 0x10000000, 0x10001000, 0x10002000

	vme1 := &vm.VME{Type: vm.BIN, VAddr: v1, Writable: false}
	if err := as.InsertVME(vme1); err != nil {
		return err
	}
	f1, err := as.AllocPage(v1)
	if err != nil {
		return err
	}
	as.AttachVME(f1, vme1)
	pt.SetAccessed(taskID, v1) // clean, recently touched: survives the first sweep

	vme2 := &vm.VME{Type: vm.BIN, VAddr: v2, Writable: true}
	if err := as.InsertVME(vme2); err != nil {
		return err
	}
	f2, err := as.AllocPage(v2)
	if err != nil {
		return err
	}
	as.AttachVME(f2, vme2)
	f2.KAddr[0] = 0x7E
	pt.SetDirty(taskID, v2) // write touched this BIN page: reclaim must preserve it via swap

	vme3 := &vm.VME{Type: vm.BIN, VAddr: v3, Writable: false}
	if err := as.InsertVME(vme3); err != nil {
		return err
	}
	// Pool is exhausted (capacity 2): this AllocPage forces tryToFreeLocked
	// to run the clock sweep described above.
	f3, err := as.AllocPage(v3)
	if err != nil {
		return fmt.Errorf("demoReclaim: alloc under pressure: %w", err)
	}
	as.AttachVME(f3, vme3)

	vme2.Lock()
	typ, slot, hasSlot := vme2.Type, vme2.SwapSlot, vme2.HasSwapSlot()
	vme2.Unlock()
	if typ != vm.ANON || !hasSlot {
		return fmt.Errorf("demoReclaim: dirty BIN page did not migrate to ANON+swap (type=%s hasSlot=%v)", typ, hasSlot)
	}

	// Simulate the page fault that brings v2 back in.
	f2b, err := as.AllocPage(v2)
	if err != nil {
		return fmt.Errorf("demoReclaim: fault v2 back in: %w", err)
	}
	if err := swapMgr.SwapIn(slot, f2b.KAddr); err != nil {
		return fmt.Errorf("demoReclaim: swap_in: %w", err)
	}
	if f2b.KAddr[0] != 0x7E {
		return fmt.Errorf("demoReclaim: swapped-in byte = %#x, want 0x7e", f2b.KAddr[0])
	}
	return nil
}

// demoMmap is spec.md §8's E6: mmap a 3*PGSIZE+100 byte file, dirty byte 0
// of each page and byte 3*PGSIZE+50, munmap, then verify via ordinary I/O
// that those four bytes changed and that one untouched byte (offset 10) is
// still zero.
func demoMmap(store *inode.Store, fm *freemap.FreeMap) error {
	const fileLen = 3*frame.PageSize + 100
	sec, ok := fm.Allocate(1)
	if !ok {
		return fmt.Errorf("demoMmap: free map exhausted")
	}
	if err := store.Create(sec, fileLen, false); err != nil {
		return fmt.Errorf("demoMmap: create: %w", err)
	}

	pt := newSimplePageTable()
	table := frame.NewTable(8, frame.PageSize, pt, swap.Init(blockdev.NewMemDevice(swap.SlotCount*swap.SlotSectors)), makeWriteback(store))
	taskID := uuid.NewString()
	as := addrspace.New(taskID, table, store)

	const base = 0x20000000
	mapID, err := as.Mmap(sec, base)
	if err != nil {
		return fmt.Errorf("demoMmap: mmap: %w", err)
	}

	modified := map[int64]byte{
		0:                     0xAA,
		frame.PageSize:        0xBB,
		2 * frame.PageSize:    0xCC,
		3*frame.PageSize + 50: 0xDD,
	}
	for off, val := range modified {
		vaddr := uint32(base + off)
		v := as.FindVME(vaddr)
		if v == nil {
			return fmt.Errorf("demoMmap: no descriptor at offset %d", off)
		}
		f, err := as.AllocPage(vaddr)
		if err != nil {
			return fmt.Errorf("demoMmap: alloc for offset %d: %w", off, err)
		}
		ok, err := as.LoadFile(f.KAddr, v)
		if err != nil {
			return fmt.Errorf("demoMmap: load offset %d: %w", off, err)
		}
		_ = ok
		as.AttachVME(f, v)
		pageOff := off % frame.PageSize
		f.KAddr[pageOff] = val
		pt.SetDirty(taskID, vaddr)
	}

	if err := as.Munmap(mapID); err != nil {
		return fmt.Errorf("demoMmap: munmap: %w", err)
	}

	oi, err := store.Open(sec)
	if err != nil {
		return err
	}
	defer store.Close(oi)
	for off, want := range modified {
		var buf [1]byte
		if _, err := store.ReadAt(oi, buf[:], 1, off); err != nil {
			return fmt.Errorf("demoMmap: readback at %d: %w", off, err)
		}
		if buf[0] != want {
			return fmt.Errorf("demoMmap: offset %d = %#x, want %#x", off, buf[0], want)
		}
	}
	var unchanged [1]byte
	if _, err := store.ReadAt(oi, unchanged[:], 1, 10); err != nil {
		return err
	}
	if unchanged[0] != 0 {
		return fmt.Errorf("demoMmap: untouched byte at offset 10 = %#x, want 0", unchanged[0])
	}
	return nil
}
