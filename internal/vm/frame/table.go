// Package frame implements spec.md §4.7: the global frame table and the
// try_to_free reclaim algorithm that backs demand-paged virtual memory.
// Grounded on original_source/src/vm/frame.c for the reclaim loop shape and
// on the teacher's fs/inode open-table locking idiom for the table-wide
// mutex.
package frame

import (
	"fmt"
	"sync"

	"github.com/pintoskernel/pintosfs/internal/logger"
	"github.com/pintoskernel/pintosfs/internal/metrics"
	"github.com/pintoskernel/pintosfs/internal/swap"
	"github.com/pintoskernel/pintosfs/internal/vm"
)

// PageSize mirrors the swap manager's slot size; a frame is always exactly
// one swap slot.
const PageSize = swap.PageSize

// ErrNoFreePages is returned by the raw pool allocator (never by AllocPage,
// which retries through reclaim and returns reclaim's own error if reclaim
// fails).
var ErrNoFreePages = fmt.Errorf("frame: physical pool exhausted")

func addrKey(taskID string, vaddr uint32) string {
	return fmt.Sprintf("%s/%#x", taskID, vaddr)
}

// Writeback is the FILE-page eviction hook: write read_bytes of kaddr back
// to the file named by sector at off, holding the filesystem lock for the
// duration (spec.md §4.7 step 4, §5's filesystem-lock note).
type Writeback func(sector uint32, off int64, kaddr []byte, readBytes int) error

// Table is the process-wide pool of physical page frames plus the LRU list
// and clock cursor the reclaim algorithm walks. One Table exists per
// running system; every address space allocates pages through it.
type Table struct {
	mu sync.Mutex

	pageSize int
	free     [][]byte // unused backing pages, popped on AllocPage
	lru      *lruList
	byKAddr  map[*byte]*node // keyed by &kaddr[0], for FreePage lookup
	byAddr   map[string]*node // keyed by taskID/vaddr, for Lookup

	pt        vm.PageTable
	swapMgr   *swap.Manager
	writeback Writeback
	fsLock    sync.Mutex // spec.md §5's "global filesystem lock"
}

// NewTable carves capacity pages of pageSize bytes out of a single backing
// arena and wires the reclaim algorithm's collaborators: the page-table
// accessed/dirty/unmap seam, the swap manager, and the FILE writeback hook.
func NewTable(capacity, pageSize int, pt vm.PageTable, swapMgr *swap.Manager, wb Writeback) *Table {
	t := &Table{
		pageSize:  pageSize,
		lru:       newLRUList(),
		byKAddr:   make(map[*byte]*node),
		byAddr:    make(map[string]*node),
		pt:        pt,
		swapMgr:   swapMgr,
		writeback: wb,
	}
	for i := 0; i < capacity; i++ {
		t.free = append(t.free, make([]byte, pageSize))
	}
	return t
}

func key(kaddr []byte) *byte {
	if len(kaddr) == 0 {
		return nil
	}
	return &kaddr[0]
}

// allocRawLocked pops a free physical page, or reports exhaustion.
func (t *Table) allocRawLocked() ([]byte, error) {
	n := len(t.free)
	if n == 0 {
		return nil, ErrNoFreePages
	}
	page := t.free[n-1]
	t.free = t.free[:n-1]
	return page, nil
}

// AllocPage allocates a physical page for taskID/vaddr, reclaiming via
// try_to_free when the pool is exhausted, and appends it to the LRU list.
// Per spec.md §4.8, the caller must attach f.VME before any reclaim pass
// can observe this frame.
func (t *Table) AllocPage(taskID string, vaddr uint32) (*vm.Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		page, err := t.allocRawLocked()
		if err == nil {
			f := &vm.Frame{KAddr: page, TaskID: taskID, VAddr: vaddr}
			n := t.lru.pushBack(f)
			t.byKAddr[key(page)] = n
			t.byAddr[addrKey(taskID, vaddr)] = n
			metrics.FrameResident.Inc()
			return f, nil
		}
		if terr := t.tryToFreeLocked(); terr != nil {
			return nil, terr
		}
	}
}

// FreePage clears f's page-table entry, removes f from the LRU list and
// returns its physical page to the free pool (spec.md §4.8's destroy and
// §4.9's munmap both release a loaded page this way).
func (t *Table) FreePage(f *vm.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.byKAddr[key(f.KAddr)]
	if !ok {
		logger.Warnf("frame: FreePage called on untracked kaddr for task %s vaddr %#x", f.TaskID, f.VAddr)
		return
	}
	t.pt.Unmap(f.TaskID, f.VAddr)
	t.lru.remove(n)
	delete(t.byKAddr, key(f.KAddr))
	delete(t.byAddr, addrKey(f.TaskID, f.VAddr))
	t.free = append(t.free, f.KAddr)
	metrics.FrameResident.Dec()
}

// Lookup returns the resident frame for taskID/vaddr, or nil if it is not
// currently resident (evicted or never loaded).
func (t *Table) Lookup(taskID string, vaddr uint32) *vm.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.byAddr[addrKey(taskID, vaddr)]
	if !ok {
		return nil
	}
	return n.frame
}

// IsDirty reports the page table's dirty bit for taskID/vaddr, the same
// predicate try_to_free consults when deciding whether a FILE/BIN page
// needs writeback before eviction.
func (t *Table) IsDirty(taskID string, vaddr uint32) bool {
	return t.pt.Dirty(taskID, vaddr)
}

// WriteBack runs the FILE-page writeback hook under the table's filesystem
// lock, for callers (munmap) that need to flush a resident page outside
// the reclaim path.
func (t *Table) WriteBack(sector uint32, off int64, kaddr []byte, readBytes int) error {
	t.fsLock.Lock()
	defer t.fsLock.Unlock()
	return t.writeback(sector, off, kaddr, readBytes)
}

// tryToFreeLocked implements spec.md §4.7's try_to_free: called with t.mu
// held, walks the clock cursor until a victim is evicted and its physical
// page returned to the pool. Returns nil only after freeing a page; returns
// an error if the LRU list is empty or the victim's swap-out or writeback
// fails. Clearing the accessed bit ends the walk within two full sweeps as
// long as some frame has a descriptor attached; frames without one are
// skipped, so a list holding only such frames is walked without end.
func (t *Table) tryToFreeLocked() error {
	for {
		n := t.lru.advanceClock()
		if n == nil {
			return fmt.Errorf("frame: try_to_free: LRU list is empty, nothing to reclaim")
		}
		f := n.frame
		v := f.VME
		if v == nil {
			// Frame has no descriptor attached yet (alloc_page's caller
			// hasn't finished wiring it up) - never a legal eviction
			// target; skip past it.
			continue
		}

		if t.pt.Accessed(f.TaskID, f.VAddr) {
			t.pt.ClearAccessed(f.TaskID, f.VAddr)
			continue
		}

		v.Lock()
		typ := v.Type
		dirty := t.pt.Dirty(f.TaskID, f.VAddr)
		var evictErr error
		switch typ {
		case vm.BIN:
			if dirty {
				slot, err := t.swapMgr.SwapOut(f.KAddr)
				if err != nil {
					evictErr = fmt.Errorf("frame: reclaim BIN->ANON: %w", err)
				} else {
					v.Type = vm.ANON
					v.SetSwapSlot(slot)
				}
			}
		case vm.FILE:
			if dirty && v.File != nil {
				t.fsLock.Lock()
				evictErr = t.writeback(v.File.Sector, v.Offset, f.KAddr, v.ReadBytes)
				t.fsLock.Unlock()
			}
		case vm.ANON:
			slot, err := t.swapMgr.SwapOut(f.KAddr)
			if err != nil {
				evictErr = fmt.Errorf("frame: reclaim ANON: %w", err)
			} else {
				v.SetSwapSlot(slot)
			}
		}
		if evictErr != nil {
			v.Unlock()
			return evictErr
		}
		v.IsLoaded = false
		v.Unlock()

		t.pt.Unmap(f.TaskID, f.VAddr)
		t.lru.remove(n)
		delete(t.byKAddr, key(f.KAddr))
		delete(t.byAddr, addrKey(f.TaskID, f.VAddr))
		t.free = append(t.free, f.KAddr)
		metrics.FrameResident.Dec()
		metrics.ReclaimTotal.WithLabelValues(typ.String()).Inc()
		logger.Tracef("frame: reclaimed task=%s vaddr=%#x type=%s", f.TaskID, f.VAddr, typ)
		return nil
	}
}
