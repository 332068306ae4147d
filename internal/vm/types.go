// Package vm holds the types shared between the frame table
// (internal/vm/frame) and the per-task address space
// (internal/vm/addrspace): the page descriptor (spec.md §3's "Page
// descriptor (virtual-memory entry)"), the resident-frame handle, and the
// small page-table seam those two packages need from the scheduler/MMU
// external collaborator spec.md §1 scopes out of this module.
package vm

import "sync"

// PageType classifies how a page descriptor is backed (spec.md §3).
type PageType int

const (
	BIN PageType = iota
	FILE
	ANON
)

func (t PageType) String() string {
	switch t {
	case BIN:
		return "bin"
	case FILE:
		return "file"
	case ANON:
		return "anon"
	default:
		return "unknown"
	}
}

// FileBacking names the inode, by its on-disk sector, that a FILE/BIN page
// descriptor reads its initial contents from.
type FileBacking struct {
	Sector uint32 // the backing inode's on-disk sector
}

// VME ("virtual memory entry") is the per-task page descriptor of
// spec.md §3. One exists per page-aligned virtual address populated by
// program load, stack growth, or mmap.
type VME struct {
	mu sync.Mutex

	Type     PageType
	VAddr    uint32
	Writable bool
	IsLoaded bool

	File       *FileBacking
	Offset     int64
	ReadBytes  int
	ZeroBytes  int
	SwapSlot   uint32
	hasSlot    bool
	MappingID  int // the mmap record this descriptor belongs to; set only by Mmap (ids start at 0, so the zero value does not mean "not mapped")
}

func (v *VME) Lock()   { v.mu.Lock() }
func (v *VME) Unlock() { v.mu.Unlock() }

func (v *VME) HasSwapSlot() bool { return v.hasSlot }

func (v *VME) SetSwapSlot(slot uint32) {
	v.SwapSlot = slot
	v.hasSlot = true
}

func (v *VME) ClearSwapSlot() {
	v.hasSlot = false
}

// Frame is a resident physical page. Per spec.md §9's cyclic-reference
// note, it holds a non-owning handle to its task (TaskID + VAddr) rather
// than an owning pointer to the task's address space; VME is a back-
// pointer into the task-owned descriptor, valid only while the frame
// remains on the LRU list (del_from_lru is always called before the
// descriptor itself is freed).
type Frame struct {
	KAddr  []byte
	TaskID string
	VAddr  uint32
	VME    *VME
}

// PageTable is the minimal seam this module needs from the scheduler's
// per-task page table / MMU (an external collaborator per spec.md §1):
// the accessed/dirty bits the reclaim algorithm reads and clears, and the
// page-table-entry unmap reclaim performs after eviction.
type PageTable interface {
	Accessed(taskID string, vaddr uint32) bool
	ClearAccessed(taskID string, vaddr uint32)
	Dirty(taskID string, vaddr uint32) bool
	Unmap(taskID string, vaddr uint32)
}
