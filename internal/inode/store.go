package inode

import (
	"fmt"
	"sync"

	"github.com/pintoskernel/pintosfs/internal/blockdev"
	"github.com/pintoskernel/pintosfs/internal/buffercache"
	"github.com/pintoskernel/pintosfs/internal/freemap"
	"github.com/pintoskernel/pintosfs/internal/logger"
)

// ErrOutOfRange is the range-error kind of spec.md §7: a position beyond
// the maximum file length.
var ErrOutOfRange = fmt.Errorf("inode: position out of range")

// ErrExhausted is the allocation-exhaustion error kind of spec.md §7.
var ErrExhausted = fmt.Errorf("inode: free-sector map exhausted")

// OpenInode is the in-memory, reference-counted handle spec.md §3
// describes: at most one per on-disk sector, shared by every caller that
// opens the same sector.
type OpenInode struct {
	Sector         uint32
	oc             openCount
	removed        bool
	denyWriteCount int
	extendLock     sync.Mutex
}

// Store is the process-global open-inode table plus the operations that
// read/write/grow/free on-disk inodes through a buffer cache.
type Store struct {
	mu      sync.Mutex
	cache   *buffercache.Cache
	freeMap *freemap.FreeMap
	open    map[uint32]*OpenInode
}

func NewStore(cache *buffercache.Cache, freeMap *freemap.FreeMap) *Store {
	return &Store{cache: cache, freeMap: freeMap, open: make(map[uint32]*OpenInode)}
}

func (s *Store) readDisk(sector uint32) (OnDisk, error) {
	var buf [blockdev.SectorSize]byte
	if err := s.cache.Read(sector, buf[:], 0, blockdev.SectorSize, 0); err != nil {
		return OnDisk{}, fmt.Errorf("inode: read sector %d: %w", sector, err)
	}
	return Decode(buf[:])
}

func (s *Store) writeDisk(sector uint32, d *OnDisk) error {
	buf := d.Encode()
	if err := s.cache.Write(sector, buf[:], 0, blockdev.SectorSize, 0); err != nil {
		return fmt.Errorf("inode: write sector %d: %w", sector, err)
	}
	return nil
}

// Create builds a zeroed-then-0xFF-filled on-disk inode at sector, sized to
// length bytes, and writes it through the cache (spec.md §4.3).
func (s *Store) Create(sector uint32, length int32, isDir bool) error {
	d := blank()
	d.Magic = Magic
	if isDir {
		d.IsDir = 1
	}
	if length > 0 {
		if err := s.growTo(&d, 0, int64(length)-1); err != nil {
			return fmt.Errorf("inode.Create: %w", err)
		}
	} else {
		d.Length = 0
	}
	return s.writeDisk(sector, &d)
}

// Open dedups against the open-inode table, otherwise allocates a new
// in-memory handle with an open count of 1.
func (s *Store) Open(sector uint32) (*OpenInode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if oi, ok := s.open[sector]; ok {
		oi.oc.Inc()
		return oi, nil
	}
	oi := &OpenInode{Sector: sector}
	oi.oc.Inc()
	s.open[sector] = oi
	return oi, nil
}

// Reopen increments the reference count of an already-open handle (used
// when a caller hands off a handle to a new owner, e.g. inheriting a
// working directory across task spawn per spec.md §9).
func (s *Store) Reopen(oi *OpenInode) *OpenInode {
	s.mu.Lock()
	defer s.mu.Unlock()
	oi.oc.Inc()
	return oi
}

// MarkRemoved flags oi so its sectors are freed on the final Close. Called
// by the filesystem-level remove operation after the directory entry is
// unlinked (spec.md §4.4's "remove does not free inode sectors — that is
// inode_close's job").
func (s *Store) MarkRemoved(oi *OpenInode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oi.removed = true
}

// destroy runs once, on the final Close of an inode: it removes oi from
// the open-inode table and, if it had been marked removed, frees every
// sector reachable from the on-disk inode plus the inode's own sector.
// Called by Close only after Close has released s.mu, so the disk I/O
// here never holds the store lock across other tasks' Open/Close.
func (s *Store) destroy(oi *OpenInode) error {
	s.mu.Lock()
	delete(s.open, oi.Sector)
	removed := oi.removed
	s.mu.Unlock()

	if !removed {
		return nil
	}

	d, err := s.readDisk(oi.Sector)
	if err != nil {
		return fmt.Errorf("inode: destroy sector %d: %w", oi.Sector, err)
	}
	if err := s.freeReachableSectors(&d); err != nil {
		return fmt.Errorf("inode: destroy sector %d: %w", oi.Sector, err)
	}
	s.freeMap.Release(oi.Sector, 1)
	logger.Debugf("inode: freed removed inode at sector %d", oi.Sector)
	return nil
}

// Close decrements the open count; on the final close, destroy frees the
// inode's sectors if it had been removed. Any error destroying the inode
// is logged rather than returned, matching spec.md §4.3's open-inode
// table owning cleanup regardless of which task happens to finish last.
func (s *Store) Close(oi *OpenInode) error {
	s.mu.Lock()
	destroyed := oi.oc.Dec(1)
	s.mu.Unlock()

	if !destroyed {
		return nil
	}
	if err := s.destroy(oi); err != nil {
		logger.Errorf("inode: error destroying open inode: %v", err)
	}
	return nil
}

func (s *Store) freeReachableSectors(d *OnDisk) error {
	for _, sec := range d.Direct {
		if sec == Unallocated {
			break
		}
		s.freeMap.Release(sec, 1)
	}
	if d.Indirect != Unallocated {
		blk, err := s.readIndirect(d.Indirect)
		if err != nil {
			return err
		}
		for _, sec := range blk {
			if sec == Unallocated {
				break
			}
			s.freeMap.Release(sec, 1)
		}
		s.freeMap.Release(d.Indirect, 1)
	}
	if d.DoubleIndirect != Unallocated {
		outer, err := s.readIndirect(d.DoubleIndirect)
		if err != nil {
			return err
		}
		for _, innerSec := range outer {
			if innerSec == Unallocated {
				break
			}
			inner, err := s.readIndirect(innerSec)
			if err != nil {
				return err
			}
			for _, sec := range inner {
				if sec == Unallocated {
					break
				}
				s.freeMap.Release(sec, 1)
			}
			s.freeMap.Release(innerSec, 1)
		}
		s.freeMap.Release(d.DoubleIndirect, 1)
	}
	return nil
}

func (s *Store) readIndirect(sector uint32) (IndirectBlock, error) {
	var buf [blockdev.SectorSize]byte
	if err := s.cache.Read(sector, buf[:], 0, blockdev.SectorSize, 0); err != nil {
		return IndirectBlock{}, fmt.Errorf("inode: read indirect block %d: %w", sector, err)
	}
	return DecodeIndirectBlock(buf[:])
}

func (s *Store) writeIndirect(sector uint32, b *IndirectBlock) error {
	buf := b.Encode()
	if err := s.cache.Write(sector, buf[:], 0, blockdev.SectorSize, 0); err != nil {
		return fmt.Errorf("inode: write indirect block %d: %w", sector, err)
	}
	return nil
}

// loadOrCreateIndirect returns the indirect block pointed to by *ptr,
// allocating and initializing a fresh all-ones block if *ptr is
// Unallocated.
func (s *Store) loadOrCreateIndirect(ptr *uint32) (IndirectBlock, error) {
	if *ptr == Unallocated {
		sec, ok := s.freeMap.Allocate(1)
		if !ok {
			return IndirectBlock{}, ErrExhausted
		}
		blk := blankIndirectBlock()
		if err := s.writeIndirect(sec, &blk); err != nil {
			return IndirectBlock{}, err
		}
		*ptr = sec
		return blk, nil
	}
	return s.readIndirect(*ptr)
}

// registerSector installs newSector as the backing sector for file-sector
// index idx, allocating indirect/double-indirect scaffolding as needed.
func (s *Store) registerSector(d *OnDisk, idx, newSector uint32) error {
	kind, i1, i2 := locate(idx)
	switch kind {
	case locDirect:
		d.Direct[i1] = newSector
		return nil
	case locIndirect:
		blk, err := s.loadOrCreateIndirect(&d.Indirect)
		if err != nil {
			return err
		}
		blk[i1] = newSector
		return s.writeIndirect(d.Indirect, &blk)
	case locDouble:
		outer, err := s.loadOrCreateIndirect(&d.DoubleIndirect)
		if err != nil {
			return err
		}
		innerSec := outer[i1]
		if innerSec == Unallocated {
			sec, ok := s.freeMap.Allocate(1)
			if !ok {
				return ErrExhausted
			}
			blk := blankIndirectBlock()
			if err := s.writeIndirect(sec, &blk); err != nil {
				return err
			}
			outer[i1] = sec
			innerSec = sec
			if err := s.writeIndirect(d.DoubleIndirect, &outer); err != nil {
				return err
			}
		}
		inner, err := s.readIndirect(innerSec)
		if err != nil {
			return err
		}
		inner[i2] = newSector
		return s.writeIndirect(innerSec, &inner)
	default:
		return ErrOutOfRange
	}
}

// byteToSector implements spec.md §4.3's byte_to_sector: total on
// [0, length) after a successful write, -1 (ok=false) otherwise.
func (s *Store) byteToSector(d *OnDisk, pos int64) (sector uint32, ok bool) {
	if pos < 0 || pos >= int64(d.Length) {
		return 0, false
	}
	idx := uint32(pos / blockdev.SectorSize)
	kind, i1, i2 := locate(idx)
	switch kind {
	case locDirect:
		sec := d.Direct[i1]
		return sec, sec != Unallocated
	case locIndirect:
		if d.Indirect == Unallocated {
			return 0, false
		}
		blk, err := s.readIndirect(d.Indirect)
		if err != nil {
			return 0, false
		}
		sec := blk[i1]
		return sec, sec != Unallocated
	case locDouble:
		if d.DoubleIndirect == Unallocated {
			return 0, false
		}
		outer, err := s.readIndirect(d.DoubleIndirect)
		if err != nil {
			return 0, false
		}
		innerSec := outer[i1]
		if innerSec == Unallocated {
			return 0, false
		}
		inner, err := s.readIndirect(innerSec)
		if err != nil {
			return 0, false
		}
		sec := inner[i2]
		return sec, sec != Unallocated
	default:
		return 0, false
	}
}

// growTo implements spec.md §4.3's update_length(inode, start, end_inclusive):
// start is the file's *old* length (its previous EOF), matching
// original_source/src/filesys/inode.c's inode_update_file_length call
// convention — every write_at/Create growth call passes the previous
// length as start, not the write offset, which is what keeps
// byte_to_sector total across the whole gap between old and new EOF.
//
// Failure is not rolled back: on a mid-growth allocation failure the inode
// keeps its enlarged Length but some tail sectors remain unallocated
// (spec.md §9's documented weakness).
func (s *Store) growTo(d *OnDisk, start, endInclusive int64) error {
	d.Length = int32(endInclusive + 1)

	offset := start
	size := endInclusive - start + 1
	var zero [blockdev.SectorSize]byte

	for size > 0 {
		sectorOfs := offset % blockdev.SectorSize
		chunk := int64(blockdev.SectorSize) - sectorOfs
		if sectorOfs == 0 {
			sec, ok := s.freeMap.Allocate(1)
			if !ok {
				return ErrExhausted
			}
			idx := uint32(offset / blockdev.SectorSize)
			if err := s.registerSector(d, idx, sec); err != nil {
				return err
			}
			if err := s.cache.Write(sec, zero[:], 0, blockdev.SectorSize, 0); err != nil {
				return fmt.Errorf("inode: zero-fill sector %d: %w", sec, err)
			}
		}
		size -= chunk
		offset += chunk
	}
	return nil
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// ReadAt copies up to size bytes starting at off into dst. Returns the
// number of bytes actually transferred; a read reaching EOF returns short,
// never an error. Per spec.md §9 this does NOT re-persist the on-disk
// inode on the pure-read path (the original C source does, redundantly
// and without locking safety — §9 calls this out as something to omit).
func (s *Store) ReadAt(oi *OpenInode, dst []byte, size int, off int64) (int, error) {
	oi.extendLock.Lock()
	defer oi.extendLock.Unlock()

	d, err := s.readDisk(oi.Sector)
	if err != nil {
		return 0, err
	}

	total := 0
	for size > 0 {
		sector, ok := s.byteToSector(&d, off)
		if !ok {
			break
		}
		sectorOff := int(off % blockdev.SectorSize)
		sectorRemaining := blockdev.SectorSize - sectorOff
		lengthRemaining := int(int64(d.Length) - off)
		chunk := min3(size, sectorRemaining, lengthRemaining)
		if chunk <= 0 {
			break
		}
		if err := s.cache.Read(sector, dst, total, chunk, sectorOff); err != nil {
			return total, err
		}
		total += chunk
		off += int64(chunk)
		size -= chunk
	}
	return total, nil
}

// WriteAt copies up to size bytes from src into the file starting at off,
// growing the file first if the write reaches past the current length.
// deny-write is enforced by the caller (the syscall boundary refuses
// writes to an executable image being loaded); WriteAt itself always
// writes if called.
func (s *Store) WriteAt(oi *OpenInode, src []byte, size int, off int64) (int, error) {
	oi.extendLock.Lock()
	defer oi.extendLock.Unlock()

	d, err := s.readDisk(oi.Sector)
	if err != nil {
		return 0, err
	}

	if size > 0 {
		endInclusive := off + int64(size) - 1
		if endInclusive >= int64(d.Length) {
			oldLength := int64(d.Length)
			growErr := s.growTo(&d, oldLength, endInclusive)
			// Persist even on partial failure: the enlarged Length and
			// whatever sectors were registered before the failure are
			// kept, per spec.md §9's "partial growth is not rolled back".
			if werr := s.writeDisk(oi.Sector, &d); werr != nil {
				return 0, werr
			}
			if growErr != nil {
				logger.Errorf("inode: growth to %d failed on sector %d: %v", d.Length, oi.Sector, growErr)
			}
		}
	}

	total := 0
	for size > 0 {
		sector, ok := s.byteToSector(&d, off)
		if !ok {
			break
		}
		sectorOff := int(off % blockdev.SectorSize)
		sectorRemaining := blockdev.SectorSize - sectorOff
		lengthRemaining := int(int64(d.Length) - off)
		chunk := min3(size, sectorRemaining, lengthRemaining)
		if chunk <= 0 {
			break
		}
		if err := s.cache.Write(sector, src, total, chunk, sectorOff); err != nil {
			return total, err
		}
		total += chunk
		off += int64(chunk)
		size -= chunk
	}
	return total, nil
}

// Length returns the current on-disk length of oi's inode.
func (s *Store) Length(oi *OpenInode) (int64, error) {
	d, err := s.readDisk(oi.Sector)
	if err != nil {
		return 0, err
	}
	return int64(d.Length), nil
}

// IsDir reports whether oi's inode is a directory inode.
func (s *Store) IsDir(oi *OpenInode) (bool, error) {
	d, err := s.readDisk(oi.Sector)
	if err != nil {
		return false, err
	}
	return d.IsDir != 0, nil
}

// DenyWrite and AllowWrite maintain deny_write_count ≤ open_count
// (spec.md §3's invariant), used while an executable image is loaded.
func (s *Store) DenyWrite(oi *OpenInode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	oi.denyWriteCount++
	if uint64(oi.denyWriteCount) > oi.oc.count {
		oi.denyWriteCount = int(oi.oc.count)
		return fmt.Errorf("inode: deny_write_count exceeded open_count on sector %d", oi.Sector)
	}
	return nil
}

func (s *Store) AllowWrite(oi *OpenInode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if oi.denyWriteCount > 0 {
		oi.denyWriteCount--
	}
}

func (s *Store) DenyWriteCount(oi *OpenInode) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return oi.denyWriteCount
}
