// Package directory implements hierarchical directories over inode.Store,
// per spec.md §4.4: a directory is an inode whose data is a dense array of
// fixed-size entries, the first two conventionally "." and "..". Grounded
// on original_source/src/filesys/directory.c for the entry layout and
// linear-scan semantics, and on the teacher fs/inode/dir.go's
// fmt.Errorf("op: %v", err) wrapping idiom.
package directory

import (
	"bytes"
	"fmt"

	"github.com/pintoskernel/pintosfs/internal/inode"
)

// NameMax bounds a single path component, matching the classic pintos
// NAME_MAX of 14 characters.
const NameMax = 14

const entrySize = 1 + 4 + (NameMax + 1) // in_use + sector + name[NAME_MAX+1]

// RootSector is the fixed sector of the root directory inode (spec.md §6).
const RootSector uint32 = 2

type rawEntry struct {
	inUse  bool
	sector uint32
	name   [NameMax + 1]byte
}

func (e *rawEntry) encode() [entrySize]byte {
	var buf [entrySize]byte
	if e.inUse {
		buf[0] = 1
	}
	byteOrder.PutUint32(buf[1:5], e.sector)
	copy(buf[5:], e.name[:])
	return buf
}

func decodeEntry(buf []byte) rawEntry {
	var e rawEntry
	e.inUse = buf[0] != 0
	e.sector = byteOrder.Uint32(buf[1:5])
	copy(e.name[:], buf[5:5+NameMax+1])
	return e
}

func nameBytes(name string) ([NameMax + 1]byte, error) {
	var b [NameMax + 1]byte
	if len(name) == 0 {
		return b, fmt.Errorf("directory: empty name")
	}
	if len(name) > NameMax {
		return b, fmt.Errorf("directory: name %q exceeds %d characters", name, NameMax)
	}
	copy(b[:], name)
	return b, nil
}

func nameString(b [NameMax + 1]byte) string {
	i := bytes.IndexByte(b[:], 0)
	if i < 0 {
		i = len(b)
	}
	return string(b[:i])
}

// Directory is an open handle onto a directory inode.
type Directory struct {
	store *inode.Store
	Inode *inode.OpenInode
}

// Create constructs a directory inode at sector, sized for entryCount
// zeroed entries (in_use=false, matching spec.md's "writes entry_count
// zeroed entries" — Store.Create's growth path already zero-fills new
// sectors, so every entry starts unused).
func Create(store *inode.Store, sector uint32, entryCount int) error {
	return store.Create(sector, int32(entryCount*entrySize), true)
}

// Open wraps an already-open inode handle as a Directory.
func Open(store *inode.Store, oi *inode.OpenInode) (*Directory, error) {
	isDir, err := store.IsDir(oi)
	if err != nil {
		return nil, fmt.Errorf("directory.Open: %w", err)
	}
	if !isDir {
		return nil, fmt.Errorf("directory.Open: sector %d is not a directory", oi.Sector)
	}
	return &Directory{store: store, Inode: oi}, nil
}

// OpenRoot opens the root directory at its fixed sector.
func OpenRoot(store *inode.Store) (*Directory, error) {
	oi, err := store.Open(RootSector)
	if err != nil {
		return nil, fmt.Errorf("directory.OpenRoot: %w", err)
	}
	return Open(store, oi)
}

// Reopen returns a new Directory handle sharing the same inode, with the
// open count incremented (used to hand a working directory to a new task
// per spec.md §9).
func Reopen(store *inode.Store, d *Directory) *Directory {
	return &Directory{store: store, Inode: store.Reopen(d.Inode)}
}

// Close releases this handle.
func (d *Directory) Close() error {
	return d.store.Close(d.Inode)
}

func (d *Directory) entryCount() (int, error) {
	length, err := d.store.Length(d.Inode)
	if err != nil {
		return 0, err
	}
	return int(length) / entrySize, nil
}

func (d *Directory) readEntry(idx int) (rawEntry, error) {
	var buf [entrySize]byte
	n, err := d.store.ReadAt(d.Inode, buf[:], entrySize, int64(idx)*entrySize)
	if err != nil {
		return rawEntry{}, err
	}
	if n < entrySize {
		return rawEntry{}, nil
	}
	return decodeEntry(buf[:]), nil
}

func (d *Directory) writeEntry(idx int, e rawEntry) error {
	buf := e.encode()
	_, err := d.store.WriteAt(d.Inode, buf[:], entrySize, int64(idx)*entrySize)
	return err
}

// Lookup performs the linear scan of spec.md §4.4.
func (d *Directory) Lookup(name string) (sector uint32, found bool, err error) {
	n, err := d.entryCount()
	if err != nil {
		return 0, false, fmt.Errorf("directory.Lookup: %w", err)
	}
	for i := 0; i < n; i++ {
		e, err := d.readEntry(i)
		if err != nil {
			return 0, false, fmt.Errorf("directory.Lookup: %w", err)
		}
		if e.inUse && nameString(e.name) == name {
			return e.sector, true, nil
		}
	}
	return 0, false, nil
}

// Add rejects duplicate names, reuses the first unused slot, and otherwise
// extends the directory by one entry.
func (d *Directory) Add(name string, sector uint32) error {
	if _, found, err := d.Lookup(name); err != nil {
		return fmt.Errorf("directory.Add: %w", err)
	} else if found {
		return fmt.Errorf("directory.Add: %q already exists", name)
	}

	nb, err := nameBytes(name)
	if err != nil {
		return fmt.Errorf("directory.Add: %w", err)
	}
	e := rawEntry{inUse: true, sector: sector, name: nb}

	n, err := d.entryCount()
	if err != nil {
		return fmt.Errorf("directory.Add: %w", err)
	}
	for i := 0; i < n; i++ {
		existing, err := d.readEntry(i)
		if err != nil {
			return fmt.Errorf("directory.Add: %w", err)
		}
		if !existing.inUse {
			return d.writeEntry(i, e)
		}
	}
	return d.writeEntry(n, e)
}

// Remove marks the entry's slot free. It does not free the target inode's
// sectors — that happens in inode.Store.Close once the target's open
// count reaches zero (spec.md §4.4).
func (d *Directory) Remove(name string) error {
	n, err := d.entryCount()
	if err != nil {
		return fmt.Errorf("directory.Remove: %w", err)
	}
	for i := 0; i < n; i++ {
		e, err := d.readEntry(i)
		if err != nil {
			return fmt.Errorf("directory.Remove: %w", err)
		}
		if e.inUse && nameString(e.name) == name {
			e.inUse = false
			return d.writeEntry(i, e)
		}
	}
	return fmt.Errorf("directory.Remove: %q not found", name)
}

// Iterator is the stateful readdir cursor of spec.md §4.4, skipping "." and
// "..".
type Iterator struct {
	dir *Directory
	pos int
}

func (d *Directory) NewIterator() *Iterator { return &Iterator{dir: d} }

// Next returns the next in-use entry name, skipping "." and "..". ok is
// false once iteration is exhausted.
func (it *Iterator) Next() (name string, ok bool, err error) {
	n, err := it.dir.entryCount()
	if err != nil {
		return "", false, fmt.Errorf("directory.Iterator.Next: %w", err)
	}
	for it.pos < n {
		e, err := it.dir.readEntry(it.pos)
		it.pos++
		if err != nil {
			return "", false, fmt.Errorf("directory.Iterator.Next: %w", err)
		}
		if !e.inUse {
			continue
		}
		s := nameString(e.name)
		if s == "." || s == ".." {
			continue
		}
		return s, true, nil
	}
	return "", false, nil
}

// AddDotEntries installs the conventional "." and ".." entries into a
// freshly-created directory. Not part of directory.Create itself (which
// only zero-fills entries per spec.md), this mirrors what a mkdir
// operation does immediately after Create.
func (d *Directory) AddDotEntries(selfSector, parentSector uint32) error {
	if err := d.Add(".", selfSector); err != nil {
		return fmt.Errorf("directory.AddDotEntries: %w", err)
	}
	if err := d.Add("..", parentSector); err != nil {
		return fmt.Errorf("directory.AddDotEntries: %w", err)
	}
	return nil
}
