package addrspace

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pintoskernel/pintosfs/internal/blockdev"
	"github.com/pintoskernel/pintosfs/internal/buffercache"
	"github.com/pintoskernel/pintosfs/internal/freemap"
	"github.com/pintoskernel/pintosfs/internal/inode"
	"github.com/pintoskernel/pintosfs/internal/swap"
	"github.com/pintoskernel/pintosfs/internal/vm"
	"github.com/pintoskernel/pintosfs/internal/vm/frame"
)

type fakePageTable struct {
	accessed map[string]bool
	dirty    map[string]bool
	unmapped map[string]bool
}

func newFakePageTable() *fakePageTable {
	return &fakePageTable{accessed: map[string]bool{}, dirty: map[string]bool{}, unmapped: map[string]bool{}}
}

func fpKey(taskID string, vaddr uint32) string { return fmt.Sprintf("%s/%#x", taskID, vaddr) }

func (pt *fakePageTable) Accessed(taskID string, vaddr uint32) bool { return pt.accessed[fpKey(taskID, vaddr)] }
func (pt *fakePageTable) ClearAccessed(taskID string, vaddr uint32) { pt.accessed[fpKey(taskID, vaddr)] = false }
func (pt *fakePageTable) Dirty(taskID string, vaddr uint32) bool    { return pt.dirty[fpKey(taskID, vaddr)] }
func (pt *fakePageTable) Unmap(taskID string, vaddr uint32)         { pt.unmapped[fpKey(taskID, vaddr)] = true }

func newTestStore(t *testing.T, sectors uint32) *inode.Store {
	t.Helper()
	dev := blockdev.NewMemDevice(sectors)
	cache := buffercache.New(dev, 32)
	fm := freemap.NewInMemory(sectors)
	return inode.NewStore(cache, fm)
}

func newTestTable(pt *fakePageTable, wb frame.Writeback) *frame.Table {
	swapMgr := swap.Init(blockdev.NewMemDevice(swap.SlotCount * swap.SlotSectors))
	return frame.NewTable(8, frame.PageSize, pt, swapMgr, wb)
}

func TestInsertVME_RejectsDuplicateAddress(t *testing.T) {
	store := newTestStore(t, 16)
	as := New("t1", newTestTable(newFakePageTable(), nil), store)

	require.NoError(t, as.InsertVME(&vm.VME{VAddr: 0x1000}))
	err := as.InsertVME(&vm.VME{VAddr: 0x1000})
	assert.ErrorIs(t, err, ErrAlreadyMapped)
}

func TestFindVME_RoundsAddressToPage(t *testing.T) {
	store := newTestStore(t, 16)
	as := New("t1", newTestTable(newFakePageTable(), nil), store)

	v := &vm.VME{VAddr: 0x1000}
	require.NoError(t, as.InsertVME(v))

	got := as.FindVME(0x1000 + 50)
	assert.Same(t, v, got)
}

func TestDeleteVME_RemovesWithoutTouchingFrame(t *testing.T) {
	store := newTestStore(t, 16)
	as := New("t1", newTestTable(newFakePageTable(), nil), store)

	v := &vm.VME{VAddr: 0x1000}
	require.NoError(t, as.InsertVME(v))
	as.DeleteVME(v)
	assert.Nil(t, as.FindVME(0x1000))
}

func TestLoadFile_ZeroFillsPastReadBytes(t *testing.T) {
	store := newTestStore(t, 64)
	sec := uint32(5)
	require.NoError(t, store.Create(sec, 10, false))
	oi, err := store.Open(sec)
	require.NoError(t, err)
	_, err = store.WriteAt(oi, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 10, 0)
	require.NoError(t, err)
	require.NoError(t, store.Close(oi))

	as := New("t1", newTestTable(newFakePageTable(), nil), store)
	v := &vm.VME{Type: vm.BIN, File: &vm.FileBacking{Sector: sec}, Offset: 0, ReadBytes: 10, ZeroBytes: frame.PageSize - 10}

	kaddr := make([]byte, frame.PageSize)
	for i := range kaddr {
		kaddr[i] = 0xFF
	}
	full, err := as.LoadFile(kaddr, v)
	require.NoError(t, err)
	assert.True(t, full)
	assert.Equal(t, byte(1), kaddr[0])
	assert.Equal(t, byte(10), kaddr[9])
	assert.Equal(t, byte(0), kaddr[10], "bytes past read_bytes must be zero-filled")
}

func TestAllocPageAndAttachVME_MarksLoaded(t *testing.T) {
	store := newTestStore(t, 16)
	as := New("t1", newTestTable(newFakePageTable(), nil), store)

	v := &vm.VME{Type: vm.ANON, VAddr: 0x1000}
	require.NoError(t, as.InsertVME(v))
	f, err := as.AllocPage(0x1000)
	require.NoError(t, err)
	as.AttachVME(f, v)

	v.Lock()
	defer v.Unlock()
	assert.True(t, v.IsLoaded)
	assert.Same(t, v, f.VME)
}

func TestDestroy_FreesLoadedFramesAndClearsMap(t *testing.T) {
	store := newTestStore(t, 16)
	table := newTestTable(newFakePageTable(), nil)
	as := New("t1", table, store)

	v := &vm.VME{Type: vm.ANON, VAddr: 0x1000}
	require.NoError(t, as.InsertVME(v))
	f, err := as.AllocPage(0x1000)
	require.NoError(t, err)
	as.AttachVME(f, v)

	as.Destroy()
	assert.Nil(t, as.FindVME(0x1000))
	assert.Nil(t, table.Lookup("t1", 0x1000))
}

// TestMmap_BuildsOnePageDescriptorPerPage covers spec.md §8's E6 shape: a
// file spanning a bit more than one page produces two FILE descriptors,
// the second with a short read_bytes and the remainder zero-filled.
func TestMmap_BuildsOnePageDescriptorPerPage(t *testing.T) {
	store := newTestStore(t, 64)
	sec := uint32(5)
	length := frame.PageSize + 100
	require.NoError(t, store.Create(sec, int32(length), false))

	as := New("t1", newTestTable(newFakePageTable(), nil), store)
	const base = 0x20000000
	mapID, err := as.Mmap(sec, base)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, mapID, 0)

	v0 := as.FindVME(base)
	require.NotNil(t, v0)
	assert.Equal(t, frame.PageSize, v0.ReadBytes)

	v1 := as.FindVME(base + frame.PageSize)
	require.NotNil(t, v1)
	assert.Equal(t, 100, v1.ReadBytes)
	assert.Equal(t, frame.PageSize-100, v1.ZeroBytes)
}

func TestMmap_RejectsUnalignedAddress(t *testing.T) {
	store := newTestStore(t, 64)
	sec := uint32(5)
	require.NoError(t, store.Create(sec, 10, false))

	as := New("t1", newTestTable(newFakePageTable(), nil), store)
	_, err := as.Mmap(sec, 0x1001)
	assert.Error(t, err)
}

func TestMmap_RejectsEmptyFile(t *testing.T) {
	store := newTestStore(t, 64)
	sec := uint32(5)
	require.NoError(t, store.Create(sec, 0, false))

	as := New("t1", newTestTable(newFakePageTable(), nil), store)
	_, err := as.Mmap(sec, 0x1000)
	assert.Error(t, err)
}

// TestMunmap_WritesBackDirtyPageThenFreesFrame is the core of spec.md
// §8's E6.
func TestMunmap_WritesBackDirtyPageThenFreesFrame(t *testing.T) {
	store := newTestStore(t, 64)
	sec := uint32(5)
	require.NoError(t, store.Create(sec, int32(frame.PageSize), false))

	pt := newFakePageTable()
	wb := func(sector uint32, off int64, kaddr []byte, readBytes int) error {
		oi, err := store.Open(sector)
		if err != nil {
			return err
		}
		defer store.Close(oi)
		_, err = store.WriteAt(oi, kaddr, readBytes, off)
		return err
	}
	table := newTestTable(pt, wb)
	as := New("t1", table, store)

	mapID, err := as.Mmap(sec, 0x30000000)
	require.NoError(t, err)

	v := as.FindVME(0x30000000)
	require.NotNil(t, v)
	f, err := as.AllocPage(0x30000000)
	require.NoError(t, err)
	ok, err := as.LoadFile(f.KAddr, v)
	require.NoError(t, err)
	require.True(t, ok)
	as.AttachVME(f, v)
	f.KAddr[0] = 0xAB
	pt.dirty[fpKey("t1", 0x30000000)] = true

	require.NoError(t, as.Munmap(mapID))

	oi, err := store.Open(sec)
	require.NoError(t, err)
	defer store.Close(oi)
	var readback [1]byte
	_, err = store.ReadAt(oi, readback[:], 1, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), readback[0])
	assert.Nil(t, as.FindVME(0x30000000))
	assert.Nil(t, table.Lookup("t1", 0x30000000))
}

func TestMunmap_AllUnmapsEveryRecord(t *testing.T) {
	store := newTestStore(t, 64)
	sec1, sec2 := uint32(5), uint32(6)
	require.NoError(t, store.Create(sec1, int32(frame.PageSize), false))
	require.NoError(t, store.Create(sec2, int32(frame.PageSize), false))

	as := New("t1", newTestTable(newFakePageTable(), nil), store)
	_, err := as.Mmap(sec1, 0x30000000)
	require.NoError(t, err)
	_, err = as.Mmap(sec2, 0x40000000)
	require.NoError(t, err)

	require.NoError(t, as.Munmap(-1))
	assert.Nil(t, as.FindVME(0x30000000))
	assert.Nil(t, as.FindVME(0x40000000))
}
