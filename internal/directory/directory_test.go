package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pintoskernel/pintosfs/internal/blockdev"
	"github.com/pintoskernel/pintosfs/internal/buffercache"
	"github.com/pintoskernel/pintosfs/internal/freemap"
	"github.com/pintoskernel/pintosfs/internal/inode"
)

func newTestStore(t *testing.T, sectors uint32) (*inode.Store, *freemap.FreeMap) {
	t.Helper()
	dev := blockdev.NewMemDevice(sectors)
	cache := buffercache.New(dev, 16)
	fm := freemap.NewInMemory(sectors)
	return inode.NewStore(cache, fm), fm
}

func TestCreateAndOpen_FreshDirectoryHasNoEntries(t *testing.T) {
	store, fm := newTestStore(t, 64)
	sec, ok := fm.Allocate(1)
	require.True(t, ok)
	require.NoError(t, Create(store, sec, 4))

	oi, err := store.Open(sec)
	require.NoError(t, err)
	d, err := Open(store, oi)
	require.NoError(t, err)
	defer d.Close()

	_, found, err := d.Lookup("anything")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestOpen_RejectsNonDirectoryInode(t *testing.T) {
	store, fm := newTestStore(t, 64)
	sec, ok := fm.Allocate(1)
	require.True(t, ok)
	require.NoError(t, store.Create(sec, 0, false))

	oi, err := store.Open(sec)
	require.NoError(t, err)
	defer store.Close(oi)

	_, err = Open(store, oi)
	assert.Error(t, err)
}

func TestAddAndLookup_RoundTrips(t *testing.T) {
	store, fm := newTestStore(t, 64)
	sec, ok := fm.Allocate(1)
	require.True(t, ok)
	require.NoError(t, Create(store, sec, 4))

	oi, err := store.Open(sec)
	require.NoError(t, err)
	d, err := Open(store, oi)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Add("foo", 42))
	got, found, err := d.Lookup("foo")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint32(42), got)
}

func TestAdd_RejectsDuplicateName(t *testing.T) {
	store, fm := newTestStore(t, 64)
	sec, ok := fm.Allocate(1)
	require.True(t, ok)
	require.NoError(t, Create(store, sec, 4))
	oi, err := store.Open(sec)
	require.NoError(t, err)
	d, err := Open(store, oi)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Add("foo", 1))
	err = d.Add("foo", 2)
	assert.Error(t, err)
}

func TestAdd_ReusesSlotFreedByRemove(t *testing.T) {
	store, fm := newTestStore(t, 64)
	sec, ok := fm.Allocate(1)
	require.True(t, ok)
	require.NoError(t, Create(store, sec, 1))
	oi, err := store.Open(sec)
	require.NoError(t, err)
	d, err := Open(store, oi)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Add("a", 1))
	require.NoError(t, d.Remove("a"))
	// A single-entry directory with its only slot freed must accept a new
	// name without growing.
	require.NoError(t, d.Add("b", 2))

	length, err := store.Length(oi)
	require.NoError(t, err)
	assert.Equal(t, int64(entrySize), length, "reusing a freed slot must not grow the directory")
}

func TestRemove_UnknownNameErrors(t *testing.T) {
	store, fm := newTestStore(t, 64)
	sec, ok := fm.Allocate(1)
	require.True(t, ok)
	require.NoError(t, Create(store, sec, 1))
	oi, err := store.Open(sec)
	require.NoError(t, err)
	d, err := Open(store, oi)
	require.NoError(t, err)
	defer d.Close()

	assert.Error(t, d.Remove("nope"))
}

func TestIterator_SkipsDotEntriesAndRemovedSlots(t *testing.T) {
	store, fm := newTestStore(t, 64)
	sec, ok := fm.Allocate(1)
	require.True(t, ok)
	require.NoError(t, Create(store, sec, 4))
	oi, err := store.Open(sec)
	require.NoError(t, err)
	d, err := Open(store, oi)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.AddDotEntries(sec, sec))
	require.NoError(t, d.Add("a", 10))
	require.NoError(t, d.Add("b", 11))
	require.NoError(t, d.Remove("b"))

	it := d.NewIterator()
	var names []string
	for {
		name, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		names = append(names, name)
	}
	assert.Equal(t, []string{"a"}, names)
}

func TestReopen_SharesSameInodeHandle(t *testing.T) {
	store, fm := newTestStore(t, 64)
	sec, ok := fm.Allocate(1)
	require.True(t, ok)
	require.NoError(t, Create(store, sec, 1))
	oi, err := store.Open(sec)
	require.NoError(t, err)
	d, err := Open(store, oi)
	require.NoError(t, err)
	defer d.Close()

	d2 := Reopen(store, d)
	defer d2.Close()
	assert.Same(t, d.Inode, d2.Inode)
}
