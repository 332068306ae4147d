package freemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pintoskernel/pintosfs/internal/blockdev"
	"github.com/pintoskernel/pintosfs/internal/buffercache"
)

func TestNewInMemory_AllFree(t *testing.T) {
	fm := NewInMemory(16)
	for i := uint32(0); i < 16; i++ {
		assert.False(t, fm.InUse(i))
	}
}

func TestAllocate_MarksContiguousRunUsed(t *testing.T) {
	fm := NewInMemory(16)
	start, ok := fm.Allocate(3)
	require.True(t, ok)
	assert.Equal(t, uint32(0), start)
	for i := uint32(0); i < 3; i++ {
		assert.True(t, fm.InUse(i))
	}
	assert.False(t, fm.InUse(3))
}

func TestAllocate_SkipsAlreadyUsedIndices(t *testing.T) {
	fm := NewInMemory(8)
	_, ok := fm.Allocate(1)
	require.True(t, ok)

	second, ok := fm.Allocate(1)
	require.True(t, ok)
	assert.Equal(t, uint32(1), second)
}

func TestAllocate_ExhaustionReportsFalse(t *testing.T) {
	fm := NewInMemory(2)
	_, ok := fm.Allocate(2)
	require.True(t, ok)

	_, ok = fm.Allocate(1)
	assert.False(t, ok, "allocating beyond capacity must fail, not panic")
}

func TestRelease_MakesIndexAllocatableAgain(t *testing.T) {
	fm := NewInMemory(4)
	start, ok := fm.Allocate(1)
	require.True(t, ok)
	require.True(t, fm.InUse(start))

	fm.Release(start, 1)
	assert.False(t, fm.InUse(start))

	again, ok := fm.Allocate(1)
	require.True(t, ok)
	assert.Equal(t, start, again)
}

func TestFormat_ReservedIndicesStartAllocated(t *testing.T) {
	dev := blockdev.NewMemDevice(8)
	cache := buffercache.New(dev, 8)

	fm, err := Format(cache, 32, []uint32{1}, []uint32{0, 1, 2})
	require.NoError(t, err)

	assert.True(t, fm.InUse(0))
	assert.True(t, fm.InUse(1))
	assert.True(t, fm.InUse(2))
	assert.False(t, fm.InUse(3))
}

func TestFormat_TooFewSectorsForBitmap(t *testing.T) {
	dev := blockdev.NewMemDevice(1)
	cache := buffercache.New(dev, 1)

	_, err := Format(cache, 100000, nil, nil)
	assert.Error(t, err)
}

func TestOpen_ReloadsPersistedBitmapState(t *testing.T) {
	dev := blockdev.NewMemDevice(8)
	cache := buffercache.New(dev, 8)

	fm, err := Format(cache, 32, []uint32{1}, []uint32{0, 1})
	require.NoError(t, err)
	sec, ok := fm.Allocate(1)
	require.True(t, ok)
	require.NoError(t, cache.FlushAll())

	reopened, err := Open(cache, 32, []uint32{1})
	require.NoError(t, err)
	assert.True(t, reopened.InUse(0))
	assert.True(t, reopened.InUse(1))
	assert.True(t, reopened.InUse(sec))
}
