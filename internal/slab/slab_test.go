package slab_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/kvisel/smpcore/internal/kerr"
	"github.com/kvisel/smpcore/internal/pagealloc"
	"github.com/kvisel/smpcore/internal/slab"
)

func newAllocator(t *testing.T, pages int) *slab.Allocator {
	t.Helper()
	return slab.New(pagealloc.New(pages))
}

func TestSlabCoverageBySize(t *testing.T) {
	a := newAllocator(t, 8)

	sz, ok := a.ObjSizeFor(100)
	require.True(t, ok)
	require.Equal(t, 128, sz)

	sz, ok = a.ObjSizeFor(4096)
	require.True(t, ok)
	require.Equal(t, 4096, sz)

	_, ok = a.ObjSizeFor(4097)
	require.False(t, ok)
}

func TestAllocTooLargeReturnsErrNoCache(t *testing.T) {
	a := newAllocator(t, 8)
	_, err := a.Alloc(4097)
	require.ErrorIs(t, err, kerr.ErrNoCache)
}

func TestAllocatedObjectWithinSlabBounds(t *testing.T) {
	a := newAllocator(t, 8)
	obj, err := a.Alloc(64)
	require.NoError(t, err)

	addr := uintptr(obj)
	pageBase := addr &^ (pagealloc.PageSize - 1)
	require.GreaterOrEqual(t, addr, pageBase+slab.HeaderSize)
	require.Less(t, addr+64, pageBase+pagealloc.PageSize+1)
}

func TestFreeCountMatchesFreeListLength(t *testing.T) {
	a := newAllocator(t, 8)

	const size = 256
	var objs []unsafe.Pointer
	for i := 0; i < 3; i++ {
		o, err := a.Alloc(size)
		require.NoError(t, err)
		objs = append(objs, o)
	}

	_, free, ok := a.CacheStats(size)
	require.True(t, ok)
	objsPerSlab := (pagealloc.PageSize - slab.HeaderSize) / size
	require.Equal(t, objsPerSlab-3, free)

	for _, o := range objs {
		a.Free(o)
	}
	_, free, ok = a.CacheStats(size)
	require.True(t, ok)
	require.Equal(t, objsPerSlab, free)
}

func TestGrowsNewSlabWhenExistingSlabsFull(t *testing.T) {
	a := newAllocator(t, 8)
	const size = 2048
	perSlab := (pagealloc.PageSize - slab.HeaderSize) / size

	for i := 0; i < perSlab; i++ {
		_, err := a.Alloc(size)
		require.NoError(t, err)
	}
	slabsBefore, _, _ := a.CacheStats(size)
	require.Equal(t, 1, slabsBefore)

	_, err := a.Alloc(size)
	require.NoError(t, err)
	slabsAfter, _, _ := a.CacheStats(size)
	require.Equal(t, 2, slabsAfter)
}

func TestNoDoubleFreeOnSameFreeList(t *testing.T) {
	a := newAllocator(t, 4)
	o1, err := a.Alloc(32)
	require.NoError(t, err)
	o2, err := a.Alloc(32)
	require.NoError(t, err)
	require.NotEqual(t, o1, o2)

	a.Free(o1)
	a.Free(o2)
	_, free, _ := a.CacheStats(32)
	perSlab := (pagealloc.PageSize - slab.HeaderSize) / 32
	require.Equal(t, perSlab, free)
}
