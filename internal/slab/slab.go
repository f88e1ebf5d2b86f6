// Package slab implements the fixed-size object cache allocator of
// spec.md §4.E: ten power-of-two size classes carving pages drawn from
// internal/pagealloc. Grounded on original_source/src/kernel/mem.c's
// struct Cache/struct Slab/slab_alloc/slab_free/get_cache, with the
// "carve a page into equal free-linked objects" idiom reinforced by the Go
// runtime's own mheap/mspan splitting and sync.Pool's free-list-over-
// storage pattern (see DESIGN.md).
package slab

import (
	"unsafe"

	"github.com/kvisel/smpcore/internal/kerr"
	"github.com/kvisel/smpcore/internal/pagealloc"
	"github.com/kvisel/smpcore/internal/spinlock"
)

// NumCache is spec.md §6's NUM_CACHE.
const NumCache = 10

// HeaderSize is the 32-byte slab header spec.md §3/§6 specifies.
const HeaderSize = 32

// sizeClasses is the fixed {8, 16, ..., 4096} size-class set.
var sizeClasses = [NumCache]int{8, 16, 32, 64, 128, 256, 512, 1024, 2048, 4096}

// slabHeader occupies the first HeaderSize bytes of a slab page. Laid out
// to fit in 32 bytes: a next-slab pointer, the intra-slab free-object list
// head, a free count, and a spinlock.
type slabHeader struct {
	next      *slabHeader
	freeList  unsafe.Pointer
	freeCount uint32
	lock      spinlock.SpinLock
}

// cache is one per size class: a singly linked list of slabs, a slab
// count, and the object size it serves.
type cache struct {
	lock     spinlock.SpinLock
	slabs    *slabHeader
	slabCnt  int
	objSize  int
}

// Allocator is the slab allocator: NumCache caches drawing pages from a
// pagealloc.Allocator.
type Allocator struct {
	pages  *pagealloc.Allocator
	caches [NumCache]cache
}

// New builds an allocator over pages, with caches for the fixed size-class
// set spec.md §6 names.
func New(pages *pagealloc.Allocator) *Allocator {
	a := &Allocator{pages: pages}
	for i, sz := range sizeClasses {
		a.caches[i].objSize = sz
	}
	return a
}

// getCache returns the smallest cache whose object size is >= size, or nil
// if none fits (size exceeds the largest class or a page).
func (a *Allocator) getCache(size int) *cache {
	if size > pagealloc.PageSize {
		return nil
	}
	for i := range a.caches {
		if size <= a.caches[i].objSize {
			return &a.caches[i]
		}
	}
	return nil
}

// Alloc returns a zero-length-free object of at least size bytes, or
// kerr.ErrNoCache if size exceeds a page or no class fits.
func (a *Allocator) Alloc(size int) (unsafe.Pointer, error) {
	c := a.getCache(size)
	if c == nil {
		return nil, kerr.ErrNoCache
	}
	return a.allocFromCache(c)
}

func (a *Allocator) allocFromCache(c *cache) (unsafe.Pointer, error) {
	// Walk existing slabs looking for free capacity.
	c.lock.Lock()
	slab := c.slabs
	c.lock.Unlock()

	for slab != nil {
		slab.lock.Lock()
		if slab.freeCount > 0 {
			obj := slab.freeList
			slab.freeList = *(*unsafe.Pointer)(obj)
			slab.freeCount--
			slab.lock.Unlock()
			return obj, nil
		}
		slab.lock.Unlock()
		slab = slab.next
	}

	// No slab had capacity: carve a fresh page.
	return a.growAndAlloc(c)
}

func (a *Allocator) growAndAlloc(c *cache) (unsafe.Pointer, error) {
	page, err := a.pages.AllocPage()
	if err != nil {
		return nil, err
	}
	buf := a.pages.Bytes(page)

	slab := (*slabHeader)(unsafe.Pointer(&buf[0]))
	*slab = slabHeader{}

	objSize := c.objSize
	count := (pagealloc.PageSize - HeaderSize) / objSize
	base := uintptr(unsafe.Pointer(&buf[HeaderSize]))

	// Thread the free list through each object's own first word, last
	// object's link is nil, exactly as spec.md §3/§4.E describes.
	for i := 0; i < count; i++ {
		obj := unsafe.Pointer(base + uintptr(i*objSize))
		var nextPtr unsafe.Pointer
		if i+1 < count {
			nextPtr = unsafe.Pointer(base + uintptr((i+1)*objSize))
		}
		*(*unsafe.Pointer)(obj) = nextPtr
	}

	slab.freeList = unsafe.Pointer(base)
	slab.freeCount = uint32(count)

	c.lock.Lock()
	slab.next = c.slabs
	c.slabs = slab
	c.slabCnt++
	c.lock.Unlock()

	slab.lock.Lock()
	obj := slab.freeList
	slab.freeList = *(*unsafe.Pointer)(obj)
	slab.freeCount--
	slab.lock.Unlock()

	return obj, nil
}

// Free returns obj to its owning slab, located by page-rounding the
// pointer down (zero lookup cost, per spec.md §3's invariant). Slab pages
// are never returned to the page allocator (see DESIGN.md's Open Question
// resolution).
func (a *Allocator) Free(obj unsafe.Pointer) {
	page := pageRoundDown(obj)
	slab := (*slabHeader)(unsafe.Pointer(page))

	slab.lock.Lock()
	*(*unsafe.Pointer)(obj) = slab.freeList
	slab.freeList = obj
	slab.freeCount++
	slab.lock.Unlock()
}

func pageRoundDown(obj unsafe.Pointer) uintptr {
	return uintptr(obj) &^ (pagealloc.PageSize - 1)
}

// ObjSizeFor reports the object size of the cache that would serve size,
// used by tests asserting the layout invariants in spec.md §8.
func (a *Allocator) ObjSizeFor(size int) (int, bool) {
	c := a.getCache(size)
	if c == nil {
		return 0, false
	}
	return c.objSize, true
}

// CacheStats reports free_count vs. slab count for the cache serving size,
// used by spec.md §8's at-rest invariants.
func (a *Allocator) CacheStats(size int) (slabCount int, freeObjs int, ok bool) {
	c := a.getCache(size)
	if c == nil {
		return 0, 0, false
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	slabCount = c.slabCnt
	for s := c.slabs; s != nil; s = s.next {
		s.lock.Lock()
		freeObjs += int(s.freeCount)
		s.lock.Unlock()
	}
	return slabCount, freeObjs, true
}
