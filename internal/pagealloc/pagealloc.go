// Package pagealloc implements the physical page allocator of spec.md
// §4.D: a bump-carved, freelist-threaded pool of fixed-size pages.
//
// Since this kernel core is hosted inside a regular Go process rather than
// running on bare metal, "physical memory" is simulated as a single []byte
// arena allocated once by New; PhysAddr is an offset into that arena
// rather than a real physical address, mirroring Biscuit's own K2P/P2V
// split (see DESIGN.md).
package pagealloc

import (
	"sync/atomic"
	"unsafe"

	"github.com/kvisel/smpcore/internal/kerr"
	"github.com/kvisel/smpcore/internal/spinlock"
)

// PageSize is spec.md §6's PAGE_SIZE constant.
const PageSize = 4096

// PhysAddr is an offset into the simulated physical arena, standing in for
// a real physical address.
type PhysAddr uintptr

// run is the freelist node threaded through a free page's first machine
// word, exactly as spec.md §3 describes.
type run struct {
	next *run
}

// Allocator owns the page pool [start, limit) and its freelist.
type Allocator struct {
	arena []byte
	start PhysAddr
	limit PhysAddr

	mu       spinlock.SpinLock
	freelist *run

	refCount atomic.Int64 // observability only, per spec.md §4.D
}

// New carves npages pages out of a freshly allocated arena and threads them
// onto the freelist, mirroring kinit's freerange(K2P(end), PHYSTOP).
func New(npages int) *Allocator {
	a := &Allocator{
		arena: make([]byte, npages*PageSize),
	}
	a.start = 0
	a.limit = PhysAddr(len(a.arena))

	for off := a.limit; off > a.start; off -= PageSize {
		p := off - PageSize
		r := a.pageAt(p)
		r.next = a.freelist
		a.freelist = r
	}
	return a
}

func (a *Allocator) pageAt(p PhysAddr) *run {
	return (*run)(unsafe.Pointer(&a.arena[p]))
}

// Bytes returns the raw backing bytes of page p, for callers (the slab
// allocator) that need to carve it into objects.
func (a *Allocator) Bytes(p PhysAddr) []byte {
	return a.arena[p : p+PageSize]
}

// Base returns the start of the simulated physical arena.
func (a *Allocator) Base() PhysAddr { return a.start }

// Limit returns the end of the simulated physical arena.
func (a *Allocator) Limit() PhysAddr { return a.limit }

// AllocPage pops a page from the freelist, returning kerr.ErrPoolExhausted
// when none remain. No panic on exhaustion, per spec.md §4.D/§7.
func (a *Allocator) AllocPage() (PhysAddr, error) {
	a.mu.Lock()
	r := a.freelist
	if r != nil {
		a.freelist = r.next
	}
	a.mu.Unlock()

	if r == nil {
		return 0, kerr.ErrPoolExhausted
	}
	a.refCount.Add(1)
	return a.offsetOf(r), nil
}

// FreePage validates alignment/range and pushes p back onto the freelist.
// Panics on a misaligned or out-of-range page, per spec.md §7's
// unrecoverable-panic stratum.
func (a *Allocator) FreePage(p PhysAddr) {
	if p%PageSize != 0 || p < a.start || p >= a.limit {
		panic(kerr.Panic(kerr.ErrBadPage, "FreePage: misaligned or out-of-range page"))
	}

	r := a.pageAt(p)
	a.mu.Lock()
	r.next = a.freelist
	a.freelist = r
	a.mu.Unlock()
	a.refCount.Add(-1)
}

func (a *Allocator) offsetOf(r *run) PhysAddr {
	return PhysAddr(uintptr(unsafe.Pointer(r)) - uintptr(unsafe.Pointer(&a.arena[0])))
}

// Stats reports the invariant from spec.md §8:
// (FreePages + AllocatedPages) == initial pool size at every instant an
// operation completes.
func (a *Allocator) Stats() (free, allocated int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for r := a.freelist; r != nil; r = r.next {
		n++
	}
	total := int(a.limit-a.start) / PageSize
	return n, total - n
}
