package pagealloc_test

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/kvisel/smpcore/internal/pagealloc"
)

// TestRapidConservationUnderRandomAllocFreeSequences drives the allocator
// with an arbitrary interleaving of alloc/free actions and checks, after
// every single action, the pool-size conservation invariant spec.md §8
// names (free+allocated == total) and that no currently-held page is ever
// handed out twice.
func TestRapidConservationUnderRandomAllocFreeSequences(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		const npages = 6
		a := pagealloc.New(npages)
		held := make(map[pagealloc.PhysAddr]bool)

		steps := rapid.IntRange(1, 64).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			allocWeighted := rapid.IntRange(0, 1).Draw(t, "action")
			if allocWeighted == 0 || len(held) == 0 {
				p, err := a.AllocPage()
				if err != nil {
					continue
				}
				if held[p] {
					t.Fatalf("page %d handed out while still held", p)
				}
				held[p] = true
			} else {
				var victim pagealloc.PhysAddr
				for p := range held {
					victim = p
					break
				}
				a.FreePage(victim)
				delete(held, victim)
			}

			free, allocated := a.Stats()
			if free+allocated != npages {
				t.Fatalf("conservation violated: free=%d allocated=%d total=%d", free, allocated, npages)
			}
			if allocated != len(held) {
				t.Fatalf("allocated count %d does not match held set size %d", allocated, len(held))
			}
		}
	})
}
