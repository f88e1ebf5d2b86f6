package boot_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kvisel/smpcore/internal/boot"
	"github.com/kvisel/smpcore/internal/kernel"
)

// tb is the part of *testing.T and *rapid.T the helpers below use, so the
// same helpers serve both plain and property-based tests.
type tb interface {
	Helper()
	Fatal(args ...any)
	Fatalf(format string, args ...any)
}

// runBackground starts k.Run in the background and returns a function that
// cancels it and waits for it to actually stop, so tests never leak
// goroutines across cases.
func runBackground(t tb, k *boot.Kernel) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = k.Run(ctx)
	}()
	return func() {
		cancel()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			t.Fatal("kernel did not stop after cancel")
		}
	}
}

func requireSoon(t tb, done <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// Scenario 1: Boot liveness.
func TestBootLiveness(t *testing.T) {
	const ncpu = 4
	k, err := boot.Init(boot.Config{NCPU: ncpu, Pages: 64})
	require.NoError(t, err)

	root := k.Tree.Root()
	require.Equal(t, int32(1), root.Pid)

	for id := 0; id < ncpu; id++ {
		idle := k.Sched.ThisProc(id)
		require.Equal(t, kernel.Running, idle.State())
		require.Equal(t, int32(id+2), idle.Pid)
	}
}

// Scenario 4: Fork/wait.
func TestForkWaitReturnsExitCodeAndReclaimsResources(t *testing.T) {
	k, err := boot.Init(boot.Config{NCPU: 2, Pages: 64})
	require.NoError(t, err)
	stop := runBackground(t, k)
	defer stop()

	root := k.Tree.Root()
	done := make(chan struct{})

	freeBefore, _ := k.Pages.Stats()

	var gotPid int32
	var gotCode int
	var gotErr error

	k.Start(root, func(uint64) {
		child := k.Tree.CreateProc()
		k.Tree.SetParentToThis(root, child)
		k.Start(child, func(uint64) {
			k.Exit(child, 42)
		}, 0)

		gotPid, gotCode, gotErr = k.Wait(root)
		close(done)
	}, 0)

	requireSoon(t, done, "wait to return")
	require.NoError(t, gotErr)
	require.Equal(t, 42, gotCode)
	require.Positive(t, gotPid)

	freeAfter, _ := k.Pages.Stats()
	require.Equal(t, freeBefore, freeAfter, "child's kernel-stack page must be back in the pool after reap")
}

// Scenario 5: Orphan re-parenting.
func TestOrphanReparentingOnExit(t *testing.T) {
	k, err := boot.Init(boot.Config{NCPU: 2, Pages: 64})
	require.NoError(t, err)
	stop := runBackground(t, k)
	defer stop()

	root := k.Tree.Root()
	done := make(chan struct{})

	a := k.Tree.CreateProc()
	b := k.Tree.CreateProc()
	c := k.Tree.CreateProc()
	k.Tree.SetParentToThis(root, a)
	k.Tree.SetParentToThis(a, b)
	k.Tree.SetParentToThis(a, c)

	k.Start(a, func(uint64) {
		k.Exit(a, 0)
	}, 0)

	var waitErr error
	k.Start(root, func(uint64) {
		_, _, waitErr = k.Wait(root)
		close(done)
	}, 0)

	requireSoon(t, done, "root to reap A")
	require.NoError(t, waitErr)
	require.Same(t, root, b.Parent)
	require.Same(t, root, c.Parent)
	require.Contains(t, root.DebugChildren(), b.Pid)
	require.Contains(t, root.DebugChildren(), c.Pid)
}

// Scenario 3: Producer/consumer.
func TestProducerConsumerSemaphoreRoundTrips(t *testing.T) {
	const n = 200
	k, err := boot.Init(boot.Config{NCPU: 4, Pages: 64})
	require.NoError(t, err)
	stop := runBackground(t, k)
	defer stop()

	root := k.Tree.Root()
	sem := kernel.NewSemaphore(0)
	var acquired int32
	done := make(chan struct{})

	k.Start(root, func(uint64) {
		producer := k.Tree.CreateProc()
		consumer := k.Tree.CreateProc()
		k.Tree.SetParentToThis(root, producer)
		k.Tree.SetParentToThis(root, consumer)

		k.Start(producer, func(uint64) {
			for i := 0; i < n; i++ {
				sem.Post(k.Sched)
			}
			k.Exit(producer, 0)
		}, 0)

		k.Start(consumer, func(uint64) {
			count := 0
			for i := 0; i < n; i++ {
				if sem.Acquire(k.Sched, consumer) {
					count++
				}
			}
			atomic.StoreInt32(&acquired, int32(count))
			k.Exit(consumer, 0)
		}, 0)

		k.Wait(root)
		k.Wait(root)
		close(done)
	}, 0)

	requireSoon(t, done, "producer/consumer round trips")
	require.Equal(t, int32(n), atomic.LoadInt32(&acquired))
	require.Equal(t, 0, sem.Value())
}

// Scenario 6: Queue emptiness — after the only RUNNABLE process exits, the
// scheduler keeps running (idle picks up the slack) and a freshly activated
// process still gets scheduled.
func TestQueueEmptinessThenFreshActivationStillRuns(t *testing.T) {
	k, err := boot.Init(boot.Config{NCPU: 2, Pages: 64})
	require.NoError(t, err)
	stop := runBackground(t, k)
	defer stop()

	root := k.Tree.Root()
	first := make(chan struct{})
	second := make(chan struct{})

	k.Start(root, func(uint64) {
		close(first)
	}, 0)

	requireSoon(t, first, "first process to run")

	p := k.Tree.CreateProc()
	k.Tree.SetParentToThis(root, p)
	k.Start(p, func(uint64) {
		close(second)
	}, 0)

	requireSoon(t, second, "freshly activated process to run after queue drained")
}
