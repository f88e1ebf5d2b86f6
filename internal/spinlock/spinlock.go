// Package spinlock implements a busy-wait mutual exclusion lock.
//
// spec.md's lock hierarchy distinguishes spinlocks, which busy-wait and
// never suspend the calling process, from the counting semaphore, whose
// acquire path is the only thing allowed to call sched(SLEEPING). A plain
// sync.Mutex would let the Go scheduler park the calling goroutine under
// contention, which is a different (and for this spec, wrong) suspension
// point: nothing may yield the simulated CPU while holding a spinlock, so
// the underlying primitive has to be hand-rolled over sync/atomic rather
// than reused from sync.
package spinlock

import (
	"runtime"
	"sync/atomic"
)

// SpinLock is an unfair busy-wait lock. Zero value is unlocked.
type SpinLock struct {
	held atomic.Bool
}

// Lock busy-waits until the lock is acquired.
func (l *SpinLock) Lock() {
	for !l.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

// Unlock releases the lock. Unlocking an already-unlocked SpinLock is a
// caller bug; it is not detected here, matching spec.md's "spinlock
// acquisition busy-waits" contract, which says nothing about misuse.
func (l *SpinLock) Unlock() {
	l.held.Store(false)
}

// TryLock attempts to acquire the lock without waiting.
func (l *SpinLock) TryLock() bool {
	return l.held.CompareAndSwap(false, true)
}
