// sem.go implements the counting semaphore of spec.md §4.F. Grounded on
// original_source/src/common/sem.c's init_sem/get_sem/get_all_sem/
// wait_sem/post_sem, translated into this package's Proc/Scheduler
// vocabulary.
package kernel

import (
	"github.com/kvisel/smpcore/internal/kerr"
	"github.com/kvisel/smpcore/internal/klist"
	"github.com/kvisel/smpcore/internal/klog"
	"github.com/kvisel/smpcore/internal/spinlock"
)

// waitData is a parked waiter's record, spec.md §3: {proc, acknowledged,
// list_node}.
type waitData struct {
	proc         *Proc
	acknowledged bool
	node         klist.Node
}

// Semaphore is {value, lock, sleepers}, spec.md §3.
type Semaphore struct {
	lock     spinlock.SpinLock
	value    int
	sleepers klist.Node
}

// NewSemaphore returns an initialized semaphore with the given initial
// value, spec.md §4.F's init(s, n).
func NewSemaphore(n int) *Semaphore {
	s := &Semaphore{value: n}
	klist.Init(&s.sleepers)
	return s
}

// Value reports the current value, for tests and observability only —
// never use this to decide whether Acquire would block, since it races.
func (s *Semaphore) Value() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.value
}

// TryAcquire is the non-blocking form: decrements and returns true only if
// value was already > 0.
func (s *Semaphore) TryAcquire() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.value > 0 {
		s.value--
		return true
	}
	return false
}

// Drain is the non-blocking snapshot form: returns the current value and
// resets it to 0, or returns 0 if value was already <= 0.
func (s *Semaphore) Drain() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.value > 0 {
		v := s.value
		s.value = 0
		return v
	}
	return 0
}

// Acquire is the blocking form. It decrements value; if the result is
// still >= 0 it returns true immediately. Otherwise it parks the calling
// process on the sleep queue and hands off atomically to the scheduler:
// acquire the scheduler lock *before* releasing the semaphore lock, so no
// Post can observe "decided to sleep" without also observing "parked" —
// spec.md §5's named special case. On wakeup it reacquires the semaphore
// lock; if the wait was not acknowledged by a matching Post (a spurious
// activation), it restores value and detaches its own node. Returns
// whether the wait was acknowledged.
func (s *Semaphore) Acquire(sched *Scheduler, this *Proc) bool {
	s.lock.Lock()
	s.value--
	if s.value >= 0 {
		s.lock.Unlock()
		return true
	}

	wait := &waitData{proc: this}
	klist.Insert(&s.sleepers, &wait.node)

	sched.Lock.Lock()
	s.lock.Unlock()

	sched.Sched(this, Sleeping)

	s.lock.Lock()
	if !wait.acknowledged {
		kerr.Assert(s.value <= 0, "Acquire: spurious wakeup with value > 0")
		klog.Proc(klog.Warn("Acquire: spurious wakeup, unacknowledged wait"), this.Pid).Send()
		s.value++
		klist.Detach(&wait.node)
	}
	s.lock.Unlock()

	return wait.acknowledged
}

// Post increments value. If the new value is <= 0, there were waiters:
// spec.md mandates popping the *last* (oldest) waiter — sleepers.Prev(),
// since insertion is always at the head — marking it acknowledged,
// detaching it, and activating its process via the scheduler.
func (s *Semaphore) Post(sched *Scheduler) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.value++
	if s.value <= 0 {
		kerr.Assert(!klist.Empty(&s.sleepers), "Post: value<=0 but sleepers empty")
		waitNode := s.sleepers.Prev()
		wait := containerOfWaitNode(waitNode)
		wait.acknowledged = true
		klist.Detach(waitNode)
		sched.Activate(wait.proc)
	}
}

func containerOfWaitNode(n *klist.Node) *waitData {
	return (*waitData)(ptrSub(n, waitNodeOffset))
}
