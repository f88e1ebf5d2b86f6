// sched.go implements the scheduler of spec.md §4.H: a single global
// scheduler spinlock, a single global run queue, per-CPU current/idle, and
// the voluntary sched(new_state) primitive. Grounded on
// original_source/src/kernel/sched.c (activate_proc/pick_next/sched/
// update_this_state/update_this_proc), with per-CPU bring-up grounded on
// Biscuit's cpus_start/ap_entry (see DESIGN.md).
package kernel

import (
	"context"
	"unsafe"

	"github.com/kvisel/smpcore/internal/kerr"
	"github.com/kvisel/smpcore/internal/klist"
	"github.com/kvisel/smpcore/internal/klog"
	"github.com/kvisel/smpcore/internal/spinlock"
	"github.com/kvisel/smpcore/internal/spinqueue"
)

// cpu is the per-CPU record of spec.md §3: online flag, timer registry,
// and this CPU's current/idle processes.
type cpu struct {
	online  bool
	current *Proc
	idle    *Proc
	timers  *TimerRegistry
}

// Scheduler is the single global scheduler: one spinlock, one run queue,
// NCPU per-CPU records.
type Scheduler struct {
	Lock  spinlock.SpinLock
	queue spinqueue.Queue

	tree *Tree
	cpus []cpu
}

// NewScheduler builds a scheduler with ncpu per-CPU slots over tree.
func NewScheduler(tree *Tree, ncpu int) *Scheduler {
	s := &Scheduler{tree: tree, cpus: make([]cpu, ncpu)}
	s.queue.Init()
	for i := range s.cpus {
		s.cpus[i].timers = NewTimerRegistry()
	}
	return s
}

// Timers returns cpuID's timer registry, without taking any lock. Nothing
// in internal/boot adds or fires timers through it.
func (s *Scheduler) Timers(cpuID int) *TimerRegistry { return s.cpus[cpuID].timers }

// NCPU reports the configured CPU count.
func (s *Scheduler) NCPU() int { return len(s.cpus) }

// ThisProc returns the process currently RUNNING on the given CPU. Always
// non-nil once the scheduler is initialized: idle fills any gap.
func (s *Scheduler) ThisProc(cpuID int) *Proc {
	return s.cpus[cpuID].current
}

// SetIdle installs p as cpuID's dedicated idle process and its initial
// current process, spec.md §4.J's per-CPU bring-up.
func (s *Scheduler) SetIdle(cpuID int, p *Proc) {
	p.Idle = true
	p.state = Running
	s.cpus[cpuID].idle = p
	s.cpus[cpuID].current = p
	s.cpus[cpuID].online = true
}

// Activate is spec.md §4.H's activate(p): a no-op if p is already
// RUNNING/RUNNABLE; if SLEEPING/UNUSED, sets RUNNABLE under the process-
// tree lock and pushes p's scheduling node onto the run queue. Any other
// state panics. The state check and the RUNNABLE write happen inside one
// tree-lock critical section, rather than reading p.state unlocked and
// then re-acquiring the lock to write: updateThisState (sched.go) writes
// this same field under the same lock, and Post (sem.go) calls Activate
// on a proc that some other CPU may be concurrently transitioning to
// SLEEPING — a separate, unlocked read here could observe the pre-
// transition state and silently drop the wakeup.
func (s *Scheduler) Activate(p *Proc) {
	s.tree.Lock.Lock()
	switch p.state {
	case Running, Runnable:
		s.tree.Lock.Unlock()
		return
	case Sleeping, Unused:
		p.state = Runnable
		s.tree.Lock.Unlock()

		s.queue.Lock.Lock()
		s.queue.Push(&p.sch.node)
		s.queue.Lock.Unlock()
	default:
		s.tree.Lock.Unlock()
		panic(kerr.Panic(kerr.ErrInvariant, "Activate: unexpected process state"))
	}
}

// pickNext walks the run queue from front looking for a RUNNABLE process.
// On the first hit it detaches it, re-pushes it to the back (round-robin),
// and returns it. If the queue is empty, or a full walk finds nothing
// RUNNABLE (a transient possibility with entries in flight), it returns
// cpuID's idle process. Caller must hold s.Lock; this additionally takes
// the run-queue's own lock, per spec.md's lock hierarchy.
func (s *Scheduler) pickNext(cpuID int) *Proc {
	s.queue.Lock.Lock()
	defer s.queue.Lock.Unlock()

	if s.queue.Empty() {
		return s.cpus[cpuID].idle
	}

	start := s.queue.Front()
	node := start
	for {
		next := node.Next()
		p := containerOfSchNode(node)
		if p.state == Runnable {
			s.queue.Detach(node)
			s.queue.Push(node)
			return p
		}
		if next == start {
			break
		}
		node = next
	}
	klog.CPU(klog.Warn("pick_next: walked full run queue, nothing runnable"), cpuID).Send()
	return s.cpus[cpuID].idle
}

// updateThisState sets this's state under the process-tree lock, detaching
// its scheduling node from the run queue if it is leaving for SLEEPING or
// ZOMBIE.
func (s *Scheduler) updateThisState(this *Proc, newState ProcState) {
	s.tree.Lock.Lock()
	defer s.tree.Lock.Unlock()

	this.state = newState
	if newState == Sleeping || newState == Zombie {
		s.queue.Lock.Lock()
		s.queue.Detach(&this.sch.node)
		s.queue.Lock.Unlock()
	}
}

func (s *Scheduler) updateThisProc(cpuID int, p *Proc) {
	s.tree.Lock.Lock()
	defer s.tree.Lock.Unlock()
	s.cpus[cpuID].current = p
}

// cpuIDOf finds which CPU slot currently has `this` installed as current.
// The scheduler lock (held by every Sched caller) makes this race-free.
func (s *Scheduler) cpuIDOf(this *Proc) int {
	for i := range s.cpus {
		if s.cpus[i].current == this {
			return i
		}
	}
	panic(kerr.Panic(kerr.ErrInvariant, "Sched: calling process is not any CPU's current"))
}

// Sched is spec.md §4.H's sched(new_state). Precondition: caller holds
// s.Lock and `this.state == RUNNING`. Transitions this to newState, picks
// a successor (idle counts as RUNNABLE for this purpose), installs it as
// the CPU's current, and — if distinct from the outgoing process —
// performs the swtch handoff. Releases s.Lock itself; the release is
// modeled as happening on the incoming execution path, exactly as spec.md
// describes ("the release is performed by the incoming execution path").
func (s *Scheduler) Sched(this *Proc, newState ProcState) {
	kerr.Assert(this.state == Running, "Sched: outgoing process is not RUNNING")

	cpuID := s.cpuIDOf(this)
	s.updateThisState(this, newState)
	s.relinquish(this, cpuID)
}

// MarkZombie transitions this straight to ZOMBIE and detaches it from the
// run queue, without yet yielding the CPU. Exit uses this (instead of
// folding the transition into Sched, as it does for SLEEPING) so that the
// ZOMBIE state and exit code are both visible to a concurrently-running
// parent's Wait before the parent's childexit semaphore is posted: unlike
// the single-flow-of-control original this is ported from, each CPU here
// is a genuinely concurrent goroutine, so posting before the state
// transition would let another CPU's Wait observe "woken" without yet
// observing "zombie" and park again forever. Caller must hold s.Lock.
func (s *Scheduler) MarkZombie(this *Proc) {
	kerr.Assert(this.state == Running, "MarkZombie: outgoing process is not RUNNING")
	s.updateThisState(this, Zombie)
}

// Relinquish picks a successor and performs the swtch handoff, for a
// caller that has already transitioned `this` out of RUNNING itself (see
// MarkZombie). Caller must hold s.Lock.
func (s *Scheduler) Relinquish(this *Proc) {
	cpuID := s.cpuIDOf(this)
	s.relinquish(this, cpuID)
}

func (s *Scheduler) relinquish(this *Proc, cpuID int) {
	next := s.pickNext(cpuID)

	s.updateThisProc(cpuID, next)

	kerr.Assert(next.state == Runnable || next.Idle, "Sched: picked process is not runnable")
	next.state = Running
	AttachAddressSpace(next)

	if next != this {
		swtch(this, next, &s.Lock)
	} else {
		s.Lock.Unlock()
	}
}

// swtch is the channel-handoff realization of spec.md §6's register-level
// swtch(&old, new): it wakes the incoming process's dedicated goroutine by
// sending on its resume channel, then blocks the outgoing goroutine
// receiving on its own resume channel until something schedules it again.
// Unlocking before the handoff plays the part of spec.md's "the release is
// performed by the incoming execution path": by the time either the
// trampoline (Start, first resumption) or a previously parked goroutine
// (any later resumption) actually runs again, the lock is already free,
// exactly as if that incoming path had released it itself.
func swtch(old, next *Proc, lock *spinlock.SpinLock) {
	lock.Unlock()
	next.resume <- struct{}{}
	<-old.resume
}

// Yield is the idle loop's cooperative re-schedule point: it re-acquires
// the scheduler lock and calls Sched with the caller's own current state
// (RUNNING, the only state Sched accepts outgoing), so pickNext gets a
// chance to hand the CPU to something newly runnable without idle ever
// leaving RUNNING itself.
func (s *Scheduler) Yield(this *Proc) {
	s.Lock.Lock()
	s.Sched(this, Running)
}

// RunIdle is cpuID's main loop: spec.md §4.J's per-CPU bring-up installs a
// dedicated idle process per CPU, and this is that process's body —
// repeatedly yielding so pick_next gets a chance to hand the CPU to real
// work. The ctx check is purely a hosting-layer shutdown hook (this
// process being hosted inside a regular OS process that must eventually
// terminate); it is not part of spec.md's scheduling semantics, which has
// no shutdown protocol for idle itself.
func (s *Scheduler) RunIdle(ctx context.Context, cpuID int, idle *Proc) {
	for ctx.Err() == nil {
		s.Yield(idle)
	}
}

func containerOfSchNode(n *klist.Node) *Proc {
	return (*Proc)(ptrSub(n, schNodeOffset))
}

var schNodeOffset = unsafe.Offsetof(Proc{}.sch) + unsafe.Offsetof(schinfo{}.node)
