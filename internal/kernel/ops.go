// ops.go implements the process lifecycle operations of spec.md §4.G that
// need both the process tree and the scheduler: Start, Wait, Exit, and the
// open-question Kill. Grounded on original_source/src/kernel/proc.c's
// start_proc/wait/exit/kill.
package kernel

import (
	"github.com/kvisel/smpcore/internal/kerr"
	"github.com/kvisel/smpcore/internal/klist"
)

// Kernel bundles the process tree and scheduler that together realize
// spec.md's process lifecycle; most operations below are methods on
// *Kernel rather than on Tree/Scheduler individually, since spec.md's
// start/wait/exit all cross both.
type Kernel struct {
	Tree  *Tree
	Sched *Scheduler
}

// Start is spec.md §4.G's start(p, entry, arg): if p has no parent yet, it
// is adopted to root. entry and arg are recorded on p (its KernelContext
// is left untouched) so that the first resumption (here: the process's
// dedicated goroutine unblocking for the first time) tail-calls
// entry(arg) — the trampoline described in DESIGN.md. p is then activated
// and its pid returned.
func (k *Kernel) Start(p *Proc, entry func(arg uint64), arg uint64) int32 {
	k.Tree.Lock.Lock()
	if p.Parent == nil {
		k.Tree.adoptToRoot(p)
	}
	p.entry = entry
	p.arg = arg
	k.Tree.Lock.Unlock()

	go func() {
		<-p.resume
		p.entry(p.arg)
	}()

	k.Sched.Activate(p)
	return p.Pid
}

// Wait is spec.md §4.G's wait(&exitcode). Under the tree lock: if the
// caller has no children, returns kerr.ErrNoChildren. Otherwise loops,
// reaping the first ZOMBIE child found (removing it from the children
// list, copying its exit code, freeing its kernel-stack page and PCB
// slot, returning its pid); if none is ready, it releases the tree lock
// and blocks on the caller's own ChildExit semaphore, retrying on wakeup.
func (k *Kernel) Wait(this *Proc) (pid int32, exitCode int, err error) {
	k.Tree.Lock.Lock()

	if klist.Empty(&this.children) {
		k.Tree.Lock.Unlock()
		return -1, 0, kerr.ErrNoChildren
	}

	for {
		node := this.children.Next()
		for node != &this.children {
			next := node.Next()
			child := containerOfPtnode(node)

			if k.isZombie(child) {
				childPid := child.Pid
				childExit := child.ExitCode

				klist.Detach(&child.ptnode)
				k.reap(child)

				k.Tree.Lock.Unlock()
				return childPid, childExit, nil
			}
			node = next
		}

		k.Tree.Lock.Unlock()
		this.ChildExit.Acquire(k.Sched, this)
		k.Tree.Lock.Lock()
	}
}

func (k *Kernel) isZombie(p *Proc) bool {
	k.Sched.Lock.Lock()
	defer k.Sched.Lock.Unlock()
	return p.state == Zombie
}

// reap frees a zombie child's kernel-stack page and PCB slot.
func (k *Kernel) reap(child *Proc) {
	k.Tree.pages.FreePage(child.kstack)
	k.Tree.slabs.Free(child.pcbSlot)
}

// Exit is spec.md §4.G's exit(code). Forbidden for the root process
// (panics). Re-parents all of the caller's children to root (activating
// root so it may observe them), records the exit code, transitions to
// ZOMBIE, posts the parent's ChildExit semaphore, then relinquishes the
// CPU. The transition to ZOMBIE happens before the post (see
// Scheduler.MarkZombie) so a concurrently-running parent's Wait can never
// observe "woken" without also observing "zombie". Never returns.
func (k *Kernel) Exit(this *Proc, code int) {
	if this == k.Tree.root {
		panic(kerr.Panic(kerr.ErrInvariant, "Exit: root process may not exit"))
	}

	k.Tree.Lock.Lock()
	hadChildren := !klist.Empty(&this.children)
	if hadChildren {
		node := this.children.Next()
		for node != &this.children {
			next := node.Next()
			child := containerOfPtnode(node)
			klist.Detach(&child.ptnode)
			k.Tree.adoptToRoot(child)
			node = next
		}
	}
	k.Tree.Lock.Unlock()

	// Activate takes Tree.Lock itself (sched.go), so it must run after the
	// unlock above: calling it while still holding Tree.Lock here would
	// self-deadlock against spinlock.SpinLock's non-reentrant busy-wait.
	if hadChildren {
		k.Sched.Activate(k.Tree.root)
	}

	this.ExitCode = code

	k.Sched.Lock.Lock()
	k.Sched.MarkZombie(this)
	this.Parent.ChildExit.Post(k.Sched)
	k.Sched.Relinquish(this)

	panic(kerr.Panic(kerr.ErrInvariant, "Exit: unreachable, sched(ZOMBIE) did not block forever"))
}

// Kill implements spec.md §9's open-question contract to the letter and no
// further: set the killed flag and return nil; return kerr.ErrInvalidPID
// for an unknown pid. How kill interacts with a sleeping process is left
// unspecified by spec.md and is not guessed at here.
func (k *Kernel) Kill(pid int32) error {
	p := k.findProc(pid)
	if p == nil {
		return kerr.ErrInvalidPID
	}
	k.Tree.Lock.Lock()
	p.Killed = true
	k.Tree.Lock.Unlock()
	return nil
}

// findProc performs a tree walk from root looking for pid. This is O(n)
// in the live process count; spec.md does not specify a pid index and
// Non-goals exclude anything resembling a syscall table, so a walk is the
// proportionate choice for the Kill lookup this open question asks for.
func (k *Kernel) findProc(pid int32) *Proc {
	k.Tree.Lock.Lock()
	defer k.Tree.Lock.Unlock()

	var walk func(p *Proc) *Proc
	walk = func(p *Proc) *Proc {
		if p.Pid == pid {
			return p
		}
		if klist.Empty(&p.children) {
			return nil
		}
		n := p.children.Next()
		for n != &p.children {
			if found := walk(containerOfPtnode(n)); found != nil {
				return found
			}
			n = n.Next()
		}
		return nil
	}
	return walk(k.Tree.root)
}

// AttachAddressSpace is the no-op hook named in spec.md §6/§9 for "attach
// page directory of next thread" — virtual memory is an explicit
// Non-goal, so this call site exists (Sched calls it, see sched.go) but
// performs no real MMU work.
func AttachAddressSpace(p *Proc) {}
