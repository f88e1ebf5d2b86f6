// Package kernel holds the three mutually dependent subsystems spec.md
// treats as one tightly coupled core: the process object and tree
// (spec.md §4.G), the scheduler and per-CPU state (§4.H), and the counting
// semaphore (§4.F). They are kept in one package, as Biscuit itself keeps
// its process table, trap dispatch, and scheduling glue in a single
// package main: Semaphore.Acquire needs the scheduler's lock and sched
// function, pickNext walks Procs, and a Proc's ChildExit field is a
// Semaphore — three-way mutual recursion that a multi-package split would
// only obscure behind interfaces nothing else needs.
package kernel

import (
	"unsafe"

	"github.com/kvisel/smpcore/internal/kerr"
	"github.com/kvisel/smpcore/internal/klist"
	"github.com/kvisel/smpcore/internal/pagealloc"
	"github.com/kvisel/smpcore/internal/slab"
	"github.com/kvisel/smpcore/internal/spinlock"
)

// ProcState is the process state machine of spec.md §4.G.
type ProcState int

const (
	Unused ProcState = iota
	Runnable
	Running
	Sleeping
	Zombie
)

func (s ProcState) String() string {
	switch s {
	case Unused:
		return "UNUSED"
	case Runnable:
		return "RUNNABLE"
	case Running:
		return "RUNNING"
	case Sleeping:
		return "SLEEPING"
	case Zombie:
		return "ZOMBIE"
	default:
		return "INVALID"
	}
}

// UserContext mirrors spec.md §6's architectural boundary type: stack
// pointer, exception link register, saved program status register, and
// x0..x30. Populated/restored by exception-entry/exit glue that is out of
// scope for this core (spec.md §1); kept here only as the documented
// boundary shape.
type UserContext struct {
	SP   uint64
	ELR  uint64
	SPSR uint64
	X    [31]uint64 // x0..x30
}

// KernelContext mirrors spec.md §6: callee-saved x19..x30, plus x0/x1 used
// as the trampoline's argument slots. Every field is a plain uint64 so a
// KernelContext can be safely overlaid on a raw simulated page with
// unsafe.Pointer — it holds no Go-managed pointers for the GC to track.
type KernelContext struct {
	X0, X1 uint64
	X19    uint64
	X20    uint64
	X21    uint64
	X22    uint64
	X23    uint64
	X24    uint64
	X25    uint64
	X26    uint64
	X27    uint64
	X28    uint64
	X29    uint64
	X30    uint64
}

// schinfo is the embedded scheduling info spec.md §3 names: a run-queue
// list node. init_schinfo is a documented no-op (DESIGN.md) since the
// node self-inits along with the enclosing Proc.
type schinfo struct {
	node klist.Node
}

// Proc is the PCB of spec.md §3/§4.G.
//
// The PCB itself is an ordinary Go-heap object (its Parent pointer,
// ChildExit semaphore, resume channel, and entry closure all need normal
// GC tracking); what is genuinely "slab-allocated" and "page-allocated" is
// the raw scratch memory Proc.pcbSlot/kstack point at, exactly as spec.md
// §4.G describes for create() and the kernel stack. See DESIGN.md.
type Proc struct {
	Pid      int32
	state    ProcState
	Killed   bool
	Idle     bool
	ExitCode int

	Parent   *Proc
	children klist.Node // head of this proc's children list
	ptnode   klist.Node // this proc's link in its parent's children list

	ChildExit *Semaphore

	sch schinfo

	// pcbSlot is the raw slab object this PCB's "create from the slab
	// allocator" obligation ties up; never dereferenced as a Go value.
	pcbSlot unsafe.Pointer

	// kstack is the one raw physical page backing this process's kernel
	// stack, drawn directly from the page allocator per spec.md §4.G.
	// kctx points kstackTop - sizeof(KernelContext) into it.
	kstack pagealloc.PhysAddr
	kctx   *KernelContext
	uctx   *UserContext

	// resume is the channel-handoff realization of swtch described in
	// DESIGN.md: a process's dedicated goroutine blocks receiving from
	// resume until it is scheduled onto a CPU.
	resume chan struct{}

	// entry/arg are the trampoline's planted first-resumption state,
	// used in place of a planted return address (see DESIGN.md).
	entry func(arg uint64)
	arg   uint64
}

// State returns the process's current state. Exposed as a method (not a
// field) so callers outside this package can observe it without reaching
// into lock-protected internals. Mutation happens in sched.go: Activate and
// updateThisState write it under the process-tree lock, and relinquish
// marks the picked process RUNNING under the scheduler lock.
func (p *Proc) State() ProcState { return p.state }

// KernelContext exposes the process's kernel context pointer, the
// boundary type a real swtch would save/restore registers through.
func (p *Proc) KernelContext() *KernelContext { return p.kctx }

// Tree is the process tree: the root process plus the process-tree lock
// guarding parent/children linkage (spec.md §5 lock hierarchy position 1).
type Tree struct {
	Lock spinlock.SpinLock

	root    *Proc
	pages   *pagealloc.Allocator
	slabs   *slab.Allocator
	nextPID int32
}

// pcbSlotSize is the nominal size CreateProc ties up in the slab
// allocator's cache for the PCB itself (spec.md §4.G's create()); sized to
// land in the 1024-byte class, matching the testable property in spec.md
// §8 scenario 4 ("PCB slot is back in the 1024+ byte slab cache").
const pcbSlotSize = 768

// NewTree constructs an (uninitialized) process tree over the given page
// and slab allocators; call Init to create the root process.
func NewTree(pages *pagealloc.Allocator, slabs *slab.Allocator) *Tree {
	return &Tree{pages: pages, slabs: slabs, nextPID: 1}
}

// Root returns the tree's root process.
func (t *Tree) Root() *Proc { return t.root }

func (t *Tree) allocPID() int32 {
	t.Lock.Lock()
	defer t.Lock.Unlock()
	pid := t.nextPID
	t.nextPID++
	return pid
}

// initProc clears flags, assigns a fresh pid, sets state UNUSED, inits
// childexit at 0, inits children/ptnode, inits scheduling info, and
// allocates one page of kernel stack with kcontext pointing at its top
// minus sizeof(KernelContext) — spec.md §4.G's init(p), exactly.
func (t *Tree) initProc(p *Proc) {
	p.Killed = false
	p.Idle = false
	p.Pid = t.allocPID()
	p.ExitCode = 0
	p.state = Unused
	p.ChildExit = NewSemaphore(0)
	klist.Init(&p.children)
	klist.Init(&p.ptnode)
	klist.Init(&p.sch.node)
	p.resume = make(chan struct{})

	page, err := t.pages.AllocPage()
	if err != nil {
		panic(kerr.Panic(err, "initProc: failed to allocate kernel stack page"))
	}
	p.kstack = page
	buf := t.pages.Bytes(page)
	top := uintptr(unsafe.Pointer(&buf[0])) + pagealloc.PageSize
	p.kctx = (*KernelContext)(unsafe.Pointer(top - unsafe.Sizeof(KernelContext{})))
	*p.kctx = KernelContext{}
}

// CreateProc allocates a PCB from the slab allocator and initializes it,
// spec.md §4.G's create().
func (t *Tree) CreateProc() *Proc {
	slot, err := t.slabs.Alloc(pcbSlotSize)
	if err != nil {
		panic(kerr.Panic(err, "CreateProc: failed to allocate PCB slot"))
	}
	p := &Proc{pcbSlot: slot}
	t.initProc(p)
	return p
}

// initRoot creates the root process and makes it its own parent, per
// spec.md §4.J's boot ordering ("init root_proc; root.parent = root").
func (t *Tree) initRoot() *Proc {
	root := t.CreateProc()
	root.Parent = root
	t.root = root
	return root
}

// Init creates and installs the root process. Exported for
// internal/boot's bring-up sequence.
func (t *Tree) Init() *Proc {
	return t.initRoot()
}

// SetParentToThis sets c's parent to the calling process (identified by
// `this`) and links c.ptnode into this's children, under the tree lock.
// spec.md §4.G's set_parent_to_this.
func (t *Tree) SetParentToThis(this, c *Proc) {
	t.Lock.Lock()
	defer t.Lock.Unlock()
	c.Parent = this
	klist.Insert(&this.children, &c.ptnode)
}

// adoptToRoot re-parents c to the root under the tree lock. Used by both
// Start (orphan with no parent yet) and Exit (re-parenting on exit).
func (t *Tree) adoptToRoot(c *Proc) {
	c.Parent = t.root
	klist.Insert(&t.root.children, &c.ptnode)
}

func childPids(p *Proc) []int32 {
	var out []int32
	if klist.Empty(&p.children) {
		return out
	}
	n := p.children.Next()
	for n != &p.children {
		child := containerOfPtnode(n)
		out = append(out, child.Pid)
		n = n.Next()
	}
	return out
}

// DebugChildren returns the pids of p's current children, restored from
// original_source's commented-out debug dump in proc.c's wait() (see
// SPEC_FULL.md §9's supplemented features).
func (p *Proc) DebugChildren() []int32 {
	return childPids(p)
}

// containerOfPtnode recovers the enclosing *Proc from one of its own
// ptnode pointers, mirroring the original's container_of(node, Proc,
// ptnode) macro.
func containerOfPtnode(n *klist.Node) *Proc {
	return (*Proc)(ptrSub(n, ptnodeOffset))
}

var ptnodeOffset = unsafe.Offsetof(Proc{}.ptnode)
