// Package spinqueue implements the spinlocked FIFO queue of spec.md §4.C:
// an ordered queue of intrusive klist nodes guarded by a single spinlock,
// used as the kernel's global run queue (a semaphore's sleep list is a
// plain klist ring, not a Queue). Grounded on original_source/src/common/list.c's Queue/queue_push/
// queue_pop/queue_detach.
package spinqueue

import (
	"github.com/kvisel/smpcore/internal/kerr"
	"github.com/kvisel/smpcore/internal/klist"
	"github.com/kvisel/smpcore/internal/spinlock"
)

// Queue is {begin, end, size, lock}. size == 0 iff begin == end == nil;
// otherwise begin/end are the endpoints of a circular chain of size nodes.
type Queue struct {
	Lock  spinlock.SpinLock
	begin *klist.Node
	end   *klist.Node
	size  int
}

// Init prepares an empty queue. The zero value is already empty and usable
// without calling Init, but Init is provided to mirror the original's
// explicit queue_init and to make construction sites self-documenting.
func (q *Queue) Init() {
	q.begin, q.end, q.size = nil, nil, 0
}

// Push appends node to the tail. O(1). Caller must hold q.Lock if using the
// unlocked form alongside other unlocked callers.
func (q *Queue) Push(node *klist.Node) {
	klist.Init(node)
	if q.size == 0 {
		q.begin, q.end = node, node
	} else {
		klist.Merge(q.end, node)
		q.end = node
	}
	q.size++
}

// Pop removes the head. Panics if the queue is empty.
func (q *Queue) Pop() {
	if q.size == 0 {
		panic(kerr.Panic(kerr.ErrInvariant, "spinqueue: Pop on empty queue"))
	}
	if q.size == 1 {
		q.begin, q.end = nil, nil
	} else {
		next := q.begin.Next()
		klist.Detach(q.begin)
		q.begin = next
	}
	q.size--
}

// Detach removes an arbitrary node already linked into q. The caller
// asserts membership; passing a node not in q corrupts the queue.
func (q *Queue) Detach(node *klist.Node) {
	if q.size == 0 {
		panic(kerr.Panic(kerr.ErrInvariant, "spinqueue: Detach on empty queue"))
	}
	if q.size == 1 {
		q.begin, q.end = nil, nil
	} else if q.begin == node {
		q.begin = q.begin.Next()
	} else if q.end == node {
		q.end = q.end.Prev()
	}
	klist.Detach(node)
	q.size--
}

// Front peeks at the head. Panics if empty.
func (q *Queue) Front() *klist.Node {
	if q.size == 0 || q.begin == nil {
		panic(kerr.Panic(kerr.ErrInvariant, "spinqueue: Front on empty queue"))
	}
	return q.begin
}

// Empty reports whether the queue holds no nodes.
func (q *Queue) Empty() bool { return q.size == 0 }

// Size returns the current element count.
func (q *Queue) Size() int { return q.size }

// PushLocked brackets Push with Lock/Unlock.
func (q *Queue) PushLocked(node *klist.Node) {
	q.Lock.Lock()
	defer q.Lock.Unlock()
	q.Push(node)
}

// PopLocked brackets Pop with Lock/Unlock.
func (q *Queue) PopLocked() {
	q.Lock.Lock()
	defer q.Lock.Unlock()
	q.Pop()
}

// DetachLocked brackets Detach with Lock/Unlock.
func (q *Queue) DetachLocked(node *klist.Node) {
	q.Lock.Lock()
	defer q.Lock.Unlock()
	q.Detach(node)
}

// MustNotBeEmpty is a debug assertion helper for callers that already
// believe they hold a non-empty queue. pickNext does not use it: it checks
// Empty itself and falls back to the idle process.
func (q *Queue) MustNotBeEmpty() {
	kerr.Assert(!q.Empty(), "spinqueue: expected non-empty queue")
}
