// Package klist implements an intrusive circular doubly linked list.
//
// A Node is meant to be embedded inside a larger struct (a process's
// scheduling node, a semaphore's sleep-queue node, a child's ptnode). The
// list never allocates: splicing and detaching only ever rewire the prev/
// next pointers of nodes the caller already owns. Callers hold whatever
// outer lock guards the list; these operations are not safe for concurrent
// use on their own.
package klist

// Node is a circular list node. A singleton node points to itself in both
// directions; that is also the representation of an empty list (the
// sentinel node is its own list).
type Node struct {
	prev *Node
	next *Node
}

// Init makes n a singleton circular list.
func Init(n *Node) {
	n.prev = n
	n.next = n
}

// New returns a fresh singleton node.
func New() *Node {
	n := &Node{}
	Init(n)
	return n
}

// Next returns n's successor.
func (n *Node) Next() *Node { return n.next }

// Prev returns n's predecessor.
func (n *Node) Prev() *Node { return n.prev }

// Merge splices two circular chains into one and returns a node of the
// combined chain. Either argument may be nil, in which case the other is
// returned unchanged.
func Merge(a, b *Node) *Node {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}

	aNext := a.next
	bPrev := b.prev

	a.next = b
	b.prev = a
	bPrev.next = aNext
	aNext.prev = bPrev

	return a
}

// Insert splices a fresh singleton node into list and returns the (possibly
// new) list head.
func Insert(list, n *Node) *Node {
	Init(n)
	return Merge(list, n)
}

// Detach removes n from whatever list it is part of and returns n's former
// predecessor, or nil if n was already a singleton. Detaching the last
// node of a sentinel-headed list returns the sentinel. n is reset to a
// singleton.
func Detach(n *Node) *Node {
	prev := n.prev
	next := n.next

	prev.next = next
	next.prev = prev
	Init(n)

	if prev == n {
		return nil
	}
	return prev
}

// Empty reports whether list is an empty (singleton sentinel) list.
func Empty(list *Node) bool {
	return list.next == list
}
