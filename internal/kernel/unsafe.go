package kernel

import (
	"unsafe"

	"github.com/kvisel/smpcore/internal/klist"
)

// ptrSub and the *Offset vars below recover an enclosing struct from a
// pointer to one of its embedded klist.Node fields, mirroring the
// original C sources' container_of(node, Type, field) macro. This is the
// one idiom this package borrows unsafe.Pointer for, grounded on Biscuit's
// own pervasive raw-memory casts (see DESIGN.md).
func ptrSub(n *klist.Node, off uintptr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(unsafe.Pointer(n)) - off)
}

var waitNodeOffset = unsafe.Offsetof(waitData{}.node)
