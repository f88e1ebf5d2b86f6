// Package kerr defines the kernel-wide error taxonomy described in
// spec.md §7: recoverable sentinel errors, a Wrap helper, a debug-assertion
// helper that escalates invariant violations to a panic, and Panic, which
// logs and builds the error that unrecoverable-state call sites then raise
// with their own panic().
package kerr

import (
	"github.com/pkg/errors"

	"github.com/kvisel/smpcore/internal/klog"
)

// Sentinel errors for spec.md §7's "recoverable" stratum. Callers compare
// with errors.Is or unwrap with errors.Cause.
var (
	ErrPoolExhausted = errors.New("page pool exhausted")
	ErrNoCache       = errors.New("no cache fits requested size")
	ErrNoChildren    = errors.New("process has no children")
	ErrInvalidPID    = errors.New("no process with that pid")
	ErrBadPage       = errors.New("page pointer misaligned or out of range")
	ErrInvariant     = errors.New("kernel invariant violated")
)

// Assert panics wrapping ErrInvariant when cond is false. Used for
// spec.md §7's "debug assertions" stratum: conditions that are bugs, not
// recoverable runtime states.
func Assert(cond bool, msg string) {
	if !cond {
		panic(Panic(ErrInvariant, msg))
	}
}

// Wrap attaches msg as context to cause, preserving errors.Is/Cause.
func Wrap(cause error, msg string) error {
	return errors.Wrap(cause, msg)
}

// Panic logs cause/msg via klog.Fatal and returns the wrapped error, for
// the caller to raise with panic(kerr.Panic(cause, msg)) — so spec.md
// §7's unrecoverable stratum always leaves a log record immediately
// before the kernel panics. Panic itself only logs and returns; the
// caller's own panic() keeps every such site a compiler-recognized
// terminating statement.
func Panic(cause error, msg string) error {
	err := errors.Wrap(cause, msg)
	klog.Fatal(msg).Err(err).Send()
	return err
}
