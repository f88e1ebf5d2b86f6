package kernel_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvisel/smpcore/internal/kerr"
	"github.com/kvisel/smpcore/internal/kernel"
)

// Kill needs only the process tree, not a running scheduler: findProc is a
// tree walk and the killed flag is a plain field write under Tree.Lock.
func newKernel(t *testing.T) (*kernel.Kernel, *kernel.Proc) {
	t.Helper()
	tree := newTree(t)
	root := tree.Init()
	return &kernel.Kernel{Tree: tree}, root
}

func TestKillSetsKilledFlagOnKnownPid(t *testing.T) {
	k, root := newKernel(t)
	child := k.Tree.CreateProc()
	k.Tree.SetParentToThis(root, child)

	require.False(t, child.Killed)

	err := k.Kill(child.Pid)

	require.NoError(t, err)
	require.True(t, child.Killed)
}

func TestKillReturnsErrInvalidPIDForUnknownPid(t *testing.T) {
	k, root := newKernel(t)

	err := k.Kill(root.Pid + 1000)

	require.ErrorIs(t, err, kerr.ErrInvalidPID)
}

func TestKillOnRootItself(t *testing.T) {
	k, root := newKernel(t)

	err := k.Kill(root.Pid)

	require.NoError(t, err)
	require.True(t, root.Killed)
}
