package kernel_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvisel/smpcore/internal/kernel"
)

func TestTryAcquireOnlySucceedsWhilePositive(t *testing.T) {
	s := kernel.NewSemaphore(2)

	require.True(t, s.TryAcquire())
	require.True(t, s.TryAcquire())
	require.False(t, s.TryAcquire())
	require.Equal(t, 0, s.Value())
}

func TestDrainResetsToZeroAndReturnsPriorValue(t *testing.T) {
	s := kernel.NewSemaphore(3)

	require.Equal(t, 3, s.Drain())
	require.Equal(t, 0, s.Value())
	require.Equal(t, 0, s.Drain())
}

func TestSemaphoreStartsAtConfiguredValue(t *testing.T) {
	s := kernel.NewSemaphore(7)
	require.Equal(t, 7, s.Value())
}
