package spinlock_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvisel/smpcore/internal/spinlock"
)

func TestTryLockExclusivity(t *testing.T) {
	var l spinlock.SpinLock
	require.True(t, l.TryLock())
	require.False(t, l.TryLock())
	l.Unlock()
	require.True(t, l.TryLock())
}

func TestLockSerializesIncrement(t *testing.T) {
	var l spinlock.SpinLock
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Lock()
			counter++
			l.Unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 100, counter)
}
