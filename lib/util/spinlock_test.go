package util

import (
	"testing"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/require"
)

func TestSpinLockMutualExclusion(t *testing.T) {
	var (
		lock    SpinLock
		counter int
		wg      conc.WaitGroup
	)

	const goroutines = 8
	const iterations = 2000

	for g := 0; g < goroutines; g++ {
		wg.Go(func() {
			for i := 0; i < iterations; i++ {
				lock.Lock()
				counter++
				lock.Unlock()
			}
		})
	}
	wg.Wait()

	require.Equal(t, goroutines*iterations, counter)
}

func TestSpinLockTryLock(t *testing.T) {
	var lock SpinLock

	require.True(t, lock.TryLock())
	require.False(t, lock.TryLock())
	lock.Unlock()
	require.True(t, lock.TryLock())
	lock.Unlock()
}

func TestSpinLockUnlockUnlockedPanics(t *testing.T) {
	var lock SpinLock
	require.Panics(t, func() { lock.Unlock() })
}

func TestBackoffIsBounded(t *testing.T) {
	var b Backoff
	for i := 0; i < 3*maxBackoffExponent; i++ {
		b.Wait()
	}
	require.Equal(t, maxBackoffExponent, b.Step())

	b.Reset()
	require.Equal(t, 0, b.Step())

	// must return for any attempt number
	WaitFor(-1)
	WaitFor(3)
	WaitFor(100)
}
