package lockmgr

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dSTM/lib/stm"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLockManager(t *testing.T) ILockManager {
	t.Helper()
	s, err := stm.New(t.Name(), nil)
	require.NoError(t, err)
	return NewLockManager(s)
}

func TestAcquireRelease(t *testing.T) {
	locks := newTestLockManager(t)

	ok, owner, err := locks.AcquireLock("a", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, owner, ownerIDLength)

	ok, other, err := locks.AcquireLock("a", 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, other)

	// other keys are independent
	ok, _, err = locks.AcquireLock("b", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	released, err := locks.ReleaseLock("a", owner)
	require.NoError(t, err)
	assert.True(t, released)

	ok, _, err = locks.AcquireLock("a", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseOwnership(t *testing.T) {
	locks := newTestLockManager(t)

	ok, owner, err := locks.AcquireLock("a", 0)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := locks.ReleaseLock("a", []byte("someone else"))
	require.NoError(t, err)
	assert.False(t, released)

	ok, _, err = locks.AcquireLock("a", 0)
	require.NoError(t, err)
	assert.False(t, ok, "lock must still be held")

	released, err = locks.ReleaseLock("a", owner)
	require.NoError(t, err)
	assert.True(t, released)
}

func TestReleaseUnknownLock(t *testing.T) {
	locks := newTestLockManager(t)

	released, err := locks.ReleaseLock("missing", []byte("owner"))
	require.NoError(t, err)
	assert.True(t, released)
}

func TestExpiry(t *testing.T) {
	locks := newTestLockManager(t)

	ok, owner, err := locks.AcquireLock("a", 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	ok, _, err = locks.AcquireLock("a", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	time.Sleep(40 * time.Millisecond)

	ok, _, err = locks.AcquireLock("a", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	// the expired owner does not release the new one
	released, err := locks.ReleaseLock("a", owner)
	require.NoError(t, err)
	assert.False(t, released)
}

func TestAwaitLockWakesOnRelease(t *testing.T) {
	locks := newTestLockManager(t)

	ok, owner, err := locks.AcquireLock("a", 0)
	require.NoError(t, err)
	require.True(t, ok)

	var acquired atomic.Bool
	var wg conc.WaitGroup
	wg.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := locks.AwaitLock(ctx, "a", 0)
		assert.NoError(t, err)
		acquired.Store(err == nil)
	})

	time.Sleep(20 * time.Millisecond)
	assert.False(t, acquired.Load())

	released, err := locks.ReleaseLock("a", owner)
	require.NoError(t, err)
	require.True(t, released)

	wg.Wait()
	assert.True(t, acquired.Load())

	ok, _, err = locks.AcquireLock("a", 0)
	require.NoError(t, err)
	assert.False(t, ok, "lock must be held by the waiter")
}

func TestAwaitLockWakesOnExpiry(t *testing.T) {
	locks := newTestLockManager(t)

	ok, _, err := locks.AcquireLock("a", 30*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	owner, err := locks.AwaitLock(ctx, "a", 0)
	require.NoError(t, err)
	assert.Len(t, owner, ownerIDLength)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestAwaitLockContextCancel(t *testing.T) {
	locks := newTestLockManager(t)

	ok, _, err := locks.AcquireLock("a", 0)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = locks.AwaitLock(ctx, "a", 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentAcquire(t *testing.T) {
	locks := newTestLockManager(t)

	var winners atomic.Int32
	var wg conc.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Go(func() {
			ok, _, err := locks.AcquireLock("contended", 0)
			assert.NoError(t, err)
			if ok {
				winners.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestMutualExclusion(t *testing.T) {
	locks := newTestLockManager(t)

	var inside atomic.Int32
	var counter int
	var wg conc.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Go(func() {
			for j := 0; j < 50; j++ {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				owner, err := locks.AwaitLock(ctx, "critical", 0)
				cancel()
				if !assert.NoError(t, err) {
					return
				}

				assert.Equal(t, int32(1), inside.Add(1))
				counter++
				inside.Add(-1)

				released, err := locks.ReleaseLock("critical", owner)
				assert.NoError(t, err)
				assert.True(t, released)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, 200, counter)
}
