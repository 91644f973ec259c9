package util

import (
	"sync/atomic"
)

// SpinLock is a test-and-test-and-set lock for tiny critical sections.
// Contending goroutines back off with runtime.Gosched instead of being parked,
// so the holder is never descheduled by the lock itself.
//
// The zero value is an unlocked SpinLock.
type SpinLock struct {
	state atomic.Uint32
}

// Lock acquires the lock, spinning until it is free.
func (s *SpinLock) Lock() {
	if s.state.CompareAndSwap(0, 1) {
		return
	}

	var backoff Backoff
	for {
		// only try the CAS when the lock looks free (avoids cache line ping-pong)
		if s.state.Load() == 0 && s.state.CompareAndSwap(0, 1) {
			return
		}
		backoff.Wait()
	}
}

// TryLock acquires the lock if it is free and reports whether it did.
func (s *SpinLock) TryLock() bool {
	return s.state.CompareAndSwap(0, 1)
}

// Unlock releases the lock. Unlocking an unlocked SpinLock panics.
func (s *SpinLock) Unlock() {
	if !s.state.CompareAndSwap(1, 0) {
		panic("util: unlock of unlocked SpinLock")
	}
}
