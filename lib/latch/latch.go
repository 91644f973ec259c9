// Package latch implements the waitable handle used by blocking retries.
//
// A Latch starts closed and can be opened exactly once. Opening is idempotent
// and wakes every goroutine waiting on it. A goroutine that starts waiting on
// an already open latch returns immediately, so a wake-up that happens before
// the wait can never be lost.
//
// Waiting takes an explicit deadline (context.Context or a duration) instead
// of relying on goroutine interruption.
package latch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Latch is a one-shot open/closed signal. The zero value is not usable, create
// latches with New.
type Latch struct {
	once   sync.Once
	ch     chan struct{}
	opened atomic.Bool
	era    uint64
}

var eraCounter atomic.Uint64

// New creates a closed latch.
func New() *Latch {
	return &Latch{
		ch:  make(chan struct{}),
		era: eraCounter.Add(1),
	}
}

// Open opens the latch and wakes all waiters. Calling Open more than once is a no-op.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (l *Latch) Open() {
	l.once.Do(func() {
		l.opened.Store(true)
		close(l.ch)
	})
}

// IsOpen returns whether the latch has been opened.
func (l *Latch) IsOpen() bool {
	return l.opened.Load()
}

// Era returns a process unique number identifying this latch (useful for logging).
func (l *Latch) Era() uint64 {
	return l.era
}

// Done returns a channel that is closed when the latch opens.
// This allows the latch to be used in select statements.
func (l *Latch) Done() <-chan struct{} {
	return l.ch
}

// Await blocks until the latch is opened or the context is done.
// It returns nil if the latch was opened, otherwise the context error.
// An already open latch always wins over an already cancelled context.
func (l *Latch) Await(ctx context.Context) error {
	if l.IsOpen() {
		return nil
	}
	select {
	case <-l.ch:
		return nil
	case <-ctx.Done():
		if l.IsOpen() {
			return nil
		}
		return ctx.Err()
	}
}

// AwaitTimeout blocks until the latch is opened or the timeout elapsed.
// It returns true if the latch was opened and the time that is left of the timeout.
// A negative timeout waits forever.
func (l *Latch) AwaitTimeout(timeout time.Duration) (opened bool, remaining time.Duration) {
	if l.IsOpen() {
		return true, timeout
	}
	if timeout < 0 {
		<-l.ch
		return true, timeout
	}

	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-l.ch:
		remaining = timeout - time.Since(start)
		if remaining < 0 {
			remaining = 0
		}
		return true, remaining
	case <-timer.C:
		return l.IsOpen(), 0
	}
}
