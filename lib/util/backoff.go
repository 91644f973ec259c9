package util

import (
	"runtime"
)

const (
	// maxBackoffExponent caps the number of yields per Wait to 1<<maxBackoffExponent.
	maxBackoffExponent = 10
)

// Backoff implements an exponential backoff strategy to handle contention:
//   - At low contention (first retries): yield a few times to avoid scheduling overhead
//   - At higher contention: yield more often so other goroutines can make progress
//   - The number of yields doubles with each retry and is capped, so a single
//     Wait call is always bounded
//
// The zero value is ready to use. A Backoff is not safe for concurrent use,
// every goroutine should use its own instance.
type Backoff struct {
	step uint8
}

// Wait yields the processor 1<<step times and increases step.
func (b *Backoff) Wait() {
	if b.step < maxBackoffExponent {
		b.step++
	}
	for i := 0; i < 1<<b.step; i++ {
		runtime.Gosched()
	}
}

// Reset restarts the backoff at the smallest step.
func (b *Backoff) Reset() {
	b.step = 0
}

// Step returns the current exponent of the backoff.
func (b *Backoff) Step() int {
	return int(b.step)
}

// WaitFor is a stateless variant of Wait for retry loops that already track
// an attempt counter.
func WaitFor(attempt int) {
	if attempt <= 0 {
		runtime.Gosched()
		return
	}
	if attempt > maxBackoffExponent {
		attempt = maxBackoffExponent
	}
	for i := 0; i < 1<<attempt; i++ {
		runtime.Gosched()
	}
}
