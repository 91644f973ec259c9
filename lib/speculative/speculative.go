// Package speculative tracks what a repeatedly executed transaction template
// has been observed to need.
//
// A transaction starts out as the cheapest representation (a single slot, no
// commute, no listeners, no orElse). Every time a cheap representation hits one
// of its limits, the engine aborts and signals the failure here. The retry
// driver then consults the Config to pick a representation that satisfies all
// requirements learned so far.
//
// All requirements are monotonic: the minimal length never shrinks and a
// feature that was required once stays required for the lifetime of the
// template. This guarantees that a template converges after a bounded number
// of speculative failures.
package speculative

import (
	"fmt"
	"sync/atomic"
)

// Config is the shared, monotonically growing set of requirements of one
// transaction template. It is safe for concurrent use by all transactions
// executing the template.
type Config struct {
	minimalLength    atomic.Int64
	listenerRequired atomic.Bool
	commuteRequired  atomic.Bool
	orElseRequired   atomic.Bool
	failures         atomic.Uint64
}

// New creates a Config that starts at the minimal representation (length 1, no features).
func New() *Config {
	c := &Config{}
	c.minimalLength.Store(1)
	return c
}

// --------------------------------------------------------------------------
// Signals
// --------------------------------------------------------------------------

// SignalSpeculativeSizeFailure raises the minimal length to at least expected.
// Smaller values are ignored.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
// It uses a CAS loop to ensure that the length only increases.
func (c *Config) SignalSpeculativeSizeFailure(expected int) {
	c.failures.Add(1)
	for {
		current := c.minimalLength.Load()
		if int64(expected) <= current {
			return
		}
		if c.minimalLength.CompareAndSwap(current, int64(expected)) {
			return
		}
	}
}

// SignalSpeculativeListenerFailure marks listeners (blocking retry, lifecycle listeners) as required.
func (c *Config) SignalSpeculativeListenerFailure() {
	c.failures.Add(1)
	c.listenerRequired.Store(true)
}

// SignalSpeculativeCommuteFailure marks commute as required.
func (c *Config) SignalSpeculativeCommuteFailure() {
	c.failures.Add(1)
	c.commuteRequired.Store(true)
}

// SignalSpeculativeOrElseFailure marks orElse branching as required.
func (c *Config) SignalSpeculativeOrElseFailure() {
	c.failures.Add(1)
	c.orElseRequired.Store(true)
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// MinimalLength returns the minimal number of objects a transaction must be able to attach.
func (c *Config) MinimalLength() int {
	return int(c.minimalLength.Load())
}

// IsListenerRequired reports whether the template needs listener support.
func (c *Config) IsListenerRequired() bool {
	return c.listenerRequired.Load()
}

// IsCommuteRequired reports whether the template needs commute support.
func (c *Config) IsCommuteRequired() bool {
	return c.commuteRequired.Load()
}

// IsOrElseRequired reports whether the template needs orElse support.
func (c *Config) IsOrElseRequired() bool {
	return c.orElseRequired.Load()
}

// IsFatRequired reports whether any feature beyond plain reads and writes is required.
func (c *Config) IsFatRequired() bool {
	return c.IsListenerRequired() || c.IsCommuteRequired() || c.IsOrElseRequired()
}

// Failures returns how many speculative failures were signalled.
func (c *Config) Failures() uint64 {
	return c.failures.Load()
}

func (c *Config) String() string {
	return fmt.Sprintf("SpeculativeConfig{minimalLength: %d, listenerRequired: %t, commuteRequired: %t, orElseRequired: %t}",
		c.MinimalLength(), c.IsListenerRequired(), c.IsCommuteRequired(), c.IsOrElseRequired())
}
