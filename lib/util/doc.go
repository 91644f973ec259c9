// Package util provides small concurrency primitives shared by the
// dSTM packages.
//
// The package contains:
//   - backoff: a bounded exponential backoff used by CAS loops and retry drivers
//   - spinlock: a spin lock for very short critical sections (never parks the goroutine in the OS)
//
// Both primitives only ever yield the processor with runtime.Gosched. They are
// designed for critical sections that are a handful of instructions long, as
// found in the orec implementation.
package util
