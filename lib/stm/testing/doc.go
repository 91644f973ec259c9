// Package testing provides standardised tests and benchmarks for the
// transaction variants of package stm.
//
// The package contains:
//   - testing: A test suite for the contract every variant has to fulfill
//     (tests for features a variant does not support are skipped)
//   - benchmark: Performance tests of the common transaction operations
//
// Example usage:
//
//	// Creating a factory function for a variant
//	factory := func(s *stm.STM) *stm.Transaction {
//		return s.NewTransaction(stm.TxnOptions{Variant: stm.FatArray, Capacity: 4})
//	}
//
//	// Running the standard test suite
//	stmtesting.RunTransactionTests(t, "FatArray", factory)
//
//	// Running performance benchmarks
//	stmtesting.RunTransactionBenchmarks(b, "FatArray", factory)
package testing
