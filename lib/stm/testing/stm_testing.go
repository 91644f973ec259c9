package testing

import (
	"errors"
	"testing"

	"github.com/ValentinKolb/dSTM/lib/latch"
	"github.com/ValentinKolb/dSTM/lib/orec"
	"github.com/ValentinKolb/dSTM/lib/stm"
)

// TxFactory creates a new active transaction of the STM
type TxFactory func(s *stm.STM) *stm.Transaction

// RunTransactionTests runs the conformance test suite for a transaction variant.
func RunTransactionTests(t *testing.T, name string, factory TxFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("ReadWrite", func(t *testing.T) {
			testReadWrite(t, factory)
		})

		t.Run("Idempotence", func(t *testing.T) {
			testIdempotence(t, factory)
		})

		t.Run("Conflict", func(t *testing.T) {
			testConflict(t, factory)
		})

		t.Run("ReadOnlyCommit", func(t *testing.T) {
			testReadOnlyCommit(t, factory)
		})

		t.Run("Abort", func(t *testing.T) {
			testAbort(t, factory)
		})

		t.Run("Construction", func(t *testing.T) {
			testConstruction(t, factory)
		})

		t.Run("Capacity", func(t *testing.T) {
			testCapacity(t, factory)
		})

		t.Run("Commute", func(t *testing.T) {
			testCommute(t, factory)
		})

		t.Run("Listeners", func(t *testing.T) {
			testListeners(t, factory)
		})

		t.Run("RetryWake", func(t *testing.T) {
			testRetryWake(t, factory)
		})

		t.Run("OrElse", func(t *testing.T) {
			testOrElse(t, factory)
		})

		t.Run("UnsupportedFeatures", func(t *testing.T) {
			testUnsupportedFeatures(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// newSTM creates an STM with the default configuration
func newSTM(t testing.TB) *stm.STM {
	s, err := stm.New(t.Name(), nil)
	if err != nil {
		t.Fatalf("Failed to create stm: %v", err)
	}
	return s
}

// Checks if the transaction supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, tx *stm.Transaction, feature stm.Feature) {
	if !tx.SupportsFeature(feature) {
		t.Skip()
	}
}

// Checks if the transaction can attach n refs
// Skip the test if it can not
func requireCapacity(t testing.TB, tx *stm.Transaction, n int) {
	if c := tx.Capacity(); c >= 0 && c < n {
		t.Skip()
	}
}

// Checks that no transaction holds a lock or an arrival on the ref
func checkReleased(t testing.TB, ref *stm.Ref) {
	t.Helper()
	state := ref.Orec().Snapshot()
	if err := state.Validate(); err != nil {
		t.Errorf("Invalid orec state of ref %d: %v", ref.ID(), err)
	}
	if state.LockMode != orec.LockNone || state.Surplus != 0 {
		t.Errorf("Expected ref %d to be released, got %s", ref.ID(), state)
	}
}

// Checks the committed value of the ref
func checkValue(t testing.TB, ref *stm.Ref, expected any) {
	t.Helper()
	value, ok := ref.AtomicGet()
	if !ok {
		t.Errorf("Expected ref %d to be committed", ref.ID())
		return
	}
	if value != expected {
		t.Errorf("Expected value %v of ref %d, got %v", expected, ref.ID(), value)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testReadWrite(t *testing.T, factory TxFactory) {
	s := newSTM(t)
	ref := s.NewRef(10)

	tx := factory(s)
	tl, err := tx.OpenForWrite(ref, orec.LockNone)
	if err != nil {
		t.Fatalf("OpenForWrite failed: %v", err)
	}
	if tl.Value != 10 {
		t.Errorf("Expected value 10, got %v", tl.Value)
	}
	tl.Value = 11
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if tx.Status() != stm.StatusCommitted {
		t.Errorf("Expected status committed, got %s", tx.Status())
	}

	checkValue(t, ref, 11)
	if ref.Version() != 1 {
		t.Errorf("Expected version 1, got %d", ref.Version())
	}
	checkReleased(t, ref)

	tx = factory(s)
	tl, err = tx.OpenForRead(ref, orec.LockNone)
	if err != nil {
		t.Fatalf("OpenForRead failed: %v", err)
	}
	if tl.Value != 11 || tl.Version() != 1 {
		t.Errorf("Expected value 11 at version 1, got %v at version %d", tl.Value, tl.Version())
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	checkReleased(t, ref)
}

func testIdempotence(t *testing.T, factory TxFactory) {
	s := newSTM(t)
	ref := s.NewRef(1)

	tx := factory(s)
	first, err := tx.OpenForRead(ref, orec.LockNone)
	if err != nil {
		t.Fatalf("OpenForRead failed: %v", err)
	}
	second, err := tx.OpenForWrite(ref, orec.LockNone)
	if err != nil {
		t.Fatalf("OpenForWrite failed: %v", err)
	}
	if first != second {
		t.Errorf("Expected the same tranlocal for the same ref")
	}
	if tx.Size() != 1 {
		t.Errorf("Expected size 1, got %d", tx.Size())
	}
	if err := tx.Abort(); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	checkReleased(t, ref)
}

func testConflict(t *testing.T, factory TxFactory) {
	s := newSTM(t)
	ref := s.NewRef(0)

	a := factory(s)
	b := factory(s)
	tlA, err := a.OpenForWrite(ref, orec.LockNone)
	if err != nil {
		t.Fatalf("OpenForWrite failed: %v", err)
	}
	tlB, err := b.OpenForWrite(ref, orec.LockNone)
	if err != nil {
		t.Fatalf("OpenForWrite failed: %v", err)
	}

	tlB.Value = 2
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	tlA.Value = 1
	err = a.Commit()
	if !errors.Is(err, stm.ErrReadWriteConflict) {
		t.Fatalf("Expected read write conflict, got %v", err)
	}
	if a.Status() != stm.StatusAborted {
		t.Errorf("Expected status aborted, got %s", a.Status())
	}
	checkValue(t, ref, 2)
	checkReleased(t, ref)
}

func testReadOnlyCommit(t *testing.T, factory TxFactory) {
	s := newSTM(t)
	ref := s.NewRef(0)

	reader := factory(s)
	if _, err := reader.OpenForRead(ref, orec.LockNone); err != nil {
		t.Fatalf("OpenForRead failed: %v", err)
	}

	writer := factory(s)
	if err := writer.Set(ref, 1); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := writer.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if err := reader.Commit(); err != nil {
		t.Errorf("Expected read only commit to succeed, got %v", err)
	}
	checkReleased(t, ref)
}

func testAbort(t *testing.T, factory TxFactory) {
	s := newSTM(t)
	ref := s.NewRef("a")

	tx := factory(s)
	tl, err := tx.OpenForWrite(ref, orec.LockCommit)
	if err != nil {
		t.Fatalf("OpenForWrite failed: %v", err)
	}
	tl.Value = "b"
	if err := tx.Abort(); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	if err := tx.Abort(); err != nil {
		t.Errorf("Expected second abort to be a no-op, got %v", err)
	}
	if err := tx.Commit(); !errors.Is(err, stm.ErrDeadTransaction) {
		t.Errorf("Expected dead transaction, got %v", err)
	}

	checkValue(t, ref, "a")
	checkReleased(t, ref)
	if ref.Version() != 0 {
		t.Errorf("Expected version 0, got %d", ref.Version())
	}
}

func testConstruction(t *testing.T, factory TxFactory) {
	s := newSTM(t)
	ref := s.NewUncommittedRef()

	tx := factory(s)
	tl, err := tx.OpenForConstruction(ref)
	if err != nil {
		t.Fatalf("OpenForConstruction failed: %v", err)
	}
	again, err := tx.OpenForConstruction(ref)
	if err != nil || again != tl {
		t.Errorf("Expected the same tranlocal for repeated construction, got %v", err)
	}
	tl.Value = 5
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	checkValue(t, ref, 5)
	checkReleased(t, ref)

	tx = factory(s)
	if _, err := tx.OpenForConstruction(ref); !errors.Is(err, stm.ErrIllegalArgument) {
		t.Errorf("Expected illegal argument, got %v", err)
	}
	if tx.Status() != stm.StatusActive {
		t.Errorf("Expected status active, got %s", tx.Status())
	}
}

func testCapacity(t *testing.T, factory TxFactory) {
	s := newSTM(t)
	refs := []*stm.Ref{s.NewRef(0), s.NewRef(0), s.NewRef(0)}

	tx := factory(s)
	requireCapacity(t, tx, len(refs))

	for i, ref := range refs {
		if err := tx.Set(ref, i+1); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	for i, ref := range refs {
		checkValue(t, ref, i+1)
		checkReleased(t, ref)
	}
}

func testCommute(t *testing.T, factory TxFactory) {
	s := newSTM(t)
	ref := s.NewRef(1)

	tx := factory(s)
	requireFeature(t, tx, stm.FeatureCommute)

	double := func(v any) any { return v.(int) * 2 }
	if err := tx.Commute(ref, double); err != nil {
		t.Fatalf("Commute failed: %v", err)
	}

	other := factory(s)
	if err := other.Set(ref, 3); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := other.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	checkValue(t, ref, 6)
	checkReleased(t, ref)
}

func testListeners(t *testing.T, factory TxFactory) {
	s := newSTM(t)

	tx := factory(s)
	requireFeature(t, tx, stm.FeatureListeners)

	var events []stm.Event
	err := tx.Register(func(_ *stm.Transaction, e stm.Event) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if len(events) != 2 || events[0] != stm.EventPrePrepare || events[1] != stm.EventPostCommit {
		t.Errorf("Expected [PrePrepare PostCommit], got %v", events)
	}
}

func testRetryWake(t *testing.T, factory TxFactory) {
	s := newSTM(t)
	ref := s.NewRef(0)

	tx := factory(s)
	requireFeature(t, tx, stm.FeatureListeners)

	if _, err := tx.OpenForRead(ref, orec.LockNone); err != nil {
		t.Fatalf("OpenForRead failed: %v", err)
	}
	l := latch.New()
	if err := tx.RegisterChangeListenerAndAbort(l); err != nil {
		t.Fatalf("RegisterChangeListenerAndAbort failed: %v", err)
	}
	if l.IsOpen() {
		t.Fatalf("Expected latch to be closed")
	}

	writer := factory(s)
	if err := writer.Set(ref, 1); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := writer.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if !l.IsOpen() {
		t.Errorf("Expected latch to be open after the commit")
	}
	checkReleased(t, ref)
}

func testOrElse(t *testing.T, factory TxFactory) {
	s := newSTM(t)
	ref := s.NewRef(0)

	tx := factory(s)
	requireFeature(t, tx, stm.FeatureOrElse)

	err := tx.OrElse(func(tx *stm.Transaction) error {
		if err := tx.Set(ref, 1); err != nil {
			return err
		}
		return stm.ErrRetry
	}, func(tx *stm.Transaction) error {
		return tx.Set(ref, 2)
	})
	if err != nil {
		t.Fatalf("OrElse failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	checkValue(t, ref, 2)
}

func testUnsupportedFeatures(t *testing.T, factory TxFactory) {
	s := newSTM(t)
	ref := s.NewRef(0)

	tests := []struct {
		feature stm.Feature
		use     func(tx *stm.Transaction) error
		learned func(tx *stm.Transaction) bool
	}{
		{
			feature: stm.FeatureCommute,
			use: func(tx *stm.Transaction) error {
				return tx.Commute(ref, func(v any) any { return v })
			},
			learned: func(tx *stm.Transaction) bool { return tx.Speculative().IsCommuteRequired() },
		},
		{
			feature: stm.FeatureListeners,
			use: func(tx *stm.Transaction) error {
				return tx.Register(func(*stm.Transaction, stm.Event) {})
			},
			learned: func(tx *stm.Transaction) bool { return tx.Speculative().IsListenerRequired() },
		},
		{
			feature: stm.FeatureOrElse,
			use: func(tx *stm.Transaction) error {
				noop := func(*stm.Transaction) error { return nil }
				return tx.OrElse(noop, noop)
			},
			learned: func(tx *stm.Transaction) bool { return tx.Speculative().IsOrElseRequired() },
		},
	}

	for _, tt := range tests {
		t.Run(tt.feature.String(), func(t *testing.T) {
			tx := factory(s)
			if tx.SupportsFeature(tt.feature) {
				t.Skip()
			}
			err := tt.use(tx)
			if !errors.Is(err, stm.ErrSpeculativeConfiguration) {
				t.Fatalf("Expected speculative configuration error, got %v", err)
			}
			if tx.Status() != stm.StatusAborted {
				t.Errorf("Expected status aborted, got %s", tx.Status())
			}
			if !tt.learned(tx) {
				t.Errorf("Expected the speculative configuration to require %s", tt.feature)
			}
		})
	}
	checkReleased(t, ref)
}
