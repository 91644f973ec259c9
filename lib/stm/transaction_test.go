package stm

import (
	"errors"
	"testing"
	"time"

	"github.com/ValentinKolb/dSTM/lib/config"
	"github.com/ValentinKolb/dSTM/lib/orec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	s := newTestSTM(t, nil)
	ref := s.NewRef(0)

	tx := newTestTx(s, FatArrayTree)
	tl, err := tx.OpenForWrite(ref, orec.LockNone)
	require.NoError(t, err)
	tl.Value = 5
	require.NoError(t, tx.Commit())
	require.Equal(t, StatusCommitted, tx.Status())

	assert.Equal(t, uint64(1), ref.Version())
	value, ok := ref.AtomicGet()
	require.True(t, ok)
	assert.Equal(t, 5, value)
	requireUnlocked(t, ref)

	reader := newTestTx(s, LeanMono)
	read, err := reader.OpenForRead(ref, orec.LockNone)
	require.NoError(t, err)
	assert.Equal(t, 5, read.Value)
	assert.Equal(t, uint64(1), read.Version())
	assert.Equal(t, uint32(1), ref.Orec().Surplus())

	require.NoError(t, reader.Commit())
	requireUnlocked(t, ref)
	assert.Equal(t, uint32(1), ref.Orec().Snapshot().ReadonlyCount)
}

func TestOpenIsIdempotent(t *testing.T) {
	s := newTestSTM(t, nil)
	ref := s.NewRef("a")

	for _, v := range Variants {
		t.Run(v.String(), func(t *testing.T) {
			tx := newTestTx(s, v)
			first, err := tx.OpenForRead(ref, orec.LockNone)
			require.NoError(t, err)
			second, err := tx.OpenForRead(ref, orec.LockNone)
			require.NoError(t, err)
			require.Same(t, first, second)

			write, err := tx.OpenForWrite(ref, orec.LockNone)
			require.NoError(t, err)
			require.Same(t, first, write)
			assert.Equal(t, ModeWrite, write.Mode())
			assert.Equal(t, 1, tx.Size())

			require.NoError(t, tx.Abort())
			requireUnlocked(t, ref)
		})
	}
}

func TestWriteConflict(t *testing.T) {
	s := newTestSTM(t, nil)
	ref := s.NewRef(0)

	a := newTestTx(s, FatMono)
	b := newTestTx(s, FatMono)

	tlA, err := a.OpenForWrite(ref, orec.LockNone)
	require.NoError(t, err)
	tlB, err := b.OpenForWrite(ref, orec.LockNone)
	require.NoError(t, err)

	tlB.Value = 2
	require.NoError(t, b.Commit())

	tlA.Value = 1
	err = a.Commit()
	require.ErrorIs(t, err, ErrReadWriteConflict)
	assert.Equal(t, ConflictVersion, ConflictReasonOf(err))
	assert.Equal(t, StatusAborted, a.Status())

	var stmErr *Error
	require.True(t, errors.As(err, &stmErr))
	assert.Equal(t, ref.ID(), stmErr.RefID)

	requireUnlocked(t, ref)
	value, _ := ref.AtomicGet()
	assert.Equal(t, 2, value)
	assert.Equal(t, uint64(1), ref.Version())
}

func TestEnsureWritesConflict(t *testing.T) {
	s := newTestSTM(t, nil)
	ref := s.NewRef(0)

	a := newTestTx(s, LeanMono)
	_, err := a.OpenForWrite(ref, orec.LockNone)
	require.NoError(t, err)

	commitValue(t, ref, 9)

	err = a.EnsureWrites()
	require.ErrorIs(t, err, ErrReadWriteConflict)
	assert.Equal(t, ConflictVersion, ConflictReasonOf(err))
	assert.Equal(t, StatusAborted, a.Status())
	requireUnlocked(t, ref)
}

func TestEnsureWritesBlocksOtherWriters(t *testing.T) {
	s := newTestSTM(t, nil)
	ref := s.NewRef(0)

	a := newTestTx(s, LeanMono)
	tlA, err := a.OpenForWrite(ref, orec.LockNone)
	require.NoError(t, err)
	require.NoError(t, a.EnsureWrites())
	assert.Equal(t, orec.LockUpdate, tlA.LockMode())
	assert.Equal(t, orec.LockUpdate, ref.Orec().LockMode())

	// readers are still allowed
	reader := newTestTx(s, LeanMono)
	_, err = reader.OpenForRead(ref, orec.LockNone)
	require.NoError(t, err)
	require.NoError(t, reader.Commit())

	// writers fail at prepare
	b := newTestTx(s, LeanMono)
	require.NoError(t, b.Set(ref, 2))
	err = b.Commit()
	require.ErrorIs(t, err, ErrReadWriteConflict)
	assert.Equal(t, ConflictLocked, ConflictReasonOf(err))

	tlA.Value = 1
	require.NoError(t, a.Commit())
	requireUnlocked(t, ref)
	value, _ := ref.AtomicGet()
	assert.Equal(t, 1, value)
}

func TestReadOnlyCommitIgnoresConcurrentWrite(t *testing.T) {
	s := newTestSTM(t, nil)
	ref := s.NewRef(0)

	tx2 := newTestTx(s, LeanMono)
	tl2, err := tx2.OpenForRead(ref, orec.LockNone)
	require.NoError(t, err)
	assert.Equal(t, 0, tl2.Value)
	assert.Equal(t, uint64(0), tl2.Version())

	tx1 := newTestTx(s, LeanMono)
	require.NoError(t, tx1.Set(ref, 1))
	require.NoError(t, tx1.Commit())
	assert.Equal(t, uint64(1), ref.Version())

	// only reads: commits regardless of tx1
	require.NoError(t, tx2.Commit())
	requireUnlocked(t, ref)

	// same start, but writing: conflict
	tx3 := newTestTx(s, LeanMono)
	tl3, err := tx3.OpenForRead(ref, orec.LockNone)
	require.NoError(t, err)
	commitValue(t, ref, 2)
	_, err = tx3.OpenForWrite(ref, orec.LockNone)
	require.NoError(t, err)
	tl3.Value = 3
	require.ErrorIs(t, tx3.Commit(), ErrReadWriteConflict)
	requireUnlocked(t, ref)
}

func TestLockModes(t *testing.T) {
	s := newTestSTM(t, nil)
	ref := s.NewRef(0)

	a := newTestTx(s, FatArrayTree)
	tl, err := a.OpenForRead(ref, orec.LockUpdate)
	require.NoError(t, err)
	assert.Equal(t, orec.LockUpdate, tl.LockMode())

	// update lock: readers pass, lockers fail
	b := newTestTx(s, FatArrayTree)
	_, err = b.OpenForRead(ref, orec.LockNone)
	require.NoError(t, err)
	_, err = b.OpenForWrite(ref, orec.LockUpdate)
	require.ErrorIs(t, err, ErrReadWriteConflict)
	assert.Equal(t, ConflictLocked, ConflictReasonOf(err))
	assert.Equal(t, StatusAborted, b.Status())

	// upgrade to the commit lock
	upgraded, err := a.OpenForRead(ref, orec.LockCommit)
	require.NoError(t, err)
	require.Same(t, tl, upgraded)
	assert.Equal(t, orec.LockCommit, ref.Orec().LockMode())

	// commit lock: everyone fails
	c := newTestTx(s, LeanMono)
	_, err = c.OpenForRead(ref, orec.LockNone)
	require.ErrorIs(t, err, ErrReadWriteConflict)
	assert.Equal(t, ConflictLocked, ConflictReasonOf(err))

	// weaker mode does not downgrade
	same, err := a.OpenForRead(ref, orec.LockNone)
	require.NoError(t, err)
	assert.Equal(t, orec.LockCommit, same.LockMode())

	require.NoError(t, a.Commit())
	requireUnlocked(t, ref)
	assert.Equal(t, uint64(0), ref.Version())
}

func TestDirtyCheck(t *testing.T) {
	s := newTestSTM(t, nil)
	ref := s.NewRef(4)

	tx := newTestTx(s, FatMono)
	tl, err := tx.OpenForWrite(ref, orec.LockNone)
	require.NoError(t, err)
	tl.Value = 4
	require.NoError(t, tx.Commit())
	assert.Equal(t, uint64(0), ref.Version(), "unchanged write must not be published")
	requireUnlocked(t, ref)

	conf := s.Config().Txn.WithDirtyCheck(false)
	tx = newTestTxWithConfig(s, conf)
	tl, err = tx.OpenForWrite(ref, orec.LockNone)
	require.NoError(t, err)
	tl.Value = 4
	require.NoError(t, tx.Commit())
	assert.Equal(t, uint64(1), ref.Version())
	requireUnlocked(t, ref)
}

func TestDirtyCheckWithUncomparableValues(t *testing.T) {
	s := newTestSTM(t, nil)
	ref := s.NewRef([]int{1, 2})

	tx := newTestTx(s, FatMono)
	tl, err := tx.OpenForWrite(ref, orec.LockNone)
	require.NoError(t, err)
	tl.Value = []int{1, 2}
	require.NoError(t, tx.Commit())
	assert.Equal(t, uint64(0), ref.Version())

	tx = newTestTx(s, FatMono)
	tl, err = tx.OpenForWrite(ref, orec.LockNone)
	require.NoError(t, err)
	tl.Value = []int{1, 2, 3}
	require.NoError(t, tx.Commit())
	assert.Equal(t, uint64(1), ref.Version())
}

func TestReadonlyTransaction(t *testing.T) {
	s := newTestSTM(t, nil)
	ref := s.NewRef(1)

	tx := newTestTxWithConfig(s, s.Config().Txn.WithReadOnly(true))
	value, err := tx.Get(ref)
	require.NoError(t, err)
	assert.Equal(t, 1, value)

	_, err = tx.OpenForWrite(ref, orec.LockNone)
	require.ErrorIs(t, err, ErrReadonly)
	assert.Equal(t, StatusAborted, tx.Status())
	requireUnlocked(t, ref)
}

func TestUntrackedReads(t *testing.T) {
	s := newTestSTM(t, nil)
	ref := s.NewRef(3)

	tx := newTestTxWithConfig(s, s.Config().Txn.WithReadTracking(false))
	tl, err := tx.OpenForRead(ref, orec.LockNone)
	require.NoError(t, err)
	assert.Equal(t, 3, tl.Value)
	assert.Equal(t, 0, tx.Size())
	assert.False(t, tl.HasDepartObligation())
	requireUnlocked(t, ref)

	// locked reads and writes are still tracked
	_, err = tx.OpenForRead(ref, orec.LockUpdate)
	require.NoError(t, err)
	assert.Equal(t, 1, tx.Size())
	require.NoError(t, tx.Commit())
	requireUnlocked(t, ref)
}

func TestStatusErrors(t *testing.T) {
	s := newTestSTM(t, nil)
	ref := s.NewRef(0)
	other := s.NewRef(0)

	t.Run("Committed", func(t *testing.T) {
		tx := newTestTx(s, LeanMono)
		require.NoError(t, tx.Commit())
		require.NoError(t, tx.Commit(), "commit of committed transaction is a no-op")

		_, err := tx.OpenForRead(ref, orec.LockNone)
		require.ErrorIs(t, err, ErrDeadTransaction)
		require.ErrorIs(t, tx.Abort(), ErrDeadTransaction)
		require.ErrorIs(t, tx.EnsureWrites(), ErrDeadTransaction)
		require.ErrorIs(t, tx.Prepare(), ErrDeadTransaction)
		assert.Equal(t, StatusCommitted, tx.Status())
	})

	t.Run("Aborted", func(t *testing.T) {
		tx := newTestTx(s, LeanMono)
		require.NoError(t, tx.Abort())
		require.NoError(t, tx.Abort(), "abort of aborted transaction is a no-op")

		_, err := tx.OpenForWrite(ref, orec.LockNone)
		require.ErrorIs(t, err, ErrDeadTransaction)
		require.ErrorIs(t, tx.Commit(), ErrDeadTransaction)
		require.ErrorIs(t, tx.SetAbortOnly(), ErrDeadTransaction)
	})

	t.Run("Prepared", func(t *testing.T) {
		tx := newTestTx(s, FatArrayTree)
		require.NoError(t, tx.Set(ref, 1))
		require.NoError(t, tx.Prepare())
		require.NoError(t, tx.Prepare(), "prepare of prepared transaction is a no-op")
		assert.Equal(t, StatusPrepared, tx.Status())
		assert.Equal(t, orec.LockCommit, ref.Orec().LockMode())

		_, err := tx.OpenForWrite(other, orec.LockNone)
		require.ErrorIs(t, err, ErrPreparedTransaction)
		assert.Equal(t, StatusAborted, tx.Status())
		requireUnlocked(t, ref)
		requireUnlocked(t, other)
		assert.Equal(t, uint64(0), ref.Version())
	})

	t.Run("PreparedRead", func(t *testing.T) {
		tx := newTestTx(s, FatArrayTree)
		require.NoError(t, tx.Set(ref, 1))
		require.NoError(t, tx.Prepare())

		_, err := tx.OpenForRead(other, orec.LockNone)
		require.ErrorIs(t, err, ErrDeadTransaction)
		assert.NotErrorIs(t, err, ErrPreparedTransaction)
		assert.Equal(t, StatusAborted, tx.Status())
		requireUnlocked(t, ref)
		requireUnlocked(t, other)
		assert.Equal(t, uint64(0), ref.Version())
	})

	t.Run("PreparedConstructionAndCommute", func(t *testing.T) {
		for _, use := range []func(tx *Transaction) error{
			func(tx *Transaction) error {
				_, err := tx.OpenForConstruction(s.NewUncommittedRef())
				return err
			},
			func(tx *Transaction) error {
				return tx.Commute(other, func(v any) any { return v })
			},
		} {
			tx := newTestTx(s, FatArrayTree)
			require.NoError(t, tx.Set(ref, 1))
			require.NoError(t, tx.Prepare())
			require.ErrorIs(t, use(tx), ErrPreparedTransaction)
			assert.Equal(t, StatusAborted, tx.Status())
			requireUnlocked(t, ref)
		}
	})

	t.Run("PreparedCommit", func(t *testing.T) {
		tx := newTestTx(s, FatArrayTree)
		require.NoError(t, tx.Set(ref, 7))
		require.NoError(t, tx.Prepare())
		require.NoError(t, tx.Commit())
		value, _ := ref.AtomicGet()
		assert.Equal(t, 7, value)
		requireUnlocked(t, ref)
	})
}

func TestArgumentErrors(t *testing.T) {
	s := newTestSTM(t, nil)
	foreign := newTestSTM(t, nil).NewRef(0)
	ref := s.NewRef(0)

	tx := newTestTx(s, FatArrayTree)
	_, err := tx.OpenForRead(ref, orec.LockNone)
	require.NoError(t, err)
	_, err = tx.OpenForRead(nil, orec.LockNone)
	require.ErrorIs(t, err, ErrNullArgument)
	assert.Equal(t, StatusAborted, tx.Status())
	requireUnlocked(t, ref)

	tx = newTestTx(s, FatArrayTree)
	_, err = tx.OpenForWrite(foreign, orec.LockNone)
	require.ErrorIs(t, err, ErrStmMismatch)
	assert.Equal(t, StatusAborted, tx.Status())

	tx = newTestTx(s, FatArrayTree)
	require.ErrorIs(t, tx.Commute(ref, nil), ErrNullArgument)
	tx = newTestTx(s, FatArrayTree)
	require.ErrorIs(t, tx.Register(nil), ErrNullArgument)
	tx = newTestTx(s, FatArrayTree)
	require.ErrorIs(t, tx.RegisterChangeListenerAndAbort(nil), ErrNullArgument)
}

func TestSetAbortOnly(t *testing.T) {
	s := newTestSTM(t, nil)
	ref := s.NewRef(0)

	tx := newTestTx(s, LeanMono)
	require.NoError(t, tx.Set(ref, 1))
	require.NoError(t, tx.SetAbortOnly())
	assert.True(t, tx.IsAbortOnly())

	err := tx.Commit()
	require.ErrorIs(t, err, ErrReadWriteConflict)
	assert.Equal(t, ConflictAbortOnly, ConflictReasonOf(err))
	assert.Equal(t, StatusAborted, tx.Status())
	assert.Equal(t, uint64(0), ref.Version())
	requireUnlocked(t, ref)

	tx = newTestTx(s, LeanMono)
	require.NoError(t, tx.Set(ref, 1))
	require.NoError(t, tx.Prepare())
	require.ErrorIs(t, tx.SetAbortOnly(), ErrPreparedTransaction)
	assert.Equal(t, StatusAborted, tx.Status())
	requireUnlocked(t, ref)
}

func TestSoftReset(t *testing.T) {
	s := newTestSTM(t, nil)
	ref := s.NewRef(0)

	conf := s.Config().Txn.WithMaxRetries(2).WithTimeout(time.Second)
	tx := newTestTxWithConfig(s, conf)
	require.NoError(t, tx.Set(ref, 1))

	require.True(t, tx.SoftReset())
	assert.Equal(t, StatusActive, tx.Status())
	assert.Equal(t, 2, tx.Attempt())
	assert.Equal(t, 0, tx.Size())
	requireUnlocked(t, ref)

	tx.remainingTimeout = 10 * time.Millisecond
	require.NoError(t, tx.Set(ref, 1))
	require.False(t, tx.SoftReset(), "max retries reached")
	assert.Equal(t, StatusAborted, tx.Status())
	assert.Equal(t, 2, tx.Attempt())
	assert.Equal(t, 10*time.Millisecond, tx.RemainingTimeout())
	requireUnlocked(t, ref)

	tx.HardReset()
	assert.Equal(t, StatusActive, tx.Status())
	assert.Equal(t, 1, tx.Attempt())
	assert.Equal(t, time.Second, tx.RemainingTimeout())
	require.NoError(t, tx.Set(ref, 5))
	require.NoError(t, tx.Commit())
	assert.Equal(t, uint64(1), ref.Version())
}

func TestResetAfterCommit(t *testing.T) {
	s := newTestSTM(t, nil)
	ref := s.NewRef(0)

	tx := newTestTx(s, FatMono)
	require.NoError(t, tx.Set(ref, 1))
	require.NoError(t, tx.Commit())

	require.True(t, tx.SoftReset())
	tl, err := tx.OpenForWrite(ref, orec.LockNone)
	require.NoError(t, err)
	assert.Equal(t, 1, tl.Value)
	tl.Value = 2
	require.NoError(t, tx.Commit())
	assert.Equal(t, uint64(2), ref.Version())
}

func TestConfigValidationOnNew(t *testing.T) {
	conf := config.DefaultStmConfig()
	conf.Txn.MaxRetries = 0
	_, err := New("invalid", conf)
	require.Error(t, err)

	s, err := New("default", nil)
	require.NoError(t, err)
	assert.Equal(t, "default", s.Name())
}
