package stm

import (
	"testing"

	"github.com/ValentinKolb/dSTM/lib/config"
	"github.com/stretchr/testify/require"
)

// newTestSTM creates an STM with the default configuration changed by mutate.
func newTestSTM(t testing.TB, mutate func(conf *config.StmConfig)) *STM {
	t.Helper()
	conf := config.DefaultStmConfig()
	if mutate != nil {
		mutate(conf)
	}
	s, err := New(t.Name(), conf)
	require.NoError(t, err)
	return s
}

// newTestTx creates a transaction of the variant, array transactions get room for 8 refs.
func newTestTx(s *STM, v Variant) *Transaction {
	return s.NewTransaction(TxnOptions{Variant: v, Capacity: 8})
}

// newTestTxWithConfig creates a fat tree transaction with conf.
func newTestTxWithConfig(s *STM, conf config.TxnConfig) *Transaction {
	return s.NewTransaction(TxnOptions{Variant: FatArrayTree, Config: &conf})
}

// requireUnlocked checks that ref is neither locked nor opened by anyone.
func requireUnlocked(t testing.TB, ref *Ref) {
	t.Helper()
	state := ref.Orec().Snapshot()
	require.NoError(t, state.Validate())
	require.Equal(t, uint64(0), state.Owner, "ref %d is still locked: %s", ref.ID(), state)
	require.Equal(t, uint32(0), state.Surplus, "ref %d is still arrived: %s", ref.ID(), state)
}

// commitValue writes value to ref in a transaction of its own.
func commitValue(t testing.TB, ref *Ref, value any) {
	t.Helper()
	tx := newTestTx(ref.STM(), FatArrayTree)
	require.NoError(t, tx.Set(ref, value))
	require.NoError(t, tx.Commit())
}
