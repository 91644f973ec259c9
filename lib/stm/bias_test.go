package stm

import (
	"testing"

	"github.com/ValentinKolb/dSTM/lib/config"
	"github.com/ValentinKolb/dSTM/lib/orec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBiasTransition(t *testing.T) {
	const threshold = 3
	s := newTestSTM(t, func(conf *config.StmConfig) {
		conf.ReadBiasedThreshold = threshold
	})
	ref := s.NewRef(1)
	require.Equal(t, uint32(threshold), ref.Orec().ReadBiasedThreshold())

	read := func() *Tranlocal {
		tx := newTestTx(s, LeanMono)
		tl, err := tx.OpenForRead(ref, orec.LockNone)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
		return tl
	}

	for i := 0; i < threshold-1; i++ {
		tl := read()
		assert.False(t, tl.IsPermanent())
		assert.False(t, ref.Orec().IsReadBiased())
	}
	read()

	state := ref.Orec().Snapshot()
	assert.Equal(t, orec.ReadBiased, state.Bias)
	assert.Equal(t, uint32(1), state.Surplus)

	// surplus stays at 1 while read biased
	for i := 0; i < 5; i++ {
		tl := read()
		assert.True(t, tl.IsPermanent())
		assert.False(t, tl.HasDepartObligation())
		assert.Equal(t, uint32(1), ref.Orec().Surplus())
	}

	// the next write switches back
	commitValue(t, ref, 2)
	state = ref.Orec().Snapshot()
	require.NoError(t, state.Validate())
	assert.Equal(t, orec.UpdateBiased, state.Bias)
	assert.Equal(t, uint32(0), state.ReadonlyCount)
	assert.Equal(t, uint32(0), state.Surplus)
	assert.Equal(t, uint64(1), state.Version)
}

func TestReadBiasWithOpenReaders(t *testing.T) {
	s := newTestSTM(t, func(conf *config.StmConfig) {
		conf.ReadBiasedThreshold = 1
	})
	ref := s.NewRef(0)

	// a reader arrives before the orec becomes read biased
	early := newTestTx(s, LeanMono)
	_, err := early.OpenForRead(ref, orec.LockNone)
	require.NoError(t, err)

	other := newTestTx(s, LeanMono)
	_, err = other.OpenForRead(ref, orec.LockNone)
	require.NoError(t, err)
	require.NoError(t, other.Commit())
	require.True(t, ref.Orec().IsReadBiased())
	assert.Equal(t, uint32(2), ref.Orec().Surplus())

	require.NoError(t, early.Commit())
	assert.Equal(t, uint32(1), ref.Orec().Surplus())

	commitValue(t, ref, 1)
	requireUnlocked(t, ref)
}

func TestReadBiasDisabled(t *testing.T) {
	s := newTestSTM(t, func(conf *config.StmConfig) {
		conf.ReadBiasedThreshold = 0
	})
	ref := s.NewRef(0)

	for i := 0; i < 100; i++ {
		tx := newTestTx(s, LeanMono)
		_, err := tx.OpenForRead(ref, orec.LockNone)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
	}
	assert.False(t, ref.Orec().IsReadBiased())
	requireUnlocked(t, ref)
}
