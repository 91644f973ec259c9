package stm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachedSets(t *testing.T) {
	s := newTestSTM(t, nil)
	refs := []*Ref{s.NewRef(0), s.NewRef(1), s.NewRef(2)}

	tests := []struct {
		name     string
		set      attachedSet
		capacity int
	}{
		{"Mono", newAttachedSet(StorageMono, 0), 1},
		{"Array", newAttachedSet(StorageArray, 2), 2},
		{"Tree", newAttachedSet(StorageTree, 0), -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := tt.set
			assert.Equal(t, tt.capacity, set.capacity())
			assert.Equal(t, 0, set.size())
			assert.Nil(t, set.find(refs[0]))

			attached := 0
			for _, ref := range refs {
				if set.attach(&Tranlocal{owner: ref}) {
					attached++
				}
			}
			if tt.capacity > 0 {
				assert.Equal(t, tt.capacity, attached)
				assert.True(t, set.isFull())
			} else {
				assert.Equal(t, len(refs), attached)
				assert.False(t, set.isFull())
			}
			assert.Equal(t, attached, set.size())

			for i, ref := range refs {
				tl := set.find(ref)
				if i < attached {
					require.NotNil(t, tl)
					assert.Same(t, ref, tl.Owner())
				} else {
					assert.Nil(t, tl)
				}
			}

			var visited []uint64
			set.each(func(tl *Tranlocal) bool {
				visited = append(visited, tl.owner.id)
				return true
			})
			assert.Len(t, visited, attached)
			assert.IsIncreasing(t, visited)

			set.clear()
			assert.Equal(t, 0, set.size())
			assert.False(t, set.isFull())
			assert.Nil(t, set.find(refs[0]))
		})
	}
}

func TestAttachedSetEachStops(t *testing.T) {
	s := newTestSTM(t, nil)
	set := newAttachedSet(StorageTree, 0)
	for i := 0; i < 10; i++ {
		set.attach(&Tranlocal{owner: s.NewRef(i)})
	}

	calls := 0
	set.each(func(*Tranlocal) bool {
		calls++
		return calls < 3
	})
	assert.Equal(t, 3, calls)
}

func TestTreeSetIgnoresForeignRefWithSameID(t *testing.T) {
	a := newTestSTM(t, nil)
	b := newTestSTM(t, nil)
	refA := a.NewRef(0)
	refB := b.NewRef(0)
	require.Equal(t, refA.ID(), refB.ID())

	set := newTreeSet()
	set.attach(&Tranlocal{owner: refA})
	assert.Nil(t, set.find(refB))
}
