package treeid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoot_StartsEmptyAndNotFull(t *testing.T) {
	r := Root()
	assert.False(t, r.Full())
	assert.Equal(t, uint64(0), r.ID())
}

func TestInherit_FourSuccessiveChildren_GetStridedIDs(t *testing.T) {
	r := Root()
	stride := (^uint64(0) - 1) / Arity

	var ids []uint64
	for i := 0; i < 4; i++ {
		c, err := r.Inherit()
		require.NoError(t, err)
		ids = append(ids, c.ID())
	}

	assert.Equal(t, []uint64{1, 1 + stride, 1 + 2*stride, 1 + 3*stride}, ids)
}

func TestInherit_UpToArityChildren_ThenFull(t *testing.T) {
	r := Root()
	for i := 0; i < Arity; i++ {
		_, err := r.Inherit()
		require.NoError(t, err)
	}
	assert.True(t, r.Full())

	_, err := r.Inherit()
	assert.Error(t, err)
}

func TestInherit_ChildRootIDsAreStridedFromParent(t *testing.T) {
	r := Root()
	for i := uint64(0); i < 5; i++ {
		c, err := r.Inherit()
		require.NoError(t, err)
		assert.Equal(t, r.rootID+1+r.stride*i, c.ID())
	}
}

func TestInherit_DeepChains_DoNotCollide(t *testing.T) {
	// Walk one chain deep enough that stride collapses to zero and confirm
	// we get a loud failure instead of a silently duplicated ID.
	f := Root()
	seen := map[uint64]bool{}
	var err error
	for depth := 0; depth < 64; depth++ {
		var child Factory
		child, err = f.Inherit()
		if err != nil {
			break
		}
		require.False(t, seen[child.ID()], "id %d reused at depth %d", child.ID(), depth)
		seen[child.ID()] = true

		var second Factory
		second, err = f.Inherit()
		if err != nil {
			break
		}
		require.NotEqual(t, child.ID(), second.ID())
		f = child
	}
	require.Error(t, err)
}

func TestFromAssignment_ReconstructsInheritedFactory(t *testing.T) {
	r := Root()
	c1, err := r.Inherit()
	require.NoError(t, err)
	c2, err := c1.Inherit()
	require.NoError(t, err)

	reconstructed := FromAssignment(c2.ID(), c2.Depth())
	assert.Equal(t, c2, reconstructed)
}

func TestFromAssignment_SameDepthDifferentBranch_SameDynamicStride(t *testing.T) {
	r := Root()
	a, err := r.Inherit()
	require.NoError(t, err)
	b, err := r.Inherit()
	require.NoError(t, err)

	// Two siblings at the same depth must reconstruct identical
	// dynamic/stride, even though their IDs differ, since disjointness
	// comes from the ID ranges, not from per-branch bookkeeping.
	ra := FromAssignment(a.ID(), a.Depth())
	rb := FromAssignment(b.ID(), b.Depth())
	assert.Equal(t, ra.dynamic, rb.dynamic)
	assert.Equal(t, ra.stride, rb.stride)
	assert.NotEqual(t, ra.rootID, rb.rootID)
}
