package blocksize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSizeRejectsOverLimit(t *testing.T) {
	g := New(Base, nil)
	err := g.ValidateSize(Base + 1)
	require.Error(t, err)
}

func TestValidateSizeAcceptsWithinLimit(t *testing.T) {
	g := New(Base, nil)
	require.NoError(t, g.ValidateSize(Base))
}

func TestApplyBlockAccumulatesRecentSizes(t *testing.T) {
	g := New(Base, nil)
	for i := 0; i < 5; i++ {
		g.ApplyBlock(1000, 0)
	}
	snap := g.Snapshot()
	assert.Len(t, snap.RecentSizes, 5)
}

func TestRecentSizesRingBufferTruncatesAt100(t *testing.T) {
	g := New(Base, nil)
	for i := 0; i < 150; i++ {
		g.ApplyBlock(uint64(i), 0)
	}
	snap := g.Snapshot()
	assert.Len(t, snap.RecentSizes, 100)
	assert.Equal(t, uint64(50), snap.RecentSizes[0])
}

func TestAdjustmentIncreasesLimitOnHighUtilisation(t *testing.T) {
	g := New(Base, nil)

	highSize := uint64(float64(Base) * 0.9)
	for i := uint32(0); i < AdjustmentPeriod; i++ {
		g.ApplyBlock(highSize, 0)
	}

	snap := g.Snapshot()
	assert.Greater(t, snap.CurrentLimit, Base)
	assert.Equal(t, uint32(0), snap.BlocksSinceAdjustment)
}

func TestAdjustmentDecreasesLimitOnLowUtilisation(t *testing.T) {
	g := New(Base*10, nil)

	lowSize := uint64(float64(Base*10) * 0.1)
	for i := uint32(0); i < AdjustmentPeriod; i++ {
		g.ApplyBlock(lowSize, 0)
	}

	snap := g.Snapshot()
	assert.Less(t, snap.CurrentLimit, Base*10)
}

func TestAdjustmentAtHighUtilisationProducesExactFactor(t *testing.T) {
	// Blocks alternating 0.9/1.0 of the limit average out to U = 0.95,
	// giving f = 1 + (0.95-0.8)*2 = 1.30 and a new limit of 1,300,000,
	// without tripping the sustained-pressure emergency predicate.
	g := New(Base, nil)

	for i := uint32(0); i < AdjustmentPeriod; i++ {
		size := uint64(900_000)
		if i%2 == 1 {
			size = 1_000_000
		}
		g.ApplyBlock(size, 0)
	}

	snap := g.Snapshot()
	assert.False(t, snap.EmergencyMode)
	assert.InDelta(t, 1.30, snap.AdjustmentFactor, 0.0001)
	// floor() over the float factor can land one byte short of the exact
	// 1,300,000
	assert.InDelta(t, 1_300_000, float64(snap.CurrentLimit), 1.0)
}

func TestAdjustmentAtLowUtilisationFloorsAtBase(t *testing.T) {
	// U = 0.20 gives f = 0.5 + 0.20*1.67 = 0.834; 834,000 is below BASE,
	// so the floor prevails and the limit stays at 1,000,000.
	g := New(Base, nil)

	for i := uint32(0); i < AdjustmentPeriod; i++ {
		g.ApplyBlock(200_000, 0)
	}

	snap := g.Snapshot()
	assert.InDelta(t, 0.834, snap.AdjustmentFactor, 0.0001)
	assert.Equal(t, Base, snap.CurrentLimit)
}

func TestEmergencyModeActivatesUnderSustainedPressure(t *testing.T) {
	g := New(Base, nil)

	nearLimit := uint64(float64(Base) * 0.99)
	for i := 0; i < MinSample; i++ {
		g.ApplyBlock(nearLimit, 0)
	}

	snap := g.Snapshot()
	assert.True(t, snap.EmergencyMode)
	assert.Equal(t, Base*uint64(EmergencyMultiplier), snap.CurrentLimit)
}

func TestValidateTransitionRejectsTooSteepIncrease(t *testing.T) {
	err := ValidateTransition(Base, Base*3)
	require.Error(t, err)
}

func TestValidateTransitionAcceptsWithinBounds(t *testing.T) {
	require.NoError(t, ValidateTransition(Base, Base*2))
	require.NoError(t, ValidateTransition(Base, Base/2))
}

func TestValidateVoteRejectsBelowBase(t *testing.T) {
	err := ValidateVote(Base-1, Base)
	require.Error(t, err)
}

func TestValidateVoteRejectsMaxBelowPreferred(t *testing.T) {
	err := ValidateVote(Base*2, Base)
	require.Error(t, err)
}

func TestValidateVoteRejectsAboveHardCeiling(t *testing.T) {
	err := ValidateVote(Base, HardCeiling+1)
	require.Error(t, err)
}

func TestValidateVoteAcceptsWellFormedVote(t *testing.T) {
	require.NoError(t, ValidateVote(Base, Base*2))
}

func TestMedianVoteOddAndEven(t *testing.T) {
	odd, ok := medianVote([]uint64{1, 3, 2})
	require.True(t, ok)
	assert.Equal(t, uint64(2), odd)

	even, ok := medianVote([]uint64{1, 2, 3, 4})
	require.True(t, ok)
	assert.Equal(t, uint64(2), even)
}
