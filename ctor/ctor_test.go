package ctor

import (
	"context"
	"testing"

	"github.com/coreledger/hybridcore/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashWithFirstByte(b byte) model.Hash {
	var h model.Hash
	h[0] = b
	return h
}

func TestSortCanonicalOrdersByUnsignedLexBytes(t *testing.T) {
	a := hashWithFirstByte(0x01)
	b := hashWithFirstByte(0x02)
	c := hashWithFirstByte(0xff)

	sorted := SortCanonical([]model.Hash{c, a, b})
	assert.Equal(t, []model.Hash{a, b, c}, sorted)
}

func TestSortCanonicalDoesNotMutateInput(t *testing.T) {
	a := hashWithFirstByte(0x02)
	b := hashWithFirstByte(0x01)
	input := []model.Hash{a, b}

	SortCanonical(input)
	assert.Equal(t, byte(0x02), input[0][0], "input slice must not be mutated")
}

func TestValidateOrderAcceptsStrictAscending(t *testing.T) {
	ids := []model.Hash{hashWithFirstByte(1), hashWithFirstByte(2), hashWithFirstByte(3)}
	require.NoError(t, ValidateOrder(ids, false))
}

func TestValidateOrderRejectsUnsortedWhenStrict(t *testing.T) {
	ids := []model.Hash{hashWithFirstByte(2), hashWithFirstByte(1)}
	err := ValidateOrder(ids, false)
	require.Error(t, err)
}

func TestValidateOrderAllowsEitherDuringGrace(t *testing.T) {
	ids := []model.Hash{hashWithFirstByte(2), hashWithFirstByte(1)}
	require.NoError(t, ValidateOrder(ids, true))
}

func TestActivationReachesLockedInAfterThresholdSignaling(t *testing.T) {
	ctx := context.Background()
	a := NewActivation(1000, 100000)

	require.NoError(t, a.ObserveBlock(ctx, 0, 1000, false))
	assert.Equal(t, StateStarted, a.Current())

	for h := uint32(1); h < CTORPeriod; h++ {
		require.NoError(t, a.ObserveBlock(ctx, h, 1001, true))
	}

	assert.Equal(t, StateLockedIn, a.Current())
}

func TestActivationFailsOnTimeoutWithoutThreshold(t *testing.T) {
	ctx := context.Background()
	a := NewActivation(1000, 1001)

	require.NoError(t, a.ObserveBlock(ctx, 0, 1000, false))

	for h := uint32(1); h < CTORPeriod; h++ {
		require.NoError(t, a.ObserveBlock(ctx, h, 1001, false))
	}

	assert.Equal(t, StateFailed, a.Current())
}

func TestActivationBecomesActiveAfterGracePeriod(t *testing.T) {
	ctx := context.Background()
	a := NewActivation(1000, 100000)

	require.NoError(t, a.ObserveBlock(ctx, 0, 1000, false))
	for h := uint32(1); h < CTORPeriod; h++ {
		require.NoError(t, a.ObserveBlock(ctx, h, 1001, true))
	}
	require.Equal(t, StateLockedIn, a.Current())

	lockedInHeight := CTORPeriod - 1
	require.NoError(t, a.ObserveBlock(ctx, uint32(lockedInHeight+CTORGracePeriod), 2000, false))

	assert.Equal(t, StateActive, a.Current())
}

func TestVersionSignalBit(t *testing.T) {
	assert.True(t, VersionSignal(versionSignalBit|0x1))
	assert.False(t, VersionSignal(0x1))
}
