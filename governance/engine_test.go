package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreledger/hybridcore/consensus"
	"github.com/coreledger/hybridcore/registry"
)

// fakeValidators satisfies ValidatorLookup with a fixed committee.
type fakeValidators struct {
	byID  map[string]consensus.ValidatorInfo
	total uint64
}

func newFakeValidators() *fakeValidators {
	return &fakeValidators{byID: make(map[string]consensus.ValidatorInfo)}
}

func (f *fakeValidators) add(id string, stake uint64, reputation float64) {
	f.byID[id] = consensus.ValidatorInfo{
		ValidatorID: id,
		StakeAmount: stake,
		Reputation:  reputation,
		IsActive:    true,
	}
	f.total += stake
}

func (f *fakeValidators) ActiveValidator(id string) (consensus.ValidatorInfo, bool) {
	v, ok := f.byID[id]
	return v, ok
}

func (f *fakeValidators) TotalStaked() uint64 { return f.total }

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New(nil)
	require.NoError(t, r.RegisterSchema(registry.Schema{
		Name:    "max_block_size",
		Kind:    registry.KindInt,
		Bounds:  registry.Bounds{Min: 1_000_000, Max: 100_000_000},
		Default: "1000000",
	}))
	return r
}

func setupEngine(t *testing.T) (*Engine, *fakeValidators, *registry.Registry) {
	t.Helper()
	validators := newFakeValidators()
	// Three validators, reputation 1.0, so stake == vote weight.
	validators.add("v1", 500_000, 1.0)
	validators.add("v2", 300_000, 1.0)
	validators.add("v3", 200_000, 1.0)

	params := newTestRegistry(t)
	engine := New(validators, params, NewProtocolVersionFlags(), nil)
	return engine, validators, params
}

func TestCreateProposalRequiresActiveValidator(t *testing.T) {
	engine, _, _ := setupEngine(t)

	_, err := engine.CreateProposal("nobody", ProposalParameterChange, "t", "d", nil, false, false, 100)
	require.Error(t, err)
}

func TestCreateProposalRequiresStake(t *testing.T) {
	engine, validators, _ := setupEngine(t)
	validators.add("poor", MinProposalStake-1, 1.0)

	_, err := engine.CreateProposal("poor", ProposalParameterChange, "t", "d", nil, false, false, 100)
	require.Error(t, err)

	// Emergency needs 5x the base stake.
	validators.add("midsize", MinProposalStake*3, 1.0)
	_, err = engine.CreateProposal("midsize", ProposalEmergencyAction, "t", "d",
		EmergencyActionPayload{Action: "halt"}, false, true, 100)
	require.Error(t, err)
}

func TestCreateProposalRejectsConflictingExclusiveTypes(t *testing.T) {
	engine, _, _ := setupEngine(t)

	_, err := engine.CreateProposal("v1", ProposalProtocolUpgrade, "upgrade 1", "d",
		ProtocolUpgradePayload{FeatureName: "f1", ActivationHeight: 5000}, false, false, 100)
	require.NoError(t, err)

	_, err = engine.CreateProposal("v2", ProposalProtocolUpgrade, "upgrade 2", "d",
		ProtocolUpgradePayload{FeatureName: "f2", ActivationHeight: 6000}, false, false, 100)
	require.Error(t, err, "only one active PROTOCOL_UPGRADE at a time")
}

func TestVoteDuplicateRejected(t *testing.T) {
	engine, _, _ := setupEngine(t)
	ctx := context.Background()

	id, err := engine.CreateProposal("v1", ProposalParameterChange, "t", "d",
		ParameterChangePayload{Changes: map[string]string{"max_block_size": "2000000"}}, false, false, 100)
	require.NoError(t, err)

	engine.Tick(ctx, 100) // PENDING -> ACTIVE

	require.NoError(t, engine.Vote(id, "v1", VoteFor, "", 101))
	err = engine.Vote(id, "v1", VoteAgainst, "changed my mind", 102)
	require.Error(t, err)
}

func TestVoteBoundaryAtVotingEndHeight(t *testing.T) {
	engine, _, _ := setupEngine(t)
	ctx := context.Background()

	id, err := engine.CreateProposal("v1", ProposalParameterChange, "t", "d",
		ParameterChangePayload{Changes: map[string]string{"max_block_size": "2000000"}}, false, false, 100)
	require.NoError(t, err)

	engine.Tick(ctx, 100)

	p, _ := engine.Proposal(id)
	// A vote arriving exactly at voting_end_height is counted (spec §8).
	require.NoError(t, engine.Vote(id, "v1", VoteFor, "", p.VotingEndHeight))
	// One height later it is ignored.
	require.Error(t, engine.Vote(id, "v2", VoteFor, "", p.VotingEndHeight+1))
}

func TestProposalApprovedAndExecuted(t *testing.T) {
	engine, _, params := setupEngine(t)
	ctx := context.Background()

	id, err := engine.CreateProposal("v1", ProposalParameterChange, "raise block size", "d",
		ParameterChangePayload{Changes: map[string]string{"max_block_size": "2000000"}}, false, false, 100)
	require.NoError(t, err)

	engine.Tick(ctx, 100)

	// 70% for (v1 500k + v3 200k), 30% against (v2 300k): participation
	// 100%, for-fraction 0.7 >= 0.67 -> APPROVED (spec §8 scenario S6).
	require.NoError(t, engine.Vote(id, "v1", VoteFor, "", 101))
	require.NoError(t, engine.Vote(id, "v3", VoteFor, "", 101))
	require.NoError(t, engine.Vote(id, "v2", VoteAgainst, "", 101))

	p, _ := engine.Proposal(id)
	endHeight := p.VotingEndHeight

	engine.Tick(ctx, endHeight+1)
	p, _ = engine.Proposal(id)
	assert.Equal(t, StatusApproved, p.Status)
	assert.Equal(t, endHeight+ExecutionDelayBlocks, p.ExecutionHeight)

	engine.Tick(ctx, p.ExecutionHeight)
	p, _ = engine.Proposal(id)
	assert.Equal(t, StatusExecuted, p.Status)

	v, err := params.Get("max_block_size")
	require.NoError(t, err)
	assert.Equal(t, "2000000", v)
}

func TestProposalExpiresOnLowParticipation(t *testing.T) {
	engine, _, _ := setupEngine(t)
	ctx := context.Background()

	id, err := engine.CreateProposal("v1", ProposalParameterChange, "t", "d",
		ParameterChangePayload{Changes: map[string]string{"max_block_size": "2000000"}}, false, false, 100)
	require.NoError(t, err)

	engine.Tick(ctx, 100)

	// Only v3 votes: 200k / 1M = 0.2 < 0.33 participation.
	require.NoError(t, engine.Vote(id, "v3", VoteFor, "", 101))

	p, _ := engine.Proposal(id)
	engine.Tick(ctx, p.VotingEndHeight+1)

	p, _ = engine.Proposal(id)
	assert.Equal(t, StatusExpired, p.Status)
}

func TestParticipationBoundary(t *testing.T) {
	// Participation exactly 0.33 passes; just under fails (spec §8).
	p := &Proposal{quorumStake: 1_000_000, VotesFor: 330_000}
	assert.GreaterOrEqual(t, p.participation(), MinParticipation)

	p2 := &Proposal{quorumStake: 1_000_000, VotesFor: 329_000}
	assert.Less(t, p2.participation(), MinParticipation)
}

func TestProposalRejectedBelowThreshold(t *testing.T) {
	engine, _, _ := setupEngine(t)
	ctx := context.Background()

	id, err := engine.CreateProposal("v1", ProposalParameterChange, "t", "d",
		ParameterChangePayload{Changes: map[string]string{"max_block_size": "2000000"}}, false, false, 100)
	require.NoError(t, err)

	engine.Tick(ctx, 100)

	// 50% for, 50% against: below the 0.67 approval threshold.
	require.NoError(t, engine.Vote(id, "v1", VoteFor, "", 101))
	require.NoError(t, engine.Vote(id, "v2", VoteAgainst, "", 101))
	require.NoError(t, engine.Vote(id, "v3", VoteAgainst, "", 101))

	p, _ := engine.Proposal(id)
	engine.Tick(ctx, p.VotingEndHeight+1)

	p, _ = engine.Proposal(id)
	assert.Equal(t, StatusRejected, p.Status)
}

func TestCriticalProposalNeedsHigherThreshold(t *testing.T) {
	engine, _, _ := setupEngine(t)
	ctx := context.Background()

	id, err := engine.CreateProposal("v1", ProposalParameterChange, "t", "d",
		ParameterChangePayload{Changes: map[string]string{"max_block_size": "2000000"}}, true, false, 100)
	require.NoError(t, err)

	engine.Tick(ctx, 100)

	// 70% for: enough for a normal proposal, not for CRITICAL's 0.80.
	require.NoError(t, engine.Vote(id, "v1", VoteFor, "", 101))
	require.NoError(t, engine.Vote(id, "v3", VoteFor, "", 101))
	require.NoError(t, engine.Vote(id, "v2", VoteAgainst, "", 101))

	p, _ := engine.Proposal(id)
	engine.Tick(ctx, p.VotingEndHeight+1)

	p, _ = engine.Proposal(id)
	assert.Equal(t, StatusRejected, p.Status)
}

func TestEmergencyProposalExecutesNextBlock(t *testing.T) {
	engine, validators, _ := setupEngine(t)
	validators.add("whale", MinProposalStake*10, 1.0)
	ctx := context.Background()

	id, err := engine.CreateProposal("whale", ProposalEmergencyAction, "halt withdrawals", "d",
		EmergencyActionPayload{Action: "halt"}, false, true, 100)
	require.NoError(t, err)

	engine.Tick(ctx, 100)

	// Everyone votes for: 100% >= the 0.90 emergency threshold.
	for _, v := range []string{"v1", "v2", "v3", "whale"} {
		require.NoError(t, engine.Vote(id, v, VoteFor, "", 101))
	}

	p, _ := engine.Proposal(id)
	engine.Tick(ctx, p.VotingEndHeight+1)

	p, _ = engine.Proposal(id)
	require.Equal(t, StatusApproved, p.Status)
	assert.Equal(t, p.VotingEndHeight+EmergencyExecutionDelay, p.ExecutionHeight)

	engine.Tick(ctx, p.ExecutionHeight)
	assert.True(t, engine.EmergencyMode())
}

func TestProtocolUpgradeSetsVersionFlag(t *testing.T) {
	validators := newFakeValidators()
	validators.add("v1", 500_000, 1.0)

	versions := NewProtocolVersionFlags()
	engine := New(validators, newTestRegistry(t), versions, nil)
	ctx := context.Background()

	id, err := engine.CreateProposal("v1", ProposalProtocolUpgrade, "activate ctor", "d",
		ProtocolUpgradePayload{FeatureName: "ctor", ActivationHeight: 100_000}, false, false, 100)
	require.NoError(t, err)

	engine.Tick(ctx, 100)
	require.NoError(t, engine.Vote(id, "v1", VoteFor, "", 101))

	p, _ := engine.Proposal(id)
	engine.Tick(ctx, p.VotingEndHeight+1)
	p, _ = engine.Proposal(id)
	require.Equal(t, StatusApproved, p.Status)

	engine.Tick(ctx, p.ExecutionHeight)

	h, ok := versions.ActivationHeight("ctor")
	require.True(t, ok)
	assert.Equal(t, uint32(100_000), h)
}

func TestStatsAndListActive(t *testing.T) {
	engine, _, _ := setupEngine(t)
	ctx := context.Background()

	_, err := engine.CreateProposal("v1", ProposalCustom, "a", "d", nil, false, false, 100)
	require.NoError(t, err)
	engine.Tick(ctx, 100)

	assert.Len(t, engine.ListActive(), 1)
	stats := engine.Stats()
	assert.Equal(t, 1, stats.ActiveCount)
	assert.Equal(t, 0, stats.CompletedCount)
}
