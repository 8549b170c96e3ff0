package consensus

import (
	"crypto/sha256"

	"github.com/coreledger/hybridcore/errors"
	"github.com/coreledger/hybridcore/external"
	"github.com/coreledger/hybridcore/model"
)

// BuildCheckpoint assembles an unsigned CheckpointInfo for height/blockID,
// the object the selected committee is asked to sign (spec §4.6 step 1-2).
func (e *Engine) BuildCheckpoint(height uint32, blockID model.Hash) *CheckpointInfo {
	now := e.clock.NowUnix()
	first := sha256.Sum256(SigningPayload(height, blockID, now))
	return &CheckpointInfo{
		Height:       height,
		BlockID:      blockID,
		CheckpointID: model.Hash(sha256.Sum256(first[:])),
		Time:         now,
	}
}

// SelectCommittee exposes selectCommitteeLocked under the engine's mutex,
// returning the validator ids chosen to sign a checkpoint at this height.
func (e *Engine) SelectCommittee() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	committee := e.selectCommitteeLocked()
	ids := make([]string, len(committee))
	for i, v := range committee {
		ids[i] = v.ValidatorID
	}
	return ids
}

// VerifyCheckpoint checks that cp carries valid signatures from at least
// 2/3 of the ACTIVE validator set (spec §4.6 step 2). The committee is
// the subset asked to sign, but the threshold is measured against the
// whole active set, so a checkpoint can never finalize on a minority of
// the network's stakeholder count. Signatures from any active validator
// count; unknown or inactive signers are ignored.
func (e *Engine) VerifyCheckpoint(cp *CheckpointInfo, alg external.SignatureAlgorithm) error {
	e.mu.Lock()
	activeSet := make(map[string]*ValidatorInfo, len(e.state.ActiveValidators))
	for id, v := range e.state.ActiveValidators {
		activeSet[id] = v
	}
	e.mu.Unlock()

	payload := SigningPayload(cp.Height, cp.BlockID, cp.Time)

	valid := 0
	seen := make(map[string]bool, len(cp.ValidatorSignatures))
	for _, sig := range cp.ValidatorSignatures {
		if seen[sig.ValidatorID] {
			continue // spec §4.6: duplicate signer rejected, not double-counted
		}
		v, ok := activeSet[sig.ValidatorID]
		if !ok {
			continue
		}
		if !e.sigVerify.Verify(alg, sig.Signature, v.PublicKey, payload) {
			continue
		}
		seen[sig.ValidatorID] = true
		valid++
	}

	required := requiredSignatures(len(activeSet))
	if valid < required {
		return errors.NewInsufficientSignaturesError(
			"checkpoint at height %d has %d valid signatures, needs %d of %d active validators",
			cp.Height, valid, required, len(activeSet))
	}

	return nil
}

// RecordCheckpoint stores a verified checkpoint and updates the current
// committee: members who signed get LastCheckpoint bumped and
// MissedCheckpoints reset, members who did not sign get MissedCheckpoints
// incremented. Signers outside the committee are not updated.
// RecentCheckpoints is bounded to MaxRecentCheckpoints (spec §3).
func (e *Engine) RecordCheckpoint(cp *CheckpointInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()

	signed := make(map[string]bool, len(cp.ValidatorSignatures))
	for _, sig := range cp.ValidatorSignatures {
		signed[sig.ValidatorID] = true
	}

	committee := e.selectCommitteeLocked()
	for _, v := range committee {
		if signed[v.ValidatorID] {
			v.LastCheckpoint = cp.Height
			v.MissedCheckpoints = 0
		} else {
			v.MissedCheckpoints++
		}
	}

	e.state.RecentCheckpoints = append(e.state.RecentCheckpoints, cp)
	if len(e.state.RecentCheckpoints) > MaxRecentCheckpoints {
		e.state.RecentCheckpoints = e.state.RecentCheckpoints[len(e.state.RecentCheckpoints)-MaxRecentCheckpoints:]
	}
	e.state.LastCheckpointHeight = cp.Height

	e.emit("CHECKPOINT_RECORDED", map[string]interface{}{"height": cp.Height, "signers": len(signed)})
}

// AdvanceConfirmations bumps ConfirmationCount on every non-finalized
// recorded checkpoint as new blocks arrive on top of currentHeight, and
// finalizes (marks IsFinalized, credits rewards) any checkpoint that
// reaches FinalityConfirmation confirmations (spec §4.6: "a checkpoint is
// final once FINALITY_CONFIRMATION further blocks build on it").
func (e *Engine) AdvanceConfirmations(currentHeight uint32) []*CheckpointInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	var justFinalized []*CheckpointInfo

	for _, cp := range e.state.RecentCheckpoints {
		if cp.IsFinalized || currentHeight < cp.Height {
			continue
		}
		cp.ConfirmationCount = currentHeight - cp.Height
		if cp.ConfirmationCount >= FinalityConfirmation {
			cp.IsFinalized = true
			e.creditRewardsLocked(cp)
			prometheusCheckpointsFinal.Inc()
			justFinalized = append(justFinalized, cp)
		}
	}

	return justFinalized
}

// creditRewardsLocked distributes a checkpoint reward across its signers
// proportional to stake-share * reputation (spec §4.6: "rewards credited
// to signers proportional to stake and reputation"). Caller holds mu.
func (e *Engine) creditRewardsLocked(cp *CheckpointInfo) {
	const checkpointReward = 1000

	var totalScore float64
	signers := make([]*ValidatorInfo, 0, len(cp.ValidatorSignatures))
	for _, sig := range cp.ValidatorSignatures {
		if v, ok := e.state.ActiveValidators[sig.ValidatorID]; ok {
			signers = append(signers, v)
			totalScore += v.score()
		}
	}
	if totalScore == 0 {
		return
	}

	for _, v := range signers {
		share := v.score() / totalScore
		v.TotalRewards += uint64(share * checkpointReward)
	}
}

// FinalityStatusFor derives the spec §4.6 finality status for a block at
// height: CONFIRMED if a finalized checkpoint at height >= h exists (a
// checkpoint covers everything at or below it), PROBABLE if a
// recorded-but-not-yet-finalized checkpoint covers it or the block is
// past the midpoint of its checkpoint interval, PENDING otherwise.
func (e *Engine) FinalityStatusFor(height uint32) FinalityStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	covered := false
	for _, cp := range e.state.RecentCheckpoints {
		if cp.Height < height {
			continue
		}
		if cp.IsFinalized {
			return FinalityConfirmed
		}
		covered = true
	}
	if covered {
		return FinalityProbable
	}

	if height%CheckpointInterval > CheckpointInterval/2 {
		return FinalityProbable
	}
	return FinalityPending
}
