// Package consensus implements the Hybrid Consensus Engine (spec §4.6):
// PoW security combined with stake-weighted validator checkpoints for
// fast finality. Validator bookkeeping generalizes the business-level
// shape from certenIO-certen-validator/pkg/consensus/types.go
// (ValidatorInfo: id, pubkey, voting power, reputation, active flag,
// timestamps) to this spec's §3 ValidatorInfo fields, and committee
// threshold math is grounded on that same package's
// ValidateThreshold/CalculateRequiredCount/IsByzantineFaultTolerant
// helpers: the checkpoint threshold is a headcount of at least 2/3 of the
// active validators, not a stake-weighted sum.
package consensus

import (
	"github.com/coreledger/hybridcore/model"
)

// Consensus parameters (spec §4.6).
const (
	MinValidatorStake         uint64  = 100_000
	MaxActiveValidators       int     = 100
	MinValidatorsForConsensus int     = 67
	CheckpointInterval        uint32  = 100
	SlashingPenalty           float64 = 0.1
	FinalityConfirmation      uint32  = 6

	minReputation = 0.1
	maxReputation = 1.0
)

// ValidatorInfo is the spec §3 entity, owned exclusively by the
// consensus engine's ValidatorNetworkState.
type ValidatorInfo struct {
	ValidatorID       string
	PublicKey         []byte
	StakeAmount       uint64
	ActivationHeight  uint32
	LastCheckpoint    uint32
	IsActive          bool
	Reputation        float64
	MissedCheckpoints int
	TotalRewards      uint64
	SlashedAmount     uint64
}

// score is stake * reputation, the ranking used both for committee
// selection (spec §4.6 step 2) and for splitting checkpoint rewards.
func (v *ValidatorInfo) score() float64 {
	return float64(v.StakeAmount) * v.Reputation
}

// CheckpointSignature pairs a validator with its signature over a
// checkpoint's signing payload.
type CheckpointSignature struct {
	ValidatorID string
	Signature   []byte
}

// CheckpointInfo is the spec §3 entity. CheckpointID = hash(height ||
// block-id || time), computed by BuildCheckpoint.
type CheckpointInfo struct {
	Height              uint32
	BlockID             model.Hash
	CheckpointID         model.Hash
	ValidatorSignatures []CheckpointSignature
	Time                int64
	IsFinalized         bool
	ConfirmationCount   uint32
}

// SigningPayload is the exact byte sequence validators sign over for a
// checkpoint: height (big-endian u32) || block-id || time (big-endian
// i64).
func SigningPayload(height uint32, blockID model.Hash, t int64) []byte {
	buf := make([]byte, 0, 4+32+8)
	buf = appendU32BE(buf, height)
	buf = append(buf, blockID[:]...)
	buf = appendU64BE(buf, uint64(t))
	return buf
}

func appendU32BE(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func appendU64BE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// ValidatorNetworkState is the spec §3 entity, exclusively owned by
// Engine and guarded by its mutex (spec §5: "ValidatorNetworkState
// behind a serializing mutex").
type ValidatorNetworkState struct {
	ActiveValidators     map[string]*ValidatorInfo
	PendingValidators    map[string]*ValidatorInfo
	RecentCheckpoints    []*CheckpointInfo // bounded to 1000
	TotalStaked          uint64
	CurrentEpoch         uint32
	LastCheckpointHeight uint32
}

// MaxRecentCheckpoints bounds ValidatorNetworkState.RecentCheckpoints
// (spec §3).
const MaxRecentCheckpoints = 1000

// FinalityStatus is the derived value from spec §4.6's finality
// definition.
type FinalityStatus int

const (
	FinalityPending FinalityStatus = iota
	FinalityProbable
	FinalityConfirmed
)

func (s FinalityStatus) String() string {
	switch s {
	case FinalityConfirmed:
		return "CONFIRMED"
	case FinalityProbable:
		return "PROBABLE"
	default:
		return "PENDING"
	}
}
