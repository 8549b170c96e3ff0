// Package governance implements the Governance Engine (spec §4.7): a
// stake-weighted proposal/vote/execution pipeline that produces parameter
// mutations applied to the Parameter Registry and protocol-version flags.
// Proposal status transitions are driven by a looplab/fsm.FSM per
// proposal (teacher dependency, see ctor.Activation for the sibling use
// of the same library). Engine.executeLocked applies the registry mutation
// or protocol-version bump itself and then fires the transition to
// EXECUTED (or FAILED); no FSM callbacks are installed.
package governance

// Governance parameters (spec §4.7).
const (
	MinProposalStake      uint64  = 10_000
	VotingPeriodBlocks    uint32  = 2016
	MinParticipation      float64 = 0.33
	ApprovalThreshold     float64 = 0.67
	CriticalThreshold     float64 = 0.80
	EmergencyThreshold    float64 = 0.90
	MaxActiveProposals    int     = 10
	ExecutionDelayBlocks  uint32  = 144
	EmergencyExecutionDelay uint32 = 1

	maxTitleLen       = 200
	maxDescriptionLen = 10_000
)

// ProposalType tags the dispatch handler used at execution (spec §3,
// §9: "tagged-union dispatch on ProposalType ... with a per-variant
// handler table").
type ProposalType int

const (
	ProposalParameterChange ProposalType = iota
	ProposalProtocolUpgrade
	ProposalValidatorManagement
	ProposalEmergencyAction
	ProposalGovernanceChange
	ProposalCustom
)

func (t ProposalType) String() string {
	switch t {
	case ProposalParameterChange:
		return "PARAMETER_CHANGE"
	case ProposalProtocolUpgrade:
		return "PROTOCOL_UPGRADE"
	case ProposalValidatorManagement:
		return "VALIDATOR_MANAGEMENT"
	case ProposalEmergencyAction:
		return "EMERGENCY_ACTION"
	case ProposalGovernanceChange:
		return "GOVERNANCE_CHANGE"
	case ProposalCustom:
		return "CUSTOM"
	default:
		return "UNKNOWN"
	}
}

// exclusive reports whether at most one active proposal of this
// type is allowed at a time (spec §4.7: "no conflict - only one active
// proposal per {PROTOCOL_UPGRADE, GOVERNANCE_CHANGE}").
func (t ProposalType) exclusive() bool {
	return t == ProposalProtocolUpgrade || t == ProposalGovernanceChange
}

// Status is the proposal lifecycle state (spec §3), driven by the
// looplab/fsm.FSM embedded in Proposal.
type Status int

const (
	StatusPending Status = iota
	StatusActive
	StatusApproved
	StatusRejected
	StatusExecuted
	StatusFailed
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusActive:
		return "ACTIVE"
	case StatusApproved:
		return "APPROVED"
	case StatusRejected:
		return "REJECTED"
	case StatusExecuted:
		return "EXECUTED"
	case StatusFailed:
		return "FAILED"
	case StatusExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// VoteChoice is the spec §3 VoteInfo.choice enum.
type VoteChoice int

const (
	VoteFor VoteChoice = iota
	VoteAgainst
	VoteAbstain
)

func (c VoteChoice) String() string {
	switch c {
	case VoteFor:
		return "FOR"
	case VoteAgainst:
		return "AGAINST"
	case VoteAbstain:
		return "ABSTAIN"
	default:
		return "UNKNOWN"
	}
}

// VoteInfo is the spec §3 entity, owned exclusively by the Governance
// Engine's proposal map.
type VoteInfo struct {
	ProposalID  string
	ValidatorID string
	Choice      VoteChoice
	StakeWeight uint64
	VoteHeight  uint32
	Reason      string
}

// Proposal is the spec §3 GovernanceProposal entity plus the looplab/fsm
// state machine that drives Status.
type Proposal struct {
	ProposalID   string
	CreatorID    string
	Type         ProposalType
	Title        string
	Description  string
	Data         []byte
	CreationHeight    uint32
	VotingStartHeight uint32
	VotingEndHeight   uint32
	ExecutionHeight   uint32
	Status       Status
	RequiredStake uint64
	IsCritical   bool
	IsEmergency  bool

	VotesFor     uint64
	VotesAgainst uint64
	VotesAbstain uint64
	VoterCount   int

	// quorumStake is the total_staked snapshot taken at VotingStartHeight
	// (SPEC_FULL.md §5 supplemented feature: a quorum snapshot, not a
	// stake set re-read at tally time, closing a stake-churn attack where
	// late unstaking would change the participation denominator after
	// votes are cast).
	quorumStake uint64

	voters map[string]VoteChoice

	fsmState *proposalFSM
}

// approvalThreshold returns the fraction of for/against/abstain votes
// that must be FOR for this proposal to pass (spec §4.7: CRITICAL 0.80,
// EMERGENCY 0.90, else APPROVAL 0.67).
func (p *Proposal) approvalThreshold() float64 {
	switch {
	case p.IsEmergency:
		return EmergencyThreshold
	case p.IsCritical:
		return CriticalThreshold
	default:
		return ApprovalThreshold
	}
}

// requiredStake returns the stake required to create a proposal, as a
// multiple of MinProposalStake (spec §4.7: "x2 for critical, x5 for
// emergency").
func requiredStake(isCritical, isEmergency bool) uint64 {
	switch {
	case isEmergency:
		return MinProposalStake * 5
	case isCritical:
		return MinProposalStake * 2
	default:
		return MinProposalStake
	}
}

// executionDelay returns the blocks between an APPROVED tally and
// ExecutionHeight (spec §4.7: "now + EXECUTION_DELAY_BLOCKS (emergency:
// now + 1)").
func (p *Proposal) executionDelay() uint32 {
	if p.IsEmergency {
		return EmergencyExecutionDelay
	}
	return ExecutionDelayBlocks
}

// participation is the fraction of the quorum-snapshot stake that voted.
func (p *Proposal) participation() float64 {
	if p.quorumStake == 0 {
		return 0
	}
	total := p.VotesFor + p.VotesAgainst + p.VotesAbstain
	return float64(total) / float64(p.quorumStake)
}

// forFraction is the share of for/against/abstain votes that voted FOR.
func (p *Proposal) forFraction() float64 {
	total := p.VotesFor + p.VotesAgainst + p.VotesAbstain
	if total == 0 {
		return 0
	}
	return float64(p.VotesFor) / float64(total)
}

// ParameterChangePayload is the Data layout for ProposalParameterChange:
// a flat list of {name, value} pairs applied as one registry.SetMany
// snapshot swap on execution.
type ParameterChangePayload struct {
	Changes map[string]string
}

// ProtocolUpgradePayload is the Data layout for ProposalProtocolUpgrade.
type ProtocolUpgradePayload struct {
	FeatureName     string
	ActivationHeight uint32
}

// EmergencyActionPayload is the Data layout for ProposalEmergencyAction.
type EmergencyActionPayload struct {
	Action string
	Params map[string]string
}

// ValidatorManagementPayload is the Data layout for
// ProposalValidatorManagement.
type ValidatorManagementPayload struct {
	ValidatorID string
	Action      string // "activate" | "deactivate" | "slash"
	SlashPct    float64
	Reason      string
}

