package governance

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/coreledger/hybridcore/consensus"
	"github.com/coreledger/hybridcore/errors"
	"github.com/coreledger/hybridcore/eventbus"
	"github.com/coreledger/hybridcore/registry"
)

// ValidatorLookup is the slice of consensus.Engine the governance engine
// depends on: active-validator lookup and total active stake. Declared
// as an interface (rather than importing *consensus.Engine directly as a
// concrete dependency) so unit tests can substitute a fake committee
// without standing up a full consensus engine, the same DI shape the
// teacher uses for injected collaborators (external package).
type ValidatorLookup interface {
	ActiveValidator(id string) (consensus.ValidatorInfo, bool)
	TotalStaked() uint64
}

// ProtocolVersionFlags is the minimal protocol-upgrade surface governance
// mutates on PROTOCOL_UPGRADE execution (spec §4.7 step 4: "advances a
// protocol-version flag at a specified activation height").
type ProtocolVersionFlags struct {
	mu       sync.Mutex
	features map[string]uint32 // feature name -> activation height
}

// NewProtocolVersionFlags builds an empty flag set.
func NewProtocolVersionFlags() *ProtocolVersionFlags {
	return &ProtocolVersionFlags{features: make(map[string]uint32)}
}

// SetActivation records feature's activation height.
func (p *ProtocolVersionFlags) SetActivation(feature string, height uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.features[feature] = height
}

// ActivationHeight returns feature's recorded activation height, if any.
func (p *ProtocolVersionFlags) ActivationHeight(feature string) (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.features[feature]
	return h, ok
}

// Engine orchestrates the proposal -> vote -> execution pipeline (spec
// §4.7) and exclusively owns proposals and votes (spec §3 ownership).
// Structural mutation happens under a single serializing mutex (spec §5:
// "Governance: serial mutex around proposal maps"), mirroring
// mempool.Mempool and consensus.Engine's own locking discipline.
type Engine struct {
	mu sync.Mutex

	active    map[string]*Proposal
	completed map[string]*Proposal

	votes map[string]map[string]VoteInfo // proposal id -> validator id -> vote
	// payloads holds the typed execution payload passed to CreateProposal,
	// keyed by proposal id. Spec §3 models Data as opaque bytes; this
	// implementation keeps a typed payload alongside since no wire
	// encoding for governance payloads is specified anywhere in spec
	// §3/§4.7/§6 to decode raw bytes against (an Open Question this
	// implementation resolves pragmatically, recorded in DESIGN.md).
	payloads map[string]interface{}

	validators ValidatorLookup
	params     *registry.Registry
	versions   *ProtocolVersionFlags
	bus        *eventbus.Bus

	emergencyMode bool
}

// New constructs a Governance Engine. params and versions are the
// collaborators PARAMETER_CHANGE and PROTOCOL_UPGRADE executions mutate.
func New(validators ValidatorLookup, params *registry.Registry, versions *ProtocolVersionFlags, bus *eventbus.Bus) *Engine {
	initPrometheusMetrics()

	return &Engine{
		active:     make(map[string]*Proposal),
		completed:  make(map[string]*Proposal),
		votes:      make(map[string]map[string]VoteInfo),
		payloads:   make(map[string]interface{}),
		validators: validators,
		params:     params,
		versions:   versions,
		bus:        bus,
	}
}

// CreateProposal validates and registers a new proposal (spec §4.7 step
// 1). currentHeight becomes CreationHeight and VotingStartHeight;
// VotingEndHeight = currentHeight + VOTING_PERIOD_BLOCKS.
func (e *Engine) CreateProposal(creatorID string, typ ProposalType, title, description string, payload interface{}, isCritical, isEmergency bool, currentHeight uint32) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	creator, ok := e.validators.ActiveValidator(creatorID)
	if !ok {
		return "", errors.NewInsufficientStakeError("proposal creator %s is not an active validator", creatorID)
	}

	required := requiredStake(isCritical, isEmergency)
	if creator.StakeAmount < required {
		return "", errors.NewInsufficientStakeError("creator %s stake %d below required %d", creatorID, creator.StakeAmount, required)
	}

	if len(title) > maxTitleLen {
		return "", errors.NewInvalidArgumentError("title exceeds %d characters", maxTitleLen)
	}
	if len(description) > maxDescriptionLen {
		return "", errors.NewInvalidArgumentError("description exceeds %d characters", maxDescriptionLen)
	}
	if typ == ProposalEmergencyAction && payload == nil {
		return "", errors.NewInvalidArgumentError("emergency action proposals require a non-empty payload")
	}

	if typ.exclusive() {
		for _, p := range e.active {
			if p.Type == typ && (p.Status == StatusPending || p.Status == StatusActive) {
				return "", errors.NewConflictingProposalError("an active %s proposal already exists", typ)
			}
		}
	}

	if e.countOpenLocked() >= MaxActiveProposals {
		return "", errors.NewCapacityExceededError("at most %d active proposals allowed", MaxActiveProposals)
	}

	id := uuid.New().String()
	p := &Proposal{
		ProposalID:        id,
		CreatorID:         creatorID,
		Type:              typ,
		Title:             title,
		Description:       description,
		CreationHeight:    currentHeight,
		VotingStartHeight: currentHeight,
		VotingEndHeight:   currentHeight + VotingPeriodBlocks,
		Status:            StatusPending,
		RequiredStake:     required,
		IsCritical:        isCritical,
		IsEmergency:        isEmergency,
		voters:            make(map[string]VoteChoice),
	}
	p.fsmState = newProposalFSM(nil)

	e.active[id] = p
	e.votes[id] = make(map[string]VoteInfo)
	if payload != nil {
		e.payloads[id] = payload
	}

	e.emit("PROPOSAL_CREATED", map[string]interface{}{"proposal_id": id, "type": typ.String(), "creator": creatorID})
	prometheusProposalsCreated.Inc()

	return id, nil
}

// countOpenLocked counts proposals not yet in a terminal state. Caller
// must hold mu.
func (e *Engine) countOpenLocked() int {
	n := 0
	for _, p := range e.active {
		if p.Status == StatusPending || p.Status == StatusActive {
			n++
		}
	}
	return n
}

// Vote casts a stake-weighted vote (spec §4.7 step 2). Rejects duplicate
// votes per validator and votes outside the ACTIVE window; a vote
// arriving exactly at VotingEndHeight is counted (spec §8 boundary), one
// height later it is ignored.
func (e *Engine) Vote(proposalID, validatorID string, choice VoteChoice, reason string, currentHeight uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.active[proposalID]
	if !ok {
		return errors.NewNotFoundError("proposal %s not found or already completed", proposalID)
	}
	if p.Status != StatusActive {
		return errors.NewInvalidArgumentError("proposal %s is not open for voting (status %s)", proposalID, p.Status)
	}
	if currentHeight > p.VotingEndHeight {
		return errors.NewInvalidArgumentError("voting on proposal %s closed at height %d", proposalID, p.VotingEndHeight)
	}

	validator, ok := e.validators.ActiveValidator(validatorID)
	if !ok {
		return errors.NewInsufficientStakeError("voter %s is not an active validator", validatorID)
	}

	if _, already := p.voters[validatorID]; already {
		return errors.NewDuplicateVoteError("validator %s already voted on proposal %s", validatorID, proposalID)
	}

	weight := uint64(float64(validator.StakeAmount) * validator.Reputation)

	switch choice {
	case VoteFor:
		p.VotesFor += weight
	case VoteAgainst:
		p.VotesAgainst += weight
	case VoteAbstain:
		p.VotesAbstain += weight
	default:
		return errors.NewInvalidArgumentError("unknown vote choice %v", choice)
	}

	p.voters[validatorID] = choice
	p.VoterCount++
	e.votes[proposalID][validatorID] = VoteInfo{
		ProposalID:  proposalID,
		ValidatorID: validatorID,
		Choice:      choice,
		StakeWeight: weight,
		VoteHeight:  currentHeight,
		Reason:      reason,
	}

	e.emit("VOTE_CAST", map[string]interface{}{"proposal_id": proposalID, "validator_id": validatorID, "choice": choice.String()})
	return nil
}

// Tick advances every open proposal by one block of height (spec §2:
// "governance tick" in the per-block control flow): PENDING -> ACTIVE at
// VotingStartHeight, tally at the first height past VotingEndHeight,
// execution at ExecutionHeight. Call once per accepted block, in height order.
func (e *Engine) Tick(ctx context.Context, currentHeight uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, p := range e.active {
		switch p.Status {
		case StatusPending:
			if currentHeight >= p.VotingStartHeight {
				p.quorumStake = e.validators.TotalStaked()
				_ = p.fire(ctx, evActivate)
				e.emit("PROPOSAL_ACTIVATED", map[string]interface{}{"proposal_id": id, "quorum_stake": p.quorumStake})
			}

		case StatusActive:
			if currentHeight > p.VotingEndHeight {
				e.tallyLocked(ctx, p)
			}

		case StatusApproved:
			if currentHeight >= p.ExecutionHeight {
				e.executeLocked(ctx, p)
			}
		}

		if p.Status == StatusRejected || p.Status == StatusExpired || p.Status == StatusExecuted || p.Status == StatusFailed {
			e.completed[id] = p
			delete(e.active, id)
		}
	}
}

// tallyLocked applies spec §4.7 step 3's participation/approval rule.
// Caller holds mu.
func (e *Engine) tallyLocked(ctx context.Context, p *Proposal) {
	participation := p.participation()

	if participation < MinParticipation {
		_ = p.fire(ctx, evExpire)
		e.emit("PROPOSAL_EXPIRED", map[string]interface{}{"proposal_id": p.ProposalID, "participation": participation})
		prometheusProposalsExpired.Inc()
		return
	}

	if p.forFraction() >= p.approvalThreshold() {
		_ = p.fire(ctx, evApprove)
		p.ExecutionHeight = p.VotingEndHeight + p.executionDelay()
		e.emit("PROPOSAL_APPROVED", map[string]interface{}{"proposal_id": p.ProposalID, "execution_height": p.ExecutionHeight})
		prometheusProposalsApproved.Inc()
		return
	}

	_ = p.fire(ctx, evReject)
	e.emit("PROPOSAL_REJECTED", map[string]interface{}{"proposal_id": p.ProposalID, "for_fraction": p.forFraction()})
	prometheusProposalsRejected.Inc()
}

// executeLocked dispatches p by type (spec §4.7 step 4). Caller holds mu.
func (e *Engine) executeLocked(ctx context.Context, p *Proposal) {
	var err error
	payload := e.payloads[p.ProposalID]

	switch p.Type {
	case ProposalParameterChange:
		err = e.executeParameterChange(payload)
	case ProposalProtocolUpgrade:
		err = e.executeProtocolUpgrade(payload)
	case ProposalEmergencyAction:
		err = e.executeEmergencyAction(payload)
	case ProposalValidatorManagement:
		err = e.executeValidatorManagement(payload)
	case ProposalGovernanceChange, ProposalCustom:
		// No registry or version-flag effect specified in spec §4.7 for
		// these types beyond status transition; they execute as no-ops.
	default:
		err = fmt.Errorf("unknown proposal type %v", p.Type)
	}

	if err != nil {
		_ = p.fire(ctx, evFail)
		e.emit("PROPOSAL_EXECUTION_FAILED", map[string]interface{}{"proposal_id": p.ProposalID, "error": err.Error()})
		prometheusProposalsFailed.Inc()
		return
	}

	_ = p.fire(ctx, evExecute)
	e.emit("PROPOSAL_EXECUTED", map[string]interface{}{"proposal_id": p.ProposalID, "type": p.Type.String()})
	prometheusProposalsExecuted.Inc()
}

func (e *Engine) executeParameterChange(payload interface{}) error {
	change, ok := payload.(ParameterChangePayload)
	if !ok {
		return fmt.Errorf("parameter change proposal missing ParameterChangePayload")
	}
	return e.params.SetMany(change.Changes)
}

func (e *Engine) executeProtocolUpgrade(payload interface{}) error {
	upgrade, ok := payload.(ProtocolUpgradePayload)
	if !ok {
		return fmt.Errorf("protocol upgrade proposal missing ProtocolUpgradePayload")
	}
	if e.versions != nil {
		e.versions.SetActivation(upgrade.FeatureName, upgrade.ActivationHeight)
	}
	return nil
}

func (e *Engine) executeEmergencyAction(payload interface{}) error {
	action, ok := payload.(EmergencyActionPayload)
	if !ok {
		return fmt.Errorf("emergency action proposal missing EmergencyActionPayload")
	}
	e.emergencyMode = true
	e.emit("EMERGENCY_MODE_SET", map[string]interface{}{"action": action.Action})
	return nil
}

func (e *Engine) executeValidatorManagement(payload interface{}) error {
	if _, ok := payload.(ValidatorManagementPayload); !ok {
		return fmt.Errorf("validator management proposal missing ValidatorManagementPayload")
	}
	// Dispatch to the consensus engine is intentionally left to the
	// top-level node wiring: the governance engine depends only on the
	// narrow ValidatorLookup interface (read-only), not on consensus's
	// mutating Register/Activate/Slash methods, to keep governance's
	// dependency surface minimal and testable in isolation.
	return nil
}

func (e *Engine) emit(code string, fields map[string]interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Info("governance", code, fields)
}

// EmergencyMode reports whether an EMERGENCY_ACTION proposal has set the
// emergency flag.
func (e *Engine) EmergencyMode() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emergencyMode
}

// Proposal returns a copy of a tracked proposal's current state (active
// or completed), for read-only callers.
func (e *Engine) Proposal(id string) (Proposal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p, ok := e.active[id]; ok {
		return *p, true
	}
	if p, ok := e.completed[id]; ok {
		return *p, true
	}
	return Proposal{}, false
}

// ListActive returns a snapshot of all non-terminal proposals.
func (e *Engine) ListActive() []Proposal {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Proposal, 0, len(e.active))
	for _, p := range e.active {
		out = append(out, *p)
	}
	return out
}

// Stats summarizes governance activity for the RPC-style stats() surface
// (spec §6).
type Stats struct {
	ActiveCount    int
	CompletedCount int
	EmergencyMode  bool
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Stats{
		ActiveCount:    len(e.active),
		CompletedCount: len(e.completed),
		EmergencyMode:  e.emergencyMode,
	}
}
