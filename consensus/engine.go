package consensus

import (
	"sort"
	"sync"

	"github.com/coreledger/hybridcore/errors"
	"github.com/coreledger/hybridcore/eventbus"
	"github.com/coreledger/hybridcore/external"
)

// Engine owns ValidatorNetworkState and drives the hybrid PoW/checkpoint
// validation pipeline (spec §4.6). All structural mutation happens under
// mu (spec §5); callers needing a consistent read (e.g. Governance) take
// a Snapshot.
type Engine struct {
	mu    sync.Mutex
	state ValidatorNetworkState

	powOracle external.PoWOracle
	sigVerify external.SignatureVerifier
	clock     external.WallClock
	bus       *eventbus.Bus

	activationHeight uint32
}

// New constructs an Engine. activationHeight is HYBRID_ACTIVATION_HEIGHT
// (spec: a parameter, not a compile-time constant, so it is supplied by
// the caller from the Parameter Registry).
func New(activationHeight uint32, powOracle external.PoWOracle, sigVerify external.SignatureVerifier, clock external.WallClock, bus *eventbus.Bus) *Engine {
	initPrometheusMetrics()

	return &Engine{
		state: ValidatorNetworkState{
			ActiveValidators:  make(map[string]*ValidatorInfo),
			PendingValidators: make(map[string]*ValidatorInfo),
		},
		powOracle:        powOracle,
		sigVerify:        sigVerify,
		clock:            clock,
		bus:              bus,
		activationHeight: activationHeight,
	}
}

// Snapshot returns a shallow copy of the validator network state for
// read-only callers (spec §5: "reads ... take a short snapshot copy").
func (e *Engine) Snapshot() ValidatorNetworkState {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp := e.state
	cp.ActiveValidators = make(map[string]*ValidatorInfo, len(e.state.ActiveValidators))
	for k, v := range e.state.ActiveValidators {
		copied := *v
		cp.ActiveValidators[k] = &copied
	}
	cp.PendingValidators = make(map[string]*ValidatorInfo, len(e.state.PendingValidators))
	for k, v := range e.state.PendingValidators {
		copied := *v
		cp.PendingValidators[k] = &copied
	}
	cp.RecentCheckpoints = append([]*CheckpointInfo(nil), e.state.RecentCheckpoints...)

	return cp
}

// Register enters a new validator in pending state (spec §4.6: "requires
// stake >= MIN_VALIDATOR_STAKE; enters pending").
func (e *Engine) Register(id string, publicKey []byte, stake uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if stake < MinValidatorStake {
		return errors.NewInsufficientStakeError("validator %s stake %d below minimum %d", id, stake, MinValidatorStake)
	}
	if _, exists := e.state.ActiveValidators[id]; exists {
		return errors.NewDuplicateError("validator %s already active", id)
	}
	if _, exists := e.state.PendingValidators[id]; exists {
		return errors.NewDuplicateError("validator %s already pending", id)
	}

	e.state.PendingValidators[id] = &ValidatorInfo{
		ValidatorID: id,
		PublicKey:   publicKey,
		StakeAmount: stake,
		Reputation:  maxReputation,
	}

	e.emit("VALIDATOR_REGISTERED", map[string]interface{}{"validator_id": id, "stake": stake})
	return nil
}

// Activate promotes a pending validator iff |active| < MAX_ACTIVE_VALIDATORS.
func (e *Engine) Activate(id string, height uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.state.PendingValidators[id]
	if !ok {
		return errors.NewNotFoundError("validator %s is not pending", id)
	}
	if len(e.state.ActiveValidators) >= MaxActiveValidators {
		return errors.NewCapacityExceededError("active validator set already at %d", MaxActiveValidators)
	}

	delete(e.state.PendingValidators, id)
	v.IsActive = true
	v.ActivationHeight = height
	e.state.ActiveValidators[id] = v
	e.state.TotalStaked += v.StakeAmount
	e.observeGaugesLocked()

	e.emit("VALIDATOR_ACTIVATED", map[string]interface{}{"validator_id": id})
	return nil
}

// Deactivate moves an active validator back to pending.
func (e *Engine) Deactivate(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.state.ActiveValidators[id]
	if !ok {
		return errors.NewNotFoundError("validator %s is not active", id)
	}

	delete(e.state.ActiveValidators, id)
	v.IsActive = false
	e.state.TotalStaked -= v.StakeAmount
	e.state.PendingValidators[id] = v
	e.observeGaugesLocked()

	e.emit("VALIDATOR_DEACTIVATED", map[string]interface{}{"validator_id": id})
	return nil
}

// UpdateStake adjusts a validator's stake and TotalStaked atomically
// (spec §4.6), keeping the invariant total_staked = sum(active stake)
// (spec §8 property 5).
func (e *Engine) UpdateStake(id string, newAmount uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if v, ok := e.state.ActiveValidators[id]; ok {
		e.state.TotalStaked = e.state.TotalStaked - v.StakeAmount + newAmount
		v.StakeAmount = newAmount
		return nil
	}
	if v, ok := e.state.PendingValidators[id]; ok {
		v.StakeAmount = newAmount
		return nil
	}
	return errors.NewNotFoundError("validator %s not found", id)
}

// Slash subtracts pct*stake from id, credits SlashedAmount, and
// multiplies reputation by (1-pct) (spec §4.6).
func (e *Engine) Slash(id string, pct float64, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if pct <= 0 {
		pct = SlashingPenalty
	}

	v, ok := e.state.ActiveValidators[id]
	if !ok {
		v, ok = e.state.PendingValidators[id]
		if !ok {
			return errors.NewNotFoundError("validator %s not found", id)
		}
	}

	penalty := uint64(float64(v.StakeAmount) * pct)
	if v.IsActive {
		e.state.TotalStaked -= penalty
	}
	v.StakeAmount -= penalty
	v.SlashedAmount += penalty
	v.Reputation = clampReputation(v.Reputation * (1 - pct))
	prometheusSlashEvents.Inc()
	e.observeGaugesLocked()

	e.emit("VALIDATOR_SLASHED", map[string]interface{}{
		"validator_id": id, "pct": pct, "reason": reason, "penalty": penalty,
	})
	return nil
}

// ActiveValidator returns a copy of id's state if active.
func (e *Engine) ActiveValidator(id string) (ValidatorInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.state.ActiveValidators[id]
	if !ok {
		return ValidatorInfo{}, false
	}
	return *v, true
}

// TotalStaked returns the current aggregate active stake.
func (e *Engine) TotalStaked() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.TotalStaked
}

// MaintenanceCycle applies the reputation update rule (spec §4.6):
// +1% (capped at 1.0) for validators with zero missed checkpoints this
// cycle, -0.01 (floored at 0.1) per missed checkpoint; MissedCheckpoints
// resets afterward.
func (e *Engine) MaintenanceCycle() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, v := range e.state.ActiveValidators {
		if v.MissedCheckpoints == 0 {
			v.Reputation = clampReputation(v.Reputation * 1.01)
		} else {
			v.Reputation = clampReputation(v.Reputation - 0.01*float64(v.MissedCheckpoints))
		}
		v.MissedCheckpoints = 0
	}
	e.state.CurrentEpoch++
}

func (e *Engine) emit(code string, fields map[string]interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Info("consensus", code, fields)
}

func clampReputation(r float64) float64 {
	if r > maxReputation {
		return maxReputation
	}
	if r < minReputation {
		return minReputation
	}
	return r
}

// selectCommitteeLocked ranks active validators by stake*reputation
// descending and returns the top MinValidatorsForConsensus (or all of
// them, if fewer are active). Caller must hold mu.
func (e *Engine) selectCommitteeLocked() []*ValidatorInfo {
	all := make([]*ValidatorInfo, 0, len(e.state.ActiveValidators))
	for _, v := range e.state.ActiveValidators {
		all = append(all, v)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].score() > all[j].score() })

	size := MinValidatorsForConsensus
	if size > len(all) {
		size = len(all)
	}
	return all[:size]
}

// requiredSignatures computes the 2/3-supermajority threshold over the
// ACTIVE validator set (spec §4.6 step 2: "Require >= 2/3 of the active
// validator set to have signed"), the same CalculateRequiredCount shape
// used in certenIO-certen-validator/pkg/consensus/types.go. ceil(2N/3),
// so 100 active validators require 67 signatures, 3 require 2.
func requiredSignatures(activeCount int) int {
	if activeCount == 0 {
		return 0
	}
	required := (2*activeCount + 2) / 3
	if required == 0 {
		required = 1
	}
	return required
}
