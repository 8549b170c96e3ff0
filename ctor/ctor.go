// Package ctor implements Canonical Transaction Ordering (spec §4.2): a
// deterministic sort of non-coinbase transaction ids, plus the BIP9-style
// activation state machine gating when that ordering becomes mandatory.
// The state machine is built on looplab/fsm, the same library the
// teacher uses to drive its blockchain-service lifecycle
// (services/blockchain/Server.go's finiteStateMachine, built by an
// unretrieved NewFiniteStateMachine but exercised identically: events
// fired against fsm.FSM.Event, current state read via fsm.FSM.Current()).
package ctor

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/looplab/fsm"

	"github.com/coreledger/hybridcore/errors"
	"github.com/coreledger/hybridcore/model"
)

const (
	// CTORPeriod is the rolling signaling window length in blocks.
	CTORPeriod = 2016
	// CTORThreshold is the number of signaling blocks within a window
	// required to lock in (1916/2016, ~95%).
	CTORThreshold = 1916
	// CTORGracePeriod is how long after lock-in activation waits, and also
	// how long after activation both orderings are tolerated.
	CTORGracePeriod = 1008

	// versionSignalBit is the block-version bit miners set to signal
	// readiness, BIP9-style.
	versionSignalBit = uint32(1) << 28
)

// State names, matching spec §4.2 exactly.
const (
	StateDefined  = "DEFINED"
	StateStarted  = "STARTED"
	StateLockedIn = "LOCKED_IN"
	StateActive   = "ACTIVE"
	StateFailed   = "FAILED"
)

// Activation tracks the CTOR BIP9-style state machine across blocks.
// Safe for concurrent use: every mutating method takes mu.
type Activation struct {
	mu  sync.Mutex
	fsm *fsm.FSM

	startTime   int64
	timeoutTime int64

	windowStartHeight  uint32
	windowSignalCount  uint32
	lockedInHeight     uint32
	activationHeight   uint32
}

// NewActivation builds the state machine starting in DEFINED, activating
// no earlier than startTime and failing permanently if LOCKED_IN isn't
// reached by timeoutTime (both wall-clock seconds, matching CTOR_START_TIME
// / CTOR_TIMEOUT from spec §4.2).
func NewActivation(startTime, timeoutTime int64) *Activation {
	a := &Activation{startTime: startTime, timeoutTime: timeoutTime}

	a.fsm = fsm.NewFSM(
		StateDefined,
		fsm.Events{
			{Name: "begin_signaling", Src: []string{StateDefined}, Dst: StateStarted},
			{Name: "lock_in", Src: []string{StateStarted}, Dst: StateLockedIn},
			{Name: "activate", Src: []string{StateLockedIn}, Dst: StateActive},
			{Name: "time_out", Src: []string{StateStarted}, Dst: StateFailed},
		},
		fsm.Callbacks{},
	)

	return a
}

// Current returns the activation state's current name.
func (a *Activation) Current() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fsm.Current()
}

// ObserveBlock advances the state machine by one block at the given
// height/time, with versionSignal true iff the block's version signal bit
// is set. Call once per accepted block, in height order.
func (a *Activation) ObserveBlock(ctx context.Context, height uint32, blockTime int64, versionSignal bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.fsm.Current() {
	case StateDefined:
		if blockTime >= a.startTime {
			if err := a.fsm.Event(ctx, "begin_signaling"); err != nil {
				return errors.New(errors.ERR_INVALID_TRANSITION, "ctor activation: cannot begin signaling", err)
			}
			a.windowStartHeight = height
			a.windowSignalCount = 0
		}
		return nil

	case StateStarted:
		if versionSignal {
			a.windowSignalCount++
		}

		windowLen := height - a.windowStartHeight + 1
		if windowLen >= CTORPeriod {
			if a.windowSignalCount >= CTORThreshold {
				if err := a.fsm.Event(ctx, "lock_in"); err != nil {
					return errors.New(errors.ERR_INVALID_TRANSITION, "ctor activation: cannot lock in", err)
				}
				a.lockedInHeight = height
				a.activationHeight = height + CTORGracePeriod
				return nil
			}

			if blockTime >= a.timeoutTime {
				if err := a.fsm.Event(ctx, "time_out"); err != nil {
					return errors.New(errors.ERR_INVALID_TRANSITION, "ctor activation: cannot time out", err)
				}
				return nil
			}

			a.windowStartHeight = height + 1
			a.windowSignalCount = 0
		}
		return nil

	case StateLockedIn:
		if height >= a.activationHeight {
			if err := a.fsm.Event(ctx, "activate"); err != nil {
				return errors.New(errors.ERR_INVALID_TRANSITION, "ctor activation: cannot activate", err)
			}
		}
		return nil

	default:
		return nil
	}
}

// InGracePeriod reports whether height falls within CTOR_GRACE_PERIOD
// blocks after activation (spec §4.2: "a grace window ... after activation
// accepts both orderings").
func (a *Activation) InGracePeriod(height uint32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.lockedInHeight == 0 {
		return false
	}
	return height >= a.activationHeight && height < a.activationHeight+CTORGracePeriod
}

// VersionSignal reports whether version has the CTOR signal bit set.
func VersionSignal(version uint32) bool {
	return version&versionSignalBit != 0
}

// SortCanonical returns ids sorted by unsigned lexicographic compare of
// the transaction id bytes (spec §4.2), a new slice — the input is not
// mutated.
func SortCanonical(ids []model.Hash) []model.Hash {
	sorted := make([]model.Hash, len(ids))
	copy(sorted, ids)

	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})

	return sorted
}

// ValidateOrder checks that the non-coinbase transaction ids of a block
// are in strict ascending canonical order, required once ACTIVE (spec
// §4.2: "for all i ≥ 2, txid[i-1] < txid[i] strictly"). allowEither
// relaxes this to "either canonical or as-is" during the grace window.
func ValidateOrder(txIDs []model.Hash, allowEither bool) error {
	if len(txIDs) < 2 {
		return nil
	}

	strictlyAscending := true
	for i := 1; i < len(txIDs); i++ {
		if bytes.Compare(txIDs[i-1][:], txIDs[i][:]) >= 0 {
			strictlyAscending = false
			break
		}
	}

	if strictlyAscending {
		return nil
	}

	if allowEither {
		return nil
	}

	return errors.NewInvalidOrderingError("block transactions are not in strict canonical order")
}
