// Package blocksize implements the Block-Size Governor (spec §4.3):
// computes the block-size ceiling enforced at each height from observed
// demand and miner signals, enabling "unbounded" blocks within
// disciplined bounds. It adapts the teacher's ring-buffer-of-recent-sizes
// and promauto-metrics idiom from services/blockassembly/subtreeprocessor
// to a governance concern instead of a subtree queue.
package blocksize

import (
	"math"
	"sort"
	"sync"

	"github.com/coreledger/hybridcore/errors"
	"github.com/coreledger/hybridcore/eventbus"
)

const (
	Base               uint64  = 1_000_000
	MaxIncrease        float64 = 2.0
	MaxDecrease        float64 = 0.5
	AdjustmentPeriod   uint32  = 2016
	MinSample          int     = 100
	EmergencyThreshold float64 = 0.95
	EmergencyMultiplier float64 = 4.0
	HardCeiling        uint64  = 100_000_000
)

// State is the BlockSizeState entity from spec §3: mutated only by the
// governor when applying a block, process lifetime.
type State struct {
	CurrentLimit         uint64
	TargetSize           uint64
	AdjustmentFactor     float64
	EmergencyMode        bool
	BlocksSinceAdjustment uint32
	RecentSizes          []uint64 // ring buffer, last <= 100
}

// Governor owns the BlockSizeState and applies the per-block and
// periodic-adjustment rules under a single serializing mutex (spec §5:
// mempool/consensus-style "single serializing mutex" discipline, applied
// here too since the governor is likewise mutated once per accepted
// block from a single validation path).
type Governor struct {
	mu    sync.Mutex
	state State
	bus   *eventbus.Bus

	recentAboveThreshold []bool // ring of size MinSample: was block >=95% of limit
	recentVotes          []uint64
}

// New creates a Governor with the given starting limit (spec: governance
// activation height for the feature itself is a parameter; the caller
// decides when to start feeding blocks through it).
func New(startingLimit uint64, bus *eventbus.Bus) *Governor {
	initPrometheusMetrics()

	if startingLimit < Base {
		startingLimit = Base
	}

	return &Governor{
		state: State{
			CurrentLimit:     startingLimit,
			TargetSize:       startingLimit,
			AdjustmentFactor: 1.0,
		},
		bus: bus,
	}
}

// Snapshot returns a copy of the current state.
func (g *Governor) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := g.state
	cp.RecentSizes = append([]uint64(nil), g.state.RecentSizes...)
	return cp
}

// ValidateSize rejects a candidate block whose serialized weight exceeds
// the current limit with SIZE_OVER_LIMIT (spec §4.3).
func (g *Governor) ValidateSize(sizeInBytes uint64) error {
	g.mu.Lock()
	limit := g.state.CurrentLimit
	g.mu.Unlock()

	if sizeInBytes > limit {
		return errors.NewSizeOverLimitError("block size %d exceeds current limit %d", sizeInBytes, limit)
	}
	return nil
}

// ApplyBlock runs the per-block update (spec §4.3): append to
// recent_sizes (truncated to last 100), increment
// blocks_since_adjustment, update the emergency-mode predicate, and, every
// ADJUSTMENT_PERIOD blocks, recompute the limit. preferredVote is the
// miner's preferred_size from its coinbase vote, if any (0 if absent).
func (g *Governor) ApplyBlock(sizeInBytes uint64, preferredVote uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.RecentSizes = append(g.state.RecentSizes, sizeInBytes)
	if len(g.state.RecentSizes) > 100 {
		g.state.RecentSizes = g.state.RecentSizes[len(g.state.RecentSizes)-100:]
	}

	g.state.BlocksSinceAdjustment++

	aboveThreshold := float64(sizeInBytes) >= EmergencyThreshold*float64(g.state.CurrentLimit)
	g.recentAboveThreshold = append(g.recentAboveThreshold, aboveThreshold)
	if len(g.recentAboveThreshold) > MinSample {
		g.recentAboveThreshold = g.recentAboveThreshold[len(g.recentAboveThreshold)-MinSample:]
	}

	if preferredVote > 0 {
		g.recentVotes = append(g.recentVotes, preferredVote)
		if len(g.recentVotes) > int(AdjustmentPeriod) {
			g.recentVotes = g.recentVotes[len(g.recentVotes)-int(AdjustmentPeriod):]
		}
	}

	g.updateEmergencyModeLocked()

	if g.state.BlocksSinceAdjustment >= AdjustmentPeriod {
		g.adjustLocked()
	}

	prometheusCurrentLimit.Set(float64(g.state.CurrentLimit))
	if g.state.EmergencyMode {
		prometheusEmergencyMode.Set(1)
	} else {
		prometheusEmergencyMode.Set(0)
	}
}

func (g *Governor) updateEmergencyModeLocked() {
	if len(g.recentAboveThreshold) < MinSample {
		g.state.EmergencyMode = false
		return
	}

	count := 0
	for _, v := range g.recentAboveThreshold {
		if v {
			count++
		}
	}

	ratio := float64(count) / float64(len(g.recentAboveThreshold))
	if ratio >= EmergencyThreshold {
		if !g.state.EmergencyMode {
			g.state.CurrentLimit = clampLimit(uint64(float64(g.state.CurrentLimit) * EmergencyMultiplier))
		}
		g.state.EmergencyMode = true
	} else {
		g.state.EmergencyMode = false
	}
}

// adjustLocked performs the ADJUSTMENT_PERIOD recomputation (spec §4.3
// steps 1-3). Caller must hold mu.
func (g *Governor) adjustLocked() {
	defer func() {
		g.state.BlocksSinceAdjustment = 0
		prometheusAdjustmentCount.Inc()
	}()

	if len(g.state.RecentSizes) == 0 || g.state.CurrentLimit == 0 {
		return
	}

	var sum uint64
	for _, s := range g.state.RecentSizes {
		sum += s
	}
	mean := float64(sum) / float64(len(g.state.RecentSizes))
	u := mean / float64(g.state.CurrentLimit)

	var f float64
	switch {
	case u > 0.8:
		f = 1 + (u-0.8)*2
	case u < 0.3:
		f = 0.5 + u*1.67
	default:
		f = 1.0
	}

	f = clampFloat(f, MaxDecrease, MaxIncrease)
	prometheusUtilisation.Set(u)

	// Miner vote influence: only when a critical change requires consensus
	// (|f-1| > 0.5), the consensus size is the median preferred value
	// over the window, replacing the plain U-derived limit (spec §4.3).
	newLimit := uint64(math.Floor(float64(g.state.CurrentLimit) * f))
	if math.Abs(f-1) > 0.5 && len(g.recentVotes) > 0 {
		if med, ok := medianVote(g.recentVotes); ok {
			newLimit = med
		}
	}

	if newLimit < Base {
		newLimit = Base
	}
	newLimit = clampLimit(newLimit)

	g.state.AdjustmentFactor = f
	g.state.CurrentLimit = newLimit
	g.state.TargetSize = newLimit

	if g.bus != nil {
		g.bus.Info("blocksize", "LIMIT_ADJUSTED", map[string]interface{}{
			"new_limit": newLimit,
			"factor":    f,
			"mean_size": mean,
		})
	}
}

func clampLimit(limit uint64) uint64 {
	if limit > HardCeiling {
		return HardCeiling
	}
	return limit
}

func clampFloat(f, min, max float64) float64 {
	if f < min {
		return min
	}
	if f > max {
		return max
	}
	return f
}

func medianVote(votes []uint64) (uint64, bool) {
	if len(votes) == 0 {
		return 0, false
	}
	sorted := append([]uint64(nil), votes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid], true
	}
	return (sorted[mid-1] + sorted[mid]) / 2, true
}

// ValidateTransition checks that a transition from oldLimit to newLimit
// respects MAX_DECREASE <= new/old <= MAX_INCREASE (spec §4.3), used when
// validating a peer-announced limit change independent of local history.
func ValidateTransition(oldLimit, newLimit uint64) error {
	if oldLimit == 0 {
		return errors.NewInvalidTransitionError("old limit is zero")
	}

	ratio := float64(newLimit) / float64(oldLimit)
	if ratio < MaxDecrease || ratio > MaxIncrease {
		return errors.NewInvalidTransitionError("limit transition ratio %.4f outside [%.2f, %.2f]", ratio, MaxDecrease, MaxIncrease)
	}
	return nil
}

// ValidateVote checks a MinerVote's preferred/max size fields (spec
// §4.3): preferred_size >= BASE, max_size >= preferred_size, max_size <=
// hard ceiling.
func ValidateVote(preferredSize, maxSize uint64) error {
	if preferredSize < Base {
		return errors.NewInvalidArgumentError("preferred_size %d below BASE %d", preferredSize, Base)
	}
	if maxSize < preferredSize {
		return errors.NewInvalidArgumentError("max_size %d below preferred_size %d", maxSize, preferredSize)
	}
	if maxSize > HardCeiling {
		return errors.NewInvalidArgumentError("max_size %d exceeds hard ceiling %d", maxSize, HardCeiling)
	}
	return nil
}
