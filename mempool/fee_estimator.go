package mempool

import "sync"

// EstimatedFee is the per-priority view exposed by FeeEstimates (spec §3
// FeeEstimation: fee_rate[priority], confirmation_target[priority],
// confidence[priority], last_update).
type EstimatedFee struct {
	FeeRate            float64
	ConfirmationTarget int
	Confidence         float64
	LastUpdate         int64
	sampleCount        int
}

// confirmationTargets mirrors the tighter inclusion expectation of
// higher-priority tiers: URGENT transactions are expected within the next
// block, MINIMAL within a much longer horizon.
var confirmationTargets = map[Priority]int{
	Urgent:  1,
	High:    3,
	Normal:  6,
	Low:     12,
	Minimal: 24,
}

const rollingWindowSize = 200

// FeeEstimator tracks a rolling window of observed confirmed fee-rates
// per priority, used to compute fee_rate[priority] with a confidence
// level (spec §4.4).
type FeeEstimator struct {
	mu      sync.Mutex
	windows [numPriorities][]float64
	updates [numPriorities]int64
}

func NewFeeEstimator() *FeeEstimator {
	return &FeeEstimator{}
}

// Observe records a confirmed transaction's fee-rate against its
// priority tier.
func (f *FeeEstimator) Observe(p Priority, feeRate float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w := append(f.windows[p], feeRate)
	if len(w) > rollingWindowSize {
		w = w[len(w)-rollingWindowSize:]
	}
	f.windows[p] = w
}

// Snapshot returns the current estimate for every priority tier.
func (f *FeeEstimator) Snapshot() map[Priority]EstimatedFee {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[Priority]EstimatedFee, numPriorities)
	for p := Urgent; p < numPriorities; p++ {
		w := f.windows[p]
		var mean float64
		if len(w) > 0 {
			var sum float64
			for _, v := range w {
				sum += v
			}
			mean = sum / float64(len(w))
		}

		confidence := float64(len(w)) / float64(rollingWindowSize)
		if confidence > 0.95 {
			confidence = 0.95
		}

		out[p] = EstimatedFee{
			FeeRate:            mean,
			ConfirmationTarget: confirmationTargets[p],
			Confidence:         confidence,
			sampleCount:        len(w),
		}
	}

	return out
}
