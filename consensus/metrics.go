package consensus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusActiveValidators   prometheus.Gauge
	prometheusTotalStaked        prometheus.Gauge
	prometheusCheckpointsFinal   prometheus.Counter
	prometheusSlashEvents        prometheus.Counter
)

var prometheusMetricsInitialized = false

func initPrometheusMetrics() {
	if prometheusMetricsInitialized {
		return
	}

	prometheusActiveValidators = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "consensus",
		Name:      "active_validators",
		Help:      "Current size of the active validator set",
	})

	prometheusTotalStaked = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "consensus",
		Name:      "total_staked",
		Help:      "Sum of stake across active validators",
	})

	prometheusCheckpointsFinal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "consensus",
		Name:      "checkpoints_finalized_total",
		Help:      "Number of checkpoints that reached finality",
	})

	prometheusSlashEvents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "consensus",
		Name:      "slash_events_total",
		Help:      "Number of validator slashing events",
	})

	prometheusMetricsInitialized = true
}

func init() {
	initPrometheusMetrics()
}

// observeGaugesLocked refreshes the gauges from the current locked state;
// callers hold mu.
func (e *Engine) observeGaugesLocked() {
	prometheusActiveValidators.Set(float64(len(e.state.ActiveValidators)))
	prometheusTotalStaked.Set(float64(e.state.TotalStaked))
}
