package blocksize

import "github.com/prometheus/client_golang/prometheus/promauto"
import "github.com/prometheus/client_golang/prometheus"

// Metric bootstrap follows the teacher's lazy-init-guarded-by-a-bool
// pattern (services/blockassembly/subtreeprocessor/metrics.go) rather
// than package-level promauto calls, so constructing a Governor in a test
// that never touches prometheus's default registry doesn't panic on
// double registration across test runs in the same process.
var (
	prometheusCurrentLimit    prometheus.Gauge
	prometheusUtilisation     prometheus.Gauge
	prometheusEmergencyMode   prometheus.Gauge
	prometheusAdjustmentCount prometheus.Counter
)

var prometheusMetricsInitialized = false

func initPrometheusMetrics() {
	if prometheusMetricsInitialized {
		return
	}

	prometheusCurrentLimit = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "blocksize",
		Name:      "current_limit_bytes",
		Help:      "Current governed block size limit in bytes",
	})

	prometheusUtilisation = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "blocksize",
		Name:      "utilisation_ratio",
		Help:      "Mean recent block size over current limit",
	})

	prometheusEmergencyMode = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "blocksize",
		Name:      "emergency_mode",
		Help:      "1 if emergency mode is active, else 0",
	})

	prometheusAdjustmentCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "blocksize",
		Name:      "adjustments_total",
		Help:      "Number of periodic limit adjustments applied",
	})

	prometheusMetricsInitialized = true
}
