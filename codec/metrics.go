package codec

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusCompressionRatio prometheus.Histogram
	prometheusDecodeFailures   prometheus.Counter
	prometheusEncodedBlocks    prometheus.Counter
)

var prometheusMetricsInitialized = false

func initPrometheusMetrics() {
	if prometheusMetricsInitialized {
		return
	}

	prometheusCompressionRatio = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "codec",
		Name:      "compression_ratio",
		Help:      "compressed_size / original_size for encoded blocks",
		Buckets:   prometheus.LinearBuckets(0.05, 0.05, 20),
	})

	prometheusDecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "codec",
		Name:      "decode_failures_total",
		Help:      "Number of compressed blocks that fell back to a full-block request",
	})

	prometheusEncodedBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "codec",
		Name:      "encoded_blocks_total",
		Help:      "Number of blocks successfully encoded",
	})

	prometheusMetricsInitialized = true
}

func init() {
	initPrometheusMetrics()
}

// ObserveEncode records a successful Encode's compression ratio.
func ObserveEncode(c *CompressedBlock) {
	prometheusEncodedBlocks.Inc()
	prometheusCompressionRatio.Observe(c.CompressionRatio())
}

// ObserveDecodeFailure records a fallback-triggering decode failure.
func ObserveDecodeFailure() {
	prometheusDecodeFailures.Inc()
}
