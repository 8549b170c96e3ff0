package governance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusProposalsCreated  prometheus.Counter
	prometheusProposalsApproved prometheus.Counter
	prometheusProposalsRejected prometheus.Counter
	prometheusProposalsExpired  prometheus.Counter
	prometheusProposalsExecuted prometheus.Counter
	prometheusProposalsFailed   prometheus.Counter
)

var prometheusMetricsInitialized = false

func initPrometheusMetrics() {
	if prometheusMetricsInitialized {
		return
	}

	prometheusProposalsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "governance",
		Name:      "proposals_created_total",
		Help:      "Number of proposals accepted by CreateProposal",
	})

	prometheusProposalsApproved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "governance",
		Name:      "proposals_approved_total",
		Help:      "Number of proposals that passed their tally",
	})

	prometheusProposalsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "governance",
		Name:      "proposals_rejected_total",
		Help:      "Number of proposals that failed their tally",
	})

	prometheusProposalsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "governance",
		Name:      "proposals_expired_total",
		Help:      "Number of proposals expired for insufficient participation",
	})

	prometheusProposalsExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "governance",
		Name:      "proposals_executed_total",
		Help:      "Number of approved proposals executed successfully",
	})

	prometheusProposalsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "governance",
		Name:      "proposals_failed_total",
		Help:      "Number of approved proposals whose execution failed",
	})

	prometheusMetricsInitialized = true
}
