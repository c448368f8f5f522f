package threat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsScored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sealproof_requests_scored_total",
		Help: "Requests evaluated by the threat scorer.",
	})
	signalsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sealproof_signals_total",
		Help: "Risk signals raised, by signal name.",
	}, []string{"signal"})
	blocksTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sealproof_blocks_total",
		Help: "Auto-blocks applied, by identity kind.",
	}, []string{"kind"})
	blocksEnforced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sealproof_blocks_enforced_total",
		Help: "Requests rejected because the identity was already blocked.",
	})
	alertsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sealproof_alerts_dispatched_total",
		Help: "Security alerts handed to the alert sink.",
	})
	scoringFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sealproof_scoring_failures_total",
		Help: "Requests where the risk store was unavailable and scoring was skipped.",
	})
)
