package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// votesTotal counts successful votes by entity kind and ledger outcome
	// (added, retracted, switched).
	votesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qa_votes_total",
			Help: "Votes applied, by entity kind and outcome.",
		},
		[]string{"entity", "outcome"},
	)

	// acceptancesTotal counts accept requests by result
	// (accepted, switched, noop, rejected).
	acceptancesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qa_acceptances_total",
			Help: "Accept-answer requests, by result.",
		},
		[]string{"result"},
	)

	// retriesTotal counts transaction attempts that hit a transient conflict.
	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qa_engine_retries_total",
			Help: "Transaction attempts retried after a transient conflict, by operation.",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(votesTotal, acceptancesTotal, retriesTotal)
}
