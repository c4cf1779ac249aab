package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	pushRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stride",
		Subsystem: "sync",
		Name:      "push_requests_total",
		Help:      "Number of push requests handled.",
	})

	pushRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stride",
		Subsystem: "sync",
		Name:      "push_records_total",
		Help:      "Records accepted or rejected by the push endpoint.",
	}, []string{"kind", "outcome"})

	pullRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stride",
		Subsystem: "sync",
		Name:      "pull_requests_total",
		Help:      "Number of pull requests handled.",
	})

	pullRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stride",
		Subsystem: "sync",
		Name:      "pull_records_total",
		Help:      "Records returned by the pull endpoint.",
	}, []string{"kind"})

	loginAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stride",
		Subsystem: "auth",
		Name:      "login_attempts_total",
		Help:      "Login attempts by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(pushRequests, pushRecords, pullRequests, pullRecords, loginAttempts)
}
