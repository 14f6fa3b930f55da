// Package metrics exposes the Prometheus instrumentation shared across the
// node: state transitions, attempt outcomes, rejected requests and probe
// failures.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransitionsTotal counts published cluster-state transitions by target
	// protocol state.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mpc_cluster_transitions_total",
		Help: "Cluster state transitions published to the ledger",
	}, []string{"to_state"})

	// AttemptsTotal counts key-event attempt outcomes.
	AttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mpc_key_event_attempts_total",
		Help: "Key generation and resharing attempt outcomes",
	}, []string{"outcome"})

	// RejectedRequestsTotal counts signature and derivation requests
	// rejected before reaching the signer.
	RejectedRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mpc_rejected_requests_total",
		Help: "Signature and key-derivation requests rejected by state gating",
	}, []string{"reason"})

	// ProbeFailuresTotal counts post-transition liveness probe failures.
	ProbeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mpc_probe_failures_total",
		Help: "Post-transition liveness probe failures",
	})

	// ExportsTotal counts key-share export outcomes.
	ExportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mpc_share_exports_total",
		Help: "Key-share export outcomes",
	}, []string{"outcome"})
)

// Handler returns the Prometheus scrape handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
