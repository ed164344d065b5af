// Package metrics exposes the runtime's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ToolInvocations counts tool executions by tool name and outcome
	// (executed, dry_run, rejected, queued, error).
	ToolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "castellan",
		Name:      "tool_invocations_total",
		Help:      "Tool invocations by tool and outcome.",
	}, []string{"tool", "outcome"})

	// ApprovalTransitions counts approval request state transitions.
	ApprovalTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "castellan",
		Name:      "approval_transitions_total",
		Help:      "Approval queue state transitions.",
	}, []string{"status"})

	// CycleDuration observes decision/planning cycle wall time.
	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "castellan",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of agent and orchestrator cycles.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"component"})

	// BusRequests counts device-bus commands by type and result.
	BusRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "castellan",
		Name:      "bus_requests_total",
		Help:      "Device bus commands by type and result.",
	}, []string{"command", "result"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
