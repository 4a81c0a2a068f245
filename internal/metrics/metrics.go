// Package metrics holds the Prometheus collectors exported by grabyard.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Resolution pipeline metrics.
var (
	ProbeResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grabyard_probe_results_total",
			Help: "Content probe verdicts",
		},
		[]string{"result"}, // present, absent, unknown, cached
	)

	MirrorRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grabyard_mirror_requests_total",
			Help: "Calls made to upstream mirrors",
		},
		[]string{"mirror", "result"}, // ok, declined, transport
	)

	ResolveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "grabyard_resolve_duration_seconds",
			Help:    "Duration of link resolution including probing",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Lifecycle metrics.
var (
	PendingRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grabyard_pending_requests",
			Help: "Requests currently held in the registry",
		},
	)

	ArmedTriggers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grabyard_armed_triggers",
			Help: "Deferred auto-dispatch triggers currently armed",
		},
	)

	EvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grabyard_evictions_total",
			Help: "Requests removed without dispatch",
		},
		[]string{"reason"}, // capacity, age
	)

	DispatchOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grabyard_dispatch_outcomes_total",
			Help: "Terminal dispatch outcomes",
		},
		[]string{"outcome", "trigger"}, // trigger: user, auto
	)

	SubmissionsThrottledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grabyard_submissions_throttled_total",
			Help: "Submissions rejected by the per-user rate limit",
		},
	)

	DeliveredItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grabyard_delivered_items_total",
			Help: "Media items sent to requesters",
		},
		[]string{"kind"},
	)
)

// TriggerLabel maps the automatic flag to the trigger label value.
func TriggerLabel(automatic bool) string {
	if automatic {
		return "auto"
	}
	return "user"
}
