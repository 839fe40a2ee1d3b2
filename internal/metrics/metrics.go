// Package metrics registers the Prometheus metrics the router exposes.
// Import this package (via blank import) from the server entry point to
// register all metrics before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts completed requests labelled by provider, model,
	// and outcome ("success", "error", "exhausted").
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrouter_requests_total",
			Help: "Total number of requests routed.",
		},
		[]string{"provider", "model", "status"},
	)

	// RequestDuration observes end-to-end request latency in seconds,
	// including failover attempts, per final provider and model.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmrouter_request_duration_seconds",
			Help:    "End-to-end request duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "model"},
	)

	// FailoversTotal counts each time the driver excluded a provider and
	// retried, labelled by the provider that was dropped and why
	// ("rate_limited", "provider_error"). Providers pruned by the
	// pre-flight quota check are not counted.
	FailoversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrouter_failovers_total",
			Help: "Total failovers from one provider to the next.",
		},
		[]string{"provider", "reason"},
	)

	// CooldownActive tracks whether a (provider, model) pair is currently
	// in cooldown: 1 = in cooldown, 0 = not.
	CooldownActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llmrouter_cooldown_active",
			Help: "Whether a provider/model pair is currently in cooldown (1) or not (0).",
		},
		[]string{"provider", "model"},
	)

	// QuotaRemainingRatio tracks the most recently observed
	// remaining/limit ratio per (provider, model, window), the same
	// availability score the least-used strategy consumes.
	QuotaRemainingRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llmrouter_quota_remaining_ratio",
			Help: "Most recently observed remaining/limit ratio, per provider/model/window.",
		},
		[]string{"provider", "model", "window"},
	)

	// LatencyEMAMilliseconds tracks the current EMA latency per
	// (provider, model) pair.
	LatencyEMAMilliseconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llmrouter_latency_ema_milliseconds",
			Help: "Current EMA latency in milliseconds, per provider/model.",
		},
		[]string{"provider", "model"},
	)
)
