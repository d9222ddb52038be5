package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "callbilling"

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// WebhookEvents counts provider callbacks by kind and resolved status.
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Provider webhook deliveries",
		},
		[]string{"kind", "status"},
	)

	// CallResolution counts how a webhook was correlated to a call.
	CallResolution = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_resolution_total",
			Help:      "Webhook call resolution path",
		},
		[]string{"via"}, // token, provider_id, most_recent, inbound_created, unresolved
	)

	LedgerMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_mutations_total",
			Help:      "Wallet ledger mutations",
		},
		[]string{"type", "result"}, // debit|credit, ok|duplicate|insufficient|error
	)

	LedgerAmountMinor = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_amount_minor_total",
			Help:      "Sum of committed ledger amounts in minor units",
		},
		[]string{"type"},
	)

	EnrichmentRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_requests_total",
			Help:      "AI enrichment requests by outcome",
		},
		[]string{"result"}, // ok|insufficient_credits|upstream|validation|error
	)

	EnrichmentCreditsSpent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_credits_spent_total",
			Help:      "AI credits deducted after persisted enrichment",
		},
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Duration of calls to external providers in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"provider", "op"},
	)

	SweeperRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_sweeper_runs_total",
			Help:      "Deferred billing sweeps",
		},
		[]string{"result"},
	)

	SweeperBilled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_sweeper_billed_total",
			Help:      "Calls billed by the deferred billing sweeper",
		},
	)

	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Outbound dispatch attempts",
		},
		[]string{"result"}, // initiated|rejected|capped|error
	)
)

// ObserveUpstream records the elapsed time since start for provider/op.
func ObserveUpstream(provider, op string, start time.Time) {
	UpstreamDuration.WithLabelValues(provider, op).Observe(time.Since(start).Seconds())
}

// Middleware records request counts and latencies per route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
