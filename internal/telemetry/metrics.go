package telemetry

import "github.com/prometheus/client_golang/prometheus"

// HTTPRequestsTotal and HTTPRequestDuration feed pkg/httpclient's Metrics
// struct: the outbound call counter/histogram for every bound service
// client (compute, load balancer, rackconnect, identity, orchestration).
var HTTPRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "otter",
		Subsystem: "http_client",
		Name:      "requests_total",
		Help:      "Total outbound HTTP requests by service and outcome.",
	},
	[]string{"service", "method", "outcome"},
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "otter",
		Subsystem: "http_client",
		Name:      "request_duration_seconds",
		Help:      "Outbound HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"service", "method"},
)

// AuthCacheHitsTotal and AuthCacheMissesTotal feed pkg/identity's Metrics
// struct.
var AuthCacheHitsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "otter",
		Subsystem: "auth_cache",
		Name:      "hits_total",
		Help:      "Total identity cache hits.",
	},
)

var AuthCacheMissesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "otter",
		Subsystem: "auth_cache",
		Name:      "misses_total",
		Help:      "Total identity cache misses.",
	},
)

// SchedulerEventsProcessedTotal and SchedulerOldestEventAge feed
// pkg/scheduler's Metrics struct.
var SchedulerEventsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "otter",
		Subsystem: "scheduler",
		Name:      "events_processed_total",
		Help:      "Total scheduled events processed by outcome.",
	},
	[]string{"outcome"},
)

var SchedulerOldestEventAge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "otter",
		Subsystem: "scheduler",
		Name:      "oldest_event_age_seconds",
		Help:      "Age in seconds of the oldest pending scheduled event, per bucket.",
	},
	[]string{"bucket"},
)

// ConvergenceOutcomeTotal counts convergence passes by their Outcome
// (success/retry/failure), across both the scheduler-driven and
// self-heal-driven triggers.
var ConvergenceOutcomeTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "otter",
		Subsystem: "convergence",
		Name:      "outcome_total",
		Help:      "Total convergence passes by outcome.",
	},
	[]string{"outcome"},
)

// All returns Otter's own metrics for registration alongside the Go and
// process collectors in NewMetricsRegistry.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AuthCacheHitsTotal,
		AuthCacheMissesTotal,
		SchedulerEventsProcessedTotal,
		SchedulerOldestEventAge,
		ConvergenceOutcomeTotal,
	}
}
