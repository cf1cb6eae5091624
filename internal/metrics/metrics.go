// Package metrics provides Prometheus instrumentation for the Ward platform.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ward",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ward",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DecisionsTotal counts decisions by checkpoint and final action.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ward",
			Name:      "decisions_total",
			Help:      "Total decisions rendered by checkpoint and action.",
		},
		[]string{"checkpoint", "action"},
	)

	// DecisionDuration observes end-to-end decision latency by checkpoint.
	DecisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ward",
			Name:      "decision_duration_seconds",
			Help:      "Decision evaluation duration in seconds.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"checkpoint"},
	)

	// RuleEvaluationsTotal counts individual rule evaluations.
	RuleEvaluationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ward",
		Name:      "rule_evaluations_total",
		Help:      "Total individual rule evaluations across all decisions.",
	})

	// MissingFactsTotal counts conditions that degraded on an absent fact.
	MissingFactsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ward",
		Name:      "missing_facts_total",
		Help:      "Total conditions evaluated as non-matching due to a missing fact.",
	})

	// DependencyTimeoutsTotal counts dataset lookups that blew their budget.
	DependencyTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ward",
			Name:      "dependency_timeouts_total",
			Help:      "Total dataset lookups that exceeded the per-lookup budget or failed.",
		},
		[]string{"dataset"},
	)

	// CasesOpenedTotal counts review cases opened by priority.
	CasesOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ward",
			Name:      "cases_opened_total",
			Help:      "Total review cases opened by priority.",
		},
		[]string{"priority"},
	)

	// CasesResolvedTotal counts review cases resolved by resolution.
	CasesResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ward",
			Name:      "cases_resolved_total",
			Help:      "Total review cases resolved by resolution.",
		},
		[]string{"resolution"},
	)

	// WebhookDeliveriesTotal counts case webhook deliveries by result.
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ward",
			Name:      "webhook_deliveries_total",
			Help:      "Total case webhook delivery attempts by result (ok, error).",
		},
		[]string{"result"},
	)

	// SimulationsTotal counts simulation runs by outcome.
	SimulationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ward",
			Name:      "simulations_total",
			Help:      "Total simulation runs by outcome (complete, incomplete, error).",
		},
		[]string{"outcome"},
	)

	// SimulationDuration observes full-corpus replay duration.
	SimulationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ward",
		Name:      "simulation_duration_seconds",
		Help:      "Simulation replay duration in seconds.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ward", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ward", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ward", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ward", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ward", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ward", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DecisionsTotal,
		DecisionDuration,
		RuleEvaluationsTotal,
		MissingFactsTotal,
		DependencyTimeoutsTotal,
		CasesOpenedTotal,
		CasesResolvedTotal,
		WebhookDeliveriesTotal,
		SimulationsTotal,
		SimulationDuration,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
