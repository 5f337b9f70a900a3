package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// StoreLatency can be used by store implementations to record operation latency.
	StoreLatency *prometheus.HistogramVec

	// ConflictRetries counts optimistic update retries, by document type.
	ConflictRetries *prometheus.CounterVec

	// ChangesAppended counts Change records written, by target type and field.
	ChangesAppended *prometheus.CounterVec

	// NotificationsDropped counts lifecycle events dropped because a consumer lagged.
	NotificationsDropped prometheus.Counter

	// IndexSyncErrors counts search index operations that failed.
	IndexSyncErrors *prometheus.CounterVec

	// AliasCacheLookups counts alias cache reads by result (hit, miss, error).
	AliasCacheLookups *prometheus.CounterVec

	// DBPoolOpenConnections tracks the number of currently open database connections.
	DBPoolOpenConnections prometheus.Gauge

	// DBPoolMaxConnections tracks the configured maximum database connections.
	DBPoolMaxConnections prometheus.Gauge
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Must be called before starting the HTTP server or any store initialization
// that records metrics. Safe to call multiple times; only the first call registers.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartography_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cartography_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	StoreLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cartography_store_latency_seconds",
			Help:    "Store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ConflictRetries = f.NewCounterVec(prometheus.CounterOpts{
		Name: "cartography_conflict_retries_total",
		Help: "Optimistic update retries after a revision conflict",
	}, []string{"type"})

	ChangesAppended = f.NewCounterVec(prometheus.CounterOpts{
		Name: "cartography_changes_appended_total",
		Help: "Change records appended",
	}, []string{"type", "field"})

	NotificationsDropped = f.NewCounter(prometheus.CounterOpts{
		Name: "cartography_notifications_dropped_total",
		Help: "Lifecycle notifications dropped because the queue was full",
	})

	IndexSyncErrors = f.NewCounterVec(prometheus.CounterOpts{
		Name: "cartography_index_sync_errors_total",
		Help: "Search index operations that failed",
	}, []string{"operation"})

	AliasCacheLookups = f.NewCounterVec(prometheus.CounterOpts{
		Name: "cartography_alias_cache_lookups_total",
		Help: "Alias cache reads by result",
	}, []string{"result"})

	DBPoolOpenConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "cartography_db_pool_open_connections",
		Help: "Number of open database connections",
	})

	DBPoolMaxConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "cartography_db_pool_max_connections",
		Help: "Maximum number of database connections",
	})
}

// The helpers below are no-ops until InitMetrics has run, so library code and
// tests can record without registering.

// ObserveStore records a store operation latency.
func ObserveStore(op string, start time.Time) {
	if StoreLatency != nil {
		StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// CountConflictRetry records one optimistic update retry.
func CountConflictRetry(docType string) {
	if ConflictRetries != nil {
		ConflictRetries.WithLabelValues(docType).Inc()
	}
}

// CountChange records one appended Change record.
func CountChange(docType, field string) {
	if ChangesAppended != nil {
		ChangesAppended.WithLabelValues(docType, field).Inc()
	}
}

// CountDroppedNotification records one dropped lifecycle event.
func CountDroppedNotification() {
	if NotificationsDropped != nil {
		NotificationsDropped.Inc()
	}
}

// CountIndexSyncError records one failed search index operation.
func CountIndexSyncError(op string) {
	if IndexSyncErrors != nil {
		IndexSyncErrors.WithLabelValues(op).Inc()
	}
}

// CountAliasCacheLookup records one alias cache read.
func CountAliasCacheLookup(result string) {
	if AliasCacheLookups != nil {
		AliasCacheLookups.WithLabelValues(result).Inc()
	}
}

// MetricsMiddleware records HTTP request metrics for Prometheus.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method).Observe(duration.Seconds())
	}
}
