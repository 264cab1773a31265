package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HoldOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_hold_requests_total",
			Help: "Hold requests by outcome",
		},
		[]string{"outcome"},
	)
	HoldsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_holds_closed_total",
			Help: "Holds moved to a terminal status",
		},
		[]string{"status"},
	)
	TicketsAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inventory_tickets_available",
			Help: "Currently available tickets per ticket type",
		},
		[]string{"event_id", "ticket_type_id"},
	)
	TicketsHeld = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inventory_tickets_held",
			Help: "Currently held tickets per ticket type",
		},
		[]string{"event_id", "ticket_type_id"},
	)
	LedgerInvariantViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inventory_ledger_invariant_violations_total",
			Help: "Ledger operations rejected because they would break sold+held <= total",
		},
	)
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inventory_sweep_duration_seconds",
			Help:    "Duration of one expiration sweep",
			Buckets: prometheus.DefBuckets,
		},
	)
	EventPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inventory_event_publish_failures_total",
			Help: "Stored ledger events that could not be published to the broker",
		},
	)
	VersionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inventory_ledger_version_conflicts_total",
			Help: "Ledger appends rejected because another writer got there first",
		},
	)
	StockAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_stock_alerts_total",
			Help: "Stock level alerts raised",
		},
		[]string{"level"},
	)
)

// NormalizePath keeps the first path segment so ids do not explode label cardinality.
func NormalizePath(p string) string {
	p = strings.TrimPrefix(p, "/")
	if idx := strings.Index(p, "/"); idx >= 0 {
		p = p[:idx]
	}
	if p == "" {
		return "root"
	}
	return p
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent event streams working behind the middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		path := NormalizePath(r.URL.Path)
		RequestTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		RequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
