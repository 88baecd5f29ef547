package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "liquidity_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liquidity_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "liquidity_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	requestsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "liquidity_layer",
			Subsystem: "purchases",
			Name:      "requests_total",
			Help:      "Total number of purchase requests created.",
		},
	)

	requestFunds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "liquidity_layer",
			Subsystem: "purchases",
			Name:      "funds_per_request",
			Help:      "Number of funding legs per purchase request.",
			Buckets:   prometheus.LinearBuckets(1, 1, 8),
		},
	)

	fundsSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liquidity_layer",
			Subsystem: "purchases",
			Name:      "funds_settled_total",
			Help:      "Total number of funds settled, by origin domain.",
		},
		[]string{"origin"},
	)

	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liquidity_layer",
			Subsystem: "gateway",
			Name:      "dispatches_total",
			Help:      "Total number of outbound gateway messages.",
		},
		[]string{"kind"},
	)

	finalizations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "liquidity_layer",
			Subsystem: "purchases",
			Name:      "finalizations_total",
			Help:      "Total number of purchase requests that became fully settled.",
		},
	)

	settlementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "liquidity_layer",
			Subsystem: "purchases",
			Name:      "settlement_duration_seconds",
			Help:      "Time from request creation to full settlement.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	escrowFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "liquidity_layer",
			Subsystem: "purchases",
			Name:      "escrow_release_failures_total",
			Help:      "Total number of failed escrow releases.",
		},
	)

	openRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "liquidity_layer",
			Subsystem: "purchases",
			Name:      "open_requests",
			Help:      "Number of purchase requests awaiting settlement.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		requestsCreated,
		requestFunds,
		fundsSettled,
		dispatches,
		finalizations,
		settlementDuration,
		escrowFailures,
		openRequests,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordRequestCreated records a new purchase request and its leg count.
func RecordRequestCreated(funds int) {
	requestsCreated.Inc()
	requestFunds.Observe(float64(funds))
}

// RecordFundSettled records a settled fund by origin domain.
func RecordFundSettled(origin string) {
	if origin == "" {
		origin = "unknown"
	}
	fundsSettled.WithLabelValues(origin).Inc()
}

// RecordDispatch records an outbound gateway message.
func RecordDispatch(kind string) {
	dispatches.WithLabelValues(kind).Inc()
}

// RecordFinalization records a request reaching full settlement.
func RecordFinalization(age time.Duration) {
	if age <= 0 {
		age = time.Millisecond
	}
	finalizations.Inc()
	settlementDuration.Observe(age.Seconds())
}

// RecordEscrowReleaseFailure records a failed item release.
func RecordEscrowReleaseFailure() {
	escrowFailures.Inc()
}

// SetOpenRequests updates the open request gauge.
func SetOpenRequests(n int) {
	openRequests.Set(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "requests":
		if len(parts) == 1 {
			return "/requests"
		}
		return "/requests/:id"
	case "peers":
		if len(parts) == 1 {
			return "/peers"
		}
		return "/peers/:domain"
	case "inbound":
		if len(parts) > 1 {
			return "/inbound/" + parts[1]
		}
		return "/inbound"
	default:
		return "/" + parts[0]
	}
}
