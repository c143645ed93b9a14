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
			Namespace: "contactbook",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contactbook",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "contactbook",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	mailDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contactbook",
			Name:      "mail_deliveries_total",
			Help:      "Outbound mail delivery attempts by outcome.",
		},
		[]string{"template", "status"},
	)

	mailDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "contactbook",
			Name:      "mail_delivery_duration_seconds",
			Help:      "Duration of outbound mail deliveries.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contactbook",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		},
		[]string{"route"},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contactbook",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Total number of scheduled job runs.",
		},
		[]string{"job", "success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		mailDeliveries,
		mailDuration,
		rateLimited,
		jobRuns,
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
		path := CanonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordMailDelivery records the outcome of one outbound message.
func RecordMailDelivery(template string, duration time.Duration, err error) {
	if template == "" {
		template = "unknown"
	}
	status := "sent"
	if err != nil {
		status = "failed"
	}
	mailDeliveries.WithLabelValues(template, status).Inc()
	if duration > 0 {
		mailDuration.Observe(duration.Seconds())
	}
}

// RecordMailDropped counts a message rejected because the queue was full.
func RecordMailDropped(template string) {
	if template == "" {
		template = "unknown"
	}
	mailDeliveries.WithLabelValues(template, "dropped").Inc()
}

// RecordRateLimited counts a throttled request for route.
func RecordRateLimited(route string) {
	if route == "" {
		route = "unknown"
	}
	rateLimited.WithLabelValues(route).Inc()
}

// RecordJobRun records a scheduled job execution.
func RecordJobRun(job string, success bool) {
	result := "false"
	if success {
		result = "true"
	}
	jobRuns.WithLabelValues(job, result).Inc()
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

// CanonicalPath maps raw onto the route it would be served by, collapsing
// identifiers and tokens. Paths matching no route share the "other" label so
// scanners cannot grow the label set.
func CanonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	if _, ok := staticRoutes[trimmed]; ok {
		return "/" + trimmed
	}

	parts := strings.Split(trimmed, "/")
	switch {
	case len(parts) == 3 && parts[0] == "api" && parts[1] == "contacts" && isDigits(parts[2]):
		return "/api/contacts/:id"
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "auth" && parts[2] == "confirmed_email":
		return "/api/auth/confirmed_email/:token"
	}
	return otherPath
}

// otherPath labels every request that matches no registered route.
const otherPath = "other"

var staticRoutes = map[string]struct{}{
	"metrics":                {},
	"api/healthchecker":      {},
	"api/contacts":           {},
	"api/auth/signup":        {},
	"api/auth/login":         {},
	"api/auth/refresh_token": {},
	"api/auth/request_email": {},
	"api/auth/logout":        {},
	"api/users/me":           {},
	"api/users/avatar":       {},
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
