// Package metrics exposes Prometheus collectors for the API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Provisioning outcomes.
const (
	OutcomeProvisioned        = "provisioned"
	OutcomeAlreadyProvisioned = "already_provisioned"
	OutcomeFailed             = "failed"
)

// Recorder is the subset used by domain services. A nil *Collector is a valid no-op Recorder.
type Recorder interface {
	EventAppended(eventType string)
	Provisioning(outcome string)
	ProvisioningAttempt()
}

// Collector holds the registered Prometheus metrics.
type Collector struct {
	eventsAppended      *prometheus.CounterVec
	provisioning        *prometheus.CounterVec
	provisioningAttempt prometheus.Counter
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
	rateLimited         prometheus.Counter
}

// NewCollector registers every metric on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xentri_events_appended_total",
			Help: "System events appended, by event type.",
		}, []string{"type"}),
		provisioning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xentri_provisioning_total",
			Help: "Organization provisioning calls, by outcome.",
		}, []string{"outcome"}),
		provisioningAttempt: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xentri_provisioning_attempts_total",
			Help: "Provisioning transaction attempts, including retries.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xentri_http_requests_total",
			Help: "HTTP responses by route pattern, method and status code.",
		}, []string{"route", "method", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "xentri_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xentri_rate_limited_total",
			Help: "Requests rejected by the per-user rate limiter.",
		}),
	}

	reg.MustRegister(
		c.eventsAppended,
		c.provisioning,
		c.provisioningAttempt,
		c.httpRequests,
		c.httpDuration,
		c.rateLimited,
	)

	return c
}

func (c *Collector) EventAppended(eventType string) {
	if c == nil {
		return
	}
	c.eventsAppended.WithLabelValues(eventType).Inc()
}

func (c *Collector) Provisioning(outcome string) {
	if c == nil {
		return
	}
	c.provisioning.WithLabelValues(outcome).Inc()
}

func (c *Collector) ProvisioningAttempt() {
	if c == nil {
		return
	}
	c.provisioningAttempt.Inc()
}

func (c *Collector) RateLimited() {
	if c == nil {
		return
	}
	c.rateLimited.Inc()
}

// Middleware records status and latency per chi route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		c.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		c.httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the Prometheus scrape endpoint.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
