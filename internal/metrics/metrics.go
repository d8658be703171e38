// Package metrics collects Prometheus metrics for plans, voice sessions and
// HTTP traffic, and serves them for scraping.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what services, workers and middleware report to.
type Recorder interface {
	RecordPlanCreated(source string)
	RecordPlanActivation(active bool)
	RecordPlanDeleted()
	RecordSessionOpened()
	RecordSessionsExpired(count int64)
	RecordCallerResolution(method string, found bool)
	RecordHTTPRequest(method string, status int, duration time.Duration)
}

// Plan creation sources.
const (
	SourceCaller      = "caller"
	SourceIntegration = "integration"
)

// Caller resolution methods.
const (
	ResolveByToken  = "token"
	ResolveByLatest = "latest"
)

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	plansCreated     *prometheus.CounterVec
	planActivations  *prometheus.CounterVec
	plansDeleted     prometheus.Counter
	sessionsOpened   prometheus.Counter
	sessionsExpired  prometheus.Counter
	callerResolution *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpLatency      prometheus.Histogram
}

// NewCollector creates a Collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		plansCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitness_plans_created_total",
			Help: "Plans created, by entry point.",
		}, []string{"source"}),
		planActivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitness_plan_activation_changes_total",
			Help: "Explicit plan activation changes, by target state.",
		}, []string{"active"}),
		plansDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitness_plans_deleted_total",
			Help: "Plans deleted by their owner.",
		}),
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitness_voice_sessions_opened_total",
			Help: "Voice sessions opened.",
		}),
		sessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitness_voice_sessions_expired_total",
			Help: "Expired voice sessions removed by sweeps.",
		}),
		callerResolution: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitness_voice_caller_resolutions_total",
			Help: "Caller lookups by the voice integration, by method and outcome.",
		}, []string{"method", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitness_http_requests_total",
			Help: "HTTP requests served, by method and status code.",
		}, []string{"method", "status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fitness_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.plansCreated,
		c.planActivations,
		c.plansDeleted,
		c.sessionsOpened,
		c.sessionsExpired,
		c.callerResolution,
		c.httpRequests,
		c.httpLatency,
	)

	return c
}

func (c *Collector) RecordPlanCreated(source string) {
	c.plansCreated.WithLabelValues(source).Inc()
}

func (c *Collector) RecordPlanActivation(active bool) {
	c.planActivations.WithLabelValues(strconv.FormatBool(active)).Inc()
}

func (c *Collector) RecordPlanDeleted() {
	c.plansDeleted.Inc()
}

func (c *Collector) RecordSessionOpened() {
	c.sessionsOpened.Inc()
}

func (c *Collector) RecordSessionsExpired(count int64) {
	c.sessionsExpired.Add(float64(count))
}

func (c *Collector) RecordCallerResolution(method string, found bool) {
	outcome := "none"
	if found {
		outcome = "found"
	}
	c.callerResolution.WithLabelValues(method, outcome).Inc()
}

func (c *Collector) RecordHTTPRequest(method string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.httpLatency.Observe(duration.Seconds())
}

// Nop discards everything. Tests and callers without a registry use it.
type Nop struct{}

func (Nop) RecordPlanCreated(string)                     {}
func (Nop) RecordPlanActivation(bool)                    {}
func (Nop) RecordPlanDeleted()                           {}
func (Nop) RecordSessionOpened()                         {}
func (Nop) RecordSessionsExpired(int64)                  {}
func (Nop) RecordCallerResolution(string, bool)          {}
func (Nop) RecordHTTPRequest(string, int, time.Duration) {}

// Handler returns the scrape endpoint for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
