// Package metrics exposes auth activity, state transitions, guard decisions
// and HTTP traffic as Prometheus metrics.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/propertipro/go-auth"
)

const namespace = "propertipro"

// Metrics holds the auth collectors
type Metrics struct {
	ActivityEvents   *prometheus.CounterVec
	StateTransitions *prometheus.CounterVec
	GuardDecisions   *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the collectors with reg
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActivityEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_activity_events_total",
				Help:      "Total number of auth activity events",
			},
			[]string{"event"},
		),
		StateTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_state_transitions_total",
				Help:      "Total number of auth state snapshots by phase",
			},
			[]string{"phase", "error"},
		),
		GuardDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_guard_decisions_total",
				Help:      "Total number of route guard decisions",
			},
			[]string{"kind", "admin"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "auth_browser_sessions",
				Help:      "Number of browser sessions with a live auth manager",
			},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		gatherer: reg,
	}
}

// NewRegistry creates a registry with the Go and process collectors and the
// auth metrics
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, New(reg)
}

// Record implements auth.ActivitySink
func (m *Metrics) Record(_ context.Context, event auth.ActivityEvent) error {
	m.ActivityEvents.WithLabelValues(string(event.EventType)).Inc()
	return nil
}

// ObserveState counts a snapshot. Use it as a Manager subscriber.
func (m *Metrics) ObserveState(state auth.AuthState) {
	m.StateTransitions.WithLabelValues(string(state.Phase()), strconv.FormatBool(state.HasError())).Inc()
}

// ObserveDecision counts a guard decision
func (m *Metrics) ObserveDecision(d auth.Decision, requireAdmin bool) {
	m.GuardDecisions.WithLabelValues(d.Kind.String(), strconv.FormatBool(requireAdmin)).Inc()
}

// Middleware records request counts and latency
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		m.HTTPRequests.WithLabelValues(c.Method(), strconv.Itoa(status)).Inc()
		m.HTTPDuration.WithLabelValues(c.Method()).Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
}
