// Package metrics owns the prometheus registry and the collectors the API
// exports on /metrics.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	queueTransitions *prometheus.CounterVec
	aiRequests       *prometheus.CounterVec
	aiTokens         *prometheus.CounterVec
	notifications    *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clinic_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		queueTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_queue_transitions_total",
			Help: "Queue ticket state changes by transition.",
		}, []string{"transition"}),
		aiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_ai_requests_total",
			Help: "AI proxy requests by feature and outcome.",
		}, []string{"feature", "status"}),
		aiTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_ai_tokens_total",
			Help: "Tokens consumed through the AI proxy by feature.",
		}, []string{"feature"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_notifications_total",
			Help: "Notification rows by channel and resulting status.",
		}, []string{"channel", "status"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration,
		m.queueTransitions,
		m.aiRequests, m.aiTokens,
		m.notifications,
	)
	return m
}

// Middleware records every request under its route template, so ids in the
// path do not explode label cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			var he *echo.HTTPError
			if err != nil && errors.As(err, &he) {
				status = he.Code
			} else if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) QueueTransition(transition string) {
	m.queueTransitions.WithLabelValues(transition).Inc()
}

func (m *Metrics) AIRequest(feature, status string, tokens int) {
	m.aiRequests.WithLabelValues(feature, status).Inc()
	if tokens > 0 {
		m.aiTokens.WithLabelValues(feature).Add(float64(tokens))
	}
}

func (m *Metrics) Notification(channel, status string) {
	m.notifications.WithLabelValues(channel, status).Inc()
}
