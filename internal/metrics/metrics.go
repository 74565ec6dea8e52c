// Package metrics exposes the service counters on a private prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Provider interface {
	IncRequestsTotal(endpoint string, status int)
	ObserveRequestDuration(endpoint string, duration time.Duration)
	ObserveTick(result string, d time.Duration)
	SetConnectedNodes(n int)
	IncReferral(result string)
	ObserveReset(processed, failed int)
	IncRoleSync(action, result string)
	IncPushDropped()
	GaugeFunc(name, help string, fn func() float64)
	Handler() http.Handler
}

type Prometheus struct {
	reg             *prometheus.Registry
	factory         promauto.Factory
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	ticks           *prometheus.HistogramVec
	connectedNodes  prometheus.Gauge
	referrals       *prometheus.CounterVec
	resets          *prometheus.CounterVec
	roleSyncs       *prometheus.CounterVec
	pushDropped     prometheus.Counter
}

func New(enabled bool) Provider {
	if !enabled {
		return &noopMetrics{}
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Prometheus{
		reg:     reg,
		factory: f,
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sai_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"endpoint", "status"}),

		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sai_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		ticks: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sai_accrual_tick_duration_seconds",
			Help:    "Duration of accrual ticks by result",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"result"}),

		connectedNodes: f.NewGauge(prometheus.GaugeOpts{
			Name: "sai_connected_nodes",
			Help: "Identities with a running accrual ticker",
		}),

		referrals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sai_referrals_total",
			Help: "Referral redemptions by result",
		}, []string{"result"}),

		resets: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sai_daily_reset_identities_total",
			Help: "Identities touched by the daily reset by result",
		}, []string{"result"}),

		roleSyncs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sai_role_sync_total",
			Help: "Role sync jobs by action and result",
		}, []string{"action", "result"}),

		pushDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "sai_push_dropped_total",
			Help: "Push frames dropped because a session outbox was full",
		}),
	}
}

func (m *Prometheus) IncRequestsTotal(endpoint string, status int) {
	m.requestsTotal.WithLabelValues(endpoint, httpStatusBucket(status)).Inc()
}

func (m *Prometheus) ObserveRequestDuration(endpoint string, duration time.Duration) {
	m.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *Prometheus) ObserveTick(result string, d time.Duration) {
	m.ticks.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Prometheus) SetConnectedNodes(n int) {
	m.connectedNodes.Set(float64(n))
}

func (m *Prometheus) IncReferral(result string) {
	m.referrals.WithLabelValues(result).Inc()
}

func (m *Prometheus) ObserveReset(processed, failed int) {
	m.resets.WithLabelValues("ok").Add(float64(processed))
	m.resets.WithLabelValues("failed").Add(float64(failed))
}

func (m *Prometheus) IncRoleSync(action, result string) {
	m.roleSyncs.WithLabelValues(action, result).Inc()
}

func (m *Prometheus) IncPushDropped() {
	m.pushDropped.Inc()
}

// GaugeFunc registers a gauge sampled at scrape time.
func (m *Prometheus) GaugeFunc(name, help string, fn func() float64) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn)
}

func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func httpStatusBucket(code int) string {
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

// Middleware records request count and latency by route template, so path parameters do
// not explode the label set.
func Middleware(m Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.IncRequestsTotal(endpoint, c.Writer.Status())
		m.ObserveRequestDuration(endpoint, time.Since(start))
	}
}

// noopMetrics is used when metrics are disabled.
type noopMetrics struct{}

func (n *noopMetrics) IncRequestsTotal(_ string, _ int)                 {}
func (n *noopMetrics) ObserveRequestDuration(_ string, _ time.Duration) {}
func (n *noopMetrics) ObserveTick(_ string, _ time.Duration)            {}
func (n *noopMetrics) SetConnectedNodes(_ int)                          {}
func (n *noopMetrics) IncReferral(_ string)                             {}
func (n *noopMetrics) ObserveReset(_, _ int)                            {}
func (n *noopMetrics) IncRoleSync(_, _ string)                          {}
func (n *noopMetrics) IncPushDropped()                                  {}
func (n *noopMetrics) GaugeFunc(_, _ string, _ func() float64)          {}
func (n *noopMetrics) Handler() http.Handler                            { return http.NotFoundHandler() }
