// Package metrics holds the Prometheus collectors of the bridge.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "brokerbridge"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	WebhookAuth        *prometheus.CounterVec
	WebhookEvents      *prometheus.CounterVec
	UpstreamCalls      *prometheus.CounterVec
	UpstreamDuration   *prometheus.HistogramVec
	ResolutionFailures *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
}

// New registers the collectors on reg. When reg also implements prometheus.Gatherer,
// Handler serves it.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WebhookAuth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_auth_total",
			Help:      "Webhook authentication decisions.",
		}, []string{"scheme", "accepted"}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Webhook events ingested, by classified kind.",
		}, []string{"kind"}),
		UpstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_calls_total",
			Help:      "Calls to resolved upstream operations.",
		}, []string{"capability", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Latency of upstream operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"capability"}),
		ResolutionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolution_failures_total",
			Help:      "Capabilities for which no upstream operation was found.",
		}, []string{"capability"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route pattern and status.",
		}, []string{"route", "status"}),
	}
	if reg != nil {
		reg.MustRegister(m.WebhookAuth, m.WebhookEvents, m.UpstreamCalls,
			m.UpstreamDuration, m.ResolutionFailures, m.HTTPRequests)
		if g, ok := reg.(prometheus.Gatherer); ok {
			m.gatherer = g
		}
	}
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveWebhookAuth(scheme string, accepted bool) {
	if m == nil {
		return
	}
	m.WebhookAuth.WithLabelValues(scheme, strconv.FormatBool(accepted)).Inc()
}

func (m *Metrics) ObserveEvent(kind string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(kind).Inc()
}

// ObserveUpstream records one upstream call; outcome is "ok" or "error".
func (m *Metrics) ObserveUpstream(capability, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamCalls.WithLabelValues(capability, outcome).Inc()
	m.UpstreamDuration.WithLabelValues(capability).Observe(took.Seconds())
}

func (m *Metrics) ObserveResolutionFailure(capability string) {
	if m == nil {
		return
	}
	m.ResolutionFailures.WithLabelValues(capability).Inc()
}

func (m *Metrics) ObserveHTTP(route string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
