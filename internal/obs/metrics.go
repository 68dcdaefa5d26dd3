package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bot's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	MessagesTotal      *prometheus.CounterVec
	RateLimited        prometheus.Counter
	APIRequestsTotal   *prometheus.CounterVec
	APIAttempts        prometheus.Counter
	APIDuration        prometheus.Histogram
	LimiterIdentities  prometheus.Gauge
	ConversationsTotal prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics creates and registers all collectors on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaybot_messages_total",
				Help: "Inbound chat messages by final outcome",
			},
			[]string{"outcome"},
		),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaybot_rate_limited_total",
			Help: "Messages rejected by local admission control",
		}),
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaybot_api_requests_total",
				Help: "Completion requests by result kind",
			},
			[]string{"kind"},
		),
		APIAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaybot_api_attempts_total",
			Help: "Individual network attempts against the completion endpoint",
		}),
		APIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relaybot_api_duration_seconds",
			Help:    "Wall time of GetResponse including retries",
			Buckets: prometheus.DefBuckets,
		}),
		LimiterIdentities: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relaybot_ratelimit_identities",
			Help: "Identities currently tracked by the rate limiter",
		}),
		ConversationsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relaybot_conversations",
			Help: "Identities with a conversation buffer",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.MessagesTotal,
		m.RateLimited,
		m.APIRequestsTotal,
		m.APIAttempts,
		m.APIDuration,
		m.LimiterIdentities,
		m.ConversationsTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveMessage(outcome string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

func (m *Metrics) ObserveAttempt() {
	if m == nil {
		return
	}
	m.APIAttempts.Inc()
}

// ObserveAPI records one GetResponse call. kind is "ok" on success.
func (m *Metrics) ObserveAPI(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.APIRequestsTotal.WithLabelValues(kind).Inc()
	m.APIDuration.Observe(d.Seconds())
}

func (m *Metrics) SetLimiterIdentities(n int) {
	if m == nil {
		return
	}
	m.LimiterIdentities.Set(float64(n))
}

func (m *Metrics) SetConversations(n int) {
	if m == nil {
		return
	}
	m.ConversationsTotal.Set(float64(n))
}
