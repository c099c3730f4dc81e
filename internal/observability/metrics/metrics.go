package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RelayMetrics exposes counters/histograms for relay turns and deliveries.
type RelayMetrics struct {
	turnsTotal      *prometheus.CounterVec
	turnLatency     *prometheus.HistogramVec
	resetsTotal     *prometheus.CounterVec
	retriesTotal    prometheus.Counter
	deliveriesTotal *prometheus.CounterVec
	webhooksTotal   *prometheus.CounterVec
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "turns_total",
			Help:      "Conversation turns handled, by channel, payload kind and outcome",
		}, []string{"channel", "payload", "outcome"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relay",
			Name:      "turn_latency_seconds",
			Help:      "End-to-end latency of a conversation turn",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}, []string{"channel"}),
		resetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "session_resets_total",
			Help:      "Sessions reset on user request",
		}, []string{"channel"}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "session_retries_total",
			Help:      "Turns retried after the dialogue backend reported an expired session",
		}),
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "deliveries_total",
			Help:      "Answer elements delivered to channels",
		}, []string{"channel", "kind", "status"}),
		webhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "webhooks_total",
			Help:      "Inbound channel webhooks by status",
		}, []string{"channel", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.turnLatency, m.resetsTotal, m.retriesTotal, m.deliveriesTotal, m.webhooksTotal)
	return m
}

func (m *RelayMetrics) ObserveTurn(channel, payload, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(channel, payload, outcome).Inc()
	m.turnLatency.WithLabelValues(channel).Observe(elapsed.Seconds())
}

func (m *RelayMetrics) ObserveReset(channel string) {
	if m == nil {
		return
	}
	m.resetsTotal.WithLabelValues(channel).Inc()
}

func (m *RelayMetrics) ObserveSessionRetry() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}

func (m *RelayMetrics) ObserveDelivery(channel, kind string, err error) {
	if m == nil {
		return
	}
	status := "sent"
	if err != nil {
		status = "failed"
	}
	m.deliveriesTotal.WithLabelValues(channel, kind, status).Inc()
}

func (m *RelayMetrics) ObserveWebhook(channel, status string) {
	if m == nil {
		return
	}
	m.webhooksTotal.WithLabelValues(channel, status).Inc()
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
