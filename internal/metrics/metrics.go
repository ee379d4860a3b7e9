package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/marketplace/internal/domain/payment"
)

const namespace = "marketplace"

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
	Checkouts *prometheus.CounterVec
	Payments  *prometheus.CounterVec
	Webhooks  *prometheus.CounterVec
}

// NewServerMetrics registers the collectors of one service on reg.
func NewServerMetrics(reg prometheus.Registerer, service string) *ServerMetrics {
	m := &ServerMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "checkouts_total",
			Help:      "Checkouts by outcome.",
		}, []string{"outcome"}),
		Payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "payment_transitions_total",
			Help:      "Recorded payment status transitions.",
		}, []string{"method", "from", "to"}),
		Webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "payment_webhooks_total",
			Help:      "Mobile money webhooks by provider and result.",
		}, []string{"provider", "result"}),
	}
	reg.MustRegister(m.Requests, m.LatencyMS, m.Checkouts, m.Payments, m.Webhooks)
	return m
}

// ObserveCheckout counts one checkout outcome.
func (m *ServerMetrics) ObserveCheckout(outcome string) {
	m.Checkouts.WithLabelValues(outcome).Inc()
}

// ObservePaymentTransition matches payment.StatusObserver.
func (m *ServerMetrics) ObservePaymentTransition(method payment.MethodName, from, to payment.Status) {
	if from == "" {
		from = "none"
	}
	m.Payments.WithLabelValues(string(method), string(from), string(to)).Inc()
}

func (m *ServerMetrics) ObserveWebhook(provider payment.Provider, result payment.WebhookResult) {
	label := "processed"
	switch {
	case result.Duplicate:
		label = "duplicate"
	case !result.Success:
		label = "failed"
	}
	m.Webhooks.WithLabelValues(string(provider), label).Inc()
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
