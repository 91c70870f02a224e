package coordinator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	relaymetrics "github.com/compose-network/identity-relay/metrics"
	"github.com/compose-network/identity-relay/x/ledger"
)

// Metrics holds coordinator-level metrics
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	CompletionsTotal  *prometheus.CounterVec
	InboundTotal      *prometheus.CounterVec
	RateLimitedTotal  prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	PendingRequests   *prometheus.GaugeVec
	Nonce             prometheus.Gauge
	OperationDuration *prometheus.HistogramVec
}

// NewMetrics creates coordinator metrics on reg.
func NewMetrics(reg *relaymetrics.ComponentRegistry) *Metrics {
	return &Metrics{
		RequestsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Total number of created cross-chain requests",
		}, []string{"kind"}),

		CompletionsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "completions_total",
			Help: "Total number of resolved requests",
		}, []string{"kind", "via"}),

		InboundTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "inbound_messages_total",
			Help: "Inbound envelopes by type and outcome",
		}, []string{"type", "outcome"}),

		RateLimitedTotal: reg.NewCounter(prometheus.CounterOpts{
			Name: "rate_limited_total",
			Help: "Requests rejected by the per-caller cooldown",
		}),

		ErrorsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of failed invocations",
		}, []string{"kind", "operation"}),

		PendingRequests: reg.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pending_requests",
			Help: "Requests awaiting resolution",
		}, []string{"kind"}),

		Nonce: reg.NewGauge(prometheus.GaugeOpts{
			Name: "outbound_nonce",
			Help: "Nonce of the last published envelope",
		}),

		OperationDuration: reg.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "operation_duration_seconds",
			Help:    "Duration of coordinator entry points",
			Buckets: relaymetrics.DurationBuckets,
		}, []string{"operation", "status"}),
	}
}

func newPrivateMetrics() *Metrics {
	return NewMetrics(relaymetrics.NewComponentRegistryWith(prometheus.NewRegistry(), "relay", "coordinator"))
}

func (m *Metrics) RecordRequest(kind ledger.Kind) {
	m.RequestsTotal.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) RecordCompletion(kind ledger.Kind, via string) {
	m.CompletionsTotal.WithLabelValues(string(kind), via).Inc()
}

func (m *Metrics) RecordInbound(msgType, outcome string) {
	m.InboundTotal.WithLabelValues(msgType, outcome).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(kind, operation string) {
	m.ErrorsTotal.WithLabelValues(kind, operation).Inc()
}

func (m *Metrics) observe(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OperationDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}
