package metrics

import "github.com/prometheus/client_golang/prometheus"

// LedgerMetrics counts state transitions and processor calls.
type LedgerMetrics struct {
	paymentTransitions *prometheus.CounterVec
	refundTransitions  *prometheus.CounterVec
	processorCalls     *prometheus.CounterVec
	webhookEvents      *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger counters on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	paymentTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_payment_transitions_total",
		Help: "Payment status transitions applied.",
	}, []string{"from", "to"})
	refundTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_refund_transitions_total",
		Help: "Refund request status transitions applied.",
	}, []string{"from", "to"})
	processorCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_processor_refund_calls_total",
		Help: "Refund creation calls made to the payment processor.",
	}, []string{"outcome"})
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_webhook_events_total",
		Help: "Processor webhook events by handling result.",
	}, []string{"result"})
	reg.MustRegister(paymentTransitions, refundTransitions, processorCalls, webhookEvents)
	return &LedgerMetrics{
		paymentTransitions: paymentTransitions,
		refundTransitions:  refundTransitions,
		processorCalls:     processorCalls,
		webhookEvents:      webhookEvents,
	}
}

func (m *LedgerMetrics) PaymentTransition(from, to string) {
	if m == nil || m.paymentTransitions == nil {
		return
	}
	m.paymentTransitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

func (m *LedgerMetrics) RefundTransition(from, to string) {
	if m == nil || m.refundTransitions == nil {
		return
	}
	m.refundTransitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

func (m *LedgerMetrics) ProcessorCall(outcome string) {
	if m == nil || m.processorCalls == nil {
		return
	}
	m.processorCalls.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *LedgerMetrics) WebhookEvent(result string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(result)).Inc()
}

// OutboxPublisherMetrics counts outbox rows by publish outcome.
type OutboxPublisherMetrics struct {
	results *prometheus.CounterVec
}

func NewOutboxPublisherMetrics(reg prometheus.Registerer) *OutboxPublisherMetrics {
	if reg == nil {
		return &OutboxPublisherMetrics{}
	}
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_outbox_publish_total",
		Help: "Outbox rows handled by the publisher, by outcome.",
	}, []string{"event_type", "result"})
	reg.MustRegister(results)
	return &OutboxPublisherMetrics{results: results}
}

func (m *OutboxPublisherMetrics) Published(eventType string) { m.inc(eventType, "published") }

func (m *OutboxPublisherMetrics) Failed(eventType string) { m.inc(eventType, "failed") }

func (m *OutboxPublisherMetrics) DeadLettered(eventType string) { m.inc(eventType, "dead_lettered") }

func (m *OutboxPublisherMetrics) inc(eventType, result string) {
	if m == nil || m.results == nil {
		return
	}
	m.results.WithLabelValues(normalizeLabel(eventType), result).Inc()
}
