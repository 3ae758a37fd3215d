package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты публикации события из outbox.
const (
	PublishSent      = "sent"
	PublishRetried   = "retried"
	PublishFailed    = "failed"
	PublishPostponed = "postponed"
	PublishDLQFailed = "dlq_failed"
)

// PipelineMetrics описывает фоновые процессы: доставку событий об остатках и
// заказах из outbox и очистку ключей идемпотентности.
type PipelineMetrics struct {
	outboxPublished *prometheus.CounterVec
	outboxPending   prometheus.Gauge
	outboxOldestAge prometheus.Gauge
	deadLetters     *prometheus.CounterVec

	idempotencySweeps  *prometheus.CounterVec
	idempotencyExpired *prometheus.CounterVec
}

// NewPipelineMetrics регистрирует метрики в глобальном реестре Prometheus.
func NewPipelineMetrics() *PipelineMetrics {
	return NewPipelineMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewPipelineMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewPipelineMetricsWithRegisterer(registerer prometheus.Registerer) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PipelineMetrics{
		outboxPublished: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ims_outbox_events_total",
			Help: "Outbox events handled by the relay by event type and result",
		}, []string{"event_type", "result"}),
		outboxPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "ims_outbox_pending_events",
			Help: "Inventory and order events waiting in the outbox",
		}),
		outboxOldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "ims_outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest pending outbox event in seconds",
		}),
		deadLetters: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ims_outbox_dead_letters_total",
			Help: "Events moved to the dead letter topic by aggregate type",
		}, []string{"aggregate_type"}),
		idempotencySweeps: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ims_idempotency_sweeps_total",
			Help: "Idempotency key sweeps by result",
		}, []string{"result"}),
		idempotencyExpired: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ims_idempotency_expired_keys_total",
			Help: "Expired idempotency keys removed by the sweeper by backend",
		}, []string{"backend"}),
	}
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

// RecordPublish фиксирует результат обработки одного события.
func (m *PipelineMetrics) RecordPublish(eventType, result string) {
	if m == nil {
		return
	}
	m.outboxPublished.WithLabelValues(eventType, result).Inc()
}

// RecordDeadLetter фиксирует перенос события в DLQ.
func (m *PipelineMetrics) RecordDeadLetter(aggregateType string) {
	if m == nil {
		return
	}
	m.deadLetters.WithLabelValues(aggregateType).Inc()
}

// SetOutboxBacklog обновляет размер очереди и возраст самого старого события.
func (m *PipelineMetrics) SetOutboxBacklog(pending int, oldestAge time.Duration) {
	if m == nil {
		return
	}
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.outboxPending.Set(float64(pending))
	m.outboxOldestAge.Set(oldestAge.Seconds())
}

// RecordIdempotencySweep фиксирует проход очистки ключей.
func (m *PipelineMetrics) RecordIdempotencySweep(backend string, removed int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.idempotencySweeps.WithLabelValues("error").Inc()
		return
	}
	m.idempotencySweeps.WithLabelValues("ok").Inc()
	m.idempotencyExpired.WithLabelValues(backend).Add(float64(removed))
}
