package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// InventoryMetrics содержит метрики операций над остатками и заказами.
// Все методы допускают nil-получатель, чтобы сервисы работали без метрик в тестах.
type InventoryMetrics struct {
	// Счётчики заказов
	ordersCreated prometheus.Counter
	ordersFailed  *prometheus.CounterVec
	statusChanges *prometheus.CounterVec

	// Счётчики операций над остатками
	insufficientStock *prometheus.CounterVec
	transfers         prometheus.Counter
	transferredUnits  prometheus.Counter
	adjustments       *prometheus.CounterVec
	restitutions      *prometheus.CounterVec
	restitutedUnits   prometheus.Counter

	operationDuration *prometheus.HistogramVec
}

// NewInventoryMetrics регистрирует метрики в глобальном реестре Prometheus.
func NewInventoryMetrics() *InventoryMetrics {
	return NewInventoryMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewInventoryMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewInventoryMetricsWithRegisterer(registerer prometheus.Registerer) *InventoryMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &InventoryMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ims_orders_created_total",
			Help: "Total number of orders created with stock deducted",
		}),
		ordersFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ims_orders_failed_total",
			Help: "Total number of rejected order creations by reason",
		}, []string{"reason"}),
		statusChanges: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ims_order_status_changes_total",
			Help: "Total number of applied order status transitions by target status",
		}, []string{"status"}),
		insufficientStock: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ims_insufficient_stock_total",
			Help: "Total number of operations rejected for insufficient stock",
		}, []string{"operation"}),
		transfers: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ims_stock_transfers_total",
			Help: "Total number of completed stock transfers",
		}),
		transferredUnits: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ims_stock_transferred_units_total",
			Help: "Total number of units moved between warehouses",
		}),
		adjustments: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ims_stock_adjustments_total",
			Help: "Total number of manual stock adjustments by operation",
		}, []string{"operation"}),
		restitutions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ims_order_restitutions_total",
			Help: "Total number of cancelled orders whose stock was restored",
		}, []string{"policy"}),
		restitutedUnits: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ims_order_restituted_units_total",
			Help: "Total number of units returned to stock by cancellations",
		}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "ims_operation_duration_seconds",
			Help:    "Duration of transactional inventory operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation", "result"}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *InventoryMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// RecordOrderFailed фиксирует отказ в создании заказа.
func (m *InventoryMetrics) RecordOrderFailed(reason string) {
	if m == nil {
		return
	}
	m.ordersFailed.WithLabelValues(reason).Inc()
}

// RecordStatusChange фиксирует применённый переход статуса.
func (m *InventoryMetrics) RecordStatusChange(status string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(status).Inc()
}

// RecordInsufficientStock фиксирует отказ операции из-за нехватки остатка.
func (m *InventoryMetrics) RecordInsufficientStock(operation string) {
	if m == nil {
		return
	}
	m.insufficientStock.WithLabelValues(operation).Inc()
}

// RecordTransfer фиксирует выполненное перемещение.
func (m *InventoryMetrics) RecordTransfer(units int64) {
	if m == nil {
		return
	}
	m.transfers.Inc()
	m.transferredUnits.Add(float64(units))
}

// RecordAdjustment фиксирует ручную корректировку.
func (m *InventoryMetrics) RecordAdjustment(operation string) {
	if m == nil {
		return
	}
	m.adjustments.WithLabelValues(operation).Inc()
}

// RecordRestitution фиксирует возврат остатка отменённого заказа.
func (m *InventoryMetrics) RecordRestitution(policy string, units int64) {
	if m == nil {
		return
	}
	m.restitutions.WithLabelValues(policy).Inc()
	m.restitutedUnits.Add(float64(units))
}

// ObserveOperation записывает длительность транзакционной операции.
func (m *InventoryMetrics) ObserveOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operationDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
}
