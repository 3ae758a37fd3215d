package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrPublisherUnavailable означает, что брокер временно не принимает события и сообщение нужно оставить в outbox.
var ErrPublisherUnavailable = errors.New("event publisher unavailable")

// Типы агрегатов в outbox.
const (
	AggregateOrder       = "order"
	AggregateStockRecord = "stock_record"
)

// Типы событий, которые сервис публикует через outbox.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderCancelled     = "order.cancelled"
	EventStockTransferred   = "stock.transferred"
	EventStockAdjusted      = "stock.adjusted"
)

var eventAggregates = map[string]string{
	EventOrderCreated:       AggregateOrder,
	EventOrderStatusChanged: AggregateOrder,
	EventOrderCancelled:     AggregateOrder,
	EventStockTransferred:   AggregateStockRecord,
	EventStockAdjusted:      AggregateStockRecord,
}

// AggregateForEvent возвращает тип агрегата события; ok=false для чужого типа.
func AggregateForEvent(eventType string) (string, bool) {
	aggregate, ok := eventAggregates[eventType]
	return aggregate, ok
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Attempts      int
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// NewOutboxMessage сериализует payload в JSON и собирает сообщение.
func NewOutboxMessage(aggregateType, aggregateID, eventType string, payload any) (OutboxMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
	}, nil
}

// OrderEvent — полезная нагрузка событий заказа.
type OrderEvent struct {
	OrderID        string      `json:"order_id"`
	CustomerID     string      `json:"customer_id"`
	Status         OrderStatus `json:"status"`
	PreviousStatus OrderStatus `json:"previous_status,omitempty"`
	TotalAmount    string      `json:"total_amount"`
	OccurredAt     time.Time   `json:"occurred_at"`
}

// StockEvent — полезная нагрузка событий по остаткам.
type StockEvent struct {
	StockRecordID     string    `json:"stock_record_id"`
	ProductID         string    `json:"product_id"`
	WarehouseID       string    `json:"warehouse_id"`
	Quantity          int64     `json:"quantity"`
	Delta             int64     `json:"delta"`
	DestinationID     string    `json:"destination_stock_record_id,omitempty"`
	DestinationWHID   string    `json:"destination_warehouse_id,omitempty"`
	DestinationAmount int64     `json:"destination_quantity,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// DeadLetter — содержимое сообщения DLQ для события, которое не удалось опубликовать.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"failed_at"`
}
