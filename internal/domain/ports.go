package domain

import (
	"context"
	"time"
)

// Transactor задаёт транзакционную границу для операций над остатками и заказами.
type Transactor interface {
	// WithinTx выполняет fn в одной транзакции. Ошибка или паника внутри fn
	// откатывают все записи; успешный возврат фиксирует их вместе.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx открывает доступ к репозиториям в рамках одной транзакции.
type Tx interface {
	Products() ProductRepository
	Warehouses() WarehouseRepository
	Customers() CustomerRepository
	Stock() StockRepository
	Orders() OrderRepository
	Movements() MovementRepository
	Outbox() OutboxRepository
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	// Delete освобождает ключ, чтобы клиент мог повторить запрос.
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}
