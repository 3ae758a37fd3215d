package domain

import "time"

// IdempotentOperation — операция, повтор которой с тем же Idempotency-Key не должен
// второй раз списывать или перемещать остаток.
type IdempotentOperation string

const (
	OperationOrderCreate   IdempotentOperation = "orders.create"
	OperationStockTransfer IdempotentOperation = "inventory.transfer"
	OperationStockAdjust   IdempotentOperation = "inventory.adjust"
)

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing: запрос принят, остатки ещё могут меняться.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	// IdempotencyStatusFailed: бизнес-отказ (4xx) сохранён и повторяется клиенту как есть.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// IdempotencyRecord хранит состояние запроса с Idempotency-Key и сохранённый ответ.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Replayable сообщает, что запрос завершён и ответ можно отдать повторно.
func (r IdempotencyRecord) Replayable() bool {
	if r.Status != IdempotencyStatusDone && r.Status != IdempotencyStatusFailed {
		return false
	}
	return r.HTTPStatus != 0 && len(r.ResponseBody) > 0
}

// Expired сообщает, что срок хранения ключа истёк к моменту at.
func (r IdempotencyRecord) Expired(at time.Time) bool {
	return !r.TTLAt.After(at)
}
