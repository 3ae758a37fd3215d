package domain

import (
	"strings"
	"time"
)

// StockRecord — остаток одного товара на одном складе.
// Количество никогда не бывает отрицательным, пара (ProductID, WarehouseID) уникальна.
type StockRecord struct {
	ID          string
	ProductID   string
	WarehouseID string
	Quantity    int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StockOperation — вид ручной корректировки остатка.
type StockOperation string

const (
	// StockOperationAdd увеличивает остаток на заданное количество.
	StockOperationAdd StockOperation = "add"
	// StockOperationSubtract уменьшает остаток на заданное количество.
	StockOperationSubtract StockOperation = "subtract"
	// StockOperationSet устанавливает остаток в точное значение.
	StockOperationSet StockOperation = "set"
)

// ParseStockOperation разбирает строковое представление операции.
func ParseStockOperation(raw string) (StockOperation, error) {
	op := StockOperation(strings.ToLower(strings.TrimSpace(raw)))
	if !op.Valid() {
		return "", ErrUnknownStockOperation
	}
	return op, nil
}

// Valid проверяет, что операция относится к поддерживаемым значениям.
func (op StockOperation) Valid() bool {
	switch op {
	case StockOperationAdd, StockOperationSubtract, StockOperationSet:
		return true
	default:
		return false
	}
}

// MovementKind — причина изменения остатка в журнале движений.
type MovementKind string

const (
	MovementInitial                 MovementKind = "initial"
	MovementAdjustAdd               MovementKind = "adjust_add"
	MovementAdjustSubtract          MovementKind = "adjust_subtract"
	MovementAdjustSet               MovementKind = "adjust_set"
	MovementOrderAllocation         MovementKind = "order_allocation"
	MovementOrderAllocationRollback MovementKind = "order_allocation_rollback"
	MovementOrderRestitution        MovementKind = "order_restitution"
	MovementTransferOut             MovementKind = "transfer_out"
	MovementTransferIn              MovementKind = "transfer_in"
)

// MovementKindForOperation сопоставляет ручную операцию с видом движения.
func MovementKindForOperation(op StockOperation) MovementKind {
	switch op {
	case StockOperationAdd:
		return MovementAdjustAdd
	case StockOperationSubtract:
		return MovementAdjustSubtract
	default:
		return MovementAdjustSet
	}
}

// StockMovement — неизменяемая запись журнала движений остатка.
type StockMovement struct {
	ID            string
	StockRecordID string
	ProductID     string
	WarehouseID   string
	Delta         int64
	QuantityAfter int64
	Kind          MovementKind
	// Reference — идентификатор заказа или перемещения, вызвавшего движение.
	Reference  string
	Reason     string
	OccurredAt time.Time
}

// StockFilter ограничивает выборку остатков.
type StockFilter struct {
	ProductID   string
	WarehouseID string
	// LowStockThreshold > 0 оставляет только записи с quantity <= порога.
	LowStockThreshold int64
	Limit             int
}

// Allocation — сколько единиц FIFO-аллокатор снял с конкретной записи остатка.
type Allocation struct {
	StockRecordID string
	WarehouseID   string
	Quantity      int64
}
