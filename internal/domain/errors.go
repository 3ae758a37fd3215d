package domain

import (
	"errors"
	"fmt"
)

// Виды ошибок ядра. Конкретные ошибки ниже оборачивают ровно один вид,
// поэтому errors.Is работает и по конкретной ошибке, и по её виду.
var (
	// ErrNotFound — сущность, на которую ссылается запрос, отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput — аргументы некорректны и отклонены до любых изменений.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInsufficientStock — запрошенное списание больше доступного остатка.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrDuplicateRecord — нарушение уникальности.
	ErrDuplicateRecord = errors.New("duplicate record")
	// ErrInvalidTransition — недопустимая смена статуса заказа.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInUse — удаление запрещено, пока на сущность есть ссылки.
	ErrInUse = errors.New("resource is in use")
	// ErrConcurrentModification — транзакция прервана конкурентным изменением;
	// клиент должен повторить запрос сам.
	ErrConcurrentModification = errors.New("concurrent modification")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

func newKindError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

var (
	ErrProductNotFound     = newKindError(ErrNotFound, "product not found")
	ErrWarehouseNotFound   = newKindError(ErrNotFound, "warehouse not found")
	ErrCustomerNotFound    = newKindError(ErrNotFound, "customer not found")
	ErrStockRecordNotFound = newKindError(ErrNotFound, "stock record not found")
	ErrOrderNotFound       = newKindError(ErrNotFound, "order not found")

	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrLinesRequired = newKindError(ErrInvalidInput, "order must contain at least one line")
	// Ошибка при некорректном количестве в позиции (<= 0).
	ErrLineQtyInvalid        = newKindError(ErrInvalidInput, "line quantity must be greater than zero")
	ErrPaymentMethodRequired = newKindError(ErrInvalidInput, "payment_method is required")
	ErrCustomerRequired      = newKindError(ErrInvalidInput, "customer_id is required")
	ErrProductRequired       = newKindError(ErrInvalidInput, "product_id is required")
	ErrWarehouseRequired     = newKindError(ErrInvalidInput, "warehouse_id is required")
	// ErrInvalidQuantity — целевое количество остатка отрицательное.
	ErrInvalidQuantity       = newKindError(ErrInvalidInput, "quantity must be non-negative")
	ErrQuantityOverflow      = newKindError(ErrInvalidInput, "quantity exceeds the supported range")
	ErrSameWarehouse         = newKindError(ErrInvalidInput, "source and destination warehouses must differ")
	ErrTransferQtyInvalid    = newKindError(ErrInvalidInput, "transfer quantity must be at least 1")
	ErrUnknownStockOperation = newKindError(ErrInvalidInput, "unknown stock operation")
	ErrNameRequired          = newKindError(ErrInvalidInput, "name is required")
	ErrSKURequired           = newKindError(ErrInvalidInput, "sku is required")
	ErrPriceNegative         = newKindError(ErrInvalidInput, "unit price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrTotalMismatch = newKindError(ErrInvalidInput, "order total does not match lines sum")

	ErrUnknownOrderStatus = newKindError(ErrInvalidTransition, "unknown order status")
	ErrOrderCancelled     = newKindError(ErrInvalidTransition, "order is cancelled")
	ErrStatusBackward     = newKindError(ErrInvalidTransition, "order status cannot move backwards")

	ErrDuplicateStockRecord = newKindError(ErrDuplicateRecord, "stock record for this product and warehouse already exists")
	ErrDuplicateSKU         = newKindError(ErrDuplicateRecord, "product with this sku already exists")

	ErrProductInUse   = newKindError(ErrInUse, "product is referenced by stock records or order lines")
	ErrWarehouseInUse = newKindError(ErrInUse, "cannot delete warehouse with existing inventory")
	ErrCustomerInUse  = newKindError(ErrInUse, "customer has orders")

	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = newKindError(ErrConcurrentModification, "order version conflict")
)

var (
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
)

// InsufficientStockError несёт контекст нехватки: товар, сколько просили и сколько было.
type InsufficientStockError struct {
	ProductID     string
	StockRecordID string
	Requested     int64
	Available     int64
}

// NewInsufficientStock строит ошибку нехватки по товару в целом.
func NewInsufficientStock(productID string, requested, available int64) *InsufficientStockError {
	return &InsufficientStockError{
		ProductID: productID,
		Requested: requested,
		Available: available,
	}
}

// Shortfall возвращает, скольких единиц не хватило.
func (e *InsufficientStockError) Shortfall() int64 {
	if e.Requested <= e.Available {
		return 0
	}
	return e.Requested - e.Available
}

func (e *InsufficientStockError) Error() string {
	if e.StockRecordID != "" {
		return fmt.Sprintf(
			"insufficient stock for product %s in stock record %s: available %d, requested %d",
			e.ProductID, e.StockRecordID, e.Available, e.Requested,
		)
	}
	return fmt.Sprintf(
		"insufficient stock for product %s: available %d, requested %d",
		e.ProductID, e.Available, e.Requested,
	)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// IsVersionConflict проверяет, является ли ошибка конфликтом конкурентного изменения.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// AsInsufficientStock извлекает детали нехватки остатка, если они есть.
func AsInsufficientStock(err error) (*InsufficientStockError, bool) {
	var target *InsufficientStockError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsIdempotencyConflict проверяет, связана ли ошибка с повторным использованием ключа.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
