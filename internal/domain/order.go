package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, товар уже списан со склада.
	OrderStatusPending OrderStatus = "Pending"
	// OrderStatusProcessing — заказ собирается.
	OrderStatusProcessing OrderStatus = "Processing"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "Shipped"
	// OrderStatusDelivered — заказ получен покупателем.
	OrderStatusDelivered OrderStatus = "Delivered"
	// OrderStatusCancelled — терминальный статус, остаток возвращён на склад.
	OrderStatusCancelled OrderStatus = "Cancelled"
)

// порядковые номера статусов для проверки движения только вперёд.
var orderStatusRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusProcessing: 1,
	OrderStatusShipped:    2,
	OrderStatusDelivered:  3,
}

// ParseOrderStatus разбирает статус без учёта регистра.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	trimmed := strings.TrimSpace(raw)
	for _, s := range []OrderStatus{
		OrderStatusPending,
		OrderStatusProcessing,
		OrderStatusShipped,
		OrderStatusDelivered,
		OrderStatusCancelled,
	} {
		if strings.EqualFold(string(s), trimmed) {
			return s, nil
		}
	}
	return "", ErrUnknownOrderStatus
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	if s == OrderStatusCancelled {
		return true
	}
	_, ok := orderStatusRank[s]
	return ok
}

// CanTransitionTo проверяет переход from -> to.
// Повтор того же статуса допустим и трактуется вызывающим кодом как no-op.
func (s OrderStatus) CanTransitionTo(next OrderStatus) error {
	if !s.Valid() || !next.Valid() {
		return ErrUnknownOrderStatus
	}
	if s == next {
		return nil
	}
	if s == OrderStatusCancelled {
		return ErrOrderCancelled
	}
	if next == OrderStatusCancelled {
		return nil
	}
	if orderStatusRank[next] < orderStatusRank[s] {
		return ErrStatusBackward
	}
	return nil
}

// LineAllocation фиксирует, сколько единиц позиции списано с конкретной записи остатка.
type LineAllocation struct {
	OrderLineID   string
	StockRecordID string
	WarehouseID   string
	Quantity      int64
}

// OrderLine представляет одну позицию заказа.
type OrderLine struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int64
	// UnitPrice фиксируется в момент оформления и дальше не пересчитывается.
	UnitPrice   decimal.Decimal
	Subtotal    decimal.Decimal
	Allocations []LineAllocation
	CreatedAt   time.Time
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID            string
	CustomerID    string
	UserID        string
	OrderDate     time.Time
	TotalAmount   decimal.Decimal
	PaymentMethod string
	Status        OrderStatus
	Lines         []OrderLine
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LinesTotal суммирует подытоги позиций.
func (o *Order) LinesTotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range o.Lines {
		total = total.Add(line.Subtotal)
	}
	return total
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if strings.TrimSpace(o.PaymentMethod) == "" {
		errs = append(errs, ErrPaymentMethodRequired)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, ErrLinesRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrUnknownOrderStatus)
	}

	for _, line := range o.Lines {
		if line.Quantity <= 0 {
			errs = append(errs, ErrLineQtyInvalid)
		}
		if line.UnitPrice.IsNegative() {
			errs = append(errs, ErrPriceNegative)
		}
		if !line.Subtotal.Equal(LineSubtotal(line.UnitPrice, line.Quantity)) {
			errs = append(errs, ErrTotalMismatch)
		}
	}
	if !o.TotalAmount.Equal(o.LinesTotal()) {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// LineSubtotal считает quantity × unit price с денежной точностью.
func LineSubtotal(unitPrice decimal.Decimal, quantity int64) decimal.Decimal {
	return RoundMoney(unitPrice.Mul(decimal.NewFromInt(quantity)))
}

// OrderFilter ограничивает выборку заказов.
type OrderFilter struct {
	CustomerID string
	Status     OrderStatus
	Limit      int
}
