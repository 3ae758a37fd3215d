// Package orders оформляет заказы со списанием остатков и управляет их статусами.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/metrics"
	"github.com/vladislavdragonenkov/ims/internal/service/stock"
)

const defaultListLimit = 100

// LineInput — позиция нового заказа.
type LineInput struct {
	ProductID string
	Quantity  int64
}

// CreateOrderCommand — данные для оформления заказа.
type CreateOrderCommand struct {
	CustomerID    string
	UserID        string
	PaymentMethod string
	OrderDate     time.Time
	Lines         []LineInput
}

// Coordinator оформляет заказы и меняет их статусы, каждую операцию в одной транзакции.
type Coordinator struct {
	tx         domain.Transactor
	ledger     *stock.Ledger
	allocator  *stock.Allocator
	restitutor *Restitutor
	logger     *log.Entry
	metrics    *metrics.InventoryMetrics
	now        func() time.Time
	precheck   bool
	policy     RestitutionPolicy
}

// Option настраивает Coordinator.
type Option func(*Coordinator)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics включает запись метрик.
func WithMetrics(m *metrics.InventoryMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithStockPrecheck включает или выключает быструю проверку суммарного остатка
// перед аллокацией позиции.
func WithStockPrecheck(enabled bool) Option {
	return func(c *Coordinator) {
		c.precheck = enabled
	}
}

// WithRestitutionPolicy задаёт политику возврата товара при отмене.
func WithRestitutionPolicy(policy RestitutionPolicy) Option {
	return func(c *Coordinator) {
		if policy != "" {
			c.policy = policy
		}
	}
}

// NewCoordinator создаёт координатор заказов.
func NewCoordinator(tx domain.Transactor, ledger *stock.Ledger, opts ...Option) *Coordinator {
	c := &Coordinator{
		tx:       tx,
		ledger:   ledger,
		logger:   log.New().WithField("component", "orders"),
		now:      func() time.Time { return time.Now().UTC() },
		precheck: true,
		policy:   RestitutionExact,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ledger == nil {
		c.ledger = stock.NewLedger(c.now)
	}
	c.allocator = stock.NewAllocator(c.ledger)
	c.restitutor = NewRestitutor(c.ledger, c.policy, c.logger.WithField("component", "restitution"))
	return c
}

// CreateOrder оформляет заказ: проверяет покупателя и товары, списывает остатки
// FIFO по складам и фиксирует цены. Любая ошибка откатывает всё целиком.
func (c *Coordinator) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (order domain.Order, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveOperation("create_order", err, time.Since(start)) }()

	if err := validateCreate(cmd); err != nil {
		c.metrics.RecordOrderFailed("invalid_input")
		return domain.Order{}, err
	}

	err = c.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Customers().Get(ctx, cmd.CustomerID); err != nil {
			return err
		}

		now := c.now()
		orderDate := cmd.OrderDate
		if orderDate.IsZero() {
			orderDate = now
		}
		order = domain.Order{
			ID:            uuid.NewString(),
			CustomerID:    cmd.CustomerID,
			UserID:        strings.TrimSpace(cmd.UserID),
			OrderDate:     orderDate,
			TotalAmount:   decimal.Zero,
			PaymentMethod: strings.TrimSpace(cmd.PaymentMethod),
			Status:        domain.OrderStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.Orders().Create(ctx, order); err != nil {
			return err
		}

		for _, input := range cmd.Lines {
			line, err := c.placeLine(ctx, tx, order.ID, input, now)
			if err != nil {
				return err
			}
			order.Lines = append(order.Lines, line)
		}

		order.TotalAmount = order.LinesTotal()
		if err := tx.Orders().UpdateTotal(ctx, order.ID, order.TotalAmount, now); err != nil {
			return err
		}
		if errs := order.ValidateInvariants(); len(errs) > 0 {
			return errors.Join(errs...)
		}

		return c.enqueue(ctx, tx, domain.EventOrderCreated, order, "")
	})
	if err != nil {
		c.recordCreateFailure(cmd, err)
		return domain.Order{}, err
	}

	c.metrics.RecordOrderCreated()
	c.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
		"lines":       len(order.Lines),
		"total":       order.TotalAmount.StringFixed(domain.MoneyScale),
	}).Info("order created")

	return order, nil
}

func (c *Coordinator) placeLine(ctx context.Context, tx domain.Tx, orderID string, input LineInput, now time.Time) (domain.OrderLine, error) {
	product, err := tx.Products().Get(ctx, input.ProductID)
	if err != nil {
		return domain.OrderLine{}, err
	}

	if c.precheck {
		total, err := c.ledger.TotalForProduct(ctx, tx, product.ID)
		if err != nil {
			return domain.OrderLine{}, err
		}
		if total < input.Quantity {
			return domain.OrderLine{}, domain.NewInsufficientStock(product.ID, input.Quantity, total)
		}
	}

	allocations, err := c.allocator.Allocate(ctx, tx, product.ID, input.Quantity, orderID)
	if err != nil {
		return domain.OrderLine{}, err
	}

	line := domain.OrderLine{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		ProductID: product.ID,
		Quantity:  input.Quantity,
		UnitPrice: domain.RoundMoney(product.UnitPrice),
		CreatedAt: now,
	}
	line.Subtotal = domain.LineSubtotal(line.UnitPrice, line.Quantity)
	line.Allocations = make([]domain.LineAllocation, 0, len(allocations))
	for _, alloc := range allocations {
		line.Allocations = append(line.Allocations, domain.LineAllocation{
			OrderLineID:   line.ID,
			StockRecordID: alloc.StockRecordID,
			WarehouseID:   alloc.WarehouseID,
			Quantity:      alloc.Quantity,
		})
	}

	if err := tx.Orders().InsertLine(ctx, line); err != nil {
		return domain.OrderLine{}, err
	}
	return line, nil
}

func (c *Coordinator) recordCreateFailure(cmd CreateOrderCommand, err error) {
	entry := c.logger.WithError(err).WithField("customer_id", cmd.CustomerID)

	if short, ok := domain.AsInsufficientStock(err); ok {
		c.metrics.RecordInsufficientStock("create_order")
		c.metrics.RecordOrderFailed("insufficient_stock")
		entry.WithFields(log.Fields{
			"product_id": short.ProductID,
			"requested":  short.Requested,
			"available":  short.Available,
		}).Info("order rejected: insufficient stock")
		return
	}

	c.metrics.RecordOrderFailed(failureReason(err))
	entry.Warn("order creation failed")
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, domain.ErrConcurrentModification):
		return "conflict"
	default:
		return "internal"
	}
}

func validateCreate(cmd CreateOrderCommand) error {
	if strings.TrimSpace(cmd.CustomerID) == "" {
		return domain.ErrCustomerRequired
	}
	if strings.TrimSpace(cmd.PaymentMethod) == "" {
		return domain.ErrPaymentMethodRequired
	}
	if len(cmd.Lines) == 0 {
		return domain.ErrLinesRequired
	}
	for i, line := range cmd.Lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return fmt.Errorf("line %d: %w", i, domain.ErrProductRequired)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("line %d: %w", i, domain.ErrLineQtyInvalid)
		}
	}
	return nil
}

// UpdateStatus переводит заказ в новый статус. Отмена возвращает товар на склад
// в той же транзакции; повторная отмена ничего не меняет.
func (c *Coordinator) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) (order domain.Order, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveOperation("update_status", err, time.Since(start)) }()

	if !status.Valid() {
		return domain.Order{}, domain.ErrUnknownOrderStatus
	}

	var (
		previous domain.OrderStatus
		restored int64
		changed  bool
	)
	err = c.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		current, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := current.Status.CanTransitionTo(status); err != nil {
			return err
		}
		if current.Status == status {
			order = current
			return nil
		}

		previous = current.Status
		if status == domain.OrderStatusCancelled {
			restored, err = c.restitutor.Restitute(ctx, tx, current)
			if err != nil {
				return err
			}
		}

		order, err = tx.Orders().UpdateStatus(ctx, orderID, current.Version, status, c.now())
		if err != nil {
			return err
		}
		changed = true

		eventType := domain.EventOrderStatusChanged
		if status == domain.OrderStatusCancelled {
			eventType = domain.EventOrderCancelled
		}
		return c.enqueue(ctx, tx, eventType, order, previous)
	})
	if err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"status":   status,
		}).Warn("order status update rejected")
		return domain.Order{}, err
	}

	if changed {
		c.metrics.RecordStatusChange(string(status))
		if status == domain.OrderStatusCancelled {
			c.metrics.RecordRestitution(string(c.restitutor.Policy()), restored)
		}
		c.logger.WithFields(log.Fields{
			"order_id": orderID,
			"from":     previous,
			"to":       status,
			"restored": restored,
		}).Info("order status changed")
	}

	return order, nil
}

// Get возвращает заказ с позициями и аллокациями.
func (c *Coordinator) Get(ctx context.Context, orderID string) (order domain.Order, err error) {
	err = c.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err = tx.Orders().Get(ctx, orderID)
		return err
	})
	return order, err
}

// List возвращает заказы по фильтру от новых к старым.
func (c *Coordinator) List(ctx context.Context, filter domain.OrderFilter) (result []domain.Order, err error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.ErrUnknownOrderStatus
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	err = c.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		result, err = tx.Orders().List(ctx, filter)
		return err
	})
	return result, err
}

func (c *Coordinator) enqueue(ctx context.Context, tx domain.Tx, eventType string, order domain.Order, previous domain.OrderStatus) error {
	msg, err := domain.NewOutboxMessage(domain.AggregateOrder, order.ID, eventType, domain.OrderEvent{
		OrderID:        order.ID,
		CustomerID:     order.CustomerID,
		Status:         order.Status,
		PreviousStatus: previous,
		TotalAmount:    order.TotalAmount.StringFixed(domain.MoneyScale),
		OccurredAt:     c.now(),
	})
	if err != nil {
		return err
	}
	if _, err := tx.Outbox().Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return nil
}
