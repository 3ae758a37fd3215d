package orders

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/metrics"
	"github.com/vladislavdragonenkov/ims/internal/service/stock"
	"github.com/vladislavdragonenkov/ims/internal/storage/memory"
)

type env struct {
	store  *memory.Store
	ledger *stock.Ledger
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{store: memory.NewStore(), ledger: stock.NewLedger(nil)}
	require.NoError(t, e.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Customers().Create(ctx, domain.Customer{ID: "c-1", FullName: "Ann"}); err != nil {
			return err
		}
		for _, p := range []domain.Product{
			{ID: "p-1", Name: "Widget", SKU: "W-1", UnitPrice: decimal.RequireFromString("10.00")},
			{ID: "p-2", Name: "Gadget", SKU: "G-1", UnitPrice: decimal.RequireFromString("19.99")},
		} {
			if err := tx.Products().Create(ctx, p); err != nil {
				return err
			}
		}
		for _, id := range []string{"w-1", "w-2", "w-3"} {
			if err := tx.Warehouses().Create(ctx, domain.Warehouse{ID: id, Name: id}); err != nil {
				return err
			}
		}
		return nil
	}))
	return e
}

func (e *env) coordinator(opts ...Option) *Coordinator {
	opts = append([]Option{WithMetrics(metrics.NewInventoryMetricsWithRegisterer(prometheus.NewRegistry()))}, opts...)
	return NewCoordinator(e.store, e.ledger, opts...)
}

func (e *env) open(t *testing.T, productID, warehouseID string, qty int64) domain.StockRecord {
	t.Helper()

	var rec domain.StockRecord
	require.NoError(t, e.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		rec, err = e.ledger.Open(ctx, tx, productID, warehouseID, qty)
		return err
	}))
	return rec
}

func (e *env) qty(t *testing.T, id string) int64 {
	t.Helper()

	var rec domain.StockRecord
	require.NoError(t, e.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		rec, err = tx.Stock().Get(ctx, id)
		return err
	}))
	return rec.Quantity
}

func (e *env) total(t *testing.T, productID string) int64 {
	t.Helper()

	var total int64
	require.NoError(t, e.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		total, err = tx.Stock().TotalForProduct(ctx, productID)
		return err
	}))
	return total
}

func (e *env) events(t *testing.T) []domain.OutboxMessage {
	t.Helper()

	msgs, err := e.store.Outbox().PullPending(context.Background(), 100)
	require.NoError(t, err)
	return msgs
}

func orderFor(lines ...LineInput) CreateOrderCommand {
	return CreateOrderCommand{CustomerID: "c-1", PaymentMethod: "Card", Lines: lines}
}

func TestCreateOrder_MultiWarehouseFIFO(t *testing.T) {
	e := newEnv(t)
	w1 := e.open(t, "p-1", "w-1", 4)
	w2 := e.open(t, "p-1", "w-2", 10)

	order, err := e.coordinator().CreateOrder(context.Background(), orderFor(LineInput{ProductID: "p-1", Quantity: 6}))
	require.NoError(t, err)

	require.Equal(t, domain.OrderStatusPending, order.Status)
	require.Equal(t, "60.00", order.TotalAmount.StringFixed(2))
	require.Len(t, order.Lines, 1)
	require.Equal(t, "60.00", order.Lines[0].Subtotal.StringFixed(2))
	require.Equal(t, []domain.LineAllocation{
		{OrderLineID: order.Lines[0].ID, StockRecordID: w1.ID, WarehouseID: "w-1", Quantity: 4},
		{OrderLineID: order.Lines[0].ID, StockRecordID: w2.ID, WarehouseID: "w-2", Quantity: 2},
	}, order.Lines[0].Allocations)

	require.Equal(t, int64(0), e.qty(t, w1.ID))
	require.Equal(t, int64(8), e.qty(t, w2.ID))

	stored, err := e.coordinator().Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.True(t, stored.TotalAmount.Equal(order.TotalAmount))
	require.Len(t, stored.Lines[0].Allocations, 2)

	events := e.events(t)
	require.Len(t, events, 1)
	require.Equal(t, domain.EventOrderCreated, events[0].EventType)

	var payload domain.OrderEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	require.Equal(t, "60.00", payload.TotalAmount)
}

func TestCreateOrder_TotalIsSumOfSubtotals(t *testing.T) {
	e := newEnv(t)
	e.open(t, "p-1", "w-1", 10)
	e.open(t, "p-2", "w-1", 10)

	order, err := e.coordinator().CreateOrder(context.Background(), orderFor(
		LineInput{ProductID: "p-1", Quantity: 2},
		LineInput{ProductID: "p-2", Quantity: 3},
	))
	require.NoError(t, err)

	require.Equal(t, "59.97", order.Lines[1].Subtotal.StringFixed(2))
	require.Equal(t, "79.97", order.TotalAmount.StringFixed(2))
	require.Empty(t, order.ValidateInvariants())
}

func TestCreateOrder_AllOrNothing(t *testing.T) {
	for _, precheck := range []bool{true, false} {
		e := newEnv(t)
		first := e.open(t, "p-1", "w-1", 5)
		second := e.open(t, "p-2", "w-1", 1)

		_, err := e.coordinator(WithStockPrecheck(precheck)).CreateOrder(context.Background(), orderFor(
			LineInput{ProductID: "p-1", Quantity: 5},
			LineInput{ProductID: "p-2", Quantity: 2},
		))
		require.ErrorIs(t, err, domain.ErrInsufficientStock)

		details, ok := domain.AsInsufficientStock(err)
		require.True(t, ok)
		require.Equal(t, "p-2", details.ProductID)
		require.Equal(t, int64(2), details.Requested)
		require.Equal(t, int64(1), details.Available)

		require.Equal(t, int64(5), e.qty(t, first.ID), "first line deduction must be rolled back")
		require.Equal(t, int64(1), e.qty(t, second.ID))

		orders, err := e.coordinator().List(context.Background(), domain.OrderFilter{})
		require.NoError(t, err)
		require.Empty(t, orders)
		require.Empty(t, e.events(t))
	}
}

func TestCreateOrder_Validation(t *testing.T) {
	e := newEnv(t)
	e.open(t, "p-1", "w-1", 5)
	c := e.coordinator()
	ctx := context.Background()

	tests := []struct {
		name string
		cmd  CreateOrderCommand
		want error
	}{
		{name: "no lines", cmd: orderFor(), want: domain.ErrLinesRequired},
		{name: "zero quantity", cmd: orderFor(LineInput{ProductID: "p-1"}), want: domain.ErrLineQtyInvalid},
		{
			name: "no payment method",
			cmd:  CreateOrderCommand{CustomerID: "c-1", Lines: []LineInput{{ProductID: "p-1", Quantity: 1}}},
			want: domain.ErrPaymentMethodRequired,
		},
		{
			name: "unknown customer",
			cmd:  CreateOrderCommand{CustomerID: "c-404", PaymentMethod: "Cash", Lines: []LineInput{{ProductID: "p-1", Quantity: 1}}},
			want: domain.ErrCustomerNotFound,
		},
		{name: "unknown product", cmd: orderFor(LineInput{ProductID: "p-404", Quantity: 1}), want: domain.ErrProductNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.CreateOrder(ctx, tt.cmd)
			require.ErrorIs(t, err, tt.want)
		})
	}

	require.Equal(t, int64(5), e.total(t, "p-1"))
}

func TestCreateOrder_ConcurrentOrdersNeverOversell(t *testing.T) {
	e := newEnv(t)
	e.open(t, "p-1", "w-1", 4)
	e.open(t, "p-1", "w-2", 6)
	c := e.coordinator()

	var placed, rejected atomic.Int32
	g := new(errgroup.Group)
	for i := 0; i < 25; i++ {
		g.Go(func() error {
			_, err := c.CreateOrder(context.Background(), orderFor(LineInput{ProductID: "p-1", Quantity: 1}))
			switch {
			case err == nil:
				placed.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, int32(10), placed.Load())
	require.Equal(t, int32(15), rejected.Load())
	require.Equal(t, int64(0), e.total(t, "p-1"))
}

func TestCreateOrder_UsesClockAndOrderDate(t *testing.T) {
	e := newEnv(t)
	e.open(t, "p-1", "w-1", 5)

	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	orderDate := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)
	c := e.coordinator(WithClock(func() time.Time { return fixed }))

	cmd := orderFor(LineInput{ProductID: "p-1", Quantity: 1})
	cmd.OrderDate = orderDate
	cmd.UserID = " u-1 "
	order, err := c.CreateOrder(context.Background(), cmd)
	require.NoError(t, err)

	require.Equal(t, fixed, order.CreatedAt)
	require.Equal(t, orderDate, order.OrderDate)
	require.Equal(t, "u-1", order.UserID)
}
