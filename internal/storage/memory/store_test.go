package memory_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/storage/memory"
)

func seed(t *testing.T, store *memory.Store, warehouses ...string) {
	t.Helper()

	now := time.Now().UTC()
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Products().Create(ctx, domain.Product{
			ID: "p-1", Name: "Widget", SKU: "W-1", UnitPrice: decimal.RequireFromString("10.00"),
			CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		if err := tx.Customers().Create(ctx, domain.Customer{ID: "c-1", FullName: "Ann", CreatedAt: now}); err != nil {
			return err
		}
		for _, id := range warehouses {
			if err := tx.Warehouses().Create(ctx, domain.Warehouse{ID: id, Name: id, CreatedAt: now}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func insertStock(t *testing.T, store *memory.Store, id, warehouseID string, qty int64) {
	t.Helper()

	now := time.Now().UTC()
	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.Stock().Insert(ctx, domain.StockRecord{
			ID: id, ProductID: "p-1", WarehouseID: warehouseID, Quantity: qty, CreatedAt: now, UpdatedAt: now,
		})
	}))
}

func stockQty(t *testing.T, store *memory.Store, id string) int64 {
	t.Helper()

	var rec domain.StockRecord
	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		rec, err = tx.Stock().Get(ctx, id)
		return err
	}))
	return rec.Quantity
}

func TestStore_RollbackOnError(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "w-1")
	insertStock(t, store, "r-1", "w-1", 5)

	boom := errors.New("boom")
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Stock().Adjust(ctx, "r-1", -5, time.Now().UTC()); err != nil {
			return err
		}
		if err := tx.Stock().Delete(ctx, "r-1"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, int64(5), stockQty(t, store, "r-1"))
}

func TestStore_RollbackOnPanic(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "w-1")
	insertStock(t, store, "r-1", "w-1", 5)

	require.Panics(t, func() {
		_ = store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
			if _, err := tx.Stock().Adjust(ctx, "r-1", 10, time.Now().UTC()); err != nil {
				return err
			}
			panic("unexpected")
		})
	})
	require.Equal(t, int64(5), stockQty(t, store, "r-1"))
}

func TestStore_CancelledContext(t *testing.T) {
	store := memory.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.WithinTx(ctx, func(context.Context, domain.Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}

func TestStockRepository_AdjustNeverNegative(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "w-1")
	insertStock(t, store, "r-1", "w-1", 3)

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Stock().Adjust(ctx, "r-1", -4, time.Now().UTC())
		return err
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	details, ok := domain.AsInsufficientStock(err)
	require.True(t, ok)
	require.Equal(t, int64(4), details.Requested)
	require.Equal(t, int64(3), details.Available)
	require.Equal(t, int64(3), stockQty(t, store, "r-1"))
}

func TestStockRepository_PairUniqueness(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "w-1", "w-2")
	insertStock(t, store, "r-1", "w-1", 1)
	insertStock(t, store, "r-2", "w-2", 1)

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.Stock().Insert(ctx, domain.StockRecord{ID: "r-3", ProductID: "p-1", WarehouseID: "w-1"})
	})
	require.ErrorIs(t, err, domain.ErrDuplicateStockRecord)

	err = store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.Stock().Update(ctx, domain.StockRecord{ID: "r-2", ProductID: "p-1", WarehouseID: "w-1", Quantity: 1})
	})
	require.ErrorIs(t, err, domain.ErrDuplicateStockRecord)

	err = store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.Stock().Insert(ctx, domain.StockRecord{ID: "r-4", ProductID: "p-1", WarehouseID: "w-missing"})
	})
	require.ErrorIs(t, err, domain.ErrWarehouseNotFound)
}

func TestStockRepository_FIFOOrder(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "w-1", "w-2", "w-3")
	insertStock(t, store, "r-b", "w-2", 4)
	insertStock(t, store, "r-a", "w-1", 10)
	insertStock(t, store, "r-c", "w-3", 0)

	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		available, err := tx.Stock().ListAvailableForUpdate(ctx, "p-1")
		require.NoError(t, err)
		require.Len(t, available, 2)
		require.Equal(t, "r-b", available[0].ID)
		require.Equal(t, "r-a", available[1].ID)

		earliest, err := tx.Stock().EarliestForProduct(ctx, "p-1")
		require.NoError(t, err)
		require.Equal(t, "r-b", earliest.ID)

		total, err := tx.Stock().TotalForProduct(ctx, "p-1")
		require.NoError(t, err)
		require.Equal(t, int64(14), total)

		low, err := tx.Stock().List(ctx, domain.StockFilter{LowStockThreshold: 4})
		require.NoError(t, err)
		require.Len(t, low, 2)
		return nil
	}))
}

func TestStockRepository_ConcurrentInsertIfAbsent(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "w-1")

	var created atomic.Int32
	g := new(errgroup.Group)
	for i := 0; i < 16; i++ {
		id := string(rune('a' + i))
		g.Go(func() error {
			return store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
				_, ok, err := tx.Stock().InsertIfAbsent(ctx, domain.StockRecord{ID: id, ProductID: "p-1", WarehouseID: "w-1"})
				if ok {
					created.Add(1)
				}
				return err
			})
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, int32(1), created.Load())
}

func TestStockRepository_ConcurrentAdjust(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "w-1")
	insertStock(t, store, "r-1", "w-1", 5)

	var succeeded atomic.Int32
	g := new(errgroup.Group)
	for i := 0; i < 12; i++ {
		g.Go(func() error {
			err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
				_, err := tx.Stock().Adjust(ctx, "r-1", -1, time.Now().UTC())
				return err
			})
			if errors.Is(err, domain.ErrInsufficientStock) {
				return nil
			}
			if err == nil {
				succeeded.Add(1)
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, int32(5), succeeded.Load())
	require.Equal(t, int64(0), stockQty(t, store, "r-1"))
}

func TestOrderRepository_LinesAndStatus(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "w-1")
	now := time.Now().UTC()

	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Orders().Create(ctx, domain.Order{
			ID: "o-1", CustomerID: "c-1", PaymentMethod: "Card", Status: domain.OrderStatusPending,
			OrderDate: now, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		if err := tx.Orders().InsertLine(ctx, domain.OrderLine{
			ID: "l-1", OrderID: "o-1", ProductID: "p-1", Quantity: 2,
			UnitPrice:   decimal.RequireFromString("10.00"),
			Subtotal:    decimal.RequireFromString("20.00"),
			Allocations: []domain.LineAllocation{{StockRecordID: "r-1", WarehouseID: "w-1", Quantity: 2}},
		}); err != nil {
			return err
		}
		return tx.Orders().UpdateTotal(ctx, "o-1", decimal.RequireFromString("20.00"), now)
	}))

	var order domain.Order
	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		order, err = tx.Orders().UpdateStatus(ctx, "o-1", 0, domain.OrderStatusProcessing, now)
		return err
	}))
	require.Equal(t, domain.OrderStatusProcessing, order.Status)
	require.Equal(t, int64(1), order.Version)
	require.Len(t, order.Lines, 1)
	require.Equal(t, "l-1", order.Lines[0].Allocations[0].OrderLineID)
	require.True(t, order.TotalAmount.Equal(decimal.RequireFromString("20")))

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.Customers().Delete(ctx, "c-1")
	})
	require.ErrorIs(t, err, domain.ErrCustomerInUse)

	err = store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.Products().Delete(ctx, "p-1")
	})
	require.ErrorIs(t, err, domain.ErrProductInUse)

	err = store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.Orders().Create(ctx, domain.Order{ID: "o-2", CustomerID: "c-missing"})
	})
	require.ErrorIs(t, err, domain.ErrCustomerNotFound)
}

func TestOrderRepository_ReturnedOrderIsDetached(t *testing.T) {
	store := memory.NewStore()
	seed(t, store)
	now := time.Now().UTC()

	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Orders().Create(ctx, domain.Order{ID: "o-1", CustomerID: "c-1", Status: domain.OrderStatusPending, CreatedAt: now}); err != nil {
			return err
		}
		return tx.Orders().InsertLine(ctx, domain.OrderLine{ID: "l-1", OrderID: "o-1", ProductID: "p-1", Quantity: 1})
	}))

	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().Get(ctx, "o-1")
		require.NoError(t, err)
		order.Lines[0].Quantity = 99

		again, err := tx.Orders().Get(ctx, "o-1")
		require.NoError(t, err)
		require.Equal(t, int64(1), again.Lines[0].Quantity)
		return nil
	}))
}

func TestOrderUpdateStatus_RejectsStaleVersion(t *testing.T) {
	store := memory.NewStore()
	seed(t, store)
	now := time.Now().UTC()

	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Orders().Create(ctx, domain.Order{ID: "o-1", CustomerID: "c-1", Status: domain.OrderStatusPending, CreatedAt: now}); err != nil {
			return err
		}
		_, err := tx.Orders().UpdateStatus(ctx, "o-1", 0, domain.OrderStatusProcessing, now)
		return err
	}))

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Orders().UpdateStatus(ctx, "o-1", 0, domain.OrderStatusShipped, now)
		return err
	})
	require.ErrorIs(t, err, domain.ErrOrderVersionConflict)
	require.True(t, domain.IsVersionConflict(err))

	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().Get(ctx, "o-1")
		require.NoError(t, err)
		require.Equal(t, domain.OrderStatusProcessing, order.Status)
		require.Equal(t, int64(1), order.Version)
		return nil
	}))
}
