package catalog

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/storage/memory"
)

func TestProductLifecycle(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	product, err := svc.CreateProduct(ctx, ProductInput{
		Name: " Widget ", Category: "tools", UnitPrice: decimal.RequireFromString("9.999"), SKU: "W-1",
	})
	require.NoError(t, err)
	require.Equal(t, "Widget", product.Name)
	require.Equal(t, "10.00", product.UnitPrice.StringFixed(2))

	_, err = svc.CreateProduct(ctx, ProductInput{Name: "Copy", SKU: "W-1"})
	require.ErrorIs(t, err, domain.ErrDuplicateSKU)

	_, err = svc.CreateProduct(ctx, ProductInput{Name: "", SKU: "", UnitPrice: decimal.NewFromInt(-1)})
	require.ErrorIs(t, err, domain.ErrNameRequired)
	require.ErrorIs(t, err, domain.ErrSKURequired)
	require.ErrorIs(t, err, domain.ErrPriceNegative)

	updated, err := svc.UpdateProduct(ctx, product.ID, ProductInput{Name: "Widget Pro", SKU: "W-1", UnitPrice: decimal.RequireFromString("12.50")})
	require.NoError(t, err)
	require.Equal(t, "Widget Pro", updated.Name)
	require.Equal(t, product.CreatedAt, updated.CreatedAt)

	list, err := svc.ListProducts(ctx, domain.ProductFilter{Search: "pro"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = svc.UpdateProduct(ctx, "missing", ProductInput{Name: "x", SKU: "y"})
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	require.NoError(t, svc.DeleteProduct(ctx, product.ID))
	_, err = svc.GetProduct(ctx, product.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteGuards(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	product, err := svc.CreateProduct(ctx, ProductInput{Name: "Widget", SKU: "W-1", UnitPrice: decimal.NewFromInt(5)})
	require.NoError(t, err)
	warehouse, err := svc.CreateWarehouse(ctx, WarehouseInput{Name: "Main", Location: "Riga"})
	require.NoError(t, err)
	customer, err := svc.CreateCustomer(ctx, CustomerInput{FullName: "Ann Lee", Email: "ann@example.com"})
	require.NoError(t, err)

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Stock().Insert(ctx, domain.StockRecord{ID: "r-1", ProductID: product.ID, WarehouseID: warehouse.ID, Quantity: 1}); err != nil {
			return err
		}
		return tx.Orders().Create(ctx, domain.Order{ID: "o-1", CustomerID: customer.ID, Status: domain.OrderStatusPending})
	}))

	require.ErrorIs(t, svc.DeleteProduct(ctx, product.ID), domain.ErrProductInUse)
	require.ErrorIs(t, svc.DeleteWarehouse(ctx, warehouse.ID), domain.ErrWarehouseInUse)
	require.ErrorIs(t, svc.DeleteCustomer(ctx, customer.ID), domain.ErrCustomerInUse)
	require.ErrorIs(t, svc.DeleteCustomer(ctx, customer.ID), domain.ErrInUse)

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Stock().Delete(ctx, "r-1")
	}))
	require.NoError(t, svc.DeleteWarehouse(ctx, warehouse.ID))
	require.ErrorIs(t, svc.DeleteWarehouse(ctx, warehouse.ID), domain.ErrWarehouseNotFound)
}

func TestWarehouseAndCustomerUpdates(t *testing.T) {
	svc := NewService(memory.NewStore(), nil)
	ctx := context.Background()

	_, err := svc.CreateWarehouse(ctx, WarehouseInput{Name: "  "})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	warehouse, err := svc.CreateWarehouse(ctx, WarehouseInput{Name: "Main"})
	require.NoError(t, err)
	warehouse, err = svc.UpdateWarehouse(ctx, warehouse.ID, WarehouseInput{Name: "North", Location: "Oslo"})
	require.NoError(t, err)
	require.Equal(t, "Oslo", warehouse.Location)

	warehouses, err := svc.ListWarehouses(ctx, 0)
	require.NoError(t, err)
	require.Len(t, warehouses, 1)

	_, err = svc.CreateCustomer(ctx, CustomerInput{})
	require.ErrorIs(t, err, domain.ErrNameRequired)

	customer, err := svc.CreateCustomer(ctx, CustomerInput{FullName: "Ann"})
	require.NoError(t, err)
	customer, err = svc.UpdateCustomer(ctx, customer.ID, CustomerInput{FullName: "Ann Lee", Phone: "+100"})
	require.NoError(t, err)
	require.Equal(t, "+100", customer.Phone)

	got, err := svc.GetCustomer(ctx, customer.ID)
	require.NoError(t, err)
	require.Equal(t, "Ann Lee", got.FullName)

	customers, err := svc.ListCustomers(ctx, 10)
	require.NoError(t, err)
	require.Len(t, customers, 1)

	_, err = svc.GetWarehouse(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrWarehouseNotFound)
}
