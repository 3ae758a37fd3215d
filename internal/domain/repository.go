package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ProductRepository описывает хранилище товаров.
type ProductRepository interface {
	// Create возвращает ErrDuplicateSKU, если SKU уже занят.
	Create(ctx context.Context, product Product) error
	Get(ctx context.Context, id string) (Product, error)
	List(ctx context.Context, filter ProductFilter) ([]Product, error)
	Update(ctx context.Context, product Product) error
	Delete(ctx context.Context, id string) error
}

// WarehouseRepository описывает хранилище складов.
type WarehouseRepository interface {
	Create(ctx context.Context, warehouse Warehouse) error
	Get(ctx context.Context, id string) (Warehouse, error)
	List(ctx context.Context, limit int) ([]Warehouse, error)
	Update(ctx context.Context, warehouse Warehouse) error
	Delete(ctx context.Context, id string) error
}

// CustomerRepository описывает хранилище покупателей.
type CustomerRepository interface {
	Create(ctx context.Context, customer Customer) error
	Get(ctx context.Context, id string) (Customer, error)
	List(ctx context.Context, limit int) ([]Customer, error)
	Update(ctx context.Context, customer Customer) error
	Delete(ctx context.Context, id string) error
}

// StockRepository — единственный путь изменения StockRecord.Quantity.
type StockRepository interface {
	Get(ctx context.Context, id string) (StockRecord, error)
	// GetForUpdate блокирует запись до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (StockRecord, error)
	// FindByPairForUpdate возвращает ErrStockRecordNotFound, если пары нет.
	FindByPairForUpdate(ctx context.Context, productID, warehouseID string) (StockRecord, error)
	// Insert возвращает ErrDuplicateStockRecord, если пара уже существует.
	Insert(ctx context.Context, record StockRecord) error
	// InsertIfAbsent вставляет запись или возвращает уже существующую (заблокированной).
	// created=true, только если строка создана этим вызовом.
	InsertIfAbsent(ctx context.Context, record StockRecord) (result StockRecord, created bool, err error)
	// Adjust атомарно применяет quantity += delta. Если результат был бы
	// отрицательным, возвращает *InsufficientStockError и не меняет запись.
	Adjust(ctx context.Context, id string, delta int64, at time.Time) (StockRecord, error)
	SetQuantity(ctx context.Context, id string, quantity int64, at time.Time) (StockRecord, error)
	// Update меняет пару (товар, склад) и количество записи.
	Update(ctx context.Context, record StockRecord) error
	// Delete не считает отсутствие записи ошибкой.
	Delete(ctx context.Context, id string) error
	// ListAvailableForUpdate возвращает записи товара с quantity > 0
	// в порядке created_at ASC, id ASC и блокирует их.
	ListAvailableForUpdate(ctx context.Context, productID string) ([]StockRecord, error)
	// EarliestForProduct возвращает самую раннюю запись товара независимо от количества.
	EarliestForProduct(ctx context.Context, productID string) (StockRecord, error)
	TotalForProduct(ctx context.Context, productID string) (int64, error)
	List(ctx context.Context, filter StockFilter) ([]StockRecord, error)
	ExistsForProduct(ctx context.Context, productID string) (bool, error)
	ExistsForWarehouse(ctx context.Context, warehouseID string) (bool, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет строку заказа без позиций.
	Create(ctx context.Context, order Order) error
	// InsertLine сохраняет позицию вместе с её аллокациями.
	InsertLine(ctx context.Context, line OrderLine) error
	UpdateTotal(ctx context.Context, orderID string, total decimal.Decimal, at time.Time) error
	// Get возвращает заказ с позициями или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// GetForUpdate блокирует строку заказа до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (Order, error)
	// UpdateStatus меняет статус и увеличивает версию. Если версия заказа уже
	// не равна expectedVersion, возвращает ErrOrderVersionConflict.
	UpdateStatus(ctx context.Context, id string, expectedVersion int64, status OrderStatus, at time.Time) (Order, error)
	List(ctx context.Context, filter OrderFilter) ([]Order, error)
	ExistsForCustomer(ctx context.Context, customerID string) (bool, error)
	ExistsForProduct(ctx context.Context, productID string) (bool, error)
}

// MovementRepository хранит журнал движений остатков.
type MovementRepository interface {
	Append(ctx context.Context, movement StockMovement) error
	ListByStockRecord(ctx context.Context, stockRecordID string, limit int) ([]StockMovement, error)
}
