package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/service/stock"
)

type productView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Category    string    `json:"category,omitempty"`
	UnitPrice   string    `json:"unit_price"`
	SKU         string    `json:"sku"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type warehouseView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type customerView struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type stockRecordView struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"product_id"`
	WarehouseID string    `json:"warehouse_id"`
	Quantity    int64     `json:"quantity"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type movementView struct {
	ID            string    `json:"id"`
	StockRecordID string    `json:"stock_record_id"`
	Delta         int64     `json:"delta"`
	QuantityAfter int64     `json:"quantity_after"`
	Kind          string    `json:"kind"`
	Reference     string    `json:"reference,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type transferView struct {
	TransferID  string          `json:"transfer_id"`
	Source      stockRecordView `json:"source"`
	Destination stockRecordView `json:"destination"`
}

type allocationView struct {
	StockRecordID string `json:"stock_record_id"`
	WarehouseID   string `json:"warehouse_id"`
	Quantity      int64  `json:"quantity"`
}

type orderLineView struct {
	ID          string           `json:"id"`
	ProductID   string           `json:"product_id"`
	Quantity    int64            `json:"quantity"`
	UnitPrice   string           `json:"unit_price"`
	Subtotal    string           `json:"subtotal"`
	Allocations []allocationView `json:"allocations"`
}

type orderView struct {
	ID            string          `json:"id"`
	CustomerID    string          `json:"customer_id"`
	UserID        string          `json:"user_id,omitempty"`
	OrderDate     time.Time       `json:"order_date"`
	TotalAmount   string          `json:"total_amount"`
	PaymentMethod string          `json:"payment_method"`
	OrderStatus   string          `json:"order_status"`
	Version       int64           `json:"version"`
	Items         []orderLineView `json:"items"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(domain.MoneyScale)
}

func toProductView(p domain.Product) productView {
	return productView{
		ID:          p.ID,
		Name:        p.Name,
		Category:    p.Category,
		UnitPrice:   money(p.UnitPrice),
		SKU:         p.SKU,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func toWarehouseView(w domain.Warehouse) warehouseView {
	return warehouseView{ID: w.ID, Name: w.Name, Location: w.Location, CreatedAt: w.CreatedAt, UpdatedAt: w.UpdatedAt}
}

func toCustomerView(c domain.Customer) customerView {
	return customerView{
		ID:        c.ID,
		FullName:  c.FullName,
		Email:     c.Email,
		Phone:     c.Phone,
		Address:   c.Address,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func toStockRecordView(r domain.StockRecord) stockRecordView {
	return stockRecordView{
		ID:          r.ID,
		ProductID:   r.ProductID,
		WarehouseID: r.WarehouseID,
		Quantity:    r.Quantity,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func toMovementView(m domain.StockMovement) movementView {
	return movementView{
		ID:            m.ID,
		StockRecordID: m.StockRecordID,
		Delta:         m.Delta,
		QuantityAfter: m.QuantityAfter,
		Kind:          string(m.Kind),
		Reference:     m.Reference,
		Reason:        m.Reason,
		OccurredAt:    m.OccurredAt,
	}
}

func toTransferView(r stock.TransferResult) transferView {
	return transferView{
		TransferID:  r.TransferID,
		Source:      toStockRecordView(r.Source),
		Destination: toStockRecordView(r.Destination),
	}
}

func toOrderView(o domain.Order) orderView {
	items := make([]orderLineView, 0, len(o.Lines))
	for _, line := range o.Lines {
		allocations := make([]allocationView, 0, len(line.Allocations))
		for _, a := range line.Allocations {
			allocations = append(allocations, allocationView{
				StockRecordID: a.StockRecordID,
				WarehouseID:   a.WarehouseID,
				Quantity:      a.Quantity,
			})
		}
		items = append(items, orderLineView{
			ID:          line.ID,
			ProductID:   line.ProductID,
			Quantity:    line.Quantity,
			UnitPrice:   money(line.UnitPrice),
			Subtotal:    money(line.Subtotal),
			Allocations: allocations,
		})
	}

	return orderView{
		ID:            o.ID,
		CustomerID:    o.CustomerID,
		UserID:        o.UserID,
		OrderDate:     o.OrderDate,
		TotalAmount:   money(o.TotalAmount),
		PaymentMethod: o.PaymentMethod,
		OrderStatus:   string(o.Status),
		Version:       o.Version,
		Items:         items,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

func mapSlice[T, V any](items []T, fn func(T) V) []V {
	result := make([]V, 0, len(items))
	for _, item := range items {
		result = append(result, fn(item))
	}
	return result
}
