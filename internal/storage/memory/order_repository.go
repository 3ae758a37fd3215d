package memory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

type orderRepository struct {
	st *state
}

func (r *orderRepository) Create(_ context.Context, order domain.Order) error {
	if _, exists := r.st.orders[order.ID]; exists {
		return domain.ErrDuplicateRecord
	}
	if _, ok := r.st.customers[order.CustomerID]; !ok {
		return domain.ErrCustomerNotFound
	}

	order.Lines = nil
	r.st.orders[order.ID] = order
	return nil
}

func (r *orderRepository) InsertLine(_ context.Context, line domain.OrderLine) error {
	order, ok := r.st.orders[line.OrderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if _, ok := r.st.products[line.ProductID]; !ok {
		return domain.ErrProductNotFound
	}

	line.Allocations = append([]domain.LineAllocation(nil), line.Allocations...)
	for i := range line.Allocations {
		line.Allocations[i].OrderLineID = line.ID
	}
	order.Lines = append(order.Lines, line)
	r.st.orders[order.ID] = order
	return nil
}

func (r *orderRepository) UpdateTotal(_ context.Context, orderID string, total decimal.Decimal, at time.Time) error {
	order, ok := r.st.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.TotalAmount = total
	order.UpdatedAt = at
	r.st.orders[orderID] = order
	return nil
}

func (r *orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	order, ok := r.st.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (r *orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.Get(ctx, id)
}

func (r *orderRepository) UpdateStatus(_ context.Context, id string, expectedVersion int64, status domain.OrderStatus, at time.Time) (domain.Order, error) {
	order, ok := r.st.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if order.Version != expectedVersion {
		return domain.Order{}, domain.ErrOrderVersionConflict
	}
	order.Status = status
	order.Version++
	order.UpdatedAt = at
	r.st.orders[id] = order
	return cloneOrder(order), nil
}

// List возвращает заказы от новых к старым.
func (r *orderRepository) List(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	result := make([]domain.Order, 0, len(r.st.orders))
	for _, order := range r.st.orders {
		if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	return applyLimit(result, filter.Limit), nil
}

func (r *orderRepository) ExistsForCustomer(_ context.Context, customerID string) (bool, error) {
	for _, order := range r.st.orders {
		if order.CustomerID == customerID {
			return true, nil
		}
	}
	return false, nil
}

func (r *orderRepository) ExistsForProduct(_ context.Context, productID string) (bool, error) {
	for _, order := range r.st.orders {
		for _, line := range order.Lines {
			if line.ProductID == productID {
				return true, nil
			}
		}
	}
	return false, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
