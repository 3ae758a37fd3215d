package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

type productRepository struct {
	st *state
}

func (r *productRepository) Create(_ context.Context, p domain.Product) error {
	if r.skuTaken(p.SKU, p.ID) {
		return domain.ErrDuplicateSKU
	}
	if _, exists := r.st.products[p.ID]; exists {
		return domain.ErrDuplicateRecord
	}
	r.st.products[p.ID] = p
	return nil
}

func (r *productRepository) Get(_ context.Context, id string) (domain.Product, error) {
	p, ok := r.st.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

func (r *productRepository) List(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	search := strings.ToLower(strings.TrimSpace(filter.Search))

	result := make([]domain.Product, 0, len(r.st.products))
	for _, p := range r.st.products {
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.SKU), search) {
			continue
		}
		result = append(result, p)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})

	return applyLimit(result, filter.Limit), nil
}

func (r *productRepository) Update(_ context.Context, p domain.Product) error {
	if _, ok := r.st.products[p.ID]; !ok {
		return domain.ErrProductNotFound
	}
	if r.skuTaken(p.SKU, p.ID) {
		return domain.ErrDuplicateSKU
	}
	r.st.products[p.ID] = p
	return nil
}

func (r *productRepository) Delete(_ context.Context, id string) error {
	if _, ok := r.st.products[id]; !ok {
		return domain.ErrProductNotFound
	}
	for _, rec := range r.st.stock {
		if rec.ProductID == id {
			return domain.ErrProductInUse
		}
	}
	for _, order := range r.st.orders {
		for _, line := range order.Lines {
			if line.ProductID == id {
				return domain.ErrProductInUse
			}
		}
	}
	delete(r.st.products, id)
	return nil
}

func (r *productRepository) skuTaken(sku, exceptID string) bool {
	for id, p := range r.st.products {
		if id != exceptID && p.SKU == sku {
			return true
		}
	}
	return false
}

type warehouseRepository struct {
	st *state
}

func (r *warehouseRepository) Create(_ context.Context, w domain.Warehouse) error {
	if _, exists := r.st.warehouses[w.ID]; exists {
		return domain.ErrDuplicateRecord
	}
	r.st.warehouses[w.ID] = w
	return nil
}

func (r *warehouseRepository) Get(_ context.Context, id string) (domain.Warehouse, error) {
	w, ok := r.st.warehouses[id]
	if !ok {
		return domain.Warehouse{}, domain.ErrWarehouseNotFound
	}
	return w, nil
}

func (r *warehouseRepository) List(_ context.Context, limit int) ([]domain.Warehouse, error) {
	result := make([]domain.Warehouse, 0, len(r.st.warehouses))
	for _, w := range r.st.warehouses {
		result = append(result, w)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return applyLimit(result, limit), nil
}

func (r *warehouseRepository) Update(_ context.Context, w domain.Warehouse) error {
	if _, ok := r.st.warehouses[w.ID]; !ok {
		return domain.ErrWarehouseNotFound
	}
	r.st.warehouses[w.ID] = w
	return nil
}

func (r *warehouseRepository) Delete(_ context.Context, id string) error {
	if _, ok := r.st.warehouses[id]; !ok {
		return domain.ErrWarehouseNotFound
	}
	for _, rec := range r.st.stock {
		if rec.WarehouseID == id {
			return domain.ErrWarehouseInUse
		}
	}
	delete(r.st.warehouses, id)
	return nil
}

type customerRepository struct {
	st *state
}

func (r *customerRepository) Create(_ context.Context, c domain.Customer) error {
	if _, exists := r.st.customers[c.ID]; exists {
		return domain.ErrDuplicateRecord
	}
	r.st.customers[c.ID] = c
	return nil
}

func (r *customerRepository) Get(_ context.Context, id string) (domain.Customer, error) {
	c, ok := r.st.customers[id]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return c, nil
}

func (r *customerRepository) List(_ context.Context, limit int) ([]domain.Customer, error) {
	result := make([]domain.Customer, 0, len(r.st.customers))
	for _, c := range r.st.customers {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].FullName != result[j].FullName {
			return result[i].FullName < result[j].FullName
		}
		return result[i].ID < result[j].ID
	})
	return applyLimit(result, limit), nil
}

func (r *customerRepository) Update(_ context.Context, c domain.Customer) error {
	if _, ok := r.st.customers[c.ID]; !ok {
		return domain.ErrCustomerNotFound
	}
	r.st.customers[c.ID] = c
	return nil
}

func (r *customerRepository) Delete(_ context.Context, id string) error {
	if _, ok := r.st.customers[id]; !ok {
		return domain.ErrCustomerNotFound
	}
	for _, order := range r.st.orders {
		if order.CustomerID == id {
			return domain.ErrCustomerInUse
		}
	}
	delete(r.st.customers, id)
	return nil
}

var (
	_ domain.ProductRepository   = (*productRepository)(nil)
	_ domain.WarehouseRepository = (*warehouseRepository)(nil)
	_ domain.CustomerRepository  = (*customerRepository)(nil)
)
