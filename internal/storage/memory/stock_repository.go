package memory

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

// stockRepository работает внутри транзакции: блокировка уже удерживается Store.
type stockRepository struct {
	store *Store
	st    *state
}

func (r *stockRepository) Get(_ context.Context, id string) (domain.StockRecord, error) {
	rec, ok := r.st.stock[id]
	if !ok {
		return domain.StockRecord{}, domain.ErrStockRecordNotFound
	}
	return rec, nil
}

func (r *stockRepository) GetForUpdate(ctx context.Context, id string) (domain.StockRecord, error) {
	return r.Get(ctx, id)
}

func (r *stockRepository) FindByPairForUpdate(_ context.Context, productID, warehouseID string) (domain.StockRecord, error) {
	id, ok := r.st.pairs[pairKey{productID: productID, warehouseID: warehouseID}]
	if !ok {
		return domain.StockRecord{}, domain.ErrStockRecordNotFound
	}
	return r.st.stock[id], nil
}

func (r *stockRepository) Insert(_ context.Context, rec domain.StockRecord) error {
	if err := r.checkReferences(rec); err != nil {
		return err
	}
	key := pairKey{productID: rec.ProductID, warehouseID: rec.WarehouseID}
	if _, exists := r.st.pairs[key]; exists {
		return domain.ErrDuplicateStockRecord
	}
	if rec.Quantity < 0 {
		return domain.ErrInvalidQuantity
	}

	rec.CreatedAt = r.store.nextStockCreatedAt(rec.CreatedAt)
	r.st.stock[rec.ID] = rec
	r.st.pairs[key] = rec.ID
	return nil
}

func (r *stockRepository) InsertIfAbsent(ctx context.Context, rec domain.StockRecord) (domain.StockRecord, bool, error) {
	if existing, err := r.FindByPairForUpdate(ctx, rec.ProductID, rec.WarehouseID); err == nil {
		return existing, false, nil
	}
	if err := r.Insert(ctx, rec); err != nil {
		return domain.StockRecord{}, false, err
	}
	return r.st.stock[rec.ID], true, nil
}

func (r *stockRepository) Adjust(_ context.Context, id string, delta int64, at time.Time) (domain.StockRecord, error) {
	rec, ok := r.st.stock[id]
	if !ok {
		return domain.StockRecord{}, domain.ErrStockRecordNotFound
	}
	if delta > 0 && rec.Quantity > math.MaxInt64-delta {
		return domain.StockRecord{}, domain.ErrQuantityOverflow
	}
	if rec.Quantity+delta < 0 {
		return domain.StockRecord{}, &domain.InsufficientStockError{
			ProductID:     rec.ProductID,
			StockRecordID: rec.ID,
			Requested:     -delta,
			Available:     rec.Quantity,
		}
	}

	rec.Quantity += delta
	rec.UpdatedAt = at
	r.st.stock[id] = rec
	return rec, nil
}

func (r *stockRepository) SetQuantity(_ context.Context, id string, quantity int64, at time.Time) (domain.StockRecord, error) {
	if quantity < 0 {
		return domain.StockRecord{}, domain.ErrInvalidQuantity
	}
	rec, ok := r.st.stock[id]
	if !ok {
		return domain.StockRecord{}, domain.ErrStockRecordNotFound
	}

	rec.Quantity = quantity
	rec.UpdatedAt = at
	r.st.stock[id] = rec
	return rec, nil
}

func (r *stockRepository) Update(_ context.Context, rec domain.StockRecord) error {
	if rec.Quantity < 0 {
		return domain.ErrInvalidQuantity
	}
	current, ok := r.st.stock[rec.ID]
	if !ok {
		return domain.ErrStockRecordNotFound
	}
	if err := r.checkReferences(rec); err != nil {
		return err
	}

	oldKey := pairKey{productID: current.ProductID, warehouseID: current.WarehouseID}
	newKey := pairKey{productID: rec.ProductID, warehouseID: rec.WarehouseID}
	if owner, exists := r.st.pairs[newKey]; exists && owner != rec.ID {
		return domain.ErrDuplicateStockRecord
	}

	current.ProductID = rec.ProductID
	current.WarehouseID = rec.WarehouseID
	current.Quantity = rec.Quantity
	current.UpdatedAt = rec.UpdatedAt

	delete(r.st.pairs, oldKey)
	r.st.pairs[newKey] = rec.ID
	r.st.stock[rec.ID] = current
	return nil
}

func (r *stockRepository) Delete(_ context.Context, id string) error {
	rec, ok := r.st.stock[id]
	if !ok {
		return nil
	}
	delete(r.st.pairs, pairKey{productID: rec.ProductID, warehouseID: rec.WarehouseID})
	delete(r.st.stock, id)
	return nil
}

func (r *stockRepository) ListAvailableForUpdate(_ context.Context, productID string) ([]domain.StockRecord, error) {
	result := r.filter(func(rec domain.StockRecord) bool {
		return rec.ProductID == productID && rec.Quantity > 0
	})
	return result, nil
}

func (r *stockRepository) EarliestForProduct(_ context.Context, productID string) (domain.StockRecord, error) {
	result := r.filter(func(rec domain.StockRecord) bool { return rec.ProductID == productID })
	if len(result) == 0 {
		return domain.StockRecord{}, domain.ErrStockRecordNotFound
	}
	return result[0], nil
}

func (r *stockRepository) TotalForProduct(_ context.Context, productID string) (int64, error) {
	var total int64
	for _, rec := range r.st.stock {
		if rec.ProductID == productID {
			total += rec.Quantity
		}
	}
	return total, nil
}

func (r *stockRepository) List(_ context.Context, filter domain.StockFilter) ([]domain.StockRecord, error) {
	result := r.filter(func(rec domain.StockRecord) bool {
		if filter.ProductID != "" && rec.ProductID != filter.ProductID {
			return false
		}
		if filter.WarehouseID != "" && rec.WarehouseID != filter.WarehouseID {
			return false
		}
		if filter.LowStockThreshold > 0 && rec.Quantity > filter.LowStockThreshold {
			return false
		}
		return true
	})
	return applyLimit(result, filter.Limit), nil
}

func (r *stockRepository) ExistsForProduct(_ context.Context, productID string) (bool, error) {
	for _, rec := range r.st.stock {
		if rec.ProductID == productID {
			return true, nil
		}
	}
	return false, nil
}

func (r *stockRepository) ExistsForWarehouse(_ context.Context, warehouseID string) (bool, error) {
	for _, rec := range r.st.stock {
		if rec.WarehouseID == warehouseID {
			return true, nil
		}
	}
	return false, nil
}

// filter возвращает подходящие записи в FIFO-порядке: created_at ASC, id ASC.
func (r *stockRepository) filter(keep func(domain.StockRecord) bool) []domain.StockRecord {
	result := make([]domain.StockRecord, 0)
	for _, rec := range r.st.stock {
		if keep(rec) {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// checkReferences повторяет внешние ключи PostgreSQL.
func (r *stockRepository) checkReferences(rec domain.StockRecord) error {
	if _, ok := r.st.products[rec.ProductID]; !ok {
		return domain.ErrProductNotFound
	}
	if _, ok := r.st.warehouses[rec.WarehouseID]; !ok {
		return domain.ErrWarehouseNotFound
	}
	return nil
}

var _ domain.StockRepository = (*stockRepository)(nil)
