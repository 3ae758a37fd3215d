package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

// Allocator списывает товар с нескольких складов в порядке поступления (FIFO).
type Allocator struct {
	ledger *Ledger
}

// NewAllocator создаёт аллокатор поверх журнала остатков.
func NewAllocator(ledger *Ledger) *Allocator {
	return &Allocator{ledger: ledger}
}

// Allocate снимает required единиц товара с записей с quantity > 0,
// начиная с самой ранней. При нехватке все уже сделанные списания
// возвращаются и результатом становится *domain.InsufficientStockError.
func (a *Allocator) Allocate(ctx context.Context, tx domain.Tx, productID string, required int64, reference string) ([]domain.Allocation, error) {
	if required <= 0 {
		return nil, domain.ErrLineQtyInvalid
	}

	records, err := tx.Stock().ListAvailableForUpdate(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list available stock: %w", err)
	}

	remaining := required
	allocations := make([]domain.Allocation, 0, len(records))
	for _, rec := range records {
		if remaining == 0 {
			break
		}

		take := min(rec.Quantity, remaining)
		if take <= 0 {
			continue
		}

		if _, err := a.ledger.Adjust(ctx, tx, rec.ID, -take, Movement{
			Kind:      domain.MovementOrderAllocation,
			Reference: reference,
		}); err != nil {
			if _, short := domain.AsInsufficientStock(err); short {
				// запись опустошил конкурентный потребитель
				return nil, a.fail(ctx, tx, productID, required, reference, allocations)
			}
			return nil, errors.Join(err, a.compensate(ctx, tx, reference, allocations))
		}

		allocations = append(allocations, domain.Allocation{
			StockRecordID: rec.ID,
			WarehouseID:   rec.WarehouseID,
			Quantity:      take,
		})
		remaining -= take
	}

	if remaining > 0 {
		return nil, a.fail(ctx, tx, productID, required, reference, allocations)
	}

	return allocations, nil
}

func (a *Allocator) fail(ctx context.Context, tx domain.Tx, productID string, required int64, reference string, done []domain.Allocation) error {
	if err := a.compensate(ctx, tx, reference, done); err != nil {
		return err
	}

	var available int64
	for _, alloc := range done {
		available += alloc.Quantity
	}
	if total, err := a.ledger.TotalForProduct(ctx, tx, productID); err == nil {
		available = total
	}

	return domain.NewInsufficientStock(productID, required, available)
}

// compensate возвращает уже списанные количества на исходные записи.
func (a *Allocator) compensate(ctx context.Context, tx domain.Tx, reference string, done []domain.Allocation) error {
	for i := len(done) - 1; i >= 0; i-- {
		alloc := done[i]
		if _, err := a.ledger.Adjust(ctx, tx, alloc.StockRecordID, alloc.Quantity, Movement{
			Kind:      domain.MovementOrderAllocationRollback,
			Reference: reference,
		}); err != nil {
			return fmt.Errorf("compensate allocation on %s: %w", alloc.StockRecordID, err)
		}
	}
	return nil
}
