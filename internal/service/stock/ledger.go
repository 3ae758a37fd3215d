// Package stock содержит операции над остатками: журнал изменений (Ledger),
// FIFO-аллокатор и сервис ручных операций и перемещений.
package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

// Movement описывает причину изменения остатка для журнала движений.
type Movement struct {
	Kind      domain.MovementKind
	Reference string
	Reason    string
}

// Ledger — единственный путь изменения количества в StockRecord.
// Каждое успешное изменение записывает StockMovement в той же транзакции.
type Ledger struct {
	now func() time.Time
}

// NewLedger создаёт журнал остатков. clock может быть nil.
func NewLedger(clock func() time.Time) *Ledger {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{now: clock}
}

// Adjust атомарно применяет quantity += delta. При нехватке возвращает
// *domain.InsufficientStockError и оставляет запись без изменений.
func (l *Ledger) Adjust(ctx context.Context, tx domain.Tx, stockRecordID string, delta int64, m Movement) (domain.StockRecord, error) {
	at := l.now()

	rec, err := tx.Stock().Adjust(ctx, stockRecordID, delta, at)
	if err != nil {
		return domain.StockRecord{}, err
	}
	if err := l.record(ctx, tx, rec, delta, m, at); err != nil {
		return domain.StockRecord{}, err
	}
	return rec, nil
}

// SetExact устанавливает точное количество.
func (l *Ledger) SetExact(ctx context.Context, tx domain.Tx, stockRecordID string, quantity int64, m Movement) (domain.StockRecord, error) {
	if quantity < 0 {
		return domain.StockRecord{}, domain.ErrInvalidQuantity
	}

	current, err := tx.Stock().GetForUpdate(ctx, stockRecordID)
	if err != nil {
		return domain.StockRecord{}, err
	}

	at := l.now()
	rec, err := tx.Stock().SetQuantity(ctx, stockRecordID, quantity, at)
	if err != nil {
		return domain.StockRecord{}, err
	}
	if err := l.record(ctx, tx, rec, quantity-current.Quantity, m, at); err != nil {
		return domain.StockRecord{}, err
	}
	return rec, nil
}

// Open создаёт запись остатка с начальным количеством.
// Повтор пары (товар, склад) возвращает domain.ErrDuplicateStockRecord от хранилища.
func (l *Ledger) Open(ctx context.Context, tx domain.Tx, productID, warehouseID string, quantity int64) (domain.StockRecord, error) {
	if quantity < 0 {
		return domain.StockRecord{}, domain.ErrInvalidQuantity
	}

	at := l.now()
	rec := domain.StockRecord{
		ID:          uuid.NewString(),
		ProductID:   productID,
		WarehouseID: warehouseID,
		Quantity:    quantity,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	if err := tx.Stock().Insert(ctx, rec); err != nil {
		return domain.StockRecord{}, err
	}

	stored, err := tx.Stock().Get(ctx, rec.ID)
	if err != nil {
		return domain.StockRecord{}, err
	}
	if err := l.record(ctx, tx, stored, quantity, Movement{Kind: domain.MovementInitial}, at); err != nil {
		return domain.StockRecord{}, err
	}
	return stored, nil
}

// Reassign переносит запись на другую пару (товар, склад) и задаёт количество.
func (l *Ledger) Reassign(ctx context.Context, tx domain.Tx, rec domain.StockRecord, reason string) (domain.StockRecord, error) {
	if rec.Quantity < 0 {
		return domain.StockRecord{}, domain.ErrInvalidQuantity
	}

	current, err := tx.Stock().GetForUpdate(ctx, rec.ID)
	if err != nil {
		return domain.StockRecord{}, err
	}

	at := l.now()
	rec.UpdatedAt = at
	if err := tx.Stock().Update(ctx, rec); err != nil {
		return domain.StockRecord{}, err
	}

	updated, err := tx.Stock().Get(ctx, rec.ID)
	if err != nil {
		return domain.StockRecord{}, err
	}
	m := Movement{Kind: domain.MovementAdjustSet, Reason: reason}
	if err := l.record(ctx, tx, updated, updated.Quantity-current.Quantity, m, at); err != nil {
		return domain.StockRecord{}, err
	}
	return updated, nil
}

// FindOrCreate возвращает запись для пары (товар, склад), создавая её с нулевым
// количеством при отсутствии. Гонка двух вставок разрешается уникальным ключом.
func (l *Ledger) FindOrCreate(ctx context.Context, tx domain.Tx, productID, warehouseID string) (domain.StockRecord, bool, error) {
	at := l.now()
	rec, created, err := tx.Stock().InsertIfAbsent(ctx, domain.StockRecord{
		ID:          uuid.NewString(),
		ProductID:   productID,
		WarehouseID: warehouseID,
		CreatedAt:   at,
		UpdatedAt:   at,
	})
	if err != nil {
		return domain.StockRecord{}, false, err
	}
	return rec, created, nil
}

// TotalForProduct возвращает суммарный остаток товара по всем складам.
// Значение не блокирует записи и годится только для предварительной проверки.
func (l *Ledger) TotalForProduct(ctx context.Context, tx domain.Tx, productID string) (int64, error) {
	return tx.Stock().TotalForProduct(ctx, productID)
}

func (l *Ledger) record(ctx context.Context, tx domain.Tx, rec domain.StockRecord, delta int64, m Movement, at time.Time) error {
	err := tx.Movements().Append(ctx, domain.StockMovement{
		ID:            uuid.NewString(),
		StockRecordID: rec.ID,
		ProductID:     rec.ProductID,
		WarehouseID:   rec.WarehouseID,
		Delta:         delta,
		QuantityAfter: rec.Quantity,
		Kind:          m.Kind,
		Reference:     m.Reference,
		Reason:        m.Reason,
		OccurredAt:    at,
	})
	if err != nil {
		return fmt.Errorf("append %s movement: %w", m.Kind, err)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
