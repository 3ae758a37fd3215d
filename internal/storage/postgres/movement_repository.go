package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

type movementRepository struct {
	q querier
}

func (r *movementRepository) Append(ctx context.Context, m domain.StockMovement) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO stock_movements (
			id, stock_record_id, product_id, warehouse_id, delta, quantity_after,
			kind, reference, reason, occurred_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		m.ID, m.StockRecordID, m.ProductID, m.WarehouseID, m.Delta, m.QuantityAfter,
		string(m.Kind), m.Reference, m.Reason, m.OccurredAt,
	)
	if err != nil {
		return classifyError("append stock movement", err)
	}
	return nil
}

func (r *movementRepository) ListByStockRecord(ctx context.Context, stockRecordID string, limit int) ([]domain.StockMovement, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, withLimit(`
		SELECT id, stock_record_id, product_id, warehouse_id, delta, quantity_after,
		       kind, reference, reason, occurred_at
		FROM stock_movements
		WHERE stock_record_id = $1
		ORDER BY occurred_at DESC, id DESC
	`, limit), stockRecordID)
	if err != nil {
		return nil, classifyError("list stock movements", err)
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0)
	for rows.Next() {
		var (
			m    domain.StockMovement
			kind string
		)
		if err := rows.Scan(
			&m.ID, &m.StockRecordID, &m.ProductID, &m.WarehouseID, &m.Delta, &m.QuantityAfter,
			&kind, &m.Reference, &m.Reason, &m.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("scan stock movement: %w", err)
		}
		m.Kind = domain.MovementKind(kind)
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock movements: %w", err)
	}
	return movements, nil
}

var _ domain.MovementRepository = (*movementRepository)(nil)
