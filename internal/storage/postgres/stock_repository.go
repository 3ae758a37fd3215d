package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

const (
	stockColumns = `id, product_id, warehouse_id, quantity, created_at, updated_at`

	constraintStockProductFK   = "stock_records_product_id_fkey"
	constraintStockWarehouseFK = "stock_records_warehouse_id_fkey"
)

type stockRepository struct {
	q querier
}

func (r *stockRepository) Get(ctx context.Context, id string) (domain.StockRecord, error) {
	return r.getOne(ctx, "select stock record", `SELECT `+stockColumns+` FROM stock_records WHERE id = $1`, id)
}

func (r *stockRepository) GetForUpdate(ctx context.Context, id string) (domain.StockRecord, error) {
	return r.getOne(ctx, "lock stock record", `SELECT `+stockColumns+` FROM stock_records WHERE id = $1 FOR UPDATE`, id)
}

func (r *stockRepository) FindByPairForUpdate(ctx context.Context, productID, warehouseID string) (domain.StockRecord, error) {
	return r.getOne(ctx, "lock stock record by pair", `
		SELECT `+stockColumns+`
		FROM stock_records
		WHERE product_id = $1 AND warehouse_id = $2
		FOR UPDATE
	`, productID, warehouseID)
}

func (r *stockRepository) Insert(ctx context.Context, rec domain.StockRecord) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO stock_records (`+stockColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, rec.ID, rec.ProductID, rec.WarehouseID, rec.Quantity, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return stockWriteError("insert stock record", err)
	}
	return nil
}

// InsertIfAbsent опирается на уникальный индекс (product_id, warehouse_id):
// параллельные вызовы для одной пары не создают дублей.
func (r *stockRepository) InsertIfAbsent(ctx context.Context, rec domain.StockRecord) (domain.StockRecord, bool, error) {
	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	created, err := scanStockRecord(r.q.QueryRowContext(queryCtx, `
		INSERT INTO stock_records (`+stockColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (product_id, warehouse_id) DO NOTHING
		RETURNING `+stockColumns,
		rec.ID, rec.ProductID, rec.WarehouseID, rec.Quantity, rec.CreatedAt, rec.UpdatedAt,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.StockRecord{}, false, stockWriteError("insert stock record if absent", err)
	}

	existing, err := r.FindByPairForUpdate(ctx, rec.ProductID, rec.WarehouseID)
	if err != nil {
		return domain.StockRecord{}, false, err
	}
	return existing, false, nil
}

// Adjust проверяет неотрицательность и применяет дельту одним UPDATE,
// поэтому два конкурентных списания не могут пройти по устаревшему значению.
func (r *stockRepository) Adjust(ctx context.Context, id string, delta int64, at time.Time) (domain.StockRecord, error) {
	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rec, err := scanStockRecord(r.q.QueryRowContext(queryCtx, `
		UPDATE stock_records
		SET quantity = quantity + $2,
		    updated_at = $3
		WHERE id = $1
		  AND quantity + $2 >= 0
		RETURNING `+stockColumns,
		id, delta, at,
	))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.StockRecord{}, classifyError("adjust stock record", err)
	}

	current, getErr := r.Get(ctx, id)
	if getErr != nil {
		return domain.StockRecord{}, getErr
	}
	return domain.StockRecord{}, &domain.InsufficientStockError{
		ProductID:     current.ProductID,
		StockRecordID: current.ID,
		Requested:     -delta,
		Available:     current.Quantity,
	}
}

func (r *stockRepository) SetQuantity(ctx context.Context, id string, quantity int64, at time.Time) (domain.StockRecord, error) {
	if quantity < 0 {
		return domain.StockRecord{}, domain.ErrInvalidQuantity
	}

	return r.getOne(ctx, "set stock quantity", `
		UPDATE stock_records
		SET quantity = $2,
		    updated_at = $3
		WHERE id = $1
		RETURNING `+stockColumns,
		id, quantity, at,
	)
}

func (r *stockRepository) Update(ctx context.Context, rec domain.StockRecord) error {
	if rec.Quantity < 0 {
		return domain.ErrInvalidQuantity
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE stock_records
		SET product_id = $2,
		    warehouse_id = $3,
		    quantity = $4,
		    updated_at = $5
		WHERE id = $1
	`, rec.ID, rec.ProductID, rec.WarehouseID, rec.Quantity, rec.UpdatedAt)
	if err != nil {
		return stockWriteError("update stock record", err)
	}
	return requireAffected(res, domain.ErrStockRecordNotFound)
}

func (r *stockRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.q.ExecContext(ctx, `DELETE FROM stock_records WHERE id = $1`, id); err != nil {
		return classifyError("delete stock record", err)
	}
	return nil
}

func (r *stockRepository) ListAvailableForUpdate(ctx context.Context, productID string) ([]domain.StockRecord, error) {
	return r.list(ctx, "list available stock", `
		SELECT `+stockColumns+`
		FROM stock_records
		WHERE product_id = $1
		  AND quantity > 0
		ORDER BY created_at ASC, id ASC
		FOR UPDATE
	`, productID)
}

func (r *stockRepository) EarliestForProduct(ctx context.Context, productID string) (domain.StockRecord, error) {
	return r.getOne(ctx, "select earliest stock record", `
		SELECT `+stockColumns+`
		FROM stock_records
		WHERE product_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT 1
		FOR UPDATE
	`, productID)
}

func (r *stockRepository) TotalForProduct(ctx context.Context, productID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var total int64
	if err := r.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM stock_records
		WHERE product_id = $1
	`, productID).Scan(&total); err != nil {
		return 0, classifyError("sum stock for product", err)
	}
	return total, nil
}

func (r *stockRepository) List(ctx context.Context, filter domain.StockFilter) ([]domain.StockRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.ProductID != "" {
		args = append(args, filter.ProductID)
		where = append(where, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if filter.WarehouseID != "" {
		args = append(args, filter.WarehouseID)
		where = append(where, fmt.Sprintf("warehouse_id = $%d", len(args)))
	}
	if filter.LowStockThreshold > 0 {
		args = append(args, filter.LowStockThreshold)
		where = append(where, fmt.Sprintf("quantity <= $%d", len(args)))
	}

	query := `SELECT ` + stockColumns + ` FROM stock_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	return r.list(ctx, "list stock records", withLimit(query, filter.Limit), args...)
}

func (r *stockRepository) ExistsForProduct(ctx context.Context, productID string) (bool, error) {
	return exists(ctx, r.q, "check stock for product",
		`SELECT EXISTS (SELECT 1 FROM stock_records WHERE product_id = $1)`, productID)
}

func (r *stockRepository) ExistsForWarehouse(ctx context.Context, warehouseID string) (bool, error) {
	return exists(ctx, r.q, "check stock for warehouse",
		`SELECT EXISTS (SELECT 1 FROM stock_records WHERE warehouse_id = $1)`, warehouseID)
}

func (r *stockRepository) getOne(ctx context.Context, op, query string, args ...any) (domain.StockRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rec, err := scanStockRecord(r.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockRecord{}, domain.ErrStockRecordNotFound
		}
		return domain.StockRecord{}, classifyError(op, err)
	}
	return rec, nil
}

func (r *stockRepository) list(ctx context.Context, op, query string, args ...any) ([]domain.StockRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(op, err)
	}
	defer rows.Close()

	records := make([]domain.StockRecord, 0)
	for rows.Next() {
		rec, err := scanStockRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stock record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock records: %w", err)
	}
	return records, nil
}

func scanStockRecord(row rowScanner) (domain.StockRecord, error) {
	var rec domain.StockRecord
	err := row.Scan(&rec.ID, &rec.ProductID, &rec.WarehouseID, &rec.Quantity, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

// stockWriteError переводит нарушения ограничений stock_records в ошибки домена.
func stockWriteError(op string, err error) error {
	if pgErr, ok := pgError(err); ok && pgErr.Code == codeForeignKeyViolation {
		switch pgErr.ConstraintName {
		case constraintStockProductFK:
			return domain.ErrProductNotFound
		case constraintStockWarehouseFK:
			return domain.ErrWarehouseNotFound
		}
	}
	return classifyError(op, err)
}

func exists(ctx context.Context, q querier, op, query string, args ...any) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var found bool
	if err := q.QueryRowContext(ctx, query, args...).Scan(&found); err != nil {
		return false, classifyError(op, err)
	}
	return found, nil
}

var _ domain.StockRepository = (*stockRepository)(nil)
