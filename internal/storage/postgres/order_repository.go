package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

const orderColumns = `id, customer_id, user_id, order_date, total_amount, payment_method, status, version, created_at, updated_at`

type orderRepository struct {
	q querier
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		order.ID, order.CustomerID, nullableString(order.UserID), order.OrderDate,
		order.TotalAmount, order.PaymentMethod, string(order.Status), order.Version,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrCustomerNotFound
		}
		return classifyError("insert order", err)
	}
	return nil
}

func (r *orderRepository) InsertLine(ctx context.Context, line domain.OrderLine) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO order_lines (
			id, order_id, product_id, quantity, unit_price, subtotal, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, line.ID, line.OrderID, line.ProductID, line.Quantity, line.UnitPrice, line.Subtotal, line.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrProductNotFound
		}
		return classifyError("insert order line", err)
	}

	for _, alloc := range line.Allocations {
		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO order_line_allocations (
				order_line_id, stock_record_id, warehouse_id, quantity
			) VALUES ($1,$2,$3,$4)
		`, line.ID, alloc.StockRecordID, alloc.WarehouseID, alloc.Quantity); err != nil {
			return classifyError("insert order line allocation", err)
		}
	}

	return nil
}

func (r *orderRepository) UpdateTotal(ctx context.Context, orderID string, total decimal.Decimal, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE orders SET total_amount = $2, updated_at = $3 WHERE id = $1
	`, orderID, total, at)
	if err != nil {
		return classifyError("update order total", err)
	}
	return requireAffected(res, domain.ErrOrderNotFound)
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.getWithLines(ctx, "select order", `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.getWithLines(ctx, "lock order", `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *orderRepository) UpdateStatus(ctx context.Context, id string, expectedVersion int64, status domain.OrderStatus, at time.Time) (domain.Order, error) {
	order, err := r.getWithLines(ctx, "update order status", `
		UPDATE orders
		SET status = $2,
		    version = version + 1,
		    updated_at = $3
		WHERE id = $1 AND version = $4
		RETURNING `+orderColumns,
		id, string(status), at, expectedVersion,
	)
	if !errors.Is(err, domain.ErrOrderNotFound) {
		return order, err
	}

	// Ноль строк: либо заказа нет, либо версия уже ушла вперёд.
	existsCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var exists bool
	if err := r.q.QueryRowContext(existsCtx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return domain.Order{}, classifyError("check order version", err)
	}
	if exists {
		return domain.Order{}, domain.ErrOrderVersionConflict
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	var (
		where []string
		args  []any
	)
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query = withLimit(query+" ORDER BY created_at DESC, id DESC", filter.Limit)

	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(queryCtx, query, args...)
	if err != nil {
		return nil, classifyError("list orders", err)
	}

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	_ = rows.Close()

	// Позиции читаем после закрытия курсора: в транзакции одно соединение.
	for i := range orders {
		lines, err := r.loadLines(queryCtx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Lines = lines
	}

	return orders, nil
}

func (r *orderRepository) ExistsForCustomer(ctx context.Context, customerID string) (bool, error) {
	return exists(ctx, r.q, "check orders for customer",
		`SELECT EXISTS (SELECT 1 FROM orders WHERE customer_id = $1)`, customerID)
}

func (r *orderRepository) ExistsForProduct(ctx context.Context, productID string) (bool, error) {
	return exists(ctx, r.q, "check order lines for product",
		`SELECT EXISTS (SELECT 1 FROM order_lines WHERE product_id = $1)`, productID)
}

func (r *orderRepository) getWithLines(ctx context.Context, op, query string, args ...any) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, classifyError(op, err)
	}

	lines, err := r.loadLines(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Lines = lines

	return order, nil
}

func (r *orderRepository) loadLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price, subtotal, created_at
		FROM order_lines
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, classifyError("load order lines", err)
	}

	lines := make([]domain.OrderLine, 0)
	index := make(map[string]int)
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(
			&line.ID, &line.OrderID, &line.ProductID, &line.Quantity,
			&line.UnitPrice, &line.Subtotal, &line.CreatedAt,
		); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		index[line.ID] = len(lines)
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}
	_ = rows.Close()

	if len(lines) == 0 {
		return lines, nil
	}

	allocRows, err := r.q.QueryContext(ctx, `
		SELECT a.order_line_id, a.stock_record_id, a.warehouse_id, a.quantity
		FROM order_line_allocations a
		JOIN order_lines l ON l.id = a.order_line_id
		WHERE l.order_id = $1
		ORDER BY a.order_line_id, a.stock_record_id
	`, orderID)
	if err != nil {
		return nil, classifyError("load order line allocations", err)
	}
	defer allocRows.Close()

	for allocRows.Next() {
		var alloc domain.LineAllocation
		if err := allocRows.Scan(&alloc.OrderLineID, &alloc.StockRecordID, &alloc.WarehouseID, &alloc.Quantity); err != nil {
			return nil, fmt.Errorf("scan order line allocation: %w", err)
		}
		if i, ok := index[alloc.OrderLineID]; ok {
			lines[i].Allocations = append(lines[i].Allocations, alloc)
		}
	}
	if err := allocRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order line allocations: %w", err)
	}

	return lines, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		userID sql.NullString
		status string
	)
	err := row.Scan(
		&order.ID, &order.CustomerID, &userID, &order.OrderDate, &order.TotalAmount,
		&order.PaymentMethod, &status, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.UserID = userID.String
	order.Status = domain.OrderStatus(status)
	return order, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ domain.OrderRepository = (*orderRepository)(nil)
