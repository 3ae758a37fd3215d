package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

// SQLSTATE коды, которые различает слой хранения.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeNumericOutOfRange    = "22003"

	constraintStockQuantity = "stock_records_quantity_non_negative"
	constraintStockPair     = "stock_records_product_warehouse_key"
	constraintProductSKU    = "products_sku_key"
)

func pgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func isUniqueViolation(err error) bool {
	pgErr, ok := pgError(err)
	return ok && pgErr.Code == codeUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	pgErr, ok := pgError(err)
	return ok && pgErr.Code == codeForeignKeyViolation
}

// classifyError оборачивает ошибку драйвера и, если возможно, добавляет вид ошибки домена.
// Конфликты блокировок и сериализации не повторяются: их видит вызывающий.
func classifyError(op string, err error) error {
	pgErr, ok := pgError(err)
	if !ok {
		return fmt.Errorf("%s: %w", op, err)
	}

	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return fmt.Errorf("%s: %w: %w", op, domain.ErrConcurrentModification, err)
	case codeNumericOutOfRange:
		return fmt.Errorf("%s: %w", op, domain.ErrQuantityOverflow)
	case codeCheckViolation:
		if pgErr.ConstraintName == constraintStockQuantity {
			return fmt.Errorf("%s: %w: %w", op, domain.ErrInsufficientStock, err)
		}
		return fmt.Errorf("%s: %w: %w", op, domain.ErrInvalidInput, err)
	case codeUniqueViolation:
		switch pgErr.ConstraintName {
		case constraintStockPair:
			return fmt.Errorf("%s: %w", op, domain.ErrDuplicateStockRecord)
		case constraintProductSKU:
			return fmt.Errorf("%s: %w", op, domain.ErrDuplicateSKU)
		}
		return fmt.Errorf("%s: %w: %w", op, domain.ErrDuplicateRecord, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
