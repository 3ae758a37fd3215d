package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/service/stock"
)

// RestitutionPolicy определяет, куда возвращается товар отменённого заказа.
type RestitutionPolicy string

const (
	// RestitutionExact возвращает каждую аллокацию на ту запись, с которой она была списана.
	RestitutionExact RestitutionPolicy = "exact"
	// RestitutionEarliest возвращает всё количество позиции на самую раннюю запись товара.
	RestitutionEarliest RestitutionPolicy = "earliest"
)

// ParseRestitutionPolicy разбирает политику; пустая строка означает exact.
func ParseRestitutionPolicy(raw string) (RestitutionPolicy, error) {
	switch RestitutionPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", RestitutionExact:
		return RestitutionExact, nil
	case RestitutionEarliest:
		return RestitutionEarliest, nil
	default:
		return "", fmt.Errorf("%w: unknown restitution policy %q", domain.ErrInvalidInput, raw)
	}
}

// Restitutor возвращает товар отменённого заказа на склад.
type Restitutor struct {
	ledger *stock.Ledger
	policy RestitutionPolicy
	logger *log.Entry
}

// NewRestitutor создаёт Restitutor с заданной политикой.
func NewRestitutor(ledger *stock.Ledger, policy RestitutionPolicy, logger *log.Entry) *Restitutor {
	if policy == "" {
		policy = RestitutionExact
	}
	if logger == nil {
		logger = log.New().WithField("component", "restitution")
	}
	return &Restitutor{ledger: ledger, policy: policy, logger: logger}
}

// Policy возвращает действующую политику.
func (r *Restitutor) Policy() RestitutionPolicy { return r.policy }

// Restitute зачисляет количество всех позиций заказа обратно и возвращает число
// возвращённых единиц. Вызывается в транзакции смены статуса на Cancelled.
func (r *Restitutor) Restitute(ctx context.Context, tx domain.Tx, order domain.Order) (int64, error) {
	var total int64
	for _, line := range order.Lines {
		var (
			units int64
			err   error
		)
		if r.policy == RestitutionExact && len(line.Allocations) > 0 {
			units, err = r.restituteExact(ctx, tx, order.ID, line)
		} else {
			units, err = r.restituteEarliest(ctx, tx, order.ID, line.ProductID, line.Quantity)
		}
		if err != nil {
			return total, fmt.Errorf("restitute line %s: %w", line.ID, err)
		}
		total += units
	}
	return total, nil
}

func (r *Restitutor) restituteExact(ctx context.Context, tx domain.Tx, orderID string, line domain.OrderLine) (int64, error) {
	var total int64
	for _, alloc := range line.Allocations {
		target, ok, err := r.exactTarget(ctx, tx, line.ProductID, alloc)
		if err != nil {
			return total, err
		}
		if !ok {
			units, err := r.restituteEarliest(ctx, tx, orderID, line.ProductID, alloc.Quantity)
			if err != nil {
				return total, err
			}
			total += units
			continue
		}

		if _, err := r.ledger.Adjust(ctx, tx, target, alloc.Quantity, stock.Movement{
			Kind:      domain.MovementOrderRestitution,
			Reference: orderID,
		}); err != nil {
			return total, err
		}
		total += alloc.Quantity
	}
	return total, nil
}

// exactTarget находит запись для возврата аллокации. Если исходная запись удалена,
// она пересоздаётся на том же складе; если удалён и склад, ok=false.
func (r *Restitutor) exactTarget(ctx context.Context, tx domain.Tx, productID string, alloc domain.LineAllocation) (string, bool, error) {
	rec, err := tx.Stock().GetForUpdate(ctx, alloc.StockRecordID)
	if err == nil && rec.ProductID == productID {
		return rec.ID, true, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", false, err
	}

	// склад проверяется заранее: нарушение внешнего ключа прервало бы транзакцию PostgreSQL
	if _, err := tx.Warehouses().Get(ctx, alloc.WarehouseID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}

	rec, _, err = r.ledger.FindOrCreate(ctx, tx, productID, alloc.WarehouseID)
	if err != nil {
		return "", false, err
	}
	return rec.ID, true, nil
}

func (r *Restitutor) restituteEarliest(ctx context.Context, tx domain.Tx, orderID, productID string, quantity int64) (int64, error) {
	rec, err := tx.Stock().EarliestForProduct(ctx, productID)
	if errors.Is(err, domain.ErrNotFound) {
		r.logger.WithFields(log.Fields{
			"order_id":   orderID,
			"product_id": productID,
			"quantity":   quantity,
		}).Warn("no stock record left for product, restitution skipped")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	if _, err := r.ledger.Adjust(ctx, tx, rec.ID, quantity, stock.Movement{
		Kind:      domain.MovementOrderRestitution,
		Reference: orderID,
	}); err != nil {
		return 0, err
	}
	return quantity, nil
}
