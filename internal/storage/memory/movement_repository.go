package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

type movementRepository struct {
	st *state
}

func (r *movementRepository) Append(_ context.Context, m domain.StockMovement) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	r.st.movements = append(r.st.movements, m)
	return nil
}

// ListByStockRecord возвращает движения записи от последнего к первому.
func (r *movementRepository) ListByStockRecord(_ context.Context, stockRecordID string, limit int) ([]domain.StockMovement, error) {
	result := make([]domain.StockMovement, 0)
	for i := len(r.st.movements) - 1; i >= 0; i-- {
		if r.st.movements[i].StockRecordID == stockRecordID {
			result = append(result, r.st.movements[i])
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].OccurredAt.After(result[j].OccurredAt)
	})
	return applyLimit(result, limit), nil
}

var _ domain.MovementRepository = (*movementRepository)(nil)
