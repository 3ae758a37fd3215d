package stock

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/storage/memory"
)

type fixture struct {
	store  *memory.Store
	ledger *Ledger
	now    time.Time
}

func newFixture(t *testing.T, warehouses ...string) *fixture {
	t.Helper()

	f := &fixture{
		store: memory.NewStore(),
		now:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	f.ledger = NewLedger(func() time.Time { return f.now })

	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Products().Create(ctx, domain.Product{
			ID: "p-1", Name: "Widget", SKU: "W-1", UnitPrice: decimal.RequireFromString("10.00"),
		}); err != nil {
			return err
		}
		for _, id := range warehouses {
			if err := tx.Warehouses().Create(ctx, domain.Warehouse{ID: id, Name: id}); err != nil {
				return err
			}
		}
		return nil
	}))
	return f
}

// open создаёт запись через Ledger; порядок вызовов задаёт FIFO-порядок.
func (f *fixture) open(t *testing.T, warehouseID string, qty int64) domain.StockRecord {
	t.Helper()

	var rec domain.StockRecord
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		rec, err = f.ledger.Open(ctx, tx, "p-1", warehouseID, qty)
		return err
	}))
	return rec
}

func (f *fixture) qty(t *testing.T, id string) int64 {
	t.Helper()

	var rec domain.StockRecord
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		rec, err = tx.Stock().Get(ctx, id)
		return err
	}))
	return rec.Quantity
}

func (f *fixture) pending(t *testing.T) []domain.OutboxMessage {
	t.Helper()

	msgs, err := f.store.Outbox().PullPending(context.Background(), 100)
	require.NoError(t, err)
	return msgs
}
