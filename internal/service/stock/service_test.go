package stock

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/metrics"
)

type ServiceSuite struct {
	suite.Suite
	f   *fixture
	svc *Service
	ctx context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.f = newFixture(s.T(), "w-1", "w-2", "w-3")
	s.svc = NewService(s.f.store, s.f.ledger,
		WithMetrics(metrics.NewInventoryMetricsWithRegisterer(prometheus.NewRegistry())),
	)
}

func (s *ServiceSuite) TestTransferMovesExactQuantity() {
	src := s.f.open(s.T(), "w-1", 10)
	dst := s.f.open(s.T(), "w-2", 1)

	result, err := s.svc.Transfer(s.ctx, TransferCommand{
		ProductID: "p-1", FromWarehouseID: "w-1", ToWarehouseID: "w-2", Quantity: 4, Reason: "rebalance",
	})
	s.Require().NoError(err)
	s.Equal(int64(6), result.Source.Quantity)
	s.Equal(int64(5), result.Destination.Quantity)
	s.Equal(int64(6), s.f.qty(s.T(), src.ID))
	s.Equal(int64(5), s.f.qty(s.T(), dst.ID))

	msgs := s.f.pending(s.T())
	s.Require().Len(msgs, 1)
	s.Equal(domain.EventStockTransferred, msgs[0].EventType)

	var event domain.StockEvent
	s.Require().NoError(json.Unmarshal(msgs[0].Payload, &event))
	s.Equal(int64(-4), event.Delta)
	s.Equal(dst.ID, event.DestinationID)
}

func (s *ServiceSuite) TestTransferCreatesDestinationRecord() {
	s.f.open(s.T(), "w-2", 10)

	// обратный порядок складов: получатель блокируется первым
	result, err := s.svc.Transfer(s.ctx, TransferCommand{
		ProductID: "p-1", FromWarehouseID: "w-2", ToWarehouseID: "w-1", Quantity: 10,
	})
	s.Require().NoError(err)
	s.Equal(int64(0), result.Source.Quantity)
	s.Equal(int64(10), result.Destination.Quantity)
	s.Equal("w-1", result.Destination.WarehouseID)

	movements, err := s.svc.ListMovements(s.ctx, result.Destination.ID, 0)
	s.Require().NoError(err)
	s.Require().Len(movements, 1)
	s.Equal(domain.MovementTransferIn, movements[0].Kind)
	s.Equal(result.TransferID, movements[0].Reference)
}

func (s *ServiceSuite) TestTransferValidation() {
	src := s.f.open(s.T(), "w-1", 10)

	_, err := s.svc.Transfer(s.ctx, TransferCommand{ProductID: "p-1", FromWarehouseID: "w-1", ToWarehouseID: "w-1", Quantity: 1})
	s.ErrorIs(err, domain.ErrSameWarehouse)
	s.ErrorIs(err, domain.ErrInvalidInput)

	_, err = s.svc.Transfer(s.ctx, TransferCommand{ProductID: "p-1", FromWarehouseID: "w-1", ToWarehouseID: "w-2", Quantity: 0})
	s.ErrorIs(err, domain.ErrInvalidInput)

	s.Equal(int64(10), s.f.qty(s.T(), src.ID))
	s.Empty(s.f.pending(s.T()))
}

func (s *ServiceSuite) TestTransferInsufficientLeavesStockUntouched() {
	src := s.f.open(s.T(), "w-1", 3)

	_, err := s.svc.Transfer(s.ctx, TransferCommand{ProductID: "p-1", FromWarehouseID: "w-1", ToWarehouseID: "w-3", Quantity: 5})
	s.Require().ErrorIs(err, domain.ErrInsufficientStock)

	details, ok := domain.AsInsufficientStock(err)
	s.Require().True(ok)
	s.Equal(int64(3), details.Available)
	s.Equal(int64(2), details.Shortfall())

	s.Equal(int64(3), s.f.qty(s.T(), src.ID))
	records, err := s.svc.ListStockRecords(s.ctx, domain.StockFilter{WarehouseID: "w-3"})
	s.Require().NoError(err)
	s.Empty(records, "destination created inside the failed transaction must be rolled back")
}

func (s *ServiceSuite) TestTransferWithoutSourceRecord() {
	_, err := s.svc.Transfer(s.ctx, TransferCommand{ProductID: "p-1", FromWarehouseID: "w-1", ToWarehouseID: "w-2", Quantity: 1})
	details, ok := domain.AsInsufficientStock(err)
	s.Require().True(ok)
	s.Equal(int64(0), details.Available)
}

func (s *ServiceSuite) TestTransferErrorKindIndependentOfDirection() {
	s.f.open(s.T(), "w-1", 5)
	s.f.open(s.T(), "w-3", 5)

	for _, pair := range [][2]string{{"w-1", "w-2"}, {"w-2", "w-1"}} {
		_, err := s.svc.Transfer(s.ctx, TransferCommand{ProductID: "missing", FromWarehouseID: pair[0], ToWarehouseID: pair[1], Quantity: 1})
		s.ErrorIs(err, domain.ErrProductNotFound, "%s -> %s", pair[0], pair[1])
	}

	// склад-получатель отсутствует: "a-gone" меньше источника, "z-gone" больше
	for _, pair := range [][2]string{{"w-1", "a-gone"}, {"w-3", "z-gone"}} {
		_, err := s.svc.Transfer(s.ctx, TransferCommand{ProductID: "p-1", FromWarehouseID: pair[0], ToWarehouseID: pair[1], Quantity: 1})
		s.ErrorIs(err, domain.ErrWarehouseNotFound, "%s -> %s", pair[0], pair[1])
		s.NotErrorIs(err, domain.ErrInsufficientStock)
	}

	s.Empty(s.f.pending(s.T()))
}

func (s *ServiceSuite) TestAdjustStockOperations() {
	rec := s.f.open(s.T(), "w-1", 5)

	got, err := s.svc.AdjustStock(s.ctx, AdjustCommand{StockRecordID: rec.ID, Quantity: 3, Operation: domain.StockOperationAdd})
	s.Require().NoError(err)
	s.Equal(int64(8), got.Quantity)

	got, err = s.svc.AdjustStock(s.ctx, AdjustCommand{StockRecordID: rec.ID, Quantity: 6, Operation: domain.StockOperationSubtract})
	s.Require().NoError(err)
	s.Equal(int64(2), got.Quantity)

	_, err = s.svc.AdjustStock(s.ctx, AdjustCommand{StockRecordID: rec.ID, Quantity: 3, Operation: domain.StockOperationSubtract})
	s.ErrorIs(err, domain.ErrInsufficientStock)

	got, err = s.svc.AdjustStock(s.ctx, AdjustCommand{StockRecordID: rec.ID, Quantity: 0, Operation: domain.StockOperationSet})
	s.Require().NoError(err)
	s.Equal(int64(0), got.Quantity)

	_, err = s.svc.AdjustStock(s.ctx, AdjustCommand{StockRecordID: rec.ID, Quantity: -1, Operation: domain.StockOperationAdd})
	s.ErrorIs(err, domain.ErrInvalidInput)

	_, err = s.svc.AdjustStock(s.ctx, AdjustCommand{StockRecordID: rec.ID, Quantity: 1, Operation: "multiply"})
	s.ErrorIs(err, domain.ErrUnknownStockOperation)

	_, err = s.svc.AdjustStock(s.ctx, AdjustCommand{StockRecordID: "missing", Quantity: 1, Operation: domain.StockOperationAdd})
	s.ErrorIs(err, domain.ErrNotFound)

	s.Len(s.f.pending(s.T()), 3)
	movements, err := s.svc.ListMovements(s.ctx, rec.ID, 10)
	s.Require().NoError(err)
	s.Len(movements, 4)
}

func (s *ServiceSuite) TestAdjustStockRejectsOverflow() {
	rec := s.f.open(s.T(), "w-1", 5)

	_, err := s.svc.AdjustStock(s.ctx, AdjustCommand{StockRecordID: rec.ID, Quantity: math.MaxInt64, Operation: domain.StockOperationAdd})
	s.Require().ErrorIs(err, domain.ErrQuantityOverflow)
	s.ErrorIs(err, domain.ErrInvalidInput)
	s.NotErrorIs(err, domain.ErrInsufficientStock)

	current, err := s.svc.GetStockRecord(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(int64(5), current.Quantity)

	got, err := s.svc.AdjustStock(s.ctx, AdjustCommand{StockRecordID: rec.ID, Quantity: math.MaxInt64 - 5, Operation: domain.StockOperationAdd})
	s.Require().NoError(err)
	s.Equal(int64(math.MaxInt64), got.Quantity)
}

func (s *ServiceSuite) TestCreateStockRecord() {
	rec, err := s.svc.CreateStockRecord(s.ctx, CreateCommand{ProductID: "p-1", WarehouseID: "w-1", Quantity: 7})
	s.Require().NoError(err)
	s.Equal(int64(7), rec.Quantity)
	s.NotEmpty(rec.ID)

	_, err = s.svc.CreateStockRecord(s.ctx, CreateCommand{ProductID: "p-1", WarehouseID: "w-1", Quantity: 1})
	s.ErrorIs(err, domain.ErrDuplicateStockRecord)

	_, err = s.svc.CreateStockRecord(s.ctx, CreateCommand{ProductID: "p-404", WarehouseID: "w-1"})
	s.ErrorIs(err, domain.ErrProductNotFound)

	_, err = s.svc.CreateStockRecord(s.ctx, CreateCommand{ProductID: "p-1", WarehouseID: "w-404"})
	s.ErrorIs(err, domain.ErrWarehouseNotFound)

	_, err = s.svc.CreateStockRecord(s.ctx, CreateCommand{ProductID: "p-1", WarehouseID: "w-2", Quantity: -1})
	s.ErrorIs(err, domain.ErrInvalidQuantity)
}

func (s *ServiceSuite) TestUpdateStockRecord() {
	rec := s.f.open(s.T(), "w-1", 5)
	s.f.open(s.T(), "w-2", 1)

	updated, err := s.svc.UpdateStockRecord(s.ctx, UpdateCommand{StockRecordID: rec.ID, ProductID: "p-1", WarehouseID: "w-3", Quantity: 9})
	s.Require().NoError(err)
	s.Equal("w-3", updated.WarehouseID)
	s.Equal(int64(9), updated.Quantity)

	_, err = s.svc.UpdateStockRecord(s.ctx, UpdateCommand{StockRecordID: rec.ID, ProductID: "p-1", WarehouseID: "w-2", Quantity: 1})
	s.ErrorIs(err, domain.ErrDuplicateStockRecord)

	_, err = s.svc.UpdateStockRecord(s.ctx, UpdateCommand{StockRecordID: "missing", ProductID: "p-1", WarehouseID: "w-1"})
	s.ErrorIs(err, domain.ErrStockRecordNotFound)
}

func (s *ServiceSuite) TestDeleteAndGet() {
	rec := s.f.open(s.T(), "w-1", 5)

	got, err := s.svc.GetStockRecord(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(rec.ID, got.ID)

	s.Require().NoError(s.svc.DeleteStockRecord(s.ctx, rec.ID))
	s.Require().NoError(s.svc.DeleteStockRecord(s.ctx, rec.ID), "deleting a missing record is not an error")

	_, err = s.svc.GetStockRecord(s.ctx, rec.ID)
	s.ErrorIs(err, domain.ErrStockRecordNotFound)
}

func (s *ServiceSuite) TestListStockRecordsLowStock() {
	s.f.open(s.T(), "w-1", 2)
	s.f.open(s.T(), "w-2", 50)

	low, err := s.svc.ListStockRecords(s.ctx, domain.StockFilter{LowStockThreshold: 5})
	s.Require().NoError(err)
	s.Require().Len(low, 1)
	s.Equal("w-1", low[0].WarehouseID)

	_, err = s.svc.ListStockRecords(s.ctx, domain.StockFilter{LowStockThreshold: -1})
	s.ErrorIs(err, domain.ErrInvalidInput)
}

func TestNewServiceDefaults(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store, nil, WithLogger(nil), WithClock(nil))

	require.NotNil(t, svc.ledger)
	require.NotNil(t, svc.logger)
	require.NotNil(t, svc.now)
}
