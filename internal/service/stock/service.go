package stock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/metrics"
)

const defaultMovementsLimit = 100

// TransferCommand — перемещение товара между складами.
type TransferCommand struct {
	ProductID       string
	FromWarehouseID string
	ToWarehouseID   string
	Quantity        int64
	Reason          string
}

// TransferResult содержит обе записи после перемещения.
type TransferResult struct {
	TransferID  string
	Source      domain.StockRecord
	Destination domain.StockRecord
}

// AdjustCommand — ручная корректировка остатка.
type AdjustCommand struct {
	StockRecordID string
	Quantity      int64
	Operation     domain.StockOperation
	Reason        string
}

// CreateCommand — создание записи остатка.
type CreateCommand struct {
	ProductID   string
	WarehouseID string
	Quantity    int64
}

// UpdateCommand — перенос записи на другую пару и установка количества.
type UpdateCommand struct {
	StockRecordID string
	ProductID     string
	WarehouseID   string
	Quantity      int64
	Reason        string
}

// Service выполняет операции над остатками, каждую в одной транзакции.
type Service struct {
	tx      domain.Transactor
	ledger  *Ledger
	logger  *log.Entry
	metrics *metrics.InventoryMetrics
	now     func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics включает запись метрик.
func WithMetrics(m *metrics.InventoryMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewService создаёт сервис остатков.
func NewService(tx domain.Transactor, ledger *Ledger, opts ...Option) *Service {
	s := &Service{
		tx:     tx,
		ledger: ledger,
		logger: log.New().WithField("component", "stock-service"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ledger == nil {
		s.ledger = NewLedger(s.now)
	}
	return s
}

// Transfer перемещает quantity единиц товара со склада-источника на склад-получатель.
func (s *Service) Transfer(ctx context.Context, cmd TransferCommand) (result TransferResult, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("transfer", err, time.Since(start)) }()

	if err := validateTransfer(cmd); err != nil {
		return TransferResult{}, err
	}

	transferID := uuid.NewString()
	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := checkTransferRefs(ctx, tx, cmd); err != nil {
			return err
		}
		source, dest, err := s.lockTransferPair(ctx, tx, cmd)
		if err != nil {
			return err
		}
		if source.Quantity < cmd.Quantity {
			return &domain.InsufficientStockError{
				ProductID:     cmd.ProductID,
				StockRecordID: source.ID,
				Requested:     cmd.Quantity,
				Available:     source.Quantity,
			}
		}

		source, err = s.ledger.Adjust(ctx, tx, source.ID, -cmd.Quantity, Movement{
			Kind: domain.MovementTransferOut, Reference: transferID, Reason: cmd.Reason,
		})
		if err != nil {
			return err
		}
		dest, err = s.ledger.Adjust(ctx, tx, dest.ID, cmd.Quantity, Movement{
			Kind: domain.MovementTransferIn, Reference: transferID, Reason: cmd.Reason,
		})
		if err != nil {
			return err
		}

		msg, err := domain.NewOutboxMessage(domain.AggregateStockRecord, source.ID, domain.EventStockTransferred, domain.StockEvent{
			StockRecordID:     source.ID,
			ProductID:         source.ProductID,
			WarehouseID:       source.WarehouseID,
			Quantity:          source.Quantity,
			Delta:             -cmd.Quantity,
			DestinationID:     dest.ID,
			DestinationWHID:   dest.WarehouseID,
			DestinationAmount: dest.Quantity,
			OccurredAt:        s.now(),
		})
		if err != nil {
			return err
		}
		if _, err := tx.Outbox().Enqueue(ctx, msg); err != nil {
			return fmt.Errorf("enqueue transfer event: %w", err)
		}

		result = TransferResult{TransferID: transferID, Source: source, Destination: dest}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			s.metrics.RecordInsufficientStock("transfer")
		}
		s.logger.WithError(err).WithFields(log.Fields{
			"product_id":     cmd.ProductID,
			"from_warehouse": cmd.FromWarehouseID,
			"to_warehouse":   cmd.ToWarehouseID,
			"quantity":       cmd.Quantity,
		}).Warn("stock transfer rejected")
		return TransferResult{}, err
	}

	s.metrics.RecordTransfer(cmd.Quantity)
	s.logger.WithFields(log.Fields{
		"transfer_id": transferID,
		"product_id":  cmd.ProductID,
		"quantity":    cmd.Quantity,
	}).Info("stock transferred")

	return result, nil
}

// checkTransferRefs проверяет товар и склад-получатель до блокировок, поэтому
// вид ошибки не зависит от порядка, в котором блокируются записи.
func checkTransferRefs(ctx context.Context, tx domain.Tx, cmd TransferCommand) error {
	if _, err := tx.Products().Get(ctx, cmd.ProductID); err != nil {
		return err
	}
	if _, err := tx.Warehouses().Get(ctx, cmd.ToWarehouseID); err != nil {
		return err
	}
	return nil
}

// lockTransferPair блокирует обе записи в порядке идентификаторов складов,
// чтобы встречные перемещения не ждали друг друга по кругу.
func (s *Service) lockTransferPair(ctx context.Context, tx domain.Tx, cmd TransferCommand) (domain.StockRecord, domain.StockRecord, error) {
	lockSource := func() (domain.StockRecord, error) {
		rec, err := tx.Stock().FindByPairForUpdate(ctx, cmd.ProductID, cmd.FromWarehouseID)
		if isNotFound(err) {
			return domain.StockRecord{}, domain.NewInsufficientStock(cmd.ProductID, cmd.Quantity, 0)
		}
		return rec, err
	}
	lockDest := func() (domain.StockRecord, error) {
		rec, _, err := s.ledger.FindOrCreate(ctx, tx, cmd.ProductID, cmd.ToWarehouseID)
		return rec, err
	}

	var (
		source, dest domain.StockRecord
		err          error
	)
	if cmd.FromWarehouseID < cmd.ToWarehouseID {
		if source, err = lockSource(); err != nil {
			return source, dest, err
		}
		dest, err = lockDest()
		return source, dest, err
	}

	if dest, err = lockDest(); err != nil {
		return source, dest, err
	}
	source, err = lockSource()
	return source, dest, err
}

func validateTransfer(cmd TransferCommand) error {
	switch {
	case strings.TrimSpace(cmd.ProductID) == "":
		return domain.ErrProductRequired
	case strings.TrimSpace(cmd.FromWarehouseID) == "", strings.TrimSpace(cmd.ToWarehouseID) == "":
		return domain.ErrWarehouseRequired
	case cmd.FromWarehouseID == cmd.ToWarehouseID:
		return domain.ErrSameWarehouse
	case cmd.Quantity < 1:
		return domain.ErrTransferQtyInvalid
	}
	return nil
}

// AdjustStock применяет ручную операцию add, subtract или set.
func (s *Service) AdjustStock(ctx context.Context, cmd AdjustCommand) (rec domain.StockRecord, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("adjust", err, time.Since(start)) }()

	if cmd.Quantity < 0 {
		return domain.StockRecord{}, domain.ErrInvalidQuantity
	}
	if !cmd.Operation.Valid() {
		return domain.StockRecord{}, domain.ErrUnknownStockOperation
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		before, err := tx.Stock().GetForUpdate(ctx, cmd.StockRecordID)
		if err != nil {
			return err
		}

		m := Movement{Kind: domain.MovementKindForOperation(cmd.Operation), Reason: cmd.Reason}
		switch cmd.Operation {
		case domain.StockOperationAdd:
			rec, err = s.ledger.Adjust(ctx, tx, cmd.StockRecordID, cmd.Quantity, m)
		case domain.StockOperationSubtract:
			rec, err = s.ledger.Adjust(ctx, tx, cmd.StockRecordID, -cmd.Quantity, m)
		case domain.StockOperationSet:
			rec, err = s.ledger.SetExact(ctx, tx, cmd.StockRecordID, cmd.Quantity, m)
		}
		if err != nil {
			return err
		}

		msg, err := domain.NewOutboxMessage(domain.AggregateStockRecord, rec.ID, domain.EventStockAdjusted, domain.StockEvent{
			StockRecordID: rec.ID,
			ProductID:     rec.ProductID,
			WarehouseID:   rec.WarehouseID,
			Quantity:      rec.Quantity,
			Delta:         rec.Quantity - before.Quantity,
			OccurredAt:    s.now(),
		})
		if err != nil {
			return err
		}
		if _, err := tx.Outbox().Enqueue(ctx, msg); err != nil {
			return fmt.Errorf("enqueue adjust event: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			s.metrics.RecordInsufficientStock("adjust")
		}
		return domain.StockRecord{}, err
	}

	s.metrics.RecordAdjustment(string(cmd.Operation))
	s.logger.WithFields(log.Fields{
		"stock_record_id": rec.ID,
		"operation":       cmd.Operation,
		"quantity":        rec.Quantity,
	}).Info("stock adjusted")

	return rec, nil
}

// CreateStockRecord создаёт запись остатка для пары (товар, склад).
func (s *Service) CreateStockRecord(ctx context.Context, cmd CreateCommand) (rec domain.StockRecord, err error) {
	if err := validatePair(cmd.ProductID, cmd.WarehouseID); err != nil {
		return domain.StockRecord{}, err
	}
	if cmd.Quantity < 0 {
		return domain.StockRecord{}, domain.ErrInvalidQuantity
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Products().Get(ctx, cmd.ProductID); err != nil {
			return err
		}
		if _, err := tx.Warehouses().Get(ctx, cmd.WarehouseID); err != nil {
			return err
		}
		rec, err = s.ledger.Open(ctx, tx, cmd.ProductID, cmd.WarehouseID, cmd.Quantity)
		return err
	})
	if err != nil {
		return domain.StockRecord{}, err
	}
	return rec, nil
}

// UpdateStockRecord переносит запись на другую пару и задаёт количество.
func (s *Service) UpdateStockRecord(ctx context.Context, cmd UpdateCommand) (rec domain.StockRecord, err error) {
	if err := validatePair(cmd.ProductID, cmd.WarehouseID); err != nil {
		return domain.StockRecord{}, err
	}
	if cmd.Quantity < 0 {
		return domain.StockRecord{}, domain.ErrInvalidQuantity
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Products().Get(ctx, cmd.ProductID); err != nil {
			return err
		}
		if _, err := tx.Warehouses().Get(ctx, cmd.WarehouseID); err != nil {
			return err
		}
		rec, err = s.ledger.Reassign(ctx, tx, domain.StockRecord{
			ID:          cmd.StockRecordID,
			ProductID:   cmd.ProductID,
			WarehouseID: cmd.WarehouseID,
			Quantity:    cmd.Quantity,
		}, cmd.Reason)
		return err
	})
	if err != nil {
		return domain.StockRecord{}, err
	}
	return rec, nil
}

// DeleteStockRecord удаляет запись. Отсутствие записи не считается ошибкой.
func (s *Service) DeleteStockRecord(ctx context.Context, id string) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Stock().Delete(ctx, id)
	})
}

// GetStockRecord возвращает запись остатка.
func (s *Service) GetStockRecord(ctx context.Context, id string) (rec domain.StockRecord, err error) {
	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		rec, err = tx.Stock().Get(ctx, id)
		return err
	})
	return rec, err
}

// ListStockRecords возвращает записи по фильтру в порядке поступления.
func (s *Service) ListStockRecords(ctx context.Context, filter domain.StockFilter) (records []domain.StockRecord, err error) {
	if filter.LowStockThreshold < 0 {
		return nil, domain.ErrInvalidQuantity
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		records, err = tx.Stock().List(ctx, filter)
		return err
	})
	return records, err
}

// ListMovements возвращает журнал движений записи от новых к старым.
func (s *Service) ListMovements(ctx context.Context, stockRecordID string, limit int) (movements []domain.StockMovement, err error) {
	if limit <= 0 {
		limit = defaultMovementsLimit
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		movements, err = tx.Movements().ListByStockRecord(ctx, stockRecordID, limit)
		return err
	})
	return movements, err
}

func validatePair(productID, warehouseID string) error {
	if strings.TrimSpace(productID) == "" {
		return domain.ErrProductRequired
	}
	if strings.TrimSpace(warehouseID) == "" {
		return domain.ErrWarehouseRequired
	}
	return nil
}
