// Package idempotency очищает ключи Idempotency-Key, срок хранения которых истёк.
package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/metrics"
)

const (
	defaultSweepInterval = 10 * time.Minute
	defaultSweepBatch    = 500
)

// Config задаёт параметры Sweeper.
type Config struct {
	Interval  time.Duration
	BatchSize int
	// Backend попадает в метки метрик: memory или postgres.
	Backend string
	Logger  *log.Entry
	Metrics *metrics.PipelineMetrics
}

// SweepResult описывает один проход очистки.
type SweepResult struct {
	Removed int
	Batches int
}

// Sweeper удаляет просроченные ключи порциями, чтобы не держать долгую
// блокировку на таблице рядом с транзакциями заказов и перемещений.
type Sweeper struct {
	repo    domain.IdempotencyRepository
	cfg     Config
	logger  *log.Entry
	metrics *metrics.PipelineMetrics
	now     func() time.Time
}

// NewSweeper создаёт Sweeper; нулевые значения Config заменяются значениями по умолчанию.
func NewSweeper(repo domain.IdempotencyRepository, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSweepInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultSweepBatch
	}
	if cfg.Backend == "" {
		cfg.Backend = "unknown"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("component", "idempotency-sweeper")
	}

	return &Sweeper{
		repo:    repo,
		cfg:     cfg,
		logger:  logger.WithField("backend", cfg.Backend),
		metrics: cfg.Metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run очищает ключи сразу и затем раз в Interval до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.repo == nil {
		s.logger.Warn("idempotency sweeper disabled: no repository")
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	result, err := s.Sweep(ctx, s.now())
	if errors.Is(err, context.Canceled) {
		return
	}
	s.metrics.RecordIdempotencySweep(s.cfg.Backend, result.Removed, err)
	if err != nil {
		s.logger.WithError(err).WithField("removed", result.Removed).Warn("idempotency sweep failed")
		return
	}
	if result.Removed > 0 {
		s.logger.WithFields(log.Fields{
			"removed": result.Removed,
			"batches": result.Batches,
		}).Info("expired idempotency keys removed")
	}
}

// Sweep удаляет ключи с ttl <= before. Частичный результат возвращается и при ошибке.
func (s *Sweeper) Sweep(ctx context.Context, before time.Time) (SweepResult, error) {
	var result SweepResult
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		removed, err := s.repo.DeleteExpired(ctx, before, s.cfg.BatchSize)
		if err != nil {
			return result, err
		}
		result.Batches++
		result.Removed += removed

		// Неполная порция: больше нечего удалять.
		if removed < s.cfg.BatchSize {
			return result, nil
		}
	}
}
