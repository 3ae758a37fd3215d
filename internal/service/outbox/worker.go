// Package outbox доставляет события об остатках и заказах из transactional outbox в брокер.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/metrics"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 5 * time.Second
)

// Config задаёт параметры Worker.
type Config struct {
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	// DeadLetters получает события, которые не удалось опубликовать за MaxAttempts попыток.
	DeadLetters domain.OutboxPublisher
	Logger      *log.Entry
	Metrics     *metrics.PipelineMetrics
}

// BatchReport — итог одного цикла опроса.
type BatchReport struct {
	Sent      int
	Failed    int
	Postponed int
}

// Worker публикует pending-события в порядке их записи. Если брокер недоступен,
// цикл прерывается и оставшиеся события ждут следующего опроса, чтобы события
// одной складской записи не обгоняли друг друга.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	cfg       Config
	logger    *log.Entry
	metrics   *metrics.PipelineMetrics
	now       func() time.Time
}

// NewWorker создаёт Worker; нулевые значения Config заменяются значениями по умолчанию.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBaseDelay < 0 {
		cfg.RetryBaseDelay = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-worker")
	}

	return &Worker{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		metrics:   cfg.Metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run опрашивает outbox раз в PollInterval до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker disabled: repository or publisher is missing")
		return
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		report := w.ProcessOnce(ctx)
		if report.Failed > 0 || report.Postponed > 0 {
			w.logger.WithFields(log.Fields{
				"sent":      report.Sent,
				"failed":    report.Failed,
				"postponed": report.Postponed,
			}).Info("outbox batch finished with undelivered events")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce публикует одну порцию pending-событий.
func (w *Worker) ProcessOnce(ctx context.Context) BatchReport {
	var report BatchReport
	if ctx.Err() != nil {
		return report
	}

	events, err := w.repo.PullPending(ctx, w.cfg.BatchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox events")
		return report
	}
	defer w.refreshBacklog(ctx)

	for i, event := range events {
		if ctx.Err() != nil {
			return report
		}
		attempts, err := w.publish(ctx, event)
		switch {
		case err == nil:
			report.Sent++
			w.metrics.RecordPublish(event.EventType, metrics.PublishSent)
			if err := w.repo.MarkSent(ctx, event.ID); err != nil {
				w.eventLogger(event).WithError(err).Warn("failed to mark outbox event as sent")
			}
		case errors.Is(err, domain.ErrPublisherUnavailable):
			report.Postponed = len(events) - i
			w.metrics.RecordPublish(event.EventType, metrics.PublishPostponed)
			w.eventLogger(event).WithError(err).Warn("publisher unavailable, outbox batch postponed")
			return report
		case ctx.Err() != nil:
			return report
		default:
			report.Failed++
			w.fail(ctx, event, attempts, err)
		}
	}
	return report
}

// publish возвращает число сделанных попыток и последнюю ошибку. Недоступность
// брокера не повторяется: событие остаётся pending.
func (w *Worker) publish(ctx context.Context, event domain.OutboxMessage) (int, error) {
	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := w.publisher.Publish(ctx, event)
		if errors.Is(err, domain.ErrPublisherUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, w.retryPolicy(ctx), func(err error, next time.Duration) {
		w.metrics.RecordPublish(event.EventType, metrics.PublishRetried)
		w.eventLogger(event).WithError(err).WithField("retry_in", next).Debug("retrying outbox event")
	})
	if err == nil || errors.Is(err, domain.ErrPublisherUnavailable) || ctx.Err() != nil {
		return attempts, err
	}
	return attempts, fmt.Errorf("publish failed after %d attempts: %w", attempts, err)
}

func (w *Worker) retryPolicy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = w.cfg.RetryBaseDelay
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = maxRetryDelay
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(w.cfg.MaxAttempts-1)), ctx)
}

// fail помечает событие failed и, если настроен DLQ, отправляет туда конверт
// с исходным payload для последующего replay.
func (w *Worker) fail(ctx context.Context, event domain.OutboxMessage, attempts int, publishErr error) {
	logger := w.eventLogger(event)
	logger.WithError(publishErr).WithField("attempts", attempts).Error("outbox event undeliverable")
	w.metrics.RecordPublish(event.EventType, metrics.PublishFailed)

	if w.cfg.DeadLetters != nil {
		if err := w.deadLetter(ctx, event, attempts, publishErr); err != nil {
			logger.WithError(err).Warn("failed to publish dead letter")
			w.metrics.RecordPublish(event.EventType, metrics.PublishDLQFailed)
		} else {
			w.metrics.RecordDeadLetter(event.AggregateType)
		}
	}

	if err := w.repo.MarkFailed(ctx, event.ID); err != nil {
		logger.WithError(err).Warn("failed to mark outbox event as failed")
	}
}

func (w *Worker) deadLetter(ctx context.Context, event domain.OutboxMessage, attempts int, publishErr error) error {
	payload, err := json.Marshal(domain.DeadLetter{
		OutboxID:      event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		Attempts:      attempts,
		PublishError:  publishErr.Error(),
		FailedAt:      w.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	letter := event
	letter.Payload = payload
	if err := w.cfg.DeadLetters.Publish(ctx, letter); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}

func (w *Worker) refreshBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.SetOutboxBacklog(stats.PendingCount, age)
}

func (w *Worker) eventLogger(event domain.OutboxMessage) *log.Entry {
	return w.logger.WithFields(log.Fields{
		"outbox_id":      event.ID,
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
	})
}
