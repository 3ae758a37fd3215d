package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	status     string
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

// outboxRepository работает с состоянием транзакции.
type outboxRepository struct {
	st *state
}

// Enqueue сохраняет событие со статусом `pending` и возвращает его идентификатор.
func (r *outboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	r.st.outbox[msg.ID] = outboxRecord{
		msg:       msg,
		status:    outboxStatusPending,
		createdAt: msg.CreatedAt,
		updatedAt: now,
	}
	return msg, nil
}

// PullPending возвращает до limit сообщений со статусом `pending` в порядке создания.
func (r *outboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	pending := r.pending()
	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		msg := rec.msg
		msg.Attempts = rec.attemptCnt
		result = append(result, msg)
	}
	return applyLimit(result, limit), nil
}

func (r *outboxRepository) Stats(context.Context) (domain.OutboxStats, error) {
	pending := r.pending()
	stats := domain.OutboxStats{PendingCount: len(pending)}
	if len(pending) > 0 {
		stats.OldestPendingAt = pending[0].createdAt
	}
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r *outboxRepository) MarkSent(_ context.Context, id string) error {
	return r.markStatus(id, outboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (r *outboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.markStatus(id, outboxStatusFailed)
}

func (r *outboxRepository) markStatus(id, status string) error {
	rec, ok := r.st.outbox[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	rec.status = status
	rec.attemptCnt++
	rec.updatedAt = time.Now().UTC()
	r.st.outbox[id] = rec
	return nil
}

func (r *outboxRepository) pending() []outboxRecord {
	result := make([]outboxRecord, 0)
	for _, rec := range r.st.outbox {
		if rec.status == outboxStatusPending {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].createdAt.Equal(result[j].createdAt) {
			return result[i].createdAt.Before(result[j].createdAt)
		}
		return result[i].msg.ID < result[j].msg.ID
	})
	return result
}

// lockedOutboxRepository обслуживает outbox worker вне бизнес-транзакций.
type lockedOutboxRepository struct {
	store *Store
}

func (r *lockedOutboxRepository) with(fn func(repo *outboxRepository) error) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return fn(&outboxRepository{st: r.store.state})
}

func (r *lockedOutboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	var out domain.OutboxMessage
	err := r.with(func(repo *outboxRepository) error {
		var err error
		out, err = repo.Enqueue(ctx, msg)
		return err
	})
	return out, err
}

func (r *lockedOutboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	var out []domain.OutboxMessage
	err := r.with(func(repo *outboxRepository) error {
		var err error
		out, err = repo.PullPending(ctx, limit)
		return err
	})
	return out, err
}

func (r *lockedOutboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	var out domain.OutboxStats
	err := r.with(func(repo *outboxRepository) error {
		var err error
		out, err = repo.Stats(ctx)
		return err
	})
	return out, err
}

func (r *lockedOutboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.with(func(repo *outboxRepository) error { return repo.MarkSent(ctx, id) })
}

func (r *lockedOutboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.with(func(repo *outboxRepository) error { return repo.MarkFailed(ctx, id) })
}

var (
	_ domain.OutboxRepository = (*outboxRepository)(nil)
	_ domain.OutboxRepository = (*lockedOutboxRepository)(nil)
)
