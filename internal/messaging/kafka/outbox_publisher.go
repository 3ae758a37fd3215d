package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

// ErrBrokerUnavailable возвращается, пока circuit breaker не пропускает публикации.
var ErrBrokerUnavailable = fmt.Errorf("kafka publisher circuit is open: %w", domain.ErrPublisherUnavailable)

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicInventoryEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
	}
}

func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	envelope := NewEnvelope(event, time.Now().UTC())
	headers := map[string]string{
		HeaderEventType:     event.EventType,
		HeaderAggregateType: event.AggregateType,
	}
	return p.producer.PublishEvent(ctx, p.topic, envelope.Key(), envelope, headers)
}

// BreakerConfig задаёт, когда размыкать цепь и как долго ждать перед пробной публикацией.
type BreakerConfig struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

// DefaultBreakerConfig возвращает настройки по умолчанию.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:                name,
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// BreakerPublisher перестаёт обращаться к брокеру после серии отказов,
// чтобы outbox worker не тратил попытки на заведомо недоступный Kafka.
type BreakerPublisher struct {
	next domain.OutboxPublisher
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerPublisher оборачивает publisher в circuit breaker.
func NewBreakerPublisher(next domain.OutboxPublisher, cfg BreakerConfig, logger *log.Entry) *BreakerPublisher {
	if logger == nil {
		logger = log.WithField("component", "kafka-breaker")
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultBreakerConfig(cfg.Name).ConsecutiveFailures
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	}

	return &BreakerPublisher{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (p *BreakerPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	_, err := p.cb.Execute(func() (any, error) {
		return nil, p.next.Publish(ctx, event)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	return err
}

// State возвращает текущее состояние цепи.
func (p *BreakerPublisher) State() gobreaker.State {
	return p.cb.State()
}

// Check сообщает об ошибке, пока цепь разомкнута; используется health-проверкой.
func (p *BreakerPublisher) Check(context.Context) error {
	if p.cb.State() == gobreaker.StateOpen {
		return ErrBrokerUnavailable
	}
	return nil
}

var (
	_ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
	_ domain.OutboxPublisher = (*BreakerPublisher)(nil)
)
