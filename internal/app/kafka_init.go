package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/messaging/kafka"
)

// initKafkaProducer инициализирует Kafka producer, если brokers не пустой.
// Возвращает nil, nil для пустого списка брокеров.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := splitBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

func splitBrokers(brokers string) []string {
	var result []string
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			result = append(result, broker)
		}
	}
	return result
}

// outboxPublishers — основной паблишер событий и паблишер DLQ.
type outboxPublishers struct {
	events     *kafka.BreakerPublisher
	deadLetter domain.OutboxPublisher
}

// newOutboxPublishers оборачивает паблишер событий в circuit breaker; DLQ пишется напрямую.
func newOutboxPublishers(producer *kafka.Producer, logger *log.Entry) outboxPublishers {
	events := kafka.NewBreakerPublisher(
		kafka.NewOutboxPublisher(producer, kafka.TopicInventoryEvents),
		kafka.DefaultBreakerConfig("kafka-outbox"),
		logger,
	)
	return outboxPublishers{
		events:     events,
		deadLetter: kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue),
	}
}

// closeKafka закрывает Kafka producer, если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
