// Command dlq-reprocess возвращает события об остатках и заказах из DLQ в основной topic.
// По умолчанию работает в dry-run и только показывает, что было бы отправлено.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
	filter      replayFilter
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type replayProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type saramaConsumer struct {
	sarama.Consumer
}

func (c saramaConsumer) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	return c.Consumer.ConsumePartition(topic, partition, offset)
}

var newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	if !cfg.execute {
		return client, saramaConsumer{consumer}, nil, nil
	}

	// Те же гарантии, что у основного producer: повтор не должен дублировать событие в партиции.
	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.brokers, producerConfig)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return client, saramaConsumer{consumer}, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}
	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig() (config, error) {
	var (
		cfg        config
		brokersRaw string
		eventsRaw  string
		aggregate  string
		idsRaw     string
	)

	flag.StringVar(&brokersRaw, "brokers", "", "comma-separated Kafka brokers (fallback: KAFKA_BROKERS)")
	flag.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "dead letter topic to scan")
	flag.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicInventoryEvents, "topic to replay events into")
	flag.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max dead letters to scan")
	flag.BoolVar(&cfg.execute, "execute", false, "publish events; without it only a dry-run report is printed")
	flag.BoolVar(&cfg.fromNewest, "from-newest", false, "scan the newest dead letters of each partition")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this idle period")
	flag.StringVar(&eventsRaw, "event-types", "", "replay only these event types, e.g. stock.transferred,order.cancelled")
	flag.StringVar(&aggregate, "aggregate-type", "", "replay only events of this aggregate: stock_record or order")
	flag.StringVar(&idsRaw, "aggregate-ids", "", "replay only events of these stock record or order ids")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("KAFKA_BROKERS")
	}
	cfg.brokers = splitList(brokersRaw)

	switch {
	case len(cfg.brokers) == 0:
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	case strings.TrimSpace(cfg.sourceTopic) == "":
		return config{}, fmt.Errorf("source-topic is required")
	case strings.TrimSpace(cfg.targetTopic) == "":
		return config{}, fmt.Errorf("target-topic is required")
	case cfg.sourceTopic == cfg.targetTopic:
		return config{}, fmt.Errorf("source-topic and target-topic must differ")
	case cfg.limit <= 0:
		return config{}, fmt.Errorf("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, fmt.Errorf("idle-timeout must be > 0")
	}

	filter, err := newReplayFilter(splitList(eventsRaw), strings.TrimSpace(aggregate), splitList(idsRaw))
	if err != nil {
		return config{}, err
	}
	cfg.filter = filter

	return cfg, nil
}

func newReplayFilter(eventTypes []string, aggregateType string, aggregateIDs []string) (replayFilter, error) {
	filter := replayFilter{aggregateType: aggregateType}

	if aggregateType != "" && aggregateType != domain.AggregateStockRecord && aggregateType != domain.AggregateOrder {
		return replayFilter{}, fmt.Errorf("unknown aggregate-type %q", aggregateType)
	}
	for _, eventType := range eventTypes {
		eventAggregate, ok := domain.AggregateForEvent(eventType)
		if !ok {
			return replayFilter{}, fmt.Errorf("unknown event type %q", eventType)
		}
		if aggregateType != "" && eventAggregate != aggregateType {
			return replayFilter{}, fmt.Errorf("event type %q does not belong to aggregate %q", eventType, aggregateType)
		}
		if filter.eventTypes == nil {
			filter.eventTypes = make(map[string]struct{}, len(eventTypes))
		}
		filter.eventTypes[eventType] = struct{}{}
	}
	for _, id := range aggregateIDs {
		if filter.aggregateIDs == nil {
			filter.aggregateIDs = make(map[string]struct{}, len(aggregateIDs))
		}
		filter.aggregateIDs[id] = struct{}{}
	}
	return filter, nil
}

func splitList(raw string) []string {
	chunks := strings.Split(raw, ",")
	values := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if value := strings.TrimSpace(chunk); value != "" {
			values = append(values, value)
		}
	}
	return values
}

func run(ctx context.Context, cfg config) error {
	client, consumer, producer, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		if consumer != nil {
			_ = consumer.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	r, err := newReplayer(cfg, client, consumer, producer)
	if err != nil {
		return err
	}
	report, err := r.run(ctx)
	if err != nil {
		return err
	}
	report.log(cfg)
	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
