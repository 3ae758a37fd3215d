package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/messaging/kafka"
)

// headerReplayedFrom указывает на исходное сообщение в DLQ: topic/partition/offset.
const headerReplayedFrom = "x-replayed-from"

var errNotDeadLetter = errors.New("message is not a dead letter")

// replayFilter отбирает события; пустое поле означает «без ограничения».
type replayFilter struct {
	eventTypes    map[string]struct{}
	aggregateType string
	aggregateIDs  map[string]struct{}
}

func (f replayFilter) match(letter domain.DeadLetter) bool {
	if f.aggregateType != "" && letter.AggregateType != f.aggregateType {
		return false
	}
	if len(f.eventTypes) > 0 {
		if _, ok := f.eventTypes[letter.EventType]; !ok {
			return false
		}
	}
	if len(f.aggregateIDs) > 0 {
		if _, ok := f.aggregateIDs[letter.AggregateID]; !ok {
			return false
		}
	}
	return true
}

// replayReport считает просмотренные сообщения DLQ.
type replayReport struct {
	scanned  int
	replayed int
	filtered int
	skipped  int
	// byEvent — сколько событий каждого типа отправлено (или отобрано в dry-run).
	byEvent map[string]int
}

func (r *replayReport) add(other replayReport) {
	r.scanned += other.scanned
	r.replayed += other.replayed
	r.filtered += other.filtered
	r.skipped += other.skipped
	for eventType, n := range other.byEvent {
		r.countEvent(eventType, n)
	}
}

func (r *replayReport) countEvent(eventType string, n int) {
	if r.byEvent == nil {
		r.byEvent = make(map[string]int)
	}
	r.byEvent[eventType] += n
}

func (r replayReport) log(cfg config) {
	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	fields := log.Fields{
		"mode":     mode,
		"scanned":  r.scanned,
		"replayed": r.replayed,
		"filtered": r.filtered,
		"skipped":  r.skipped,
	}
	for eventType, n := range r.byEvent {
		fields["events."+eventType] = n
	}
	log.WithFields(fields).Info("dlq replay finished")
}

type replayer struct {
	cfg      config
	client   offsetClient
	consumer partitionConsumerSource
	producer replayProducer
	now      func() time.Time
}

func newReplayer(cfg config, client offsetClient, consumer partitionConsumerSource, producer replayProducer) (*replayer, error) {
	if client == nil || consumer == nil {
		return nil, fmt.Errorf("kafka client and consumer are required")
	}
	if cfg.execute && producer == nil {
		return nil, fmt.Errorf("producer is required in execute mode")
	}
	return &replayer{
		cfg:      cfg,
		client:   client,
		consumer: consumer,
		producer: producer,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// run обходит партиции DLQ по возрастанию номера, пока не просмотрено limit сообщений.
func (r *replayer) run(ctx context.Context) (replayReport, error) {
	var report replayReport

	partitions, err := r.client.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return report, fmt.Errorf("list partitions of %s: %w", r.cfg.sourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		budget := r.cfg.limit - report.scanned
		if budget <= 0 {
			break
		}
		partial, err := r.replayPartition(ctx, partition, budget)
		report.add(partial)
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

func (r *replayer) replayPartition(ctx context.Context, partition int32, budget int) (replayReport, error) {
	var report replayReport

	oldest, err := r.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return report, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := r.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return report, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return report, nil
	}

	start := oldest
	if r.cfg.fromNewest && newest-int64(budget) > oldest {
		start = newest - int64(budget)
	}

	pc, err := r.consumer.ConsumePartition(r.cfg.sourceTopic, partition, start)
	if err != nil {
		return report, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	errs := pc.Errors()
	for report.scanned < budget {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-idle.C:
			return report, nil
		case consumeErr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if consumeErr != nil {
				return report, fmt.Errorf("partition %d: %w", partition, consumeErr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return report, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.cfg.idleTimeout)

			report.scanned++
			if err := r.handle(msg, &report); err != nil {
				return report, err
			}
			if msg.Offset+1 >= newest {
				return report, nil
			}
		}
	}
	return report, nil
}

// handle разбирает одно сообщение DLQ. Ошибка возвращается только при сбое отправки.
func (r *replayer) handle(msg *sarama.ConsumerMessage, report *replayReport) error {
	logger := log.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	letter, err := decodeDeadLetter(msg.Value)
	if err != nil {
		report.skipped++
		if !errors.Is(err, errNotDeadLetter) {
			logger.WithError(err).Warn("skip malformed dead letter")
		}
		return nil
	}
	if !r.cfg.filter.match(letter) {
		report.filtered++
		return nil
	}

	out, err := r.buildReplay(letter, msg)
	if err != nil {
		report.skipped++
		logger.WithError(err).Warn("skip dead letter that cannot be re-encoded")
		return nil
	}

	logger = logger.WithFields(log.Fields{
		"event_type":   letter.EventType,
		"aggregate_id": letter.AggregateID,
		"attempts":     letter.Attempts,
	})
	if r.cfg.execute {
		if _, _, err := r.producer.SendMessage(out); err != nil {
			return fmt.Errorf("replay %s of %s: %w", letter.EventType, letter.AggregateID, err)
		}
		logger.Debug("dead letter replayed")
	} else {
		logger.WithField("publish_error", letter.PublishError).Info("dead letter would be replayed")
	}

	report.replayed++
	report.countEvent(letter.EventType, 1)
	return nil
}

// decodeDeadLetter достаёт DeadLetter из конверта DLQ. Поля конверта заполняют
// пробелы в старых сообщениях, а тип агрегата выводится из типа события.
func decodeDeadLetter(value []byte) (domain.DeadLetter, error) {
	var envelope kafka.Envelope
	if err := json.Unmarshal(value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return domain.DeadLetter{}, errNotDeadLetter
	}

	var letter domain.DeadLetter
	if err := json.Unmarshal(envelope.Payload, &letter); err != nil {
		return domain.DeadLetter{}, fmt.Errorf("decode dead letter: %w", err)
	}
	if len(letter.Payload) == 0 {
		return domain.DeadLetter{}, fmt.Errorf("dead letter %s has no original payload", envelope.ID)
	}

	letter.OutboxID = firstNonEmpty(letter.OutboxID, envelope.ID)
	letter.AggregateID = firstNonEmpty(letter.AggregateID, envelope.AggregateID)
	letter.EventType = firstNonEmpty(letter.EventType, envelope.EventType)
	inferred, _ := domain.AggregateForEvent(letter.EventType)
	letter.AggregateType = firstNonEmpty(letter.AggregateType, envelope.AggregateType, inferred)
	return letter, nil
}

func (r *replayer) buildReplay(letter domain.DeadLetter, source *sarama.ConsumerMessage) (*sarama.ProducerMessage, error) {
	envelope := kafka.Envelope{
		ID:            letter.OutboxID,
		AggregateType: letter.AggregateType,
		AggregateID:   letter.AggregateID,
		EventType:     letter.EventType,
		Payload:       letter.Payload,
		PublishedAt:   r.now(),
	}
	value, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode replay envelope: %w", err)
	}

	origin := source.Topic + "/" + strconv.Itoa(int(source.Partition)) + "/" + strconv.FormatInt(source.Offset, 10)
	return &sarama.ProducerMessage{
		Topic:     r.cfg.targetTopic,
		Key:       sarama.StringEncoder(envelope.Key()),
		Value:     sarama.ByteEncoder(value),
		Timestamp: envelope.PublishedAt,
		Headers: []sarama.RecordHeader{
			{Key: []byte(kafka.HeaderEventType), Value: []byte(envelope.EventType)},
			{Key: []byte(kafka.HeaderAggregateType), Value: []byte(envelope.AggregateType)},
			{Key: []byte(headerReplayedFrom), Value: []byte(origin)},
		},
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
