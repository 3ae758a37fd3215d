package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/exec"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/messaging/kafka"
)

func withFlagArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine
	t.Cleanup(func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	})

	os.Args = append([]string{"dlq-reprocess"}, args...)
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fn()
}

func TestReadConfig_Filters(t *testing.T) {
	withFlagArgs(t, []string{
		"-brokers=broker-1:9092, broker-2:9092",
		"-limit=25",
		"-execute",
		"-event-types=stock.transferred, stock.adjusted",
		"-aggregate-type=stock_record",
		"-aggregate-ids=r-1,r-2",
	}, func() {
		cfg, err := readConfig()
		require.NoError(t, err)

		assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.brokers)
		assert.Equal(t, kafka.TopicDeadLetterQueue, cfg.sourceTopic)
		assert.Equal(t, kafka.TopicInventoryEvents, cfg.targetTopic)
		assert.Equal(t, 25, cfg.limit)
		assert.True(t, cfg.execute)
		assert.Equal(t, domain.AggregateStockRecord, cfg.filter.aggregateType)
		assert.Len(t, cfg.filter.eventTypes, 2)
		assert.Contains(t, cfg.filter.aggregateIDs, "r-2")
	})
}

func TestReadConfig_BrokersFromEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka:9092")
	withFlagArgs(t, nil, func() {
		cfg, err := readConfig()
		require.NoError(t, err)
		assert.Equal(t, []string{"kafka:9092"}, cfg.brokers)
		assert.False(t, cfg.execute)
	})
}

func TestReadConfig_Rejects(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "no brokers", args: nil, want: "kafka brokers are required"},
		{name: "same topics", args: []string{"-brokers=b:9092", "-target-topic=ims.inventory.dlq"}, want: "must differ"},
		{name: "zero limit", args: []string{"-brokers=b:9092", "-limit=0"}, want: "limit must be > 0"},
		{name: "zero idle", args: []string{"-brokers=b:9092", "-idle-timeout=0s"}, want: "idle-timeout must be > 0"},
		{name: "unknown event", args: []string{"-brokers=b:9092", "-event-types=payment.captured"}, want: `unknown event type "payment.captured"`},
		{name: "unknown aggregate", args: []string{"-brokers=b:9092", "-aggregate-type=shipment"}, want: "unknown aggregate-type"},
		{
			name: "event outside aggregate",
			args: []string{"-brokers=b:9092", "-aggregate-type=order", "-event-types=stock.adjusted"},
			want: `does not belong to aggregate "order"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withFlagArgs(t, tt.args, func() {
				_, err := readConfig()
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.want)
			})
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b ,"))
	assert.Empty(t, splitList(""))
}

func TestRun_ClosesDependencies(t *testing.T) {
	oldDeps := newReplayDependencies
	t.Cleanup(func() { newReplayDependencies = oldDeps })

	cfg := testConfig()
	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return nil, nil, nil, errors.New("brokers unreachable")
	}
	require.ErrorContains(t, run(context.Background(), cfg), "brokers unreachable")

	client := singlePartition(2)
	consumer := consumerWith(map[int32][]*sarama.ConsumerMessage{0: {dlqMessage(0, 0, transferLetter("r-1"))}})
	producer := &stubReplayProducer{}
	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return client, consumer, producer, nil
	}

	cfg.execute = true
	require.NoError(t, run(context.Background(), cfg))
	assert.True(t, client.closed)
	assert.True(t, consumer.closed)
	assert.True(t, producer.closed)
	assert.Len(t, producer.sent, 1)
}

func TestMain_DryRun(t *testing.T) {
	oldDeps := newReplayDependencies
	t.Cleanup(func() { newReplayDependencies = oldDeps })

	consumer := consumerWith(map[int32][]*sarama.ConsumerMessage{0: {dlqMessage(0, 0, cancelLetter("o-1"))}})
	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return singlePartition(1), consumer, nil, nil
	}

	withFlagArgs(t, []string{"-brokers=broker:9092", "-limit=1", "-idle-timeout=50ms", "-aggregate-type=order"}, func() {
		main()
	})
	assert.Len(t, consumer.calls, 1)
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_REPROCESS_FAIL") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_REPROCESS_FAIL=1")
	err := cmd.Run()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.NotZero(t, exitErr.ExitCode())
}
