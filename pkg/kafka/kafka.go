package kafka

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/illegalcall/emoji-maker/internal/config"
)

const (
	maxAttempts = 10
	retryDelay  = 3 * time.Second
)

var dialTimeout = time.Second

func waitForKafka(brokers []string, attempts int, delay time.Duration) error {
	for i := 0; i < attempts; i++ {
		cfg := sarama.NewConfig()
		cfg.Net.DialTimeout = dialTimeout
		client, err := sarama.NewClient(brokers, cfg)
		if err == nil {
			client.Close()
			return nil
		}
		slog.Info("Waiting for Kafka to be ready...", "attempt", i+1, "brokers", brokers)
		time.Sleep(delay)
	}
	return fmt.Errorf("kafka not available after %d attempts", attempts)
}

// ProducerConfig builds the sarama config for the event producer.
func ProducerConfig(cfg config.KafkaConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Producer.Retry.Max = cfg.RetryMax
	sc.Producer.Retry.Backoff = cfg.RetryBackoff
	return sc
}

// ConsumerConfig builds the sarama config for the worker consumer group.
func ConsumerConfig() *sarama.Config {
	sc := sarama.NewConfig()
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Return.Errors = true
	return sc
}

func NewProducer(cfg config.KafkaConfig) (sarama.SyncProducer, error) {
	brokers := []string{cfg.Broker}
	if err := waitForKafka(brokers, maxAttempts, retryDelay); err != nil {
		return nil, err
	}
	return sarama.NewSyncProducer(brokers, ProducerConfig(cfg))
}

func NewConsumer(cfg config.KafkaConfig) (sarama.ConsumerGroup, error) {
	brokers := []string{cfg.Broker}
	if err := waitForKafka(brokers, maxAttempts, retryDelay); err != nil {
		return nil, err
	}
	return sarama.NewConsumerGroup(brokers, cfg.Group, ConsumerConfig())
}
