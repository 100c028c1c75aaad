// Package events publishes emoji lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/IBM/sarama"

	"github.com/illegalcall/emoji-maker/internal/models"
)

type Publisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewPublisher returns a publisher for topic. A nil producer yields a
// publisher that drops every event.
func NewPublisher(producer sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic}
}

// Enabled reports whether events reach a broker.
func (p *Publisher) Enabled() bool {
	return p != nil && p.producer != nil
}

// Publish sends evt keyed by its emoji id so events for one emoji stay ordered.
func (p *Publisher) Publish(ctx context.Context, evt models.Event) error {
	if !p.Enabled() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", evt.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(evt.EmojiID, 10)),
		Value: sarama.ByteEncoder(payload),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", evt.Type, err)
	}
	slog.Debug("Event published", "type", evt.Type, "emojiID", evt.EmojiID, "partition", partition, "offset", offset)
	return nil
}
