package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	"github.com/illegalcall/emoji-maker/internal/config"
	"github.com/illegalcall/emoji-maker/internal/models"
	"github.com/illegalcall/emoji-maker/internal/storage"
	"github.com/illegalcall/emoji-maker/internal/store"
)

// Worker consumes emoji events and repairs state the API left behind:
// drifted like counters and images that could not be removed.
type Worker struct {
	cfg       *config.Config
	store     *store.Store
	objects   storage.ObjectStore
	consumer  sarama.ConsumerGroup
	ready     chan struct{}
	readyOnce sync.Once
}

func NewWorker(cfg *config.Config, st *store.Store, objects storage.ObjectStore, consumer sarama.ConsumerGroup) *Worker {
	slog.Info("Initializing new Worker")
	return &Worker{
		cfg:      cfg,
		store:    st,
		objects:  objects,
		consumer: consumer,
		ready:    make(chan struct{}),
	}
}

// Start consumes until ctx is cancelled or the process receives SIGINT or
// SIGTERM.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	topics := []string{w.cfg.Kafka.Topic}
	slog.Info("Starting worker", "topics", topics, "group", w.cfg.Kafka.Group)

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// Start error logging for consumer errors
	go func() {
		for err := range w.consumer.Errors() {
			slog.Error("Kafka consumer error received", "error", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if err := w.consumer.Consume(ctx, topics, w); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				slog.Error("Error from consumer.Consume", "error", err)
			}
			// Consume returns on every rebalance
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.Kafka.RetryBackoff):
			}
		}
	}()

	select {
	case <-w.ready:
		slog.Info("✅ Worker setup complete; consumer ready")
	case <-ctx.Done():
	case <-done:
		return errors.New("consumer stopped before joining the group")
	}

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("Context cancelled; shutting down worker")
	}

	cancel()
	<-done
	slog.Info("Worker shut down gracefully")
	return nil
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (w *Worker) Setup(sarama.ConsumerGroupSession) error {
	w.readyOnce.Do(func() { close(w.ready) })
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (w *Worker) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim must start a consumer loop of ConsumerGroupClaim's Messages().
func (w *Worker) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := w.processEvent(session.Context(), message); err != nil {
				slog.Error("Failed to process event", "offset", message.Offset, "partition", message.Partition, "error", err)
			}
			// Failed events are not redelivered; the next event for the
			// same emoji reconciles again.
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (w *Worker) processEvent(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var evt models.Event
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		slog.Error("JSON unmarshalling failed", "error", err, "raw", string(msg.Value))
		return fmt.Errorf("failed to parse event: %w", err)
	}

	switch evt.Type {
	case models.EventEmojiLiked, models.EventEmojiUnliked:
		return w.withRetries(ctx, evt, func() error {
			likes, err := w.store.ReconcileLikes(ctx, evt.EmojiID)
			if errors.Is(err, store.ErrNotFound) {
				// Deleted since the event was published
				slog.Info("Skipping reconcile for deleted emoji", "emojiID", evt.EmojiID)
				return nil
			}
			if err != nil {
				return err
			}
			slog.Info("Likes count reconciled", "emojiID", evt.EmojiID, "likes", likes)
			return nil
		})

	case models.EventObjectOrphaned:
		if evt.ObjectName == "" {
			return errors.New("orphaned object event without object name")
		}
		return w.withRetries(ctx, evt, func() error {
			if err := w.objects.Remove(ctx, evt.ObjectName); err != nil {
				return err
			}
			slog.Info("Orphaned object removed", "object", evt.ObjectName, "emojiID", evt.EmojiID)
			return nil
		})

	default:
		slog.Debug("Ignoring event", "type", evt.Type, "emojiID", evt.EmojiID)
		return nil
	}
}

func (w *Worker) withRetries(ctx context.Context, evt models.Event, work func() error) error {
	attempts := w.cfg.Kafka.RetryMax
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = work(); err == nil {
			return nil
		}
		slog.Error("Event handling failed", "type", evt.Type, "emojiID", evt.EmojiID, "attempt", attempt, "error", err)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.Kafka.RetryBackoff):
		}
	}
	return fmt.Errorf("%s event for emoji %d failed after %d attempts: %w", evt.Type, evt.EmojiID, attempts, err)
}
