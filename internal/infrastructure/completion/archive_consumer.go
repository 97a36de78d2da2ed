package completion

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/taskgate/internal/config"
	"github.com/turtacn/taskgate/internal/domain/models"
	"github.com/turtacn/taskgate/internal/domain/repository"
	"github.com/turtacn/taskgate/pkg/logger"
)

// messageReader is the subset of *kafka.Reader the consumer needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ArchiveConsumer copies completion events from Kafka into the completion store.
// Instances sharing a group id split the partitions between them.
type ArchiveConsumer struct {
	reader  messageReader
	store   repository.CompletionRepository
	logger  logger.Logger
	backoff time.Duration
}

// NewArchiveConsumer creates a consumer for the completion topic.
func NewArchiveConsumer(kcfg config.KafkaConfig, acfg config.ArchiveConfig, store repository.CompletionRepository, log logger.Logger) *ArchiveConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        kcfg.Brokers,
		Topic:          kcfg.Topic,
		GroupID:        acfg.GroupID,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
	})
	return newArchiveConsumer(reader, store, log)
}

func newArchiveConsumer(r messageReader, store repository.CompletionRepository, log logger.Logger) *ArchiveConsumer {
	return &ArchiveConsumer{
		reader:  r,
		store:   store,
		logger:  log.WithComponent("ArchiveConsumer"),
		backoff: time.Second,
	}
}

// Run consumes until ctx is cancelled. It blocks and is meant to run in its own goroutine.
func (c *ArchiveConsumer) Run(ctx context.Context) error {
	c.logger.Info(ctx, "starting completion archive consumer")
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Error(context.Background(), "failed to close kafka reader", err)
		}
	}()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info(context.Background(), "stopping completion archive consumer")
				return nil
			}
			c.logger.Error(ctx, "failed to fetch message from kafka", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		var record models.CompletionRecord
		if err := json.Unmarshal(msg.Value, &record); err != nil || record.TaskID == "" {
			c.logger.Error(ctx, "skipping malformed completion event", err, logger.String("kafka_message", string(msg.Value)))
			c.commit(ctx, msg)
			continue
		}

		if err := c.store.Save(ctx, record); err != nil {
			// Not committed: the event is redelivered after a restart or rebalance.
			c.logger.Error(ctx, "failed to archive completion", err,
				logger.UserID(record.UserID), logger.String("task_id", record.TaskID))
			continue
		}
		c.commit(ctx, msg)
	}
}

func (c *ArchiveConsumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Error(ctx, "failed to commit kafka offset", err, logger.Int64("offset", msg.Offset))
	}
}
