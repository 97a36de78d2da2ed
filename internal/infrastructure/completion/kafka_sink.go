package completion

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/taskgate/internal/config"
	"github.com/turtacn/taskgate/internal/domain/models"
	"github.com/turtacn/taskgate/internal/domain/service"
	"github.com/turtacn/taskgate/pkg/logger"
)

var _ service.CompletionSink = (*KafkaSink)(nil)

// messageWriter is the subset of *kafka.Writer the sink needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes completion records to a Kafka topic, keyed by user id so
// one user's events stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
	logger logger.Logger
}

// NewKafkaSink creates a new KafkaSink.
func NewKafkaSink(cfg config.KafkaConfig, log logger.Logger) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
	}
	return newKafkaSink(writer, log)
}

func newKafkaSink(w messageWriter, log logger.Logger) *KafkaSink {
	return &KafkaSink{
		writer: w,
		logger: log.WithComponent("KafkaSink"),
	}
}

// Record sends a completion event to the topic.
func (s *KafkaSink) Record(ctx context.Context, record models.CompletionRecord) error {
	bytes, err := json.Marshal(record)
	if err != nil {
		s.logger.Error(ctx, "failed to marshal completion record", err)
		return err
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(record.UserID),
		Value: bytes,
	})
	if err != nil {
		s.logger.Error(ctx, "failed to write completion to kafka", err, logger.UserID(record.UserID))
	}
	return err
}

// Close closes the underlying Kafka writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
