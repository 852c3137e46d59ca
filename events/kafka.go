package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"keymarket/observability"
)

// KafkaConfig holds the connection settings for the event topic.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaEmitter publishes events to a Kafka topic. Messages are keyed by
// the subject attribute so one subject's trades land on one partition and
// stay ordered for consumers.
type KafkaEmitter struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafkaEmitter wires a producer against the configured brokers.
func NewKafkaEmitter(cfg KafkaConfig, logger *slog.Logger) *KafkaEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaEmitter{writer: writer, logger: logger}
}

// Emit publishes the event, logging rather than propagating failures so a
// slow or absent broker never blocks settlement results.
func (k *KafkaEmitter) Emit(ctx context.Context, evt Event) {
	if k == nil || k.writer == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		observability.Events().RecordFailure(evt.Type)
		k.logger.Error("events: marshal event", "type", evt.Type, "error", err)
		return
	}
	msg := kafka.Message{
		Key:   []byte(evt.Attributes["subject"]),
		Value: payload,
		Time:  time.Now(),
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		observability.Events().RecordFailure(evt.Type)
		k.logger.Error("events: publish event", "type", evt.Type, "error", err)
		return
	}
	observability.Events().RecordPublished(evt.Type)
}

// Close flushes and closes the underlying writer.
func (k *KafkaEmitter) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
