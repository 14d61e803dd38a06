package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/config"
	"github.com/segmentio/kafka-go"
)

// Message is one record to publish. Key selects the partition, so all
// events for the same page land on the same partition.
type Message struct {
	Key   string
	Value any
}

// Producer writes JSON-encoded messages to a single topic.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewProducer creates a Producer for the given topic.
func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &Producer{
		writer: w,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

// Publish writes one message synchronously.
func (p *Producer) Publish(ctx context.Context, m Message) error {
	return p.PublishBatch(ctx, []Message{m})
}

// PublishBatch writes all messages in one call.
func (p *Producer) PublishBatch(ctx context.Context, batch []Message) error {
	if len(batch) == 0 {
		return nil
	}
	messages := make([]kafka.Message, 0, len(batch))
	for _, m := range batch {
		value, err := json.Marshal(m.Value)
		if err != nil {
			return fmt.Errorf("marshaling message value: %w", err)
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(m.Key),
			Value: value,
		})
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.Error("failed to publish", "count", len(messages), "error", err)
		return fmt.Errorf("publishing to kafka: %w", err)
	}
	p.logger.Debug("published", "count", len(messages))
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
