package events

import (
	"context"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/kafka"
)

// Producer is the subset of kafka.Producer used to emit events.
type Producer interface {
	Publish(ctx context.Context, m kafka.Message) error
}

// KafkaPublisher writes events onto the per-topic Kafka topics the search
// service consumes. Messages are keyed by page id so one page's events stay
// on one partition.
type KafkaPublisher struct {
	producers map[Topic]Producer
}

func NewKafkaPublisher(producers map[Topic]Producer) *KafkaPublisher {
	return &KafkaPublisher{producers: producers}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	producer, ok := p.producers[ev.Topic]
	if !ok {
		return fmt.Errorf("no producer for topic %s", ev.Topic)
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	return producer.Publish(ctx, kafka.Message{Key: ev.PageID, Value: ev})
}
