// Package consumer feeds domain events read from Kafka into the event
// dispatcher. One consumer runs per topic.
package consumer

import (
	"context"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/events"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/kafka"
	"golang.org/x/sync/errgroup"
)

// Publisher accepts decoded events; *events.Dispatcher satisfies it.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// HandleMessage returns a kafka.MessageHandler for topic. Undecodable or
// invalid messages are logged and committed so they cannot wedge the
// partition. A publish that fails because ctx ended leaves the offset
// uncommitted.
func HandleMessage(topic events.Topic, pub Publisher) kafka.MessageHandler {
	logger := slog.Default().With("component", "event-consumer", "topic", topic)
	return func(ctx context.Context, key []byte, value []byte) error {
		ev, err := kafka.DecodeJSON[events.Event](value)
		if err != nil {
			logger.Error("failed to decode event",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		ev.Topic = topic
		if ev.PageID == "" {
			ev.PageID = string(key)
		}
		if err := ev.Validate(); err != nil {
			logger.Warn("dropping invalid event", "key", string(key), "error", err)
			return nil
		}

		logger.Debug("event received",
			"action", ev.Action,
			"page_id", ev.PageID,
		)
		return pub.Publish(ctx, ev)
	}
}

// Group runs one Kafka consumer per domain topic.
type Group struct {
	consumers []*kafka.Consumer
	logger    *slog.Logger
}

// NewGroup subscribes pub to the page, bookmark and tag topics.
func NewGroup(cfg config.KafkaConfig, pub Publisher) *Group {
	topics := []struct {
		topic events.Topic
		name  string
	}{
		{events.TopicPage, cfg.Topics.Page},
		{events.TopicBookmark, cfg.Topics.Bookmark},
		{events.TopicTag, cfg.Topics.Tag},
	}
	g := &Group{logger: slog.Default().With("component", "event-consumer")}
	for _, t := range topics {
		g.consumers = append(g.consumers, kafka.NewConsumer(cfg, t.name, HandleMessage(t.topic, pub)))
	}
	return g
}

// Start blocks until ctx is cancelled or a consumer fails.
func (g *Group) Start(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, c := range g.consumers {
		eg.Go(func() error {
			g.logger.Info("consuming", "kafka_topic", c.Topic())
			return c.Start(ctx)
		})
	}
	return eg.Wait()
}

func (g *Group) Close() {
	for _, c := range g.consumers {
		if err := c.Close(); err != nil {
			g.logger.Error("closing consumer", "kafka_topic", c.Topic(), "error", err)
		}
	}
}
