package main

import (
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/events"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/kafka"
	"github.com/spf13/cobra"
)

func newPublishCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "publish <page|bookmark|tag> <create|update|delete> <page-id>",
		Short: "Publish a domain event so the search service re-syncs a page",
		Args:  cobra.ExactArgs(3),
		RunE:  runPublish,
	}
	c.Flags().String(flagUser, "", "user id recorded on the event")
	return c
}

func runPublish(c *cobra.Command, args []string) error {
	ev := events.Event{
		Topic:  events.Topic(args[0]),
		Action: events.Action(args[1]),
		PageID: args[2],
	}
	ev.UserID, _ = c.Flags().GetString(flagUser)
	if err := ev.Validate(); err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	producers := map[events.Topic]*kafka.Producer{
		events.TopicPage:     kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Page),
		events.TopicBookmark: kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Bookmark),
		events.TopicTag:      kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Tag),
	}
	byTopic := make(map[events.Topic]events.Producer, len(producers))
	for topic, p := range producers {
		byTopic[topic] = p
		defer func() {
			if err := p.Close(); err != nil {
				slog.Warn("closing producer", "topic", topic, "error", err)
			}
		}()
	}

	if err := events.NewKafkaPublisher(byTopic).Publish(c.Context(), ev); err != nil {
		return fmt.Errorf("publish %s/%s: %w", ev.Topic, ev.Action, err)
	}
	fmt.Fprintf(c.OutOrStdout(), "published %s/%s for page %s\n", ev.Topic, ev.Action, ev.PageID)
	return nil
}
