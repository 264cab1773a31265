package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/segmentio/kafka-go"

	"github.com/example/ticket-inventory/internal/infrastructure/store"
)

type MessageHandler func(ctx context.Context, msg kafka.Message) error

type Consumer struct {
	reader *kafka.Reader
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader}
}

// Consume reads until ctx is cancelled. Handler errors are logged and the
// message is still committed; alerts are best effort.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[Kafka] Error reading message: %v", err)
			continue
		}

		if err := handler(ctx, msg); err != nil {
			log.Printf("[Kafka] Error handling %s at %d/%d: %v",
				describe(msg), msg.Partition, msg.Offset, err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// EventHandler decodes ledger events for fn. When aggregateTypes is non-empty,
// messages whose aggregate-type header names another type are skipped
// without being decoded.
func EventHandler(fn func(ctx context.Context, event store.Event) error, aggregateTypes ...string) MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		if t := header(msg, HeaderAggregateType); t != "" && !contains(aggregateTypes, t) {
			return nil
		}
		var event store.Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("decode event %s: %w", msg.Key, err)
		}
		return fn(ctx, event)
	}
}

func contains(list []string, s string) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func describe(msg kafka.Message) string {
	if t := header(msg, HeaderEventType); t != "" {
		return fmt.Sprintf("%s for %s", t, msg.Key)
	}
	return fmt.Sprintf("message %s", msg.Key)
}
