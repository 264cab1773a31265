package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ticket-inventory/internal/infrastructure/store"
)

// Header keys set on ledger event messages.
const (
	HeaderEventType     = "event-type"
	HeaderAggregateType = "aggregate-type"
)

// Producer publishes ledger events. Messages are keyed by ticket type id and
// hashed to a partition, so one ticket type's events stay in order.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return &Producer{writer: writer}
}

func (p *Producer) Publish(ctx context.Context, key string, event any) error {
	msg, err := encodeMessage(key, event, time.Now())
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// encodeMessage stamps ledger events with their own timestamp and type
// headers; anything else is sent as plain JSON stamped with now.
func encodeMessage(key string, event any, now time.Time) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s: %w", key, err)
	}

	msg := kafka.Message{Key: []byte(key), Value: data, Time: now}

	var e *store.Event
	switch v := event.(type) {
	case store.Event:
		e = &v
	case *store.Event:
		e = v
	}
	if e != nil {
		msg.Time = e.Timestamp
		msg.Headers = []kafka.Header{
			{Key: HeaderEventType, Value: []byte(e.EventType)},
			{Key: HeaderAggregateType, Value: []byte(e.AggregateType)},
		}
	}
	return msg, nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
