package store

import (
	"context"
	"errors"
	"log"

	"github.com/example/ticket-inventory/internal/metrics"
)

// ErrVersionConflict is returned when the aggregate has moved past the
// version the writer last saw.
var ErrVersionConflict = errors.New("event version conflict")

// EventStoreInterface defines the interface for ledger event stores.
//
// Append stores the event as version expectedVersion+1 and fails with
// ErrVersionConflict when the aggregate is not at expectedVersion. A nil
// error means the event is durable.
type EventStoreInterface interface {
	Append(ctx context.Context, aggregateID, aggregateType, eventType string, expectedVersion int, data any) (*Event, error)
	GetEvents(ctx context.Context, aggregateID string) ([]Event, error)
	GetEventsFromVersion(ctx context.Context, aggregateID string, fromVersion int) ([]Event, error)
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
	GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error)
}

// Publisher fans stored events out to other processes (Kafka in production).
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// publish runs after the event is stored. Failing the append at that point
// would invite a retry that stores the movement twice, so a publish error is
// logged and counted instead; consumers catch up from the next event.
func publish(ctx context.Context, p Publisher, event Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, event.AggregateID, event); err != nil {
		metrics.EventPublishFailures.Inc()
		log.Printf("[Store] Publish of %s v%d for %s failed: %v", event.EventType, event.Version, event.AggregateID, err)
	}
}
