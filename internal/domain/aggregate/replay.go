// Package aggregate rebuilds event-sourced state from an event store and
// decides when that state is worth snapshotting.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ticket-inventory/internal/infrastructure/store"
)

type Aggregate interface {
	GetID() string
	GetVersion() int
	SetVersion(int)
	ApplyEvent(store.Event) error
}

// Replay describes how an aggregate was rebuilt.
type Replay struct {
	Found        bool
	FromSnapshot int // snapshot version, 0 when replayed from the first event
	Applied      int
}

// Load rebuilds agg in place from its latest snapshot plus every later event.
func Load(ctx context.Context, es store.EventStoreInterface, id string, agg Aggregate) (Replay, error) {
	var r Replay

	snap, err := es.GetSnapshot(ctx, id)
	if err != nil {
		return r, fmt.Errorf("get snapshot: %w", err)
	}

	var events []store.Event
	if snap != nil {
		if err := snap.Decode(agg); err != nil {
			return r, err
		}
		agg.SetVersion(snap.Version)
		r.FromSnapshot = snap.Version
		events, err = es.GetEventsFromVersion(ctx, id, snap.Version)
	} else {
		events, err = es.GetEvents(ctx, id)
	}
	if err != nil {
		return r, fmt.Errorf("load events: %w", err)
	}

	for _, event := range events {
		if event.Version <= agg.GetVersion() {
			continue
		}
		if err := agg.ApplyEvent(event); err != nil {
			return r, fmt.Errorf("apply %s v%d: %w", event.EventType, event.Version, err)
		}
		r.Applied++
	}
	r.Found = snap != nil || len(events) > 0
	return r, nil
}

// Snapshotter saves an aggregate's state every Every versions.
type Snapshotter struct {
	Store store.EventStoreInterface
	Type  string
	Every int
	Now   func() time.Time
}

func (s Snapshotter) Due(version int) bool {
	return s.Every > 0 && version > 0 && version%s.Every == 0
}

// Maybe saves a snapshot when agg's version is due and reports whether it did.
func (s Snapshotter) Maybe(ctx context.Context, agg Aggregate) (bool, error) {
	if !s.Due(agg.GetVersion()) {
		return false, nil
	}
	snap, err := store.NewSnapshot(agg.GetID(), s.Type, agg.GetVersion(), agg, s.Now())
	if err != nil {
		return false, err
	}
	if err := s.Store.SaveSnapshot(ctx, snap); err != nil {
		return false, fmt.Errorf("save snapshot: %w", err)
	}
	return true, nil
}
