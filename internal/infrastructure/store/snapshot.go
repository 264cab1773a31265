package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotThreshold is the default number of ledger events between snapshots.
const SnapshotThreshold = 50

// Snapshot is a ledger record's serialized state as of Version. Events with
// a higher version are replayed on top of it.
type Snapshot struct {
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       int             `json:"version"`
	State         json.RawMessage `json:"state"`
	CreatedAt     time.Time       `json:"created_at"`
}

func NewSnapshot(aggregateID, aggregateType string, version int, state any, at time.Time) (*Snapshot, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot of %s: %w", aggregateID, err)
	}
	return &Snapshot{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       version,
		State:         raw,
		CreatedAt:     at,
	}, nil
}

// Decode unmarshals the saved state into v.
func (s *Snapshot) Decode(v any) error {
	if err := json.Unmarshal(s.State, v); err != nil {
		return fmt.Errorf("decode snapshot of %s at v%d: %w", s.AggregateID, s.Version, err)
	}
	return nil
}
