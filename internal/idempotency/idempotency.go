// Package idempotency remembers the response of a request by client-supplied key.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

const (
	keyPrefix  = "idempotency:hold:"
	DefaultTTL = 24 * time.Hour

	statusProcessing = "processing"
	statusSuccess    = "success"
)

var ErrInProgress = errors.New("idempotency key is already being processed")

// Store claims keys. Begin returns the stored result for a completed key, or
// nil once the caller owns the key and must finish with Complete or Abort.
type Store interface {
	Begin(ctx context.Context, key string) (json.RawMessage, error)
	Complete(ctx context.Context, key string, result json.RawMessage) error
	Abort(ctx context.Context, key string) error
}

type state struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

type memoryEntry struct {
	state   state
	expires time.Time
}

// MemoryStore is the single-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

func NewMemoryStore(ttl time.Duration, now func() time.Time) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: now, entries: make(map[string]memoryEntry)}
}

func (m *MemoryStore) Begin(_ context.Context, key string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.entries[keyPrefix+key]; ok && now.Before(e.expires) {
		if e.state.Status == statusSuccess {
			return e.state.Result, nil
		}
		return nil, ErrInProgress
	}
	m.entries[keyPrefix+key] = memoryEntry{state: state{Status: statusProcessing}, expires: now.Add(m.ttl)}
	return nil, nil
}

func (m *MemoryStore) Complete(_ context.Context, key string, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[keyPrefix+key] = memoryEntry{
		state:   state{Status: statusSuccess, Result: result},
		expires: m.now().Add(m.ttl),
	}
	return nil
}

func (m *MemoryStore) Abort(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, keyPrefix+key)
	return nil
}
