package hold

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu    sync.RWMutex
	holds map[string]Hold
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{holds: make(map[string]Hold)}
}

func (s *MemoryStore) Create(_ context.Context, h Hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holds[h.ID] = h
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.holds[id]
	if !ok {
		return Hold{}, ErrHoldNotFound
	}
	return h, nil
}

func (s *MemoryStore) Claim(_ context.Context, id string) (Hold, error) {
	return s.swap(id, StatusActive, StatusClosing)
}

func (s *MemoryStore) Unclaim(_ context.Context, id string) (Hold, error) {
	return s.swap(id, StatusClosing, StatusActive)
}

func (s *MemoryStore) Transition(_ context.Context, id string, to Status, reason string, at time.Time) (Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holds[id]
	if !ok {
		return Hold{}, ErrHoldNotFound
	}
	if !h.Status.Holding() {
		return h, ErrHoldNotActive
	}
	h.Status = to
	h.Reason = reason
	closed := at
	h.ClosedAt = &closed
	s.holds[id] = h
	return h, nil
}

func (s *MemoryStore) swap(id string, from, to Status) (Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holds[id]
	if !ok {
		return Hold{}, ErrHoldNotFound
	}
	if h.Status != from {
		return h, ErrHoldNotActive
	}
	h.Status = to
	s.holds[id] = h
	return h, nil
}

func (s *MemoryStore) ListClosing(_ context.Context) ([]Hold, error) {
	return s.filter(func(h Hold) bool { return h.Status == StatusClosing }), nil
}

func (s *MemoryStore) ListBySession(_ context.Context, sessionID string, activeOnly bool) ([]Hold, error) {
	return s.filter(func(h Hold) bool {
		return h.SessionID == sessionID && (!activeOnly || h.IsActive())
	}), nil
}

func (s *MemoryStore) ListActiveByEvent(_ context.Context, eventID string) ([]Hold, error) {
	return s.filter(func(h Hold) bool {
		return h.EventID == eventID && h.IsActive()
	}), nil
}

func (s *MemoryStore) ListDue(_ context.Context, now time.Time, limit int) ([]Hold, error) {
	due := s.filter(func(h Hold) bool { return h.DueForExpiry(now) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) SumActive(_ context.Context, ticketTypeID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, h := range s.holds {
		if h.TicketTypeID == ticketTypeID && h.Status.Holding() {
			total += h.Quantity
		}
	}
	return total, nil
}

func (s *MemoryStore) PurgeClosedBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, h := range s.holds {
		if h.ClosedAt != nil && h.ClosedAt.Before(cutoff) {
			delete(s.holds, id)
			n++
		}
	}
	return n, nil
}

// filter returns matching holds ordered by creation time.
func (s *MemoryStore) filter(keep func(Hold) bool) []Hold {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Hold
	for _, h := range s.holds {
		if keep(h) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
