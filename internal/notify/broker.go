// Package notify fans availability refreshes out to in-process subscribers.
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/ticket-inventory/internal/availability"
	"github.com/example/ticket-inventory/internal/domain/hold"
)

type Update struct {
	Kind         string              `json:"kind"`
	EventID      string              `json:"event_id"`
	TicketTypeID string              `json:"ticket_type_id"`
	Availability availability.Status `json:"availability"`
	Hold         *hold.Hold          `json:"hold,omitempty"`
	Alert        *availability.Alert `json:"alert,omitempty"`
	At           time.Time           `json:"at"`
}

const subscriberBuffer = 32

type subscriber struct {
	ch chan Update
}

// Broker delivers updates per event. A subscriber that does not keep up
// loses updates rather than stalling the publisher; every update carries the
// full current status, so the next one catches it up.
type Broker struct {
	mu      sync.RWMutex
	subs    map[string]map[*subscriber]struct{}
	dropped atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[*subscriber]struct{})}
}

// Subscribe returns a channel of updates for eventID and a cancel func that
// closes it.
func (b *Broker) Subscribe(eventID string) (<-chan Update, func()) {
	s := &subscriber{ch: make(chan Update, subscriberBuffer)}

	b.mu.Lock()
	if b.subs[eventID] == nil {
		b.subs[eventID] = make(map[*subscriber]struct{})
	}
	b.subs[eventID][s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[eventID], s)
			if len(b.subs[eventID]) == 0 {
				delete(b.subs, eventID)
			}
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, cancel
}

func (b *Broker) Publish(u Update) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[u.EventID] {
		select {
		case s.ch <- u:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped counts updates discarded because a subscriber's buffer was full.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribers reports the number of live subscriptions for eventID.
func (b *Broker) Subscribers(eventID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventID])
}
