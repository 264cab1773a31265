// Package notification turns the ledger event stream into operator stock
// alerts. It runs outside the API process, fed by Kafka or Kinesis.
package notification

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/example/ticket-inventory/internal/availability"
	"github.com/example/ticket-inventory/internal/domain/inventory"
	"github.com/example/ticket-inventory/internal/infrastructure/store"
)

// Mailer delivers one alert to one recipient
type Mailer interface {
	SendStockAlert(to string, alert availability.Alert, rec inventory.Record) error
}

// Handler tracks each ticket type's availability from ledger events and
// mails the operator when one moves into a scarcer level
type Handler struct {
	mailer    Mailer
	recipient string
	alerter   *availability.Alerter

	mu      sync.Mutex
	records map[string]inventory.Record
}

// NewHandler seeds the tracked state from the catalog so movements for
// ticket types registered before the consumer started can be classified.
func NewHandler(mailer Mailer, recipient string, view *availability.View, seed []inventory.TicketType) *Handler {
	h := &Handler{
		mailer:    mailer,
		recipient: recipient,
		alerter:   availability.NewAlerter(view, func() time.Time { return time.Now().UTC() }),
		records:   make(map[string]inventory.Record),
	}
	for _, tt := range seed {
		h.records[tt.ID] = inventory.Record{
			TicketTypeID: tt.ID,
			EventID:      tt.EventID,
			Name:         tt.Name,
			UnitPrice:    tt.UnitPrice,
			Total:        tt.Total,
			Sold:         tt.InitialSold,
		}
	}
	return h
}

// HandleEvent processes one ledger event. Redelivered events, recognised by
// a version at or below the last one seen, are ignored.
func (h *Handler) HandleEvent(ctx context.Context, event store.Event) error {
	if event.AggregateType != inventory.AggregateType {
		return nil
	}

	if event.EventType == inventory.EventTicketTypeRegistered {
		return h.handleRegistered(event)
	}

	var m inventory.Movement
	if err := json.Unmarshal(event.Data, &m); err != nil {
		log.Printf("[Notifier] Failed to unmarshal %s event %s: %v", event.EventType, event.ID, err)
		return err
	}

	h.mu.Lock()
	rec, ok := h.records[event.AggregateID]
	if !ok {
		h.mu.Unlock()
		log.Printf("[Notifier] Skipping %s for unknown ticket type %s", event.EventType, event.AggregateID)
		return nil
	}
	if event.Version != 0 && event.Version <= rec.Version {
		h.mu.Unlock()
		return nil
	}

	before := withAvailable(rec, m.AvailableBefore)
	after := withAvailable(rec, m.AvailableAfter)
	after.Version = event.Version
	h.records[event.AggregateID] = after
	h.mu.Unlock()

	alert, raised := h.alerter.Evaluate(before, after)
	if !raised {
		return nil
	}
	log.Printf("[Notifier] %s: %s", alert.Severity, alert.Message)

	if h.recipient == "" {
		return nil
	}
	if err := h.mailer.SendStockAlert(h.recipient, alert, after); err != nil {
		log.Printf("[Notifier] Failed to send alert to %s: %v", h.recipient, err)
		return err
	}
	log.Printf("[Notifier] Stock alert sent to %s for %s", h.recipient, after.TicketTypeID)
	return nil
}

func (h *Handler) handleRegistered(event store.Event) error {
	var reg inventory.TicketTypeRegistered
	if err := json.Unmarshal(event.Data, &reg); err != nil {
		log.Printf("[Notifier] Failed to unmarshal registration %s: %v", event.ID, err)
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if prev, ok := h.records[reg.TicketTypeID]; ok && event.Version != 0 && event.Version <= prev.Version {
		return nil
	}
	h.records[reg.TicketTypeID] = inventory.Record{
		TicketTypeID: reg.TicketTypeID,
		EventID:      reg.EventID,
		Name:         reg.Name,
		UnitPrice:    reg.UnitPrice,
		Total:        reg.Total,
		Sold:         reg.Sold,
		Version:      event.Version,
	}
	return nil
}

// Record returns the tracked state of a ticket type
func (h *Handler) Record(ticketTypeID string) (inventory.Record, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[ticketTypeID]
	return rec, ok
}

// withAvailable rewrites the counters so rec.Available() equals available.
// The stream only carries availability, so the split between sold and held
// is not tracked here.
func withAvailable(rec inventory.Record, available int) inventory.Record {
	rec.Held = 0
	rec.Sold = rec.Total - available
	return rec
}
