package inventory

import (
	"encoding/json"
	"fmt"

	"github.com/example/ticket-inventory/internal/infrastructure/store"
)

const AggregateType = "TicketType"

// TicketType is the immutable catalog entry a Record is built from.
type TicketType struct {
	ID          string `json:"id" yaml:"id"`
	EventID     string `json:"event_id" yaml:"-"`
	Name        string `json:"name" yaml:"name"`
	UnitPrice   int64  `json:"unit_price" yaml:"unit_price"`
	Total       int    `json:"total" yaml:"total"`
	InitialSold int    `json:"initial_sold" yaml:"sold"`
}

// Record holds the counters for one ticket type.
// Sold + Held never exceeds Total.
type Record struct {
	TicketTypeID string `json:"ticket_type_id"`
	EventID      string `json:"event_id"`
	Name         string `json:"name"`
	UnitPrice    int64  `json:"unit_price"`
	Total        int    `json:"total"`
	Sold         int    `json:"sold"`
	Held         int    `json:"held"`
	Version      int    `json:"version"`
}

func (r Record) Available() int {
	avail := r.Total - r.Sold - r.Held
	if avail < 0 {
		return 0
	}
	return avail
}

func (r *Record) GetID() string { return r.TicketTypeID }
func (r *Record) GetVersion() int { return r.Version }
func (r *Record) SetVersion(v int) { r.Version = v }

// ApplyEvent replays a stored ledger event onto the record.
func (r *Record) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventTicketTypeRegistered:
		var data TicketTypeRegistered
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		r.TicketTypeID = data.TicketTypeID
		r.EventID = data.EventID
		r.Name = data.Name
		r.UnitPrice = data.UnitPrice
		r.Total = data.Total
		r.Sold = data.Sold
	case EventTicketsReserved, EventTicketsReleased, EventTicketsCommitted, EventTicketsSold:
		var data Movement
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		r.move(event.EventType, data.Quantity)
	default:
		return fmt.Errorf("unknown ledger event %q", event.EventType)
	}
	r.Version = event.Version
	return nil
}

func (r *Record) move(eventType string, qty int) {
	switch eventType {
	case EventTicketsReserved:
		r.Held += qty
	case EventTicketsReleased:
		r.Held -= qty
		if r.Held < 0 {
			r.Held = 0
		}
	case EventTicketsCommitted:
		r.Held -= qty
		r.Sold += qty
	case EventTicketsSold:
		r.Sold += qty
	}
}
