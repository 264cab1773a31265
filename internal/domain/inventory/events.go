package inventory

import (
	"context"
	"time"
)

const (
	EventTicketTypeRegistered = "TicketTypeRegistered"
	EventTicketsReserved      = "TicketsReserved"
	EventTicketsReleased      = "TicketsReleased"
	EventTicketsCommitted     = "TicketsCommitted"
	EventTicketsSold          = "TicketsSold"
)

type TicketTypeRegistered struct {
	TicketTypeID string    `json:"ticket_type_id"`
	EventID      string    `json:"event_id"`
	Name         string    `json:"name"`
	UnitPrice    int64     `json:"unit_price"`
	Total        int       `json:"total"`
	Sold         int       `json:"sold"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Movement is the payload of every counter-changing ledger event.
type Movement struct {
	TicketTypeID    string    `json:"ticket_type_id"`
	EventID         string    `json:"event_id"`
	Requested       int       `json:"requested"`
	Quantity        int       `json:"quantity"`
	AvailableBefore int       `json:"available_before"`
	AvailableAfter  int       `json:"available_after"`
	SessionID       string    `json:"session_id,omitempty"`
	HoldID          string    `json:"hold_id,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	At              time.Time `json:"at"`
}

// Audit carries who caused a ledger mutation. It rides on the context so the
// counter operations keep their narrow signatures.
type Audit struct {
	SessionID string
	HoldID    string
	Reason    string
}

type auditKey struct{}

func WithAudit(ctx context.Context, a Audit) context.Context {
	return context.WithValue(ctx, auditKey{}, a)
}

func AuditFromContext(ctx context.Context) Audit {
	if a, ok := ctx.Value(auditKey{}).(Audit); ok {
		return a
	}
	return Audit{}
}

// Entry is one line of a ticket type's audit trail.
type Entry struct {
	Version   int       `json:"version"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Movement
}

// Change describes a committed mutation. Observers receive it while the
// ticket type is still locked, so Before/After are exact.
type Change struct {
	EventType string
	Before    Record
	After     Record
	Movement  Movement
}
