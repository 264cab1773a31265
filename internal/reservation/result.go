package reservation

import (
	"time"

	"github.com/example/ticket-inventory/internal/availability"
	"github.com/example/ticket-inventory/internal/domain/conflict"
	"github.com/example/ticket-inventory/internal/domain/hold"
	"github.com/example/ticket-inventory/internal/domain/inventory"
)

type CreateHoldRequest struct {
	TicketTypeID string       `json:"ticket_type_id"`
	SessionID    string       `json:"-"`
	Quantity     int          `json:"quantity"`
	Purpose      hold.Purpose `json:"purpose"`
}

// CreateHoldResult carries the resolver outcome. Hold is set for Granted and
// Partial outcomes only.
type CreateHoldResult struct {
	Outcome conflict.Outcome
	Message string
	Hold    *hold.Hold
}

func (r CreateHoldResult) Success() bool {
	return conflict.Success(r.Outcome)
}

type CommitResult struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Hold    *hold.Hold `json:"hold,omitempty"`
}

type PurchaseRequest struct {
	TicketTypeID string `json:"ticket_type_id"`
	SessionID    string `json:"-"`
	Quantity     int    `json:"quantity"`
}

type PurchaseResult struct {
	Outcome   conflict.Outcome
	Message   string
	Remaining int
}

func (r PurchaseResult) Success() bool {
	return conflict.Success(r.Outcome)
}

// HoldDetails adds the countdown fields a checkout page renders.
type HoldDetails struct {
	hold.Hold
	SecondsRemaining int  `json:"seconds_remaining"`
	ExpiringSoon     bool `json:"expiring_soon"`
}

// EventStatus sums the ledger over every ticket type of one event.
type EventStatus struct {
	EventID        string                `json:"event_id"`
	TotalTickets   int                   `json:"total_tickets"`
	TotalSold      int                   `json:"total_sold"`
	TotalHeld      int                   `json:"total_held"`
	TotalAvailable int                   `json:"total_available"`
	TicketTypes    []inventory.Record    `json:"ticket_types"`
	Availability   []availability.Status `json:"availability"`
	ActiveHolds    []hold.Hold           `json:"active_holds"`
	LastUpdated    time.Time             `json:"last_updated"`
}
