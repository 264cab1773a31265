package hold

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusClosing   Status = "closing"
	StatusCommitted Status = "committed"
	StatusReleased  Status = "released"
	StatusExpired   Status = "expired"
)

// Terminal reports whether a hold in this status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCommitted || s == StatusReleased || s == StatusExpired
}

// Holding reports whether the ledger may still count the hold's tickets as held.
// A closing hold has been claimed for release or commit and is not yet terminal.
func (s Status) Holding() bool {
	return s == StatusActive || s == StatusClosing
}

// Purpose tags why a hold exists; it selects the hold duration.
type Purpose string

const (
	PurposeCheckout     Purpose = "checkout"
	PurposeCashPayment  Purpose = "cash-payment"
	PurposeAdminReserve Purpose = "admin-reserve"
)

// Release reasons recorded on terminal holds.
const (
	ReasonCancelled         = "cancelled"
	ReasonCheckoutCancelled = "checkout_cancelled"
	ReasonUpdated           = "updated"
	ReasonExpired           = "expired"
	ReasonCommitted         = "committed"
	ReasonPartialDeclined   = "partial_declined"
)

var (
	ErrHoldNotFound     = errors.New("hold not found")
	ErrHoldNotActive    = errors.New("hold is not active")
	ErrInvalidQuantity  = errors.New("quantity must be positive")
	ErrSessionRequired  = errors.New("session id is required")
	ErrTicketTypeNeeded = errors.New("ticket type id is required")
)

// Hold is a time-limited claim on ticket inventory owned by one session.
type Hold struct {
	ID                string     `json:"id"`
	TicketTypeID      string     `json:"ticket_type_id"`
	EventID           string     `json:"event_id"`
	SessionID         string     `json:"session_id"`
	Quantity          int        `json:"quantity"`
	RequestedQuantity int        `json:"requested_quantity"`
	Purpose           Purpose    `json:"purpose"`
	Status            Status     `json:"status"`
	Reason            string     `json:"reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
}

func (h Hold) IsActive() bool {
	return h.Status == StatusActive
}

// DueForExpiry reports whether the hold is still active past its deadline.
func (h Hold) DueForExpiry(now time.Time) bool {
	return h.IsActive() && !h.ExpiresAt.After(now)
}

// TimeRemaining is zero for terminal or overdue holds.
func (h Hold) TimeRemaining(now time.Time) time.Duration {
	if !h.IsActive() {
		return 0
	}
	if d := h.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// ExpiringSoon reports whether an active hold has less than warn left.
func (h Hold) ExpiringSoon(now time.Time, warn time.Duration) bool {
	remaining := h.TimeRemaining(now)
	return remaining > 0 && remaining <= warn
}

// Durations maps each purpose to how long its holds live.
type Durations struct {
	Checkout     time.Duration
	CashPayment  time.Duration
	AdminReserve time.Duration
}

func DefaultDurations() Durations {
	return Durations{
		Checkout:     15 * time.Minute,
		CashPayment:  4 * time.Hour,
		AdminReserve: 24 * time.Hour,
	}
}

// For returns the duration for p; unknown purposes get the checkout duration.
func (d Durations) For(p Purpose) time.Duration {
	switch p {
	case PurposeCashPayment:
		return d.CashPayment
	case PurposeAdminReserve:
		return d.AdminReserve
	default:
		return d.Checkout
	}
}

// Min is the shortest configured hold duration.
func (d Durations) Min() time.Duration {
	m := d.Checkout
	if d.CashPayment < m {
		m = d.CashPayment
	}
	if d.AdminReserve < m {
		m = d.AdminReserve
	}
	return m
}

// Store persists holds.
//
// Closing a hold is two compare-and-sets around the ledger movement: Claim
// moves it from active to closing, then Transition moves it from active or
// closing to a terminal status. Unclaim hands a claimed hold back to active
// when the ledger movement failed. Each returns ErrHoldNotActive when the
// hold is not in the expected state.
type Store interface {
	Create(ctx context.Context, h Hold) error
	Get(ctx context.Context, id string) (Hold, error)
	Claim(ctx context.Context, id string) (Hold, error)
	Unclaim(ctx context.Context, id string) (Hold, error)
	Transition(ctx context.Context, id string, to Status, reason string, at time.Time) (Hold, error)
	ListClosing(ctx context.Context) ([]Hold, error)
	ListBySession(ctx context.Context, sessionID string, activeOnly bool) ([]Hold, error)
	ListActiveByEvent(ctx context.Context, eventID string) ([]Hold, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]Hold, error)
	// SumActive totals the quantity of active and closing holds.
	SumActive(ctx context.Context, ticketTypeID string) (int, error)
	PurgeClosedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
