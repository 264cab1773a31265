// Package reservation is the only entry point that mutates inventory. It
// coordinates the ledger, the hold store and the conflict resolver, and
// pushes a refresh to subscribers after every change.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/ticket-inventory/internal/availability"
	"github.com/example/ticket-inventory/internal/clock"
	"github.com/example/ticket-inventory/internal/domain/conflict"
	"github.com/example/ticket-inventory/internal/domain/hold"
	"github.com/example/ticket-inventory/internal/domain/inventory"
	"github.com/example/ticket-inventory/internal/keylock"
	"github.com/example/ticket-inventory/internal/metrics"
	"github.com/example/ticket-inventory/internal/notify"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrHoldExpired  = errors.New("hold has expired")
	ErrNotDue       = errors.New("hold is not due for expiry")
)

const transitionAttempts = 3

const (
	UpdateHoldCreated   = "hold-created"
	UpdateHoldReleased  = "hold-released"
	UpdateHoldExpired   = "hold-expired"
	UpdateHoldCommitted = "hold-committed"
	UpdatePurchase      = "purchase-completed"
	UpdateAvailability  = "availability"
)

type Config struct {
	Durations     hold.Durations
	AllowPartial  bool
	ExpiryWarning time.Duration
}

func DefaultConfig() Config {
	return Config{
		Durations:     hold.DefaultDurations(),
		AllowPartial:  true,
		ExpiryWarning: 2 * time.Minute,
	}
}

type Gateway struct {
	ledger   *inventory.Ledger
	holds    hold.Store
	view     *availability.View
	broker   *notify.Broker
	resolver conflict.Resolver
	clock    clock.Clock
	locks    *keylock.Map
	tracer   trace.Tracer
	cfg      Config
}

type Option func(*Gateway)

func WithClock(c clock.Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

func WithConfig(cfg Config) Option {
	return func(g *Gateway) { g.cfg = cfg }
}

func NewGateway(ledger *inventory.Ledger, holds hold.Store, view *availability.View, broker *notify.Broker, opts ...Option) *Gateway {
	g := &Gateway{
		ledger: ledger,
		holds:  holds,
		view:   view,
		broker: broker,
		clock:  clock.Real(),
		locks:  keylock.New(),
		tracer: otel.Tracer("reservation"),
		cfg:    DefaultConfig(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.resolver = conflict.NewResolver(g.cfg.AllowPartial)
	return g
}

func (g *Gateway) Now() time.Time {
	return g.clock.Now()
}

// CheckAvailability classifies every ticket type of an event from the live ledger.
func (g *Gateway) CheckAvailability(ctx context.Context, eventID string) (map[string]availability.Status, error) {
	_, span := g.tracer.Start(ctx, "CheckAvailability", trace.WithAttributes(attribute.String("event_id", eventID)))
	defer span.End()

	records := g.ledger.Records(eventID)
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, eventID)
	}
	out := make(map[string]availability.Status, len(records))
	for _, rec := range records {
		out[rec.TicketTypeID] = g.view.Classify(rec)
	}
	return out, nil
}

// CreateHold reserves up to req.Quantity and records a hold for what was
// granted. Shortfalls come back as Partial, Denied or SoldOut outcomes, not errors.
func (g *Gateway) CreateHold(ctx context.Context, req CreateHoldRequest) (CreateHoldResult, error) {
	ctx, span := g.tracer.Start(ctx, "CreateHold", trace.WithAttributes(
		attribute.String("ticket_type_id", req.TicketTypeID),
		attribute.Int("quantity", req.Quantity),
	))
	defer span.End()

	switch {
	case req.TicketTypeID == "":
		return CreateHoldResult{}, hold.ErrTicketTypeNeeded
	case req.SessionID == "":
		return CreateHoldResult{}, hold.ErrSessionRequired
	case req.Quantity <= 0:
		return CreateHoldResult{}, hold.ErrInvalidQuantity
	}
	if req.Purpose == "" {
		req.Purpose = hold.PurposeCheckout
	}

	rec, err := g.ledger.Snapshot(req.TicketTypeID)
	if err != nil {
		return CreateHoldResult{}, err
	}

	holdID := uuid.New().String()
	actx := inventory.WithAudit(ctx, inventory.Audit{SessionID: req.SessionID, HoldID: holdID})

	granted, err := g.ledger.Reserve(actx, req.TicketTypeID, req.Quantity)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return CreateHoldResult{}, err
	}

	outcome := g.resolver.Resolve(req.Quantity, granted)
	metrics.HoldOutcomes.WithLabelValues(outcome.Kind()).Inc()
	span.SetAttributes(attribute.String("outcome", outcome.Kind()), attribute.Int("granted", granted))
	result := CreateHoldResult{Outcome: outcome, Message: outcome.Message()}

	switch outcome.(type) {
	case conflict.Granted, conflict.Partial:
		now := g.clock.Now()
		h := hold.Hold{
			ID:                holdID,
			TicketTypeID:      req.TicketTypeID,
			EventID:           rec.EventID,
			SessionID:         req.SessionID,
			Quantity:          granted,
			RequestedQuantity: req.Quantity,
			Purpose:           req.Purpose,
			Status:            hold.StatusActive,
			CreatedAt:         now,
			ExpiresAt:         now.Add(g.cfg.Durations.For(req.Purpose)),
		}
		if err := g.holds.Create(ctx, h); err != nil {
			// the grant has no hold to account for it; hand it back
			if relErr := g.ledger.Release(actx, req.TicketTypeID, granted, "hold_store_failed"); relErr != nil {
				log.Printf("[Gateway] Failed to return %d %s after hold store error: %v", granted, req.TicketTypeID, relErr)
			}
			span.SetStatus(codes.Error, err.Error())
			return CreateHoldResult{}, fmt.Errorf("create hold: %w", err)
		}
		result.Hold = &h
		g.publish(ctx, UpdateHoldCreated, rec.EventID, req.TicketTypeID, &h)

	case conflict.Denied:
		if err := g.ledger.Release(actx, req.TicketTypeID, granted, hold.ReasonPartialDeclined); err != nil {
			return CreateHoldResult{}, err
		}
		g.publish(ctx, UpdateAvailability, rec.EventID, req.TicketTypeID, nil)

	case conflict.SoldOut:
	}

	return result, nil
}

// ReleaseHold returns an active hold's tickets to availability.
func (g *Gateway) ReleaseHold(ctx context.Context, holdID, reason string) error {
	ctx, span := g.tracer.Start(ctx, "ReleaseHold", trace.WithAttributes(attribute.String("hold_id", holdID)))
	defer span.End()

	if reason == "" {
		reason = hold.ReasonCancelled
	}
	unlock := g.locks.Lock(holdID)
	defer unlock()

	h, err := g.activeHold(ctx, holdID)
	if err != nil {
		return err
	}
	_, err = g.close(ctx, h, hold.StatusReleased, reason)
	return err
}

// ExpireHold is the scheduler's path: same ledger effect as a release, but
// the hold ends up Expired. Holds not yet past their deadline are left alone.
func (g *Gateway) ExpireHold(ctx context.Context, holdID string) error {
	ctx, span := g.tracer.Start(ctx, "ExpireHold", trace.WithAttributes(attribute.String("hold_id", holdID)))
	defer span.End()

	unlock := g.locks.Lock(holdID)
	defer unlock()

	h, err := g.activeHold(ctx, holdID)
	if err != nil {
		return err
	}
	if !h.DueForExpiry(g.clock.Now()) {
		return fmt.Errorf("%w: %s", ErrNotDue, holdID)
	}
	_, err = g.close(ctx, h, hold.StatusExpired, hold.ReasonExpired)
	return err
}

// ReleaseAllHolds releases every active hold of a session. Holds that close
// concurrently are skipped, so repeated calls are safe.
func (g *Gateway) ReleaseAllHolds(ctx context.Context, sessionID string) (int, error) {
	ctx, span := g.tracer.Start(ctx, "ReleaseAllHolds")
	defer span.End()

	if sessionID == "" {
		return 0, hold.ErrSessionRequired
	}
	active, err := g.holds.ListBySession(ctx, sessionID, true)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, h := range active {
		err := g.ReleaseHold(ctx, h.ID, hold.ReasonCheckoutCancelled)
		switch {
		case err == nil:
			released++
		case errors.Is(err, hold.ErrHoldNotActive), errors.Is(err, hold.ErrHoldNotFound):
			log.Printf("[Gateway] Skipping hold %s during session release: %v", h.ID, err)
		default:
			return released, err
		}
	}
	return released, nil
}

// UpdateHold changes a hold's quantity by releasing it in full and creating
// a new hold, so every change goes through the same ledger path.
func (g *Gateway) UpdateHold(ctx context.Context, holdID string, quantity int) (CreateHoldResult, error) {
	ctx, span := g.tracer.Start(ctx, "UpdateHold", trace.WithAttributes(attribute.String("hold_id", holdID)))
	defer span.End()

	if quantity <= 0 {
		return CreateHoldResult{}, hold.ErrInvalidQuantity
	}

	unlock := g.locks.Lock(holdID)
	h, err := g.activeHold(ctx, holdID)
	if err == nil {
		_, err = g.close(ctx, h, hold.StatusReleased, hold.ReasonUpdated)
	}
	unlock()
	if err != nil {
		return CreateHoldResult{}, err
	}

	return g.CreateHold(ctx, CreateHoldRequest{
		TicketTypeID: h.TicketTypeID,
		SessionID:    h.SessionID,
		Quantity:     quantity,
		Purpose:      h.Purpose,
	})
}

// CommitHold converts a paid hold into sold tickets. A hold past its
// deadline is expired instead of committed.
func (g *Gateway) CommitHold(ctx context.Context, holdID string) (CommitResult, error) {
	ctx, span := g.tracer.Start(ctx, "CommitHold", trace.WithAttributes(attribute.String("hold_id", holdID)))
	defer span.End()

	unlock := g.locks.Lock(holdID)
	defer unlock()

	h, err := g.activeHold(ctx, holdID)
	if err != nil {
		return CommitResult{Success: false, Message: "Hold not found or already closed"}, err
	}

	if h.DueForExpiry(g.clock.Now()) {
		closed, err := g.close(ctx, h, hold.StatusExpired, hold.ReasonExpired)
		if err != nil {
			return CommitResult{Success: false, Message: "Hold expired"}, err
		}
		return CommitResult{Success: false, Message: "Hold expired", Hold: &closed},
			fmt.Errorf("%w: %s", ErrHoldExpired, holdID)
	}

	closed, err := g.close(ctx, h, hold.StatusCommitted, hold.ReasonCommitted)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return CommitResult{Success: false, Message: "Commit failed"}, err
	}
	return CommitResult{
		Success: true,
		Message: fmt.Sprintf("Purchase completed for %d tickets", closed.Quantity),
		Hold:    &closed,
	}, nil
}

// Purchase sells tickets without a prior hold. It never partially fills.
func (g *Gateway) Purchase(ctx context.Context, req PurchaseRequest) (PurchaseResult, error) {
	ctx, span := g.tracer.Start(ctx, "Purchase", trace.WithAttributes(attribute.String("ticket_type_id", req.TicketTypeID)))
	defer span.End()

	if req.TicketTypeID == "" {
		return PurchaseResult{}, hold.ErrTicketTypeNeeded
	}
	if req.Quantity <= 0 {
		return PurchaseResult{}, hold.ErrInvalidQuantity
	}
	rec, err := g.ledger.Snapshot(req.TicketTypeID)
	if err != nil {
		return PurchaseResult{}, err
	}

	actx := inventory.WithAudit(ctx, inventory.Audit{SessionID: req.SessionID, Reason: "direct purchase"})
	ok, available, err := g.ledger.Sell(actx, req.TicketTypeID, req.Quantity)
	if err != nil {
		return PurchaseResult{}, err
	}

	var outcome conflict.Outcome
	switch {
	case ok:
		outcome = conflict.Granted{Quantity: req.Quantity}
		g.publish(ctx, UpdatePurchase, rec.EventID, req.TicketTypeID, nil)
	case available == 0:
		outcome = conflict.SoldOut{Requested: req.Quantity}
	default:
		outcome = conflict.Denied{Requested: req.Quantity, Available: available}
	}

	result := PurchaseResult{Outcome: outcome, Message: outcome.Message(), Remaining: available}
	if ok {
		result.Message = fmt.Sprintf("Purchase completed for %d tickets", req.Quantity)
	}
	return result, nil
}

func (g *Gateway) GetHold(ctx context.Context, holdID string) (HoldDetails, error) {
	h, err := g.holds.Get(ctx, holdID)
	if err != nil {
		return HoldDetails{}, err
	}
	return g.Describe(h), nil
}

// Describe computes the countdown fields for h at the current time.
func (g *Gateway) Describe(h hold.Hold) HoldDetails {
	now := g.clock.Now()
	return HoldDetails{
		Hold:             h,
		SecondsRemaining: int(h.TimeRemaining(now).Seconds()),
		ExpiringSoon:     h.ExpiringSoon(now, g.cfg.ExpiryWarning),
	}
}

// GetHoldForTicketType returns the session's active hold on a ticket type, or nil.
func (g *Gateway) GetHoldForTicketType(ctx context.Context, sessionID, ticketTypeID string) (*hold.Hold, error) {
	active, err := g.holds.ListBySession(ctx, sessionID, true)
	if err != nil {
		return nil, err
	}
	for _, h := range active {
		if h.TicketTypeID == ticketTypeID {
			return &h, nil
		}
	}
	return nil, nil
}

func (g *Gateway) GetTotalHeldQuantity(ctx context.Context, sessionID string) (int, error) {
	active, err := g.holds.ListBySession(ctx, sessionID, true)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, h := range active {
		total += h.Quantity
	}
	return total, nil
}

func (g *Gateway) SessionHolds(ctx context.Context, sessionID string) ([]hold.Hold, error) {
	return g.holds.ListBySession(ctx, sessionID, true)
}

func (g *Gateway) EventStatus(ctx context.Context, eventID string) (EventStatus, error) {
	records := g.ledger.Records(eventID)
	if len(records) == 0 {
		return EventStatus{}, fmt.Errorf("%w: %s", ErrUnknownEvent, eventID)
	}
	active, err := g.holds.ListActiveByEvent(ctx, eventID)
	if err != nil {
		return EventStatus{}, err
	}

	status := EventStatus{
		EventID:     eventID,
		TicketTypes: records,
		ActiveHolds: active,
		LastUpdated: g.clock.Now(),
	}
	for _, rec := range records {
		status.TotalTickets += rec.Total
		status.TotalSold += rec.Sold
		status.TotalHeld += rec.Held
		status.TotalAvailable += rec.Available()
		status.Availability = append(status.Availability, g.view.Classify(rec))
	}
	return status, nil
}

func (g *Gateway) History(ctx context.Context, ticketTypeID string) ([]inventory.Entry, error) {
	return g.ledger.History(ctx, ticketTypeID)
}

// Subscribe streams refreshes for an event until cancel is called.
func (g *Gateway) Subscribe(eventID string) (<-chan notify.Update, func()) {
	return g.broker.Subscribe(eventID)
}

func (g *Gateway) activeHold(ctx context.Context, holdID string) (hold.Hold, error) {
	h, err := g.holds.Get(ctx, holdID)
	if err != nil {
		return hold.Hold{}, err
	}
	if !h.IsActive() {
		return h, fmt.Errorf("%w: %s is %s", hold.ErrHoldNotActive, holdID, h.Status)
	}
	return h, nil
}

// close claims the hold, applies the ledger side of a terminal transition,
// then records it on the hold. A hold whose ledger movement fails goes back
// to active. Callers hold the hold's lock.
func (g *Gateway) close(ctx context.Context, h hold.Hold, to hold.Status, reason string) (hold.Hold, error) {
	claimed, err := g.holds.Claim(ctx, h.ID)
	if err != nil {
		return h, err
	}

	actx := inventory.WithAudit(ctx, inventory.Audit{SessionID: h.SessionID, HoldID: h.ID, Reason: reason})
	if to == hold.StatusCommitted {
		err = g.ledger.Commit(actx, h.TicketTypeID, h.Quantity)
	} else {
		err = g.ledger.Release(actx, h.TicketTypeID, h.Quantity, reason)
	}
	if err != nil {
		if _, uerr := g.holds.Unclaim(ctx, h.ID); uerr != nil {
			log.Printf("[Gateway] Hold %s left closing after failed ledger %s: %v", h.ID, to, uerr)
		}
		return h, err
	}

	return g.finish(ctx, claimed, to, reason)
}

// finish moves a closing hold whose ledger movement is already stored to its
// terminal status. On failure the hold stays closing until RecoverClosing.
func (g *Gateway) finish(ctx context.Context, h hold.Hold, to hold.Status, reason string) (hold.Hold, error) {
	var (
		closed hold.Hold
		err    error
	)
	for attempt := 0; attempt < transitionAttempts; attempt++ {
		closed, err = g.holds.Transition(ctx, h.ID, to, reason, g.clock.Now())
		if err == nil || errors.Is(err, hold.ErrHoldNotActive) || errors.Is(err, hold.ErrHoldNotFound) {
			break
		}
	}
	if err != nil {
		log.Printf("[Gateway] Hold %s left closing after ledger %s: %v", h.ID, to, err)
		return h, err
	}
	metrics.HoldsClosed.WithLabelValues(string(to)).Inc()

	kind := UpdateHoldReleased
	switch to {
	case hold.StatusExpired:
		kind = UpdateHoldExpired
	case hold.StatusCommitted:
		kind = UpdateHoldCommitted
	}
	g.publish(ctx, kind, h.EventID, h.TicketTypeID, &closed)
	return closed, nil
}

// RecoverClosing settles holds left closing by an interrupted close. A hold
// whose movement is in the ledger is moved to the matching terminal status;
// any other goes back to active.
func (g *Gateway) RecoverClosing(ctx context.Context) (int, error) {
	closing, err := g.holds.ListClosing(ctx)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, h := range closing {
		unlock := g.locks.Lock(h.ID)
		err := g.settle(ctx, h)
		unlock()
		if err != nil {
			return settled, err
		}
		settled++
	}
	if settled > 0 {
		log.Printf("[Gateway] Settled %d closing holds", settled)
	}
	return settled, nil
}

func (g *Gateway) settle(ctx context.Context, h hold.Hold) error {
	entries, err := g.ledger.History(ctx, h.TicketTypeID)
	if err != nil {
		return err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.HoldID != h.ID {
			continue
		}
		switch e.EventType {
		case inventory.EventTicketsCommitted:
			_, err = g.finish(ctx, h, hold.StatusCommitted, e.Reason)
			return err
		case inventory.EventTicketsReleased:
			to := hold.StatusReleased
			if e.Reason == hold.ReasonExpired {
				to = hold.StatusExpired
			}
			_, err = g.finish(ctx, h, to, e.Reason)
			return err
		}
	}
	_, err = g.holds.Unclaim(ctx, h.ID)
	return err
}

func (g *Gateway) publish(_ context.Context, kind, eventID, ticketTypeID string, h *hold.Hold) {
	rec, err := g.ledger.Snapshot(ticketTypeID)
	if err != nil {
		return
	}
	g.broker.Publish(notify.Update{
		Kind:         kind,
		EventID:      eventID,
		TicketTypeID: ticketTypeID,
		Availability: g.view.Classify(rec),
		Hold:         h,
		At:           g.clock.Now(),
	})
}
