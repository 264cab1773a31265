package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/example/ticket-inventory/internal/clock"
	"github.com/example/ticket-inventory/internal/domain/aggregate"
	"github.com/example/ticket-inventory/internal/infrastructure/store"
	"github.com/example/ticket-inventory/internal/metrics"
)

var (
	ErrUnknownTicketType = errors.New("unknown ticket type")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrLedgerInvariant   = errors.New("ledger invariant violation")
)

type entry struct {
	mu  sync.Mutex
	rec Record
}

// Ledger is the authoritative stock counter per ticket type. Every mutation
// is appended to the event store before the in-memory record changes, and
// mutations on one ticket type are serialized by that type's mutex.
type Ledger struct {
	eventStore store.EventStoreInterface
	clock      clock.Clock
	snapshots  aggregate.Snapshotter
	observers  []func(Change)

	mu      sync.RWMutex
	entries map[string]*entry
}

type Option func(*Ledger)

func WithClock(c clock.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithObserver registers fn to run after every successful mutation.
// fn must not call back into the ledger.
func WithObserver(fn func(Change)) Option {
	return func(l *Ledger) { l.observers = append(l.observers, fn) }
}

func NewLedger(es store.EventStoreInterface, opts ...Option) *Ledger {
	l := &Ledger{
		eventStore: es,
		clock:      clock.Real(),
		entries:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.snapshots = aggregate.Snapshotter{
		Store: es,
		Type:  AggregateType,
		Every: store.SnapshotThreshold,
		Now:   l.clock.Now,
	}
	return l
}

// Restore rebuilds records from the latest snapshot plus later events.
// Ticket types with no history are registered from the catalog.
func (l *Ledger) Restore(ctx context.Context, types []TicketType) error {
	for _, tt := range types {
		rec := &Record{}
		replay, err := aggregate.Load(ctx, l.eventStore, tt.ID, rec)
		if err != nil {
			return fmt.Errorf("restore %s: %w", tt.ID, err)
		}

		if !replay.Found {
			rec, err = l.register(ctx, tt)
			if errors.Is(err, store.ErrVersionConflict) {
				// another instance registered it first
				rec = &Record{}
				_, err = aggregate.Load(ctx, l.eventStore, tt.ID, rec)
			}
			if err != nil {
				return fmt.Errorf("register %s: %w", tt.ID, err)
			}
		} else if replay.FromSnapshot > 0 {
			log.Printf("[Ledger] %s restored from v%d snapshot plus %d events", tt.ID, replay.FromSnapshot, replay.Applied)
		}
		if rec.Sold+rec.Held > rec.Total {
			metrics.LedgerInvariantViolations.Inc()
			log.Printf("[Ledger] INVARIANT VIOLATION: %s restored with sold=%d held=%d total=%d",
				tt.ID, rec.Sold, rec.Held, rec.Total)
		}

		l.mu.Lock()
		l.entries[tt.ID] = &entry{rec: *rec}
		l.mu.Unlock()
		l.notify(Change{EventType: EventTicketTypeRegistered, Before: *rec, After: *rec})
	}
	log.Printf("[Ledger] Restored %d ticket types", len(types))
	return nil
}

func (l *Ledger) register(ctx context.Context, tt TicketType) (*Record, error) {
	if tt.Total < 0 || tt.InitialSold < 0 || tt.InitialSold > tt.Total {
		return nil, fmt.Errorf("%w: total=%d sold=%d", ErrInvalidQuantity, tt.Total, tt.InitialSold)
	}
	data := TicketTypeRegistered{
		TicketTypeID: tt.ID,
		EventID:      tt.EventID,
		Name:         tt.Name,
		UnitPrice:    tt.UnitPrice,
		Total:        tt.Total,
		Sold:         tt.InitialSold,
		RegisteredAt: l.clock.Now(),
	}
	stored, err := l.eventStore.Append(ctx, tt.ID, AggregateType, EventTicketTypeRegistered, 0, data)
	if err != nil {
		return nil, err
	}
	rec := &Record{}
	if err := rec.ApplyEvent(*stored); err != nil {
		return nil, err
	}
	return rec, nil
}

// maxAppendAttempts bounds how often a movement is re-planned after another
// writer appended to the same ticket type first.
const maxAppendAttempts = 5

// step is one planned movement; a zero qty appends nothing.
type step struct {
	eventType string
	requested int
	qty       int
}

// Reserve grants min(qty, available) and moves it into Held. It never waits
// for stock; a zero grant appends nothing.
func (l *Ledger) Reserve(ctx context.Context, ticketTypeID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}
	e, err := l.entry(ticketTypeID)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st, _, err := l.apply(ctx, e, func(rec Record) (step, error) {
		return step{EventTicketsReserved, qty, min(qty, rec.Available())}, nil
	})
	if err != nil {
		return 0, err
	}
	return st.qty, nil
}

// Release returns qty held tickets to availability, clamped at the held count.
func (l *Ledger) Release(ctx context.Context, ticketTypeID string, qty int, reason string) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	e, err := l.entry(ticketTypeID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if reason != "" {
		a := AuditFromContext(ctx)
		a.Reason = reason
		ctx = WithAudit(ctx, a)
	}
	_, _, err = l.apply(ctx, e, func(rec Record) (step, error) {
		actual := min(qty, rec.Held)
		if actual < qty {
			log.Printf("[Ledger] Release of %d on %s clamped to %d held", qty, ticketTypeID, rec.Held)
		}
		return step{EventTicketsReleased, qty, actual}, nil
	})
	return err
}

// Commit moves qty from Held to Sold. Committing more than is held means the
// caller's bookkeeping is broken; nothing changes and ErrLedgerInvariant is returned.
func (l *Ledger) Commit(ctx context.Context, ticketTypeID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	e, err := l.entry(ticketTypeID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	_, _, err = l.apply(ctx, e, func(rec Record) (step, error) {
		if rec.Held < qty {
			metrics.LedgerInvariantViolations.Inc()
			log.Printf("[Ledger] INVARIANT VIOLATION: commit %d on %s with only %d held", qty, ticketTypeID, rec.Held)
			return step{}, fmt.Errorf("%w: commit %d on %s with %d held", ErrLedgerInvariant, qty, ticketTypeID, rec.Held)
		}
		return step{EventTicketsCommitted, qty, qty}, nil
	})
	return err
}

// Sell records a purchase that never went through a hold. It is all or
// nothing: ok is false when fewer than qty tickets are available.
func (l *Ledger) Sell(ctx context.Context, ticketTypeID string, qty int) (ok bool, available int, err error) {
	if qty <= 0 {
		return false, 0, ErrInvalidQuantity
	}
	e, err := l.entry(ticketTypeID)
	if err != nil {
		return false, 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st, rec, err := l.apply(ctx, e, func(rec Record) (step, error) {
		if rec.Available() < qty {
			return step{}, nil
		}
		return step{EventTicketsSold, qty, qty}, nil
	})
	if err != nil {
		return false, rec.Available(), err
	}
	return st.qty > 0, rec.Available(), nil
}

// apply plans a movement against the current record and appends it. When
// another writer has moved the ticket type since this process last saw it,
// the record catches up from the store and the movement is planned again.
// It returns the applied step and the resulting record. Callers hold e.mu.
func (l *Ledger) apply(ctx context.Context, e *entry, plan func(Record) (step, error)) (step, Record, error) {
	for attempt := 1; ; attempt++ {
		st, err := plan(e.rec)
		if err != nil || st.qty == 0 {
			return st, e.rec, err
		}

		err = l.mutate(ctx, e, st)
		if !errors.Is(err, store.ErrVersionConflict) {
			return st, e.rec, err
		}
		metrics.VersionConflicts.Inc()
		if attempt == maxAppendAttempts {
			return st, e.rec, err
		}
		if err := l.catchUp(ctx, e); err != nil {
			return st, e.rec, err
		}
	}
}

// catchUp applies events appended by other writers since e.rec.Version.
func (l *Ledger) catchUp(ctx context.Context, e *entry) error {
	before := e.rec
	events, err := l.eventStore.GetEventsFromVersion(ctx, before.TicketTypeID, before.Version)
	if err != nil {
		return fmt.Errorf("catch up %s: %w", before.TicketTypeID, err)
	}
	if len(events) == 0 {
		return nil
	}

	after := before
	for _, ev := range events {
		if err := after.ApplyEvent(ev); err != nil {
			return fmt.Errorf("catch up %s: %w", before.TicketTypeID, err)
		}
	}
	e.rec = after
	log.Printf("[Ledger] %s caught up from v%d to v%d", after.TicketTypeID, before.Version, after.Version)
	l.notify(Change{EventType: events[len(events)-1].EventType, Before: before, After: after})
	return nil
}

// mutate appends the movement and only then applies it. Callers hold e.mu.
func (l *Ledger) mutate(ctx context.Context, e *entry, st step) error {
	before := e.rec
	after := before
	after.move(st.eventType, st.qty)

	if after.Sold+after.Held > after.Total || after.Held < 0 {
		metrics.LedgerInvariantViolations.Inc()
		log.Printf("[Ledger] INVARIANT VIOLATION: %s %d on %s would leave sold=%d held=%d total=%d",
			st.eventType, st.qty, before.TicketTypeID, after.Sold, after.Held, after.Total)
		return ErrLedgerInvariant
	}

	audit := AuditFromContext(ctx)
	mv := Movement{
		TicketTypeID:    before.TicketTypeID,
		EventID:         before.EventID,
		Requested:       st.requested,
		Quantity:        st.qty,
		AvailableBefore: before.Available(),
		AvailableAfter:  after.Available(),
		SessionID:       audit.SessionID,
		HoldID:          audit.HoldID,
		Reason:          audit.Reason,
		At:              l.clock.Now(),
	}

	stored, err := l.eventStore.Append(ctx, before.TicketTypeID, AggregateType, st.eventType, before.Version, mv)
	if err != nil {
		return fmt.Errorf("append %s: %w", st.eventType, err)
	}
	after.Version = stored.Version
	e.rec = after

	if _, err := l.snapshots.Maybe(ctx, &after); err != nil {
		log.Printf("[Ledger] Snapshot of %s failed: %v", after.TicketTypeID, err)
	}

	l.notify(Change{EventType: st.eventType, Before: before, After: after, Movement: mv})
	return nil
}

func (l *Ledger) notify(c Change) {
	for _, fn := range l.observers {
		fn(c)
	}
}

func (l *Ledger) entry(ticketTypeID string) (*entry, error) {
	l.mu.RLock()
	e, ok := l.entries[ticketTypeID]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTicketType, ticketTypeID)
	}
	return e, nil
}

// Snapshot returns a copy of the current record.
func (l *Ledger) Snapshot(ticketTypeID string) (Record, error) {
	e, err := l.entry(ticketTypeID)
	if err != nil {
		return Record{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, nil
}

// Records returns copies of every record of an event, ordered by ticket type id.
// Each record is read under its own lock; the set is not a single atomic cut.
func (l *Ledger) Records(eventID string) []Record {
	l.mu.RLock()
	entries := make([]*entry, 0, len(l.entries))
	for _, e := range l.entries {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	var out []Record
	for _, e := range entries {
		e.mu.Lock()
		rec := e.rec
		e.mu.Unlock()
		if rec.EventID == eventID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TicketTypeID < out[j].TicketTypeID })
	return out
}

// Reconcile compares Held against the quantity of active holds and releases
// any excess left behind by a crash between reserve and hold creation.
func (l *Ledger) Reconcile(ctx context.Context, activeHeld func(ctx context.Context, ticketTypeID string) (int, error)) error {
	l.mu.RLock()
	ids := make([]string, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}
	l.mu.RUnlock()
	sort.Strings(ids)

	for _, id := range ids {
		want, err := activeHeld(ctx, id)
		if err != nil {
			return fmt.Errorf("reconcile %s: %w", id, err)
		}
		rec, err := l.Snapshot(id)
		if err != nil {
			return err
		}
		switch {
		case rec.Held > want:
			log.Printf("[Ledger] %s holds %d but active holds total %d; releasing excess", id, rec.Held, want)
			if err := l.Release(ctx, id, rec.Held-want, "reconcile"); err != nil {
				return fmt.Errorf("reconcile %s: %w", id, err)
			}
		case rec.Held < want:
			metrics.LedgerInvariantViolations.Inc()
			log.Printf("[Ledger] INVARIANT VIOLATION: %s holds %d but active holds total %d", id, rec.Held, want)
		}
	}
	return nil
}

// History returns the audit trail of a ticket type, oldest first.
func (l *Ledger) History(ctx context.Context, ticketTypeID string) ([]Entry, error) {
	if _, err := l.entry(ticketTypeID); err != nil {
		return nil, err
	}
	events, err := l.eventStore.GetEvents(ctx, ticketTypeID)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(events))
	for _, ev := range events {
		entry := Entry{Version: ev.Version, EventType: ev.EventType, Timestamp: ev.Timestamp}
		if ev.EventType == EventTicketTypeRegistered {
			var reg TicketTypeRegistered
			if err := json.Unmarshal(ev.Data, &reg); err != nil {
				return nil, err
			}
			entry.Movement = Movement{
				TicketTypeID:   reg.TicketTypeID,
				EventID:        reg.EventID,
				Quantity:       reg.Total,
				AvailableAfter: reg.Total - reg.Sold,
				At:             reg.RegisteredAt,
			}
		} else if err := json.Unmarshal(ev.Data, &entry.Movement); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}
