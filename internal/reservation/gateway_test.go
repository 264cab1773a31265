package reservation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ticket-inventory/internal/availability"
	"github.com/example/ticket-inventory/internal/clock"
	"github.com/example/ticket-inventory/internal/domain/conflict"
	"github.com/example/ticket-inventory/internal/domain/hold"
	"github.com/example/ticket-inventory/internal/domain/inventory"
	"github.com/example/ticket-inventory/internal/infrastructure/store/mocks"
	"github.com/example/ticket-inventory/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	gateway *Gateway
	clock   *clock.Fake
	ledger  *inventory.Ledger
	events  *mocks.MockEventStore
	holds   hold.Store
	broker  *notify.Broker
}

func newFixture(t *testing.T, cfg Config, holds hold.Store, types ...inventory.TicketType) *fixture {
	t.Helper()
	clk := clock.NewFake(start)
	events := mocks.NewMockEventStore()
	ledger := inventory.NewLedger(events, inventory.WithClock(clk))
	require.NoError(t, ledger.Restore(context.Background(), types))
	if holds == nil {
		holds = hold.NewMemoryStore()
	}
	broker := notify.NewBroker()
	gw := NewGateway(ledger, holds, availability.NewView(availability.DefaultThresholds()), broker,
		WithClock(clk), WithConfig(cfg))
	return &fixture{gateway: gw, clock: clk, ledger: ledger, events: events, holds: holds, broker: broker}
}

func vipType(total int) inventory.TicketType {
	return inventory.TicketType{ID: "vip", EventID: "evt1", Name: "VIP", UnitPrice: 15000, Total: total}
}

func (f *fixture) available(t *testing.T, id string) int {
	t.Helper()
	rec, err := f.ledger.Snapshot(id)
	require.NoError(t, err)
	return rec.Available()
}

func (f *fixture) create(t *testing.T, session string, qty int) CreateHoldResult {
	t.Helper()
	res, err := f.gateway.CreateHold(context.Background(), CreateHoldRequest{
		TicketTypeID: "vip", SessionID: session, Quantity: qty,
	})
	require.NoError(t, err)
	return res
}

// ============================================
// Scenario Tests
// ============================================

func TestGateway_VIPScenario(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, vipType(5))
	ctx := context.Background()

	a := f.create(t, "session-a", 3)
	assert.True(t, a.Success())
	require.NotNil(t, a.Hold)
	assert.Equal(t, 3, a.Hold.Quantity)
	assert.Equal(t, 2, f.available(t, "vip"))

	b := f.create(t, "session-b", 4)
	assert.False(t, b.Success())
	partial, ok := b.Outcome.(conflict.Partial)
	require.True(t, ok)
	assert.Equal(t, 2, partial.ResolvedQuantity)
	require.NotNil(t, b.Hold)
	assert.Equal(t, 2, b.Hold.Quantity)
	assert.Equal(t, 4, b.Hold.RequestedQuantity)

	statuses, err := f.gateway.CheckAvailability(ctx, "evt1")
	require.NoError(t, err)
	assert.Equal(t, availability.SoldOut, statuses["vip"].Status)

	c := f.create(t, "session-c", 1)
	assert.False(t, c.Success())
	assert.IsType(t, conflict.SoldOut{}, c.Outcome)
	assert.Nil(t, c.Hold)

	f.clock.Advance(16 * time.Minute)
	require.NoError(t, f.gateway.ExpireHold(ctx, a.Hold.ID))

	assert.Equal(t, 3, f.available(t, "vip"))
	statuses, err = f.gateway.CheckAvailability(ctx, "evt1")
	require.NoError(t, err)
	assert.Equal(t, availability.CriticalStock, statuses["vip"].Status)
	assert.Equal(t, "Only 3 left!", statuses["vip"].Message)

	expired, err := f.holds.Get(ctx, a.Hold.ID)
	require.NoError(t, err)
	assert.Equal(t, hold.StatusExpired, expired.Status)
}

func TestGateway_NoOversellUnderConcurrency(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, vipType(60))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.gateway.CreateHold(ctx, CreateHoldRequest{
				TicketTypeID: "vip",
				SessionID:    "session",
				Quantity:     i%4 + 1,
			})
			if err != nil {
				t.Errorf("create hold: %v", err)
			}
		}(i)
	}
	wg.Wait()

	held, err := f.gateway.GetTotalHeldQuantity(ctx, "session")
	require.NoError(t, err)
	assert.Equal(t, 60, held)
	assert.Equal(t, 0, f.available(t, "vip"))
}

// ============================================
// CreateHold Tests
// ============================================

func TestGateway_CreateHold_Validation(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, vipType(5))
	ctx := context.Background()

	_, err := f.gateway.CreateHold(ctx, CreateHoldRequest{SessionID: "s", Quantity: 1})
	assert.ErrorIs(t, err, hold.ErrTicketTypeNeeded)
	_, err = f.gateway.CreateHold(ctx, CreateHoldRequest{TicketTypeID: "vip", Quantity: 1})
	assert.ErrorIs(t, err, hold.ErrSessionRequired)
	_, err = f.gateway.CreateHold(ctx, CreateHoldRequest{TicketTypeID: "vip", SessionID: "s"})
	assert.ErrorIs(t, err, hold.ErrInvalidQuantity)
	_, err = f.gateway.CreateHold(ctx, CreateHoldRequest{TicketTypeID: "nope", SessionID: "s", Quantity: 1})
	assert.ErrorIs(t, err, inventory.ErrUnknownTicketType)
}

func TestGateway_CreateHold_PurposeSetsDuration(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, vipType(5))

	res, err := f.gateway.CreateHold(context.Background(), CreateHoldRequest{
		TicketTypeID: "vip", SessionID: "s", Quantity: 1, Purpose: hold.PurposeCashPayment,
	})
	require.NoError(t, err)
	assert.Equal(t, start.Add(4*time.Hour), res.Hold.ExpiresAt)

	res = f.create(t, "s", 1)
	assert.Equal(t, hold.PurposeCheckout, res.Hold.Purpose)
	assert.Equal(t, start.Add(15*time.Minute), res.Hold.ExpiresAt)
}

func TestGateway_CreateHold_DeniedWhenPartialDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowPartial = false
	f := newFixture(t, cfg, nil, vipType(5))

	f.create(t, "a", 3)
	res := f.create(t, "b", 4)

	denied, ok := res.Outcome.(conflict.Denied)
	require.True(t, ok)
	assert.Equal(t, 2, denied.Available)
	assert.Nil(t, res.Hold)
	assert.Equal(t, 2, f.available(t, "vip"))

	held, err := f.gateway.GetTotalHeldQuantity(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, 0, held)
}

type failingHoldStore struct {
	*hold.MemoryStore
}

func (failingHoldStore) Create(context.Context, hold.Hold) error {
	return errors.New("db down")
}

func TestGateway_CreateHold_StoreFailureReturnsGrant(t *testing.T) {
	f := newFixture(t, DefaultConfig(), failingHoldStore{hold.NewMemoryStore()}, vipType(5))

	_, err := f.gateway.CreateHold(context.Background(), CreateHoldRequest{
		TicketTypeID: "vip", SessionID: "s", Quantity: 2,
	})
	require.Error(t, err)
	assert.Equal(t, 5, f.available(t, "vip"))
}

func TestGateway_CreateHold_PublishesUpdate(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, vipType(5))
	updates, cancel := f.gateway.Subscribe("evt1")
	defer cancel()

	res := f.create(t, "s", 2)

	select {
	case u := <-updates:
		assert.Equal(t, UpdateHoldCreated, u.Kind)
		assert.Equal(t, 3, u.Availability.AvailableQuantity)
		require.NotNil(t, u.Hold)
		assert.Equal(t, res.Hold.ID, u.Hold.ID)
	default:
		t.Fatal("expected a refresh")
	}
}

// ============================================
// Release / Expire Tests
// ============================================

func TestGateway_ReleaseHold_ReclaimsCapacity(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, vipType(5))
	ctx := context.Background()

	res := f.create(t, "s", 3)
	require.NoError(t, f.gateway.ReleaseHold(ctx, res.Hold.ID, ""))
	assert.Equal(t, 5, f.available(t, "vip"))

	released, err := f.holds.Get(ctx, res.Hold.ID)
	require.NoError(t, err)
	assert.Equal(t, hold.StatusReleased, released.Status)
	assert.Equal(t, hold.ReasonCancelled, released.Reason)

	err = f.gateway.ReleaseHold(ctx, res.Hold.ID, "")
	assert.ErrorIs(t, err, hold.ErrHoldNotActive)
	assert.Equal(t, 5, f.available(t, "vip"))

	err = f.gateway.ReleaseHold(ctx, "missing", "")
	assert.ErrorIs(t, err, hold.ErrHoldNotFound)
}

func TestGateway_ExpiryEqualsRelease(t *testing.T) {
	released := newFixture(t, DefaultConfig(), nil, vipType(5))
	expired := newFixture(t, DefaultConfig(), nil, vipType(5))
	ctx := context.Background()

	r := released.create(t, "s", 3)
	e := expired.create(t, "s", 3)

	require.NoError(t, released.gateway.ReleaseHold(ctx, r.Hold.ID, "cancelled"))
	expired.clock.Advance(15 * time.Minute)
	require.NoError(t, expired.gateway.ExpireHold(ctx, e.Hold.ID))

	relRec, _ := released.ledger.Snapshot("vip")
	expRec, _ := expired.ledger.Snapshot("vip")
	assert.Equal(t, relRec.Available(), expRec.Available())
	assert.Equal(t, relRec.Held, expRec.Held)

	h, err := expired.holds.Get(ctx, e.Hold.ID)
	require.NoError(t, err)
	assert.Equal(t, hold.StatusExpired, h.Status)
	assert.Equal(t, hold.ReasonExpired, h.Reason)
}

func TestGateway_ExpireHold_NotDue(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, vipType(5))

	res := f.create(t, "s", 1)
	err := f.gateway.ExpireHold(context.Background(), res.Hold.ID)
	assert.ErrorIs(t, err, ErrNotDue)
	assert.Equal(t, 4, f.available(t, "vip"))
}

func TestGateway_ReleaseAllHolds_Idempotent(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, vipType(10),
		inventory.TicketType{ID: "ga", EventID: "evt1", Name: "GA", Total: 10})
	ctx := context.Background()

	f.create(t, "s", 2)
	_, err := f.gateway.CreateHold(ctx, CreateHoldRequest{TicketTypeID: "ga", SessionID: "s", Quantity: 3})
	require.NoError(t, err)
	f.create(t, "other", 1)

	n, err := f.gateway.ReleaseAllHolds(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.gateway.ReleaseAllHolds(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.Equal(t, 9, f.available(t, "vip"))
	assert.Equal(t, 10, f.available(t, "ga"))

	all, err := f.holds.ListBySession(ctx, "s", false)
	require.NoError(t, err)
	for _, h := range all {
		assert.Equal(t, hold.ReasonCheckoutCancelled, h.Reason)
	}
}

// ============================================
// Commit Tests
// ============================================

func TestGateway_CommitHold_IsTerminalAndExclusive(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, vipType(5))
	ctx := context.Background()

	res := f.create(t, "s", 3)
	commit, err := f.gateway.CommitHold(ctx, res.Hold.ID)
	require.NoError(t, err)
	assert.True(t, commit.Success)
	assert.Equal(t, hold.StatusCommitted, commit.Hold.Status)

	rec, _ := f.ledger.Snapshot("vip")
	assert.Equal(t, 3, rec.Sold)
	assert.Equal(t, 0, rec.Held)

	assert.ErrorIs(t, f.gateway.ReleaseHold(ctx, res.Hold.ID, ""), hold.ErrHoldNotActive)

	f.clock.Advance(time.Hour)
	assert.ErrorIs(t, f.gateway.ExpireHold(ctx, res.Hold.ID), hold.ErrHoldNotActive)

	again, err := f.gateway.CommitHold(ctx, res.Hold.ID)
	assert.ErrorIs(t, err, hold.ErrHoldNotActive)
	assert.False(t, again.Success)

	rec, _ = f.ledger.Snapshot("vip")
	assert.Equal(t, 3, rec.Sold)
	assert.Equal(t, 2, rec.Available())
}

func TestGateway_CommitHold_AfterDeadlineExpires(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, vipType(5))
	ctx := context.Background()

	res := f.create(t, "s", 3)
	f.clock.Advance(20 * time.Minute)

	commit, err := f.gateway.CommitHold(ctx, res.Hold.ID)
	assert.ErrorIs(t, err, ErrHoldExpired)
	assert.False(t, commit.Success)
	assert.Equal(t, 5, f.available(t, "vip"))

	h, err := f.holds.Get(ctx, res.Hold.ID)
	require.NoError(t, err)
	assert.Equal(t, hold.StatusExpired, h.Status)
}

func TestGateway_ConcurrentReleaseAndCommit(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, vipType(5))
	ctx := context.Background()
	res := f.create(t, "s", 3)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = f.gateway.ReleaseHold(ctx, res.Hold.ID, "")
	}()
	go func() {
		defer wg.Done()
		_, _ = f.gateway.CommitHold(ctx, res.Hold.ID)
	}()
	wg.Wait()

	rec, _ := f.ledger.Snapshot("vip")
	assert.Equal(t, 0, rec.Held)
	assert.True(t, rec.Sold == 3 || rec.Sold == 0)
	assert.Equal(t, 5-rec.Sold, rec.Available())
}

// ============================================
// UpdateHold / Purchase / Accessor Tests
// ============================================

func TestGateway_UpdateHold_ReleasesThenRecreates(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, vipType(5))
	ctx := context.Background()

	orig := f.create(t, "s", 4)
	updated, err := f.gateway.UpdateHold(ctx, orig.Hold.ID, 2)
	require.NoError(t, err)
	assert.True(t, updated.Success())
	assert.NotEqual(t, orig.Hold.ID, updated.Hold.ID)
	assert.Equal(t, 2, updated.Hold.Quantity)
	assert.Equal(t, 3, f.available(t, "vip"))

	old, err := f.holds.Get(ctx, orig.Hold.ID)
	require.NoError(t, err)
	assert.Equal(t, hold.StatusReleased, old.Status)
	assert.Equal(t, hold.ReasonUpdated, old.Reason)

	_, err = f.gateway.UpdateHold(ctx, orig.Hold.ID, 1)
	assert.ErrorIs(t, err, hold.ErrHoldNotActive)
}

func TestGateway_Purchase(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, vipType(5))
	ctx := context.Background()

	res, err := f.gateway.Purchase(ctx, PurchaseRequest{TicketTypeID: "vip", Quantity: 4})
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, 1, res.Remaining)

	res, err = f.gateway.Purchase(ctx, PurchaseRequest{TicketTypeID: "vip", Quantity: 2})
	require.NoError(t, err)
	assert.IsType(t, conflict.Denied{}, res.Outcome)

	_, err = f.gateway.Purchase(ctx, PurchaseRequest{TicketTypeID: "vip", Quantity: 1})
	require.NoError(t, err)
	res, err = f.gateway.Purchase(ctx, PurchaseRequest{TicketTypeID: "vip", Quantity: 1})
	require.NoError(t, err)
	assert.IsType(t, conflict.SoldOut{}, res.Outcome)
}

func TestGateway_SessionAccessors(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, vipType(10),
		inventory.TicketType{ID: "ga", EventID: "evt1", Name: "GA", Total: 10})
	ctx := context.Background()

	vipHold := f.create(t, "s", 2)
	_, err := f.gateway.CreateHold(ctx, CreateHoldRequest{TicketTypeID: "ga", SessionID: "s", Quantity: 3})
	require.NoError(t, err)

	h, err := f.gateway.GetHoldForTicketType(ctx, "s", "vip")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, vipHold.Hold.ID, h.ID)

	none, err := f.gateway.GetHoldForTicketType(ctx, "other", "vip")
	require.NoError(t, err)
	assert.Nil(t, none)

	total, err := f.gateway.GetTotalHeldQuantity(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 5, total)
}

func TestGateway_GetHold_Countdown(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, vipType(5))
	ctx := context.Background()
	res := f.create(t, "s", 1)

	details, err := f.gateway.GetHold(ctx, res.Hold.ID)
	require.NoError(t, err)
	assert.Equal(t, 900, details.SecondsRemaining)
	assert.False(t, details.ExpiringSoon)

	f.clock.Advance(14 * time.Minute)
	details, err = f.gateway.GetHold(ctx, res.Hold.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, details.SecondsRemaining)
	assert.True(t, details.ExpiringSoon)
}

func TestGateway_EventStatus(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil,
		inventory.TicketType{ID: "tt001", EventID: "evt987", Name: "General Admission", Total: 200, InitialSold: 50},
		inventory.TicketType{ID: "tt002", EventID: "evt987", Name: "VIP Ticket", Total: 50, InitialSold: 15},
	)
	ctx := context.Background()

	_, err := f.gateway.CreateHold(ctx, CreateHoldRequest{TicketTypeID: "tt002", SessionID: "s", Quantity: 5})
	require.NoError(t, err)

	status, err := f.gateway.EventStatus(ctx, "evt987")
	require.NoError(t, err)
	assert.Equal(t, 250, status.TotalTickets)
	assert.Equal(t, 65, status.TotalSold)
	assert.Equal(t, 5, status.TotalHeld)
	assert.Equal(t, 180, status.TotalAvailable)
	assert.Len(t, status.ActiveHolds, 1)
	assert.Len(t, status.Availability, 2)

	_, err = f.gateway.EventStatus(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

// ============================================
// Close Ordering Tests
// ============================================

// flakyTransitionStore fails the next n terminal transitions.
type flakyTransitionStore struct {
	*hold.MemoryStore
	mu    sync.Mutex
	fails int
}

func (s *flakyTransitionStore) Transition(ctx context.Context, id string, to hold.Status, reason string, at time.Time) (hold.Hold, error) {
	s.mu.Lock()
	fail := s.fails > 0
	if fail {
		s.fails--
	}
	s.mu.Unlock()
	if fail {
		return hold.Hold{}, errors.New("db down")
	}
	return s.MemoryStore.Transition(ctx, id, to, reason, at)
}

func (f *fixture) assertHeldMatchesHolds(t *testing.T) {
	t.Helper()
	rec, err := f.ledger.Snapshot("vip")
	require.NoError(t, err)
	sum, err := f.holds.SumActive(context.Background(), "vip")
	require.NoError(t, err)
	assert.Equal(t, sum, rec.Held)
}

func TestGateway_TransitionFailureDoesNotDoubleRelease(t *testing.T) {
	store := &flakyTransitionStore{MemoryStore: hold.NewMemoryStore()}
	f := newFixture(t, DefaultConfig(), store, vipType(5))
	ctx := context.Background()

	a := f.create(t, "session-a", 3)
	b := f.create(t, "session-b", 2)
	require.Equal(t, 0, f.available(t, "vip"))

	store.mu.Lock()
	store.fails = transitionAttempts
	store.mu.Unlock()

	err := f.gateway.ReleaseHold(ctx, a.Hold.ID, "")
	require.Error(t, err)
	assert.Equal(t, 3, f.available(t, "vip"))

	stuck, err := f.holds.Get(ctx, a.Hold.ID)
	require.NoError(t, err)
	assert.Equal(t, hold.StatusClosing, stuck.Status)

	err = f.gateway.ReleaseHold(ctx, a.Hold.ID, "")
	assert.ErrorIs(t, err, hold.ErrHoldNotActive)
	assert.Equal(t, 3, f.available(t, "vip"))

	settled, err := f.gateway.RecoverClosing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	released, err := f.holds.Get(ctx, a.Hold.ID)
	require.NoError(t, err)
	assert.Equal(t, hold.StatusReleased, released.Status)
	assert.Equal(t, 3, f.available(t, "vip"))

	res, err := f.gateway.CommitHold(ctx, b.Hold.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)

	rec, err := f.ledger.Snapshot("vip")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Sold)
	assert.Equal(t, 0, rec.Held)
	assert.Equal(t, 3, rec.Available())
	f.assertHeldMatchesHolds(t)
}

func TestGateway_TransitionRetriedBeforeGivingUp(t *testing.T) {
	store := &flakyTransitionStore{MemoryStore: hold.NewMemoryStore()}
	f := newFixture(t, DefaultConfig(), store, vipType(5))
	ctx := context.Background()

	a := f.create(t, "session-a", 3)
	store.fails = transitionAttempts - 1

	res, err := f.gateway.CommitHold(ctx, a.Hold.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, hold.StatusCommitted, res.Hold.Status)
	f.assertHeldMatchesHolds(t)
}

func TestGateway_LedgerFailureUnclaimsHold(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, vipType(5))
	ctx := context.Background()

	a := f.create(t, "session-a", 3)
	f.events.AppendErr = errors.New("event store down")

	_, err := f.gateway.CommitHold(ctx, a.Hold.ID)
	require.Error(t, err)

	h, err := f.holds.Get(ctx, a.Hold.ID)
	require.NoError(t, err)
	assert.Equal(t, hold.StatusActive, h.Status)
	assert.Equal(t, 2, f.available(t, "vip"))

	f.events.AppendErr = nil
	res, err := f.gateway.CommitHold(ctx, a.Hold.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)

	rec, err := f.ledger.Snapshot("vip")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Sold)
	assert.Equal(t, 0, rec.Held)
}

func TestGateway_RecoverClosing(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, vipType(10))
	ctx := context.Background()

	committed := f.create(t, "s1", 2)
	expired := f.create(t, "s2", 3)
	untouched := f.create(t, "s3", 1)

	// Ledger movements that landed before the process stopped.
	cctx := inventory.WithAudit(ctx, inventory.Audit{HoldID: committed.Hold.ID, Reason: hold.ReasonCommitted})
	require.NoError(t, f.ledger.Commit(cctx, "vip", 2))
	ectx := inventory.WithAudit(ctx, inventory.Audit{HoldID: expired.Hold.ID})
	require.NoError(t, f.ledger.Release(ectx, "vip", 3, hold.ReasonExpired))

	for _, id := range []string{committed.Hold.ID, expired.Hold.ID, untouched.Hold.ID} {
		_, err := f.holds.Claim(ctx, id)
		require.NoError(t, err)
	}

	settled, err := f.gateway.RecoverClosing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, settled)

	want := map[string]hold.Status{
		committed.Hold.ID: hold.StatusCommitted,
		expired.Hold.ID:   hold.StatusExpired,
		untouched.Hold.ID: hold.StatusActive,
	}
	for id, status := range want {
		h, err := f.holds.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, status, h.Status, id)
	}

	closing, err := f.holds.ListClosing(ctx)
	require.NoError(t, err)
	assert.Empty(t, closing)
	f.assertHeldMatchesHolds(t)
	assert.Equal(t, 7, f.available(t, "vip"))
}
