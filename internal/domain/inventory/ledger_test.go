package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ticket-inventory/internal/clock"
	"github.com/example/ticket-inventory/internal/infrastructure/store"
	"github.com/example/ticket-inventory/internal/infrastructure/store/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T, types ...TicketType) (*Ledger, *mocks.MockEventStore) {
	t.Helper()
	eventStore := mocks.NewMockEventStore()
	ledger := NewLedger(eventStore, WithClock(clock.NewFake(testTime)))
	require.NoError(t, ledger.Restore(context.Background(), types))
	return ledger, eventStore
}

func vip(total int) TicketType {
	return TicketType{ID: "vip", EventID: "evt1", Name: "VIP", UnitPrice: 15000, Total: total}
}

// ============================================
// Restore Tests
// ============================================

func TestLedger_Restore_RegistersNewTicketTypes(t *testing.T) {
	ledger, eventStore := newTestLedger(t,
		TicketType{ID: "tt001", EventID: "evt987", Name: "General Admission", Total: 200, InitialSold: 50},
	)

	require.Len(t, eventStore.AppendCalls, 1)
	assert.Equal(t, EventTicketTypeRegistered, eventStore.AppendCalls[0].EventType)
	assert.Equal(t, AggregateType, eventStore.AppendCalls[0].AggregateType)

	rec, err := ledger.Snapshot("tt001")
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Total)
	assert.Equal(t, 50, rec.Sold)
	assert.Equal(t, 0, rec.Held)
	assert.Equal(t, 150, rec.Available())
	assert.Equal(t, 1, rec.Version)
}

func TestLedger_Restore_RejectsOversoldCatalogEntry(t *testing.T) {
	ledger := NewLedger(mocks.NewMockEventStore())
	err := ledger.Restore(context.Background(), []TicketType{{ID: "bad", Total: 5, InitialSold: 6}})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestLedger_Restore_ReplaysExistingHistory(t *testing.T) {
	ctx := context.Background()
	ledger, eventStore := newTestLedger(t, vip(10))

	_, err := ledger.Reserve(ctx, "vip", 4)
	require.NoError(t, err)
	require.NoError(t, ledger.Commit(ctx, "vip", 3))

	restored := NewLedger(eventStore)
	require.NoError(t, restored.Restore(ctx, []TicketType{vip(10)}))

	rec, err := restored.Snapshot("vip")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Sold)
	assert.Equal(t, 1, rec.Held)
	assert.Equal(t, 3, rec.Version)
	// No second registration
	assert.Len(t, eventStore.AppendCalls, 3)
}

func TestLedger_SnapshotAtThreshold(t *testing.T) {
	ctx := context.Background()
	ledger, eventStore := newTestLedger(t, vip(100))

	for i := 0; i < store.SnapshotThreshold-1; i++ {
		_, err := ledger.Reserve(ctx, "vip", 1)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, eventStore.SnapshotCalls)

	snap, err := eventStore.GetSnapshot(ctx, "vip")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, store.SnapshotThreshold, snap.Version)

	_, err = ledger.Reserve(ctx, "vip", 2)
	require.NoError(t, err)

	restored := NewLedger(eventStore)
	require.NoError(t, restored.Restore(ctx, []TicketType{vip(100)}))
	rec, err := restored.Snapshot("vip")
	require.NoError(t, err)
	assert.Equal(t, store.SnapshotThreshold+1, rec.Held)
	assert.Equal(t, store.SnapshotThreshold+1, rec.Version)
}

// ============================================
// Reserve Tests
// ============================================

func TestLedger_Reserve(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		request   int
		granted   int
		available int
	}{
		{"full grant", 5, 3, 3, 2},
		{"partial grant", 5, 8, 5, 0},
		{"exact", 5, 5, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger, _ := newTestLedger(t, vip(tt.total))

			granted, err := ledger.Reserve(context.Background(), "vip", tt.request)
			require.NoError(t, err)
			assert.Equal(t, tt.granted, granted)

			rec, _ := ledger.Snapshot("vip")
			assert.Equal(t, tt.available, rec.Available())
			assert.Equal(t, tt.granted, rec.Held)
		})
	}
}

func TestLedger_Reserve_SoldOutAppendsNothing(t *testing.T) {
	ctx := context.Background()
	ledger, eventStore := newTestLedger(t, vip(2))

	_, err := ledger.Reserve(ctx, "vip", 2)
	require.NoError(t, err)
	calls := len(eventStore.AppendCalls)

	granted, err := ledger.Reserve(ctx, "vip", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, granted)
	assert.Len(t, eventStore.AppendCalls, calls)
}

func TestLedger_Reserve_InvalidQuantity(t *testing.T) {
	ledger, _ := newTestLedger(t, vip(5))

	for _, qty := range []int{0, -1} {
		_, err := ledger.Reserve(context.Background(), "vip", qty)
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	}
}

func TestLedger_Reserve_UnknownTicketType(t *testing.T) {
	ledger, _ := newTestLedger(t, vip(5))

	_, err := ledger.Reserve(context.Background(), "nope", 1)
	assert.ErrorIs(t, err, ErrUnknownTicketType)
}

func TestLedger_Reserve_AppendFailureLeavesCountersUntouched(t *testing.T) {
	ledger, eventStore := newTestLedger(t, vip(5))
	eventStore.AppendErr = errors.New("disk full")

	_, err := ledger.Reserve(context.Background(), "vip", 2)
	require.Error(t, err)

	rec, _ := ledger.Snapshot("vip")
	assert.Equal(t, 0, rec.Held)
	assert.Equal(t, 5, rec.Available())
}

func TestLedger_Reserve_RecordsAudit(t *testing.T) {
	ledger, eventStore := newTestLedger(t, vip(5))
	ctx := WithAudit(context.Background(), Audit{SessionID: "sess-a", HoldID: "hold-1"})

	_, err := ledger.Reserve(ctx, "vip", 7)
	require.NoError(t, err)

	data := eventStore.AppendCalls[1].Data.(Movement)
	assert.Equal(t, 7, data.Requested)
	assert.Equal(t, 5, data.Quantity)
	assert.Equal(t, 5, data.AvailableBefore)
	assert.Equal(t, 0, data.AvailableAfter)
	assert.Equal(t, "sess-a", data.SessionID)
	assert.Equal(t, "hold-1", data.HoldID)
	assert.Equal(t, testTime, data.At)
}

func TestLedger_Reserve_NoOversellUnderConcurrency(t *testing.T) {
	ledger, _ := newTestLedger(t, vip(50))
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(qty int) {
			defer wg.Done()
			granted, err := ledger.Reserve(ctx, "vip", qty)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			mu.Lock()
			total += granted
			mu.Unlock()
		}(i%3 + 1)
	}
	wg.Wait()

	assert.Equal(t, 50, total)
	rec, _ := ledger.Snapshot("vip")
	assert.Equal(t, 50, rec.Held)
	assert.Equal(t, 0, rec.Available())
}

func TestLedger_DifferentTicketTypesMutateIndependently(t *testing.T) {
	ledger, _ := newTestLedger(t, vip(10),
		TicketType{ID: "ga", EventID: "evt1", Name: "GA", Total: 10})
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"vip", "ga"} {
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, _ = ledger.Reserve(ctx, id, 1)
			}(id)
		}
	}
	wg.Wait()

	for _, rec := range ledger.Records("evt1") {
		assert.Equal(t, 10, rec.Held, rec.TicketTypeID)
	}
}

// ============================================
// Release / Commit / Sell Tests
// ============================================

func TestLedger_Release_RestoresAvailability(t *testing.T) {
	ctx := context.Background()
	ledger, eventStore := newTestLedger(t, vip(5))

	_, err := ledger.Reserve(ctx, "vip", 3)
	require.NoError(t, err)
	require.NoError(t, ledger.Release(ctx, "vip", 3, "cancelled"))

	rec, _ := ledger.Snapshot("vip")
	assert.Equal(t, 5, rec.Available())

	last := eventStore.AppendCalls[len(eventStore.AppendCalls)-1]
	assert.Equal(t, EventTicketsReleased, last.EventType)
	assert.Equal(t, "cancelled", last.Data.(Movement).Reason)
}

func TestLedger_Release_ClampsAtZero(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t, vip(5))

	_, err := ledger.Reserve(ctx, "vip", 2)
	require.NoError(t, err)
	require.NoError(t, ledger.Release(ctx, "vip", 4, "cancelled"))

	rec, _ := ledger.Snapshot("vip")
	assert.Equal(t, 0, rec.Held)
	assert.Equal(t, 5, rec.Available())

	require.NoError(t, ledger.Release(ctx, "vip", 1, "cancelled"))
	rec, _ = ledger.Snapshot("vip")
	assert.Equal(t, 0, rec.Held)
}

func TestLedger_Commit_MovesHeldToSold(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t, vip(5))

	_, err := ledger.Reserve(ctx, "vip", 3)
	require.NoError(t, err)
	require.NoError(t, ledger.Commit(ctx, "vip", 3))

	rec, _ := ledger.Snapshot("vip")
	assert.Equal(t, 3, rec.Sold)
	assert.Equal(t, 0, rec.Held)
	assert.Equal(t, 2, rec.Available())
}

func TestLedger_Commit_MoreThanHeldIsInvariantViolation(t *testing.T) {
	ctx := context.Background()
	ledger, eventStore := newTestLedger(t, vip(5))

	_, err := ledger.Reserve(ctx, "vip", 1)
	require.NoError(t, err)
	calls := len(eventStore.AppendCalls)

	err = ledger.Commit(ctx, "vip", 2)
	assert.ErrorIs(t, err, ErrLedgerInvariant)
	assert.Len(t, eventStore.AppendCalls, calls)

	rec, _ := ledger.Snapshot("vip")
	assert.Equal(t, 1, rec.Held)
	assert.Equal(t, 0, rec.Sold)
}

func TestLedger_Sell_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t, vip(5))

	ok, remaining, err := ledger.Sell(ctx, "vip", 4)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)

	ok, available, err := ledger.Sell(ctx, "vip", 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, available)

	rec, _ := ledger.Snapshot("vip")
	assert.Equal(t, 4, rec.Sold)
}

// ============================================
// Observer / Reconcile / History Tests
// ============================================

func TestLedger_ObserverSeesBeforeAndAfter(t *testing.T) {
	var changes []Change
	ledger := NewLedger(mocks.NewMockEventStore(), WithObserver(func(c Change) {
		changes = append(changes, c)
	}))
	ctx := context.Background()
	require.NoError(t, ledger.Restore(ctx, []TicketType{vip(5)}))

	_, err := ledger.Reserve(ctx, "vip", 2)
	require.NoError(t, err)

	require.Len(t, changes, 2)
	last := changes[1]
	assert.Equal(t, EventTicketsReserved, last.EventType)
	assert.Equal(t, 5, last.Before.Available())
	assert.Equal(t, 3, last.After.Available())
}

func TestLedger_Reconcile_ReleasesOrphanedHeld(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t, vip(10))

	_, err := ledger.Reserve(ctx, "vip", 6)
	require.NoError(t, err)

	err = ledger.Reconcile(ctx, func(_ context.Context, id string) (int, error) {
		return 4, nil
	})
	require.NoError(t, err)

	rec, _ := ledger.Snapshot("vip")
	assert.Equal(t, 4, rec.Held)
}

func TestLedger_History(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t, vip(5))

	_, err := ledger.Reserve(WithAudit(ctx, Audit{SessionID: "s1", HoldID: "h1"}), "vip", 2)
	require.NoError(t, err)
	require.NoError(t, ledger.Commit(ctx, "vip", 2))

	history, err := ledger.History(ctx, "vip")
	require.NoError(t, err)
	require.Len(t, history, 3)

	assert.Equal(t, EventTicketTypeRegistered, history[0].EventType)
	assert.Equal(t, 5, history[0].AvailableAfter)
	assert.Equal(t, EventTicketsReserved, history[1].EventType)
	assert.Equal(t, "h1", history[1].HoldID)
	assert.Equal(t, EventTicketsCommitted, history[2].EventType)
	assert.Equal(t, 3, history[2].AvailableAfter)

	_, err = ledger.History(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownTicketType)
}

// ============================================
// Durability / Multi-writer Tests
// ============================================

// flakyPublisher fails the first n publishes
type flakyPublisher struct {
	mu    sync.Mutex
	fails int
	sent  int
}

func (p *flakyPublisher) Publish(_ context.Context, _ string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fails > 0 {
		p.fails--
		return errors.New("kafka unavailable")
	}
	p.sent++
	return nil
}

func TestLedger_PublishFailureDoesNotFailStoredMovement(t *testing.T) {
	ctx := context.Background()
	pub := &flakyPublisher{}
	eventStore := store.NewEventStore(pub)
	ledger := NewLedger(eventStore)
	require.NoError(t, ledger.Restore(ctx, []TicketType{vip(5)}))

	pub.fails = 1
	ok, remaining, err := ledger.Sell(ctx, "vip", 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, remaining)

	// a retry by the caller must not sell the same tickets twice
	ok, _, err = ledger.Sell(ctx, "vip", 5)
	require.NoError(t, err)
	assert.False(t, ok)

	restored := NewLedger(eventStore)
	require.NoError(t, restored.Restore(ctx, []TicketType{vip(5)}))
	rec, err := restored.Snapshot("vip")
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Sold)
	assert.Equal(t, 0, rec.Available())
}

func TestLedger_SecondWriterCatchesUpInsteadOfOverselling(t *testing.T) {
	ctx := context.Background()
	eventStore := store.NewEventStore(nil)

	first := NewLedger(eventStore)
	require.NoError(t, first.Restore(ctx, []TicketType{vip(5)}))
	second := NewLedger(eventStore)
	require.NoError(t, second.Restore(ctx, []TicketType{vip(5)}))

	granted, err := first.Reserve(ctx, "vip", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, granted)

	// second still believes 5 are available
	granted, err = second.Reserve(ctx, "vip", 5)
	require.NoError(t, err)
	assert.Equal(t, 0, granted)

	rec, err := second.Snapshot("vip")
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Held)
	assert.Equal(t, 2, rec.Version)

	// releases and commits from either side land on the shared history
	require.NoError(t, second.Release(ctx, "vip", 2, "cancelled"))
	require.NoError(t, first.Commit(ctx, "vip", 3))

	rec, err = first.Snapshot("vip")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Sold)
	assert.Equal(t, 0, rec.Held)
	assert.Equal(t, 2, rec.Available())
	assert.Equal(t, 4, rec.Version)
}

func TestLedger_CatchUpNotifiesObservers(t *testing.T) {
	ctx := context.Background()
	eventStore := store.NewEventStore(nil)

	first := NewLedger(eventStore)
	require.NoError(t, first.Restore(ctx, []TicketType{vip(5)}))

	var changes []Change
	second := NewLedger(eventStore, WithObserver(func(c Change) { changes = append(changes, c) }))
	require.NoError(t, second.Restore(ctx, []TicketType{vip(5)}))
	changes = nil

	_, err := first.Reserve(ctx, "vip", 4)
	require.NoError(t, err)
	_, err = second.Reserve(ctx, "vip", 3)
	require.NoError(t, err)

	require.Len(t, changes, 2)
	assert.Equal(t, 0, changes[0].Before.Held)
	assert.Equal(t, 4, changes[0].After.Held)
	assert.Equal(t, EventTicketsReserved, changes[1].EventType)
	assert.Equal(t, 1, changes[1].Movement.Quantity)
	assert.Equal(t, 5, changes[1].After.Held)
}

func TestLedger_PersistentVersionConflictGivesUp(t *testing.T) {
	ledger, eventStore := newTestLedger(t, vip(5))
	eventStore.AppendCallback = func(_ context.Context, _, _, _ string, _ int, _ any) (*store.Event, error) {
		return nil, store.ErrVersionConflict
	}

	_, err := ledger.Reserve(context.Background(), "vip", 1)
	assert.ErrorIs(t, err, store.ErrVersionConflict)
	// registration plus every attempt
	assert.Len(t, eventStore.AppendCalls, 1+maxAppendAttempts)

	rec, _ := ledger.Snapshot("vip")
	assert.Equal(t, 0, rec.Held)
}
