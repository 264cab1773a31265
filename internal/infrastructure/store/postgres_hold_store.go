package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/ticket-inventory/internal/domain/hold"
)

const holdColumns = `id, ticket_type_id, event_id, session_id, quantity, requested_quantity,
	purpose, status, reason, created_at, expires_at, closed_at`

// PostgresHoldStore implements hold.Store on the holds table
type PostgresHoldStore struct {
	db *sql.DB
}

func NewPostgresHoldStore(db *sql.DB) *PostgresHoldStore {
	return &PostgresHoldStore{db: db}
}

func (s *PostgresHoldStore) Create(ctx context.Context, h hold.Hold) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO holds (`+holdColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		h.ID, h.TicketTypeID, h.EventID, h.SessionID, h.Quantity, h.RequestedQuantity,
		string(h.Purpose), string(h.Status), h.Reason, h.CreatedAt, h.ExpiresAt, h.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("create hold: %w", err)
	}
	return nil
}

func (s *PostgresHoldStore) Get(ctx context.Context, id string) (hold.Hold, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+holdColumns+` FROM holds WHERE id = $1`, id)
	h, err := scanHold(row)
	if errors.Is(err, sql.ErrNoRows) {
		return hold.Hold{}, hold.ErrHoldNotFound
	}
	if err != nil {
		return hold.Hold{}, fmt.Errorf("get hold: %w", err)
	}
	return h, nil
}

func (s *PostgresHoldStore) Claim(ctx context.Context, id string) (hold.Hold, error) {
	return s.update(ctx, id, "claim",
		`UPDATE holds SET status = 'closing' WHERE id = $1 AND status = 'active' RETURNING `+holdColumns, id)
}

func (s *PostgresHoldStore) Unclaim(ctx context.Context, id string) (hold.Hold, error) {
	return s.update(ctx, id, "unclaim",
		`UPDATE holds SET status = 'active' WHERE id = $1 AND status = 'closing' RETURNING `+holdColumns, id)
}

// Transition relies on the status predicate so concurrent callers cannot both win.
func (s *PostgresHoldStore) Transition(ctx context.Context, id string, to hold.Status, reason string, at time.Time) (hold.Hold, error) {
	return s.update(ctx, id, "transition",
		`UPDATE holds SET status = $2, reason = $3, closed_at = $4
		 WHERE id = $1 AND status IN ('active', 'closing')
		 RETURNING `+holdColumns,
		id, string(to), reason, at)
}

// update runs a status compare-and-set; no matched row means the hold was
// not in the expected state.
func (s *PostgresHoldStore) update(ctx context.Context, id, op, query string, args ...any) (hold.Hold, error) {
	h, err := scanHold(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		existing, getErr := s.Get(ctx, id)
		if getErr != nil {
			return hold.Hold{}, getErr
		}
		return existing, hold.ErrHoldNotActive
	}
	if err != nil {
		return hold.Hold{}, fmt.Errorf("%s hold: %w", op, err)
	}
	return h, nil
}

func (s *PostgresHoldStore) ListClosing(ctx context.Context) ([]hold.Hold, error) {
	return s.list(ctx, `SELECT `+holdColumns+` FROM holds WHERE status = 'closing' ORDER BY created_at, id`)
}

func (s *PostgresHoldStore) ListBySession(ctx context.Context, sessionID string, activeOnly bool) ([]hold.Hold, error) {
	query := `SELECT ` + holdColumns + ` FROM holds WHERE session_id = $1`
	if activeOnly {
		query += ` AND status = 'active'`
	}
	return s.list(ctx, query+` ORDER BY created_at, id`, sessionID)
}

func (s *PostgresHoldStore) ListActiveByEvent(ctx context.Context, eventID string) ([]hold.Hold, error) {
	return s.list(ctx,
		`SELECT `+holdColumns+` FROM holds WHERE event_id = $1 AND status = 'active' ORDER BY created_at, id`,
		eventID)
}

func (s *PostgresHoldStore) ListDue(ctx context.Context, now time.Time, limit int) ([]hold.Hold, error) {
	if limit <= 0 {
		limit = 1000
	}
	return s.list(ctx,
		`SELECT `+holdColumns+` FROM holds
		 WHERE status = 'active' AND expires_at <= $1
		 ORDER BY expires_at, id LIMIT $2`,
		now, limit)
}

func (s *PostgresHoldStore) SumActive(ctx context.Context, ticketTypeID string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM holds WHERE ticket_type_id = $1 AND status IN ('active', 'closing')`,
		ticketTypeID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum active holds: %w", err)
	}
	return total, nil
}

func (s *PostgresHoldStore) PurgeClosedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM holds WHERE closed_at IS NOT NULL AND closed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge holds: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *PostgresHoldStore) list(ctx context.Context, query string, args ...any) ([]hold.Hold, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list holds: %w", err)
	}
	defer rows.Close()

	var out []hold.Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, fmt.Errorf("scan hold: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHold(row rowScanner) (hold.Hold, error) {
	var (
		h        hold.Hold
		purpose  string
		status   string
		closedAt sql.NullTime
	)
	err := row.Scan(&h.ID, &h.TicketTypeID, &h.EventID, &h.SessionID, &h.Quantity, &h.RequestedQuantity,
		&purpose, &status, &h.Reason, &h.CreatedAt, &h.ExpiresAt, &closedAt)
	if err != nil {
		return hold.Hold{}, err
	}
	h.Purpose = hold.Purpose(purpose)
	h.Status = hold.Status(status)
	if closedAt.Valid {
		t := closedAt.Time
		h.ClosedAt = &t
	}
	return h, nil
}
