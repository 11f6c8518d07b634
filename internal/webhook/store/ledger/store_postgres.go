// Package ledger persists the idempotency ledger of processed webhook events.
//
// Reservation is insert-then-handle-conflict against the fingerprint's
// uniqueness constraint, never read-then-write: two concurrent deliveries of
// the same event race on the insert and exactly one wins, across process
// instances.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"idsync/internal/webhook/models"
)

// PostgresStore persists processed-event records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

// NewPostgres constructs a PostgreSQL-backed ledger.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresTx constructs a PostgreSQL-backed ledger bound to a transaction.
func NewPostgresTx(tx *sql.Tx) *PostgresStore {
	return &PostgresStore{tx: tx}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer() dbExecutor {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Reserve claims the fingerprint. It returns true when this call created the
// record, false when the event was already processed.
func (s *PostgresStore) Reserve(ctx context.Context, rec models.ProcessedEvent) (bool, error) {
	query := `
		INSERT INTO processed_events (fingerprint, user_id, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (fingerprint) DO NOTHING
		RETURNING fingerprint
	`
	var stored string
	err := s.execer().QueryRowContext(ctx, query,
		rec.Fingerprint,
		uuid.UUID(rec.UserID),
		rec.ProcessedAt,
	).Scan(&stored)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Conflict: another delivery holds the fingerprint.
			return false, nil
		}
		return false, fmt.Errorf("reserve event: %w", err)
	}
	return true, nil
}

// DeleteOlderThan prunes ledger rows processed before the cutoff and returns
// the number of rows removed.
func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.execer().ExecContext(ctx,
		`DELETE FROM processed_events WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune processed events: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune processed events rows: %w", err)
	}
	return int(rows), nil
}
