package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"idsync/internal/sentinel"
	"idsync/internal/webhook/models"
	id "idsync/pkg/domain"
)

// PostgresStore persists identity snapshots in PostgreSQL.
type PostgresStore struct {
	db        *sql.DB
	tx        *sql.Tx
	forUpdate bool
}

// NewPostgres constructs a PostgreSQL-backed identity store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresTx constructs a PostgreSQL-backed identity store bound to a
// transaction. Transactional reads lock the row so two concurrent deliveries
// for one user serialize their read-modify-write instead of lost-updating
// each other under READ COMMITTED.
func NewPostgresTx(tx *sql.Tx) *PostgresStore {
	return &PostgresStore{tx: tx, forUpdate: true}
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

func (s *PostgresStore) FindByProviderSubject(ctx context.Context, provider models.Provider, subject string) (*models.IdentitySnapshot, error) {
	row := s.execer().QueryRowContext(ctx, s.findQuery(), string(provider), subject)
	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("identity not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find identity by subject: %w", err)
	}
	return snap, nil
}

func (s *PostgresStore) findQuery() string {
	query := `
		SELECT user_id, provider, subject, mfa_type, mfa_enabled_at,
		       email_verified, last_sync_at, last_sync_fingerprint
		FROM user_identities
		WHERE provider = $1 AND subject = $2
	`
	if s.forUpdate {
		return query + " FOR UPDATE"
	}
	return query
}

func (s *PostgresStore) ApplyUpdate(ctx context.Context, snap *models.IdentitySnapshot) error {
	if snap == nil {
		return fmt.Errorf("identity snapshot is required")
	}
	query := `
		UPDATE user_identities
		SET mfa_type = $2, mfa_enabled_at = $3, email_verified = $4,
		    last_sync_at = $5, last_sync_fingerprint = $6
		WHERE user_id = $1
	`
	res, err := s.execer().ExecContext(ctx, query,
		uuid.UUID(snap.UserID),
		string(snap.MfaType),
		snap.MfaEnabledAt,
		snap.EmailVerified,
		snap.LastSyncAt,
		snap.LastSyncFingerprint,
	)
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update identity rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("identity not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

func scanSnapshot(row *sql.Row) (*models.IdentitySnapshot, error) {
	var snap models.IdentitySnapshot
	var userID uuid.UUID
	var provider, mfaType string
	var mfaEnabledAt, lastSyncAt sql.NullTime
	if err := row.Scan(&userID, &provider, &snap.Subject, &mfaType,
		&mfaEnabledAt, &snap.EmailVerified, &lastSyncAt, &snap.LastSyncFingerprint); err != nil {
		return nil, err
	}
	snap.UserID = id.UserID(userID)
	snap.Provider = models.Provider(provider)
	snap.MfaType = models.MfaType(mfaType)
	if mfaEnabledAt.Valid {
		snap.MfaEnabledAt = &mfaEnabledAt.Time
	}
	if lastSyncAt.Valid {
		snap.LastSyncAt = lastSyncAt.Time
	}
	return &snap, nil
}
