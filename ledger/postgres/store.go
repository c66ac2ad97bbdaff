// Package postgres is a durable ledger.Ledger on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrEthical07/clinicAuth/ledger"
)

// Schema creates the refresh_tokens table. Migrations own it in production;
// tests and local setups can Exec it directly.
const Schema = `
CREATE TABLE IF NOT EXISTS refresh_tokens (
	token_hash TEXT PRIMARY KEY,
	user_id    TEXT        NOT NULL,
	user_role  TEXT        NOT NULL,
	family     TEXT        NOT NULL,
	is_used    BOOLEAN     NOT NULL DEFAULT FALSE,
	expires_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS refresh_tokens_family_idx ON refresh_tokens (family);
CREATE INDEX IF NOT EXISTS refresh_tokens_user_idx ON refresh_tokens (user_role, user_id);
CREATE INDEX IF NOT EXISTS refresh_tokens_expires_idx ON refresh_tokens (expires_at);
`

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements ledger.Ledger.
type Store struct {
	db DB
}

var _ ledger.Ledger = (*Store)(nil)

// NewStore wraps db.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

const insertRecord = `
	INSERT INTO refresh_tokens (token_hash, user_id, user_role, family, is_used, expires_at, created_at)
	VALUES ($1, $2, $3, $4, FALSE, $5, $6)`

func createdAt(rec ledger.Record) time.Time {
	if rec.CreatedAt.IsZero() {
		return time.Now().UTC()
	}
	return rec.CreatedAt
}

// Create inserts an unused record.
func (s *Store) Create(ctx context.Context, rec ledger.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, insertRecord,
		ledger.HashToken(rec.Token),
		rec.UserID,
		rec.Role,
		rec.Family,
		rec.ExpiresAt,
		createdAt(rec),
	)
	if err != nil {
		return fmt.Errorf("%w: insert refresh token: %v", ledger.ErrUnavailable, err)
	}
	return nil
}

// Get loads the record for token.
func (s *Store) Get(ctx context.Context, token string) (*ledger.Record, error) {
	query := `
		SELECT user_id, user_role, family, is_used, expires_at, created_at
		FROM refresh_tokens WHERE token_hash = $1`

	rec := ledger.Record{Token: token}
	err := s.db.QueryRow(ctx, query, ledger.HashToken(token)).Scan(
		&rec.UserID,
		&rec.Role,
		&rec.Family,
		&rec.IsUsed,
		&rec.ExpiresAt,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrRecordNotFound
		}
		return nil, fmt.Errorf("%w: get refresh token: %v", ledger.ErrUnavailable, err)
	}
	return &rec, nil
}

// Rotate flips is_used on consumed only if it is still unused, then inserts
// next, in one transaction.
func (s *Store) Rotate(ctx context.Context, consumed string, next ledger.Record) error {
	if err := next.Validate(); err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin rotate: %v", ledger.ErrUnavailable, err)
	}

	consumedHash := ledger.HashToken(consumed)
	tag, err := tx.Exec(ctx,
		`UPDATE refresh_tokens SET is_used = TRUE WHERE token_hash = $1 AND is_used = FALSE`,
		consumedHash,
	)
	if err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("%w: mark refresh token used: %v", ledger.ErrUnavailable, err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE token_hash = $1)`,
			consumedHash,
		).Scan(&exists)
		_ = tx.Rollback(ctx)
		if err != nil {
			return fmt.Errorf("%w: probe refresh token: %v", ledger.ErrUnavailable, err)
		}
		if exists {
			return ledger.ErrRecordUsed
		}
		return ledger.ErrRecordNotFound
	}

	_, err = tx.Exec(ctx, insertRecord,
		ledger.HashToken(next.Token),
		next.UserID,
		next.Role,
		next.Family,
		next.ExpiresAt,
		createdAt(next),
	)
	if err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("%w: insert successor: %v", ledger.ErrUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit rotate: %v", ledger.ErrUnavailable, err)
	}
	return nil
}

// DeleteToken removes one record.
func (s *Store) DeleteToken(ctx context.Context, token string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE token_hash = $1`, ledger.HashToken(token))
	if err != nil {
		return fmt.Errorf("%w: delete refresh token: %v", ledger.ErrUnavailable, err)
	}
	return nil
}

// DeleteFamily removes every record of family.
func (s *Store) DeleteFamily(ctx context.Context, family string) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE family = $1`, family)
	if err != nil {
		return 0, fmt.Errorf("%w: delete family: %v", ledger.ErrUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteUser removes every record issued to (role, userID).
func (s *Store) DeleteUser(ctx context.Context, role, userID string) (int, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM refresh_tokens WHERE user_role = $1 AND user_id = $2`,
		role, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: delete user tokens: %v", ledger.ErrUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteExpired removes records whose expiry is at or before now.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%w: delete expired: %v", ledger.ErrUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}
