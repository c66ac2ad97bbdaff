// Package postgres is a clinicAuth.AccountStore over one PostgreSQL table
// per role, via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	clinicAuth "github.com/MrEthical07/clinicAuth"
)

// Schema creates the account tables. Patients carry blocked/active flags;
// doctors and admins carry a status column.
const Schema = `
CREATE TABLE IF NOT EXISTS patients (
	id                   TEXT PRIMARY KEY,
	name                 TEXT        NOT NULL DEFAULT '',
	email                TEXT        NOT NULL UNIQUE,
	phone                TEXT        NOT NULL DEFAULT '',
	password_hash        TEXT,
	is_blocked           BOOLEAN     NOT NULL DEFAULT FALSE,
	is_active            BOOLEAN     NOT NULL DEFAULT TRUE,
	is_verified          BOOLEAN     NOT NULL DEFAULT FALSE,
	google_id            TEXT,
	needs_password_setup BOOLEAN     NOT NULL DEFAULT FALSE,
	deactivated_at       TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS doctors (
	id                   TEXT PRIMARY KEY,
	name                 TEXT        NOT NULL DEFAULT '',
	email                TEXT        NOT NULL UNIQUE,
	phone                TEXT        NOT NULL DEFAULT '',
	password_hash        TEXT,
	status               TEXT        NOT NULL DEFAULT 'active',
	is_verified          BOOLEAN     NOT NULL DEFAULT TRUE,
	google_id            TEXT,
	needs_password_setup BOOLEAN     NOT NULL DEFAULT FALSE,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS admins (
	id                   TEXT PRIMARY KEY,
	name                 TEXT        NOT NULL DEFAULT '',
	email                TEXT        NOT NULL UNIQUE,
	phone                TEXT        NOT NULL DEFAULT '',
	password_hash        TEXT,
	status               TEXT        NOT NULL DEFAULT 'active',
	is_verified          BOOLEAN     NOT NULL DEFAULT TRUE,
	google_id            TEXT,
	needs_password_setup BOOLEAN     NOT NULL DEFAULT FALSE,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// table describes how one role's rows are laid out.
type table struct {
	name string
	// flags is true for the patients layout (is_blocked/is_active).
	flags bool
}

func (t table) columns() string {
	if t.flags {
		return `id, email, name, phone, COALESCE(password_hash, ''), is_blocked, is_active,
			is_verified, '' AS status, COALESCE(google_id, ''), needs_password_setup, created_at`
	}
	return `id, email, name, phone, COALESCE(password_hash, ''), FALSE AS is_blocked, TRUE AS is_active,
			is_verified, status, COALESCE(google_id, ''), needs_password_setup, created_at`
}

// activate is the SET fragment that marks a row active again.
func (t table) activate() string {
	if t.flags {
		return "is_active = TRUE, deactivated_at = NULL"
	}
	return "status = 'active'"
}

func (t table) activeColumn() (string, string) {
	if t.flags {
		return "is_active", "TRUE"
	}
	return "status", "'active'"
}

var tables = map[clinicAuth.Role]table{
	clinicAuth.RolePatient: {name: "patients", flags: true},
	clinicAuth.RoleDoctor:  {name: "doctors"},
	clinicAuth.RoleAdmin:   {name: "admins"},
}

// Store implements clinicAuth.AccountStore.
type Store struct {
	db  DB
	now func() time.Time
}

var _ clinicAuth.AccountStore = (*Store)(nil)

// NewStore wraps db.
func NewStore(db DB) *Store {
	return &Store{db: db, now: time.Now}
}

func tableFor(role clinicAuth.Role) (table, error) {
	t, ok := tables[role]
	if !ok {
		return table{}, fmt.Errorf("%w: no account table for %q", clinicAuth.ErrRoleNotAllowed, role)
	}
	return t, nil
}

func scanAccount(row pgx.Row, role clinicAuth.Role, extra ...any) (*clinicAuth.Account, error) {
	var (
		a      = clinicAuth.Account{Role: role}
		status string
	)
	dest := []any{
		&a.ID, &a.Email, &a.Name, &a.Phone, &a.PasswordHash, &a.IsBlocked, &a.IsActive,
		&a.IsVerified, &status, &a.GoogleID, &a.NeedsPasswordSetup, &a.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, clinicAuth.ErrAccountNotFound
		}
		return nil, err
	}
	a.Status = clinicAuth.AccountStatus(status)
	return &a, nil
}

func (s *Store) findBy(ctx context.Context, role clinicAuth.Role, column, value string) (*clinicAuth.Account, error) {
	t, err := tableFor(role)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`, t.columns(), t.name, column)
	a, err := scanAccount(s.db.QueryRow(ctx, query, value), role)
	if err != nil && !errors.Is(err, clinicAuth.ErrAccountNotFound) {
		return nil, fmt.Errorf("find %s by %s: %w", role, column, err)
	}
	return a, err
}

// FindByID loads an account by primary key.
func (s *Store) FindByID(ctx context.Context, role clinicAuth.Role, id string) (*clinicAuth.Account, error) {
	return s.findBy(ctx, role, "id", id)
}

// FindByEmail loads an account by its unique email.
func (s *Store) FindByEmail(ctx context.Context, role clinicAuth.Role, email string) (*clinicAuth.Account, error) {
	return s.findBy(ctx, role, "email", email)
}

// ProvisionUnverified inserts a row, or on an email conflict resets the
// existing row to unverified and active. xmax is non-zero only for rows the
// statement updated, which is how reuse is reported.
func (s *Store) ProvisionUnverified(ctx context.Context, role clinicAuth.Role, in clinicAuth.NewAccount) (*clinicAuth.Account, bool, error) {
	t, err := tableFor(role)
	if err != nil {
		return nil, false, err
	}
	activeCol, activeVal := t.activeColumn()
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (id, name, email, phone, password_hash, is_verified, %[2]s, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, %[3]s, $6)
		ON CONFLICT (email) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			password_hash = EXCLUDED.password_hash,
			is_verified = FALSE,
			%[4]s
		RETURNING %[5]s, (xmax <> 0) AS reused`,
		t.name, activeCol, activeVal, t.activate(), t.columns())

	var reused bool
	a, err := scanAccount(s.db.QueryRow(ctx, query,
		uuid.NewString(), in.Name, in.Email, in.Phone, in.PasswordHash, s.now().UTC(),
	), role, &reused)
	if err != nil {
		return nil, false, fmt.Errorf("provision %s: %w", role, err)
	}
	return a, reused, nil
}

func (s *Store) update(ctx context.Context, role clinicAuth.Role, op, set string, args ...any) error {
	t, err := tableFor(role)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1`, t.name, set)
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, role, err)
	}
	if tag.RowsAffected() == 0 {
		return clinicAuth.ErrAccountNotFound
	}
	return nil
}

// MarkVerified sets verified and active.
func (s *Store) MarkVerified(ctx context.Context, role clinicAuth.Role, id string) error {
	t, err := tableFor(role)
	if err != nil {
		return err
	}
	return s.update(ctx, role, "mark verified", "is_verified = TRUE, "+t.activate(), id)
}

// UpdatePasswordHash stores hash and marks the account verified.
func (s *Store) UpdatePasswordHash(ctx context.Context, role clinicAuth.Role, id, hash string) error {
	return s.update(ctx, role, "update password", "password_hash = $2, is_verified = TRUE", id, hash)
}

// CompletePasswordSetup stores hash and clears needs_password_setup.
func (s *Store) CompletePasswordSetup(ctx context.Context, role clinicAuth.Role, id, hash string) error {
	return s.update(ctx, role, "complete password setup", "password_hash = $2, needs_password_setup = FALSE", id, hash)
}

// UpsertOAuth links the provider subject to the account with that email, or
// creates a verified account that still needs a password.
func (s *Store) UpsertOAuth(ctx context.Context, role clinicAuth.Role, p clinicAuth.OAuthProfile) (*clinicAuth.Account, error) {
	t, err := tableFor(role)
	if err != nil {
		return nil, err
	}
	activeCol, activeVal := t.activeColumn()
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (id, name, email, google_id, is_verified, needs_password_setup, %[2]s, created_at)
		VALUES ($1, $2, $3, $4, TRUE, TRUE, %[3]s, $5)
		ON CONFLICT (email) DO UPDATE SET
			google_id = EXCLUDED.google_id,
			is_verified = TRUE
		RETURNING %[4]s`,
		t.name, activeCol, activeVal, t.columns())

	a, err := scanAccount(s.db.QueryRow(ctx, query,
		uuid.NewString(), p.Name, p.Email, p.Subject, s.now().UTC(),
	), role)
	if err != nil {
		return nil, fmt.Errorf("upsert oauth %s: %w", role, err)
	}
	return a, nil
}
