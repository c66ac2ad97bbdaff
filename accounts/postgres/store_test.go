package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clinicAuth "github.com/MrEthical07/clinicAuth"
)

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

var accountColumns = []string{
	"id", "email", "name", "phone", "password_hash", "is_blocked", "is_active",
	"is_verified", "status", "google_id", "needs_password_setup", "created_at",
}

func setupStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	s := NewStore(mock)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func TestStore_FindByEmail_Patient(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectQuery("FROM patients WHERE email = ").
		WithArgs("pat@example.com").
		WillReturnRows(pgxmock.NewRows(accountColumns).
			AddRow("p-1", "pat@example.com", "Pat", "9876543210", "$argon2id$x", false, true, true, "", "", false, fixedNow))

	a, err := store.FindByEmail(context.Background(), clinicAuth.RolePatient, "pat@example.com")
	require.NoError(t, err)
	assert.Equal(t, "p-1", a.ID)
	assert.Equal(t, clinicAuth.RolePatient, a.Role)
	assert.True(t, a.IsVerified)
	assert.False(t, a.Blocked())
	assert.False(t, a.Inactive())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindByID_DoctorStatus(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectQuery("FROM doctors WHERE id = ").
		WithArgs("d-1").
		WillReturnRows(pgxmock.NewRows(accountColumns).
			AddRow("d-1", "doc@example.com", "Doc", "", "h", false, true, true, "blocked", "", false, fixedNow))

	a, err := store.FindByID(context.Background(), clinicAuth.RoleDoctor, "d-1")
	require.NoError(t, err)
	assert.Equal(t, clinicAuth.StatusBlocked, a.Status)
	assert.True(t, a.Blocked())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindByEmail_NotFound(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectQuery("FROM admins WHERE email = ").
		WithArgs("nobody@example.com").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.FindByEmail(context.Background(), clinicAuth.RoleAdmin, "nobody@example.com")
	assert.ErrorIs(t, err, clinicAuth.ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindByEmail_Failure(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectQuery("FROM patients WHERE email = ").
		WithArgs("pat@example.com").
		WillReturnError(errors.New("connection reset"))

	_, err := store.FindByEmail(context.Background(), clinicAuth.RolePatient, "pat@example.com")
	require.Error(t, err)
	assert.NotErrorIs(t, err, clinicAuth.ErrAccountNotFound)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestStore_UnknownRole(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	_, err := store.FindByID(context.Background(), clinicAuth.RoleSuperAdmin, "x")
	assert.ErrorIs(t, err, clinicAuth.ErrRoleNotAllowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ProvisionUnverified(t *testing.T) {
	tests := []struct {
		name   string
		reused bool
	}{
		{name: "fresh insert", reused: false},
		{name: "reused row", reused: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := setupStore(t)
			defer mock.Close()

			in := clinicAuth.NewAccount{Name: "Pat", Email: "pat@example.com", Phone: "9876543210", PasswordHash: "h"}
			mock.ExpectQuery("INSERT INTO patients").
				WithArgs(pgxmock.AnyArg(), in.Name, in.Email, in.Phone, in.PasswordHash, fixedNow).
				WillReturnRows(pgxmock.NewRows(append(accountColumns, "reused")).
					AddRow("p-1", in.Email, in.Name, in.Phone, "h", false, true, false, "", "", false, fixedNow, tt.reused))

			a, reused, err := store.ProvisionUnverified(context.Background(), clinicAuth.RolePatient, in)
			require.NoError(t, err)
			assert.Equal(t, tt.reused, reused)
			assert.False(t, a.IsVerified)
			assert.True(t, a.IsActive)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_MarkVerified(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE patients SET is_verified = TRUE").
		WithArgs("p-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkVerified(context.Background(), clinicAuth.RolePatient, "p-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdatePasswordHash_NotFound(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE doctors SET password_hash").
		WithArgs("d-404", "h2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdatePasswordHash(context.Background(), clinicAuth.RoleDoctor, "d-404", "h2")
	assert.ErrorIs(t, err, clinicAuth.ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CompletePasswordSetup(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectExec("needs_password_setup = FALSE").
		WithArgs("p-1", "h3").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.CompletePasswordSetup(context.Background(), clinicAuth.RolePatient, "p-1", "h3"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Exec_Failure(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE patients").
		WithArgs("p-1", "h").
		WillReturnError(errors.New("deadlock detected"))

	err := store.UpdatePasswordHash(context.Background(), clinicAuth.RolePatient, "p-1", "h")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock detected")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpsertOAuth(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	p := clinicAuth.OAuthProfile{Provider: "google", Subject: "g-42", Email: "pat@example.com", Name: "Pat"}
	mock.ExpectQuery("INSERT INTO patients").
		WithArgs(pgxmock.AnyArg(), p.Name, p.Email, p.Subject, fixedNow).
		WillReturnRows(pgxmock.NewRows(accountColumns).
			AddRow("p-9", p.Email, p.Name, "", "", false, true, true, "", "g-42", true, fixedNow))

	a, err := store.UpsertOAuth(context.Background(), clinicAuth.RolePatient, p)
	require.NoError(t, err)
	assert.Equal(t, "g-42", a.GoogleID)
	assert.True(t, a.NeedsPasswordSetup)
	assert.Empty(t, a.PasswordHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}
