package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	// ErrRecordNotFound is returned when no record exists for a token.
	ErrRecordNotFound = errors.New("ledger: refresh record not found")
	// ErrRecordUsed is returned by Rotate when the consumed token was already
	// rotated. Callers treat it as reuse.
	ErrRecordUsed = errors.New("ledger: refresh record already used")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("ledger: backend unavailable")
	// ErrInvalidRecord is returned for records missing required fields.
	ErrInvalidRecord = errors.New("ledger: invalid record")
)

// Record is one issued refresh token.
type Record struct {
	Token     string
	UserID    string
	Role      string
	Family    string
	IsUsed    bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Validate reports whether r carries every field a store needs.
func (r Record) Validate() error {
	if r.Token == "" || r.UserID == "" || r.Role == "" || r.Family == "" || r.ExpiresAt.IsZero() {
		return ErrInvalidRecord
	}
	return nil
}

// Ledger is the durable refresh-token store.
//
// Rotate is the only operation with a concurrency contract: for a given
// consumed token at most one caller observes success, every other caller
// gets ErrRecordUsed (or ErrRecordNotFound once the record is gone).
type Ledger interface {
	Create(ctx context.Context, rec Record) error
	Get(ctx context.Context, token string) (*Record, error)
	Rotate(ctx context.Context, consumed string, next Record) error
	DeleteToken(ctx context.Context, token string) error
	DeleteFamily(ctx context.Context, family string) (int, error)
	DeleteUser(ctx context.Context, role, userID string) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// HashToken returns the hex SHA-256 of token, the storage key for its record.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
