package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrUnsupportedHash is returned for stored hashes in an unknown format.
var ErrUnsupportedHash = errors.New("unsupported password hash format")

// Verifier checks submitted passwords against stored hashes. New hashes are
// always Argon2id; bcrypt hashes carried over from the previous account
// store still verify so existing users are not locked out.
type Verifier struct {
	argon *Argon2
}

// NewVerifier wraps an Argon2 hasher.
func NewVerifier(argon *Argon2) *Verifier {
	return &Verifier{argon: argon}
}

// Hash produces an Argon2id hash for the trimmed password.
func (v *Verifier) Hash(password string) (string, error) {
	return v.argon.Hash(strings.TrimSpace(password))
}

// Verify reports whether password matches encodedHash. The submitted
// password is trimmed, as the signup and login forms always were.
func (v *Verifier) Verify(password, encodedHash string) (bool, error) {
	password = strings.TrimSpace(password)

	switch {
	case isArgon2Hash(encodedHash):
		return v.argon.Verify(password, encodedHash)
	case isBcryptHash(encodedHash):
		if len(password) > v.argon.config.MaxPasswordBytes {
			return false, ErrPasswordTooLong
		}
		err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, err
		}
	default:
		return false, ErrUnsupportedHash
	}
}

// NeedsUpgrade reports whether encodedHash should be replaced with a fresh
// Argon2id hash after the next successful verification.
func (v *Verifier) NeedsUpgrade(encodedHash string) bool {
	if isBcryptHash(encodedHash) {
		return true
	}
	upgrade, err := v.argon.NeedsUpgrade(encodedHash)
	return err == nil && upgrade
}

func isBcryptHash(encodedHash string) bool {
	return strings.HasPrefix(encodedHash, "$2a$") ||
		strings.HasPrefix(encodedHash, "$2b$") ||
		strings.HasPrefix(encodedHash, "$2y$")
}
