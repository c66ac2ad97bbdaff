package internal

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

// MinResetTokenBytes is the smallest accepted reset token entropy.
const MinResetTokenBytes = 16

// NewResetToken returns n random bytes, hex encoded.
func NewResetToken(n int) (string, error) {
	if n < MinResetTokenBytes {
		return "", errors.New("reset token too short")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// SecretEqual compares two secrets in constant time. An empty expected value
// never matches.
func SecretEqual(got, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}
