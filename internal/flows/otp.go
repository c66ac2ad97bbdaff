package flows

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
)

// OTPGateDecision is the outcome of inspecting a signup session before the
// code entry page is shown.
type OTPGateDecision int

const (
	OTPGateAllow OTPGateDecision = iota
	OTPGateVerified
	OTPGateNoSession
	OTPGateExpired
	OTPGateTooManyAttempts
)

// OTPGateState is what the engine observed in Redis.
type OTPGateState struct {
	SessionFound bool
	Pending      bool
	Verified     bool
	AttemptCount int
	CodePresent  bool
}

// DecideOTPGate maps the stored state to a decision. Verified wins over
// everything so a user who already confirmed is always sent onward.
// ClearState reports whether the caller should delete the session and code.
func DecideOTPGate(s OTPGateState, maxAttempts int) (decision OTPGateDecision, clearState bool) {
	switch {
	case s.SessionFound && s.Verified:
		return OTPGateVerified, false
	case !s.SessionFound || !s.Pending:
		return OTPGateNoSession, false
	case !s.CodePresent:
		return OTPGateExpired, true
	case s.AttemptCount >= maxAttempts:
		return OTPGateTooManyAttempts, true
	default:
		return OTPGateAllow, false
	}
}

// GenerateCode returns a uniformly random decimal code of the given length,
// zero padded.
func GenerateCode(digits int) (string, error) {
	if digits <= 0 || digits > 18 {
		return "", errors.New("otp digits out of range")
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}

// CodesEqual compares a submitted code with the stored one in constant time.
func CodesEqual(submitted, stored string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(stored)) == 1
}

// RemainingAttempts is the number of wrong codes still allowed after
// attempts failures.
func RemainingAttempts(attempts, maxAttempts int) int {
	if r := maxAttempts - attempts; r > 0 {
		return r
	}
	return 0
}
