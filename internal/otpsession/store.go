package otpsession

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when no session exists for the id.
	ErrNotFound = errors.New("otp session not found")
	// ErrNotPending is returned by Resend for verified sessions.
	ErrNotPending = errors.New("otp session not pending")
	// ErrResendLimit is returned by Resend once the resend budget is spent.
	ErrResendLimit = errors.New("otp resend limit reached")
	// ErrAttemptsExhausted is returned by ReserveAttempt once the attempt
	// budget is spent.
	ErrAttemptsExhausted = errors.New("otp attempts exhausted")
	// ErrRedisUnavailable wraps Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Session is the stored state of one signup verification.
type Session struct {
	ID           string
	Email        string
	Role         string
	OTPExpiry    time.Time
	AttemptCount int
	ResendCount  int
	Pending      bool
	Verified     bool
}

const (
	statusNotFound   int64 = -1
	statusNotPending int64 = -2
	statusLimit      int64 = -3
)

const reserveAttemptScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HGET", KEYS[1], "pending") ~= "1" then
  return -2
end
local attempts = tonumber(redis.call("HGET", KEYS[1], "attempts") or "0")
if attempts >= tonumber(ARGV[1]) then
  return -3
end
return redis.call("HINCRBY", KEYS[1], "attempts", 1)
`

const resendScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HGET", KEYS[1], "pending") ~= "1" then
  return -2
end
local resends = tonumber(redis.call("HGET", KEYS[1], "resends") or "0")
if resends >= tonumber(ARGV[1]) then
  return -3
end
redis.call("HSET", KEYS[1], "attempts", "0", "otp_exp", ARGV[2])
local next = redis.call("HINCRBY", KEYS[1], "resends", 1)
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return next
`

const markVerifiedScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HGET", KEYS[1], "pending") ~= "1" then
  return -2
end
local ttl = redis.call("PTTL", KEYS[1])
local email = redis.call("HGET", KEYS[1], "email") or ""
local role = redis.call("HGET", KEYS[1], "role") or ""
redis.call("DEL", KEYS[1])
redis.call("HSET", KEYS[1], "email", email, "role", role, "pending", "0", "verified", "1", "attempts", "0", "resends", "0")
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[1], ttl)
end
return 1
`

var (
	reserveAttemptLua = redis.NewScript(reserveAttemptScript)
	resendLua         = redis.NewScript(resendScript)
	markVerifiedLua   = redis.NewScript(markVerifiedScript)
)

// Store persists Sessions as Redis hashes that expire after ttl.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// New returns a Store. ttl is the lifetime of a session, re-armed on resend.
func New(client redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	return &Store{redis: client, prefix: prefix, ttl: ttl}
}

// TTL reports the configured session lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }

func (s *Store) key(id string) string {
	return s.prefix + ":otps:" + id
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// Create writes a fresh session, replacing any previous state under the id.
func (s *Store) Create(ctx context.Context, sess Session) error {
	key := s.key(sess.ID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"email", sess.Email,
			"role", sess.Role,
			"otp_exp", strconv.FormatInt(sess.OTPExpiry.UnixMilli(), 10),
			"attempts", strconv.Itoa(sess.AttemptCount),
			"resends", strconv.Itoa(sess.ResendCount),
			"pending", boolField(sess.Pending),
			"verified", boolField(sess.Verified),
		)
		pipe.PExpire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get loads a session.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	fields, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	attempts, _ := strconv.Atoi(fields["attempts"])
	resends, _ := strconv.Atoi(fields["resends"])
	sess := &Session{
		ID:           id,
		Email:        fields["email"],
		Role:         fields["role"],
		AttemptCount: attempts,
		ResendCount:  resends,
		Pending:      fields["pending"] == "1",
		Verified:     fields["verified"] == "1",
	}
	if ms, err := strconv.ParseInt(fields["otp_exp"], 10, 64); err == nil && ms > 0 {
		sess.OTPExpiry = time.UnixMilli(ms)
	}
	return sess, nil
}

// ReserveAttempt claims one of maxAttempts guesses before a code is compared
// and returns the attempt number it was given. Once maxAttempts guesses have
// been claimed every caller gets ErrAttemptsExhausted, however many arrive at
// once. Verified sessions report ErrNotPending.
func (s *Store) ReserveAttempt(ctx context.Context, id string, maxAttempts int) (int, error) {
	n, err := reserveAttemptLua.Run(ctx, s.redis, []string{s.key(id)}, maxAttempts).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	switch n {
	case statusNotFound:
		return 0, ErrNotFound
	case statusNotPending:
		return 0, ErrNotPending
	case statusLimit:
		return 0, ErrAttemptsExhausted
	}
	return int(n), nil
}

// Resend resets the attempt counter, bumps the resend counter and re-arms
// the session TTL, provided the session is pending and fewer than
// maxResends resends have happened. It returns the new resend count.
func (s *Store) Resend(ctx context.Context, id string, maxResends int, otpExpiry time.Time) (int, error) {
	n, err := resendLua.Run(ctx, s.redis, []string{s.key(id)},
		maxResends,
		strconv.FormatInt(otpExpiry.UnixMilli(), 10),
		s.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	switch n {
	case statusNotFound:
		return 0, ErrNotFound
	case statusNotPending:
		return 0, ErrNotPending
	case statusLimit:
		return 0, ErrResendLimit
	}
	return int(n), nil
}

// MarkVerified replaces a pending session with a verified tombstone:
// counters and OTP state are cleared, the remaining TTL is kept. Only the
// first caller succeeds; later ones get ErrNotPending.
func (s *Store) MarkVerified(ctx context.Context, id string) error {
	n, err := markVerifiedLua.Run(ctx, s.redis, []string{s.key(id)}).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	switch n {
	case statusNotFound:
		return ErrNotFound
	case statusNotPending:
		return ErrNotPending
	}
	return nil
}

// Delete removes a session. Missing sessions are not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
