package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusUsed     int64 = 1
	rotateStatusRotated  int64 = 2
)

// writeRecord stores a record hash and indexes it under its family and user.
// Index TTLs only ever grow so a long-lived sibling keeps its family visible.
const writeRecordLua = `
local function extend(key, ttl)
  local current = redis.call("PTTL", key)
  if current < ttl then
    redis.call("PEXPIRE", key, ttl)
  end
end

local function write_record(rec_key, fam_key, user_key, hash, user, role, family, exp, created, ttl)
  redis.call("HSET", rec_key, "user", user, "role", role, "family", family, "used", "0", "exp", exp, "created", created)
  redis.call("PEXPIRE", rec_key, ttl)
  redis.call("SADD", fam_key, hash)
  extend(fam_key, ttl)
  redis.call("SADD", user_key, family)
  extend(user_key, ttl)
end
`

const createScript = writeRecordLua + `
write_record(KEYS[1], KEYS[2], KEYS[3], ARGV[1], ARGV[2], ARGV[3], ARGV[4], ARGV[5], ARGV[6], tonumber(ARGV[7]))
return 1
`

const rotateScript = writeRecordLua + `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HGET", KEYS[1], "used") == "1" then
  return 1
end
redis.call("HSET", KEYS[1], "used", "1")
write_record(KEYS[2], KEYS[3], KEYS[4], ARGV[1], ARGV[2], ARGV[3], ARGV[4], ARGV[5], ARGV[6], tonumber(ARGV[7]))
return 2
`

const deleteFamilyScript = `
local members = redis.call("SMEMBERS", KEYS[1])
local removed = 0
for _, hash in ipairs(members) do
  removed = removed + redis.call("DEL", ARGV[1] .. hash)
end
redis.call("DEL", KEYS[1])
if ARGV[2] ~= "" then
  redis.call("SREM", ARGV[2], ARGV[3])
end
return removed
`

const deleteTokenScript = `
local family = redis.call("HGET", KEYS[1], "family")
local removed = redis.call("DEL", KEYS[1])
if family then
  redis.call("SREM", ARGV[1] .. family, ARGV[2])
end
return removed
`

var (
	createLua       = redis.NewScript(createScript)
	rotateLua       = redis.NewScript(rotateScript)
	deleteFamilyLua = redis.NewScript(deleteFamilyScript)
	deleteTokenLua  = redis.NewScript(deleteTokenScript)
)

// RedisStore is a Ledger backed by Redis hashes. Each record expires with its
// token, plus any grace; rotation and family revocation run as Lua scripts.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	grace  time.Duration
	now    func() time.Time
}

// NewRedisStore creates a RedisStore whose keys live under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "rt"
	}
	return &RedisStore{redis: client, prefix: prefix, now: time.Now}
}

// WithClock overrides the clock used to derive record TTLs.
func (s *RedisStore) WithClock(now func() time.Time) *RedisStore {
	if now != nil {
		s.now = now
	}
	return s
}

// WithGrace keeps records in Redis for d past their expiry. Set it to the
// token verification leeway so a token still accepted by the verifier finds
// its record and is reported as expired rather than unknown.
func (s *RedisStore) WithGrace(d time.Duration) *RedisStore {
	if d > 0 {
		s.grace = d
	}
	return s
}

func (s *RedisStore) recordPrefix() string { return s.prefix + ":tok:" }
func (s *RedisStore) familyPrefix() string { return s.prefix + ":fam:" }

func (s *RedisStore) recordKey(hash string) string { return s.recordPrefix() + hash }
func (s *RedisStore) familyKey(family string) string {
	return s.familyPrefix() + family
}
func (s *RedisStore) userKey(role, userID string) string {
	return s.prefix + ":user:" + role + ":" + userID
}

func (s *RedisStore) recordArgs(hash string, rec Record) ([]interface{}, error) {
	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: already expired", ErrInvalidRecord)
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	return []interface{}{
		hash,
		rec.UserID,
		rec.Role,
		rec.Family,
		strconv.FormatInt(rec.ExpiresAt.UnixMilli(), 10),
		strconv.FormatInt(created.UnixMilli(), 10),
		(ttl + s.grace).Milliseconds(),
	}, nil
}

// Create stores a fresh, unused record.
func (s *RedisStore) Create(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	hash := HashToken(rec.Token)
	args, err := s.recordArgs(hash, rec)
	if err != nil {
		return err
	}
	keys := []string{s.recordKey(hash), s.familyKey(rec.Family), s.userKey(rec.Role, rec.UserID)}
	if err := createLua.Run(ctx, s.redis, keys, args...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get loads the record for token. The returned Token field echoes the
// caller's token; only its hash is stored.
func (s *RedisStore) Get(ctx context.Context, token string) (*Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.recordKey(HashToken(token))).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrRecordNotFound
	}

	exp, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad expiry", ErrInvalidRecord)
	}
	created, _ := strconv.ParseInt(fields["created"], 10, 64)

	return &Record{
		Token:     token,
		UserID:    fields["user"],
		Role:      fields["role"],
		Family:    fields["family"],
		IsUsed:    fields["used"] == "1",
		ExpiresAt: time.UnixMilli(exp),
		CreatedAt: time.UnixMilli(created),
	}, nil
}

// Rotate atomically marks consumed used and stores next.
func (s *RedisStore) Rotate(ctx context.Context, consumed string, next Record) error {
	if err := next.Validate(); err != nil {
		return err
	}
	hash := HashToken(next.Token)
	args, err := s.recordArgs(hash, next)
	if err != nil {
		return err
	}
	keys := []string{
		s.recordKey(HashToken(consumed)),
		s.recordKey(hash),
		s.familyKey(next.Family),
		s.userKey(next.Role, next.UserID),
	}

	status, err := rotateLua.Run(ctx, s.redis, keys, args...).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch status {
	case rotateStatusRotated:
		return nil
	case rotateStatusUsed:
		return ErrRecordUsed
	default:
		return ErrRecordNotFound
	}
}

// DeleteToken removes a single record. Deleting an absent token is a no-op.
func (s *RedisStore) DeleteToken(ctx context.Context, token string) error {
	hash := HashToken(token)
	err := deleteTokenLua.Run(ctx, s.redis, []string{s.recordKey(hash)}, s.familyPrefix(), hash).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DeleteFamily removes every record of family and returns how many existed.
func (s *RedisStore) DeleteFamily(ctx context.Context, family string) (int, error) {
	return s.deleteFamily(ctx, family, "")
}

func (s *RedisStore) deleteFamily(ctx context.Context, family, userKey string) (int, error) {
	removed, err := deleteFamilyLua.Run(
		ctx, s.redis,
		[]string{s.familyKey(family)},
		s.recordPrefix(), userKey, family,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(removed), nil
}

// DeleteUser removes every family issued to (role, userID).
//
// The family index is read before the per-family scripts run, so a family
// created concurrently with this call may survive it. Password resets call
// DeleteUser after the credential has changed, so any such survivor was
// issued against the new password.
func (s *RedisStore) DeleteUser(ctx context.Context, role, userID string) (int, error) {
	userKey := s.userKey(role, userID)
	families, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	total := 0
	for _, family := range families {
		n, err := s.deleteFamily(ctx, family, userKey)
		if err != nil {
			return total, err
		}
		total += n
	}
	if err := s.redis.Del(ctx, userKey).Err(); err != nil {
		return total, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return total, nil
}

// DeleteExpired prunes family index entries whose records Redis has already
// expired. Records themselves carry TTLs, so the returned count is the number
// of stale index entries removed.
func (s *RedisStore) DeleteExpired(ctx context.Context, _ time.Time) (int, error) {
	removed := 0
	iter := s.redis.Scan(ctx, 0, s.familyPrefix()+"*", 100).Iterator()
	for iter.Next(ctx) {
		famKey := iter.Val()
		members, err := s.redis.SMembers(ctx, famKey).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		for _, hash := range members {
			exists, err := s.redis.Exists(ctx, s.recordKey(hash)).Result()
			if err != nil {
				return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			if exists == 0 {
				if err := s.redis.SRem(ctx, famKey, hash).Err(); err != nil {
					return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
				}
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return removed, nil
}
