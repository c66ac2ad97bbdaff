package middleware_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	clinicAuth "github.com/MrEthical07/clinicAuth"
	"github.com/MrEthical07/clinicAuth/password"
)

type fakeAccounts struct {
	mu   sync.Mutex
	rows map[string]*clinicAuth.Account
}

func (s *fakeAccounts) key(role clinicAuth.Role, id string) string { return string(role) + "/" + id }

func (s *fakeAccounts) add(a clinicAuth.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[s.key(a.Role, a.ID)] = &a
}

func (s *fakeAccounts) setStatus(role clinicAuth.Role, id string, st clinicAuth.AccountStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[s.key(role, id)].Status = st
}

func (s *fakeAccounts) FindByID(_ context.Context, role clinicAuth.Role, id string) (*clinicAuth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.rows[s.key(role, id)]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, clinicAuth.ErrAccountNotFound
}

func (s *fakeAccounts) FindByEmail(_ context.Context, role clinicAuth.Role, email string) (*clinicAuth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.rows {
		if a.Role == role && strings.EqualFold(a.Email, email) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, clinicAuth.ErrAccountNotFound
}

func (s *fakeAccounts) ProvisionUnverified(_ context.Context, role clinicAuth.Role, in clinicAuth.NewAccount) (*clinicAuth.Account, bool, error) {
	a := clinicAuth.Account{ID: "new-" + in.Email, Role: role, Email: in.Email, Name: in.Name, PasswordHash: in.PasswordHash, IsActive: true}
	s.add(a)
	return &a, false, nil
}

func (s *fakeAccounts) MarkVerified(_ context.Context, role clinicAuth.Role, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.rows[s.key(role, id)]; ok {
		a.IsVerified = true
	}
	return nil
}

func (s *fakeAccounts) UpdatePasswordHash(context.Context, clinicAuth.Role, string, string) error {
	return nil
}

func (s *fakeAccounts) CompletePasswordSetup(context.Context, clinicAuth.Role, string, string) error {
	return nil
}

func (s *fakeAccounts) UpsertOAuth(context.Context, clinicAuth.Role, clinicAuth.OAuthProfile) (*clinicAuth.Account, error) {
	return nil, clinicAuth.ErrAccountNotFound
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	engine   *clinicAuth.Engine
	accounts *fakeAccounts
	clock    *clock
}

const testPassword = "secret-pass"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	cfg := clinicAuth.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	accounts := &fakeAccounts{rows: make(map[string]*clinicAuth.Account)}
	clk := &clock{now: time.Now().Truncate(time.Second)}

	engine, err := clinicAuth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(accounts).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithClock(clk.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &fixture{engine: engine, accounts: accounts, clock: clk}
}

// login seeds an active account with a known password and logs it in.
func (f *fixture) login(t *testing.T, role clinicAuth.Role, id string) clinicAuth.TokenPair {
	t.Helper()
	f.seed(t, role, id)
	res, err := f.engine.Login(context.Background(), role, id+"@clinic.io", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return res.Tokens
}

func (f *fixture) seed(t *testing.T, role clinicAuth.Role, id string) {
	t.Helper()
	f.accounts.add(clinicAuth.Account{
		ID:           id,
		Role:         role,
		Email:        id + "@clinic.io",
		PasswordHash: f.hash(t),
		IsActive:     true,
		IsVerified:   true,
		Status:       clinicAuth.StatusActive,
	})
}

var (
	hashOnce   sync.Once
	cachedHash string
	hashErr    error
)

func (f *fixture) hash(t *testing.T) string {
	t.Helper()
	hashOnce.Do(func() {
		var argon *password.Argon2
		argon, hashErr = password.NewArgon2(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
		if hashErr == nil {
			cachedHash, hashErr = argon.Hash(testPassword)
		}
	})
	if hashErr != nil {
		t.Fatalf("hash failed: %v", hashErr)
	}
	return cachedHash
}
