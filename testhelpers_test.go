package clinicAuth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
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
	return mr, rdb
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = testSecret
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Metrics.Enabled = true
	return cfg
}

type testEngine struct {
	*Engine
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	accounts *memAccounts
	mail     *captureMailer
	clock    *testClock
}

func newTestEngine(t testing.TB, mutate func(*Config)) *testEngine {
	t.Helper()
	mr, rdb := newTestRedis(t)

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	accounts := newMemAccounts()
	mail := &captureMailer{}
	clock := &testClock{now: time.Now().Truncate(time.Second)}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(accounts).
		WithMailer(mail).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{Engine: engine, mr: mr, rdb: rdb, accounts: accounts, mail: mail, clock: clock}
}

// seed stores a verified, active account with the given password.
func (te *testEngine) seed(t testing.TB, role Role, email, plain string) *Account {
	t.Helper()
	hash, err := te.passwords.Hash(plain)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	acct := Account{
		Role:         role,
		Email:        email,
		Name:         "Test " + string(role),
		PasswordHash: hash,
		IsActive:     true,
		IsVerified:   true,
	}
	if role != RolePatient {
		acct.Status = StatusActive
	}
	return te.accounts.put(acct)
}

// flushMail waits for in-flight notifications.
func (te *testEngine) flushMail() {
	te.mailWG.Wait()
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type captureMailer struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (m *captureMailer) Send(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return m.err
}

func (m *captureMailer) last(kind NotificationKind) (Notification, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Kind == kind {
			return m.sent[i], true
		}
	}
	return Notification{}, false
}

func (m *captureMailer) count(kind NotificationKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

type memAccounts struct {
	mu     sync.Mutex
	nextID int
	rows   map[Role]map[string]*Account
}

func newMemAccounts() *memAccounts {
	return &memAccounts{rows: make(map[Role]map[string]*Account)}
}

func (s *memAccounts) put(a Account) *Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		s.nextID++
		a.ID = fmt.Sprintf("%s-%d", a.Role, s.nextID)
	}
	if s.rows[a.Role] == nil {
		s.rows[a.Role] = make(map[string]*Account)
	}
	cp := a
	s.rows[a.Role][a.ID] = &cp
	out := cp
	return &out
}

func (s *memAccounts) update(role Role, id string, fn func(*Account)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.rows[role][id]; ok {
		fn(a)
	}
}

func (s *memAccounts) get(role Role, id string) Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.rows[role][id]; ok {
		return *a
	}
	return Account{}
}

func (s *memAccounts) FindByID(_ context.Context, role Role, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[role][id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memAccounts) FindByEmail(_ context.Context, role Role, email string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.rows[role] {
		if strings.EqualFold(a.Email, email) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (s *memAccounts) ProvisionUnverified(ctx context.Context, role Role, in NewAccount) (*Account, bool, error) {
	if existing, err := s.FindByEmail(ctx, role, in.Email); err == nil {
		s.update(role, existing.ID, func(a *Account) {
			a.Name = in.Name
			a.Phone = in.Phone
			a.PasswordHash = in.PasswordHash
			a.IsVerified = false
			a.IsActive = true
			if a.Status == StatusInactive {
				a.Status = StatusActive
			}
		})
		acct := s.get(role, existing.ID)
		return &acct, true, nil
	}
	acct := s.put(Account{
		Role:         role,
		Email:        in.Email,
		Name:         in.Name,
		Phone:        in.Phone,
		PasswordHash: in.PasswordHash,
		IsActive:     true,
	})
	return acct, false, nil
}

func (s *memAccounts) MarkVerified(_ context.Context, role Role, id string) error {
	s.update(role, id, func(a *Account) {
		a.IsVerified = true
		a.IsActive = true
	})
	return nil
}

func (s *memAccounts) UpdatePasswordHash(_ context.Context, role Role, id, hash string) error {
	s.update(role, id, func(a *Account) {
		a.PasswordHash = hash
		a.IsVerified = true
	})
	return nil
}

func (s *memAccounts) CompletePasswordSetup(_ context.Context, role Role, id, hash string) error {
	s.update(role, id, func(a *Account) {
		a.PasswordHash = hash
		a.NeedsPasswordSetup = false
	})
	return nil
}

func (s *memAccounts) UpsertOAuth(ctx context.Context, role Role, p OAuthProfile) (*Account, error) {
	if existing, err := s.FindByEmail(ctx, role, p.Email); err == nil {
		s.update(role, existing.ID, func(a *Account) {
			a.GoogleID = p.Subject
			a.IsVerified = true
		})
		acct := s.get(role, existing.ID)
		return &acct, nil
	}
	return s.put(Account{
		Role:               role,
		Email:              p.Email,
		Name:               p.Name,
		GoogleID:           p.Subject,
		IsActive:           true,
		IsVerified:         true,
		NeedsPasswordSetup: true,
	}), nil
}
