package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	clinicAuth "github.com/MrEthical07/clinicAuth"
	"github.com/MrEthical07/clinicAuth/httpapi"
	"github.com/MrEthical07/clinicAuth/password"
)

const testPassword = "secret-pass"

type accountStore struct {
	mu     sync.Mutex
	nextID int
	rows   map[string]*clinicAuth.Account
}

func newAccountStore() *accountStore {
	return &accountStore{rows: make(map[string]*clinicAuth.Account)}
}

func rowKey(role clinicAuth.Role, id string) string { return string(role) + "/" + id }

func (s *accountStore) put(a clinicAuth.Account) *clinicAuth.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		s.nextID++
		a.ID = fmt.Sprintf("%s-%d", a.Role, s.nextID)
	}
	s.rows[rowKey(a.Role, a.ID)] = &a
	cp := a
	return &cp
}

func (s *accountStore) mutate(role clinicAuth.Role, id string, fn func(*clinicAuth.Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[rowKey(role, id)]
	if !ok {
		return clinicAuth.ErrAccountNotFound
	}
	fn(a)
	return nil
}

func (s *accountStore) FindByID(_ context.Context, role clinicAuth.Role, id string) (*clinicAuth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.rows[rowKey(role, id)]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, clinicAuth.ErrAccountNotFound
}

func (s *accountStore) FindByEmail(_ context.Context, role clinicAuth.Role, email string) (*clinicAuth.Account, error) {
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

func (s *accountStore) ProvisionUnverified(ctx context.Context, role clinicAuth.Role, in clinicAuth.NewAccount) (*clinicAuth.Account, bool, error) {
	if existing, err := s.FindByEmail(ctx, role, in.Email); err == nil {
		_ = s.mutate(role, existing.ID, func(a *clinicAuth.Account) {
			a.Name, a.Phone, a.PasswordHash = in.Name, in.Phone, in.PasswordHash
			a.IsVerified, a.IsActive = false, true
		})
		acct, _ := s.FindByID(ctx, role, existing.ID)
		return acct, true, nil
	}
	return s.put(clinicAuth.Account{
		Role:         role,
		Email:        in.Email,
		Name:         in.Name,
		Phone:        in.Phone,
		PasswordHash: in.PasswordHash,
		IsActive:     true,
	}), false, nil
}

func (s *accountStore) MarkVerified(_ context.Context, role clinicAuth.Role, id string) error {
	return s.mutate(role, id, func(a *clinicAuth.Account) { a.IsVerified, a.IsActive = true, true })
}

func (s *accountStore) UpdatePasswordHash(_ context.Context, role clinicAuth.Role, id, hash string) error {
	return s.mutate(role, id, func(a *clinicAuth.Account) { a.PasswordHash, a.IsVerified = hash, true })
}

func (s *accountStore) CompletePasswordSetup(_ context.Context, role clinicAuth.Role, id, hash string) error {
	return s.mutate(role, id, func(a *clinicAuth.Account) { a.PasswordHash, a.NeedsPasswordSetup = hash, false })
}

func (s *accountStore) UpsertOAuth(ctx context.Context, role clinicAuth.Role, p clinicAuth.OAuthProfile) (*clinicAuth.Account, error) {
	if existing, err := s.FindByEmail(ctx, role, p.Email); err == nil {
		_ = s.mutate(role, existing.ID, func(a *clinicAuth.Account) { a.GoogleID, a.IsVerified = p.Subject, true })
		return s.FindByID(ctx, role, existing.ID)
	}
	return s.put(clinicAuth.Account{
		Role:               role,
		Email:              p.Email,
		Name:               p.Name,
		GoogleID:           p.Subject,
		IsActive:           true,
		IsVerified:         true,
		NeedsPasswordSetup: true,
	}), nil
}

// mailbox receives every notification the engine dispatches.
type mailbox struct {
	ch chan clinicAuth.Notification
}

func (m *mailbox) Send(_ context.Context, n clinicAuth.Notification) error {
	m.ch <- n
	return nil
}

func (m *mailbox) next(t *testing.T, kind clinicAuth.NotificationKind) clinicAuth.Notification {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case n := <-m.ch:
			if n.Kind == kind {
				return n
			}
		case <-deadline:
			t.Fatalf("no %s notification delivered", kind)
		}
	}
}

type stubExchanger struct {
	profile clinicAuth.OAuthProfile
}

func (s stubExchanger) Exchange(_ context.Context, code string) (clinicAuth.OAuthProfile, error) {
	if code != "good-code" {
		return clinicAuth.OAuthProfile{}, fmt.Errorf("provider rejected code")
	}
	return s.profile, nil
}

type server struct {
	handler  http.Handler
	engine   *clinicAuth.Engine
	accounts *accountStore
	mail     *mailbox
}

func newServer(t *testing.T, mutate func(*clinicAuth.Config, *httpapi.Options)) *server {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := clinicAuth.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := httpapi.Options{
		Logger: logger,
		OAuth: map[clinicAuth.Role]clinicAuth.OAuthExchanger{
			clinicAuth.RolePatient: stubExchanger{profile: clinicAuth.OAuthProfile{
				Provider: "google", Subject: "g-1", Email: "oauth@clinic.io", Name: "OAuth User",
			}},
		},
	}
	if mutate != nil {
		mutate(&cfg, &opts)
	}

	accounts := newAccountStore()
	mail := &mailbox{ch: make(chan clinicAuth.Notification, 64)}
	engine, err := clinicAuth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(accounts).
		WithMailer(mail).
		WithLogger(logger).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	h, err := httpapi.NewRouter(engine, opts)
	require.NoError(t, err)

	return &server{handler: h, engine: engine, accounts: accounts, mail: mail}
}

var (
	hashOnce   sync.Once
	cachedHash string
)

func knownHash(t *testing.T) string {
	t.Helper()
	hashOnce.Do(func() {
		argon, err := password.NewArgon2(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
		if err == nil {
			cachedHash, _ = argon.Hash(testPassword)
		}
	})
	require.NotEmpty(t, cachedHash)
	return cachedHash
}

func (s *server) seed(t *testing.T, role clinicAuth.Role, email string) *clinicAuth.Account {
	t.Helper()
	a := clinicAuth.Account{
		Role:         role,
		Email:        email,
		Name:         "Seeded",
		PasswordHash: knownHash(t),
		IsActive:     true,
		IsVerified:   true,
	}
	if role != clinicAuth.RolePatient {
		a.Status = clinicAuth.StatusActive
	}
	return s.accounts.put(a)
}

func (s *server) do(method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *server) login(t *testing.T, role clinicAuth.Role, email string) []*http.Cookie {
	t.Helper()
	rec := s.do(http.MethodPost, "/"+role.String()+"/login", map[string]string{"email": email, "password": testPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return liveCookies(rec)
}

// liveCookies returns the cookies rec sets, skipping deletions.
func liveCookies(rec *httptest.ResponseRecorder) []*http.Cookie {
	var out []*http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge >= 0 && c.Value != "" {
			out = append(out, c)
		}
	}
	return out
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeErrors(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body struct {
		Errors map[string]string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Errors
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}
