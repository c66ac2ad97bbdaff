package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	clinicAuth "github.com/MrEthical07/clinicAuth"
	"github.com/MrEthical07/clinicAuth/internal/logging"
)

const loadPassword = "loadtest-password"

type sessionState struct {
	access  string
	refresh string
	mu      sync.Mutex
}

func main() {
	var (
		sessions    = flag.Int("sessions", 1000, "number of patient sessions to log in")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (authenticate + refresh)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	accounts := newStaticAccounts(*sessions)
	engine, err := buildEngine(client, accounts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()
	if err := accounts.hashAll(engine); err != nil {
		fmt.Fprintf(os.Stderr, "hash failed: %v\n", err)
		os.Exit(1)
	}

	states := make([]sessionState, *sessions)
	fmt.Printf("logging in %d patients...\n", *sessions)
	startSeed := time.Now()
	for i := range states {
		res, err := engine.Login(ctx, clinicAuth.RolePatient, emailFor(i), loadPassword)
		if err != nil {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
			os.Exit(1)
		}
		states[i].access = res.Tokens.AccessToken
		states[i].refresh = res.Tokens.RefreshToken
	}
	fmt.Printf("logged in in %s\n", time.Since(startSeed).Round(time.Millisecond))

	authStats := runAuthenticatePhase(ctx, engine, states, *ops, *concurrency)
	refreshStats := runRefreshPhase(ctx, engine, states, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("authenticate", authStats)
	printStats("refresh", refreshStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("refresh reuse detected=%d rotations=%d\n",
		snap.Counters[clinicAuth.MetricRefreshReuseDetected],
		snap.Counters[clinicAuth.MetricRefreshSuccess],
	)
}

// buildEngine uses the cheapest password parameters and no throttles, so the
// phases measure token and ledger work only.
func buildEngine(client redis.UniversalClient, accounts clinicAuth.AccountStore) (*clinicAuth.Engine, error) {
	cfg := clinicAuth.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("loadtest-secret-loadtest-secret-!")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Security.EnableLoginThrottle = false
	cfg.Security.EnableRefreshThrottle = false
	cfg.Metrics.Enabled = true

	return clinicAuth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithAccountStore(accounts).
		WithLogger(logging.New("clinicauth-loadtest", "error")).
		Build()
}

func runAuthenticatePhase(ctx context.Context, engine *clinicAuth.Engine, states []sessionState, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := &states[r.Intn(len(states))]
				state.mu.Lock()
				access := state.access
				state.mu.Unlock()

				t0 := time.Now()
				_, err := engine.Authenticate(ctx, clinicAuth.RolePatient, access, "")
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

// runRefreshPhase rotates each session under its own lock; a failure here
// means the ledger rejected a token that was current.
func runRefreshPhase(ctx context.Context, engine *clinicAuth.Engine, states []sessionState, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := &states[r.Intn(len(states))]

				state.mu.Lock()
				t0 := time.Now()
				pair, err := engine.RefreshAs(ctx, clinicAuth.RolePatient, state.refresh)
				d := time.Since(t0)
				if err == nil {
					state.access = pair.AccessToken
					state.refresh = pair.RefreshToken
				} else {
					atomic.AddInt64(&failures, 1)
				}
				state.mu.Unlock()

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func emailFor(i int) string {
	return fmt.Sprintf("patient-%d@load.test", i)
}

// staticAccounts is a fixed set of verified patients sharing one password.
type staticAccounts struct {
	byEmail map[string]*clinicAuth.Account
	byID    map[string]*clinicAuth.Account
}

func newStaticAccounts(n int) *staticAccounts {
	s := &staticAccounts{
		byEmail: make(map[string]*clinicAuth.Account, n),
		byID:    make(map[string]*clinicAuth.Account, n),
	}
	now := time.Now()
	for i := 0; i < n; i++ {
		a := &clinicAuth.Account{
			ID:         fmt.Sprintf("p-%d", i),
			Role:       clinicAuth.RolePatient,
			Email:      emailFor(i),
			Name:       "Load Patient",
			IsActive:   true,
			IsVerified: true,
			CreatedAt:  now,
		}
		s.byEmail[a.Email] = a
		s.byID[a.ID] = a
	}
	return s
}

// hashAll provisions the shared password through the engine's own hasher by
// running setup once and copying the stored hash to every account.
func (s *staticAccounts) hashAll(engine *clinicAuth.Engine) error {
	first := s.byID["p-0"]
	first.NeedsPasswordSetup = true
	if err := engine.SetupPassword(context.Background(), clinicAuth.RolePatient, first.ID, loadPassword); err != nil {
		return err
	}
	for _, a := range s.byID {
		a.PasswordHash = first.PasswordHash
	}
	return nil
}

func (s *staticAccounts) FindByID(_ context.Context, role clinicAuth.Role, id string) (*clinicAuth.Account, error) {
	a, ok := s.byID[id]
	if !ok || role != clinicAuth.RolePatient {
		return nil, clinicAuth.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *staticAccounts) FindByEmail(_ context.Context, role clinicAuth.Role, email string) (*clinicAuth.Account, error) {
	a, ok := s.byEmail[email]
	if !ok || role != clinicAuth.RolePatient {
		return nil, clinicAuth.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *staticAccounts) ProvisionUnverified(context.Context, clinicAuth.Role, clinicAuth.NewAccount) (*clinicAuth.Account, bool, error) {
	return nil, false, clinicAuth.ErrRoleNotAllowed
}

func (s *staticAccounts) MarkVerified(context.Context, clinicAuth.Role, string) error { return nil }

func (s *staticAccounts) UpdatePasswordHash(_ context.Context, _ clinicAuth.Role, id, hash string) error {
	return s.setHash(id, hash)
}

func (s *staticAccounts) CompletePasswordSetup(_ context.Context, _ clinicAuth.Role, id, hash string) error {
	if err := s.setHash(id, hash); err != nil {
		return err
	}
	s.byID[id].NeedsPasswordSetup = false
	return nil
}

func (s *staticAccounts) setHash(id, hash string) error {
	a, ok := s.byID[id]
	if !ok {
		return clinicAuth.ErrAccountNotFound
	}
	a.PasswordHash = hash
	return nil
}

func (s *staticAccounts) UpsertOAuth(context.Context, clinicAuth.Role, clinicAuth.OAuthProfile) (*clinicAuth.Account, error) {
	return nil, clinicAuth.ErrRoleNotAllowed
}

var _ clinicAuth.AccountStore = (*staticAccounts)(nil)
