package clinicAuth

import (
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	internalaudit "github.com/MrEthical07/clinicAuth/internal/audit"
	"github.com/MrEthical07/clinicAuth/internal/limiters"
	"github.com/MrEthical07/clinicAuth/internal/otpsession"
	"github.com/MrEthical07/clinicAuth/internal/rate"
	"github.com/MrEthical07/clinicAuth/jwt"
	"github.com/MrEthical07/clinicAuth/keystore"
	"github.com/MrEthical07/clinicAuth/ledger"
	"github.com/MrEthical07/clinicAuth/password"
)

// Builder assembles an Engine. A Builder is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	ledger    ledger.Ledger
	accounts  AccountStore
	mailer    Mailer
	auditSink AuditSink
	logger    *slog.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for OTP codes, OTP sessions, reset tokens,
// throttles and, unless WithLedger is used, the refresh ledger.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLedger overrides the default Redis refresh ledger, for example with
// ledger/postgres.
func (b *Builder) WithLedger(l ledger.Ledger) *Builder {
	b.ledger = l
	return b
}

// WithAccountStore sets the account persistence. Required.
func (b *Builder) WithAccountStore(store AccountStore) *Builder {
	b.accounts = store
	return b
}

// WithMailer sets the notification transport. Without one, notifications
// are logged at DEBUG and dropped.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source for token issuance and ledger expiry.
// Tests use it to sit exactly on expiry boundaries.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.accounts == nil {
		return nil, errors.New("account store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := &Engine{
		config:   cloneConfig(cfg),
		accounts: b.accounts,
		mailer:   b.mailer,
		logger:   logger,
		now:      now,
	}

	// -------- REDIS-BACKED STATE --------
	if b.ledger != nil {
		engine.ledger = b.ledger
	} else {
		engine.ledger = ledger.NewRedisStore(b.redis, cfg.Ledger.RedisPrefix).
			WithClock(now).
			WithGrace(cfg.JWT.Leeway)
	}
	engine.keys = keystore.NewRedisStore(b.redis, cfg.OTP.RedisPrefix)
	engine.otpSessions = otpsession.New(b.redis, cfg.OTP.RedisPrefix, cfg.OTP.SessionTTL)

	maxLogin := cfg.Security.MaxLoginAttempts
	if !cfg.Security.EnableLoginThrottle {
		maxLogin = 0
	}
	engine.rateLimiter = rate.New(b.redis, rate.Config{
		EnableIPThrottle:        cfg.Security.EnableIPThrottle,
		EnableRefreshThrottle:   cfg.Security.EnableRefreshThrottle,
		MaxLoginAttempts:        maxLogin,
		LoginCooldownDuration:   cfg.Security.LoginCooldownDuration,
		MaxRefreshAttempts:      cfg.Security.MaxRefreshAttempts,
		RefreshCooldownDuration: cfg.Security.RefreshCooldownDuration,
	})

	if cfg.Security.EnableSignupThrottle {
		engine.signupLimiter = limiters.NewWindow(b.redis, "signup", limiters.Config{
			EnableIdentifierThrottle: true,
			EnableIPThrottle:         cfg.Security.EnableIPThrottle,
			MaxAttempts:              cfg.Security.MaxSignupAttempts,
			Cooldown:                 cfg.Security.SignupCooldownDuration,
		})
	}
	if cfg.Security.EnableResetThrottle {
		engine.resetLimiter = limiters.NewWindow(b.redis, "reset", limiters.Config{
			EnableIdentifierThrottle: true,
			EnableIPThrottle:         cfg.Security.EnableIPThrottle,
			MaxAttempts:              cfg.Security.MaxResetRequests,
			Cooldown:                 cfg.Security.ResetCooldownDuration,
		})
	}

	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:            cfg.Audit.Enabled,
		BufferSize:         cfg.Audit.BufferSize,
		SecurityBufferSize: cfg.Audit.SecurityBufferSize,
		DropIfFull:         cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	// -------- CREDENTIALS --------
	ph, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MinPasswordBytes: cfg.Password.MinLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwords = password.NewVerifier(ph)

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		AdminTTL:      cfg.JWT.AdminTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	engine.tokens = jm

	engine.flows = engine.buildFlowDeps()

	b.built = true

	return engine, nil
}
