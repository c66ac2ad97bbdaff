package mail

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	clinicAuth "github.com/MrEthical07/clinicAuth"
)

// ErrCircuitOpen is returned while the breaker rejects sends.
var ErrCircuitOpen = gobreaker.ErrOpenState

// BreakerConfig tunes the circuit breaker around a Mailer.
type BreakerConfig struct {
	Name string

	// MaxRequests is how many sends the half-open state lets through.
	MaxRequests uint32

	// Interval clears closed-state counts. Zero never clears them.
	Interval time.Duration

	// Timeout is how long the breaker stays open.
	Timeout time.Duration

	FailureRatio float64
	MinRequests  uint32
}

// DefaultBreakerConfig trips after half of at least five sends fail and
// retries after thirty seconds.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Breaker stops hammering a failing mail backend. While open, sends go to
// the fallback when one is set, otherwise they fail fast with ErrCircuitOpen.
type Breaker struct {
	next     clinicAuth.Mailer
	fallback clinicAuth.Mailer
	cb       *gobreaker.CircuitBreaker[struct{}]
	logger   *slog.Logger
	name     string
}

// NewBreaker wraps next.
func NewBreaker(next clinicAuth.Mailer, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("mail breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
		// A cancelled request context says nothing about the backend.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	return &Breaker{
		next:   next,
		cb:     gobreaker.NewCircuitBreaker[struct{}](settings),
		logger: logger,
		name:   cfg.Name,
	}
}

// WithFallback returns a copy that routes sends to fb while open.
func (b *Breaker) WithFallback(fb clinicAuth.Mailer) *Breaker {
	cpy := *b
	cpy.fallback = fb
	return &cpy
}

func (b *Breaker) Send(ctx context.Context, n clinicAuth.Notification) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Send(ctx, n)
	})
	if err != nil && b.fallback != nil && (errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)) {
		b.logger.WarnContext(ctx, "mail breaker open, using fallback",
			slog.String("breaker", b.name),
			slog.String("kind", string(n.Kind)),
		)
		return b.fallback.Send(ctx, n)
	}
	return err
}

// State reports the breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
