package mail

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clinicAuth "github.com/MrEthical07/clinicAuth"
)

type flakyMailer struct {
	fail  atomic.Bool
	calls atomic.Int32
}

func (f *flakyMailer) Send(context.Context, clinicAuth.Notification) error {
	f.calls.Add(1)
	if f.fail.Load() {
		return errors.New("smtp: connection refused")
	}
	return nil
}

type countingMailer struct {
	calls atomic.Int32
}

func (c *countingMailer) Send(context.Context, clinicAuth.Notification) error {
	c.calls.Add(1)
	return nil
}

func testBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      50 * time.Millisecond,
		FailureRatio: 0.5,
		MinRequests:  3,
	}
}

var otpNote = clinicAuth.Notification{Kind: clinicAuth.NotifySignupOTP, Role: clinicAuth.RolePatient, To: "a@clinic.io", OTP: "123456"}

func TestBreakerTripsAndFailsFast(t *testing.T) {
	backend := &flakyMailer{}
	backend.fail.Store(true)
	b := NewBreaker(backend, testBreakerConfig("trip"), discardLogger())

	for i := 0; i < 3; i++ {
		require.Error(t, b.Send(context.Background(), otpNote))
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	err := b.Send(context.Background(), otpNote)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(3), backend.calls.Load(), "open breaker must not reach the backend")
}

func TestBreakerRecoversAfterTimeout(t *testing.T) {
	backend := &flakyMailer{}
	backend.fail.Store(true)
	b := NewBreaker(backend, testBreakerConfig("recover"), discardLogger())

	for i := 0; i < 3; i++ {
		_ = b.Send(context.Background(), otpNote)
	}
	require.Equal(t, gobreaker.StateOpen, b.State())

	backend.fail.Store(false)
	time.Sleep(80 * time.Millisecond)

	require.NoError(t, b.Send(context.Background(), otpNote))
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerFallbackWhileOpen(t *testing.T) {
	backend := &flakyMailer{}
	backend.fail.Store(true)
	fallback := &countingMailer{}
	b := NewBreaker(backend, testBreakerConfig("fallback"), discardLogger()).WithFallback(fallback)

	for i := 0; i < 3; i++ {
		_ = b.Send(context.Background(), otpNote)
	}
	require.NoError(t, b.Send(context.Background(), otpNote))
	assert.Equal(t, int32(1), fallback.calls.Load())
}

func TestBreakerIgnoresCancelledContexts(t *testing.T) {
	cancelled := mailerFunc(func(ctx context.Context, _ clinicAuth.Notification) error { return context.Canceled })
	b := NewBreaker(cancelled, testBreakerConfig("cancel"), discardLogger())
	for i := 0; i < 5; i++ {
		_ = b.Send(context.Background(), otpNote)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestLogMailerKeepsCodesOutOfInfo(t *testing.T) {
	var buf bytes.Buffer
	m := NewLogMailer(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	require.NoError(t, m.Send(context.Background(), otpNote))
	assert.Contains(t, buf.String(), `"kind":"signup_otp"`)
	assert.NotContains(t, buf.String(), "123456")
}

type mailerFunc func(context.Context, clinicAuth.Notification) error

func (f mailerFunc) Send(ctx context.Context, n clinicAuth.Notification) error { return f(ctx, n) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}
