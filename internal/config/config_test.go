package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://clinic@localhost/clinic")
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "hs256", cfg.Auth.SigningMethod)
	assert.True(t, cfg.Auth.CookieSecure)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, "clinicauth.yaml", `
http:
  addr: ":9090"
  shutdown_timeout: 5s
redis:
  addr: redis.internal:6379
postgres:
  dsn: postgres://file@db/clinic
  durable_ledger: true
kafka:
  brokers: [k1:9092, k2:9092]
auth:
  secret: `+testSecret+`
  cookie_secure: false
rate_limit:
  requests_per_second: 2.5
  burst: 4
`)
	t.Setenv("REDIS_ADDR", "redis.override:6380")
	t.Setenv("KAFKA_BROKERS", "k3:9092,k4:9092")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, "redis.override:6380", cfg.Redis.Addr)
	assert.Equal(t, "postgres://file@db/clinic", cfg.Postgres.DSN)
	assert.True(t, cfg.Postgres.DurableLedger)
	assert.Equal(t, []string{"k3:9092", "k4:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Auth.CookieSecure)
	assert.InDelta(t, 2.5, cfg.RateLimit.RequestsPerSecond, 1e-9)
	assert.Equal(t, 4, cfg.RateLimit.Burst)
	// Unset keys keep their defaults.
	assert.Equal(t, "clinicauth.notifications", cfg.Kafka.Topic)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeFile(t, "bad.yaml", "http: [unterminated")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_CollectsAllErrors(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")
	t.Setenv("SUPER_ADMIN_EMAIL", "root@clinic.test")

	cfg, err := Load("")

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres.dsn is required")
	assert.Contains(t, err.Error(), "auth.secret must be at least 32 characters")
	assert.Contains(t, err.Error(), "must be set together")
}

func TestLoad_UnsupportedSigningMethod(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://x")
	t.Setenv("JWT_SIGNING_METHOD", "rs256")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"rs256" is not supported`)
}

func TestEngineConfig_HS256(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://x")
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("COOKIE_SECURE", "false")
	t.Setenv("JWT_ACCESS_TTL", "5m")
	t.Setenv("METRICS_HISTOGRAMS", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	ec, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, []byte(testSecret), ec.JWT.PrivateKey)
	assert.Equal(t, 5*time.Minute, ec.JWT.AccessTTL)
	assert.False(t, ec.Cookies.Secure)
	assert.True(t, ec.Metrics.Enabled)
	assert.True(t, ec.Metrics.EnableLatencyHistograms)
	assert.Equal(t, "accessToken", ec.Cookies.AccessName)
}

func TestEngineConfig_Ed25519MissingKey(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://x")
	t.Setenv("JWT_SIGNING_METHOD", "ed25519")
	t.Setenv("JWT_PRIVATE_KEY_FILE", filepath.Join(t.TempDir(), "missing.pem"))
	t.Setenv("JWT_PUBLIC_KEY_FILE", filepath.Join(t.TempDir(), "missing.pub"))

	cfg, err := Load("")
	require.NoError(t, err)

	_, err = cfg.EngineConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading private key")
}
