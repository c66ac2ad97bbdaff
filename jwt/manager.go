package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the JWS algorithm used for every token kind.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Ed25519 keys.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256 over a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

// Kind distinguishes the three token families minted by the Manager.
// A token parsed as one kind never validates as another.
type Kind uint8

const (
	// KindAccess is the short-lived per-request credential.
	KindAccess Kind = iota + 1
	// KindRefresh is the long-lived, ledger-tracked rotation credential.
	KindRefresh
	// KindAdmin is the single admin-session credential; it never rotates.
	KindAdmin
)

func (k Kind) String() string {
	switch k {
	case KindAccess:
		return "access"
	case KindRefresh:
		return "refresh"
	case KindAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

var (
	// ErrMissingSubject is returned when a token would be minted without an account id.
	ErrMissingSubject = errors.New("token subject id is required")
	// ErrMissingRole is returned when a token would be minted without a role.
	ErrMissingRole = errors.New("token role is required")
	// ErrKindMismatch is returned when a token's typ claim differs from the requested kind.
	ErrKindMismatch = errors.New("token kind mismatch")
)

// Config holds signing material and lifetimes for all token kinds.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	AdminTTL      time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte

	// Now overrides the clock for issuance and expiry checks. Nil means time.Now.
	Now func() time.Time
}

// Manager mints and verifies signed tokens. It holds no mutable state and is
// safe for concurrent use.
type Manager struct {
	config Config
}

// Claims is the claim set shared by access, refresh and admin tokens.
type Claims struct {
	ID     string `json:"id"`
	Role   string `json:"role"`
	Type   string `json:"typ"`
	Family string `json:"fam,omitempty"`
	jwt.RegisteredClaims
}

// Issued is a freshly signed token together with the values a caller needs
// to persist or set as a cookie.
type Issued struct {
	Token     string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 || cfg.AdminTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 requires a secret of at least 32 bytes")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("ed25519 requires private key")
		}
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{config: cfg}, nil
}

// TTL reports the configured lifetime for kind.
func (j *Manager) TTL(kind Kind) time.Duration {
	switch kind {
	case KindAccess:
		return j.config.AccessTTL
	case KindRefresh:
		return j.config.RefreshTTL
	case KindAdmin:
		return j.config.AdminTTL
	default:
		return 0
	}
}

// IssueAccess mints a 15-minute style access token for id/role.
func (j *Manager) IssueAccess(id, role string) (Issued, error) {
	return j.issue(KindAccess, id, role, "")
}

// IssueRefresh mints a refresh token bound to family. Every call yields a
// distinct token value, even within the same second, because of the jti.
func (j *Manager) IssueRefresh(id, role, family string) (Issued, error) {
	if family == "" {
		return Issued{}, errors.New("refresh token family is required")
	}
	return j.issue(KindRefresh, id, role, family)
}

// IssueAdmin mints the single admin-session token.
func (j *Manager) IssueAdmin(id, role string) (Issued, error) {
	return j.issue(KindAdmin, id, role, "")
}

func (j *Manager) issue(kind Kind, id, role, family string) (Issued, error) {
	if id == "" {
		return Issued{}, ErrMissingSubject
	}
	if role == "" {
		return Issued{}, ErrMissingRole
	}

	now := j.config.Now()
	expiresAt := now.Add(j.TTL(kind))
	jti := uuid.NewString()

	claims := Claims{
		ID:     id,
		Role:   role,
		Type:   kind.String(),
		Family: family,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    j.config.Issuer,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(j.getMethod(), claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signKey, err := j.getSignKey()
	if err != nil {
		return Issued{}, err
	}

	signed, err := token.SignedString(signKey)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		Token:     signed,
		JTI:       jti,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Parse verifies signature, algorithm, kind and expiry of tokenStr.
// An expired but otherwise valid token yields an error wrapping
// jwt.ErrTokenExpired so callers can tell expiry from forgery.
func (j *Manager) Parse(tokenStr string, kind Kind) (*Claims, error) {
	if tokenStr == "" {
		return nil, jwt.ErrTokenMalformed
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.getMethod().Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(j.config.Now),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, j.keyFunc)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Type != kind.String() {
		return nil, ErrKindMismatch
	}
	if claims.ID == "" || claims.Role == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if kind == KindRefresh && claims.Family == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return claims, nil
}

// Verify is the fail-closed form of Parse: any failure yields nil.
func (j *Manager) Verify(tokenStr string, kind Kind) *Claims {
	claims, err := j.Parse(tokenStr, kind)
	if err != nil {
		return nil
	}
	return claims
}

func (j *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != j.getMethod().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(j.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := j.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return j.keyBytesToVerifyKey(key)
	}

	if j.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != j.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	return j.getVerifyKey()
}

func (j *Manager) getMethod() jwt.SigningMethod {
	switch j.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (j *Manager) getSignKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(j.config.PrivateKey)
	}
}

func (j *Manager) getVerifyKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPublicKey(j.config.PublicKey)
	}
}

func (j *Manager) keyBytesToVerifyKey(key []byte) (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return key, nil
	default:
		return parseEdPublicKey(key)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}

// IsExpired reports whether err from Parse means the token was well signed
// but past its expiry.
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}
