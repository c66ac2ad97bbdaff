package clinicAuth

import "time"

// SecurityReport summarises the security-relevant configuration of an
// Engine for startup logs and health endpoints. It never carries secrets.
type SecurityReport struct {
	SigningAlgorithm      string
	AccessTTL             time.Duration
	RefreshTTL            time.Duration
	AdminTTL              time.Duration
	Argon2                PasswordConfigReport
	OTP                   OTPConfigReport
	ResetTokenTTL         time.Duration
	LoginThrottleActive   bool
	IPThrottleActive      bool
	RefreshThrottleActive bool
	SignupThrottleActive  bool
	ResetThrottleActive   bool
	SuperAdminEnabled     bool
	SecureCookies         bool
}

type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type OTPConfigReport struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
	MaxResends  int
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	c := e.config

	return SecurityReport{
		SigningAlgorithm: c.JWT.SigningMethod,
		AccessTTL:        c.JWT.AccessTTL,
		RefreshTTL:       c.JWT.RefreshTTL,
		AdminTTL:         c.JWT.AdminTTL,
		Argon2: PasswordConfigReport{
			Memory:      c.Password.Memory,
			Time:        c.Password.Time,
			Parallelism: c.Password.Parallelism,
			SaltLength:  c.Password.SaltLength,
			KeyLength:   c.Password.KeyLength,
		},
		OTP: OTPConfigReport{
			Digits:      c.OTP.Digits,
			TTL:         c.OTP.TTL,
			MaxAttempts: c.OTP.MaxAttempts,
			MaxResends:  c.OTP.MaxResends,
		},
		ResetTokenTTL:         c.PasswordReset.TTL,
		LoginThrottleActive:   c.Security.EnableLoginThrottle && c.Security.MaxLoginAttempts > 0,
		IPThrottleActive:      c.Security.EnableIPThrottle,
		RefreshThrottleActive: c.Security.EnableRefreshThrottle && c.Security.MaxRefreshAttempts > 0,
		SignupThrottleActive:  c.Security.EnableSignupThrottle,
		ResetThrottleActive:   c.Security.EnableResetThrottle,
		SuperAdminEnabled:     c.SuperAdmin.Email != "",
		SecureCookies:         c.Cookies.Secure,
	}
}
