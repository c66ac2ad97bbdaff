package clinicAuth

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type authResultContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it
// for per-IP login throttling and audit records.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx for audit records.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithAuthResult stores the outcome of a guard check for downstream
// handlers. The account is sanitized before it is stored.
func WithAuthResult(ctx context.Context, res *AuthResult) context.Context {
	if res == nil {
		return ctx
	}
	cp := *res
	cp.Account = cp.Account.Sanitized()
	return context.WithValue(ctx, authResultContextKey{}, &cp)
}

// AuthResultFromContext returns the guard result attached by WithAuthResult.
func AuthResultFromContext(ctx context.Context) (*AuthResult, bool) {
	if ctx == nil {
		return nil, false
	}
	res, ok := ctx.Value(authResultContextKey{}).(*AuthResult)
	return res, ok && res != nil
}

// AccountFromContext returns the sanitized account a guard attached.
func AccountFromContext(ctx context.Context) (Account, bool) {
	res, ok := AuthResultFromContext(ctx)
	if !ok {
		return Account{}, false
	}
	return res.Account, true
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}
