package flows

import (
	"context"
	"time"
)

// Deps groups flow dependency sets. The root engine builds this once and
// delegates request methods to the matching flow implementation.
type Deps struct {
	Rotate RotateDeps
	Login  LoginDeps
	Logout LogoutDeps
}

// Token is a signed token value with its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// RefreshRateLimiter throttles rotations per family.
type RefreshRateLimiter interface {
	CheckRefresh(ctx context.Context, family string) error
}
