package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"storkvalidator/internal/cognito"
)

// MockAuthenticator is a mock identity provider for token manager tests
type MockAuthenticator struct {
	AuthenticateFunc func(ctx context.Context, username, password string) (cognito.Session, error)
	RefreshFunc      func(ctx context.Context, refreshToken string) (cognito.Session, error)

	AuthenticateCalls atomic.Int32
	RefreshCalls      atomic.Int32
}

// Authenticate implements token.Authenticator
func (m *MockAuthenticator) Authenticate(ctx context.Context, username, password string) (cognito.Session, error) {
	m.AuthenticateCalls.Add(1)
	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx, username, password)
	}
	return NewSession("access-token-0123456789abcdef", time.Hour), nil
}

// Refresh implements token.Authenticator
func (m *MockAuthenticator) Refresh(ctx context.Context, refreshToken string) (cognito.Session, error) {
	m.RefreshCalls.Add(1)
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return NewSession("refreshed-token-0123456789abcdef", time.Hour), nil
}

// Calls returns the total number of provider calls made.
func (m *MockAuthenticator) Calls() int {
	return int(m.AuthenticateCalls.Load() + m.RefreshCalls.Load())
}

// NewSession builds a session with a fixed refresh token.
func NewSession(access string, expiresIn time.Duration) cognito.Session {
	return cognito.Session{
		AccessToken:  access,
		IDToken:      "id-" + access,
		RefreshToken: "refresh-token",
		ExpiresIn:    expiresIn,
	}
}

// Clock is a settable clock safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
