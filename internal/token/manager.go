package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"storkvalidator/internal/cognito"
	"storkvalidator/internal/observability"
	"storkvalidator/internal/remote"
)

// State is the position of a Manager in its token lifecycle.
type State int

const (
	Unauthenticated State = iota
	Authenticating
	Valid
	Refreshing
)

func (s State) String() string {
	switch s {
	case Authenticating:
		return "authenticating"
	case Valid:
		return "valid"
	case Refreshing:
		return "refreshing"
	default:
		return "unauthenticated"
	}
}

// Authenticator is the identity provider capability a Manager drives.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (cognito.Session, error)
	Refresh(ctx context.Context, refreshToken string) (cognito.Session, error)
}

// Saver persists a token set.
type Saver interface {
	Save(TokenSet) error
}

// Options configures a Manager.
type Options struct {
	Username      string
	Password      string
	Authenticator Authenticator
	Store         Saver
	Clock         func() time.Time
	Metrics       *observability.Metrics
	Logger        *slog.Logger
}

// Manager owns one account's tokens. It hands out a currently valid access
// token and refreshes or re-authenticates when there is none.
type Manager struct {
	username string
	password string
	auth     Authenticator
	store    Saver
	now      func() time.Time
	metrics  *observability.Metrics
	logger   *slog.Logger

	mu     sync.Mutex
	state  State
	tokens TokenSet

	group singleflight.Group
}

// NewManager creates a Manager in the Unauthenticated state.
func NewManager(opts Options) *Manager {
	m := &Manager{
		username: opts.Username,
		password: opts.Password,
		auth:     opts.Authenticator,
		store:    opts.Store,
		now:      opts.Clock,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Tokens returns a copy of the in-memory token set.
func (m *Manager) Tokens() TokenSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens
}

// GetValidToken returns the current access token, refreshing or
// authenticating first when there is none or it has expired. Concurrent
// callers share one in-flight refresh.
func (m *Manager) GetValidToken(ctx context.Context) (string, error) {
	if tok, ok := m.validToken(); ok {
		return tok, nil
	}

	v, err, _ := m.group.Do("token", func() (any, error) {
		if tok, ok := m.validToken(); ok {
			return tok, nil
		}
		if err := m.RefreshOrAuthenticate(ctx); err != nil {
			return "", err
		}
		return m.Tokens().AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	tok, _ := v.(string)
	return tok, nil
}

func (m *Manager) validToken() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Valid || m.tokens.AccessToken == "" {
		return "", false
	}
	if !m.now().Before(m.tokens.ExpiresAt) {
		return "", false
	}
	return m.tokens.AccessToken, true
}

// RefreshOrAuthenticate refreshes with the held refresh token, falling back
// to a full sign-in, or signs in directly when no refresh token is held.
// On success the new set is persisted. On failure nothing is written and the
// in-memory token is unusable until the next attempt.
func (m *Manager) RefreshOrAuthenticate(ctx context.Context) error {
	m.mu.Lock()
	refresh := m.tokens.RefreshToken
	if refresh != "" {
		m.state = Refreshing
	} else {
		m.state = Authenticating
	}
	m.mu.Unlock()

	var (
		sess       cognito.Session
		err        error
		refreshErr error
	)
	if refresh != "" {
		sess, refreshErr = m.auth.Refresh(ctx, refresh)
		m.metrics.ObserveTokenOp("refresh", refreshErr)
		err = refreshErr
		if refreshErr != nil {
			m.logger.Warn("token refresh failed, signing in again", "error", refreshErr)
			m.setState(Authenticating)
		}
	}
	if refresh == "" || refreshErr != nil {
		sess, err = m.auth.Authenticate(ctx, m.username, m.password)
		m.metrics.ObserveTokenOp("authenticate", err)
	}

	if err != nil {
		m.mu.Lock()
		m.state = Unauthenticated
		m.tokens.AccessToken = ""
		m.tokens.IDToken = ""
		m.tokens.ExpiresAt = time.Time{}
		m.tokens.IsAuthenticated = false
		// Only a rejection from the identity provider drops the refresh token.
		var authErr *remote.AuthError
		if errors.As(refreshErr, &authErr) && authErr.Code != "" {
			m.tokens.RefreshToken = ""
		}
		m.mu.Unlock()

		m.logger.Error("failed to refresh/auth token", "error", err)
		return fmt.Errorf("obtain token: %w", err)
	}

	ts := TokenSet{
		AccessToken:     sess.AccessToken,
		IDToken:         sess.IDToken,
		RefreshToken:    sess.RefreshToken,
		ExpiresAt:       m.now().Add(sess.ExpiresIn),
		IsAuthenticated: true,
		IsVerifying:     false,
	}

	m.mu.Lock()
	m.tokens = ts
	m.state = Valid
	m.mu.Unlock()

	m.logger.Info("token updated", "expires_in", sess.ExpiresIn, "expires_at", ts.ExpiresAt)

	if err := m.store.Save(ts); err != nil {
		m.logger.Error("error writing tokens", "error", err)
		return nil
	}
	m.logger.Debug("tokens saved")
	return nil
}

// Persist writes the in-memory token set to the store, making this account
// the owner of the on-disk slot. It fails if no usable token is held.
func (m *Manager) Persist() error {
	ts := m.Tokens()
	if ts.AccessToken == "" {
		return ErrInvalidToken
	}
	if err := m.store.Save(ts); err != nil {
		return fmt.Errorf("persist tokens: %w", err)
	}
	return nil
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// StartAutoRefresh refreshes the token every interval while the returned stop
// function has not been called. A token that would expire before the next
// tick is refreshed early. stop blocks until the background goroutine exits.
func (m *Manager) StartAutoRefresh(ctx context.Context, interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.refreshIfExpiring(ctx, interval); err != nil {
					if ctx.Err() != nil {
						return
					}
					m.logger.Error("periodic token refresh failed", "error", err)
					continue
				}
				m.logger.Info("refreshed token via identity provider")
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func (m *Manager) refreshIfExpiring(ctx context.Context, within time.Duration) error {
	m.mu.Lock()
	expiring := m.state == Valid && m.tokens.ExpiresAt.Sub(m.now()) < within
	m.mu.Unlock()

	if !expiring {
		_, err := m.GetValidToken(ctx)
		return err
	}

	_, err, _ := m.group.Do("token", func() (any, error) {
		if err := m.RefreshOrAuthenticate(ctx); err != nil {
			return "", err
		}
		return m.Tokens().AccessToken, nil
	})
	return err
}
