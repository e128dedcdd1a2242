// Package cognito authenticates accounts against an AWS Cognito user pool
// through its public InitiateAuth JSON API.
package cognito

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"resty.dev/v3"

	"storkvalidator/internal/ratelimit"
	"storkvalidator/internal/remote"
)

const (
	initiateAuthTarget = "AWSCognitoIdentityProviderService.InitiateAuth"
	amzJSONContentType = "application/x-amz-json-1.1"

	flowUserPassword = "USER_PASSWORD_AUTH"
	flowRefreshToken = "REFRESH_TOKEN_AUTH"
)

// Session is the token bundle returned by a successful authenticate or refresh.
type Session struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	// ExpiresIn is the provider-reported expiry of the access token minus now.
	ExpiresIn time.Duration
}

// Config identifies the user pool app client.
type Config struct {
	Region     string
	ClientID   string
	UserPoolID string
	// BaseURL overrides the regional endpoint (used by tests).
	BaseURL string
}

// Endpoint returns the InitiateAuth endpoint for the configured region.
func (c Config) Endpoint() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com", c.Region)
}

// Client authenticates and refreshes sessions for one user pool client.
type Client struct {
	cfg     Config
	client  *resty.Client
	limiter *ratelimit.Limiter
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithClock sets the clock used to compute ExpiresIn.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.SetTimeout(d)
	}
}

// NewClient creates a new identity provider client
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg: cfg,
		client: remote.NewHTTPClient(remote.ClientOptions{
			BaseURL:    cfg.Endpoint(),
			RetryCount: -1,
			Headers: map[string]string{
				"Content-Type": amzJSONContentType,
				"X-Amz-Target": initiateAuthTarget,
			},
		}),
		limiter: ratelimit.GetLimiter(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type initiateAuthRequest struct {
	AuthFlow       string            `json:"AuthFlow"`
	ClientID       string            `json:"ClientId"`
	AuthParameters map[string]string `json:"AuthParameters"`
}

type authenticationResult struct {
	AccessToken  string `json:"AccessToken"`
	IDToken      string `json:"IdToken"`
	RefreshToken string `json:"RefreshToken"`
	ExpiresIn    int64  `json:"ExpiresIn"`
	TokenType    string `json:"TokenType"`
}

type initiateAuthResponse struct {
	AuthenticationResult *authenticationResult `json:"AuthenticationResult"`
	ChallengeName        string                `json:"ChallengeName"`
	Session              string                `json:"Session"`
}

type errorResponse struct {
	Type    string `json:"__type"`
	Message string `json:"message"`
}

// Authenticate signs in with username and password.
func (c *Client) Authenticate(ctx context.Context, username, password string) (Session, error) {
	result, err := c.initiateAuth(ctx, flowUserPassword, map[string]string{
		"USERNAME": username,
		"PASSWORD": password,
	})
	if err != nil {
		return Session{}, err
	}
	return c.session(result, "")
}

// Refresh exchanges a refresh token for new access and ID tokens. The
// provider does not rotate refresh tokens, so the input is carried over.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, &remote.AuthError{Code: "MissingRefreshToken", Message: "no refresh token held"}
	}
	result, err := c.initiateAuth(ctx, flowRefreshToken, map[string]string{
		"REFRESH_TOKEN": refreshToken,
	})
	if err != nil {
		return Session{}, err
	}
	return c.session(result, refreshToken)
}

func (c *Client) initiateAuth(ctx context.Context, flow string, params map[string]string) (*authenticationResult, error) {
	if err := c.limiter.Wait(ctx, ratelimit.APIIdentity); err != nil {
		return nil, &remote.AuthError{Message: "rate limiter wait aborted", Cause: err}
	}

	body, err := json.Marshal(initiateAuthRequest{
		AuthFlow:       flow,
		ClientID:       c.cfg.ClientID,
		AuthParameters: params,
	})
	if err != nil {
		return nil, &remote.AuthError{Message: "encode request", Cause: err}
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/")
	if err != nil {
		return nil, &remote.AuthError{Message: "identity provider unreachable", Cause: remote.ClassifyTransportError(err)}
	}

	if !resp.IsSuccess() {
		var e errorResponse
		_ = json.Unmarshal(resp.Bytes(), &e)
		code := e.Type
		// Types sometimes arrive namespaced: "com.amazonaws...#NotAuthorizedException"
		if i := strings.LastIndex(code, "#"); i >= 0 {
			code = code[i+1:]
		}
		if code == "" {
			code = fmt.Sprintf("HTTP%d", resp.StatusCode())
		}
		return nil, &remote.AuthError{
			Code:    code,
			Message: e.Message,
			Cause:   remote.ClassifyHTTPError(resp.StatusCode()),
		}
	}

	var out initiateAuthResponse
	if err := json.Unmarshal(resp.Bytes(), &out); err != nil {
		return nil, &remote.AuthError{Message: "decode response", Cause: err}
	}

	if out.ChallengeName != "" {
		msg := "challenge " + out.ChallengeName + " cannot be answered"
		if out.ChallengeName == "NEW_PASSWORD_REQUIRED" {
			msg = "new password required"
		}
		return nil, &remote.AuthError{Code: out.ChallengeName, Message: msg}
	}

	if out.AuthenticationResult == nil || out.AuthenticationResult.AccessToken == "" {
		return nil, &remote.AuthError{Message: "response carried no authentication result"}
	}

	return out.AuthenticationResult, nil
}

func (c *Client) session(r *authenticationResult, carriedRefresh string) (Session, error) {
	now := c.now()

	var expiresAt time.Time
	if exp, err := accessTokenExpiry(r.AccessToken); err == nil {
		expiresAt = exp
	} else if r.ExpiresIn > 0 {
		expiresAt = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	} else {
		return Session{}, &remote.AuthError{Message: "access token carries no expiry", Cause: err}
	}

	expiresIn := expiresAt.Sub(now).Truncate(time.Millisecond)
	if expiresIn < 0 {
		expiresIn = 0
	}

	refresh := r.RefreshToken
	if refresh == "" {
		refresh = carriedRefresh
	}

	return Session{
		AccessToken:  r.AccessToken,
		IDToken:      r.IDToken,
		RefreshToken: refresh,
		ExpiresIn:    expiresIn,
	}, nil
}

// accessTokenExpiry reads the exp claim. The signature is not checked; the
// token came straight from the provider over TLS.
func accessTokenExpiry(token string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("exp claim missing")
	}
	return claims.ExpiresAt.Time, nil
}
