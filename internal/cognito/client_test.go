package cognito

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storkvalidator/internal/remote"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return tok
}

// newTestServer decodes the InitiateAuth request and hands it to respond.
func newTestServer(t *testing.T, respond func(w http.ResponseWriter, req initiateAuthRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, initiateAuthTarget, r.Header.Get("X-Amz-Target"))
		assert.Equal(t, amzJSONContentType, r.Header.Get("Content-Type"))

		var req initiateAuthRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", amzJSONContentType)
		respond(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConfig_Endpoint(t *testing.T) {
	assert.Equal(t, "https://cognito-idp.ap-northeast-1.amazonaws.com", Config{Region: "ap-northeast-1"}.Endpoint())
	assert.Equal(t, "http://localhost:1", Config{Region: "x", BaseURL: "http://localhost:1"}.Endpoint())
}

func TestAuthenticate_Success(t *testing.T) {
	access := signedToken(t, fixedNow.Add(time.Hour))
	srv := newTestServer(t, func(w http.ResponseWriter, req initiateAuthRequest) {
		assert.Equal(t, flowUserPassword, req.AuthFlow)
		assert.Equal(t, "client-1", req.ClientID)
		assert.Equal(t, "alice@example.com", req.AuthParameters["USERNAME"])
		assert.Equal(t, "hunter2", req.AuthParameters["PASSWORD"])

		json.NewEncoder(w).Encode(map[string]any{
			"AuthenticationResult": map[string]any{
				"AccessToken":  access,
				"IdToken":      "id-token",
				"RefreshToken": "refresh-token",
				"ExpiresIn":    3600,
				"TokenType":    "Bearer",
			},
		})
	})

	c := NewClient(Config{ClientID: "client-1", BaseURL: srv.URL}, WithClock(func() time.Time { return fixedNow }))
	s, err := c.Authenticate(context.Background(), "alice@example.com", "hunter2")
	require.NoError(t, err)

	assert.Equal(t, access, s.AccessToken)
	assert.Equal(t, "id-token", s.IDToken)
	assert.Equal(t, "refresh-token", s.RefreshToken)
	assert.Equal(t, time.Hour, s.ExpiresIn)
}

func TestAuthenticate_ExpiryComesFromTokenClaim(t *testing.T) {
	// The JWT says 10 minutes even though ExpiresIn says an hour.
	access := signedToken(t, fixedNow.Add(10*time.Minute))
	srv := newTestServer(t, func(w http.ResponseWriter, req initiateAuthRequest) {
		json.NewEncoder(w).Encode(map[string]any{
			"AuthenticationResult": map[string]any{"AccessToken": access, "ExpiresIn": 3600},
		})
	})

	c := NewClient(Config{BaseURL: srv.URL}, WithClock(func() time.Time { return fixedNow }))
	s, err := c.Authenticate(context.Background(), "u", "p")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, s.ExpiresIn)
}

func TestAuthenticate_OpaqueTokenFallsBackToExpiresIn(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, req initiateAuthRequest) {
		json.NewEncoder(w).Encode(map[string]any{
			"AuthenticationResult": map[string]any{"AccessToken": "opaque", "ExpiresIn": 120},
		})
	})

	c := NewClient(Config{BaseURL: srv.URL}, WithClock(func() time.Time { return fixedNow }))
	s, err := c.Authenticate(context.Background(), "u", "p")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, s.ExpiresIn)
}

func TestAuthenticate_ExpiredTokenClampsToZero(t *testing.T) {
	access := signedToken(t, fixedNow.Add(-time.Minute))
	srv := newTestServer(t, func(w http.ResponseWriter, req initiateAuthRequest) {
		json.NewEncoder(w).Encode(map[string]any{
			"AuthenticationResult": map[string]any{"AccessToken": access},
		})
	})

	c := NewClient(Config{BaseURL: srv.URL}, WithClock(func() time.Time { return fixedNow }))
	s, err := c.Authenticate(context.Background(), "u", "p")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), s.ExpiresIn)
}

func TestAuthenticate_Rejected(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, req initiateAuthRequest) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"__type":"NotAuthorizedException","message":"Incorrect username or password."}`))
	})

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.Authenticate(context.Background(), "u", "wrong")

	var authErr *remote.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "NotAuthorizedException", authErr.Code)
	assert.Equal(t, "Incorrect username or password.", authErr.Message)

	var fetchErr *remote.FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, remote.ErrorTypeClient, fetchErr.Type)
}

func TestAuthenticate_NamespacedErrorType(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, req initiateAuthRequest) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"__type":"com.amazonaws.cognito#UserNotFoundException","message":"User does not exist."}`))
	})

	_, err := NewClient(Config{BaseURL: srv.URL}).Authenticate(context.Background(), "u", "p")
	var authErr *remote.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "UserNotFoundException", authErr.Code)
}

func TestAuthenticate_NewPasswordRequired(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, req initiateAuthRequest) {
		json.NewEncoder(w).Encode(map[string]any{
			"ChallengeName": "NEW_PASSWORD_REQUIRED",
			"Session":       "challenge-session",
		})
	})

	_, err := NewClient(Config{BaseURL: srv.URL}).Authenticate(context.Background(), "u", "p")
	var authErr *remote.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "NEW_PASSWORD_REQUIRED", authErr.Code)
	assert.Contains(t, authErr.Error(), "new password required")
}

func TestAuthenticate_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(Config{BaseURL: url}).Authenticate(context.Background(), "u", "p")
	var authErr *remote.AuthError
	require.True(t, errors.As(err, &authErr))
	var fetchErr *remote.FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, remote.ErrorTypeNetwork, fetchErr.Type)
}

func TestRefresh_CarriesRefreshToken(t *testing.T) {
	access := signedToken(t, fixedNow.Add(time.Hour))
	srv := newTestServer(t, func(w http.ResponseWriter, req initiateAuthRequest) {
		assert.Equal(t, flowRefreshToken, req.AuthFlow)
		assert.Equal(t, "refresh-1", req.AuthParameters["REFRESH_TOKEN"])
		json.NewEncoder(w).Encode(map[string]any{
			"AuthenticationResult": map[string]any{"AccessToken": access, "IdToken": "id-2"},
		})
	})

	c := NewClient(Config{BaseURL: srv.URL}, WithClock(func() time.Time { return fixedNow }))
	s, err := c.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", s.RefreshToken)
	assert.Equal(t, "id-2", s.IDToken)
}

func TestRefresh_Empty(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "http://127.0.0.1:1"}).Refresh(context.Background(), "")
	var authErr *remote.AuthError
	assert.True(t, errors.As(err, &authErr))
}
