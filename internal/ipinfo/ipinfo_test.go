package ipinfo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storkvalidator/internal/proxy"
	"storkvalidator/internal/remote"
)

func TestCurrentIP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ip":"203.0.113.7"}`))
	}))
	defer srv.Close()

	ip, err := New(srv.URL+"?format=json").CurrentIP(context.Background(), proxy.Direct)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", ip)
}

func TestCurrentIP_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType remote.ErrorType
	}{
		{"server error", http.StatusBadGateway, ``, remote.ErrorTypeServer},
		{"empty ip", http.StatusOK, `{}`, remote.ErrorTypeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL).CurrentIP(context.Background(), proxy.Direct)
			var fetchErr *remote.FetchError
			require.True(t, errors.As(err, &fetchErr))
			assert.Equal(t, tt.wantType, fetchErr.Type)
		})
	}
}

func TestCurrentIP_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).CurrentIP(context.Background(), proxy.Direct)
	var fetchErr *remote.FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, remote.ErrorTypeNetwork, fetchErr.Type)
}

func TestNew_DefaultURL(t *testing.T) {
	assert.Equal(t, DefaultURL, New("").url)
}
