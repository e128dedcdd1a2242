package token

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "tokens.json"))

	want := TokenSet{
		AccessToken:     "eyJhbGciOiJSUzI1NiJ9.access.token",
		IDToken:         "eyJhbGciOiJSUzI1NiJ9.id.token",
		RefreshToken:    "refresh-token-value",
		ExpiresAt:       time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC),
		IsAuthenticated: true,
		IsVerifying:     false,
	}
	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStore_SaveOverwritesSingleSlot(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "tokens.json"))

	first := TokenSet{AccessToken: "first-account-token-0123456789"}
	second := TokenSet{AccessToken: "second-account-token-0123456789"}
	require.NoError(t, store.Save(first))
	require.NoError(t, store.Save(second))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, second.AccessToken, got.AccessToken)

	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestStore_CreatesParentDir(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "state", "tokens.json"))
	require.NoError(t, store.Save(TokenSet{AccessToken: "access-token-0123456789abcdef"}))
	_, err := store.Load()
	require.NoError(t, err)
}

func TestStore_LoadErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := NewStore(filepath.Join(dir, "absent.json")).Load()
		assert.True(t, errors.Is(err, fs.ErrNotExist))
	})

	t.Run("malformed", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
		_, err := NewStore(path).Load()
		assert.Error(t, err)
	})

	t.Run("short access token", func(t *testing.T) {
		path := filepath.Join(dir, "short.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"accessToken":"tooshort"}`), 0o600))
		_, err := NewStore(path).Load()
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
