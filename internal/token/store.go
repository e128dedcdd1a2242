// Package token tracks an account's token set and persists it to disk.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// minAccessTokenLen rejects placeholder or truncated tokens on read.
const minAccessTokenLen = 20

// ErrInvalidToken is returned by Load when the stored access token is
// missing or too short to be real.
var ErrInvalidToken = errors.New("access token is invalid")

// TokenSet is the on-disk token record.
type TokenSet struct {
	AccessToken     string    `json:"accessToken"`
	IDToken         string    `json:"idToken"`
	RefreshToken    string    `json:"refreshToken"`
	ExpiresAt       time.Time `json:"expiresAt"`
	IsAuthenticated bool      `json:"isAuthenticated"`
	IsVerifying     bool      `json:"isVerifying"`
}

// Store keeps exactly one TokenSet in a JSON file. Every Save overwrites the
// previous record, whichever account wrote it.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Save atomically replaces the stored token set.
func (s *Store) Save(ts TokenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(ts, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tokens: %w", err)
	}
	data = append(data, '\n')
	return writeFile(s.path, data, 0o600)
}

// Load reads the stored token set. A missing file, malformed JSON or an
// unusable access token are all errors.
func (s *Store) Load() (TokenSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return TokenSet{}, fmt.Errorf("read tokens: %w", err)
	}

	var ts TokenSet
	if err := json.Unmarshal(data, &ts); err != nil {
		return TokenSet{}, fmt.Errorf("decode tokens %s: %w", s.path, err)
	}
	if len(ts.AccessToken) < minAccessTokenLen {
		return TokenSet{}, ErrInvalidToken
	}
	return ts, nil
}

func randomFileSuffix() string {
	var randomBytes [12]byte
	if _, err := rand.Read(randomBytes[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(randomBytes[:])
}

// writeSyncFile opens a file with O_TRUNC, writes data, and syncs to disk.
func writeSyncFile(filename string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if err2 := f.Sync(); err2 != nil && err == nil {
		err = err2
	}
	if err2 := f.Close(); err2 != nil && err == nil {
		err = err2
	}
	return err
}

// writeFile writes to a temporary sibling and renames it over filename.
func writeFile(filename string, data []byte, perm os.FileMode) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("error writing %s: %w", filename, err)
		}
	}
	tempname := filename + ".tmp." + randomFileSuffix()
	if err := writeSyncFile(tempname, data, perm); err != nil {
		return fmt.Errorf("error writing %s: %w", filename, err)
	}
	if err := os.Rename(tempname, filename); err != nil {
		os.Remove(tempname)
		return fmt.Errorf("error writing %s: %w", filename, err)
	}
	return nil
}
