package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// StubRecord is one asset entry served by StubOracle.
type StubRecord struct {
	Asset     string
	MsgHash   string
	Price     string
	Timestamp time.Time
}

// StubOracle is an in-memory oracle API. Submissions bump the account's valid
// or invalid counter.
type StubOracle struct {
	Server *httptest.Server

	mu           sync.Mutex
	token        string
	email        string
	records      []StubRecord
	valid        int
	invalid      int
	lastVerified string
	submitStatus int
	submitted    map[string]bool
}

// NewStubOracle starts a stub that accepts bearer token and reports email.
func NewStubOracle(token, email string, records []StubRecord) *StubOracle {
	s := &StubOracle{
		token:        token,
		email:        email,
		records:      records,
		submitStatus: http.StatusOK,
		submitted:    make(map[string]bool),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/stork_signed_prices", s.handleRecords)
	mux.HandleFunc("/stork_signed_prices/validations", s.handleSubmit)
	mux.HandleFunc("/me", s.handleMe)
	s.Server = httptest.NewServer(mux)
	return s
}

// Close shuts the server down.
func (s *StubOracle) Close() {
	s.Server.Close()
}

// URL returns the base URL.
func (s *StubOracle) URL() string {
	return s.Server.URL
}

// SetSubmitStatus makes every submission answer with status.
func (s *StubOracle) SetSubmitStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitStatus = status
}

// Counts returns the valid and invalid counters.
func (s *StubOracle) Counts() (valid, invalid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid, s.invalid
}

// Submitted returns the verdict recorded per message hash.
func (s *StubOracle) Submitted() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.submitted))
	for k, v := range s.submitted {
		out[k] = v
	}
	return out
}

func (s *StubOracle) authorized(w http.ResponseWriter, r *http.Request) bool {
	if strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ") != s.token {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"unauthorized"}`))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *StubOracle) handleRecords(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	s.mu.Lock()
	data := make(map[string]any, len(s.records))
	for _, rec := range s.records {
		var ts int64
		if !rec.Timestamp.IsZero() {
			ts = rec.Timestamp.UnixNano()
		}
		data[rec.Asset] = map[string]any{
			"asset_id": rec.Asset,
			"price":    rec.Price,
			"timestamped_signature": map[string]any{
				"msg_hash":  rec.MsgHash,
				"timestamp": ts,
				"signature": map[string]string{"r": "0x01", "s": "0x02", "v": "0x1b"},
			},
			"signature_type": "evm",
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (s *StubOracle) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(w, r) {
		return
	}
	var body struct {
		MsgHash string `json:"msg_hash"`
		Valid   bool   `json:"valid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	s.mu.Lock()
	status := s.submitStatus
	if status == http.StatusOK {
		if body.Valid {
			s.valid++
		} else {
			s.invalid++
		}
		s.submitted[body.MsgHash] = body.Valid
		s.lastVerified = time.Now().UTC().Format(time.RFC3339)
	}
	s.mu.Unlock()

	if status != http.StatusOK {
		writeJSON(w, status, map[string]string{"message": "rejected"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

func (s *StubOracle) handleMe(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	s.mu.Lock()
	var lastVerified any
	if s.lastVerified != "" {
		lastVerified = s.lastVerified
	}
	payload := map[string]any{
		"data": map[string]any{
			"email": s.email,
			"stats": map[string]any{
				"stork_signed_prices_valid_count":      s.valid,
				"stork_signed_prices_invalid_count":    s.invalid,
				"stork_signed_prices_last_verified_at": lastVerified,
			},
		},
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, payload)
}
