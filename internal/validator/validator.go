// Package validator decides whether a signed record is fit to be marked valid.
package validator

import (
	"time"

	"storkvalidator/internal/oracle"
)

// MaxAge is the oldest a record may be and still be valid. The bound is
// inclusive.
const MaxAge = 60 * time.Minute

// Reason explains a decision.
type Reason string

const (
	ReasonComplete   Reason = "complete"
	ReasonIncomplete Reason = "incomplete"
	ReasonStale      Reason = "stale"
)

// Validator is a pure decision function over a record and the current time.
type Validator struct {
	now func() time.Time
}

// New returns a Validator reading time from clock. A nil clock uses time.Now.
func New(clock func() time.Time) *Validator {
	if clock == nil {
		clock = time.Now
	}
	return &Validator{now: clock}
}

// Decide reports whether rec is valid and why.
func (v *Validator) Decide(rec oracle.SignedRecord) (bool, Reason) {
	if rec.MsgHash == "" || !rec.Price.Valid || rec.Timestamp.IsZero() {
		return false, ReasonIncomplete
	}
	if v.now().Sub(rec.Timestamp) > MaxAge {
		return false, ReasonStale
	}
	return true, ReasonComplete
}
