package validator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"storkvalidator/internal/oracle"
)

func TestDecide(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	v := New(func() time.Time { return now })
	price := decimal.NewNullDecimal(decimal.RequireFromString("84000.125"))

	record := func(mutate func(*oracle.SignedRecord)) oracle.SignedRecord {
		rec := oracle.SignedRecord{
			Asset:     "BTCUSD",
			MsgHash:   "0xabc",
			Price:     price,
			Timestamp: now.Add(-time.Minute),
		}
		if mutate != nil {
			mutate(&rec)
		}
		return rec
	}

	tests := []struct {
		name       string
		rec        oracle.SignedRecord
		wantValid  bool
		wantReason Reason
	}{
		{"fresh complete", record(nil), true, ReasonComplete},
		{"missing hash", record(func(r *oracle.SignedRecord) { r.MsgHash = "" }), false, ReasonIncomplete},
		{"missing price", record(func(r *oracle.SignedRecord) { r.Price = decimal.NullDecimal{} }), false, ReasonIncomplete},
		{"missing timestamp", record(func(r *oracle.SignedRecord) { r.Timestamp = time.Time{} }), false, ReasonIncomplete},
		{"zero price is present", record(func(r *oracle.SignedRecord) { r.Price = decimal.NewNullDecimal(decimal.Zero) }), true, ReasonComplete},
		{"exactly max age", record(func(r *oracle.SignedRecord) { r.Timestamp = now.Add(-MaxAge) }), true, ReasonComplete},
		{"just past max age", record(func(r *oracle.SignedRecord) { r.Timestamp = now.Add(-MaxAge - time.Millisecond) }), false, ReasonStale},
		{"hours old", record(func(r *oracle.SignedRecord) { r.Timestamp = now.Add(-3 * time.Hour) }), false, ReasonStale},
		{"future timestamp", record(func(r *oracle.SignedRecord) { r.Timestamp = now.Add(time.Minute) }), true, ReasonComplete},
		{"incomplete wins over stale", record(func(r *oracle.SignedRecord) {
			r.MsgHash = ""
			r.Timestamp = now.Add(-3 * time.Hour)
		}), false, ReasonIncomplete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, reason := v.Decide(tt.rec)
			assert.Equal(t, tt.wantValid, valid)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestDecide_Deterministic(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	v := New(func() time.Time { return now })
	rec := oracle.SignedRecord{
		MsgHash:   "0xabc",
		Price:     decimal.NewNullDecimal(decimal.NewFromInt(1)),
		Timestamp: now.Add(-30 * time.Minute),
	}

	first, _ := v.Decide(rec)
	for i := 0; i < 10; i++ {
		got, _ := v.Decide(rec)
		assert.Equal(t, first, got)
	}
}

func TestNew_DefaultClock(t *testing.T) {
	v := New(nil)
	valid, _ := v.Decide(oracle.SignedRecord{
		MsgHash:   "0xabc",
		Price:     decimal.NewNullDecimal(decimal.NewFromInt(1)),
		Timestamp: time.Now().Add(-time.Minute),
	})
	assert.True(t, valid)
}
