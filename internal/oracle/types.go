package oracle

import (
	"time"

	"github.com/shopspring/decimal"
)

// Signature is the EVM signature attached to a signed price.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V string `json:"v"`
}

// SignedRecord is one signed price datum awaiting validation. Missing fields
// are left at their zero value.
type SignedRecord struct {
	Asset         string
	MsgHash       string
	Price         decimal.NullDecimal
	Timestamp     time.Time
	Signature     Signature
	SignatureType string
}

// AccountStats is the oracle's view of an account's validation history.
type AccountStats struct {
	Email          string
	ValidCount     int64
	InvalidCount   int64
	LastVerifiedAt string
}

// Ack is the oracle's response to a submission.
type Ack struct {
	Message string `json:"message"`
}

// signedPricesResponse is GET /stork_signed_prices.
type signedPricesResponse struct {
	Data map[string]assetData `json:"data"`
}

type assetData struct {
	AssetID              string               `json:"asset_id"`
	Price                string               `json:"price"`
	TimestampedSignature timestampedSignature `json:"timestamped_signature"`
	SignatureType        string               `json:"signature_type"`
}

type timestampedSignature struct {
	Signature Signature `json:"signature"`
	// Timestamp is nanoseconds since the Unix epoch.
	Timestamp int64  `json:"timestamp"`
	MsgHash   string `json:"msg_hash"`
}

// meResponse is GET /me.
type meResponse struct {
	Data *struct {
		Email string `json:"email"`
		Stats *struct {
			ValidCount     int64   `json:"stork_signed_prices_valid_count"`
			InvalidCount   int64   `json:"stork_signed_prices_invalid_count"`
			LastVerifiedAt *string `json:"stork_signed_prices_last_verified_at"`
		} `json:"stats"`
	} `json:"data"`
}

type validationRequest struct {
	MsgHash string `json:"msg_hash"`
	Valid   bool   `json:"valid"`
}
