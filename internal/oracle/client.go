// Package oracle talks to the signed price oracle API.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"resty.dev/v3"

	"storkvalidator/internal/proxy"
	"storkvalidator/internal/ratelimit"
	"storkvalidator/internal/remote"
)

// Options configures a Client.
type Options struct {
	BaseURL   string
	UserAgent string
	Origin    string
	Timeout   time.Duration
	// RetryCount applies to reads only; submissions are never retried.
	RetryCount    int
	RetryWaitTime time.Duration
}

// Client holds one read client plus one submit client per proxy. It keeps no
// per-call state.
type Client struct {
	opts    Options
	read    *resty.Client
	limiter *ratelimit.Limiter

	mu      sync.Mutex
	submits map[string]*resty.Client
}

// NewClient creates a new oracle API client
func NewClient(opts Options) *Client {
	return &Client{
		opts: opts,
		read: remote.NewHTTPClient(remote.ClientOptions{
			BaseURL:       opts.BaseURL,
			Timeout:       opts.Timeout,
			RetryCount:    opts.RetryCount,
			RetryWaitTime: opts.RetryWaitTime,
			Headers:       opts.headers(),
		}),
		limiter: ratelimit.GetLimiter(),
		submits: make(map[string]*resty.Client),
	}
}

func (o Options) headers() map[string]string {
	h := map[string]string{"Content-Type": "application/json"}
	if o.UserAgent != "" {
		h["User-Agent"] = o.UserAgent
	}
	if o.Origin != "" {
		h["Origin"] = o.Origin
	}
	return h
}

// submitClient returns the client bound to p's transport, building it on
// first use.
func (c *Client) submitClient(p proxy.Proxy) (*resty.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rc, ok := c.submits[p.Key()]; ok {
		return rc, nil
	}

	transport, err := p.Transport()
	if err != nil {
		return nil, err
	}
	rc := remote.NewHTTPClient(remote.ClientOptions{
		BaseURL:    c.opts.BaseURL,
		Timeout:    c.opts.Timeout,
		RetryCount: -1,
		Transport:  transport,
		Headers:    c.opts.headers(),
	})
	c.submits[p.Key()] = rc
	return rc, nil
}

// FetchRecords returns the pending signed records, ordered by asset.
func (c *Client) FetchRecords(ctx context.Context, token string) ([]SignedRecord, error) {
	if err := c.limiter.Wait(ctx, ratelimit.APIOracleRead); err != nil {
		return nil, remote.ClassifyTransportError(err)
	}

	resp, err := c.read.R().
		SetContext(ctx).
		SetAuthToken(token).
		Get("/stork_signed_prices")
	if err != nil {
		return nil, remote.ClassifyTransportError(err)
	}
	if !resp.IsSuccess() {
		return nil, remote.ClassifyHTTPError(resp.StatusCode())
	}

	var result signedPricesResponse
	if err := decodeBody(resp, "signed prices", &result); err != nil {
		return nil, err
	}
	if result.Data == nil {
		return nil, remote.NewValidationError("data payload missing from response")
	}

	assets := make([]string, 0, len(result.Data))
	for asset := range result.Data {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	records := make([]SignedRecord, 0, len(assets))
	for _, asset := range assets {
		records = append(records, toRecord(asset, result.Data[asset]))
	}
	return records, nil
}

// decodeBody unmarshals a 2xx body regardless of its Content-Type; resty only
// auto-decodes JSON content types.
func decodeBody(resp *resty.Response, what string, v any) error {
	if err := json.Unmarshal(resp.Bytes(), v); err != nil {
		return remote.NewValidationError(fmt.Sprintf("decode %s: %v", what, err))
	}
	return nil
}

func toRecord(asset string, d assetData) SignedRecord {
	rec := SignedRecord{
		Asset:         asset,
		MsgHash:       d.TimestampedSignature.MsgHash,
		Signature:     d.TimestampedSignature.Signature,
		SignatureType: d.SignatureType,
	}
	if d.Price != "" {
		if p, err := decimal.NewFromString(d.Price); err == nil {
			rec.Price = decimal.NullDecimal{Decimal: p, Valid: true}
		} else {
			slog.Warn("unparseable price", "asset", asset, "price", d.Price, "error", err)
		}
	}
	if ns := d.TimestampedSignature.Timestamp; ns > 0 {
		rec.Timestamp = time.Unix(0, ns).UTC()
	}
	return rec
}

// FetchStats returns the account's validation counters. A response without
// a stats payload is a validation error.
func (c *Client) FetchStats(ctx context.Context, token string) (AccountStats, error) {
	if err := c.limiter.Wait(ctx, ratelimit.APIOracleRead); err != nil {
		return AccountStats{}, remote.ClassifyTransportError(err)
	}

	resp, err := c.read.R().
		SetContext(ctx).
		SetAuthToken(token).
		Get("/me")
	if err != nil {
		return AccountStats{}, remote.ClassifyTransportError(err)
	}
	if !resp.IsSuccess() {
		return AccountStats{}, remote.ClassifyHTTPError(resp.StatusCode())
	}

	var result meResponse
	if err := decodeBody(resp, "account stats", &result); err != nil {
		return AccountStats{}, err
	}
	if result.Data == nil || result.Data.Stats == nil {
		return AccountStats{}, remote.NewValidationError("stats payload missing from response")
	}

	stats := AccountStats{
		Email:        result.Data.Email,
		ValidCount:   result.Data.Stats.ValidCount,
		InvalidCount: result.Data.Stats.InvalidCount,
	}
	if v := result.Data.Stats.LastVerifiedAt; v != nil {
		stats.LastVerifiedAt = *v
	}
	return stats, nil
}

// SubmitValidation reports one decision through p. Failures are returned as
// *remote.SubmitError and are not retried.
func (c *Client) SubmitValidation(ctx context.Context, token, msgHash string, valid bool, p proxy.Proxy) (Ack, error) {
	fail := func(cause error) (Ack, error) {
		return Ack{}, &remote.SubmitError{MsgHash: msgHash, Proxy: p.String(), Cause: cause}
	}

	rc, err := c.submitClient(p)
	if err != nil {
		return fail(err)
	}
	if err := c.limiter.Wait(ctx, ratelimit.APIOracleSubmit); err != nil {
		return fail(remote.ClassifyTransportError(err))
	}

	var ack Ack
	resp, err := rc.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(validationRequest{MsgHash: msgHash, Valid: valid}).
		SetResult(&ack).
		Post("/stork_signed_prices/validations")
	if err != nil {
		return fail(remote.ClassifyTransportError(err))
	}
	if !resp.IsSuccess() {
		return fail(remote.ClassifyHTTPError(resp.StatusCode()))
	}
	return ack, nil
}
