// Package ipinfo looks up the public egress IP seen through a proxy.
package ipinfo

import (
	"context"
	"sync"
	"time"

	"resty.dev/v3"

	"storkvalidator/internal/proxy"
	"storkvalidator/internal/ratelimit"
	"storkvalidator/internal/remote"
)

const (
	DefaultURL     = "https://api.ipify.org?format=json"
	defaultTimeout = 10 * time.Second
)

type ipResponse struct {
	IP string `json:"ip"`
}

// Inspector issues egress IP lookups, one cached client per proxy.
type Inspector struct {
	url     string
	timeout time.Duration
	limiter *ratelimit.Limiter

	mu      sync.Mutex
	clients map[string]*resty.Client
}

// New returns an Inspector querying url, or DefaultURL when empty.
func New(url string) *Inspector {
	if url == "" {
		url = DefaultURL
	}
	return &Inspector{
		url:     url,
		timeout: defaultTimeout,
		limiter: ratelimit.GetLimiter(),
		clients: make(map[string]*resty.Client),
	}
}

func (in *Inspector) client(p proxy.Proxy) (*resty.Client, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if rc, ok := in.clients[p.Key()]; ok {
		return rc, nil
	}
	transport, err := p.Transport()
	if err != nil {
		return nil, err
	}
	rc := remote.NewHTTPClient(remote.ClientOptions{
		Timeout:    in.timeout,
		RetryCount: -1,
		Transport:  transport,
	})
	in.clients[p.Key()] = rc
	return rc, nil
}

// CurrentIP returns the address the lookup service saw for a request sent
// through p.
func (in *Inspector) CurrentIP(ctx context.Context, p proxy.Proxy) (string, error) {
	rc, err := in.client(p)
	if err != nil {
		return "", err
	}
	if err := in.limiter.Wait(ctx, ratelimit.APIIPLookup); err != nil {
		return "", remote.ClassifyTransportError(err)
	}

	var result ipResponse
	resp, err := rc.R().
		SetContext(ctx).
		SetResult(&result).
		Get(in.url)
	if err != nil {
		return "", remote.ClassifyTransportError(err)
	}
	if !resp.IsSuccess() {
		return "", remote.ClassifyHTTPError(resp.StatusCode())
	}
	if result.IP == "" {
		return "", remote.NewValidationError("ip missing from response")
	}
	return result.IP, nil
}
