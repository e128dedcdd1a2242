// Package proxy resolves proxy connection strings into HTTP transports.
package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	xproxy "golang.org/x/net/proxy"
	"h12.io/socks"
)

// Kind tags how outbound connections are made.
type Kind int

const (
	KindDirect Kind = iota
	KindHTTP
	KindSOCKS5
	KindSOCKS4
)

func (k Kind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindSOCKS5:
		return "socks5"
	case KindSOCKS4:
		return "socks4"
	default:
		return "direct"
	}
}

// ErrUnsupportedScheme is returned by Parse for schemes other than
// http, https, socks4, socks4a, socks5 and socks5h.
var ErrUnsupportedScheme = errors.New("proxy protocol unsupported")

// Proxy is a parsed proxy. The zero value is a direct connection.
type Proxy struct {
	Kind Kind
	URL  *url.URL
	raw  string
}

// Direct is the no-proxy value.
var Direct = Proxy{}

// Parse resolves a proxy connection string. An empty string is Direct.
func Parse(raw string) (Proxy, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Direct, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Proxy{}, fmt.Errorf("invalid proxy url %q: %w", raw, err)
	}
	if u.Host == "" {
		return Proxy{}, fmt.Errorf("invalid proxy url %q: missing host", raw)
	}

	var kind Kind
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		kind = KindHTTP
	case "socks5", "socks5h":
		kind = KindSOCKS5
	case "socks4", "socks4a":
		kind = KindSOCKS4
	default:
		return Proxy{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, redact(u))
	}

	return Proxy{Kind: kind, URL: u, raw: raw}, nil
}

// IsDirect reports whether p is a direct connection.
func (p Proxy) IsDirect() bool {
	return p.Kind == KindDirect
}

// String returns the proxy address with credentials removed, or "direct".
func (p Proxy) String() string {
	if p.IsDirect() {
		return "direct"
	}
	return redact(p.URL)
}

// Key identifies the proxy including credentials; two proxies with the same
// Key can share a transport.
func (p Proxy) Key() string {
	if p.IsDirect() {
		return "direct"
	}
	return p.raw
}

// Transport builds an http.Transport that routes through p.
func (p Proxy) Transport() (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	t := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		ForceAttemptHTTP2:     true,
	}

	switch p.Kind {
	case KindDirect:
		t.Proxy = http.ProxyFromEnvironment
	case KindHTTP:
		t.Proxy = http.ProxyURL(p.URL)
	case KindSOCKS5:
		d, err := xproxy.FromURL(p.URL, dialer)
		if err != nil {
			return nil, fmt.Errorf("socks dialer for %s: %w", p, err)
		}
		cd, ok := d.(xproxy.ContextDialer)
		if !ok {
			cd = contextDialer{d.Dial}
		}
		t.DialContext = cd.DialContext
	case KindSOCKS4:
		t.DialContext = contextDialer{socks.Dial(socks4URI(p.URL, dialer.Timeout))}.DialContext
	}

	return t, nil
}

// socks4URI builds the h12.io/socks address for u, carrying the dial timeout.
// The userinfo username, if any, is sent as the SOCKS4 user ID.
func socks4URI(u *url.URL, timeout time.Duration) string {
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	c.Path = ""
	q := c.Query()
	if q.Get("timeout") == "" {
		q.Set("timeout", timeout.String())
	}
	c.RawQuery = q.Encode()
	return c.String()
}

// contextDialer adapts a dial function without context support.
type contextDialer struct {
	dial func(network, addr string) (net.Conn, error)
}

func (c contextDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := c.dial(network, addr)
		ch <- result{conn, err}
	}()
	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		return r.conn, r.err
	}
}

// ForBatch returns the proxy assigned to batch index i: proxies[i mod len],
// or Direct when no proxies are configured.
func ForBatch(proxies []Proxy, i int) Proxy {
	if len(proxies) == 0 {
		return Direct
	}
	return proxies[i%len(proxies)]
}

func redact(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	if c.User != nil {
		c.User = url.User("***")
	}
	return c.String()
}
