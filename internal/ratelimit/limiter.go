package ratelimit

import (
	"context"
	"os"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// API represents the different remote APIs we call
type API string

const (
	// APIOracleRead covers record and stats lookups against the oracle
	APIOracleRead API = "oracle_read"
	// APIOracleSubmit covers validation submissions
	APIOracleSubmit API = "oracle_submit"
	// APIIdentity covers the identity provider's InitiateAuth endpoint
	APIIdentity API = "identity"
	// APIIPLookup covers the egress IP diagnostic
	APIIPLookup API = "ip_lookup"
)

// Limiter manages rate limits for different APIs
type Limiter struct {
	limiters map[API]*rate.Limiter
	mu       sync.RWMutex
}

var (
	instance *Limiter
	once     sync.Once
)

// GetLimiter returns the singleton rate limiter instance
func GetLimiter() *Limiter {
	once.Do(func() {
		instance = &Limiter{
			limiters: make(map[API]*rate.Limiter),
		}
		instance.initLimiters()
	})
	return instance
}

// initLimiters initializes rate limiters for each API with conservative defaults
func (l *Limiter) initLimiters() {
	// Tests hit local stub servers; don't slow them down
	if os.Getenv("GO_TESTING") == "1" || isTestMode() {
		for _, api := range []API{APIOracleRead, APIOracleSubmit, APIIdentity, APIIPLookup} {
			l.limiters[api] = rate.NewLimiter(rate.Inf, 1)
		}
		return
	}

	// Reads happen a handful of times per cycle
	l.limiters[APIOracleRead] = rate.NewLimiter(rate.Limit(5), 2)

	// Submissions fan out in bursts of up to one batch set; allow the burst,
	// then pace the sustained rate
	l.limiters[APIOracleSubmit] = rate.NewLimiter(rate.Limit(50), 100)

	// The identity provider throttles InitiateAuth aggressively
	l.limiters[APIIdentity] = rate.NewLimiter(rate.Limit(1), 1)

	l.limiters[APIIPLookup] = rate.NewLimiter(rate.Limit(1), 1)
}

// SetLimit replaces the limit for a single API.
func (l *Limiter) SetLimit(api API, limit rate.Limit, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters[api] = rate.NewLimiter(limit, burst)
}

// isTestMode checks if we're running in test mode
func isTestMode() bool {
	for _, arg := range os.Args {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}

// Wait blocks until the rate limiter permits an event for the given API
// It returns an error if the context is canceled before the event can proceed
func (l *Limiter) Wait(ctx context.Context, api API) error {
	l.mu.RLock()
	limiter, exists := l.limiters[api]
	l.mu.RUnlock()

	if !exists {
		return nil
	}

	return limiter.Wait(ctx)
}

// Allow reports whether an event for the given API may happen now
func (l *Limiter) Allow(api API) bool {
	l.mu.RLock()
	limiter, exists := l.limiters[api]
	l.mu.RUnlock()

	if !exists {
		return true
	}

	return limiter.Allow()
}
