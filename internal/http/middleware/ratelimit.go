// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the console's per-client token bucket. The admin
// password is shared, so buckets are keyed by client address. Buckets live
// in process memory and are swept lazily once they sit idle past a TTL.
//
// One class of request skips the bucket: a retry that IdempotencyValidator
// recognised as re-sending a call whose outcome was never learned (the same
// method and path under the same key timed out or hit an upstream error).
// Any other known key is limited like a fresh request.
//
// A 429 carries Retry-After rounded up from the bucket's actual refill time,
// so the console can tell the operator how long to wait.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/heyjinjung/rmafh-sub000/internal/apierr"
)

const (
	bucketIdleTTL    = 10 * time.Minute
	sweepEvery       = 5000
	maxRetryAfterSec = 60
)

// keyFunc maps a request to the identity owning a bucket.
type keyFunc func(*gin.Context) string

// KeyByClientIP buckets requests by client address.
func KeyByClientIP() keyFunc {
	return func(c *gin.Context) string {
		return "ip:" + c.ClientIP()
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token bucket limiter. Safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn keyFunc
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	idleTTL time.Duration
	lookups uint64
}

// NewRateLimiter returns a limiter refilling rps tokens per second with the
// given burst (coerced to at least 1).
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		idleTTL: bucketIdleTTL,
	}
}

// bucketFor returns the limiter for key, creating it on first use. Every
// sweepEvery lookups idle buckets are dropped; the sweep runs before key is
// touched so a stale bucket for key starts over full.
func (rl *RateLimiter) bucketFor(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= sweepEvery {
		rl.sweepLocked(now)
		rl.lookups = 0
	}

	if b, ok := rl.buckets[key]; ok {
		b.lastSeen = now
		return b.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.buckets[key] = &bucket{limiter: lim, lastSeen: now}
	return lim
}

func (rl *RateLimiter) sweepLocked(now time.Time) {
	for k, b := range rl.buckets {
		if now.Sub(b.lastSeen) >= rl.idleTTL {
			delete(rl.buckets, k)
		}
	}
}

// IsRateBypass reports whether IdempotencyValidator cleared this request to
// skip the bucket.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// retryAfter is the whole seconds until lim has a token again, within
// [1, maxRetryAfterSec]. A limiter that never refills reports the cap.
func retryAfter(lim *rate.Limiter, now time.Time) int {
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return maxRetryAfterSec
	}
	d := r.DelayFrom(now)
	r.CancelAt(now)
	if d == rate.InfDuration {
		return maxRetryAfterSec
	}
	secs := int(math.Ceil(d.Seconds()))
	switch {
	case secs < 1:
		return 1
	case secs > maxRetryAfterSec:
		return maxRetryAfterSec
	}
	return secs
}

// Handler enforces the bucket. Denied requests get 429 RATE_LIMITED in the
// standard envelope plus Retry-After.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		now := rl.now()
		lim := rl.bucketFor(rl.keyFn(c), now)
		if lim.AllowN(now, 1) {
			c.Next()
			return
		}

		c.Header("Retry-After", strconv.Itoa(retryAfter(lim, now)))
		c.AbortWithStatusJSON(http.StatusTooManyRequests,
			apierr.New(apierr.CodeRateLimited, "rate limit exceeded").WithRequestID(RequestIDFrom(c)))
	}
}
