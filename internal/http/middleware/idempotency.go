// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file validates the X-Idempotency-Key header that console calls carry,
// stashes the key in the Gin context and, through a pluggable lookup, flags
// requests whose key is already known (a retry of an earlier action):
//   - GetIdempotencyKey reads the validated key
//   - IsReplay reports a known key
//   - the rate limiter spares a retry only when it repeats an attempt whose
//     outcome the operator never learned (same method, same path, earlier
//     call timed out or lost the upstream connection)
//
// The proxy forwards the header untouched; deduplication itself is the
// upstream API's job. Keys are chosen by the caller, so a known key alone
// never exempts a request from rate limiting.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/heyjinjung/rmafh-sub000/internal/apierr"
)

// HeaderIdempotencyKey is the request header carrying the idempotency key.
const HeaderIdempotencyKey = "X-Idempotency-Key"

// Context keys used internally to stash idempotency state.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // bool: true when the key was seen before
	ctxKeyRateBypass = "rate.bypass" // bool: true to skip rate limiting
)

// defaultKeyPattern accepts UUIDs, the "<millis>-<base36>" fallback form and
// other RFC 7230 token-ish keys.
var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the validated key stored by IdempotencyValidator.
// The second return value indicates presence.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the request's key was already known.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures header validation.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. Nil uses ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
}

// PriorAttempt is what the lookup knows about the last request made under a
// key.
type PriorAttempt struct {
	Method string
	Path   string
	// OutcomeUnknown is true when that request timed out or failed in
	// transport, so the caller could not tell whether it was applied.
	OutcomeUnknown bool
}

// IdempotencyLookup returns the last attempt made under key, or nil when the
// key is new. Errors are logged and treated as "not seen"; they never block
// the request.
type IdempotencyLookup func(ctx context.Context, key string) (*PriorAttempt, error)

// IdempotencyValidator validates X-Idempotency-Key when present.
//
// Behavior:
//   - header absent: no-op.
//   - header invalid: 400 BAD_IDEMPOTENCY_KEY, request not forwarded.
//   - lookup knows the key: the replay flag is set.
//   - the known attempt matches method and path and its outcome is unknown:
//     the rate-bypass flag is set too.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest,
				apierr.New(apierr.CodeBadIdempotencyKey, "invalid X-Idempotency-Key").
					WithRequestID(RequestIDFrom(c)))
			return
		}

		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			prior, err := lookup(c.Request.Context(), key)
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
				prior = nil
			}
			if prior != nil {
				c.Set(ctxKeyIdemReplay, true)
				if retriesUnknownOutcome(prior, c.Request) {
					c.Set(ctxKeyRateBypass, true)
				}
			}
		}

		c.Next()
	}
}

// retriesUnknownOutcome reports whether r repeats prior and prior left the
// caller without an answer.
func retriesUnknownOutcome(prior *PriorAttempt, r *http.Request) bool {
	return prior.OutcomeUnknown &&
		strings.EqualFold(prior.Method, r.Method) &&
		prior.Path != "" && prior.Path == r.URL.Path
}
