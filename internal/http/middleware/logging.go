// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the correlation plumbing every other middleware leans on:
// RequestID stamps each console call with an ID that travels to the upstream
// (X-Request-ID) and into the audit trail, LoggerFrom hands out the
// request-scoped zerolog.Logger installed by RedactingLogger, and Recovery
// turns a handler panic into the standard error envelope.
//
// Order in the router: RequestID, RedactingLogger, Recovery. A panic is then
// logged with request_id and idempotency_key attached.
package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/heyjinjung/rmafh-sub000/internal/apierr"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"

	// maxRequestIDLen bounds a caller-supplied ID; it is copied into audit
	// rows and upstream headers.
	maxRequestIDLen = 128
)

// RequestID reuses a well-formed inbound X-Request-ID or mints a UUIDv4, then
// exposes it in the Gin context and on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !validRequestID(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// validRequestID accepts short IDs made of letters, digits and . _ : -
func validRequestID(s string) bool {
	if s == "" || len(s) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '-' || ch == '_' || ch == '.' || ch == ':':
		default:
			return false
		}
	}
	return true
}

// Recovery converts a panic into a 500 INTERNAL_ERROR envelope. When the
// handler already started writing (a relayed upstream body, say) only the
// status is aborted; the bytes on the wire cannot be taken back.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := RequestIDFrom(c)
			ev := LoggerFrom(c).Error()
			if _, scoped := c.Get(loggerKey); !scoped {
				ev = ev.Str("request_id", rid)
			}
			ev.Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Bool("response_started", c.Writer.Written()).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				apierr.New(apierr.CodeInternal, "internal server error").WithRequestID(rid))
		}()
		c.Next()
	}
}

// RequestIDFrom returns the correlation ID attached by RequestID, or the
// X-Request-ID response header when the middleware did not run.
func RequestIDFrom(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if s, _ := v.(string); s != "" {
			return s
		}
	}
	return c.Writer.Header().Get(requestIDHeader)
}

// LoggerFrom returns the request-scoped logger, or the global one when no
// access logger ran. Never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}
