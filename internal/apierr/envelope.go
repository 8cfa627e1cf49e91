// Package apierr defines the error envelope shared by the console backend and
// the upstream API, and the single extraction routine that collapses every
// failure shape (transport errors, nested envelopes, flat legacy bodies) into
// one ErrorInfo record.
//
// Envelope shape:
//
//	{
//	  "error": {
//	    "code":    "UPSTREAM_TIMEOUT",
//	    "message": "upstream did not respond within 30s",
//	    "upstream": { "base": "...", "path": "...", "url": "...", "method": "POST" }
//	  }
//	}
package apierr

// Code is a stable, machine-readable error identifier in UPPER_SNAKE_CASE.
type Code string

const (
	// Proxy-level codes.
	CodeMethodNotAllowed Code = "METHOD_NOT_ALLOWED"
	CodeUpstreamTimeout  Code = "UPSTREAM_TIMEOUT"
	CodeUpstreamError    Code = "UPSTREAM_ERROR"

	// Console-level codes.
	CodeBadRequest        Code = "BAD_REQUEST"
	CodeBadIdempotencyKey Code = "BAD_IDEMPOTENCY_KEY"
	CodePayloadTooLarge   Code = "PAYLOAD_TOO_LARGE"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConsoleDisabled   Code = "CONSOLE_DISABLED"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeInternal          Code = "INTERNAL_ERROR"
	CodeUnavailable       Code = "UNAVAILABLE"
)

// UpstreamInfo is the diagnostic block attached to proxy transport failures.
// It names the upstream target and nothing else.
type UpstreamInfo struct {
	Base   string `json:"base"`
	Path   string `json:"path"`
	URL    string `json:"url"`
	Method string `json:"method"`
}

// Body is the inner object of an Envelope.
type Body struct {
	Code      Code          `json:"code"`
	Message   string        `json:"message"`
	RequestID string        `json:"request_id,omitempty"`
	Upstream  *UpstreamInfo `json:"upstream,omitempty"`
}

// Envelope is the standard error response body.
type Envelope struct {
	Error Body `json:"error"`
}

// New builds an Envelope with the given code and message.
func New(code Code, message string) Envelope {
	return Envelope{Error: Body{Code: code, Message: message}}
}

// WithRequestID returns a copy of e carrying the correlation ID.
func (e Envelope) WithRequestID(id string) Envelope {
	e.Error.RequestID = id
	return e
}

// WithUpstream returns a copy of e carrying upstream diagnostics.
func (e Envelope) WithUpstream(u UpstreamInfo) Envelope {
	e.Error.Upstream = &u
	return e
}
