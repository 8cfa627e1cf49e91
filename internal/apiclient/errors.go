package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrRequestFailed is matched (errors.Is) by every non-2xx outcome.
var ErrRequestFailed = errors.New("request failed")

// RequestError reports a non-2xx response. Payload holds the decoded JSON
// body, or the body text when the response was not JSON.
type RequestError struct {
	Method            string
	URL               string
	StatusCode        int
	StatusText        string
	Header            http.Header
	Payload           any
	IdempotencyKey    string
	IdempotencyStatus string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s: %v: %d %s", e.Method, e.URL, ErrRequestFailed, e.StatusCode, e.StatusText)
}

func (e *RequestError) Unwrap() error { return ErrRequestFailed }

func (e *RequestError) ErrorPayload() any { return e.Payload }
func (e *RequestError) ErrorStatus() int  { return e.StatusCode }
func (e *RequestError) ErrorIdempotency() (key, status string) {
	return e.IdempotencyKey, e.IdempotencyStatus
}

// TransportError reports that no response was received: DNS failures,
// refused connections, resets, or context cancellation.
type TransportError struct {
	Method         string
	URL            string
	IdempotencyKey string
	Err            error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) ErrorIdempotency() (key, status string) { return e.IdempotencyKey, "" }

// Timeout reports whether the request was abandoned because a deadline
// passed. The outcome upstream is unknown in that case, so a retry must reuse
// the same key.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}

// DecodeError reports a 2xx response that declared JSON but did not parse.
// It signals a contract violation, not a business failure.
type DecodeError struct {
	StatusCode        int
	ContentType       string
	IdempotencyKey    string
	IdempotencyStatus string
	Err               error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s response (status %d): %v", e.ContentType, e.StatusCode, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) ErrorStatus() int { return e.StatusCode }
func (e *DecodeError) ErrorIdempotency() (key, status string) {
	return e.IdempotencyKey, e.IdempotencyStatus
}
