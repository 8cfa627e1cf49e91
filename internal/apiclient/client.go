// Package apiclient performs console calls against the admin API with
// idempotency and admin-auth headers attached, and returns a uniform
// success or failure outcome.
//
// Every call carries an X-Idempotency-Key. Callers that retry must pass the
// key from the first attempt back in; a new key is a new logical operation.
// The client never retries and never imposes its own timeout: cancellation is
// driven by the context, and latency is bounded by the proxy when traffic
// goes through it.
//
// Failures come in three shapes, all resolvable with apierr.Extract:
//   - *RequestError   non-2xx response (errors.Is(err, ErrRequestFailed))
//   - *TransportError no response received
//   - *DecodeError    2xx response declaring JSON that did not parse
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Header names exchanged with the proxy and the upstream API.
const (
	HeaderIdempotencyKey    = "X-Idempotency-Key"
	HeaderAdminPassword     = "X-Admin-Password"
	HeaderIdempotencyStatus = "Idempotency-Status"
)

// Client is safe for concurrent use. It holds no state beyond what was
// captured at construction.
type Client struct {
	basePath      string
	adminPassword string
	httpClient    *http.Client
	keys          KeyGenerator
}

// Option configures a Client.
type Option func(*Client)

// WithAdminPassword attaches X-Admin-Password to every call. An empty value
// disables the header.
func WithAdminPassword(p string) Option {
	return func(c *Client) { c.adminPassword = p }
}

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithKeyGenerator overrides how missing idempotency keys are produced.
func WithKeyGenerator(g KeyGenerator) Option {
	return func(c *Client) {
		if g != nil {
			c.keys = g
		}
	}
}

// New returns a Client that prefixes every path with basePath.
func New(basePath string, opts ...Option) *Client {
	c := &Client{
		basePath:   strings.TrimRight(basePath, "/"),
		httpClient: http.DefaultClient,
		keys:       NewKeyGenerator(StrengthUUID),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Options describe a single call. The zero value is a GET without body.
type Options struct {
	Method         string
	Header         http.Header
	Body           any
	IdempotencyKey string
}

// Result is the success outcome of Call.
type Result struct {
	Data              any
	IdempotencyKey    string
	IdempotencyStatus string
	StatusCode        int
	Header            http.Header
}

// Call performs one request to basePath+path.
func (c *Client) Call(ctx context.Context, path string, opts Options) (*Result, error) {
	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method == "" {
		method = http.MethodGet
	}
	key := opts.IdempotencyKey
	if key == "" {
		key = c.keys.NewKey()
	}
	url := c.basePath + path

	body, contentType, err := encodeBody(opts.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: build request: %w", method, url, err)
	}
	for k, vv := range opts.Header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set(HeaderIdempotencyKey, key)
	if c.adminPassword != "" {
		req.Header.Set(HeaderAdminPassword, c.adminPassword)
	} else {
		req.Header.Del(HeaderAdminPassword)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Method: method, URL: url, IdempotencyKey: key, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: method, URL: url, IdempotencyKey: key, Err: err}
	}

	respType := resp.Header.Get("Content-Type")
	idemStatus := resp.Header.Get(HeaderIdempotencyStatus)
	success := resp.StatusCode >= 200 && resp.StatusCode < 300

	data, decodeErr := decodeBody(respType, raw)
	if decodeErr != nil {
		if success {
			return nil, &DecodeError{
				StatusCode:        resp.StatusCode,
				ContentType:       respType,
				IdempotencyKey:    key,
				IdempotencyStatus: idemStatus,
				Err:               decodeErr,
			}
		}
		data = string(raw)
	}

	if !success {
		return nil, &RequestError{
			Method:            method,
			URL:               url,
			StatusCode:        resp.StatusCode,
			StatusText:        statusText(resp),
			Header:            cloneHeader(resp.Header),
			Payload:           data,
			IdempotencyKey:    key,
			IdempotencyStatus: idemStatus,
		}
	}

	return &Result{
		Data:              data,
		IdempotencyKey:    key,
		IdempotencyStatus: idemStatus,
		StatusCode:        resp.StatusCode,
		Header:            cloneHeader(resp.Header),
	}, nil
}

// Decode converts a Result's data into T.
func Decode[T any](res *Result) (T, error) {
	var out T
	if res == nil {
		return out, errors.New("decode: nil result")
	}
	b, err := json.Marshal(res.Data)
	if err != nil {
		return out, fmt.Errorf("decode: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("decode: %w", err)
	}
	return out, nil
}

func statusText(resp *http.Response) string {
	s := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if s == "" {
		s = http.StatusText(resp.StatusCode)
	}
	return s
}

// cloneHeader never returns nil so error construction can rely on it.
func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}
