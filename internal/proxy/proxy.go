// Package proxy forwards console requests to the upstream admin API.
//
// The proxy is a translation layer only. It enforces a per-route method
// allow-list, narrows the forwarded headers to a fixed set, bounds every
// upstream exchange with a timeout and relays the upstream response
// (status, Content-Type, Content-Disposition, Idempotency-Status) back to the
// browser. It never retries, never generates idempotency keys and holds no
// state between calls beyond what New captured.
//
// Failure mapping:
//
//	method not in allow-list   405 METHOD_NOT_ALLOWED (+ Allow header)
//	timeout elapsed            504 UPSTREAM_TIMEOUT   (outcome unknown)
//	any other transport error  502 UPSTREAM_ERROR
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/heyjinjung/rmafh-sub000/internal/apierr"
	"github.com/heyjinjung/rmafh-sub000/internal/events"
	"github.com/heyjinjung/rmafh-sub000/internal/http/middleware"
)

// DefaultTimeout bounds an upstream exchange when neither the route nor the
// proxy configures one.
const DefaultTimeout = 30 * time.Second

const (
	headerAccept             = "Accept"
	headerContentType        = "Content-Type"
	headerContentDisposition = "Content-Disposition"
	headerAdminPassword      = "X-Admin-Password"
	headerIdempotencyKey     = "X-Idempotency-Key"
	headerIdempotencyStatus  = "Idempotency-Status"

	contentTypeJSON = "application/json"
)

// ErrInvalidBase is returned by New when the upstream base URL is missing or
// not an absolute http(s) URL.
var ErrInvalidBase = errors.New("proxy: upstream base must be an absolute http(s) URL")

// Route binds an inbound gin path to an upstream path.
//
// UpstreamPath may reference the inbound path parameters (":id") and the
// catch-all parameter ("*rest"); each is substituted with the matched value.
type Route struct {
	Name           string
	Path           string
	UpstreamPath   string
	AllowedMethods []string
	Timeout        time.Duration
}

// Options configure a Proxy.
type Options struct {
	// Base is the upstream API origin, e.g. "https://api.internal:8443".
	Base string
	// Client performs the upstream calls. Defaults to a client without its
	// own timeout; the per-route context deadline applies instead.
	Client *http.Client
	// Bus receives one ProxyEvent per handled request. Optional.
	Bus *events.Bus
	// DefaultTimeout applies to routes without a Timeout. Defaults to 30s.
	DefaultTimeout time.Duration
	// MaxBodyBytes caps inbound request bodies. Zero disables the cap.
	MaxBodyBytes int64
}

// Proxy builds gin handlers for upstream routes.
type Proxy struct {
	base           string
	client         *http.Client
	bus            *events.Bus
	defaultTimeout time.Duration
	maxBodyBytes   int64
}

// New validates o and returns a Proxy.
func New(o Options) (*Proxy, error) {
	base := strings.TrimRight(strings.TrimSpace(o.Base), "/")
	u, err := url.Parse(base)
	if base == "" || err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBase, o.Base)
	}
	client := o.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := o.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Proxy{
		base:           base,
		client:         client,
		bus:            o.Bus,
		defaultTimeout: timeout,
		maxBodyBytes:   o.MaxBodyBytes,
	}, nil
}

// Base returns the normalized upstream origin.
func (p *Proxy) Base() string { return p.base }

// Mount registers rt on g for every allowed method, plus the remaining verbs
// so that disallowed methods receive a 405 from the proxy instead of gin's
// default 404.
func (p *Proxy) Mount(g gin.IRoutes, routes ...Route) {
	for _, rt := range routes {
		h := p.Handler(rt)
		for _, m := range allMethods {
			g.Handle(m, rt.Path, h)
		}
	}
}

var allMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

// Handler returns the gin handler forwarding requests for rt.
func (p *Proxy) Handler(rt Route) gin.HandlerFunc {
	allowed := normalizeMethods(rt.AllowedMethods)
	allowHeader := strings.Join(allowed, ", ")
	timeout := rt.Timeout
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}
	name := rt.Name
	if name == "" {
		name = rt.Path
	}

	return func(c *gin.Context) {
		start := time.Now()
		ex := &exchange{
			route:   name,
			method:  c.Request.Method,
			key:     idempotencyKey(c),
			timeout: timeout,
		}
		defer func() { p.finish(c, ex, start) }()

		if !containsMethod(allowed, ex.method) {
			c.Header("Allow", allowHeader)
			ex.fail(c, http.StatusMethodNotAllowed, apierr.New(apierr.CodeMethodNotAllowed,
				fmt.Sprintf("method %s is not allowed on this route", ex.method)),
				events.OutcomeMethodNotAllowed)
			return
		}

		ex.path = substitutePath(rt.UpstreamPath, c.Params)
		target := p.base + ex.path
		if q := encodeQuery(c.Request.URL.Query()); q != "" {
			target += "?" + q
		}
		ex.upstream = apierr.UpstreamInfo{Base: p.base, Path: ex.path, URL: target, Method: ex.method}

		body, contentType, err := p.outboundBody(c)
		if err != nil {
			ex.failBody(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, ex.method, target, body)
		if err != nil {
			ex.fail(c, http.StatusBadGateway, apierr.New(apierr.CodeUpstreamError,
				"could not build upstream request").WithUpstream(ex.upstream),
				events.OutcomeUpstreamError)
			return
		}
		if body != nil && req.ContentLength == 0 && c.Request.ContentLength > 0 {
			req.ContentLength = c.Request.ContentLength
		}
		copyAllowedHeaders(req.Header, c.Request.Header)
		if contentType != "" {
			req.Header.Set(headerContentType, contentType)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			ex.failTransport(ctx, c, err)
			return
		}
		defer resp.Body.Close()

		p.relay(c, ex, resp)
	}
}

// idempotencyKey prefers the key IdempotencyValidator accepted and falls back
// to the raw header when the handler is mounted without the validator.
func idempotencyKey(c *gin.Context) string {
	if k, ok := middleware.GetIdempotencyKey(c); ok {
		return k
	}
	return c.GetHeader(headerIdempotencyKey)
}

// exchange accumulates what the handler learns about one request so a
// single deferred call can publish the event and record metrics.
type exchange struct {
	route      string
	method     string
	path       string
	key        string
	idemStatus string
	status     int
	code       apierr.Code
	outcome    events.Outcome
	upstream   apierr.UpstreamInfo
	timeout    time.Duration
}

func (ex *exchange) fail(c *gin.Context, status int, env apierr.Envelope, outcome events.Outcome) {
	ex.status = status
	ex.code = env.Error.Code
	ex.outcome = outcome
	c.AbortWithStatusJSON(status, env.WithRequestID(middleware.RequestIDFrom(c)))
}

func (ex *exchange) failBody(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		ex.fail(c, http.StatusRequestEntityTooLarge, apierr.New(apierr.CodePayloadTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)),
			events.OutcomeRejected)
		return
	}
	ex.fail(c, http.StatusBadRequest, apierr.New(apierr.CodeBadRequest,
		"could not read request body"), events.OutcomeRejected)
}

func (ex *exchange) failTransport(ctx context.Context, c *gin.Context, err error) {
	lg := middleware.LoggerFrom(c)
	if isTimeout(ctx, err) {
		lg.Warn().Err(err).Str("upstream_url", ex.upstream.URL).Dur("timeout", ex.timeout).Msg("upstream timeout")
		ex.fail(c, http.StatusGatewayTimeout, apierr.New(apierr.CodeUpstreamTimeout,
			fmt.Sprintf("upstream did not respond within %s", ex.timeout)).WithUpstream(ex.upstream),
			events.OutcomeTimeout)
		return
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		ex.failBody(c, tooLarge)
		return
	}
	lg.Error().Err(err).Str("upstream_url", ex.upstream.URL).Msg("upstream unreachable")
	ex.fail(c, http.StatusBadGateway, apierr.New(apierr.CodeUpstreamError,
		"upstream request failed").WithUpstream(ex.upstream),
		events.OutcomeUpstreamError)
}

// isTimeout reports whether err was caused by the proxy's own deadline. An
// inbound client disconnect cancels ctx too but is not a timeout.
func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// outboundBody returns the body to send upstream and the content type to
// declare. JSON bodies are decoded and re-encoded; anything else streams
// through with the caller's content type.
func (p *Proxy) outboundBody(c *gin.Context) (io.Reader, string, error) {
	if !carriesBody(c.Request.Method) || c.Request.Body == nil || c.Request.Body == http.NoBody {
		return nil, "", nil
	}
	src := c.Request.Body
	if p.maxBodyBytes > 0 {
		src = http.MaxBytesReader(c.Writer, src, p.maxBodyBytes)
	}
	inType := c.GetHeader(headerContentType)

	if !isJSON(inType) {
		return src, inType, nil
	}

	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, "", err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, "", nil
	}
	v, err := decodeJSON(raw)
	if err != nil {
		// Not valid JSON after all; let the upstream judge it.
		return bytes.NewReader(raw), inType, nil
	}
	out, err := encodeJSON(v)
	if err != nil {
		return bytes.NewReader(raw), inType, nil
	}
	return bytes.NewReader(out), contentTypeJSON, nil
}

// relay writes the upstream response back to the caller. The upstream's
// Content-Disposition and Idempotency-Status are copied only once its body
// has been read, so a body cut short by the deadline is answered with a 504
// that carries no upstream verdict.
func (p *Proxy) relay(c *gin.Context, ex *exchange, resp *http.Response) {
	ct := resp.Header.Get(headerContentType)

	if isJSON(ct) {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			ex.failTransport(resp.Request.Context(), c, err)
			return
		}
		p.relayHeaders(c, ex, resp)
		if resp.StatusCode >= 400 {
			ex.code = apierr.Code(apierr.Extract(raw).Code)
		}
		if len(bytes.TrimSpace(raw)) == 0 {
			c.Header(headerContentType, ct)
			c.Status(resp.StatusCode)
			c.Writer.WriteHeaderNow()
			return
		}
		if v, err := decodeJSON(raw); err == nil {
			if out, err := encodeJSON(v); err == nil {
				c.Data(resp.StatusCode, ct, out)
				return
			}
		}
		c.Data(resp.StatusCode, ct, raw)
		return
	}

	// Raw bodies stream; the status line goes out first.
	p.relayHeaders(c, ex, resp)
	if ct != "" {
		c.Header(headerContentType, ct)
	}
	c.Status(resp.StatusCode)
	c.Writer.WriteHeaderNow()
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Str("upstream_url", ex.upstream.URL).Msg("upstream body relay interrupted")
		_ = c.Error(err)
	}
}

// relayHeaders marks ex as relayed and copies the upstream's download and
// dedup headers onto the response.
func (p *Proxy) relayHeaders(c *gin.Context, ex *exchange, resp *http.Response) {
	ex.status = resp.StatusCode
	ex.outcome = events.OutcomeRelayed
	ex.idemStatus = resp.Header.Get(headerIdempotencyStatus)

	if v := resp.Header.Get(headerContentDisposition); v != "" {
		c.Header(headerContentDisposition, v)
	}
	if ex.idemStatus != "" {
		c.Header(headerIdempotencyStatus, ex.idemStatus)
	}
}

// finish records metrics and publishes the ProxyEvent for ex.
func (p *Proxy) finish(c *gin.Context, ex *exchange, start time.Time) {
	latency := time.Since(start)
	if ex.status == 0 {
		ex.status = c.Writer.Status()
	}
	observe(ex, latency)
	p.bus.Publish(c.Request.Context(), events.ProxyEvent{
		RequestID:         middleware.RequestIDFrom(c),
		Route:             ex.route,
		Method:            ex.method,
		Path:              c.Request.URL.Path,
		UpstreamPath:      ex.path,
		Status:            ex.status,
		Outcome:           ex.outcome,
		Code:              string(ex.code),
		IdempotencyKey:    ex.key,
		IdempotencyStatus: ex.idemStatus,
		Latency:           latency,
		At:                start.UTC(),
	})
}

// encodeQuery re-serializes inbound parameters in key order. Repeated values
// become repeated pairs; parameters without a name are dropped.
func encodeQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		if k == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		for _, v := range q[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// copyAllowedHeaders forwards Accept (defaulting to JSON) and the two
// console headers. Nothing else crosses the proxy.
func copyAllowedHeaders(dst, src http.Header) {
	accept := src.Get(headerAccept)
	if accept == "" {
		accept = contentTypeJSON
	}
	dst.Set(headerAccept, accept)
	if v := src.Get(headerAdminPassword); v != "" {
		dst.Set(headerAdminPassword, v)
	}
	if v := src.Get(headerIdempotencyKey); v != "" {
		dst.Set(headerIdempotencyKey, v)
	}
}

// substitutePath replaces ":name" and "*name" segments of tmpl with the
// matched gin parameters.
func substitutePath(tmpl string, params gin.Params) string {
	if len(params) == 0 || !strings.ContainsAny(tmpl, ":*") {
		return tmpl
	}
	segs := strings.Split(tmpl, "/")
	for i, s := range segs {
		if len(s) < 2 || (s[0] != ':' && s[0] != '*') {
			continue
		}
		v, ok := params.Get(s[1:])
		if !ok {
			continue
		}
		if s[0] == '*' {
			segs[i] = strings.TrimPrefix(v, "/")
			continue
		}
		segs[i] = url.PathEscape(v)
	}
	return strings.Join(segs, "/")
}

func normalizeMethods(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, m := range in {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

func containsMethod(allowed []string, m string) bool {
	for _, a := range allowed {
		if a == m {
			return true
		}
	}
	return false
}

func carriesBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func isJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), contentTypeJSON)
}

func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
