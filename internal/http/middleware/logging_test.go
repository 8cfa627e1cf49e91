package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/heyjinjung/rmafh-sub000/internal/apierr"
)

func TestRequestID_ReusesWellFormedInboundID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	var seen string
	r.GET("/rid", func(c *gin.Context) {
		seen = RequestIDFrom(c)
		c.Status(http.StatusNoContent)
	})

	for _, id := range []string{"abc-123", "Z-REQ-123", "trace:01HX.retry_2"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/rid", nil)
		req.Header.Set(strings.ToLower(requestIDHeader), id)
		r.ServeHTTP(w, req)

		if seen != id || w.Header().Get(requestIDHeader) != id {
			t.Fatalf("id %q: context=%q header=%q", id, seen, w.Header().Get(requestIDHeader))
		}
	}
}

func TestRequestID_ReplacesMissingOrMalformedID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/rid", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	cases := map[string]string{
		"missing":   "",
		"spaces":    "rid with spaces",
		"newline":   "rid\r\nX-Admin-Password: x",
		"too long":  strings.Repeat("a", maxRequestIDLen+1),
		"non-ascii": "요청-1",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/rid", nil)
			if in != "" {
				req.Header[requestIDHeader] = []string{in}
			}
			r.ServeHTTP(w, req)

			got := w.Header().Get(requestIDHeader)
			if got == in {
				t.Fatalf("inbound id was kept: %q", got)
			}
			if _, err := uuid.Parse(got); err != nil {
				t.Fatalf("replacement %q is not a uuid: %v", got, err)
			}
		})
	}
}

func TestRecovery_PanicBecomesEnvelopeAndLogsKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := withCapturedLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(RedactingLogger(RedactOptions{}))
	r.Use(Recovery())
	r.POST("/admin/vault/extend-expiry", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/vault/extend-expiry", nil)
	req.Header.Set(requestIDHeader, "rid-panic")
	req.Header.Set(HeaderIdempotencyKey, "K-42")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d; want 500", w.Code)
	}
	var env apierr.Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid json body: %v", err)
	}
	if env.Error.Code != apierr.CodeInternal || env.Error.RequestID != "rid-panic" {
		t.Fatalf("unexpected body: %+v", env)
	}

	var panicLine string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "panic recovered") {
			panicLine = line
		}
	}
	if !strings.Contains(panicLine, `"idempotency_key":"K-42"`) || !strings.Contains(panicLine, `"stack"`) {
		t.Fatalf("panic log missing fields: %s", panicLine)
	}
}

func TestRecovery_PanicAfterRelayStartedKeepsBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := withCapturedLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(Recovery())
	r.GET("/admin/users/export", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/csv", []byte("id,name\n"))
		panic("late kaboom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/users/export", nil))

	if w.Body.String() != "id,name\n" {
		t.Fatalf("body = %q; want the partial csv only", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("content-type = %q", ct)
	}
	if !strings.Contains(buf.String(), `"response_started":true`) {
		t.Fatalf("expected response_started in log, got:\n%s", buf.String())
	}
}

func TestLoggerFrom_FallsBackToGlobalLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := withCapturedLogger(t)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	LoggerFrom(c).Info().Msg("no access logger")

	out := buf.String()
	if !strings.Contains(out, "no access logger") || strings.Contains(out, `"request_id"`) {
		t.Fatalf("unexpected fallback output: %s", out)
	}

	c.Set(loggerKey, "not a logger")
	if LoggerFrom(c) == nil {
		t.Fatal("LoggerFrom returned nil for a foreign context value")
	}
}

func TestRequestIDFrom_ContextThenHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	if got := RequestIDFrom(c); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
	c.Writer.Header().Set(requestIDHeader, "from-header")
	if got := RequestIDFrom(c); got != "from-header" {
		t.Fatalf("header fallback = %q", got)
	}
	c.Set(requestIDKey, "from-ctx")
	if got := RequestIDFrom(c); got != "from-ctx" {
		t.Fatalf("context value = %q", got)
	}
}
