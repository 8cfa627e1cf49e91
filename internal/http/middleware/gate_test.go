package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/heyjinjung/rmafh-sub000/internal/apierr"
)

func TestAdminGate_TogglesPerRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var on atomic.Bool

	r := gin.New()
	r.Use(RequestID())
	g := r.Group("/console", AdminGate(on.Load))
	g.GET("/config", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/console/config", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("disabled: status = %d", w.Code)
	}
	var env apierr.Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error.Code != apierr.CodeConsoleDisabled || env.Error.RequestID == "" {
		t.Fatalf("unexpected envelope %+v", env)
	}

	on.Store(true)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/console/config", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("enabled: status = %d", w.Code)
	}
}

func TestAdminGate_NilFlagDisables(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AdminGate(nil))
	r.GET("/x", func(c *gin.Context) { t.Fatalf("handler must not run") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}
