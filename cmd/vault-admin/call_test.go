package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRunCall_PrintsResultAndForwardsKey(t *testing.T) {
	t.Setenv("ADMIN_PASSWORD", "s3cret")
	var gotKey, gotPass, gotBody, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Idempotency-Key")
		gotPass = r.Header.Get("X-Admin-Password")
		gotMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Idempotency-Status", "ACCEPTED")
		_, _ = w.Write([]byte(`{"updated":3}`))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := runCall([]string{"-base", srv.URL, "-X", "post", "-path", "/admin/vault/extend-expiry",
		"-data", `{"days":7}`, "-key", "K-1"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit = %d stderr=%s", code, stderr.String())
	}
	if gotKey != "K-1" || gotPass != "s3cret" || gotMethod != http.MethodPost || gotBody != `{"days":7}` {
		t.Fatalf("upstream saw key=%q pass=%q method=%q body=%q", gotKey, gotPass, gotMethod, gotBody)
	}

	var out callOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode stdout: %v", err)
	}
	if out.Status != 200 || out.IdempotencyKey != "K-1" || out.IdempotencyStatus != "ACCEPTED" {
		t.Fatalf("unexpected output %+v", out)
	}
}

func TestRunCall_FailurePrintsErrorInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"DUPLICATE_REQUEST","message":"already applied","request_id":"req-9"}}`))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := runCall([]string{"-base", srv.URL, "-X", "POST", "-path", "/admin/users", "-key-strength", "timestamp"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit = %d; want 1", code)
	}
	if stdout.Len() != 0 {
		t.Fatalf("stdout should be empty, got %q", stdout.String())
	}
	var info struct {
		Code           string `json:"code"`
		RequestID      string `json:"request_id"`
		IdempotencyKey string `json:"idempotency_key"`
		HTTPStatus     *int   `json:"http_status"`
	}
	if err := json.Unmarshal(stderr.Bytes(), &info); err != nil {
		t.Fatalf("decode stderr: %v (%s)", err, stderr.String())
	}
	if info.Code != "DUPLICATE_REQUEST" || info.RequestID != "req-9" || info.IdempotencyKey == "" ||
		info.HTTPStatus == nil || *info.HTTPStatus != http.StatusConflict {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestRunCall_UsageErrors(t *testing.T) {
	t.Setenv("API_BASE", "")
	cases := map[string][]string{
		"missing base":  {"-path", "/x"},
		"relative path": {"-base", "http://localhost:1", "-path", "x"},
		"bad json":      {"-base", "http://localhost:1", "-path", "/x", "-data", "{nope"},
		"bad strength":  {"-base", "http://localhost:1", "-path", "/x", "-key-strength", "weak"},
		"bad timeout":   {"-base", "http://localhost:1", "-path", "/x", "-timeout", "soon"},
		"unknown flag":  {"-bogus"},
	}
	for name, args := range cases {
		var stdout, stderr bytes.Buffer
		if code := runCall(args, &stdout, &stderr); code != 2 {
			t.Errorf("%s: exit = %d; want 2", name, code)
		}
		if strings.TrimSpace(stderr.String()) == "" {
			t.Errorf("%s: expected a message on stderr", name)
		}
	}
}

func TestRunCall_InvalidEnvironmentIsUsageError(t *testing.T) {
	t.Setenv("APICLIENT_KEY_STRENGTH", "weak")
	var stdout, stderr bytes.Buffer
	if code := runCall([]string{"-base", "http://localhost:1", "-path", "/x"}, &stdout, &stderr); code != 2 {
		t.Fatalf("exit = %d; want 2", code)
	}
	if !strings.Contains(stderr.String(), "APICLIENT_KEY_STRENGTH") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}
