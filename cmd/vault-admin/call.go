package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/heyjinjung/rmafh-sub000/internal/apiclient"
	"github.com/heyjinjung/rmafh-sub000/internal/apierr"
	"github.com/heyjinjung/rmafh-sub000/internal/config"
)

// callOutput is printed to stdout on success.
type callOutput struct {
	Status            int    `json:"status"`
	IdempotencyKey    string `json:"idempotency_key"`
	IdempotencyStatus string `json:"idempotency_status,omitempty"`
	Data              any    `json:"data"`
}

// runCall performs one admin call through apiclient. Defaults come from
// config.LoadClient (API_BASE, ADMIN_PASSWORD, APICLIENT_KEY_STRENGTH,
// APICLIENT_TIMEOUT); flags override them. Exit codes: 0 success,
// 1 request failed (the ErrorInfo is printed to stderr), 2 usage error.
//
// Retrying a timed-out call must reuse the key printed with the failure:
//
//	vault-admin call -X POST -path /admin/vault/extend-expiry -data '{"days":7}'
//	vault-admin call -X POST -path /admin/vault/extend-expiry -data '{"days":7}' -key <key>
func runCall(args []string, stdout, stderr io.Writer) int {
	cc, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(stderr, "call: %v\n", err)
		return 2
	}

	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		base     = fs.String("base", cc.APIBase, "API base URL (upstream or <console>/<BASE_PATH>/api)")
		method   = fs.String("X", "GET", "HTTP method")
		path     = fs.String("path", "", "path relative to -base, e.g. /admin/users")
		data     = fs.String("data", "", "JSON request body")
		key      = fs.String("key", "", "idempotency key to reuse (generated when empty)")
		strength = fs.String("key-strength", cc.KeyStrength, "generated key form: uuid or timestamp")
		timeout  = fs.Duration("timeout", cc.Timeout, "overall deadline")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*base) == "" || !strings.HasPrefix(*path, "/") {
		fmt.Fprintln(stderr, "call: -base (or API_BASE) and an absolute -path are required")
		return 2
	}
	ks, err := apiclient.ParseKeyStrength(*strength)
	if err != nil {
		fmt.Fprintf(stderr, "call: %v\n", err)
		return 2
	}

	var body any
	if *data != "" {
		if !json.Valid([]byte(*data)) {
			fmt.Fprintln(stderr, "call: -data is not valid JSON")
			return 2
		}
		body = json.RawMessage(*data)
	}

	client := apiclient.New(*base,
		apiclient.WithAdminPassword(cc.AdminPassword),
		apiclient.WithKeyGenerator(apiclient.NewKeyGenerator(ks)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	res, err := client.Call(ctx, *path, apiclient.Options{
		Method:         *method,
		Body:           body,
		IdempotencyKey: *key,
	})
	if err != nil {
		writeJSON(stderr, apierr.Extract(err))
		return 1
	}
	writeJSON(stdout, callOutput{
		Status:            res.StatusCode,
		IdempotencyKey:    res.IdempotencyKey,
		IdempotencyStatus: res.IdempotencyStatus,
		Data:              res.Data,
	})
	return 0
}

func writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
