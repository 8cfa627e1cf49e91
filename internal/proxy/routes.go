package proxy

import (
	"net/http"
	"time"
)

// APIPrefix is the path, relative to the console base path, under which the
// admin routes are mounted.
const APIPrefix = "/api"

const (
	uploadTimeout   = 2 * time.Minute
	downloadTimeout = time.Minute
)

var (
	readOnly   = []string{http.MethodGet}
	listCreate = []string{http.MethodGet, http.MethodPost}
	postOnly   = []string{http.MethodPost}
)

// AdminRoutes returns the upstream admin endpoints exposed to the console.
// Payloads are the upstream's business; the table only fixes paths, verbs
// and time budgets. Routes without a Timeout use the proxy default.
func AdminRoutes() []Route {
	return []Route{
		{Name: "users", Path: "/admin/users", UpstreamPath: "/admin/users", AllowedMethods: listCreate},
		{Name: "user", Path: "/admin/users/:id", UpstreamPath: "/admin/users/:id",
			AllowedMethods: []string{http.MethodGet, http.MethodPatch, http.MethodDelete}},

		{Name: "segments", Path: "/admin/segments", UpstreamPath: "/admin/segments", AllowedMethods: listCreate},
		{Name: "segment", Path: "/admin/segments/:id", UpstreamPath: "/admin/segments/:id",
			AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodDelete}},
		{Name: "segment_members", Path: "/admin/segments/:id/members", UpstreamPath: "/admin/segments/:id/members",
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete}},

		{Name: "imports", Path: "/admin/imports", UpstreamPath: "/admin/imports", AllowedMethods: readOnly},
		{Name: "import_upload", Path: "/admin/imports/upload", UpstreamPath: "/admin/imports",
			AllowedMethods: postOnly, Timeout: uploadTimeout},
		{Name: "import", Path: "/admin/imports/:id", UpstreamPath: "/admin/imports/:id", AllowedMethods: readOnly},
		{Name: "import_failures", Path: "/admin/imports/:id/failures", UpstreamPath: "/admin/imports/:id/failures.csv",
			AllowedMethods: readOnly, Timeout: downloadTimeout},

		{Name: "notifications", Path: "/admin/notifications", UpstreamPath: "/admin/notifications", AllowedMethods: listCreate},
		{Name: "notification", Path: "/admin/notifications/:id", UpstreamPath: "/admin/notifications/:id", AllowedMethods: readOnly},
		{Name: "notification_preview", Path: "/admin/notifications/preview", UpstreamPath: "/admin/notifications/preview",
			AllowedMethods: postOnly},

		{Name: "vault_extend_expiry", Path: "/admin/vault/extend-expiry", UpstreamPath: "/admin/vault/extend-expiry",
			AllowedMethods: postOnly},
		{Name: "vault_extend_expiry_preview", Path: "/admin/vault/extend-expiry/preview",
			UpstreamPath: "/admin/vault/extend-expiry/preview", AllowedMethods: postOnly},
		{Name: "vault_status", Path: "/admin/vault/:userId", UpstreamPath: "/admin/vault/:userId", AllowedMethods: readOnly},
	}
}
