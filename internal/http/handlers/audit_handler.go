// Audit and console HTTP handlers.
//
// Endpoints (all under BASE_PATH, behind the console gate):
//   - GET /console/audit              (list, paginated, filtered, ETag support)
//   - GET /console/audit/keys/:key    (newest record for an idempotency key)
//   - GET /console/config             (runtime settings for the browser bundle)
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/heyjinjung/rmafh-sub000/internal/apierr"
	"github.com/heyjinjung/rmafh-sub000/internal/domain"
	"github.com/heyjinjung/rmafh-sub000/internal/repo"
	"github.com/heyjinjung/rmafh-sub000/internal/utils"
)

// AuditService is the audit-trail contract consumed by the handlers.
type AuditService interface {
	// ListPage returns a page of records matching f and the total count.
	ListPage(ctx context.Context, f repo.AuditFilter, page, pageSize int) ([]domain.AuditRecord, int64, error)
	// LatestByKey returns the newest record carrying an idempotency key.
	LatestByKey(ctx context.Context, key string) (*domain.AuditRecord, error)
}

// StatsFunc returns the count and newest timestamp for a filter. It backs
// the audit list ETag; nil disables conditional responses.
type StatsFunc func(ctx context.Context, f repo.AuditFilter) (int64, *time.Time, error)

// ConsoleSettings is what the browser bundle needs to rewrite its links when
// served under a sub-path.
type ConsoleSettings struct {
	BasePath       string
	APIPrefix      string
	AdminV2Enabled func() bool
}

// Handlers groups the console backend's own endpoints.
type Handlers struct {
	auditSvc AuditService
	stats    StatsFunc
	console  ConsoleSettings
	ready    func() error
}

// New constructs Handlers. stats and ready may be nil.
func New(auditSvc AuditService, stats StatsFunc, console ConsoleSettings, ready func() error) *Handlers {
	return &Handlers{auditSvc: auditSvc, stats: stats, console: console, ready: ready}
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListAuditResponse wraps a page of audit records.
type ListAuditResponse struct {
	Records    []domain.AuditRecord `json:"records"`
	Pagination Pagination           `json:"pagination"`
}

// ConsoleConfigResponse is returned by GET /console/config.
type ConsoleConfigResponse struct {
	BasePath       string `json:"basePath"`
	APIPrefix      string `json:"apiPrefix"`
	AdminV2Enabled bool   `json:"adminV2Enabled"`
}

//
// Helpers
//

func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), 20),
		20, 100,
	)
}

func auditFilter(c *gin.Context) repo.AuditFilter {
	return repo.AuditFilter{
		IdempotencyKey: strings.TrimSpace(c.Query("idempotency_key")),
		RequestID:      strings.TrimSpace(c.Query("request_id")),
		Route:          strings.TrimSpace(c.Query("route")),
		FailedOnly:     utils.ParseBool(c.Query("failed")),
	}
}

// auditETag derives a weak ETag from the filter, page window and the
// (count, newest) pair of matching records.
func auditETag(f repo.AuditFilter, page, pageSize int, count int64, latest *time.Time) string {
	var ts int64
	if latest != nil {
		ts = latest.UnixNano()
	}
	return fmt.Sprintf(`W/"audit:%s|%s|%s|%t:%d:%d:%d:%d"`,
		f.IdempotencyKey, f.RequestID, f.Route, f.FailedOnly, page, pageSize, count, ts)
}

//
// Handlers
//

// ListAudit returns a page of audit records, newest first.
//
// @ID          listAudit
// @Summary     List proxied admin calls (paginated)
// @Description Returns audit records newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Audit
// @Produce     json
// @Param       If-None-Match    header  string  false "Return 304 if ETag matches"       example(W/\"audit:abc\")
// @Param       page             query   int     false "Page number"                      minimum(1) default(1)
// @Param       page_size        query   int     false "Items per page"                   minimum(1) maximum(100) default(20)
// @Param       idempotency_key  query   string  false "Only calls sent with this key"
// @Param       request_id       query   string  false "Only calls with this request ID"
// @Param       route            query   string  false "Only calls to this admin route"   example(/admin/vault/extend-expiry)
// @Param       failed           query   bool    false "Only non-2xx outcomes"
// @Success     200  {object} handlers.ListAuditResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} apierr.Envelope "Bad filter"
// @Failure     404  {object} apierr.Envelope "Console disabled"
// @Failure     500  {object} apierr.Envelope "Internal error"
// @Router      /console/audit [get]
func (h *Handlers) ListAudit(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)
	f := auditFilter(c)

	// ETag pre-check (best effort).
	if h.stats != nil {
		if count, latest, err := h.stats(ctx, f); err == nil {
			etag := auditETag(f, page, pageSize, count, latest)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.auditSvc.ListPage(ctx, f, page, pageSize)
	if err != nil {
		failService(c, err)
		return
	}

	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListAuditResponse{
		Records: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetAuditByKey returns the newest record for an idempotency key, so an
// operator can look up the key shown next to a failed console action.
//
// @ID          getAuditByKey
// @Summary     Latest call for an idempotency key
// @Tags        Audit
// @Produce     json
// @Param       key  path  string  true  "Idempotency key"  example(3f6c1f3e-2a4b-4c1d-9e8f-0a1b2c3d4e5f)
// @Success     200  {object} domain.AuditRecord
// @Failure     400  {object} apierr.Envelope "Key missing"
// @Failure     404  {object} apierr.Envelope "No record, or console disabled"
// @Failure     500  {object} apierr.Envelope "Internal error"
// @Router      /console/audit/keys/{key} [get]
func (h *Handlers) GetAuditByKey(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		fail(c, http.StatusBadRequest, apierr.CodeBadRequest, "idempotency key required")
		return
	}
	rec, err := h.auditSvc.LatestByKey(c.Request.Context(), key)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}

// ConsoleConfig reports the base path, API prefix and console flag.
//
// @ID          consoleConfig
// @Summary     Runtime settings for the console bundle
// @Tags        Console
// @Produce     json
// @Success     200  {object} handlers.ConsoleConfigResponse
// @Router      /console/config [get]
func (h *Handlers) ConsoleConfig(c *gin.Context) {
	enabled := h.console.AdminV2Enabled != nil && h.console.AdminV2Enabled()
	ok(c, http.StatusOK, ConsoleConfigResponse{
		BasePath:       h.console.BasePath,
		APIPrefix:      h.console.APIPrefix,
		AdminV2Enabled: enabled,
	})
}
