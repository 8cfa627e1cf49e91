// Package httpapi wires the HTTP transport (Gin) to the upstream proxy, the
// audit trail and the console's own endpoints. It centralizes cross-cutting
// concerns such as tracing, correlation IDs, logging/redaction, panic
// recovery, metrics, compression, CORS, security headers, idempotency-key
// validation and rate limiting.
package httpapi

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/heyjinjung/rmafh-sub000/internal/apierr"
	"github.com/heyjinjung/rmafh-sub000/internal/config"
	"github.com/heyjinjung/rmafh-sub000/internal/domain"
	"github.com/heyjinjung/rmafh-sub000/internal/events"
	"github.com/heyjinjung/rmafh-sub000/internal/http/handlers"
	"github.com/heyjinjung/rmafh-sub000/internal/http/middleware"
	"github.com/heyjinjung/rmafh-sub000/internal/proxy"
	"github.com/heyjinjung/rmafh-sub000/internal/repo"
	"github.com/heyjinjung/rmafh-sub000/internal/services"
)

// auditRepoShim adapts the repository free functions to the
// services.AuditRepo interface expected by the AuditService.
type auditRepoShim struct{}

func (auditRepoShim) CreateAuditRecord(ctx context.Context, db *gorm.DB, rec *domain.AuditRecord) error {
	return repo.CreateAuditRecord(ctx, db, rec)
}

func (auditRepoShim) CountAuditRecords(ctx context.Context, db *gorm.DB, f repo.AuditFilter) (int64, error) {
	return repo.CountAuditRecords(ctx, db, f)
}

func (auditRepoShim) ListAuditRecordsPage(ctx context.Context, db *gorm.DB, f repo.AuditFilter, offset, limit int) ([]domain.AuditRecord, error) {
	return repo.ListAuditRecordsPage(ctx, db, f, offset, limit)
}

func (auditRepoShim) FindLatestByKey(ctx context.Context, db *gorm.DB, key string) (*domain.AuditRecord, error) {
	return repo.FindLatestByKey(ctx, db, key)
}

func (auditRepoShim) PruneAuditRecords(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	return repo.PruneAuditRecords(ctx, db, cutoff)
}

// Deps are the application objects shared by the routes and the entry
// point. Each application instance owns its own bus.
type Deps struct {
	DB    *gorm.DB
	Bus   *events.Bus
	Audit *services.AuditService
	Proxy *proxy.Proxy

	// ConsoleEnabled gates the console and proxy routes. It starts at
	// cfg.AdminV2Enabled and may be flipped at runtime.
	ConsoleEnabled *atomic.Bool
}

// NewDeps builds the bus, the audit service (subscribed to the bus) and the
// upstream proxy. client performs upstream calls and may be nil.
func NewDeps(db *gorm.DB, cfg config.Config, client *http.Client) (*Deps, error) {
	bus := events.NewBus()

	audit := services.NewAuditService(db, auditRepoShim{}, cfg.Audit.Retention)
	audit.RecordReads = cfg.Audit.RecordReads
	audit.Subscribe(bus)

	px, err := proxy.New(proxy.Options{
		Base:           cfg.Proxy.APIBase,
		Client:         client,
		Bus:            bus,
		DefaultTimeout: cfg.Proxy.Timeout,
		MaxBodyBytes:   cfg.Proxy.MaxBodyBytes,
	})
	if err != nil {
		return nil, err
	}

	enabled := &atomic.Bool{}
	enabled.Store(cfg.AdminV2Enabled)

	return &Deps{DB: db, Bus: bus, Audit: audit, Proxy: px, ConsoleEnabled: enabled}, nil
}

// lastAttempt exposes the audit trail to the idempotency middleware.
func lastAttempt(audit *services.AuditService) middleware.IdempotencyLookup {
	return func(ctx context.Context, key string) (*middleware.PriorAttempt, error) {
		rec, err := audit.LastAttempt(ctx, key)
		if err != nil || rec == nil {
			return nil, err
		}
		return &middleware.PriorAttempt{
			Method:         rec.Method,
			Path:           rec.Path,
			OutcomeUnknown: rec.OutcomeUnknown(),
		}, nil
	}
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs, X-Admin-Password masked
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Compression
//  8. Idempotency-key validator (before rate limiter so a retry of an
//     unanswered call can bypass it)
//  9. Rate limiter (per client IP)
//  10. CORS and Security headers
//
// Routes:
//
//	GET  /health, /ready, /metrics
//	GET  <BASE_PATH>/console/config
//	GET  <BASE_PATH>/console/audit[/keys/:key]   (gated)
//	ANY  <BASE_PATH>/api/admin/...               (gated, proxied upstream)
func RegisterRoutes(r *gin.Engine, deps *Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit; the proxy enforces the same cap and maps
	// overflow to 413.
	r.Use(limitBody(cfg.Proxy.MaxBodyBytes))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Response compression (promhttp compresses on its own)
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 8) Idempotency-key validation, annotated from the audit trail
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: cfg.IdempotencyKeyMaxLen},
		lastAttempt(deps.Audit),
	))

	// 9) Token-bucket rate limiter per client IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())
	r.Use(rl.Handler())

	// 10) CORS posture (allow all when no origins are configured)
	r.Use(cors.New(corsConfig(cfg.CORS.AllowedOrigins)))

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, apierr.CodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, apierr.CodeMethodNotAllowed, "method not allowed")
	})

	h := handlers.New(
		deps.Audit,
		func(ctx context.Context, f repo.AuditFilter) (int64, *time.Time, error) {
			return repo.AuditStats(ctx, deps.DB, f)
		},
		handlers.ConsoleSettings{
			BasePath:       cfg.BasePath,
			APIPrefix:      proxy.APIPrefix,
			AdminV2Enabled: deps.ConsoleEnabled.Load,
		},
		func() error { return repo.Ping(deps.DB) },
	)

	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)

	base := groupWithPrefix(r, cfg.BasePath)

	// The config endpoint stays reachable so a disabled console can say so.
	base.GET("/console/config", h.ConsoleConfig)

	gate := middleware.AdminGate(deps.ConsoleEnabled.Load)
	console := base.Group("/console", gate)
	{
		console.GET("/audit", h.ListAudit)
		console.GET("/audit/keys/:key", h.GetAuditByKey)
	}

	deps.Proxy.Mount(base.Group(proxy.APIPrefix, gate), proxy.AdminRoutes()...)
}

// corsConfig allows the console's custom request headers and exposes the
// response headers it reads.
func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept",
			middleware.HeaderAdminPassword, middleware.HeaderIdempotencyKey,
		},
		ExposeHeaders:    []string{"X-Request-ID", "Idempotency-Status", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}

// limitBody caps the request body size using http.MaxBytesReader. Requests
// exceeding the cap cause downstream body reads to error. Non-positive
// values disable the cap.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
