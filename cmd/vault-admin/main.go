// Command vault-admin runs the admin console backend: a gin server that
// proxies the console's calls to the upstream admin API, records them in a
// local audit trail and serves the console's own endpoints.
//
// Usage:
//
//	vault-admin                 start the server (configured from the environment)
//	vault-admin call [flags]    perform one idempotent admin call and print the outcome
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/heyjinjung/rmafh-sub000/internal/config"
	httpapi "github.com/heyjinjung/rmafh-sub000/internal/http"
	"github.com/heyjinjung/rmafh-sub000/internal/observability"
	"github.com/heyjinjung/rmafh-sub000/internal/repo"
	"github.com/heyjinjung/rmafh-sub000/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if len(os.Args) > 1 && os.Args[1] == "call" {
		os.Exit(runCall(os.Args[2:], os.Stdout, os.Stderr))
	}

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("vault-admin exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ver := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)
	sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName, ver)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.Audit.DBPath)
	if err != nil {
		return fmt.Errorf("open audit db: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate audit db: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	// No client-level timeout: each route's context deadline bounds the call.
	client := &http.Client{Transport: observability.UpstreamTransport(nil, cfg.Proxy.APIBase)}

	deps, err := httpapi.NewDeps(db, cfg, client)
	if err != nil {
		return fmt.Errorf("proxy: %w", err)
	}
	go deps.Audit.RunPruner(ctx, cfg.Audit.PruneInterval)
	go reloadOnHUP(ctx, deps)

	r := gin.New()
	httpapi.RegisterRoutes(r, deps, cfg)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("base_path", cfg.BasePath).
			Str("api_base", deps.Proxy.Base()).
			Bool("console_enabled", deps.ConsoleEnabled.Load()).
			Msg("vault-admin listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

// reloadOnHUP re-reads ADMIN_V2_ENABLED on SIGHUP so the console can be
// switched off without a restart. Other settings need a restart.
func reloadOnHUP(ctx context.Context, deps *httpapi.Deps) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			_ = godotenv.Overload()
			cfg, err := config.Load()
			if err != nil {
				log.Warn().Err(err).Msg("reload: config invalid, keeping current settings")
				continue
			}
			deps.ConsoleEnabled.Store(cfg.AdminV2Enabled)
			log.Info().Bool("console_enabled", cfg.AdminV2Enabled).Msg("reload: console flag applied")
		}
	}
}
