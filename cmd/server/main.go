// Package main is the entry point for the attestor server.
//
// The bootstrap sequence is:
//  1. Load configuration from the environment, then apply flag overrides.
//  2. Load the rule set and the connector catalog.
//  3. Connect Redis and PostgreSQL when a configured connector needs them.
//  4. Derive keys and build the issuer, checker and audit pipeline.
//  5. Serve HTTP until SIGINT/SIGTERM. SIGHUP reloads the rule set.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/pflag"

	"attestor/internal/platform/config"
	"attestor/internal/platform/httpserver"
	"attestor/internal/platform/logger"
	"attestor/internal/platform/metrics"
	"attestor/internal/platform/tracing"
	"attestor/internal/rules"
	"attestor/pkg/platform/middleware/metadata"
	"attestor/pkg/platform/middleware/requestid"
	"attestor/pkg/platform/middleware/requesttime"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyFlags(&cfg, args); err != nil {
		return err
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	shutdownTracer, err := tracing.Init(context.Background())
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("tracer shutdown error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	app, err := build(ctx, cfg, log, m)
	if err != nil {
		return err
	}
	defer app.close()

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(m.Middleware)
	r.Method(http.MethodGet, "/metrics", m.Handler())
	app.handler.Register(r)

	go watchReload(ctx, app.store, cfg, log)

	srv := httpserver.New(cfg.HTTPAddr, r)
	errCh := make(chan error, 1)
	go func() {
		log.Info("attestor listening",
			"addr", cfg.HTTPAddr,
			"issuer", cfg.Issuer,
			"alg", cfg.SigningAlg,
			"jurisdictions", app.service.Jurisdictions(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// applyFlags lets operators override the file locations and listen address
// without touching the environment.
func applyFlags(cfg *config.Config, args []string) error {
	fs := pflag.NewFlagSet("attestor", pflag.ContinueOnError)
	addr := fs.String("addr", cfg.HTTPAddr, "HTTP listen address")
	rulesPath := fs.String("rules", cfg.RulesPath, "rule set document (YAML or JSON)")
	connectorsPath := fs.String("connectors", cfg.ConnectorsPath, "connector catalog document")
	trusted := fs.String("trusted-keys", cfg.TrustedKeysPath, "public keys of other issuers")
	level := fs.String("log-level", cfg.LogLevel, "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	cfg.HTTPAddr = *addr
	cfg.RulesPath = *rulesPath
	cfg.ConnectorsPath = *connectorsPath
	cfg.TrustedKeysPath = *trusted
	cfg.LogLevel = *level
	return nil
}

// watchReload swaps in a fresh rule set on SIGHUP. A document that fails
// validation leaves the current rule set serving.
func watchReload(ctx context.Context, store *rules.Store, cfg config.Config, log *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			rs, err := store.ReloadFile(cfg.RulesPath, rules.ValidationOptions{MaxDepth: cfg.MaxDepth})
			if err != nil {
				log.ErrorContext(ctx, "rule reload rejected", "path", cfg.RulesPath, "error", err)
				continue
			}
			log.InfoContext(ctx, "rules reloaded",
				"path", cfg.RulesPath,
				"rules", rs.Len(),
				"jurisdictions", rs.Jurisdictions(),
			)
		}
	}
}
