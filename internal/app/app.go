// Package app wires every gateway component into a running HTTP server:
// configuration, keystore connection, auth, the Session Registry, Command
// Router, Executor Channel, Capability Registry, Admin Surface, and Request
// Frontend (spec.md §4.8).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wisbric/kdebug/internal/auth"
	"github.com/wisbric/kdebug/internal/config"
	"github.com/wisbric/kdebug/internal/httpserver"
	"github.com/wisbric/kdebug/internal/notify"
	"github.com/wisbric/kdebug/internal/platform"
	"github.com/wisbric/kdebug/internal/telemetry"
	"github.com/wisbric/kdebug/pkg/admin"
	"github.com/wisbric/kdebug/pkg/capability"
	"github.com/wisbric/kdebug/pkg/debugapi"
	"github.com/wisbric/kdebug/pkg/executorchan"
	"github.com/wisbric/kdebug/pkg/keystore"
	"github.com/wisbric/kdebug/pkg/router"
	"github.com/wisbric/kdebug/pkg/session"
)

// Run is the gateway's entry point: it reads config, connects to
// infrastructure, wires every component, and serves until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting kdebug gateway", "listen", cfg.ListenAddr())

	rdb, err := platform.NewRedisClient(ctx, cfg.KeystoreURL)
	if err != nil {
		return fmt.Errorf("connecting to keystore: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing keystore connection", "error", err)
		}
	}()

	metricsReg := telemetry.NewMetricsRegistry()
	ks := keystore.New(rdb)

	apiKeys := auth.NewAPIKeyStore(cfg.APIKeys)

	var bearer *auth.BearerAuthenticator
	if cfg.BearerEnabled() {
		bearer = auth.NewBearerAuthenticator(cfg.BearerIssuer, cfg.BearerAudience, cfg.BearerJWKSURL)
		logger.Info("bearer authentication enabled", "issuer", cfg.BearerIssuer)
	} else {
		logger.Info("bearer authentication disabled (BEARER_ISSUER/BEARER_JWKS_URL not set)")
	}

	executorTokens := auth.NewExecutorTokens(ks)

	auditWriter := auth.NewAuditWriter(ks, cfg.AuditRingLimit, 2*time.Second, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	sessions := session.New(ks)
	go sessions.RunCleanupLoop(ctx, time.Minute, func(err error) {
		logger.Error("session cleanup sweep failed", "error", err)
	})

	rt := router.New(ks, sessions)
	caps := capability.New(ks, time.Duration(cfg.CapabilityTTL)*time.Second)
	adm := admin.New(ks, executorTokens, caps)
	execChan := executorchan.New(ks, sessions, executorTokens, caps, logger)

	var notifyFn func(event, clusterID string)
	if cfg.SlackEnabled() {
		notifier := notify.New(cfg.SlackBotToken, cfg.SlackAlertChannel, logger)
		notifyFn = notifier.ExecutorTokenEvent
		logger.Info("slack admin notifications enabled", "channel", cfg.SlackAlertChannel)
	} else {
		logger.Info("slack admin notifications disabled (SLACK_BOT_TOKEN not set)")
	}

	srv := httpserver.NewServer(cfg, logger, rdb, metricsReg, apiKeys, bearer, auditWriter)

	debugHandler := debugapi.New(sessions, rt, adm, debugapi.Bounds{
		SessionTTLDefault:     cfg.SessionTTLDefault,
		SessionTTLMin:         cfg.SessionTTLMin,
		SessionTTLMax:         cfg.SessionTTLMax,
		CommandTimeoutDefault: cfg.CommandTimeoutDefault,
		CommandTimeoutMin:     cfg.CommandTimeoutMin,
		CommandTimeoutMax:     cfg.CommandTimeoutMax,
	}, cfg.ExecuteRequiresAPIKey)
	debugHandler.Routes(srv.DebugRouter)

	adminHandler := admin.NewHandler(adm, logger, notifyFn)
	adminHandler.Routes(srv.AdminRouter)

	srv.ExecutorRouter.Get("/stream", execChan.Stream)
	srv.ExecutorRouter.Post("/results", execChan.Results)
	srv.ExecutorRouter.Post("/capabilities", execChan.Capabilities)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // the SSE stream is long-lived; no fixed write deadline.
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
