// ABOUTME: The serve command: wires config, credentials, router, transport, metrics, and audit
// ABOUTME: SIGINT/SIGTERM stops the router, waits for the drain, then shuts servers down

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/2389/coven-router/internal/agent"
	"github.com/2389/coven-router/internal/audit"
	"github.com/2389/coven-router/internal/config"
	"github.com/2389/coven-router/internal/conversation"
	"github.com/2389/coven-router/internal/credential"
	"github.com/2389/coven-router/internal/dedupe"
	"github.com/2389/coven-router/internal/events"
	"github.com/2389/coven-router/internal/metrics"
	"github.com/2389/coven-router/internal/router"
	"github.com/2389/coven-router/internal/transport"
)

const shutdownTimeout = 30 * time.Second

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)
	printStartup(os.Stdout, configPath, cfg)

	logger.Info("starting coven-router",
		"config", configPath,
		"bot", cfg.Bot.Name,
		"multi_instance", cfg.Bot.MultiInstance,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	var sinks []events.Sink
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(true)
		sinks = append(sinks, m)
	}

	var store *audit.Store
	var ledger *audit.Recorder
	if cfg.Audit.Path != "" {
		store, err = audit.Open(cfg.Audit.Path, logger)
		if err != nil {
			return fmt.Errorf("opening audit ledger: %w", err)
		}
		ledger = audit.NewRecorder(store, 0, logger)
		sinks = append(sinks, ledger)
	}
	sink := events.Multi(sinks...)

	creds := credential.NewManager(credential.ManagerParams{
		Config:     cfg.CredentialConfig(),
		HTTPClient: &http.Client{Timeout: cfg.Auth.Timeout},
		Sink:       sink,
		Logger:     logger,
	})

	cache := dedupe.New(dedupe.Params{TTL: cfg.Dedupe.TTL, MaxSize: cfg.Dedupe.MaxSize})

	// srv is assigned before Start, which is the first transition it needs to see.
	var srv *transport.Server
	r := router.New(router.Params{
		MultiInstance: cfg.Bot.MultiInstance,
		Agents:        agent.EchoFactory(cfg.Bot.EchoPrefix),
		Handlers:      conversation.AgentHandlers(conversation.LogResponder{Logger: logger}),
		Credentials:   creds,
		Sink:          sink,
		Logger:        logger,
		OnStateChange: func(s router.State) {
			if srv != nil {
				srv.SetRouterState(s)
			}
		},
	})

	api := transport.NewAPI(transport.APIParams{
		Router:      r,
		Dedupe:      cache,
		Metrics:     metricsHandler(m),
		MetricsPath: cfg.Metrics.Path,
		Logger:      logger,
	})
	srv = transport.NewServer(transport.ServerParams{
		HTTPAddr: cfg.Server.HTTPAddr,
		GRPCAddr: cfg.Server.GRPCAddr,
		Handler:  api.Routes(),
		Logger:   logger,
	})

	// closeAll releases everything but the router, which is stopped first.
	closeAll := func(ctx context.Context) error {
		var errs []error
		errs = appendCloseError(errs, "transport shutdown", srv.Shutdown(ctx))
		cache.Close()
		if ledger != nil {
			errs = appendCloseError(errs, "audit flush", ledger.Close(ctx))
		}
		if store != nil {
			errs = appendCloseError(errs, "audit close", store.Close())
		}
		return errors.Join(errs...)
	}

	errCh, err := srv.Start()
	if err != nil {
		r.Stop()
		_ = closeAll(context.Background())
		return err
	}

	if err := r.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(fmt.Errorf("starting router: %w", err), closeAll(shutdownCtx))
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("context canceled, initiating shutdown")
	case err := <-errCh:
		logger.Error("server error", "error", err)
		runErr = err
	case <-r.Done():
		runErr = r.Wait()
		if runErr != nil {
			logger.Error("router stopped unexpectedly", "error", runErr)
		}
	}

	// Fresh context: the signal context is already canceled.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	if err := r.Shutdown(shutdownCtx); runErr == nil {
		errs = appendCloseError(errs, "router shutdown", err)
	}
	errs = appendCloseError(errs, "close", closeAll(shutdownCtx))
	shutdownErr := errors.Join(errs...)

	if runErr != nil {
		return runErr
	}
	if shutdownErr != nil {
		return fmt.Errorf("shutdown errors: %w", shutdownErr)
	}
	logger.Info("coven-router stopped")
	return nil
}

func metricsHandler(m *metrics.Metrics) http.Handler {
	if m == nil {
		return nil
	}
	return m.Handler()
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}
