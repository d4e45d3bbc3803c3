// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vitalog Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitalog/vitalog/internal/auth"
	authpg "github.com/vitalog/vitalog/internal/auth/postgres"
	"github.com/vitalog/vitalog/internal/config"
	"github.com/vitalog/vitalog/internal/live"
	"github.com/vitalog/vitalog/internal/logging"
	"github.com/vitalog/vitalog/internal/mail"
	"github.com/vitalog/vitalog/internal/observability"
	"github.com/vitalog/vitalog/internal/store"
	"github.com/vitalog/vitalog/internal/web"
)

// newServeCmd creates the serve subcommand with all flags configured.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the vitalog web server",
		Long: `Start the vitalog web server, which handles account registration,
authentication, and session management over HTTP.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, cmd)
		},
	}

	cmd.Flags().String("http-addr", config.DefaultHTTPAddr, "HTTP listen address")
	cmd.Flags().String("metrics-addr", config.DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("base-url", config.DefaultBaseURL, "external base URL for emailed links")
	cmd.Flags().String("log-format", config.DefaultLogFormat, "log format (json or text)")
	cmd.Flags().String("log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")

	return cmd
}

// runServe starts the web server.
func runServe(ctx context.Context, cfg *config.Config, cmd *cobra.Command) error {
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	logging.SetDefault("vitalog", version, cfg.LogFormat, cfg.LogLevel)

	slog.Info("starting vitalog",
		"http_addr", cfg.HTTPAddr,
		"base_url", cfg.BaseURL,
		"log_format", cfg.LogFormat,
	)

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	notifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}

	accounts := authpg.NewAccountRepository(pool)
	tokens := authpg.NewTokenRepository(pool)
	uow := authpg.NewUnitOfWork(pool)
	hasher := auth.NewArgon2idHasher()

	authSvc := auth.NewService(accounts, tokens, uow, hasher)
	confirmSvc := auth.NewConfirmationService(accounts, tokens, uow, notifier, cfg.BaseURL)
	changeSvc := auth.NewEmailChangeService(accounts, tokens, uow, hasher, notifier, cfg.BaseURL)
	resetSvc := auth.NewPasswordResetService(accounts, tokens, uow, hasher, notifier, cfg.BaseURL)

	signer := web.NewSigner([]byte(cfg.SecretKeyBase))
	broadcaster := live.NewBroadcaster()
	authenticator := web.NewAuthenticator(authSvc, signer, broadcaster)
	handlers := web.NewHandlers(authSvc, confirmSvc, changeSvc, resetSvc, authenticator, slog.Default())

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.HTTPAddr, err)
	}

	slog.Info("http server listening", "addr", listener.Addr())

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go sweepTokens(ctx, tokens, time.Hour)

	// Start observability server if configured
	var obsServer *observability.Server
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, func() bool {
			pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
			defer pingCancel()
			return pool.Ping(pingCtx) == nil
		})
		if _, err = obsServer.Start(); err != nil {
			_ = listener.Close()
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		slog.Info("observability server started", "addr", obsServer.Addr())
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if account := web.AccountFromContext(r.Context()); account != nil {
			fmt.Fprintf(w, "vitalog: signed in as %s\n", account.Email)
			return
		}
		fmt.Fprintln(w, "vitalog: not signed in")
	})

	httpServer := &http.Server{
		Handler:           handlers.Mount(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		if serveErr := httpServer.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			serveErrCh <- serveErr
		}
	}()

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	cmd.Println("Vitalog server started")
	slog.Info("vitalog ready", "http_addr", listener.Addr().String())

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case err := <-serveErrCh:
		slog.Error("http server error", "error", err)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	// Graceful shutdown
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("error shutting down http server", "error", err)
	}

	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

// sweepTokens periodically deletes expired tokens and refreshes the
// active-session gauge. The prune-tokens command covers deployments that
// prefer an external schedule.
func sweepTokens(ctx context.Context, tokens *authpg.TokenRepository, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := tokens.DeleteExpired(ctx)
			if err != nil {
				slog.Warn("token sweep failed", "error", err)
				continue
			}
			if deleted > 0 {
				slog.Info("pruned expired tokens", "count", deleted)
			}
			n, err := tokens.CountSessions(ctx)
			if err != nil {
				slog.Warn("session count failed", "error", err)
				continue
			}
			observability.SetSessionsActive(n)
		}
	}
}

// buildNotifier selects the outbound mail driver.
func buildNotifier(cfg *config.Config) (auth.Notifier, error) {
	switch cfg.Mail.Driver {
	case "", "log":
		return mail.NewLogNotifier(nil), nil
	case "api":
		return mail.NewAPINotifier(cfg.Mail.Endpoint, cfg.Mail.APIKey, cfg.Mail.From)
	default:
		return nil, fmt.Errorf("unknown mail driver %q", cfg.Mail.Driver)
	}
}
