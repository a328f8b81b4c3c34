// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds graceful shutdown of the observability server.
const shutdownTimeout = 5 * time.Second

// NewCoreCmd creates the core subcommand.
func NewCoreCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "core",
		Short: "Run the identity core (store, auth service, health and metrics)",
		Long: `Open the credential store, build the auth service, and serve
/metrics and /healthz probes until interrupted. Readiness pings the store.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCore(cmd.Context(), cmd, deps)
		},
	}
}

func runCore(ctx context.Context, cmd *cobra.Command, deps *Deps) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return oops.With("operation", "load config").Wrap(err)
	}
	logger, err := setupLogging(cfg)
	if err != nil {
		return oops.With("operation", "set up logging").Wrap(err)
	}

	logger.Info("starting core process",
		"driver", cfg.Database.Driver,
		"metrics_addr", cfg.Metrics.Addr,
	)

	// Building the Service fails fast on a bad wordlist or argon2 settings.
	// Core serves no requests through it; callers embed auth.Service directly.
	a, err := deps.openApp(ctx, cfg, logger)
	if err != nil {
		return oops.With("operation", "open core").Wrap(err)
	}
	defer a.Close()

	logger.Info("credential store ready", "driver", cfg.Database.Driver)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.observabilityServerFactory()(cfg.Metrics.Addr, a.store.Ping)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		// A failing observability server stops the process.
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Core process started")
	logger.Info("core process ready")

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// monitorServerErrors cancels ctx when the server reports an error. It
// exits when the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
