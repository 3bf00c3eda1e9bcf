package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"brokerdesk/internal/creditcheck/service"
	"brokerdesk/internal/platform/config"
	"brokerdesk/internal/platform/httpserver"
	"brokerdesk/internal/platform/logger"
)

// main wires dependencies from the environment and runs the HTTP server,
// the Kafka result consumer and the pending sweeper until a signal arrives.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close(log)

	g, gctx := errgroup.WithContext(ctx)

	srv := httpserver.New(cfg.Server.Addr, app.router(cfg, log))
	g.Go(func() error {
		log.InfoContext(gctx, "starting brokerdesk",
			"addr", cfg.Server.Addr,
			"postgres", app.db != nil,
			"redis", app.redis != nil,
			"kafka", app.kafka != nil,
		)
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout)
	})

	if app.consumer != nil {
		g.Go(func() error {
			return ignoreCanceled(app.consumer.Run(gctx))
		})
	}

	if cfg.Provider.PendingTimeout > 0 {
		expirer, err := service.NewExpirer(app.creditChecks, cfg.Provider.PendingTimeout, cfg.Provider.SweepInterval,
			service.WithExpirerLogger(log))
		if err != nil {
			return err
		}
		g.Go(func() error {
			return ignoreCanceled(expirer.Run(gctx))
		})
	}

	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if cerr := app.creditChecks.Close(shutdownCtx); cerr != nil {
		log.Warn("credit check resolutions still running at shutdown", "error", cerr)
	}
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
