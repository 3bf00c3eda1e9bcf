// Command notifywatch follows a broker's notifications from a terminal.
// It keeps a reconciled view over the HTTP API and websocket stream, logs
// each new arrival and reconnects with backoff when the stream drops.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"brokerdesk/internal/notification/client"
	"brokerdesk/internal/notification/models"
	"brokerdesk/internal/notification/reconciler"
	"brokerdesk/internal/platform/config"
	"brokerdesk/internal/platform/logger"
	id "brokerdesk/pkg/domain"
	dErrors "brokerdesk/pkg/domain-errors"
)

type options struct {
	server string
	token  string
	user   id.UserID
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("notifywatch", flag.ContinueOnError)
	server := fs.String("server", "http://localhost:8080", "brokerdesk base URL")
	token := fs.String("token", os.Getenv("NOTIFYWATCH_TOKEN"), "bearer token (default $NOTIFYWATCH_TOKEN)")
	user := fs.String("user", "", "user id the token was issued for")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if *token == "" {
		return options{}, errors.New("a bearer token is required")
	}
	uid, err := id.ParseUserID(*user)
	if err != nil {
		return options{}, err
	}
	return options{server: *server, token: *token, user: uid}, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "notifywatch:", err)
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := watch(ctx, opts, cfg.Notifications, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("notifywatch stopped with error", "error", err)
		os.Exit(1)
	}
}

// watch runs until ctx is done. Every dropped stream triggers a fresh
// Connect, which reloads history and resubscribes.
func watch(ctx context.Context, opts options, cfg config.NotificationsConfig, log *slog.Logger) error {
	dropped := make(chan error, 1)
	c, err := client.New(opts.server, opts.token,
		client.WithLogger(log),
		client.WithDisconnectHandler(func(err error) {
			select {
			case dropped <- err:
			default:
			}
		}),
	)
	if err != nil {
		return err
	}

	r := reconciler.New(c, c,
		reconciler.WithLogger(log),
		reconciler.WithWindow(cfg.WindowLimit),
		reconciler.WithQuietPeriod(cfg.QuietPeriod),
		reconciler.WithAlerter(reconciler.AlerterFunc(func(n models.Notification) {
			log.Info("new notification",
				"notification_id", n.ID.String(),
				"type", string(n.Type),
				"title", n.Title,
				"link", n.Link,
			)
		})),
	)
	defer r.Disconnect()

	for {
		if err := connect(ctx, r, opts.user, dropped, log); err != nil {
			return err
		}
		log.InfoContext(ctx, "watching notifications",
			"user_id", opts.user.String(),
			"loaded", len(r.Notifications()),
			"unread", r.UnreadCount(),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-dropped:
			log.WarnContext(ctx, "notification stream dropped", "error", err)
		}
	}
}

// connect retries Connect until it succeeds or the server refuses the token.
// Drops reported before an attempt starts belong to streams that attempt
// replaces, so they are discarded rather than left to trigger a reconnect.
func connect(ctx context.Context, r *reconciler.Reconciler, user id.UserID, dropped chan error, log *slog.Logger) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	return backoff.RetryNotify(func() error {
		drainDropped(dropped)
		err := r.Connect(ctx, user)
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) || dErrors.HasCode(err, dErrors.CodeForbidden) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		log.WarnContext(ctx, "connect failed, retrying", "error", err, "retry_in", next.String())
	})
}

func drainDropped(dropped chan error) {
	select {
	case <-dropped:
	default:
	}
}
