package service

import (
	"context"
	"log/slog"
	"time"

	"brokerdesk/internal/creditcheck/models"
	dErrors "brokerdesk/pkg/domain-errors"
)

const (
	expiredProvider   = "pending-timeout"
	expiredMessage    = "pending timeout exceeded"
	defaultSweepBatch = 100
)

// Expirer fails requests that stayed pending longer than a timeout. It goes
// through the same compare-and-swap as provider results, so a late result
// and the sweep cannot both win.
type Expirer struct {
	svc      *Service
	timeout  time.Duration
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

type ExpirerOption func(*Expirer)

func WithExpirerLogger(logger *slog.Logger) ExpirerOption {
	return func(e *Expirer) {
		e.logger = logger
	}
}

func WithBatchSize(n int) ExpirerOption {
	return func(e *Expirer) {
		if n > 0 {
			e.batch = n
		}
	}
}

func NewExpirer(svc *Service, timeout, interval time.Duration, opts ...ExpirerOption) (*Expirer, error) {
	if timeout <= 0 || interval <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "expirer timeout and interval must be positive")
	}
	e := &Expirer{
		svc:      svc,
		timeout:  timeout,
		interval: interval,
		batch:    defaultSweepBatch,
		logger:   svc.logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (e *Expirer) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := e.Sweep(ctx); err != nil {
				e.logger.ErrorContext(ctx, "pending sweep failed", "error", err)
			}
		}
	}
}

// Sweep fails every request pending since before now-timeout and returns how
// many it transitioned.
func (e *Expirer) Sweep(ctx context.Context) (int, error) {
	cutoff := e.svc.now().Add(-e.timeout)
	expired := 0
	for {
		stale, err := e.svc.store.ListStalePending(ctx, cutoff, e.batch)
		if err != nil {
			return expired, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list stale credit checks")
		}
		won := 0
		for _, r := range stale {
			applied, err := e.svc.complete(ctx, r.ID, models.Outcome{
				Status:       models.StatusFailed,
				Provider:     expiredProvider,
				ErrorMessage: expiredMessage,
			})
			if err != nil {
				if dErrors.HasCode(err, dErrors.CodeNotFound) {
					continue
				}
				return expired, err
			}
			if applied {
				won++
				e.svc.metrics.IncExpired()
			}
		}
		expired += won
		if len(stale) < e.batch || won == 0 {
			break
		}
	}
	if expired > 0 {
		e.logger.InfoContext(ctx, "expired stale credit checks", "count", expired, "timeout", e.timeout.String())
	}
	return expired, nil
}
