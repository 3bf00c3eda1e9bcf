package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"brokerdesk/internal/creditcheck/metrics"
	"brokerdesk/internal/creditcheck/provider"
	"brokerdesk/internal/creditcheck/provider/kafka"
	"brokerdesk/internal/creditcheck/provider/simulator"
	"brokerdesk/internal/creditcheck/service"
	ccstore "brokerdesk/internal/creditcheck/store"
	"brokerdesk/internal/notification/bus"
	notifmetrics "brokerdesk/internal/notification/metrics"
	"brokerdesk/internal/notification/publisher"
	notifservice "brokerdesk/internal/notification/service"
	notifstore "brokerdesk/internal/notification/store"
	"brokerdesk/internal/platform/config"
	"brokerdesk/internal/platform/postgres"
	"brokerdesk/internal/platform/redis"
	"brokerdesk/internal/ratelimit"
)

const (
	kafkaPartitions  = 3
	kafkaReplication = 1
)

// app holds the wired components and the resources to release on exit.
type app struct {
	db        *sql.DB
	redis     *redis.Client
	kafka     *kafka.Provider
	consumer  *kafka.ResultConsumer
	providers *provider.Registry

	bus           bus.Bus
	limiter       ratelimit.Limiter
	notifMetrics  *notifmetrics.Metrics
	creditChecks  *service.Service
	notifications *notifservice.Service
}

type notificationStore interface {
	publisher.Store
	notifservice.Store
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger) (a *app, err error) {
	a = &app{providers: provider.NewRegistry()}
	defer func() {
		if err != nil {
			a.close(log)
		}
	}()

	var (
		checks service.Store     = ccstore.NewInMemoryStore()
		notes  notificationStore = notifstore.NewInMemoryStore()
	)
	if cfg.Postgres.URL != "" {
		if a.db, err = postgres.Open(ctx, cfg.Postgres); err != nil {
			return nil, err
		}
		if err = postgres.Migrate(ctx, a.db); err != nil {
			return nil, err
		}
		checks = ccstore.NewPostgres(a.db)
		notes = notifstore.NewPostgres(a.db)
	}

	if a.redis, err = redis.New(ctx, cfg.Redis); err != nil {
		return nil, err
	}
	if a.redis != nil {
		a.bus = bus.NewRedisBus(a.redis.Client, bus.WithLogger(log))
		a.limiter = ratelimit.NewRedisLimiter(a.redis.Client)
	} else {
		a.bus = bus.NewHub()
		a.limiter = ratelimit.NewInMemoryLimiter()
	}

	a.notifMetrics = notifmetrics.New()
	pub := publisher.New(notes, a.bus,
		publisher.WithLogger(log),
		publisher.WithMetrics(a.notifMetrics),
	)
	a.notifications = notifservice.New(notes, pub, notifservice.WithLogger(log))

	simOpts := []simulator.Option{simulator.WithDelay(cfg.Provider.MinDelay, cfg.Provider.MaxDelay)}
	if cfg.Provider.Seed != 0 {
		simOpts = append(simOpts, simulator.WithSeed(cfg.Provider.Seed))
	}
	sim := simulator.New(simOpts...)
	if err = a.providers.Register(sim); err != nil {
		return nil, err
	}
	active := sim.ID()
	if len(cfg.Kafka.Brokers) > 0 {
		if err = kafka.EnsureTopics(ctx, cfg.Kafka, kafkaPartitions, kafkaReplication); err != nil {
			return nil, fmt.Errorf("ensure kafka topics: %w", err)
		}
		if a.kafka, err = kafka.New(cfg.Kafka, kafka.WithLogger(log)); err != nil {
			return nil, err
		}
		if err = a.providers.Register(a.kafka); err != nil {
			return nil, err
		}
		active = a.kafka.ID()
	}
	p, err := a.providers.Get(active)
	if err != nil {
		return nil, err
	}

	a.creditChecks = service.New(checks, p,
		service.WithLogger(log),
		service.WithMetrics(metrics.New()),
		service.WithPublisher(pub),
	)

	if a.kafka != nil {
		if a.consumer, err = kafka.NewResultConsumer(cfg.Kafka, a.creditChecks, kafka.WithConsumerLogger(log)); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *app) close(log *slog.Logger) {
	if a.kafka != nil {
		a.kafka.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn("closing redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Warn("closing postgres", "error", err)
		}
	}
}
