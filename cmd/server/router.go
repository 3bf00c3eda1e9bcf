package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	cchandler "brokerdesk/internal/creditcheck/handler"
	jwttoken "brokerdesk/internal/jwt_token"
	notifhandler "brokerdesk/internal/notification/handler"
	"brokerdesk/internal/platform/config"
	"brokerdesk/internal/ratelimit"
	httpmetrics "brokerdesk/internal/platform/metrics"
	id "brokerdesk/pkg/domain"
	"brokerdesk/pkg/platform/httputil"
	"brokerdesk/pkg/platform/middleware/auth"
	"brokerdesk/pkg/platform/middleware/requestid"
	"brokerdesk/pkg/platform/middleware/requesttime"
)

const healthTimeout = 2 * time.Second

func (a *app) router(cfg config.Config, log *slog.Logger) http.Handler {
	validator := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience).Validator()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(httpmetrics.New().Middleware)

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	limits := ratelimit.New(a.limiter, ratelimit.WithLogger(log))

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(validator, log))
		r.Use(auth.RequireRole(log, id.RoleBroker, id.RoleAdmin))
		cchandler.New(a.creditChecks, log, cfg.Risk.DefaultNominalLimit).
			Register(r, limits.PerUser("credit_check_submit", cfg.RateLimit.SubmitLimit, cfg.RateLimit.SubmitWindow))
		notifhandler.New(a.notifications, a.bus, log, a.notifMetrics, cfg.Notifications.AllowedOrigins).Register(r)
	})
	return r
}

type healthResponse struct {
	Status    string            `json:"status"`
	Providers map[string]string `json:"providers,omitempty"`
	Postgres  string            `json:"postgres,omitempty"`
	Redis     string            `json:"redis,omitempty"`
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok"}
	degrade := func(err error) string {
		if err == nil {
			return "ok"
		}
		resp.Status = "degraded"
		return err.Error()
	}
	if a.db != nil {
		resp.Postgres = degrade(a.db.PingContext(ctx))
	}
	if a.redis != nil {
		resp.Redis = degrade(a.redis.Health(ctx))
	}
	if failures := a.providers.Health(ctx); len(failures) > 0 {
		resp.Providers = make(map[string]string, len(failures))
		for pid, err := range failures {
			resp.Providers[pid] = degrade(err)
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}
