package ratelimit

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	dErrors "brokerdesk/pkg/domain-errors"
	"brokerdesk/pkg/platform/httputil"
	"brokerdesk/pkg/requestcontext"
)

type Middleware struct {
	limiter Limiter
	logger  *slog.Logger
}

type Option func(*Middleware)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) {
		m.logger = logger
	}
}

func New(limiter Limiter, opts ...Option) *Middleware {
	m := &Middleware{
		limiter: limiter,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PerUser limits authenticated callers to limit requests per window under
// the given bucket name. A non-positive limit disables the check. Limiter
// failures let the request through.
func (m *Middleware) PerUser(bucket string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			user := requestcontext.UserID(ctx)
			if user.IsNil() {
				next.ServeHTTP(w, r)
				return
			}

			res, err := m.limiter.Allow(ctx, bucket+":"+user.String(), limit, window)
			if err != nil {
				m.logger.ErrorContext(ctx, "rate limit check failed",
					"bucket", bucket,
					"user_id", user.String(),
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
			if res.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			secs := int(math.Ceil(res.RetryAfter.Seconds()))
			h.Set("Retry-After", strconv.Itoa(secs))
			m.logger.InfoContext(ctx, "rate limit exceeded",
				"bucket", bucket,
				"user_id", user.String(),
				"retry_after_s", secs,
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests, retry after "+strconv.Itoa(secs)+"s"))
		})
	}
}
