package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"brokerdesk/internal/creditcheck/metrics"
	"brokerdesk/internal/creditcheck/models"
	"brokerdesk/internal/creditcheck/provider"
	notification "brokerdesk/internal/notification/models"
	id "brokerdesk/pkg/domain"
	dErrors "brokerdesk/pkg/domain-errors"
	"brokerdesk/pkg/platform/sentinel"
)

type Store interface {
	Create(ctx context.Context, req *models.CreditCheckRequest) error
	FindByID(ctx context.Context, checkID int64) (*models.CreditCheckRequest, error)
	ListByBroker(ctx context.Context, broker id.UserID, filter models.ListFilter) ([]*models.CreditCheckRequest, int, error)
	CompleteIfPending(ctx context.Context, checkID int64, outcome models.Outcome, now time.Time) (*models.CreditCheckRequest, error)
	Delete(ctx context.Context, checkID int64) error
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.CreditCheckRequest, error)
}

// Publisher raises a notification for a domain event.
type Publisher interface {
	Publish(ctx context.Context, event notification.DomainEvent) (*notification.Notification, error)
}

// Service owns credit check state transitions. Every request starts pending
// and is resolved exactly once through a compare-and-swap in the store.
type Service struct {
	store     Store
	provider  provider.Provider
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time

	// resolutions run under baseCtx so Close can abandon provider waits
	baseCtx context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// New constructs a Service resolving requests through p.
func New(store Store, p provider.Provider, opts ...Option) *Service {
	s := &Service{
		store:    store,
		provider: p,
		logger:   slog.Default(),
		tracer:   otel.Tracer("brokerdesk/creditcheck"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Submit persists a pending request and schedules its resolution. It never
// waits for the provider.
func (s *Service) Submit(ctx context.Context, clientID id.ClientID, brokerID id.UserID, profileID id.ProfileID) (*models.CreditCheckRequest, error) {
	ctx, span := s.tracer.Start(ctx, "creditcheck.Submit",
		trace.WithAttributes(
			attribute.String("client_id", clientID.String()),
			attribute.String("broker_id", brokerID.String()),
		))
	defer span.End()

	req, err := models.NewCreditCheckRequest(clientID, brokerID, profileID, s.now())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := s.store.Create(ctx, req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create credit check")
	}
	span.SetAttributes(attribute.Int64("credit_check_id", req.ID))
	s.metrics.IncSubmitted()
	s.logger.InfoContext(ctx, "credit check submitted",
		"credit_check_id", req.ID,
		"client_id", clientID.String(),
		"broker_id", brokerID.String(),
	)

	s.schedule(req.Clone())
	return req, nil
}

func (s *Service) schedule(req *models.CreditCheckRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.Warn("service closed, credit check left pending", "credit_check_id", req.ID)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.resolve(req)
	}()
}

func (s *Service) resolve(req *models.CreditCheckRequest) {
	ctx, span := s.tracer.Start(s.baseCtx, "creditcheck.resolve",
		trace.WithAttributes(attribute.Int64("credit_check_id", req.ID)))
	defer span.End()

	outcome, err := s.provider.Resolve(ctx, *req)
	if err != nil {
		if ctx.Err() != nil {
			s.logger.InfoContext(ctx, "resolution abandoned on shutdown", "credit_check_id", req.ID)
			return
		}
		category := provider.GetCategory(err)
		s.metrics.IncProviderError(string(category))
		span.RecordError(err)
		s.logger.WarnContext(ctx, "provider error, recording failure",
			"credit_check_id", req.ID,
			"category", string(category),
			"error", err,
		)
		outcome = models.Outcome{
			Status:       models.StatusFailed,
			Provider:     s.provider.ID(),
			ErrorMessage: provider.FailureMessage(err),
		}
	}

	if _, err := s.complete(context.WithoutCancel(ctx), req.ID, outcome); err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.logger.ErrorContext(ctx, "failed to apply provider outcome",
			"credit_check_id", req.ID,
			"error", err,
		)
	}
}

// OnProviderResult applies a provider outcome. Results for requests that are
// already terminal are logged and ignored, so redelivery is safe. A pending
// outcome is a no-op.
func (s *Service) OnProviderResult(ctx context.Context, checkID int64, outcome models.Outcome) error {
	ctx, span := s.tracer.Start(ctx, "creditcheck.OnProviderResult",
		trace.WithAttributes(
			attribute.Int64("credit_check_id", checkID),
			attribute.String("status", string(outcome.Status)),
		))
	defer span.End()

	_, err := s.complete(ctx, checkID, outcome)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// complete reports whether this call performed the terminal transition.
func (s *Service) complete(ctx context.Context, checkID int64, outcome models.Outcome) (bool, error) {
	if outcome.Status == models.StatusPending {
		s.logger.InfoContext(ctx, "provider still processing, credit check stays pending", "credit_check_id", checkID)
		return false, nil
	}
	if !outcome.Status.IsTerminal() {
		return false, dErrors.New(dErrors.CodeValidation, "unknown outcome status: "+string(outcome.Status))
	}
	if outcome.Provider == "" && s.provider != nil {
		outcome.Provider = s.provider.ID()
	}

	updated, err := s.store.CompleteIfPending(ctx, checkID, outcome, s.now())
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrConflict):
			s.metrics.IncDuplicateResult()
			s.logger.InfoContext(ctx, "ignoring result for terminal credit check",
				"credit_check_id", checkID,
				"status", string(outcome.Status),
			)
			return false, nil
		case errors.Is(err, sentinel.ErrNotFound):
			return false, dErrors.New(dErrors.CodeNotFound, "credit check not found")
		case errors.Is(err, sentinel.ErrInvalidState):
			return false, dErrors.Wrap(err, dErrors.CodeValidation, "invalid provider outcome")
		default:
			return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to complete credit check")
		}
	}

	var latency time.Duration
	if updated.CompletedAt != nil {
		latency = updated.CompletedAt.Sub(updated.RequestedAt)
	}
	s.metrics.ObserveResolved(string(updated.Status), latency)
	s.logger.InfoContext(ctx, "credit check resolved",
		"credit_check_id", updated.ID,
		"status", string(updated.Status),
		"provider", updated.Provider,
	)
	s.notify(ctx, updated)
	return true, nil
}

// notify tells the owning broker. The request is already terminal, so a
// failed publish is only logged.
func (s *Service) notify(ctx context.Context, r *models.CreditCheckRequest) {
	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.Publish(ctx, resolvedEvent(r)); err != nil {
		s.logger.WarnContext(ctx, "failed to publish credit check notification",
			"credit_check_id", r.ID,
			"error", err,
		)
	}
}

func resolvedEvent(r *models.CreditCheckRequest) notification.DomainEvent {
	ev := notification.DomainEvent{
		RecipientID: r.BrokerID,
		Link:        fmt.Sprintf("/credit-checks/%d", r.ID),
	}
	if r.Status == models.StatusCompleted {
		ev.Type = notification.TypeCreditCheckCompleted
		ev.Title = "Credit check completed"
		score := 0
		if r.Score != nil {
			score = *r.Score
		}
		ev.Message = fmt.Sprintf("Credit check #%d for client %s completed with score %d.", r.ID, r.ClientID, score)
		return ev
	}
	ev.Type = notification.TypeCreditCheckFailed
	ev.Title = "Credit check failed"
	ev.Message = fmt.Sprintf("Credit check #%d for client %s failed: %s", r.ID, r.ClientID, r.ErrorMessage)
	return ev
}

// Get returns a request owned by broker. Requests of other brokers are
// reported as not found.
func (s *Service) Get(ctx context.Context, broker id.UserID, checkID int64) (*models.CreditCheckRequest, error) {
	r, err := s.store.FindByID(ctx, checkID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "credit check not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load credit check")
	}
	if !r.OwnedBy(broker) {
		return nil, dErrors.New(dErrors.CodeNotFound, "credit check not found")
	}
	return r, nil
}

// List returns one page of the broker's requests and the total match count.
func (s *Service) List(ctx context.Context, broker id.UserID, filter models.ListFilter) ([]*models.CreditCheckRequest, int, error) {
	if broker.IsNil() {
		return nil, 0, dErrors.New(dErrors.CodeValidation, "broker_id is required")
	}
	items, total, err := s.store.ListByBroker(ctx, broker, filter.Normalize())
	if err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list credit checks")
	}
	return items, total, nil
}

// Delete removes a request owned by broker.
func (s *Service) Delete(ctx context.Context, broker id.UserID, checkID int64) error {
	ctx, span := s.tracer.Start(ctx, "creditcheck.Delete",
		trace.WithAttributes(attribute.Int64("credit_check_id", checkID)))
	defer span.End()

	if _, err := s.Get(ctx, broker, checkID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, checkID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "credit check not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete credit check")
	}
	s.logger.InfoContext(ctx, "credit check deleted",
		"credit_check_id", checkID,
		"broker_id", broker.String(),
	)
	return nil
}

// Close stops scheduling, abandons provider waits and blocks until in-flight
// resolutions return or ctx ends. Abandoned requests stay pending.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
