package publisher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"brokerdesk/internal/notification/bus"
	"brokerdesk/internal/notification/metrics"
	"brokerdesk/internal/notification/models"
	id "brokerdesk/pkg/domain"
	dErrors "brokerdesk/pkg/domain-errors"
	"brokerdesk/pkg/platform/circuit"
	"brokerdesk/pkg/platform/sentinel"
)

type Store interface {
	Create(ctx context.Context, n *models.Notification) error
}

// Publisher persists notifications and pushes them to the recipient's bus
// channel. Persistence always happens before the push, and both run under
// the recipient's sequencer. Push failures never undo the write.
type Publisher struct {
	store   Store
	bus     bus.Bus
	seq     *bus.Sequencer
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() id.NotificationID
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(p *Publisher) {
		p.breaker = b
	}
}

func WithSequencer(s *bus.Sequencer) Option {
	return func(p *Publisher) {
		p.seq = s
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

func WithIDGenerator(gen func() id.NotificationID) Option {
	return func(p *Publisher) {
		p.newID = gen
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Publisher) {
		p.tracer = t
	}
}

func New(store Store, b bus.Bus, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		bus:    b,
		logger: slog.Default(),
		tracer: otel.Tracer("brokerdesk/notification"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  id.NewNotificationID,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.seq == nil {
		p.seq = bus.NewSequencer()
	}
	if p.breaker == nil {
		p.breaker = circuit.New("notification-bus")
	}
	return p
}

// Publish stores a notification for event and pushes it as an insert.
func (p *Publisher) Publish(ctx context.Context, event models.DomainEvent) (*models.Notification, error) {
	ctx, span := p.tracer.Start(ctx, "notification.Publish",
		trace.WithAttributes(
			attribute.String("type", string(event.Type)),
			attribute.String("recipient_id", event.RecipientID.String()),
		))
	defer span.End()

	n, err := models.NewNotification(p.newID(), event, p.now())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	err = p.seq.Do(n.RecipientID, func() error {
		if err := p.store.Create(ctx, n); err != nil {
			return err
		}
		p.push(ctx, n.RecipientID, bus.Inserted{Notification: *n})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "notification id already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist notification")
	}

	span.SetAttributes(attribute.String("notification_id", n.ID.String()))
	p.metrics.IncPublished(string(n.Type))
	p.logger.InfoContext(ctx, "notification published",
		"notification_id", n.ID.String(),
		"recipient_id", n.RecipientID.String(),
		"type", string(n.Type),
	)
	return n, nil
}

// Mutate runs persist under recipient's sequencer and pushes the events it
// returns, in order. Errors from persist are returned unchanged and nothing
// is pushed.
func (p *Publisher) Mutate(ctx context.Context, recipient id.UserID, persist func() ([]bus.Event, error)) error {
	return p.seq.Do(recipient, func() error {
		events, err := persist()
		if err != nil {
			return err
		}
		for _, ev := range events {
			p.push(ctx, recipient, ev)
		}
		return nil
	})
}

func (p *Publisher) push(ctx context.Context, recipient id.UserID, ev bus.Event) {
	kind := string(ev.Kind())
	if !p.breaker.Allow() {
		p.metrics.IncPush(kind, "skipped")
		p.logger.DebugContext(ctx, "bus push skipped, breaker open",
			"notification_id", ev.NotificationID().String(),
		)
		return
	}

	if err := p.bus.Publish(ctx, recipient, ev); err != nil {
		p.metrics.IncPush(kind, "error")
		if p.breaker.RecordFailure() {
			p.metrics.SetBreakerOpen(true)
			p.logger.WarnContext(ctx, "bus push breaker opened", "breaker", p.breaker.Name())
		}
		p.logger.WarnContext(ctx, "bus push failed, recipients recover on catch-up",
			"notification_id", ev.NotificationID().String(),
			"recipient_id", recipient.String(),
			"kind", kind,
			"error", err,
		)
		return
	}

	p.metrics.IncPush(kind, "ok")
	if p.breaker.RecordSuccess() {
		p.metrics.SetBreakerOpen(false)
		p.logger.InfoContext(ctx, "bus push breaker closed", "breaker", p.breaker.Name())
	}
}
