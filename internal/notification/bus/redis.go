package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	id "brokerdesk/pkg/domain"
	dErrors "brokerdesk/pkg/domain-errors"
)

const channelPrefix = "notifications:user:"

// Channel is the pub/sub channel carrying events for recipient.
func Channel(recipient id.UserID) string {
	return channelPrefix + recipient.String()
}

// RedisBus fans events out across instances through Redis pub/sub.
type RedisBus struct {
	client redis.UniversalClient
	logger *slog.Logger
}

type RedisOption func(*RedisBus)

func WithLogger(logger *slog.Logger) RedisOption {
	return func(b *RedisBus) {
		b.logger = logger
	}
}

func NewRedisBus(client redis.UniversalClient, opts ...RedisOption) *RedisBus {
	b := &RedisBus{client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisBus) Publish(ctx context.Context, recipient id.UserID, ev Event) error {
	payload, err := Marshal(ev)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode bus event")
	}
	if err := b.client.Publish(ctx, Channel(recipient), payload).Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTransport, "publish bus event")
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so events
// published afterwards are delivered. No handler runs once Unsubscribe has
// returned, even for messages already buffered by the client; handlers must
// therefore not unsubscribe their own subscription.
func (b *RedisBus) Subscribe(ctx context.Context, recipient id.UserID, handlers Handlers) (*Subscription, error) {
	ps := b.client.Subscribe(ctx, Channel(recipient))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, dErrors.Wrap(err, dErrors.CodeTransport, "subscribe to bus channel")
	}

	var (
		mu      sync.Mutex
		stopped bool
	)
	ch := ps.Channel()
	go func() {
		for msg := range ch {
			ev, err := Unmarshal([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn("dropping malformed bus message",
					"channel", msg.Channel,
					"error", err,
				)
				continue
			}
			mu.Lock()
			if !stopped {
				handlers.Dispatch(ev)
			}
			mu.Unlock()
		}
	}()

	return NewSubscription(recipient, func() {
		mu.Lock()
		stopped = true
		mu.Unlock()
		if err := ps.Close(); err != nil {
			b.logger.Debug("closing bus subscription", "error", err)
		}
	}), nil
}
