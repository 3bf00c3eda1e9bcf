package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"brokerdesk/internal/creditcheck/models"
	"brokerdesk/internal/platform/config"
	dErrors "brokerdesk/pkg/domain-errors"
)

// ResultHandler applies a bureau verdict. It must be idempotent.
type ResultHandler interface {
	OnProviderResult(ctx context.Context, checkID int64, outcome models.Outcome) error
}

// ResultConsumer reads the result topic as part of a consumer group and
// feeds every verdict to the handler. Offsets are committed after each poll.
type ResultConsumer struct {
	client  *kgo.Client
	handler ResultHandler
	logger  *slog.Logger
}

type ConsumerOption func(*ResultConsumer)

func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *ResultConsumer) {
		c.logger = logger
	}
}

func NewResultConsumer(cfg config.KafkaConfig, handler ResultHandler, opts ...ConsumerOption) (*ResultConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.ResultTopic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	c := &ResultConsumer{client: client, handler: handler, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run polls until ctx is cancelled, then closes the client.
func (c *ResultConsumer) Run(ctx context.Context) error {
	defer c.client.Close()
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.ErrorContext(ctx, "kafka fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})
		fetches.EachRecord(func(r *kgo.Record) {
			c.handle(ctx, r)
		})
		if err := c.client.CommitUncommittedOffsets(ctx); err != nil && ctx.Err() == nil {
			c.logger.WarnContext(ctx, "failed to commit result offsets", "error", err)
		}
	}
}

func (c *ResultConsumer) handle(ctx context.Context, r *kgo.Record) {
	checkID, outcome, err := DecodeResult(r.Value)
	if err != nil {
		c.logger.WarnContext(ctx, "skipping malformed result record",
			"partition", r.Partition,
			"offset", r.Offset,
			"error", err,
		)
		return
	}
	if err := c.handler.OnProviderResult(ctx, checkID, outcome); err != nil {
		level := slog.LevelError
		if dErrors.HasCode(err, dErrors.CodeNotFound) || dErrors.HasCode(err, dErrors.CodeValidation) {
			level = slog.LevelWarn
		}
		c.logger.Log(ctx, level, "failed to apply result record",
			"credit_check_id", checkID,
			"offset", r.Offset,
			"error", err,
		)
	}
}
