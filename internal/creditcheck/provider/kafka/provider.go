// Package kafka adapts an asynchronous bureau reachable over Kafka to the
// provider contract. Resolve only hands the request off and reports it as
// pending; verdicts arrive later on the result topic through ResultConsumer.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"brokerdesk/internal/creditcheck/models"
	"brokerdesk/internal/creditcheck/provider"
	"brokerdesk/internal/platform/config"
)

const ProviderID = "kafka"

// Provider produces credit check requests to the request topic.
type Provider struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

type Option func(*Provider)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// New connects a producer for cfg.RequestTopic.
func New(cfg config.KafkaConfig, opts ...Option) (*Provider, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.RequestTopic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	p := &Provider{client: client, topic: cfg.RequestTopic, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Provider) ID() string { return ProviderID }

// Resolve hands req to the bureau and reports it pending.
func (p *Provider) Resolve(ctx context.Context, req models.CreditCheckRequest) (models.Outcome, error) {
	key, value, err := encodeRequest(req)
	if err != nil {
		return models.Outcome{}, provider.NewProviderError(provider.ErrorInternal, ProviderID, "encode request", err)
	}
	res := p.client.ProduceSync(ctx, &kgo.Record{Topic: p.topic, Key: key, Value: value})
	if err := res.FirstErr(); err != nil {
		if ctx.Err() != nil {
			return models.Outcome{}, ctx.Err()
		}
		return models.Outcome{}, provider.NewProviderError(provider.ErrorProviderOutage, ProviderID, "request could not be delivered", err)
	}
	p.logger.DebugContext(ctx, "credit check request produced",
		"credit_check_id", req.ID,
		"topic", p.topic,
	)
	return models.Outcome{Status: models.StatusPending, Provider: ProviderID}, nil
}

func (p *Provider) Health(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p *Provider) Close() {
	p.client.Close()
}

// EnsureTopics creates the request and result topics if they are missing.
func EnsureTopics(ctx context.Context, cfg config.KafkaConfig, partitions int32, replication int16) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(cfg.Brokers...))
	if err != nil {
		return fmt.Errorf("create kafka admin client: %w", err)
	}
	defer client.Close()

	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, partitions, replication, nil, cfg.RequestTopic, cfg.ResultTopic)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	for topic, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", topic, r.Err)
		}
	}
	return nil
}
