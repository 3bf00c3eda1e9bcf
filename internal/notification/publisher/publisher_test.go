package publisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"brokerdesk/internal/notification/bus"
	"brokerdesk/internal/notification/models"
	"brokerdesk/internal/notification/store"
	id "brokerdesk/pkg/domain"
	dErrors "brokerdesk/pkg/domain-errors"
	"brokerdesk/pkg/platform/circuit"
)

type fakeBus struct {
	mu        sync.Mutex
	fail      error
	events    []bus.Event
	onPublish func(bus.Event)
}

func (b *fakeBus) Publish(_ context.Context, _ id.UserID, ev bus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.onPublish != nil {
		b.onPublish(ev)
	}
	if b.fail != nil {
		return b.fail
	}
	b.events = append(b.events, ev)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, id.UserID, bus.Handlers) (*bus.Subscription, error) {
	return nil, errors.New("not supported")
}

func (b *fakeBus) pushed() []bus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bus.Event(nil), b.events...)
}

// =============================================================================
// Publisher Test Suite
// =============================================================================

type PublisherSuite struct {
	suite.Suite
	store     *store.InMemoryStore
	bus       *fakeBus
	publisher *Publisher
	recipient id.UserID
	now       time.Time
}

func TestPublisherSuite(t *testing.T) {
	suite.Run(t, new(PublisherSuite))
}

func (s *PublisherSuite) SetupTest() {
	s.store = store.NewInMemoryStore()
	s.bus = &fakeBus{}
	s.recipient = id.UserID(uuid.New())
	s.now = time.Date(2026, 7, 1, 9, 30, 0, 0, time.UTC)
	s.publisher = New(s.store, s.bus,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return s.now }),
		WithBreaker(circuit.New("test", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))),
	)
}

func (s *PublisherSuite) event() models.DomainEvent {
	return models.DomainEvent{
		Type:        models.TypeClientAssigned,
		RecipientID: s.recipient,
		Title:       "New client assigned",
		Message:     "ACME Corp was assigned to you",
		Link:        "/clients/acme",
	}
}

func (s *PublisherSuite) TestPersistsBeforePushWithSameID() {
	ctx := context.Background()
	s.bus.onPublish = func(ev bus.Event) {
		_, err := s.store.FindByID(ctx, ev.NotificationID())
		s.NoError(err, "row must be readable when the push goes out")
	}

	n, err := s.publisher.Publish(ctx, s.event())
	s.Require().NoError(err)
	s.False(n.Read)
	s.Equal(s.now, n.CreatedAt)

	pushed := s.bus.pushed()
	s.Require().Len(pushed, 1)
	ins, ok := pushed[0].(bus.Inserted)
	s.Require().True(ok)
	s.Equal(n.ID, ins.Notification.ID)
	s.Equal(*n, ins.Notification)
}

func (s *PublisherSuite) TestInvalidEventPersistsNothing() {
	ev := s.event()
	ev.Title = ""
	_, err := s.publisher.Publish(context.Background(), ev)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	list, _ := s.store.ListByRecipient(context.Background(), s.recipient, 10)
	s.Empty(list)
	s.Empty(s.bus.pushed())
}

func (s *PublisherSuite) TestTransportFailureKeepsRow() {
	s.bus.fail = dErrors.New(dErrors.CodeTransport, "redis unreachable")

	n, err := s.publisher.Publish(context.Background(), s.event())
	s.Require().NoError(err, "transport errors are not surfaced")

	stored, err := s.store.FindByID(context.Background(), n.ID)
	s.Require().NoError(err)
	s.Equal(n.ID, stored.ID)
}

func (s *PublisherSuite) TestBreakerSkipsPushesAfterRepeatedFailures() {
	attempts := 0
	s.bus.fail = errors.New("down")
	s.bus.onPublish = func(bus.Event) { attempts++ }

	for range 5 {
		_, err := s.publisher.Publish(context.Background(), s.event())
		s.Require().NoError(err)
	}
	s.Equal(2, attempts, "breaker opens after the threshold")
	s.Equal(circuit.StateOpen, s.publisher.breaker.State())

	list, _ := s.store.ListByRecipient(context.Background(), s.recipient, 10)
	s.Len(list, 5, "every notification is still persisted")
}

func (s *PublisherSuite) TestDuplicateIDIsConflict() {
	fixed := id.NewNotificationID()
	p := New(s.store, s.bus, WithIDGenerator(func() id.NotificationID { return fixed }))

	_, err := p.Publish(context.Background(), s.event())
	s.Require().NoError(err)
	_, err = p.Publish(context.Background(), s.event())
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Len(s.bus.pushed(), 1)
}

func (s *PublisherSuite) TestMutate() {
	ctx := context.Background()
	n, err := s.publisher.Publish(ctx, s.event())
	s.Require().NoError(err)

	s.Run("pushes returned events in order", func() {
		err := s.publisher.Mutate(ctx, s.recipient, func() ([]bus.Event, error) {
			return []bus.Event{bus.Updated{Notification: *n}, bus.Deleted{ID: n.ID}}, nil
		})
		s.Require().NoError(err)
		pushed := s.bus.pushed()
		s.Require().Len(pushed, 3)
		s.Equal(bus.KindInsert, pushed[0].Kind())
		s.Equal(bus.KindUpdate, pushed[1].Kind())
		s.Equal(bus.KindDelete, pushed[2].Kind())
	})

	s.Run("persist error pushes nothing", func() {
		before := len(s.bus.pushed())
		boom := errors.New("boom")
		err := s.publisher.Mutate(ctx, s.recipient, func() ([]bus.Event, error) {
			return []bus.Event{bus.Deleted{ID: n.ID}}, boom
		})
		s.ErrorIs(err, boom)
		s.Len(s.bus.pushed(), before)
	})
}

func (s *PublisherSuite) TestUpdatesNeverOvertakeInsert() {
	hub := bus.NewHub()
	p := New(s.store, hub)
	ctx := context.Background()

	var mu sync.Mutex
	seen := map[id.NotificationID]bool{}
	violations := 0
	sub, err := hub.Subscribe(ctx, s.recipient, bus.Handlers{
		OnInsert: func(n models.Notification) {
			mu.Lock()
			seen[n.ID] = true
			mu.Unlock()
		},
		OnUpdate: func(n models.Notification) {
			mu.Lock()
			if !seen[n.ID] {
				violations++
			}
			mu.Unlock()
		},
	})
	s.Require().NoError(err)
	defer sub.Unsubscribe()

	created := make(chan *models.Notification, 20)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(created)
		for range 20 {
			n, err := p.Publish(ctx, s.event())
			if err == nil {
				created <- n
			}
		}
	}()
	go func() {
		defer wg.Done()
		for n := range created {
			_ = p.Mutate(ctx, s.recipient, func() ([]bus.Event, error) {
				updated, _, err := s.store.SetRead(ctx, n.ID, true, time.Now())
				if err != nil {
					return nil, err
				}
				return []bus.Event{bus.Updated{Notification: *updated}}, nil
			})
		}
	}()
	wg.Wait()

	s.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 20
	}, time.Second, time.Millisecond)
	mu.Lock()
	s.Zero(violations)
	mu.Unlock()
}
