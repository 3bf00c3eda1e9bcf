package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"brokerdesk/internal/notification/models"
	id "brokerdesk/pkg/domain"
)

// =============================================================================
// Hub Test Suite
// =============================================================================

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handlers() Handlers {
	return Handlers{
		OnInsert: func(n models.Notification) { c.add(Inserted{Notification: n}) },
		OnUpdate: func(n models.Notification) { c.add(Updated{Notification: n}) },
		OnDelete: func(nid id.NotificationID) { c.add(Deleted{ID: nid}) },
	}
}

func (c *collector) add(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

type HubSuite struct {
	suite.Suite
	hub       *Hub
	ctx       context.Context
	recipient id.UserID
}

func TestHubSuite(t *testing.T) {
	suite.Run(t, new(HubSuite))
}

func (s *HubSuite) SetupTest() {
	s.hub = NewHub()
	s.ctx = context.Background()
	s.recipient = id.UserID(uuid.New())
}

func (s *HubSuite) TestDeliversInPublishOrder() {
	c := &collector{}
	sub, err := s.hub.Subscribe(s.ctx, s.recipient, c.handlers())
	s.Require().NoError(err)
	defer sub.Unsubscribe()

	var want []id.NotificationID
	for range 50 {
		n := sampleNotification(s.recipient)
		want = append(want, n.ID)
		s.Require().NoError(s.hub.Publish(s.ctx, s.recipient, Inserted{Notification: n}))
	}

	s.Eventually(func() bool { return len(c.snapshot()) == len(want) }, time.Second, time.Millisecond)
	for i, ev := range c.snapshot() {
		s.Equal(want[i], ev.NotificationID())
	}
}

func (s *HubSuite) TestOnlyAddressedRecipientReceives() {
	mine, theirs := &collector{}, &collector{}
	other := id.UserID(uuid.New())
	subA, err := s.hub.Subscribe(s.ctx, s.recipient, mine.handlers())
	s.Require().NoError(err)
	defer subA.Unsubscribe()
	subB, err := s.hub.Subscribe(s.ctx, other, theirs.handlers())
	s.Require().NoError(err)
	defer subB.Unsubscribe()

	s.Require().NoError(s.hub.Publish(s.ctx, s.recipient, Inserted{Notification: sampleNotification(s.recipient)}))

	s.Eventually(func() bool { return len(mine.snapshot()) == 1 }, time.Second, time.Millisecond)
	s.Never(func() bool { return len(theirs.snapshot()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func (s *HubSuite) TestEverySessionOfRecipientReceives() {
	a, b := &collector{}, &collector{}
	subA, _ := s.hub.Subscribe(s.ctx, s.recipient, a.handlers())
	subB, _ := s.hub.Subscribe(s.ctx, s.recipient, b.handlers())
	defer subA.Unsubscribe()
	defer subB.Unsubscribe()
	s.Equal(2, s.hub.Subscribers(s.recipient))

	s.Require().NoError(s.hub.Publish(s.ctx, s.recipient, Deleted{ID: id.NewNotificationID()}))
	s.Eventually(func() bool { return len(a.snapshot()) == 1 && len(b.snapshot()) == 1 }, time.Second, time.Millisecond)
}

func (s *HubSuite) TestSlowSubscriberDoesNotBlockPublisher() {
	release := make(chan struct{})
	sub, err := s.hub.Subscribe(s.ctx, s.recipient, Handlers{
		OnInsert: func(models.Notification) { <-release },
	})
	s.Require().NoError(err)
	defer sub.Unsubscribe()
	defer close(release)

	done := make(chan struct{})
	go func() {
		for range 100 {
			_ = s.hub.Publish(s.ctx, s.recipient, Inserted{Notification: sampleNotification(s.recipient)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		s.Fail("publisher blocked on a slow subscriber")
	}
}

func (s *HubSuite) TestUnsubscribeTwiceStopsDelivery() {
	c := &collector{}
	sub, err := s.hub.Subscribe(s.ctx, s.recipient, c.handlers())
	s.Require().NoError(err)

	s.Require().NoError(s.hub.Publish(s.ctx, s.recipient, Inserted{Notification: sampleNotification(s.recipient)}))
	s.Eventually(func() bool { return len(c.snapshot()) == 1 }, time.Second, time.Millisecond)

	s.NotPanics(func() {
		sub.Unsubscribe()
		sub.Unsubscribe()
	})
	s.Zero(s.hub.Subscribers(s.recipient))

	s.Require().NoError(s.hub.Publish(s.ctx, s.recipient, Inserted{Notification: sampleNotification(s.recipient)}))
	s.Never(func() bool { return len(c.snapshot()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func (s *HubSuite) TestPublishWithoutSubscribersSucceeds() {
	s.NoError(s.hub.Publish(s.ctx, s.recipient, Deleted{ID: id.NewNotificationID()}))
}
