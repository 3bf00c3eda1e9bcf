package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"brokerdesk/internal/notification/models"
	id "brokerdesk/pkg/domain"
	"brokerdesk/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store     *InMemoryStore
	ctx       context.Context
	recipient id.UserID
	base      time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ctx = context.Background()
	s.recipient = id.UserID(uuid.New())
	s.base = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
}

func (s *InMemoryStoreSuite) add(recipient id.UserID, offset time.Duration) *models.Notification {
	n, err := models.NewNotification(id.NewNotificationID(), models.DomainEvent{
		Type:        models.TypeDocumentStatusChanged,
		RecipientID: recipient,
		Title:       "Document approved",
	}, s.base.Add(offset))
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, n))
	return n
}

// =============================================================================
// Create / Find / List
// =============================================================================

func (s *InMemoryStoreSuite) TestCreateAndFind() {
	n := s.add(s.recipient, 0)

	got, err := s.store.FindByID(s.ctx, n.ID)
	s.Require().NoError(err)
	s.Equal(n, got)

	got.Title = "mutated"
	again, _ := s.store.FindByID(s.ctx, n.ID)
	s.Equal("Document approved", again.Title, "returned records are copies")

	s.ErrorIs(s.store.Create(s.ctx, n), sentinel.ErrConflict)

	_, err = s.store.FindByID(s.ctx, id.NewNotificationID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestListNewestFirstWithinLimit() {
	oldest := s.add(s.recipient, 0)
	middle := s.add(s.recipient, time.Minute)
	newest := s.add(s.recipient, 2*time.Minute)
	s.add(id.UserID(uuid.New()), 3*time.Minute)

	all, err := s.store.ListByRecipient(s.ctx, s.recipient, 10)
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	s.Equal([]id.NotificationID{newest.ID, middle.ID, oldest.ID}, []id.NotificationID{all[0].ID, all[1].ID, all[2].ID})

	page, err := s.store.ListByRecipient(s.ctx, s.recipient, 2)
	s.Require().NoError(err)
	s.Len(page, 2)
	s.Equal(newest.ID, page[0].ID)
}

// =============================================================================
// Read state
// =============================================================================

func (s *InMemoryStoreSuite) TestSetRead() {
	n := s.add(s.recipient, 0)
	readAt := s.base.Add(time.Hour)

	got, changed, err := s.store.SetRead(s.ctx, n.ID, true, readAt)
	s.Require().NoError(err)
	s.True(changed)
	s.True(got.Read)
	s.Equal(readAt, *got.ReadAt)

	got, changed, err = s.store.SetRead(s.ctx, n.ID, true, readAt.Add(time.Hour))
	s.Require().NoError(err)
	s.False(changed)
	s.Equal(readAt, *got.ReadAt, "read_at keeps the first read time")

	got, changed, err = s.store.SetRead(s.ctx, n.ID, false, readAt)
	s.Require().NoError(err)
	s.True(changed)
	s.False(got.Read)
	s.Nil(got.ReadAt)

	_, _, err = s.store.SetRead(s.ctx, id.NewNotificationID(), true, readAt)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestMarkAllReadThenListHasNoUnread() {
	a := s.add(s.recipient, 0)
	s.add(s.recipient, time.Minute)
	s.add(s.recipient, 2*time.Minute)
	foreign := s.add(id.UserID(uuid.New()), 0)
	_, _, err := s.store.SetRead(s.ctx, a.ID, true, s.base)
	s.Require().NoError(err)

	changed, err := s.store.MarkAllRead(s.ctx, s.recipient, s.base.Add(time.Hour))
	s.Require().NoError(err)
	s.Len(changed, 2, "already-read rows are not reported")

	list, err := s.store.ListByRecipient(s.ctx, s.recipient, 50)
	s.Require().NoError(err)
	for _, n := range list {
		s.True(n.Read)
		s.NotNil(n.ReadAt)
	}
	unread, err := s.store.CountUnread(s.ctx, s.recipient)
	s.Require().NoError(err)
	s.Zero(unread)

	other, _ := s.store.FindByID(s.ctx, foreign.ID)
	s.False(other.Read, "other recipients are untouched")
}

// =============================================================================
// Deletes
// =============================================================================

func (s *InMemoryStoreSuite) TestDeleteAndDeleteAllRead() {
	keep := s.add(s.recipient, 0)
	readA := s.add(s.recipient, time.Minute)
	readB := s.add(s.recipient, 2*time.Minute)
	for _, n := range []*models.Notification{readA, readB} {
		_, _, err := s.store.SetRead(s.ctx, n.ID, true, s.base)
		s.Require().NoError(err)
	}

	removed, err := s.store.DeleteAllRead(s.ctx, s.recipient)
	s.Require().NoError(err)
	s.ElementsMatch([]id.NotificationID{readA.ID, readB.ID}, removed)

	list, _ := s.store.ListByRecipient(s.ctx, s.recipient, 50)
	s.Require().Len(list, 1)
	s.Equal(keep.ID, list[0].ID)

	s.NoError(s.store.Delete(s.ctx, keep.ID))
	s.ErrorIs(s.store.Delete(s.ctx, keep.ID), sentinel.ErrNotFound)
}
