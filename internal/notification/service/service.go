package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"brokerdesk/internal/notification/bus"
	"brokerdesk/internal/notification/models"
	id "brokerdesk/pkg/domain"
	dErrors "brokerdesk/pkg/domain-errors"
	"brokerdesk/pkg/platform/sentinel"
)

type Store interface {
	FindByID(ctx context.Context, nid id.NotificationID) (*models.Notification, error)
	ListByRecipient(ctx context.Context, recipient id.UserID, limit int) ([]*models.Notification, error)
	CountUnread(ctx context.Context, recipient id.UserID) (int, error)
	SetRead(ctx context.Context, nid id.NotificationID, read bool, now time.Time) (*models.Notification, bool, error)
	MarkAllRead(ctx context.Context, recipient id.UserID, now time.Time) ([]*models.Notification, error)
	Delete(ctx context.Context, nid id.NotificationID) error
	DeleteAllRead(ctx context.Context, recipient id.UserID) ([]id.NotificationID, error)
}

// Mutator persists under the recipient's sequencer and pushes the resulting
// events. *publisher.Publisher implements it.
type Mutator interface {
	Mutate(ctx context.Context, recipient id.UserID, persist func() ([]bus.Event, error)) error
}

// Service executes recipient commands against the store and lets the other
// sessions of the same user reconcile through pushed events.
type Service struct {
	store   Store
	mutator Mutator
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(store Store, mutator Mutator, opts ...Option) *Service {
	s := &Service{
		store:   store,
		mutator: mutator,
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns the newest notifications of user, up to limit.
func (s *Service) List(ctx context.Context, user id.UserID, limit int) ([]*models.Notification, error) {
	if user.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	items, err := s.store.ListByRecipient(ctx, user, models.NormalizeLimit(limit))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list notifications")
	}
	return items, nil
}

func (s *Service) UnreadCount(ctx context.Context, user id.UserID) (int, error) {
	if user.IsNil() {
		return 0, dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	count, err := s.store.CountUnread(ctx, user)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count unread notifications")
	}
	return count, nil
}

func (s *Service) MarkRead(ctx context.Context, user id.UserID, nid id.NotificationID) (*models.Notification, error) {
	return s.setRead(ctx, user, nid, true)
}

func (s *Service) MarkUnread(ctx context.Context, user id.UserID, nid id.NotificationID) (*models.Notification, error) {
	return s.setRead(ctx, user, nid, false)
}

func (s *Service) setRead(ctx context.Context, user id.UserID, nid id.NotificationID, read bool) (*models.Notification, error) {
	var result *models.Notification
	err := s.mutator.Mutate(ctx, user, func() ([]bus.Event, error) {
		if err := s.ensureOwned(ctx, user, nid); err != nil {
			return nil, err
		}
		updated, changed, err := s.store.SetRead(ctx, nid, read, s.now())
		if err != nil {
			return nil, translate(err, "failed to update notification")
		}
		result = updated
		if !changed {
			return nil, nil
		}
		return []bus.Event{bus.Updated{Notification: *updated}}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MarkAllRead marks every unread notification of user and returns how many
// changed.
func (s *Service) MarkAllRead(ctx context.Context, user id.UserID) (int, error) {
	if user.IsNil() {
		return 0, dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	changed := 0
	err := s.mutator.Mutate(ctx, user, func() ([]bus.Event, error) {
		rows, err := s.store.MarkAllRead(ctx, user, s.now())
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark notifications read")
		}
		changed = len(rows)
		events := make([]bus.Event, 0, len(rows))
		for _, n := range rows {
			events = append(events, bus.Updated{Notification: *n})
		}
		return events, nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "notifications marked read",
		"user_id", user.String(),
		"count", changed,
	)
	return changed, nil
}

func (s *Service) Delete(ctx context.Context, user id.UserID, nid id.NotificationID) error {
	return s.mutator.Mutate(ctx, user, func() ([]bus.Event, error) {
		if err := s.ensureOwned(ctx, user, nid); err != nil {
			return nil, err
		}
		if err := s.store.Delete(ctx, nid); err != nil {
			return nil, translate(err, "failed to delete notification")
		}
		return []bus.Event{bus.Deleted{ID: nid, RecipientID: user}}, nil
	})
}

// DeleteAllRead removes every read notification of user and returns how
// many were removed.
func (s *Service) DeleteAllRead(ctx context.Context, user id.UserID) (int, error) {
	if user.IsNil() {
		return 0, dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	removed := 0
	err := s.mutator.Mutate(ctx, user, func() ([]bus.Event, error) {
		ids, err := s.store.DeleteAllRead(ctx, user)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete read notifications")
		}
		removed = len(ids)
		events := make([]bus.Event, 0, len(ids))
		for _, nid := range ids {
			events = append(events, bus.Deleted{ID: nid, RecipientID: user})
		}
		return events, nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "read notifications deleted",
		"user_id", user.String(),
		"count", removed,
	)
	return removed, nil
}

// ensureOwned reports notifications of other users as not found.
func (s *Service) ensureOwned(ctx context.Context, user id.UserID, nid id.NotificationID) error {
	n, err := s.store.FindByID(ctx, nid)
	if err != nil {
		return translate(err, "failed to load notification")
	}
	if n.RecipientID != user {
		return dErrors.New(dErrors.CodeNotFound, "notification not found")
	}
	return nil
}

func translate(err error, msg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "notification not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
