package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"brokerdesk/internal/notification/models"
	id "brokerdesk/pkg/domain"
	"brokerdesk/pkg/platform/sentinel"
)

// InMemoryStore keeps notifications in a map guarded by a single mutex.
// Records are copied in and out.
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[id.NotificationID]*models.Notification
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[id.NotificationID]*models.Notification)}
}

func (s *InMemoryStore) Create(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[n.ID]; exists {
		return sentinel.ErrConflict
	}
	s.items[n.ID] = n.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, nid id.NotificationID) (*models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.items[nid]; ok {
		return n.Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

// ListByRecipient returns up to limit notifications, newest first.
func (s *InMemoryStore) ListByRecipient(_ context.Context, recipient id.UserID, limit int) ([]*models.Notification, error) {
	s.mu.RLock()
	out := make([]*models.Notification, 0)
	for _, n := range s.items {
		if n.RecipientID == recipient {
			out = append(out, n.Clone())
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) CountUnread(_ context.Context, recipient id.UserID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, n := range s.items {
		if n.RecipientID == recipient && !n.Read {
			count++
		}
	}
	return count, nil
}

// SetRead sets the read state and returns the stored record. changed is
// false when the record already had that state.
func (s *InMemoryStore) SetRead(_ context.Context, nid id.NotificationID, read bool, now time.Time) (*models.Notification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[nid]
	if !ok {
		return nil, false, sentinel.ErrNotFound
	}
	var changed bool
	if read {
		changed = n.MarkRead(now)
	} else {
		changed = n.MarkUnread()
	}
	return n.Clone(), changed, nil
}

// MarkAllRead marks every unread notification of recipient and returns the
// rows that changed.
func (s *InMemoryStore) MarkAllRead(_ context.Context, recipient id.UserID, now time.Time) ([]*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := make([]*models.Notification, 0)
	for _, n := range s.items {
		if n.RecipientID == recipient && n.MarkRead(now) {
			changed = append(changed, n.Clone())
		}
	}
	sortNewestFirst(changed)
	return changed, nil
}

func (s *InMemoryStore) Delete(_ context.Context, nid id.NotificationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[nid]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.items, nid)
	return nil
}

// DeleteAllRead removes every read notification of recipient and returns
// the removed ids.
func (s *InMemoryStore) DeleteAllRead(_ context.Context, recipient id.UserID) ([]id.NotificationID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := make([]id.NotificationID, 0)
	for nid, n := range s.items {
		if n.RecipientID == recipient && n.Read {
			removed = append(removed, nid)
			delete(s.items, nid)
		}
	}
	return removed, nil
}

func sortNewestFirst(ns []*models.Notification) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].CreatedAt.Equal(ns[j].CreatedAt) {
			return ns[i].ID.String() > ns[j].ID.String()
		}
		return ns[i].CreatedAt.After(ns[j].CreatedAt)
	})
}
