package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"brokerdesk/internal/creditcheck/models"
	id "brokerdesk/pkg/domain"
	dErrors "brokerdesk/pkg/domain-errors"
	"brokerdesk/pkg/platform/sentinel"
)

// InMemoryStore keeps credit checks in a map guarded by a single mutex.
// Records are copied in and out so callers never share state with the store.
type InMemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	checks map[int64]*models.CreditCheckRequest
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{checks: make(map[int64]*models.CreditCheckRequest)}
}

// Create assigns the next monotonic id and stores a copy of req.
func (s *InMemoryStore) Create(_ context.Context, req *models.CreditCheckRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	req.ID = s.nextID
	s.checks[req.ID] = req.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, checkID int64) (*models.CreditCheckRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.checks[checkID]; ok {
		return r.Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

// ListByBroker returns newest-first matches and the total before pagination.
func (s *InMemoryStore) ListByBroker(_ context.Context, broker id.UserID, filter models.ListFilter) ([]*models.CreditCheckRequest, int, error) {
	filter = filter.Normalize()

	s.mu.RLock()
	matched := make([]*models.CreditCheckRequest, 0)
	for _, r := range s.checks {
		if r.OwnedBy(broker) && filter.Matches(r) {
			matched = append(matched, r.Clone())
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(matched)
	total := len(matched)
	if filter.Offset >= total {
		return []*models.CreditCheckRequest{}, total, nil
	}
	end := min(filter.Offset+filter.Limit, total)
	return matched[filter.Offset:end], total, nil
}

// CompleteIfPending applies outcome only while the row is still pending.
// A terminal row yields sentinel.ErrConflict and is left untouched.
func (s *InMemoryStore) CompleteIfPending(_ context.Context, checkID int64, outcome models.Outcome, now time.Time) (*models.CreditCheckRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.checks[checkID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	next := current.Clone()
	if err := next.Apply(outcome, now); err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			return nil, sentinel.ErrConflict
		}
		return nil, fmt.Errorf("apply outcome: %w", errors.Join(sentinel.ErrInvalidState, err))
	}
	s.checks[checkID] = next
	return next.Clone(), nil
}

func (s *InMemoryStore) Delete(_ context.Context, checkID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.checks[checkID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.checks, checkID)
	return nil
}

// ListStalePending returns up to limit pending checks requested before cutoff,
// oldest first.
func (s *InMemoryStore) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]*models.CreditCheckRequest, error) {
	s.mu.RLock()
	stale := make([]*models.CreditCheckRequest, 0)
	for _, r := range s.checks {
		if r.Status == models.StatusPending && r.RequestedAt.Before(cutoff) {
			stale = append(stale, r.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(stale, func(i, j int) bool {
		if stale[i].RequestedAt.Equal(stale[j].RequestedAt) {
			return stale[i].ID < stale[j].ID
		}
		return stale[i].RequestedAt.Before(stale[j].RequestedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func sortNewestFirst(rs []*models.CreditCheckRequest) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].RequestedAt.Equal(rs[j].RequestedAt) {
			return rs[i].ID > rs[j].ID
		}
		return rs[i].RequestedAt.After(rs[j].RequestedAt)
	})
}
