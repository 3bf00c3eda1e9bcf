package bus

import (
	"sync"

	id "brokerdesk/pkg/domain"
)

// Sequencer serializes work per recipient. Running persist and push inside
// one Do call means an update or delete for a notification can never be
// pushed ahead of its insert.
type Sequencer struct {
	mu    sync.Mutex
	locks map[id.UserID]*seqLock
}

type seqLock struct {
	mu   sync.Mutex
	refs int
}

func NewSequencer() *Sequencer {
	return &Sequencer{locks: make(map[id.UserID]*seqLock)}
}

// Do runs fn while holding recipient's lock. Different recipients never
// contend.
func (s *Sequencer) Do(recipient id.UserID, fn func() error) error {
	s.mu.Lock()
	l, ok := s.locks[recipient]
	if !ok {
		l = &seqLock{}
		s.locks[recipient] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	defer func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, recipient)
		}
		s.mu.Unlock()
	}()
	return fn()
}

func (s *Sequencer) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
