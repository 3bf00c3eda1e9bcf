package bus

import (
	"context"
	"sync"

	id "brokerdesk/pkg/domain"
)

// Hub is the in-process bus. Each subscription owns an unbounded FIFO
// mailbox drained by its own goroutine, so a slow session never blocks a
// publisher and every session sees events in publish order.
type Hub struct {
	mu   sync.RWMutex
	subs map[id.UserID]map[*mailbox]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[id.UserID]map[*mailbox]struct{})}
}

func (h *Hub) Publish(_ context.Context, recipient id.UserID, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for mb := range h.subs[recipient] {
		mb.push(ev)
	}
	return nil
}

func (h *Hub) Subscribe(_ context.Context, recipient id.UserID, handlers Handlers) (*Subscription, error) {
	mb := newMailbox(handlers)

	h.mu.Lock()
	set, ok := h.subs[recipient]
	if !ok {
		set = make(map[*mailbox]struct{})
		h.subs[recipient] = set
	}
	set[mb] = struct{}{}
	h.mu.Unlock()

	go mb.run()

	return NewSubscription(recipient, func() {
		h.mu.Lock()
		if set, ok := h.subs[recipient]; ok {
			delete(set, mb)
			if len(set) == 0 {
				delete(h.subs, recipient)
			}
		}
		h.mu.Unlock()
		mb.close()
	}), nil
}

// Subscribers reports how many live subscriptions recipient has.
func (h *Hub) Subscribers(recipient id.UserID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[recipient])
}

type mailbox struct {
	mu       sync.Mutex
	queue    []Event
	closed   bool
	signal   chan struct{}
	done     chan struct{}
	handlers Handlers
}

func newMailbox(h Handlers) *mailbox {
	return &mailbox{
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		handlers: h,
	}
}

func (m *mailbox) push(ev Event) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, ev)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.queue = nil
	close(m.done)
}

func (m *mailbox) next() (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || len(m.queue) == 0 {
		return nil, false
	}
	ev := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return ev, true
}

func (m *mailbox) run() {
	for {
		select {
		case <-m.done:
			return
		case <-m.signal:
		}
		for {
			ev, ok := m.next()
			if !ok {
				break
			}
			m.handlers.Dispatch(ev)
		}
	}
}
