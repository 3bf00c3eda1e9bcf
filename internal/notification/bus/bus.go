// Package bus pushes notification changes to the sessions of one recipient.
//
// The bus is a liveness path only. It keeps no history: a subscriber sees
// events published after Subscribe returns and recovers anything older with
// a catch-up read against the store.
package bus

import (
	"context"
	"encoding/json"
	"sync"

	"brokerdesk/internal/notification/models"
	id "brokerdesk/pkg/domain"
	dErrors "brokerdesk/pkg/domain-errors"
)

type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Event is one of Inserted, Updated or Deleted.
type Event interface {
	Kind() Kind
	NotificationID() id.NotificationID
	isEvent()
}

type Inserted struct {
	Notification models.Notification
}

type Updated struct {
	Notification models.Notification
}

type Deleted struct {
	ID          id.NotificationID
	RecipientID id.UserID
}

func (Inserted) Kind() Kind { return KindInsert }
func (Updated) Kind() Kind  { return KindUpdate }
func (Deleted) Kind() Kind  { return KindDelete }

func (e Inserted) NotificationID() id.NotificationID { return e.Notification.ID }
func (e Updated) NotificationID() id.NotificationID  { return e.Notification.ID }
func (e Deleted) NotificationID() id.NotificationID  { return e.ID }

func (Inserted) isEvent() {}
func (Updated) isEvent()  {}
func (Deleted) isEvent()  {}

// Envelope is the wire shape shared by every transport.
type Envelope struct {
	Kind         Kind                 `json:"kind"`
	ID           id.NotificationID    `json:"id"`
	Notification *models.Notification `json:"notification,omitempty"`
}

func Wrap(ev Event) Envelope {
	env := Envelope{Kind: ev.Kind(), ID: ev.NotificationID()}
	switch e := ev.(type) {
	case Inserted:
		n := e.Notification
		env.Notification = &n
	case Updated:
		n := e.Notification
		env.Notification = &n
	}
	return env
}

// Event converts the envelope back into its variant.
func (e Envelope) Event() (Event, error) {
	switch e.Kind {
	case KindInsert, KindUpdate:
		if e.Notification == nil {
			return nil, dErrors.New(dErrors.CodeBadRequest, "envelope "+string(e.Kind)+" has no notification")
		}
		if e.Notification.ID != e.ID {
			return nil, dErrors.New(dErrors.CodeBadRequest, "envelope id does not match notification")
		}
		if e.Kind == KindInsert {
			return Inserted{Notification: *e.Notification}, nil
		}
		return Updated{Notification: *e.Notification}, nil
	case KindDelete:
		if e.ID.IsNil() {
			return nil, dErrors.New(dErrors.CodeBadRequest, "delete envelope has no id")
		}
		return Deleted{ID: e.ID}, nil
	default:
		return nil, dErrors.New(dErrors.CodeBadRequest, "unknown envelope kind: "+string(e.Kind))
	}
}

// FrameType tags a message on the websocket notification stream.
type FrameType string

const (
	// FrameReady is sent once the server-side subscription is live. Clients
	// run their catch-up read after it.
	FrameReady FrameType = "ready"
	FrameEvent FrameType = "event"
)

// StreamFrame is one websocket message on the notification stream.
type StreamFrame struct {
	Type  FrameType `json:"type"`
	Event *Envelope `json:"event,omitempty"`
}

func Marshal(ev Event) ([]byte, error) {
	return json.Marshal(Wrap(ev))
}

func Unmarshal(b []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed envelope")
	}
	return env.Event()
}

// Handlers receives events for one subscription. Nil callbacks are skipped.
type Handlers struct {
	OnInsert func(models.Notification)
	OnUpdate func(models.Notification)
	OnDelete func(id.NotificationID)
}

func (h Handlers) Dispatch(ev Event) {
	switch e := ev.(type) {
	case Inserted:
		if h.OnInsert != nil {
			h.OnInsert(e.Notification)
		}
	case Updated:
		if h.OnUpdate != nil {
			h.OnUpdate(e.Notification)
		}
	case Deleted:
		if h.OnDelete != nil {
			h.OnDelete(e.ID)
		}
	}
}

// Bus is a publish/subscribe transport keyed by recipient.
type Bus interface {
	Publish(ctx context.Context, recipient id.UserID, ev Event) error
	Subscribe(ctx context.Context, recipient id.UserID, h Handlers) (*Subscription, error)
}

// Subscription binds one session to one recipient channel.
type Subscription struct {
	recipient id.UserID
	once      sync.Once
	stop      func()
}

// NewSubscription wraps stop so that it runs at most once. Transports outside
// this package use it to hand out subscriptions.
func NewSubscription(recipient id.UserID, stop func()) *Subscription {
	return &Subscription{recipient: recipient, stop: stop}
}

func (s *Subscription) Recipient() id.UserID {
	if s == nil {
		return id.UserID{}
	}
	return s.recipient
}

// Unsubscribe stops delivery. It is safe to call more than once and on nil.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}
