// Package reconciler keeps a session-local view of a user's notifications.
//
// The view is loaded from persistence on Connect and kept current by bus
// events. It is never written back; on reconnect it is rebuilt from the
// store. Across the loaded window the unread count always equals the number
// of unread entries.
package reconciler

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"brokerdesk/internal/notification/bus"
	"brokerdesk/internal/notification/models"
	id "brokerdesk/pkg/domain"
	dErrors "brokerdesk/pkg/domain-errors"
)

// DefaultWindow bounds how many notifications a session keeps loaded.
const DefaultWindow = models.DefaultListLimit

// Source is the persistence side: catch-up reads and the commands the
// optimistic operations confirm against. The notification service satisfies it.
type Source interface {
	List(ctx context.Context, user id.UserID, limit int) ([]*models.Notification, error)
	MarkRead(ctx context.Context, user id.UserID, nid id.NotificationID) (*models.Notification, error)
	MarkUnread(ctx context.Context, user id.UserID, nid id.NotificationID) (*models.Notification, error)
	MarkAllRead(ctx context.Context, user id.UserID) (int, error)
	Delete(ctx context.Context, user id.UserID, nid id.NotificationID) error
	DeleteAllRead(ctx context.Context, user id.UserID) (int, error)
}

// Subscriber opens a live event channel for one recipient. Every bus.Bus
// satisfies it, as does the websocket stream client.
type Subscriber interface {
	Subscribe(ctx context.Context, recipient id.UserID, h bus.Handlers) (*bus.Subscription, error)
}

// Alerter surfaces a newly arrived notification to the user.
type Alerter interface {
	Alert(n models.Notification)
}

type AlerterFunc func(n models.Notification)

func (f AlerterFunc) Alert(n models.Notification) { f(n) }

type nopAlerter struct{}

func (nopAlerter) Alert(models.Notification) {}

type Reconciler struct {
	events  Subscriber
	source  Source
	alerter Alerter
	logger  *slog.Logger
	window  int
	quiet   time.Duration
	now     func() time.Time

	mu         sync.Mutex
	user       id.UserID
	sub        *bus.Subscription
	gen        uint64
	syncing    bool
	buffered   []bus.Event
	alertAfter time.Time
	items      []models.Notification
	unread     int
	tombstones map[id.NotificationID]struct{}
}

type Option func(*Reconciler)

func WithAlerter(a Alerter) Option {
	return func(r *Reconciler) {
		if a != nil {
			r.alerter = a
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithWindow sets the load window. Values outside (0, MaxListLimit] fall
// back to the list limit normalization.
func WithWindow(n int) Option {
	return func(r *Reconciler) {
		r.window = models.NormalizeLimit(n)
	}
}

// WithQuietPeriod extends alert suppression past the end of catch-up.
func WithQuietPeriod(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.quiet = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

func New(b Subscriber, source Source, opts ...Option) *Reconciler {
	r := &Reconciler{
		events:     b,
		source:     source,
		alerter:    nopAlerter{},
		logger:     slog.Default(),
		window:     DefaultWindow,
		now:        time.Now,
		tombstones: map[id.NotificationID]struct{}{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect binds the session to user. Any previous subscription is dropped
// first. Live events that arrive while history is loading are buffered and
// merged afterwards without alerting.
func (r *Reconciler) Connect(ctx context.Context, user id.UserID) error {
	if user.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "user id is required")
	}

	r.mu.Lock()
	prev := r.sub
	r.resetLocked()
	r.gen++
	gen := r.gen
	r.user = user
	r.syncing = true
	r.mu.Unlock()
	prev.Unsubscribe()

	sub, err := r.events.Subscribe(ctx, user, r.handlers(gen))
	if err != nil {
		r.abandon(gen)
		return dErrors.Wrap(err, dErrors.CodeTransport, "failed to subscribe")
	}
	if !r.attach(gen, sub) {
		sub.Unsubscribe()
		return dErrors.New(dErrors.CodeConflict, "connection superseded")
	}

	history, err := r.source.List(ctx, user, r.window)
	if err != nil {
		r.abandon(gen)
		sub.Unsubscribe()
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return dErrors.New(dErrors.CodeConflict, "connection superseded")
	}
	for _, n := range history {
		r.upsertLocked(*n)
	}
	for _, ev := range r.buffered {
		r.applyLocked(ev)
	}
	r.buffered = nil
	r.syncing = false
	r.alertAfter = r.now().Add(r.quiet)
	r.logger.DebugContext(ctx, "reconciler connected",
		"user_id", user.String(),
		"loaded", len(r.items),
		"unread", r.unread,
	)
	return nil
}

// Disconnect drops the subscription and the loaded view.
func (r *Reconciler) Disconnect() {
	r.mu.Lock()
	sub := r.sub
	r.gen++
	r.resetLocked()
	r.mu.Unlock()
	sub.Unsubscribe()
}

// User is the identity the session is bound to, or the nil id.
func (r *Reconciler) User() id.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.user
}

// Notifications returns the loaded window, newest first.
func (r *Reconciler) Notifications() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.items)
}

func (r *Reconciler) UnreadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unread
}

// Apply merges one event into the view.
func (r *Reconciler) Apply(ev bus.Event) {
	r.mu.Lock()
	alerts := r.applyLocked(ev)
	if !r.alertsAllowedLocked() {
		alerts = nil
	}
	r.mu.Unlock()
	r.fire(alerts)
}

func (r *Reconciler) handlers(gen uint64) bus.Handlers {
	return bus.Handlers{
		OnInsert: func(n models.Notification) { r.receive(gen, bus.Inserted{Notification: n}) },
		OnUpdate: func(n models.Notification) { r.receive(gen, bus.Updated{Notification: n}) },
		OnDelete: func(nid id.NotificationID) { r.receive(gen, bus.Deleted{ID: nid}) },
	}
}

func (r *Reconciler) receive(gen uint64, ev bus.Event) {
	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		return
	}
	if r.syncing {
		r.buffered = append(r.buffered, ev)
		r.mu.Unlock()
		return
	}
	alerts := r.applyLocked(ev)
	if !r.alertsAllowedLocked() {
		alerts = nil
	}
	r.mu.Unlock()
	r.fire(alerts)
}

func (r *Reconciler) attach(gen uint64, sub *bus.Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return false
	}
	r.sub = sub
	return true
}

func (r *Reconciler) abandon(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen == gen {
		r.resetLocked()
	}
}

func (r *Reconciler) resetLocked() {
	r.user = id.UserID{}
	r.sub = nil
	r.syncing = false
	r.buffered = nil
	r.items = nil
	r.unread = 0
	r.tombstones = map[id.NotificationID]struct{}{}
}

func (r *Reconciler) alertsAllowedLocked() bool {
	return !r.syncing && !r.now().Before(r.alertAfter)
}

func (r *Reconciler) fire(alerts []models.Notification) {
	for _, n := range alerts {
		r.alerter.Alert(n)
	}
}

// applyLocked returns the notifications that warrant an alert.
func (r *Reconciler) applyLocked(ev bus.Event) []models.Notification {
	switch e := ev.(type) {
	case bus.Inserted:
		if !r.acceptsLocked(e.Notification) || r.indexLocked(e.Notification.ID) >= 0 {
			return nil
		}
		if !r.insertLocked(e.Notification) || e.Notification.Read {
			return nil
		}
		return []models.Notification{e.Notification}
	case bus.Updated:
		if r.acceptsLocked(e.Notification) {
			r.upsertLocked(e.Notification)
		}
	case bus.Deleted:
		if !e.RecipientID.IsNil() && e.RecipientID != r.user {
			return nil
		}
		r.tombstones[e.ID] = struct{}{}
		r.removeLocked(e.ID)
	}
	return nil
}

func (r *Reconciler) acceptsLocked(n models.Notification) bool {
	if n.RecipientID != r.user {
		return false
	}
	_, gone := r.tombstones[n.ID]
	return !gone
}

func (r *Reconciler) indexLocked(nid id.NotificationID) int {
	return slices.IndexFunc(r.items, func(n models.Notification) bool { return n.ID == nid })
}

// upsertLocked replaces by id, or inserts when absent.
func (r *Reconciler) upsertLocked(n models.Notification) {
	i := r.indexLocked(n.ID)
	if i < 0 {
		r.insertLocked(n)
		return
	}
	r.replaceLocked(i, n)
}

func (r *Reconciler) replaceLocked(i int, n models.Notification) {
	switch prev := r.items[i]; {
	case !prev.Read && n.Read:
		r.unread = max(r.unread-1, 0)
	case prev.Read && !n.Read:
		r.unread++
	}
	r.items[i] = n
}

// insertLocked places n in newest-first order and trims the window. It
// reports whether n is still loaded afterwards.
func (r *Reconciler) insertLocked(n models.Notification) bool {
	i, _ := slices.BinarySearchFunc(r.items, n, newestFirst)
	r.items = slices.Insert(r.items, i, n)
	if !n.Read {
		r.unread++
	}
	for len(r.items) > r.window {
		last := r.items[len(r.items)-1]
		r.items = r.items[:len(r.items)-1]
		if !last.Read {
			r.unread = max(r.unread-1, 0)
		}
		if last.ID == n.ID {
			return false
		}
	}
	return true
}

func (r *Reconciler) removeLocked(nid id.NotificationID) (models.Notification, bool) {
	i := r.indexLocked(nid)
	if i < 0 {
		return models.Notification{}, false
	}
	n := r.items[i]
	r.items = slices.Delete(r.items, i, i+1)
	if !n.Read {
		r.unread = max(r.unread-1, 0)
	}
	return n, true
}

func newestFirst(a, b models.Notification) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID.String(), a.ID.String())
}
