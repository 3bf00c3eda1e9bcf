package reconciler

import (
	"context"
	"slices"

	"brokerdesk/internal/notification/bus"
	"brokerdesk/internal/notification/models"
	id "brokerdesk/pkg/domain"
	dErrors "brokerdesk/pkg/domain-errors"
)

// The commands below change the view first, then confirm with the source.
// A failed confirmation restores the entries touched, unless a later event
// already changed them again.

func (r *Reconciler) MarkRead(ctx context.Context, nid id.NotificationID) error {
	return r.setRead(ctx, nid, true)
}

func (r *Reconciler) MarkUnread(ctx context.Context, nid id.NotificationID) error {
	return r.setRead(ctx, nid, false)
}

func (r *Reconciler) setRead(ctx context.Context, nid id.NotificationID, read bool) error {
	r.mu.Lock()
	user, gen, err := r.sessionLocked()
	if err != nil {
		r.mu.Unlock()
		return err
	}
	var prior, optimistic *models.Notification
	if i := r.indexLocked(nid); i >= 0 {
		p := r.items[i]
		next := p
		if read {
			next.MarkRead(r.now().UTC())
		} else {
			next.MarkUnread()
		}
		r.replaceLocked(i, next)
		prior, optimistic = &p, &next
	}
	r.mu.Unlock()

	var confirmed *models.Notification
	if read {
		confirmed, err = r.source.MarkRead(ctx, user, nid)
	} else {
		confirmed, err = r.source.MarkUnread(ctx, user, nid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return err
	}
	if err != nil {
		if prior != nil {
			r.restoreLocked(*optimistic, *prior)
		}
		r.logger.WarnContext(ctx, "reverted optimistic read change",
			"notification_id", nid.String(),
			"read", read,
			"error", err,
		)
		return err
	}
	if confirmed != nil && r.acceptsLocked(*confirmed) {
		r.upsertLocked(*confirmed)
	}
	return nil
}

func (r *Reconciler) MarkAllRead(ctx context.Context) error {
	r.mu.Lock()
	user, gen, err := r.sessionLocked()
	if err != nil {
		r.mu.Unlock()
		return err
	}
	now := r.now().UTC()
	type change struct{ prior, optimistic models.Notification }
	var changes []change
	for i, n := range r.items {
		if n.Read {
			continue
		}
		next := n
		next.MarkRead(now)
		r.replaceLocked(i, next)
		changes = append(changes, change{prior: n, optimistic: next})
	}
	r.mu.Unlock()

	_, err = r.source.MarkAllRead(ctx, user)
	if err == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return err
	}
	for _, c := range changes {
		r.restoreLocked(c.optimistic, c.prior)
	}
	r.logger.WarnContext(ctx, "reverted optimistic mark all read",
		"reverted", len(changes),
		"error", err,
	)
	return err
}

func (r *Reconciler) Delete(ctx context.Context, nid id.NotificationID) error {
	r.mu.Lock()
	user, gen, err := r.sessionLocked()
	if err != nil {
		r.mu.Unlock()
		return err
	}
	removed, had := r.removeLocked(nid)
	r.mu.Unlock()

	err = r.source.Delete(ctx, user, nid)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return err
	}
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		r.applyLocked(bus.Deleted{ID: nid})
		return err
	}
	if err != nil {
		if had {
			r.reinsertLocked(removed)
		}
		r.logger.WarnContext(ctx, "reverted optimistic delete",
			"notification_id", nid.String(),
			"error", err,
		)
		return err
	}
	r.applyLocked(bus.Deleted{ID: nid})
	return nil
}

func (r *Reconciler) DeleteAllRead(ctx context.Context) error {
	r.mu.Lock()
	user, gen, err := r.sessionLocked()
	if err != nil {
		r.mu.Unlock()
		return err
	}
	var removed []models.Notification
	r.items = slices.DeleteFunc(r.items, func(n models.Notification) bool {
		if n.Read {
			removed = append(removed, n)
		}
		return n.Read
	})
	r.mu.Unlock()

	_, err = r.source.DeleteAllRead(ctx, user)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return err
	}
	if err != nil {
		for _, n := range removed {
			r.reinsertLocked(n)
		}
		r.logger.WarnContext(ctx, "reverted optimistic delete all read",
			"reverted", len(removed),
			"error", err,
		)
		return err
	}
	for _, n := range removed {
		r.applyLocked(bus.Deleted{ID: n.ID})
	}
	return nil
}

func (r *Reconciler) sessionLocked() (id.UserID, uint64, error) {
	if r.user.IsNil() || r.sub == nil {
		return id.UserID{}, 0, dErrors.New(dErrors.CodeInvalidState, "session is not connected")
	}
	return r.user, r.gen, nil
}

// restoreLocked puts prior back if the entry still holds the optimistic state.
func (r *Reconciler) restoreLocked(optimistic, prior models.Notification) {
	i := r.indexLocked(prior.ID)
	if i < 0 || r.items[i].Read != optimistic.Read {
		return
	}
	r.replaceLocked(i, prior)
}

func (r *Reconciler) reinsertLocked(n models.Notification) {
	if _, gone := r.tombstones[n.ID]; gone || r.indexLocked(n.ID) >= 0 {
		return
	}
	r.insertLocked(n)
}
