package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"brokerdesk/internal/notification/bus"
	"brokerdesk/internal/notification/models"
	id "brokerdesk/pkg/domain"
	"brokerdesk/pkg/requestcontext"
)

const (
	streamBuffer = 64
	writeTimeout = 5 * time.Second
)

// HandleStream handles GET /notifications/stream. It upgrades to a websocket,
// subscribes to the caller's channel, sends a ready frame and then one frame
// per event. A client that cannot keep up is disconnected; it recovers with
// a catch-up read after reconnecting.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.WarnContext(ctx, "notification stream upgrade failed",
			"request_id", requestID,
			"error", err,
		)
		return
	}
	defer conn.CloseNow()

	// Clients never send; any inbound message or close cancels ctx.
	ctx = conn.CloseRead(ctx)

	frames := make(chan bus.Envelope, streamBuffer)
	overflow := make(chan struct{})
	var once sync.Once
	deliver := func(ev bus.Event) {
		select {
		case frames <- bus.Wrap(ev):
		default:
			once.Do(func() { close(overflow) })
		}
	}
	sub, err := h.events.Subscribe(ctx, user, bus.Handlers{
		OnInsert: func(n models.Notification) { deliver(bus.Inserted{Notification: n}) },
		OnUpdate: func(n models.Notification) { deliver(bus.Updated{Notification: n}) },
		OnDelete: func(nid id.NotificationID) { deliver(bus.Deleted{ID: nid, RecipientID: user}) },
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "notification stream subscribe failed",
			"request_id", requestID,
			"user_id", user.String(),
			"error", err,
		)
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer sub.Unsubscribe()

	h.metrics.StreamOpened()
	defer h.metrics.StreamClosed()
	h.logger.InfoContext(ctx, "notification stream opened",
		"request_id", requestID,
		"user_id", user.String(),
	)

	if err := h.write(ctx, conn, bus.StreamFrame{Type: bus.FrameReady}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-overflow:
			h.logger.WarnContext(ctx, "notification stream client too slow",
				"request_id", requestID,
				"user_id", user.String(),
			)
			_ = conn.Close(websocket.StatusTryAgainLater, "slow consumer")
			return
		case env := <-frames:
			if err := h.write(ctx, conn, bus.StreamFrame{Type: bus.FrameEvent, Event: &env}); err != nil {
				h.logger.InfoContext(ctx, "notification stream write failed",
					"request_id", requestID,
					"user_id", user.String(),
					"error", err,
				)
				return
			}
		}
	}
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, frame bus.StreamFrame) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, frame)
}
