package client

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"brokerdesk/internal/notification/bus"
	id "brokerdesk/pkg/domain"
	dErrors "brokerdesk/pkg/domain-errors"
)

// Subscribe opens the websocket stream and returns once the server reports
// the subscription live. Events are dispatched on a single goroutine in
// arrival order.
func (c *Client) Subscribe(ctx context.Context, recipient id.UserID, h bus.Handlers) (*bus.Subscription, error) {
	u := *c.base
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path += "/notifications/stream"

	// The stream outlives any client timeout; only the handshake is bounded.
	hc := *c.http
	hc.Timeout = 0

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient: &hc,
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + c.token}},
	})
	if err != nil {
		cancel()
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			return nil, decodeError(resp, "dial notification stream")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeTransport, "dial notification stream")
	}

	var ready bus.StreamFrame
	if err := wsjson.Read(ctx, conn, &ready); err != nil || ready.Type != bus.FrameReady {
		cancel()
		_ = conn.CloseNow()
		if err == nil {
			err = errors.New("unexpected first frame " + string(ready.Type))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeTransport, "await stream ready")
	}

	go c.pump(connCtx, conn, h)

	return bus.NewSubscription(recipient, func() {
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "unsubscribed")
	}), nil
}

func (c *Client) pump(ctx context.Context, conn *websocket.Conn, h bus.Handlers) {
	for {
		var frame bus.StreamFrame
		err := wsjson.Read(ctx, conn, &frame)
		if err != nil {
			if ctx.Err() == nil && c.onDisconnect != nil {
				c.onDisconnect(err)
			}
			return
		}
		if frame.Type != bus.FrameEvent || frame.Event == nil {
			continue
		}
		ev, err := frame.Event.Event()
		if err != nil {
			c.logger.WarnContext(ctx, "skipping malformed stream frame", "error", err)
			continue
		}
		h.Dispatch(ev)
	}
}
