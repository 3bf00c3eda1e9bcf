// Package client talks to the notification HTTP API and its websocket
// stream. It satisfies the reconciler's Source and Subscriber so a session
// outside the server process keeps the same consistent view.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"brokerdesk/internal/notification/models"
	id "brokerdesk/pkg/domain"
	dErrors "brokerdesk/pkg/domain-errors"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	base         *url.URL
	token        string
	http         *http.Client
	logger       *slog.Logger
	onDisconnect func(error)
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDisconnectHandler is called when a live stream ends without the
// subscriber asking for it.
func WithDisconnectHandler(fn func(error)) Option {
	return func(c *Client) {
		c.onDisconnect = fn
	}
}

// New returns a client for the server at baseURL authenticating with token.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Host == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "base url must be absolute")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, dErrors.New(dErrors.CodeValidation, "base url scheme must be http or https")
	}
	c := &Client{
		base:   u,
		token:  token,
		http:   &http.Client{Timeout: defaultTimeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// The user argument of the methods below is ignored: the server addresses
// every command by the token's subject.

func (c *Client) List(ctx context.Context, _ id.UserID, limit int) ([]*models.Notification, error) {
	var resp struct {
		Notifications []*models.Notification `json:"notifications"`
	}
	path := "/notifications?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, &resp); err != nil {
		return nil, err
	}
	return resp.Notifications, nil
}

func (c *Client) UnreadCount(ctx context.Context, _ id.UserID) (int, error) {
	var resp struct {
		UnreadCount int `json:"unread_count"`
	}
	if err := c.do(ctx, http.MethodGet, "/notifications/unread-count", &resp); err != nil {
		return 0, err
	}
	return resp.UnreadCount, nil
}

func (c *Client) MarkRead(ctx context.Context, _ id.UserID, nid id.NotificationID) (*models.Notification, error) {
	var n models.Notification
	if err := c.do(ctx, http.MethodPost, "/notifications/"+nid.String()+"/read", &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (c *Client) MarkUnread(ctx context.Context, _ id.UserID, nid id.NotificationID) (*models.Notification, error) {
	var n models.Notification
	if err := c.do(ctx, http.MethodPost, "/notifications/"+nid.String()+"/unread", &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (c *Client) MarkAllRead(ctx context.Context, _ id.UserID) (int, error) {
	return c.bulk(ctx, http.MethodPost, "/notifications/read-all")
}

func (c *Client) Delete(ctx context.Context, _ id.UserID, nid id.NotificationID) error {
	return c.do(ctx, http.MethodDelete, "/notifications/"+nid.String(), nil)
}

func (c *Client) DeleteAllRead(ctx context.Context, _ id.UserID) (int, error) {
	return c.bulk(ctx, http.MethodDelete, "/notifications/read")
}

func (c *Client) bulk(ctx context.Context, method, path string) (int, error) {
	var resp struct {
		Affected int `json:"affected"`
	}
	if err := c.do(ctx, method, path, &resp); err != nil {
		return 0, err
	}
	return resp.Affected, nil
}

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeTransport, fmt.Sprintf("%s %s", method, path))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp, method+" "+path)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTransport, "decode response")
	}
	return nil
}

// decodeError turns an error response into a coded error. Bodies that do not
// carry the standard error shape surface as transport failures.
func decodeError(resp *http.Response, what string) error {
	var body errorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil || body.Error == "" {
		return dErrors.New(dErrors.CodeTransport, fmt.Sprintf("%s: status %d", what, resp.StatusCode))
	}
	msg := body.Description
	if msg == "" {
		msg = body.Error
	}
	return dErrors.New(dErrors.Code(body.Error), msg)
}
