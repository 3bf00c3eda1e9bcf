package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"brokerdesk/internal/notification/bus"
	"brokerdesk/internal/notification/metrics"
	"brokerdesk/internal/notification/models"
	id "brokerdesk/pkg/domain"
	dErrors "brokerdesk/pkg/domain-errors"
	"brokerdesk/pkg/platform/httputil"
	"brokerdesk/pkg/requestcontext"
)

// Service defines the notification commands exposed over HTTP.
type Service interface {
	List(ctx context.Context, user id.UserID, limit int) ([]*models.Notification, error)
	UnreadCount(ctx context.Context, user id.UserID) (int, error)
	MarkRead(ctx context.Context, user id.UserID, nid id.NotificationID) (*models.Notification, error)
	MarkUnread(ctx context.Context, user id.UserID, nid id.NotificationID) (*models.Notification, error)
	MarkAllRead(ctx context.Context, user id.UserID) (int, error)
	Delete(ctx context.Context, user id.UserID, nid id.NotificationID) error
	DeleteAllRead(ctx context.Context, user id.UserID) (int, error)
}

// Handler wires notification endpoints and the live stream.
type Handler struct {
	service Service
	events  Subscriber
	logger  *slog.Logger
	metrics *metrics.Metrics
	origins []string
}

// Subscriber is the bus side the stream endpoint listens on.
type Subscriber interface {
	Subscribe(ctx context.Context, recipient id.UserID, h bus.Handlers) (*bus.Subscription, error)
}

// New constructs a notification handler. origins are extra websocket origin
// patterns accepted besides the request host.
func New(service Service, events Subscriber, logger *slog.Logger, m *metrics.Metrics, origins []string) *Handler {
	return &Handler{
		service: service,
		events:  events,
		logger:  logger,
		metrics: m,
		origins: origins,
	}
}

// Register mounts notification endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Get("/unread-count", h.HandleUnreadCount)
		r.Get("/stream", h.HandleStream)
		r.Post("/read-all", h.HandleMarkAllRead)
		r.Delete("/read", h.HandleDeleteAllRead)
		r.Post("/{id}/read", h.HandleMarkRead)
		r.Post("/{id}/unread", h.HandleMarkUnread)
		r.Delete("/{id}", h.HandleDelete)
	})
}

type listResponse struct {
	Notifications []*models.Notification `json:"notifications"`
}

type countResponse struct {
	UnreadCount int `json:"unread_count"`
}

type bulkResponse struct {
	Affected int `json:"affected"`
}

// HandleList handles GET /notifications.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "limit must be a non-negative integer"))
			return
		}
		limit = v
	}
	list, err := h.service.List(r.Context(), user, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Notifications: list})
}

// HandleUnreadCount handles GET /notifications/unread-count.
func (h *Handler) HandleUnreadCount(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	count, err := h.service.UnreadCount(r.Context(), user)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, countResponse{UnreadCount: count})
}

// HandleMarkRead handles POST /notifications/{id}/read.
func (h *Handler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	h.setRead(w, r, h.service.MarkRead)
}

// HandleMarkUnread handles POST /notifications/{id}/unread.
func (h *Handler) HandleMarkUnread(w http.ResponseWriter, r *http.Request) {
	h.setRead(w, r, h.service.MarkUnread)
}

func (h *Handler) setRead(w http.ResponseWriter, r *http.Request, op func(context.Context, id.UserID, id.NotificationID) (*models.Notification, error)) {
	user, nid, ok := h.target(w, r)
	if !ok {
		return
	}
	n, err := op(r.Context(), user, nid)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, n)
}

// HandleMarkAllRead handles POST /notifications/read-all.
func (h *Handler) HandleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	n, err := h.service.MarkAllRead(r.Context(), user)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, bulkResponse{Affected: n})
}

// HandleDelete handles DELETE /notifications/{id}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	user, nid, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), user, nid); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDeleteAllRead handles DELETE /notifications/read.
func (h *Handler) HandleDeleteAllRead(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	n, err := h.service.DeleteAllRead(r.Context(), user)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, bulkResponse{Affected: n})
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) (id.UserID, bool) {
	userID := requestcontext.UserID(r.Context())
	if userID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return id.UserID{}, false
	}
	return userID, true
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (id.UserID, id.NotificationID, bool) {
	user, ok := h.user(w, r)
	if !ok {
		return id.UserID{}, id.NotificationID{}, false
	}
	nid, err := id.ParseNotificationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.UserID{}, id.NotificationID{}, false
	}
	return user, nid, true
}
